package queuefile

import "errors"

// ErrCorruptHeader is returned by Open when the on-disk header fails
// validation. The queue is unusable once this is returned.
var ErrCorruptHeader = errors.New("queuefile: corrupt header")

// ErrIoError wraps a filesystem failure surfaced by the block I/O adapter.
var ErrIoError = errors.New("queuefile: io error")

// ErrCapacityExceeded is returned by Add when growing the file to fit a
// new element would overflow the 32-bit fileLength field.
var ErrCapacityExceeded = errors.New("queuefile: capacity exceeded")

// ErrInvalidArgument is returned for caller-side contract violations
// (negative length, offset+length overrunning the input buffer).
var ErrInvalidArgument = errors.New("queuefile: invalid argument")
