package queuefile

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// blockIOAdapter is the only component that touches the filesystem. Every
// other component in this package goes through it; none of them ever
// holds an *os.File directly. Read/write are not required to be atomic
// with respect to a crash — only sync's durability guarantee is load
// bearing.
type blockIOAdapter struct {
	file *os.File
	path string

	// failWrites is flipped by ForceAllWritesToFail for fault-injection
	// tests. It is a field on the adapter instance, not a package-level
	// variable, per spec.md §9's instruction to avoid global state.
	failWrites atomic.Bool
}

// openBlockIO opens path for read/write, creating it if it does not
// exist. It never sizes or initializes the file; that is the Engine's
// job at open time.
func openBlockIO(path string) (*blockIOAdapter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIoError, path, err)
	}
	return &blockIOAdapter{file: f, path: path}, nil
}

func (a *blockIOAdapter) readAt(dst []byte, offset int64) error {
	if _, err := a.file.ReadAt(dst, offset); err != nil {
		return fmt.Errorf("%w: read at %d: %v", ErrIoError, offset, err)
	}
	return nil
}

func (a *blockIOAdapter) writeAt(src []byte, offset int64) error {
	if a.failWrites.Load() {
		return fmt.Errorf("%w: write at %d: forced failure", ErrIoError, offset)
	}
	if _, err := a.file.WriteAt(src, offset); err != nil {
		return fmt.Errorf("%w: write at %d: %v", ErrIoError, offset, err)
	}
	return nil
}

// setLength extends the file to exactly n bytes, zero-filling any newly
// visible region. It is only ever called to grow the file (the Engine
// never shrinks), so it tries unix.Fallocate first to reserve the backing
// blocks up front rather than leave a sparse file the next write would
// have to fault pages in for; filesystems that don't support fallocate
// (ENOTSUP/EOPNOTSUPP) fall back to a plain truncate, which still extends
// the file, just without the block-reservation guarantee.
func (a *blockIOAdapter) setLength(n int64) error {
	if a.failWrites.Load() {
		return fmt.Errorf("%w: set length %d: forced failure", ErrIoError, n)
	}
	if err := unix.Fallocate(int(a.file.Fd()), 0, 0, n); err != nil {
		if err := a.file.Truncate(n); err != nil {
			return fmt.Errorf("%w: truncate to %d: %v", ErrIoError, n, err)
		}
	}
	return nil
}

func (a *blockIOAdapter) length() (int64, error) {
	info, err := a.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat: %v", ErrIoError, err)
	}
	return info.Size(), nil
}

// sync forces all prior successful writes to stable storage. Per the
// teacher's own comment in mmap.go ("For production consider using:
// golang.org/x/sys/unix"), the durability-critical syscall goes through
// x/sys/unix rather than the raw syscall package.
func (a *blockIOAdapter) sync() error {
	if err := unix.Fsync(int(a.file.Fd())); err != nil {
		return fmt.Errorf("%w: fsync: %v", ErrIoError, err)
	}
	return nil
}

func (a *blockIOAdapter) close() error {
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIoError, err)
	}
	return nil
}

// forceAllWritesToFail is the test-only fault-injection switch required
// by spec.md §6. When set, every subsequent write or length change fails
// until cleared.
func (a *blockIOAdapter) forceAllWritesToFail(flag bool) {
	a.failWrites.Store(flag)
}
