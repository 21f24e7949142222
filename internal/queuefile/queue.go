// Package queuefile implements a persistent, crash-resilient, file-backed
// FIFO queue of opaque byte-string records. See SPEC_FULL.md for the full
// design; this file is the Queue Engine, the component that owns the
// file handle and in-memory cursors and executes every mutation.
package queuefile

import (
	"errors"
	"math"
	"os"
	"sync"

	"github.com/mvaleed/tapeq/internal/queuefile/asyncsync"
)

// Engine is a single-threaded, file-backed FIFO queue. It makes no
// internal thread-safety guarantees beyond serializing its own methods
// (see SPEC_FULL.md §5); concurrent use of a single Engine from multiple
// goroutines is undefined at the FIFO-ordering level even though it will
// not corrupt memory. The mutex follows the same shape as the teacher's
// Log/Partition types (sync.RWMutex guarding in-memory cursors).
type Engine struct {
	mu      sync.Mutex
	adapter *blockIOAdapter
	cfg     config
	syncer  *asyncsync.Syncer
	path    string

	fileLength   uint32
	elementCount uint32
	firstOffset  uint32
	lastOffset   uint32

	// stale is set whenever a header commit's outcome is uncertain (the
	// write or the fsync that followed it failed) and cleared once the
	// header has been freshly re-read from disk. Every public method
	// calls ensureFresh before touching the cached cursors.
	stale bool
}

func (e *Engine) lock()   { e.mu.Lock() }
func (e *Engine) unlock() { e.mu.Unlock() }

// Open opens or creates the queue file at path with synchronous
// durability: every mutating operation fsyncs before reporting success.
// This is the "defensive implementation" default spec.md §9 calls for.
func Open(path string, opts ...Option) (*Engine, error) {
	return open(path, append([]Option{withDurable(true)}, opts...)...)
}

// OpenDurable is an alias for Open, named to sit alongside OpenBatched.
func OpenDurable(path string, opts ...Option) (*Engine, error) {
	return Open(path, opts...)
}

// OpenBatched opens or creates the queue file with deferred durability:
// mutations are written synchronously (so in-process reads always see
// them) but the fsync that makes them crash-durable is batched onto a
// background ticker and can be forced early with Flush. This is the
// "high-throughput implementation" allowance spec.md §9 raises as an
// open question and leaves unexercised by the base test suite.
func OpenBatched(path string, opts ...Option) (*Engine, error) {
	return open(path, append([]Option{withDurable(false)}, opts...)...)
}

// withDurable is unexported: callers pick a tier via Open/OpenBatched,
// not by constructing config directly, mirroring the teacher's
// NewLogAsync/NewLogMediumDurable/NewLogFullDurable wrapping one newLog.
func withDurable(d bool) Option {
	return func(c *config) { c.durable = d }
}

func open(path string, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	adapter, err := openBlockIO(path)
	if err != nil {
		return nil, err
	}

	length, err := adapter.length()
	if err != nil {
		adapter.close()
		return nil, err
	}

	e := &Engine{
		adapter: adapter,
		cfg:     cfg,
		path:    path,
	}

	if length == 0 {
		if err := e.initializeEmpty(); err != nil {
			adapter.close()
			return nil, err
		}
	} else {
		if err := e.loadHeader(); err != nil {
			adapter.close()
			return nil, err
		}
	}

	if !cfg.durable {
		e.syncer = asyncsync.New(adapter.sync, cfg.syncEvery)
	}

	return e, nil
}

func (e *Engine) initializeEmpty() error {
	if err := e.adapter.setLength(int64(e.cfg.minFileSize)); err != nil {
		return err
	}
	h := header{fileLength: e.cfg.minFileSize}
	buf := make([]byte, headerSize)
	h.encode(buf)
	if err := e.adapter.writeAt(buf, 0); err != nil {
		return err
	}
	if err := e.adapter.sync(); err != nil {
		return err
	}
	e.applyHeader(h)
	return nil
}

func (e *Engine) loadHeader() error {
	buf := make([]byte, headerSize)
	if err := e.adapter.readAt(buf, 0); err != nil {
		return err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	e.applyHeader(h)
	return nil
}

func (e *Engine) applyHeader(h header) {
	e.fileLength = h.fileLength
	e.elementCount = h.elementCount
	e.firstOffset = h.firstOffset
	e.lastOffset = h.lastOffset
}

// asFailure classifies a post-read, pre-or-at-commit error the way §7's
// error taxonomy does: an IoError never reaches the caller as a Go error,
// only as a boolean false, because on-disk state is unaffected or already
// marked stale by commit. Anything else (CapacityExceeded, a corrupt
// header surfacing mid-operation) is a real error the caller must see.
func asFailure(err error) (bool, error) {
	if errors.Is(err, ErrIoError) {
		return false, nil
	}
	return false, err
}

func (e *Engine) ensureFresh() error {
	if !e.stale {
		return nil
	}
	if err := e.loadHeader(); err != nil {
		return err
	}
	e.stale = false
	return nil
}

// commit writes h to offset 0 and, on a durable engine, fsyncs before
// returning. This single write is the only thing that ever makes a
// mutation observable (spec.md §4.4.3's "Header commit... as the last
// step"). If the write or the fsync fails, the outcome of the header on
// disk is uncertain (a torn write is possible), so the Engine marks
// itself stale rather than trust its now-possibly-wrong cached cursors.
func (e *Engine) commit(h header) error {
	buf := make([]byte, headerSize)
	h.encode(buf)
	if err := e.adapter.writeAt(buf, 0); err != nil {
		e.cfg.logger.Debug("header commit write failed", "path", e.path, "err", err)
		e.stale = true
		return err
	}
	if e.cfg.durable {
		if err := e.adapter.sync(); err != nil {
			e.cfg.logger.Debug("header commit fsync failed", "path", e.path, "err", err)
			e.stale = true
			return err
		}
	} else {
		e.syncer.Request()
	}
	return nil
}

// usedBytes returns the number of payload bytes currently occupied by
// live elements, computed from firstOffset/lastOffset/elementCount per
// spec.md §3 — no element position is ever stored beyond these three
// header fields.
func (e *Engine) usedBytes() (uint64, error) {
	if e.elementCount == 0 {
		return 0, nil
	}
	tailLength, err := readElementHeader(e.adapter, e.fileLength, e.lastOffset)
	if err != nil {
		return 0, err
	}
	endOfTail := nextOffset(e.fileLength, e.lastOffset, tailLength)

	payloadAreaLen := int64(e.fileLength - headerSize)
	diff := int64(endOfTail) - int64(e.firstOffset)
	if diff <= 0 {
		diff += payloadAreaLen
	}
	return uint64(diff), nil
}

// Size returns the number of live elements.
func (e *Engine) Size() (int, error) {
	e.lock()
	defer e.unlock()
	if err := e.ensureFresh(); err != nil {
		return 0, err
	}
	return int(e.elementCount), nil
}

// Add appends length bytes of buffer starting at offset as one new
// element. Offsets or lengths that do not fit buffer return
// (false, ErrInvalidArgument). A failed write, including a failed header
// commit, returns (false, nil): the element is not part of the committed
// queue, and after a failed commit the Engine has marked itself stale and
// re-reads the header on its next call. An expansion that would overflow
// the 32-bit fileLength returns ErrCapacityExceeded; a failed read or a
// header that fails validation on re-read is returned as an error.
func (e *Engine) Add(buffer []byte, offset, length int) (bool, error) {
	e.lock()
	defer e.unlock()

	if offset < 0 || length < 0 || offset+length > len(buffer) {
		return false, ErrInvalidArgument
	}
	if err := e.ensureFresh(); err != nil {
		return false, err
	}

	payload := buffer[offset : offset+length]
	needed := uint64(elementHeaderSize) + uint64(length)

	used, err := e.usedBytes()
	if err != nil {
		return false, err
	}
	payloadAreaLen := uint64(e.fileLength - headerSize)
	if needed > payloadAreaLen-used {
		if err := e.expand(needed, used); err != nil {
			return asFailure(err)
		}
	}

	var newElementOffset uint32
	if e.elementCount == 0 {
		newElementOffset = headerSize
	} else {
		tailLength, err := readElementHeader(e.adapter, e.fileLength, e.lastOffset)
		if err != nil {
			return false, err
		}
		newElementOffset = nextOffset(e.fileLength, e.lastOffset, tailLength)
	}

	if err := wrapAwareWrite(e.adapter, e.fileLength, newElementOffset, encodeElement(payload)); err != nil {
		// Nothing durable changed: the header commit that would have
		// published this element never happened.
		return false, nil
	}

	newHeader := header{
		fileLength:   e.fileLength,
		elementCount: e.elementCount + 1,
		firstOffset:  e.firstOffset,
		lastOffset:   newElementOffset,
	}
	if e.elementCount == 0 {
		newHeader.firstOffset = newElementOffset
	}
	if err := e.commit(newHeader); err != nil {
		return asFailure(err)
	}
	e.applyHeader(newHeader)
	return true, nil
}

// Peek returns a freshly allocated copy of the head element's bytes, or
// nil if the queue is empty.
func (e *Engine) Peek() ([]byte, error) {
	e.lock()
	defer e.unlock()
	if err := e.ensureFresh(); err != nil {
		return nil, err
	}
	if e.elementCount == 0 {
		return nil, nil
	}
	length, err := readElementHeader(e.adapter, e.fileLength, e.firstOffset)
	if err != nil {
		return nil, err
	}
	payload, err := readElementPayload(e.adapter, e.fileLength, e.firstOffset, length)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		// A zero-length head element peeks as an empty, non-nil slice so
		// that nil keeps meaning "queue is empty".
		payload = []byte{}
	}
	return payload, nil
}

// Remove drops the head element. It returns false if the queue was
// empty or if the header commit failed (in which case the element is
// still present).
func (e *Engine) Remove() (bool, error) {
	e.lock()
	defer e.unlock()
	if err := e.ensureFresh(); err != nil {
		return false, err
	}
	if e.elementCount == 0 {
		return false, nil
	}

	headLength, err := readElementHeader(e.adapter, e.fileLength, e.firstOffset)
	if err != nil {
		return false, err
	}

	var newFirst, newLast uint32
	if e.elementCount > 1 {
		newFirst = nextOffset(e.fileLength, e.firstOffset, headLength)
		newLast = e.lastOffset
	}

	newHeader := header{
		fileLength:   e.fileLength,
		elementCount: e.elementCount - 1,
		firstOffset:  newFirst,
		lastOffset:   newLast,
	}
	if err := e.commit(newHeader); err != nil {
		return asFailure(err)
	}
	e.applyHeader(newHeader)
	return true, nil
}

// Clear resets the queue to empty without shrinking the file.
func (e *Engine) Clear() (bool, error) {
	e.lock()
	defer e.unlock()
	if err := e.ensureFresh(); err != nil {
		return false, err
	}
	newHeader := header{fileLength: e.fileLength}
	if err := e.commit(newHeader); err != nil {
		return asFailure(err)
	}
	e.applyHeader(newHeader)
	return true, nil
}

// Flush forces any batched durability work to complete. On a durable
// (Open/OpenDurable) engine every commit already fsynced, so Flush just
// fsyncs once more defensively; on a batched engine it drains the
// pending fsync request.
func (e *Engine) Flush() error {
	e.lock()
	defer e.unlock()
	if e.syncer != nil {
		return e.syncer.Flush()
	}
	return e.adapter.sync()
}

// Close releases the underlying file handle. No header rewrite is
// necessary: every mutation already committed its own header write.
func (e *Engine) Close() error {
	e.lock()
	defer e.unlock()
	var syncErr error
	if e.syncer != nil {
		syncErr = e.syncer.Close()
	}
	return errors.Join(syncErr, e.adapter.close())
}

// FileHandle exposes the underlying *os.File for tests that want to
// stat the file independently of the Engine's cached fileLength.
func (e *Engine) FileHandle() *os.File {
	return e.adapter.file
}

// ForceAllWritesToFail is the test-only fault-injection hook required by
// spec.md §6, forwarded to the Block I/O Adapter.
func (e *Engine) ForceAllWritesToFail(flag bool) {
	e.adapter.forceAllWritesToFail(flag)
}

// expand grows the file until it can hold needed additional payload
// bytes given used bytes are already live, relocating any wrapped
// prefix so the live region stays contiguous under the new geometry.
// This is spec.md §4.4.6 end to end; it performs its own header commit
// as the sole on-disk transition for the resize, independent of the
// commit the calling Add will still perform for the element itself.
func (e *Engine) expand(needed, used uint64) error {
	oldFileLength := e.fileLength

	newFileLength64 := uint64(oldFileLength)
	for (newFileLength64-headerSize)-used < needed {
		newFileLength64 *= 2
		if newFileLength64 > math.MaxUint32 {
			return ErrCapacityExceeded
		}
	}
	newFileLength := uint32(newFileLength64)

	wrapped := false
	var prefixLen uint32
	var prefix []byte
	if e.elementCount > 0 {
		tailLength, err := readElementHeader(e.adapter, oldFileLength, e.lastOffset)
		if err != nil {
			return err
		}
		wrapEnd := nextOffset(oldFileLength, e.lastOffset, tailLength)
		if wrapEnd > headerSize && wrapEnd <= e.firstOffset {
			wrapped = true
			prefixLen = wrapEnd - headerSize
			prefix = make([]byte, prefixLen)
			if err := e.adapter.readAt(prefix, int64(headerSize)); err != nil {
				return err
			}
		}
	}

	if err := e.adapter.setLength(int64(newFileLength)); err != nil {
		return err
	}

	newLast := e.lastOffset
	if wrapped {
		if err := e.adapter.writeAt(prefix, int64(oldFileLength)); err != nil {
			return err
		}
		if err := e.adapter.writeAt(make([]byte, prefixLen), int64(headerSize)); err != nil {
			return err
		}
		newLast = e.lastOffset + (oldFileLength - headerSize)
	}

	newHeader := header{
		fileLength:   newFileLength,
		elementCount: e.elementCount,
		firstOffset:  e.firstOffset,
		lastOffset:   newLast,
	}
	e.cfg.logger.Debug("expanding queue file", "path", e.path, "oldLength", oldFileLength, "newLength", newFileLength, "wrapped", wrapped)
	if err := e.commit(newHeader); err != nil {
		return err
	}
	e.applyHeader(newHeader)
	return nil
}
