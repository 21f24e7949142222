// Package asyncsync batches the fsync calls that establish durability
// for a sequence of already-completed writes, the way
// internal/storage/async-writer batched the writes themselves in the
// teacher repository this package is adapted from. Here the underlying
// writes are never deferred — only the durability-establishing fsync is.
package asyncsync

import (
	"sync"
	"time"
)

// Syncer periodically calls fsync on behalf of a caller that has made a
// write it wants durable eventually, without paying the latency of an
// fsync on every single write. Request marks a pending fsync; Flush
// forces one and waits for it; Close flushes any pending fsync and stops
// the background ticker.
type Syncer struct {
	fsync func() error

	request  chan struct{}
	pending  bool
	done     chan struct{}
	flushReq chan chan error
	wg       sync.WaitGroup
	once     sync.Once
}

// New starts a Syncer that calls fsync at least every interval while a
// sync is pending.
func New(fsync func() error, interval time.Duration) *Syncer {
	s := &Syncer{
		fsync:    fsync,
		request:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		flushReq: make(chan chan error),
	}
	s.wg.Add(1)
	go s.loop(interval)
	return s
}

func (s *Syncer) loop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.request:
			s.pending = true
		case <-ticker.C:
			if s.pending {
				_ = s.fsync()
				s.pending = false
			}
		case resp := <-s.flushReq:
			resp <- s.doFlush()
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *Syncer) doFlush() error {
	// A Request may still be sitting in the channel if the loop picked
	// the flush request first; it counts as pending too.
	select {
	case <-s.request:
		s.pending = true
	default:
	}
	if !s.pending {
		return nil
	}
	err := s.fsync()
	s.pending = false
	return err
}

func (s *Syncer) drain() {
	for {
		select {
		case <-s.request:
			s.pending = true
		case resp := <-s.flushReq:
			resp <- s.doFlush()
		default:
			if s.pending {
				_ = s.fsync()
				s.pending = false
			}
			return
		}
	}
}

// Request marks that a fsync is owed. It never blocks.
func (s *Syncer) Request() {
	select {
	case s.request <- struct{}{}:
	case <-s.done:
	default:
	}
}

// Flush forces a pending fsync (if any) and waits for it to complete.
func (s *Syncer) Flush() error {
	resp := make(chan error, 1)
	select {
	case s.flushReq <- resp:
		return <-resp
	case <-s.done:
		return nil
	}
}

// Close flushes any pending fsync and stops the background ticker.
func (s *Syncer) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}
