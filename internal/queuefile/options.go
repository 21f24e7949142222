package queuefile

import (
	"io"
	"log/slog"
	"time"
)

// config is the resolved set of Options for an Engine, filled in by the
// functional options and defaulted by open. It plays the role the
// teacher's newLog positional booleans (flushToOSOnEveryAppend,
// flushToDiskOnEveryAppend) play, generalized into a struct because the
// Engine has more independent knobs than the teacher's log writer.
type config struct {
	logger      *slog.Logger
	minFileSize uint32
	durable     bool
	syncEvery   time.Duration
}

func defaultConfig() config {
	return config{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		minFileSize: minFileSize,
		durable:     true,
		syncEvery:   100 * time.Millisecond,
	}
}

// Option configures an Engine at Open time.
type Option func(*config)

// WithLogger sets the logger the Engine emits Debug-level records to for
// expansion events and commit failures. The core never logs on the
// happy path (spec.md §7). Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMinFileSize overrides the minimum file size a freshly created queue
// is pre-sized to. Defaults to 4096, the minimum the header format can
// validate.
func WithMinFileSize(n uint32) Option {
	return func(c *config) {
		if n < minFileSize {
			n = minFileSize
		}
		c.minFileSize = n
	}
}

// WithSyncInterval sets how often OpenBatched flushes a pending fsync in
// the background. It has no effect on OpenDurable queues, which fsync
// synchronously on every commit.
func WithSyncInterval(d time.Duration) Option {
	return func(c *config) { c.syncEvery = d }
}
