package bitcaskdb

import (
	"io"
	"log"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxFileSize is the default ceiling on a single data file's
	// size before a write rotates onto a fresh one.
	DefaultMaxFileSize int64 = 2 << 30 // 2GiB

	metaFileName = "meta.json"
)

// OptionFunc configures an Open or Merge call.
type OptionFunc func(*option) error

type option struct {
	readWrite   bool
	maxFileSize int64
	logger      *log.Logger
	limiter     *rate.Limiter
}

func newDefaultOption() *option {
	return &option{
		readWrite:   false,
		maxFileSize: DefaultMaxFileSize,
		logger:      log.New(io.Discard, "", 0),
		limiter:     rate.NewLimiter(rate.Inf, 0),
	}
}

// WithReadWrite opens the store for writing, taking the write lock. Without
// this option Open returns a read-only handle and Put/Delete fail.
func WithReadWrite() OptionFunc {
	return func(opt *option) error {
		opt.readWrite = true
		return nil
	}
}

// WithMaxFileSize sets the size a data file may reach before the next write
// rotates onto a new one.
func WithMaxFileSize(size int64) OptionFunc {
	return func(opt *option) error {
		opt.maxFileSize = size
		return nil
	}
}

// WithLogger sets the logger used for non-fatal diagnostic events: file
// rotation, end-of-scan and truncated-tail notices, unreadable hint files,
// and failed hint emission during merge. Lock reclaim is not logged. The
// default discards everything.
func WithLogger(logger *log.Logger) OptionFunc {
	return func(opt *option) error {
		opt.logger = logger
		return nil
	}
}

// WithMergeRateLimit throttles Merge's scan to at most bytesPerSecond. The
// default is unlimited.
func WithMergeRateLimit(bytesPerSecond float64, burst int) OptionFunc {
	return func(opt *option) error {
		opt.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
		return nil
	}
}
