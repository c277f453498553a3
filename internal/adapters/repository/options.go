package repository

import (
	"time"

	"github.com/okian/realmhist/pkg/logger"
)

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	log       logger.Logger
	now       func() time.Time
	chunkSize int
}

func defaultOptions() options {
	return options{
		now:       func() time.Time { return time.Now().UTC() },
		chunkSize: 500,
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock overrides the wall clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithChunkSize bounds the number of keys bound into one statement.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}
