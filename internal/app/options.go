package service

import (
	"time"

	"github.com/okian/realmhist/internal/domain/ingest"
	"github.com/okian/realmhist/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithQueueSize sets the maximum number of queued background imports.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxSnapshotBytes caps the accepted snapshot size.
func WithMaxSnapshotBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSnapshotBytes = n
		}
	}
}

// WithSyncTimeout sets the budget of imports run in the request.
func WithSyncTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

// WithBackgroundTimeout sets the budget of queued imports.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.backgroundTimeout = d
		}
	}
}

// WithIngestOptions configures the orchestrator.
func WithIngestOptions(opts ...ingest.Option) Option {
	return func(s *Service) {
		s.ingestOpts = append(s.ingestOpts, opts...)
	}
}

// WithClock overrides the wall clock used for default import dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
