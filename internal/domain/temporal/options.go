package temporal

import "github.com/okian/realmhist/pkg/logger"

// Option configures an Applier.
type Option func(*Applier)

// WithBatchSize sets how many rows are written between cancellation checks.
func WithBatchSize(n int) Option {
	return func(a *Applier) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithSampleSize bounds the keys listed in anomaly logs.
func WithSampleSize(n int) Option {
	return func(a *Applier) {
		if n >= 0 {
			a.sampleSize = n
		}
	}
}

// WithLogger sets the applier logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Applier) {
		if l != nil {
			a.log = l
		}
	}
}
