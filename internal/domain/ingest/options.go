package ingest

import (
	"time"

	"github.com/okian/realmhist/internal/domain/cleanse"
	"github.com/okian/realmhist/internal/domain/snapshot"
	"github.com/okian/realmhist/internal/domain/temporal"
	"github.com/okian/realmhist/pkg/logger"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithParser sets the snapshot parser.
func WithParser(p *snapshot.Parser) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.parser = p
		}
	}
}

// WithCleanser sets the cleanser.
func WithCleanser(c *cleanse.Cleanser) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.cleanser = c
		}
	}
}

// WithApplier sets the temporal applier.
func WithApplier(a *temporal.Applier) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.applier = a
		}
	}
}

// WithRegistry shares a registry with the caller.
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithTimeout sets the budget used when a request carries none.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}
