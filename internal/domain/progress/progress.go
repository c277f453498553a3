// Package progress tracks the phase level progress of one import and
// persists it for polling.
package progress

import (
	"context"
	"math"
	"sync"

	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/pkg/logger"
	"github.com/okian/realmhist/pkg/metrics"
)

// TotalPhases is the number of entity phases of an import.
const TotalPhases = 3

// Persister stores progress snapshots.
type Persister interface {
	UpdateProgress(ctx context.Context, sessionID string, p model.Progress) error
}

// Tracker converts phase counters into percentages. Persistence is best
// effort: failures are logged and counted, never returned.
type Tracker struct {
	mu        sync.Mutex
	sessionID string
	store     Persister
	log       logger.Logger
	p         model.Progress
	completed int
	phaseDone bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// New creates a tracker for sessionID. store may be nil.
func New(sessionID string, store Persister, opts ...Option) *Tracker {
	t := &Tracker{
		sessionID: sessionID,
		store:     store,
		p:         model.Progress{TotalPhases: TotalPhases},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Get().Named("progress")
	}
	return t
}

// Overall computes completed/total*100 + phasePercent/total, capped at 100.
func Overall(completed, total int, phasePercent float64) float64 {
	if total <= 0 {
		return 0
	}
	v := float64(completed)/float64(total)*100 + phasePercent/float64(total)
	return round(math.Min(v, 100))
}

// Stage records a pre-phase step such as parsing or validating.
func (t *Tracker) Stage(ctx context.Context, name string) {
	t.update(ctx, func(p *model.Progress) {
		p.Phase = name
		p.PhaseNumber = 0
		p.PhasePercent = 0
		t.phaseDone = false
	})
}

// SetTotal records the number of incoming records.
func (t *Tracker) SetTotal(ctx context.Context, records int) {
	t.update(ctx, func(p *model.Progress) { p.TotalRecords = records })
}

// StartPhase opens phase number (1 based).
func (t *Tracker) StartPhase(ctx context.Context, name string, number int) {
	t.update(ctx, func(p *model.Progress) {
		p.Phase = name
		p.PhaseNumber = number
		p.PhasePercent = 0
		t.phaseDone = false
	})
}

// Advance records processed out of total rows written in the current phase.
func (t *Tracker) Advance(ctx context.Context, processed, total int) {
	pct := 100.0
	if total > 0 {
		pct = round(float64(processed) / float64(total) * 100)
	}
	t.update(ctx, func(p *model.Progress) { p.PhasePercent = math.Min(pct, 100) })
}

// CompletePhase closes the current phase, adding its record and change counts.
func (t *Tracker) CompletePhase(ctx context.Context, records, changed int) {
	t.update(ctx, func(p *model.Progress) {
		if !t.phaseDone {
			t.completed = min(t.completed+1, TotalPhases)
			t.phaseDone = true
		}
		p.PhasePercent = 100
		p.ProcessedRecords += records
		p.ChangedRecords += changed
	})
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() model.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}

// Final returns the progress to store with a completed session.
func (t *Tracker) Final() model.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.p
	p.Phase = "completed"
	p.PhasePercent = 100
	p.OverallPercent = 100
	return p
}

func (t *Tracker) update(ctx context.Context, fn func(*model.Progress)) {
	t.mu.Lock()
	fn(&t.p)
	if t.phaseDone || t.p.PhaseNumber == 0 {
		t.p.OverallPercent = Overall(t.completed, TotalPhases, 0)
	} else {
		t.p.OverallPercent = Overall(t.completed, TotalPhases, t.p.PhasePercent)
	}
	snap := t.p
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	// progress must still be written while the import context is ending
	if err := t.store.UpdateProgress(context.WithoutCancel(ctx), t.sessionID, snap); err != nil {
		metrics.RecordProgressPersistFailure()
		t.log.Warn(ctx, "failed to persist import progress",
			logger.String("session_id", t.sessionID),
			logger.String("phase", snap.Phase),
			logger.Error(err),
		)
	}
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
