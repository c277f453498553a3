// Package ingest sequences one snapshot import: parse, cleanse, then the
// alliance, player and tile phases inside a single world transaction.
//
// The session is finalized exactly once, after the transaction committed or
// rolled back. Cancellation and the time budget are observed between phases
// and between the applier's batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/realmhist/internal/adapters/repository"
	"github.com/okian/realmhist/internal/domain/changes"
	"github.com/okian/realmhist/internal/domain/cleanse"
	"github.com/okian/realmhist/internal/domain/importerr"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/internal/domain/progress"
	"github.com/okian/realmhist/internal/domain/snapshot"
	"github.com/okian/realmhist/internal/domain/temporal"
	"github.com/okian/realmhist/pkg/logger"
	"github.com/okian/realmhist/pkg/metrics"
)

const (
	defaultTimeout = 5 * time.Minute

	opRollback = "rollback"
)

// Stages reported before the entity phases start.
const (
	StageParsing    = "parsing"
	StageValidating = "validating"
)

// errStopped marks a run that observed cancellation.
var errStopped = errors.New("import stopped")

// Store opens world transactions.
type Store interface {
	Begin(ctx context.Context, realmID string) (repository.Tx, error)
}

// Sessions persists the session an import reports into.
type Sessions interface {
	progress.Persister
	FinishSession(ctx context.Context, id string, f repository.Finish) error
	LatestCompletedDate(ctx context.Context, realmID string) (time.Time, bool, error)
}

// Request is one import to run. The session row must already exist.
type Request struct {
	SessionID  string
	RealmID    string
	ImportDate time.Time
	Payload    []byte
	// Timeout overrides the orchestrator budget when positive.
	Timeout time.Duration
}

// PhaseReport summarizes one entity phase.
type PhaseReport struct {
	Kind      model.Kind
	Added     int
	Modified  int
	Removed   int
	Unchanged int
	Applied   temporal.Result
	Duration  time.Duration
}

// Outcome is the terminal result of a run.
type Outcome struct {
	SessionID string
	Status    model.Status
	Category  importerr.Category
	Message   string
	Err       error
	Progress  model.Progress
	Encoding  string
	Cleanse   cleanse.Report
	Phases    []PhaseReport
	Duration  time.Duration
}

// Changed returns the number of keys changed across all phases.
func (o Outcome) Changed() int {
	n := 0
	for _, p := range o.Phases {
		n += p.Added + p.Modified + p.Removed
	}
	return n
}

// Orchestrator runs imports one at a time.
type Orchestrator struct {
	store    Store
	sessions Sessions
	registry *Registry
	parser   *snapshot.Parser
	cleanser *cleanse.Cleanser
	applier  *temporal.Applier
	timeout  time.Duration
	now      func() time.Time
	log      logger.Logger
}

// New creates an Orchestrator over the world store and the session store.
func New(store Store, sessions Sessions, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		sessions: sessions,
		timeout:  defaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("ingest")
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.parser == nil {
		o.parser = snapshot.NewParser(snapshot.WithLogger(o.log))
	}
	if o.cleanser == nil {
		o.cleanser = cleanse.New(cleanse.WithLogger(o.log))
	}
	if o.applier == nil {
		o.applier = temporal.New(temporal.WithLogger(o.log))
	}
	return o
}

// Registry returns the gate shared by all runs of this orchestrator.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Cancel requests cancellation of a running or queued import.
func (o *Orchestrator) Cancel(sessionID string) error {
	if !o.registry.Cancel(sessionID) {
		return ErrNotTracked
	}
	return nil
}

// Run executes req and finalizes its session. The gate is claimed when the
// caller has not already done so and is always released on return. The
// returned error is only ErrImportInProgress; import failures are reported
// in the Outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	if err := o.registry.Register(req.SessionID); err != nil {
		return Outcome{}, err
	}
	defer o.registry.Unregister(req.SessionID)

	budget := o.timeout
	if req.Timeout > 0 {
		budget = req.Timeout
	}
	if req.ImportDate.IsZero() {
		req.ImportDate = o.now()
	}
	req.ImportDate = model.ImportDay(req.ImportDate)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	runCtx, cancelTimeout := context.WithTimeoutCause(runCtx, budget, ErrTimeout)
	defer cancelTimeout()
	o.registry.attach(req.SessionID, cancel)

	start := o.now()
	metrics.RecordImportStarted()
	o.log.Info(ctx, "import started",
		logger.String("session_id", req.SessionID),
		logger.String("realm_id", req.RealmID),
		logger.Time("import_date", req.ImportDate),
		logger.Int("bytes", len(req.Payload)),
		logger.Duration("budget", budget),
	)

	tr := progress.New(req.SessionID, o.sessions, progress.WithLogger(o.log))
	out := Outcome{SessionID: req.SessionID}
	err := o.execute(runCtx, req, tr, &out)
	out.Duration = o.now().Sub(start)
	o.finish(runCtx, req, budget, tr, &out, err)
	return out, nil
}

func (o *Orchestrator) execute(ctx context.Context, req Request, tr *progress.Tracker, out *Outcome) error {
	tr.Stage(ctx, StageParsing)
	snap, err := o.parser.ParseBytes(ctx, req.Payload)
	if err != nil {
		return err
	}
	out.Encoding = snap.Encoding

	tr.Stage(ctx, StageValidating)
	if err := o.checkImportDate(ctx, req); err != nil {
		return err
	}
	clean, err := o.cleanser.Cleanse(ctx, snap)
	if err != nil {
		return err
	}
	tr.SetTotal(ctx, clean.Records())
	if ctx.Err() != nil {
		return errStopped
	}

	tx, err := o.store.Begin(ctx, req.RealmID)
	if err != nil {
		return importerr.Wrap("begin", importerr.DatabaseConnection, err)
	}
	if err := o.inTx(ctx, tx, req, clean, tr, out); err != nil {
		return o.rollback(ctx, tx, req, err)
	}

	if ctx.Err() != nil {
		return o.rollback(ctx, tx, req, errStopped)
	}
	o.log.Debug(ctx, "committing import", logger.String("session_id", req.SessionID))
	if err := tx.Commit(); err != nil {
		return o.rollback(ctx, tx, req, importerr.Wrap("commit", importerr.DatabaseTransaction, err))
	}
	return nil
}

// checkImportDate keeps validity intervals ordered: an import may not be
// dated before the latest completed import of the realm.
func (o *Orchestrator) checkImportDate(ctx context.Context, req Request) error {
	latest, ok, err := o.sessions.LatestCompletedDate(ctx, req.RealmID)
	if err != nil {
		return importerr.Wrap("check import date", importerr.DatabaseConnection, err)
	}
	if ok && req.ImportDate.Before(latest) {
		return importerr.New("check import date", importerr.DataValidation,
			fmt.Sprintf("import date %s precedes the latest completed import %s",
				req.ImportDate.Format(time.DateOnly), latest.Format(time.DateOnly)))
	}
	return nil
}

func (o *Orchestrator) inTx(ctx context.Context, tx repository.Tx, req Request, clean *cleanse.Result, tr *progress.Tracker, out *Outcome) error {
	if err := o.cleanser.CrossCheck(ctx, clean, tx); err != nil {
		return importerr.Wrap("cross-check", importerr.DatabaseTransaction, err)
	}
	out.Cleanse = clean.Report

	treq := temporal.Request{RealmID: req.RealmID, SessionID: req.SessionID, ImportDate: req.ImportDate}
	var currentTiles []model.Tile

	for i, kind := range model.Kinds {
		if ctx.Err() != nil {
			return errStopped
		}
		tr.StartPhase(ctx, string(kind), i+1)
		advance := func(processed, total int) { tr.Advance(ctx, processed, total) }
		start := o.now()
		rep := PhaseReport{Kind: kind}
		var (
			records int
			err     error
		)

		switch kind {
		case model.KindAlliance:
			current, lerr := tx.ActiveAlliances(ctx)
			if lerr != nil {
				return importerr.Wrap("load active alliances", importerr.DatabaseTransaction, lerr)
			}
			set := changes.Alliances(clean.Alliances, current)
			rep.count(len(set.Added), len(set.Modified), len(set.Removed), set.Unchanged)
			records = len(clean.Alliances)
			rep.Applied, err = o.applier.ApplyAlliances(ctx, tx, treq, set, advance)
		case model.KindPlayer:
			current, lerr := tx.ActivePlayers(ctx)
			if lerr != nil {
				return importerr.Wrap("load active players", importerr.DatabaseTransaction, lerr)
			}
			if currentTiles, lerr = tx.ActiveTiles(ctx); lerr != nil {
				return importerr.Wrap("load active tiles", importerr.DatabaseTransaction, lerr)
			}
			held, lerr := resolvedTiles(ctx, tx, clean.Tiles, clean.Players)
			if lerr != nil {
				return importerr.Wrap("resolve tile references", importerr.DatabaseTransaction, lerr)
			}
			set := changes.PlayersWithTiles(clean.Players, current, held, currentTiles)
			rep.count(len(set.Added), len(set.Modified), len(set.Removed), set.Unchanged)
			records = len(clean.Players)
			rep.Applied, err = o.applier.ApplyPlayers(ctx, tx, treq, set, advance)
		case model.KindTile:
			// the player phase never writes tiles, so its read is still current
			set := changes.Tiles(clean.Tiles, currentTiles)
			rep.count(len(set.Added), len(set.Modified), len(set.Removed), set.Unchanged)
			records = len(clean.Tiles)
			rep.Applied, err = o.applier.ApplyTiles(ctx, tx, treq, set, advance)
		}
		if err != nil {
			return err
		}
		if rep.Applied.Cancelled {
			return errStopped
		}

		rep.Duration = o.now().Sub(start)
		out.Phases = append(out.Phases, rep)
		tr.CompletePhase(ctx, records, rep.Added+rep.Modified+rep.Removed)
		metrics.RecordPhaseDuration(string(kind), rep.Duration.Seconds())
		metrics.RecordChanges(string(kind), "added", rep.Added)
		metrics.RecordChanges(string(kind), "modified", rep.Modified)
		metrics.RecordChanges(string(kind), "removed", rep.Removed)
		o.log.Info(ctx, "phase applied",
			logger.String("session_id", req.SessionID),
			logger.String("phase", string(kind)),
			logger.Int("added", rep.Added),
			logger.Int("modified", rep.Modified),
			logger.Int("removed", rep.Removed),
			logger.Int("unchanged", rep.Unchanged),
			logger.Int("deactivated", rep.Applied.Deactivated),
			logger.Int("inserted", rep.Applied.Inserted),
			logger.Int("dropped", rep.Applied.Dropped()),
			logger.Duration("duration", rep.Duration),
		)
	}
	return nil
}

// resolvedTiles keeps the incoming tiles the tile phase can insert: their
// references name a record of the realm or a player staged by this import.
// Holdings are compared on these alone, otherwise a tile dropped as
// unresolved would mark its owner modified on every import.
func resolvedTiles(ctx context.Context, tx repository.Tx, tiles []model.Tile, staged []model.Player) ([]model.Tile, error) {
	players, err := tx.KnownKeys(ctx, model.KindPlayer)
	if err != nil {
		return nil, err
	}
	alliances, err := tx.KnownKeys(ctx, model.KindAlliance)
	if err != nil {
		return nil, err
	}
	for _, p := range staged {
		players[p.Key()] = struct{}{}
	}

	known := func(keys map[string]struct{}, ref string) bool {
		_, ok := keys[ref]
		return ref == "" || ok
	}
	out := make([]model.Tile, 0, len(tiles))
	for _, t := range tiles {
		if known(players, t.PlayerID) && known(alliances, t.AllianceID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *PhaseReport) count(added, modified, removed, unchanged int) {
	r.Added, r.Modified, r.Removed, r.Unchanged = added, modified, removed, unchanged
}

// rollback aborts tx. A failed rollback is escalated together with cause.
func (o *Orchestrator) rollback(ctx context.Context, tx repository.Tx, req Request, cause error) error {
	rbErr := tx.Rollback()
	if rbErr == nil {
		return cause
	}
	o.log.Error(ctx, "rollback failed",
		logger.String("session_id", req.SessionID),
		logger.Error(cause),
		logger.String("rollback_error", rbErr.Error()),
	)
	metrics.RecordErrorByComponent("ingest", "rollback")
	return importerr.Wrap(opRollback, importerr.DatabaseTransaction, errors.Join(cause, rbErr))
}

func (o *Orchestrator) finish(ctx context.Context, req Request, budget time.Duration, tr *progress.Tracker, out *Outcome, err error) {
	var ie *importerr.Error
	switch {
	case err == nil:
		out.Status = model.StatusCompleted
		out.Progress = tr.Final()
	case errors.As(err, &ie) && ie.Op == opRollback:
		out.Status = model.StatusFailed
		out.Category = importerr.DatabaseTransaction
		out.Message = importerr.Message(err)
	case ctx.Err() != nil || errors.Is(err, errStopped):
		out.Category = importerr.Timeout
		cause := context.Cause(ctx)
		switch {
		case errors.Is(cause, ErrTimeout):
			out.Status = model.StatusFailed
			out.Message = fmt.Sprintf("timeout: import exceeded its %s time budget", budget)
		case errors.Is(cause, ErrCancelled):
			out.Status = model.StatusCancelled
			out.Message = "timeout: import cancelled by request"
		default:
			out.Status = model.StatusCancelled
			out.Message = fmt.Sprintf("timeout: import interrupted: %v", cause)
		}
		err = importerr.Wrap("import", importerr.Timeout, cause)
	default:
		out.Status = model.StatusFailed
		out.Category = importerr.Classify(err)
		out.Message = importerr.Message(err)
	}
	out.Err = err
	if out.Status != model.StatusCompleted {
		out.Progress = tr.Snapshot()
		metrics.RecordErrorByCategory(string(out.Category))
	}

	fin := repository.Finish{
		Status:        out.Status,
		Progress:      out.Progress,
		ErrorCategory: string(out.Category),
		ErrorMessage:  out.Message,
	}
	// the run context may already be done; the terminal state must still land
	if ferr := o.sessions.FinishSession(context.WithoutCancel(ctx), req.SessionID, fin); ferr != nil {
		o.log.Error(ctx, "failed to finalize import session",
			logger.String("session_id", req.SessionID),
			logger.String("status", string(out.Status)),
			logger.Error(ferr),
		)
	}
	metrics.RecordImportFinished(string(out.Status), out.Duration.Seconds())

	fields := []logger.Field{
		logger.String("session_id", req.SessionID),
		logger.String("realm_id", req.RealmID),
		logger.String("status", string(out.Status)),
		logger.Int("changed", out.Changed()),
		logger.Duration("duration", out.Duration),
	}
	if out.Status == model.StatusCompleted {
		o.log.Info(ctx, "import finished", fields...)
		return
	}
	fields = append(fields, logger.String("category", string(out.Category)), logger.Error(err))
	o.log.Warn(ctx, "import did not complete", fields...)
}
