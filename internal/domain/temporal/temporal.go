// Package temporal applies change sets to the versioned store.
//
// For every affected natural key the active version is closed at the import
// date and, for added and modified keys, a new active version is opened.
// All writes go through the caller's transaction; nothing here commits.
package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/realmhist/internal/domain/changes"
	"github.com/okian/realmhist/internal/domain/dedupe"
	"github.com/okian/realmhist/internal/domain/importerr"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/pkg/logger"
	"github.com/okian/realmhist/pkg/metrics"
)

const (
	defaultBatchSize  = 1000
	defaultSampleSize = 10
)

// Reasons a staged insert is dropped.
const (
	DropDuplicate  = "duplicate_key"
	DropActive     = "still_active"
	DropUnresolved = "unresolved_reference"
)

// Store is the transactional write surface the applier needs.
type Store interface {
	ActiveKeys(ctx context.Context, kind model.Kind) (map[string]struct{}, error)
	KnownKeys(ctx context.Context, kind model.Kind) (map[string]struct{}, error)
	Deactivate(ctx context.Context, kind model.Kind, keys []string, validTo time.Time) (int, error)
	InsertTiles(ctx context.Context, tiles []model.Tile) error
	InsertPlayers(ctx context.Context, players []model.Player) error
	InsertAlliances(ctx context.Context, alliances []model.Alliance) error
}

// Request identifies the import the writes belong to.
type Request struct {
	RealmID    string
	SessionID  string
	ImportDate time.Time
}

// Result reports what one apply call wrote.
type Result struct {
	Kind              model.Kind
	Deactivated       int
	Inserted          int
	DroppedDuplicates int
	DroppedActive     int
	DroppedUnresolved int
	// Cancelled is set when the context ended between batches. The caller
	// must roll back; nothing after the last completed batch was written.
	Cancelled bool
}

// Dropped returns the number of staged inserts removed by the safety nets.
func (r Result) Dropped() int {
	return r.DroppedDuplicates + r.DroppedActive + r.DroppedUnresolved
}

// ProgressFunc receives the rows written so far out of total.
type ProgressFunc func(processed, total int)

// Applier writes change sets in batches.
type Applier struct {
	batchSize  int
	sampleSize int
	log        logger.Logger
}

// New creates an Applier.
func New(opts ...Option) *Applier {
	a := &Applier{
		batchSize:  defaultBatchSize,
		sampleSize: defaultSampleSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Get().Named("temporal")
	}
	return a
}

// plan describes how one kind is staged and written.
type plan[T any] struct {
	kind   model.Kind
	key    func(T) string
	stamp  func(T, model.Version) T
	insert func(context.Context, []T) error
	// refs returns the soft references checked before insert; nil skips the check.
	refs func(T) (playerID, allianceID string)
}

// ApplyAlliances applies an alliance change set.
func (a *Applier) ApplyAlliances(ctx context.Context, st Store, req Request, set changes.Set[model.Alliance], progress ProgressFunc) (Result, error) {
	return apply(ctx, a, st, req, plan[model.Alliance]{
		kind: model.KindAlliance,
		key:  model.Alliance.Key,
		stamp: func(m model.Alliance, v model.Version) model.Alliance {
			m.Version = v
			return m
		},
		insert: st.InsertAlliances,
	}, set.DeactivateKeys(model.Alliance.Key), set.Inserts(), progress)
}

// ApplyPlayers applies a player change set.
func (a *Applier) ApplyPlayers(ctx context.Context, st Store, req Request, set changes.Set[model.Player], progress ProgressFunc) (Result, error) {
	return apply(ctx, a, st, req, plan[model.Player]{
		kind: model.KindPlayer,
		key:  model.Player.Key,
		stamp: func(m model.Player, v model.Version) model.Player {
			m.Version = v
			return m
		},
		insert: st.InsertPlayers,
	}, set.DeactivateKeys(model.Player.Key), set.Inserts(), progress)
}

// ApplyTiles applies a tile change set. Tiles whose player or alliance
// reference is unknown in the realm are not inserted.
func (a *Applier) ApplyTiles(ctx context.Context, st Store, req Request, set changes.Set[model.Tile], progress ProgressFunc) (Result, error) {
	return apply(ctx, a, st, req, plan[model.Tile]{
		kind: model.KindTile,
		key:  model.Tile.Key,
		stamp: func(m model.Tile, v model.Version) model.Tile {
			m.Version = v
			return m
		},
		insert: st.InsertTiles,
		refs:   func(t model.Tile) (string, string) { return t.PlayerID, t.AllianceID },
	}, set.DeactivateKeys(model.Tile.Key), set.Inserts(), progress)
}

func apply[T any](ctx context.Context, a *Applier, st Store, req Request, p plan[T], deactivate []string, inserts []T, progress ProgressFunc) (Result, error) {
	res := Result{Kind: p.kind}
	op := "apply " + string(p.kind) + " changes"
	if progress == nil {
		progress = func(int, int) {}
	}

	version := model.Version{
		RealmID:   req.RealmID,
		IsActive:  true,
		ValidFrom: req.ImportDate,
		SessionID: req.SessionID,
	}
	for i := range inserts {
		inserts[i] = p.stamp(inserts[i], version)
	}

	inserts, res.DroppedDuplicates = dropDuplicates(ctx, a, p, inserts)

	var err error
	inserts, res.DroppedActive, err = dropStillActive(ctx, a, st, p, deactivate, inserts)
	if err != nil {
		return res, importerr.Wrap(op, importerr.DatabaseUpdate, err)
	}
	if p.refs != nil {
		inserts, res.DroppedUnresolved, err = dropUnresolved(ctx, a, st, p, inserts)
		if err != nil {
			return res, importerr.Wrap(op, importerr.DatabaseUpdate, err)
		}
	}

	total := len(deactivate) + len(inserts)
	processed := 0

	for lo := 0; lo < len(deactivate); lo += a.batchSize {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}
		hi := min(lo+a.batchSize, len(deactivate))
		n, err := st.Deactivate(ctx, p.kind, deactivate[lo:hi], req.ImportDate)
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				return res, nil
			}
			return res, importerr.Wrap(op, importerr.DatabaseUpdate, err)
		}
		res.Deactivated += n
		processed += hi - lo
		progress(processed, total)
	}

	for lo := 0; lo < len(inserts); lo += a.batchSize {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}
		hi := min(lo+a.batchSize, len(inserts))
		if err := p.insert(ctx, inserts[lo:hi]); err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				return res, nil
			}
			return res, importerr.Wrap(op, importerr.DatabaseUpdate, err)
		}
		res.Inserted += hi - lo
		processed += hi - lo
		progress(processed, total)
	}

	if processed == 0 {
		progress(0, 0)
	}
	return res, nil
}

// dropDuplicates keeps the first staged insert of every key.
func dropDuplicates[T any](ctx context.Context, a *Applier, p plan[T], inserts []T) ([]T, int) {
	res := dedupe.Unique(inserts, p.key, dedupe.WithSampleSize(a.sampleSize))
	a.reportDropped(ctx, p.kind, DropDuplicate, len(res.Dropped), res.Duplicates)
	return res.Kept, len(res.Dropped)
}

// dropStillActive re-reads the active keys and drops inserts for keys that
// are active and not closed by this call.
func dropStillActive[T any](ctx context.Context, a *Applier, st Store, p plan[T], deactivate []string, inserts []T) ([]T, int, error) {
	if len(inserts) == 0 {
		return inserts, 0, nil
	}
	active, err := st.ActiveKeys(ctx, p.kind)
	if err != nil {
		return nil, 0, fmt.Errorf("re-query active keys: %w", err)
	}
	closing := make(map[string]struct{}, len(deactivate))
	for _, k := range deactivate {
		closing[k] = struct{}{}
	}

	kept := inserts[:0]
	var sample []string
	for _, in := range inserts {
		k := p.key(in)
		_, isActive := active[k]
		_, isClosing := closing[k]
		if isActive && !isClosing {
			if len(sample) < a.sampleSize {
				sample = append(sample, k)
			}
			continue
		}
		kept = append(kept, in)
	}
	dropped := len(inserts) - len(kept)
	a.reportDropped(ctx, p.kind, DropActive, dropped, sample)
	return kept, dropped, nil
}

// dropUnresolved drops inserts whose non-empty references match no row,
// active or historical, of the realm.
func dropUnresolved[T any](ctx context.Context, a *Applier, st Store, p plan[T], inserts []T) ([]T, int, error) {
	if len(inserts) == 0 {
		return inserts, 0, nil
	}
	players, err := st.KnownKeys(ctx, model.KindPlayer)
	if err != nil {
		return nil, 0, fmt.Errorf("load known players: %w", err)
	}
	alliances, err := st.KnownKeys(ctx, model.KindAlliance)
	if err != nil {
		return nil, 0, fmt.Errorf("load known alliances: %w", err)
	}

	kept := inserts[:0]
	var sample []string
	for _, in := range inserts {
		playerID, allianceID := p.refs(in)
		if !resolves(players, playerID) || !resolves(alliances, allianceID) {
			if len(sample) < a.sampleSize {
				sample = append(sample, p.key(in))
			}
			continue
		}
		kept = append(kept, in)
	}
	dropped := len(inserts) - len(kept)
	a.reportDropped(ctx, p.kind, DropUnresolved, dropped, sample)
	return kept, dropped, nil
}

// resolves treats an empty reference as no reference.
func resolves(known map[string]struct{}, ref string) bool {
	if ref == "" {
		return true
	}
	_, ok := known[ref]
	return ok
}

func (a *Applier) reportDropped(ctx context.Context, kind model.Kind, reason string, n int, sample []string) {
	if n == 0 {
		return
	}
	metrics.RecordDroppedRows(string(kind), reason, n)
	a.log.Warn(ctx, "staged inserts dropped",
		logger.String("kind", string(kind)),
		logger.String("reason", reason),
		logger.Int("dropped", n),
		logger.Any("sample", sample),
	)
}
