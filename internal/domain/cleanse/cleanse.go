// Package cleanse turns a parsed snapshot into the canonical incoming record
// set: structural limits are enforced, duplicate natural keys are dropped
// (first occurrence wins) and soft references are checked and reported.
// Only the structural limits can fail an import.
package cleanse

import (
	"context"
	"fmt"

	"github.com/okian/realmhist/internal/domain/dedupe"
	"github.com/okian/realmhist/internal/domain/importerr"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/internal/domain/snapshot"
	"github.com/okian/realmhist/pkg/logger"
	"github.com/okian/realmhist/pkg/metrics"
)

// Limits bounds the size of an acceptable snapshot.
type Limits struct {
	MaxTiles     int
	MaxPlayers   int
	MaxAlliances int
}

// DefaultLimits fit a 1000x1000 map.
var DefaultLimits = Limits{
	MaxTiles:     1000 * 1000,
	MaxPlayers:   250_000,
	MaxAlliances: 25_000,
}

// Anomaly labels used in logs and metrics.
const (
	AnomalyDuplicateKey       = "duplicate_key"
	AnomalyUnresolvedPlayer   = "unresolved_player_ref"
	AnomalyUnresolvedAlliance = "unresolved_alliance_ref"
	AnomalyMultipleCities     = "multiple_cities"
	AnomalyActiveKeyCollision = "active_key_collision"
)

const defaultSampleSize = 10

// Report accounts for everything the cleanser dropped or flagged.
type Report struct {
	DuplicateTiles         int
	DuplicatePlayers       int
	DuplicateAlliances     int
	DuplicateBases         int
	UnresolvedPlayerRefs   int
	UnresolvedAllianceRefs int
	MultipleCities         int
	ActiveCollisions       map[model.Kind]int
}

// Result is the canonical incoming record set.
type Result struct {
	Tiles     []model.Tile
	Players   []model.Player
	Alliances []model.Alliance
	Report    Report
}

// Records returns the number of entities across all kinds.
func (r *Result) Records() int {
	return len(r.Tiles) + len(r.Players) + len(r.Alliances)
}

// ActiveKeySource lists the natural keys currently active in a realm.
type ActiveKeySource interface {
	ActiveKeys(ctx context.Context, kind model.Kind) (map[string]struct{}, error)
}

// Cleanser applies the cleansing rules. It holds no per-import state.
type Cleanser struct {
	limits     Limits
	sampleSize int
	log        logger.Logger
}

// New creates a Cleanser.
func New(opts ...Option) *Cleanser {
	c := &Cleanser{
		limits:     DefaultLimits,
		sampleSize: defaultSampleSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("cleanse")
	}
	return c
}

// Cleanse validates limits, deduplicates the four record lists independently,
// merges alliance records with alliance bases, derives tile based player
// attributes and reports unresolved references.
func (c *Cleanser) Cleanse(ctx context.Context, s *snapshot.Snapshot) (*Result, error) {
	if s == nil {
		return nil, importerr.New("cleanse snapshot", importerr.DataFormat, "nil snapshot")
	}
	if err := c.checkLimits(s); err != nil {
		return nil, err
	}

	sample := dedupe.WithSampleSize(c.sampleSize)
	tiles := dedupe.Unique(s.Tiles, model.Tile.Key, sample)
	players := dedupe.Unique(s.Players, model.Player.Key, sample)
	alliances := dedupe.Unique(s.Alliances, model.Alliance.Key, sample)
	bases := dedupe.Unique(s.AllianceBases, func(b snapshot.AllianceBase) string { return b.AllianceID }, sample)

	res := &Result{
		Tiles: tiles.Kept,
		Report: Report{
			DuplicateTiles:     len(tiles.Dropped),
			DuplicatePlayers:   len(players.Dropped),
			DuplicateAlliances: len(alliances.Dropped),
			DuplicateBases:     len(bases.Dropped),
		},
	}
	c.reportDuplicates(ctx, model.KindTile, "tiles", len(tiles.Dropped), tiles.Duplicates)
	c.reportDuplicates(ctx, model.KindPlayer, "players", len(players.Dropped), players.Duplicates)
	c.reportDuplicates(ctx, model.KindAlliance, "alliances", len(alliances.Dropped), alliances.Duplicates)
	c.reportDuplicates(ctx, model.KindAlliance, "alliance_bases", len(bases.Dropped), bases.Duplicates)

	res.Alliances = mergeAlliances(alliances.Kept, bases.Kept)
	res.Players, res.Report.MultipleCities = derivePlayers(players.Kept, res.Tiles)
	if res.Report.MultipleCities > 0 {
		metrics.RecordAnomalies(string(model.KindPlayer), AnomalyMultipleCities, res.Report.MultipleCities)
		c.log.Warn(ctx, "players own more than one city, first city tile used",
			logger.Int("players", res.Report.MultipleCities))
	}

	c.checkReferences(ctx, res)
	return res, nil
}

func (c *Cleanser) checkLimits(s *snapshot.Snapshot) error {
	switch {
	case len(s.Tiles) > c.limits.MaxTiles:
		return importerr.New("cleanse snapshot", importerr.DataValidation,
			fmt.Sprintf("%d tiles exceed the limit of %d", len(s.Tiles), c.limits.MaxTiles))
	case len(s.Players) > c.limits.MaxPlayers:
		return importerr.New("cleanse snapshot", importerr.DataValidation,
			fmt.Sprintf("%d players exceed the limit of %d", len(s.Players), c.limits.MaxPlayers))
	case len(s.Alliances) > c.limits.MaxAlliances:
		return importerr.New("cleanse snapshot", importerr.DataValidation,
			fmt.Sprintf("%d alliances exceed the limit of %d", len(s.Alliances), c.limits.MaxAlliances))
	case len(s.AllianceBases) > c.limits.MaxAlliances:
		return importerr.New("cleanse snapshot", importerr.DataValidation,
			fmt.Sprintf("%d alliance bases exceed the limit of %d", len(s.AllianceBases), c.limits.MaxAlliances))
	}
	return nil
}

func (c *Cleanser) reportDuplicates(ctx context.Context, kind model.Kind, list string, n int, sample []string) {
	if n == 0 {
		return
	}
	metrics.RecordAnomalies(string(kind), AnomalyDuplicateKey, n)
	c.log.Warn(ctx, "duplicate natural keys dropped, first occurrence kept",
		logger.String("list", list),
		logger.Int("dropped", n),
		logger.Any("sample", sample),
	)
}

// checkReferences counts tile and player references that do not resolve
// within the snapshot. Unresolved references are expected in source data.
func (c *Cleanser) checkReferences(ctx context.Context, res *Result) {
	players := make(map[string]struct{}, len(res.Players))
	for _, p := range res.Players {
		players[p.PlayerID] = struct{}{}
	}
	alliances := make(map[string]struct{}, len(res.Alliances))
	for _, a := range res.Alliances {
		alliances[a.AllianceID] = struct{}{}
	}

	var playerSample, allianceSample []string
	for _, t := range res.Tiles {
		if t.PlayerID != "" {
			if _, ok := players[t.PlayerID]; !ok {
				res.Report.UnresolvedPlayerRefs++
				playerSample = c.addSample(playerSample, t.Key())
			}
		}
		if t.AllianceID != "" {
			if _, ok := alliances[t.AllianceID]; !ok {
				res.Report.UnresolvedAllianceRefs++
				allianceSample = c.addSample(allianceSample, t.Key())
			}
		}
	}
	for _, p := range res.Players {
		if p.AllianceID == "" {
			continue
		}
		if _, ok := alliances[p.AllianceID]; !ok {
			res.Report.UnresolvedAllianceRefs++
			allianceSample = c.addSample(allianceSample, p.PlayerID)
		}
	}

	if n := res.Report.UnresolvedPlayerRefs; n > 0 {
		metrics.RecordAnomalies(string(model.KindTile), AnomalyUnresolvedPlayer, n)
		c.log.Warn(ctx, "tiles reference players missing from the snapshot",
			logger.Int("count", n), logger.Any("sample", playerSample))
	}
	if n := res.Report.UnresolvedAllianceRefs; n > 0 {
		metrics.RecordAnomalies(string(model.KindTile), AnomalyUnresolvedAlliance, n)
		c.log.Warn(ctx, "records reference alliances missing from the snapshot",
			logger.Int("count", n), logger.Any("sample", allianceSample))
	}
}

// CrossCheck reports incoming keys that are already active in the realm.
// Collisions are normal and resolved by change detection; they are only counted.
func (c *Cleanser) CrossCheck(ctx context.Context, res *Result, src ActiveKeySource) error {
	res.Report.ActiveCollisions = make(map[model.Kind]int, len(model.Kinds))
	incoming := map[model.Kind][]string{
		model.KindAlliance: keys(res.Alliances, model.Alliance.Key),
		model.KindPlayer:   keys(res.Players, model.Player.Key),
		model.KindTile:     keys(res.Tiles, model.Tile.Key),
	}
	for _, kind := range model.Kinds {
		active, err := src.ActiveKeys(ctx, kind)
		if err != nil {
			return fmt.Errorf("cross-check %s keys: %w", kind, err)
		}
		n := 0
		for _, k := range incoming[kind] {
			if _, ok := active[k]; ok {
				n++
			}
		}
		res.Report.ActiveCollisions[kind] = n
		if n > 0 {
			metrics.RecordAnomalies(string(kind), AnomalyActiveKeyCollision, n)
		}
	}
	c.log.Info(ctx, "incoming keys already active in realm",
		logger.Int("alliances", res.Report.ActiveCollisions[model.KindAlliance]),
		logger.Int("players", res.Report.ActiveCollisions[model.KindPlayer]),
		logger.Int("tiles", res.Report.ActiveCollisions[model.KindTile]),
	)
	return nil
}

func (c *Cleanser) addSample(sample []string, key string) []string {
	if len(sample) < c.sampleSize {
		sample = append(sample, key)
	}
	return sample
}

func keys[T any](items []T, key func(T) string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = key(item)
	}
	return out
}
