package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/realmhist/internal/adapters/repository"
	"github.com/okian/realmhist/internal/domain/ingest"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/internal/domain/ranking"
	"github.com/okian/realmhist/pkg/logger"
)

// Rankings is the leaderboard of a realm at one point in time.
type Rankings struct {
	RealmID   string          `json:"realm_id"`
	At        *time.Time      `json:"at,omitempty"`
	Players   []ranking.Entry `json:"players"`
	Alliances []ranking.Entry `json:"alliances"`
}

// ImportStatus returns the session of id.
func (s *Service) ImportStatus(ctx context.Context, id string) (model.ImportSession, error) {
	session, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.ImportSession{}, ErrSessionNotFound
	}
	return session, err
}

// CancelImport requests cancellation of a queued or running import. The
// session reaches its terminal state asynchronously.
func (s *Service) CancelImport(ctx context.Context, id string) error {
	if err := s.orch.Cancel(id); err != nil {
		if !errors.Is(err, ingest.ErrNotTracked) {
			return err
		}
		if _, gerr := s.ImportStatus(ctx, id); gerr != nil {
			return gerr
		}
		return err
	}
	s.logger.Info(ctx, "import cancellation requested", logger.String("session_id", id))
	return nil
}

// ImportHistory returns the newest sessions of a realm.
func (s *Service) ImportHistory(ctx context.Context, realmID string, limit int) ([]model.ImportSession, error) {
	if err := s.checkRealm(ctx, realmID); err != nil {
		return nil, err
	}
	return s.sessions.ListSessions(ctx, realmID, limit)
}

// ImportDates returns the logical dates with a completed import, newest first.
func (s *Service) ImportDates(ctx context.Context, realmID string) ([]time.Time, error) {
	if err := s.checkRealm(ctx, realmID); err != nil {
		return nil, err
	}
	return s.sessions.CompletedImportDates(ctx, realmID)
}

// Realms lists the known realms.
func (s *Service) Realms(ctx context.Context) ([]model.Realm, error) {
	return s.world.ListRealms(ctx)
}

// CreateRealm registers a new realm.
func (s *Service) CreateRealm(ctx context.Context, id, name string) (model.Realm, error) {
	if name == "" {
		name = id
	}
	return s.world.CreateRealm(ctx, id, name)
}

// Tiles returns the tiles valid at at, or the current ones when at is nil.
func (s *Service) Tiles(ctx context.Context, realmID string, at *time.Time) ([]model.Tile, error) {
	if err := s.checkRealm(ctx, realmID); err != nil {
		return nil, err
	}
	if at == nil {
		return s.world.CurrentTiles(ctx, realmID)
	}
	return s.world.TilesAsOf(ctx, realmID, *at)
}

// Players returns the players valid at at, or the current ones when at is nil.
func (s *Service) Players(ctx context.Context, realmID string, at *time.Time) ([]model.Player, error) {
	if err := s.checkRealm(ctx, realmID); err != nil {
		return nil, err
	}
	if at == nil {
		return s.world.CurrentPlayers(ctx, realmID)
	}
	return s.world.PlayersAsOf(ctx, realmID, *at)
}

// Alliances returns the alliances valid at at, or the current ones when at is nil.
func (s *Service) Alliances(ctx context.Context, realmID string, at *time.Time) ([]model.Alliance, error) {
	if err := s.checkRealm(ctx, realmID); err != nil {
		return nil, err
	}
	if at == nil {
		return s.world.CurrentAlliances(ctx, realmID)
	}
	return s.world.AlliancesAsOf(ctx, realmID, *at)
}

// History returns every version of one entity, oldest first.
func (s *Service) History(ctx context.Context, realmID string, kind model.Kind, key string) (any, error) {
	if err := s.checkRealm(ctx, realmID); err != nil {
		return nil, err
	}
	switch kind {
	case model.KindTile:
		return s.world.TileHistory(ctx, realmID, key)
	case model.KindPlayer:
		return s.world.PlayerHistory(ctx, realmID, key)
	case model.KindAlliance:
		return s.world.AllianceHistory(ctx, realmID, key)
	default:
		return nil, fmt.Errorf("%s: %w", kind, repository.ErrInvalidKind)
	}
}

// Rankings computes the top limit players and alliances from the versions
// valid at at.
func (s *Service) Rankings(ctx context.Context, realmID string, at *time.Time, limit int) (Rankings, error) {
	if limit < 1 {
		return Rankings{}, ranking.ErrInvalidLimit
	}
	players, err := s.Players(ctx, realmID, at)
	if err != nil {
		return Rankings{}, err
	}
	alliances, err := s.Alliances(ctx, realmID, at)
	if err != nil {
		return Rankings{}, err
	}

	out := Rankings{RealmID: realmID, At: at}
	if out.Players, err = ranking.Top(ranking.Players(players), limit); err != nil {
		return Rankings{}, err
	}
	if out.Alliances, err = ranking.Top(ranking.Alliances(alliances), limit); err != nil {
		return Rankings{}, err
	}
	return out, nil
}

// PlayerRank returns the rank of one player at at.
func (s *Service) PlayerRank(ctx context.Context, realmID, playerID string, at *time.Time) (ranking.Entry, error) {
	players, err := s.Players(ctx, realmID, at)
	if err != nil {
		return ranking.Entry{}, err
	}
	return ranking.Find(ranking.Players(players), playerID)
}
