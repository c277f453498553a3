// Package repository persists realms, versioned world entities and import
// sessions in SQLite.
//
// World data and sessions live in separate database files: an import holds
// one long write transaction on the world database while its progress is
// written to the session database.
package repository

import (
	"context"
	"time"

	"github.com/okian/realmhist/internal/domain/model"
)

// Store is the world database: realms and the versioned tables.
type Store interface {
	CreateRealm(ctx context.Context, id, name string) (model.Realm, error)
	EnsureRealm(ctx context.Context, id string) error
	// GetRealm returns ErrNotFound for unknown realms.
	GetRealm(ctx context.Context, id string) (model.Realm, error)
	ListRealms(ctx context.Context) ([]model.Realm, error)

	// Begin opens the write transaction of one import, scoped to realmID.
	Begin(ctx context.Context, realmID string) (Tx, error)

	Reader
}

// Reader answers point-in-time queries. Callers never observe an
// uncommitted import.
type Reader interface {
	CurrentTiles(ctx context.Context, realmID string) ([]model.Tile, error)
	CurrentPlayers(ctx context.Context, realmID string) ([]model.Player, error)
	CurrentAlliances(ctx context.Context, realmID string) ([]model.Alliance, error)

	TilesAsOf(ctx context.Context, realmID string, at time.Time) ([]model.Tile, error)
	PlayersAsOf(ctx context.Context, realmID string, at time.Time) ([]model.Player, error)
	AlliancesAsOf(ctx context.Context, realmID string, at time.Time) ([]model.Alliance, error)

	TileHistory(ctx context.Context, realmID, key string) ([]model.Tile, error)
	PlayerHistory(ctx context.Context, realmID, key string) ([]model.Player, error)
	AllianceHistory(ctx context.Context, realmID, key string) ([]model.Alliance, error)

	CountActive(ctx context.Context, kind model.Kind, realmID string) (int, error)
}

// Tx is the write side of one import. Every method is scoped to the realm
// the transaction was opened for. Nothing is visible to readers before Commit.
type Tx interface {
	RealmID() string

	ActiveTiles(ctx context.Context) ([]model.Tile, error)
	ActivePlayers(ctx context.Context) ([]model.Player, error)
	ActiveAlliances(ctx context.Context) ([]model.Alliance, error)

	// ActiveKeys returns the natural keys with an active row.
	ActiveKeys(ctx context.Context, kind model.Kind) (map[string]struct{}, error)
	// KnownKeys returns the natural keys with any row, active or not.
	KnownKeys(ctx context.Context, kind model.Kind) (map[string]struct{}, error)

	// Deactivate closes the active rows of keys at validTo and returns the
	// number of rows closed. Keys without an active row are ignored.
	Deactivate(ctx context.Context, kind model.Kind, keys []string, validTo time.Time) (int, error)

	InsertTiles(ctx context.Context, tiles []model.Tile) error
	InsertPlayers(ctx context.Context, players []model.Player) error
	InsertAlliances(ctx context.Context, alliances []model.Alliance) error

	Commit() error
	Rollback() error
}

// SessionRepository is the session database.
type SessionRepository interface {
	CreateSession(ctx context.Context, s model.ImportSession) error
	// UpdateProgress only touches sessions still processing.
	UpdateProgress(ctx context.Context, id string, p model.Progress) error
	// FinishSession finalizes a processing session exactly once; later calls
	// return ErrSessionFinished.
	FinishSession(ctx context.Context, id string, f Finish) error
	GetSession(ctx context.Context, id string) (model.ImportSession, error)
	ListSessions(ctx context.Context, realmID string, limit int) ([]model.ImportSession, error)
	CompletedImportDates(ctx context.Context, realmID string) ([]time.Time, error)
	// LatestCompletedDate reports false when the realm has no completed import.
	LatestCompletedDate(ctx context.Context, realmID string) (time.Time, bool, error)
	// FailInterrupted marks sessions left processing by a previous process as failed.
	FailInterrupted(ctx context.Context, message string) (int, error)
}

// Finish is the terminal state written to a session.
type Finish struct {
	Status        model.Status
	Progress      model.Progress
	ErrorCategory string
	ErrorMessage  string
}
