package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/realmhist/internal/adapters/repository/migrations"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/pkg/logger"
	"github.com/okian/realmhist/pkg/metrics"
)

const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

// openDB opens a SQLite file, verifies the connection and applies the
// migrations found under root.
func openDB(ctx context.Context, path, root string) (*sqlx.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sqlx.Open("sqlite", filepath.Clean(path)+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS, root); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// SQLiteStore implements Store on the world database.
type SQLiteStore struct {
	db   *sqlx.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// Open opens the world database at path.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("repository")
	}
	db, err := openDB(ctx, path, migrations.World)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, opts: o}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRealm inserts a realm. An existing id fails with ErrAlreadyExists.
func (s *SQLiteStore) CreateRealm(ctx context.Context, id, name string) (model.Realm, error) {
	if err := ctx.Err(); err != nil {
		return model.Realm{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Realm{}, fmt.Errorf("realm id is required")
	}
	if name == "" {
		name = id
	}
	realm := model.Realm{ID: id, Name: name, CreatedAt: s.opts.now()}
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO realms (id, name, created_at) VALUES (?, ?, ?)",
		realm.ID, realm.Name, toMillis(realm.CreatedAt))
	if err != nil {
		return model.Realm{}, fmt.Errorf("create realm %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Realm{}, fmt.Errorf("realm %s: %w", id, ErrAlreadyExists)
	}
	return realm, nil
}

// EnsureRealm creates the realm when it does not exist yet.
func (s *SQLiteStore) EnsureRealm(ctx context.Context, id string) error {
	_, err := s.CreateRealm(ctx, id, id)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// GetRealm returns the realm with id.
func (s *SQLiteStore) GetRealm(ctx context.Context, id string) (model.Realm, error) {
	var row struct {
		ID        string `db:"id"`
		Name      string `db:"name"`
		CreatedAt int64  `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, "SELECT id, name, created_at FROM realms WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Realm{}, fmt.Errorf("realm %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Realm{}, fmt.Errorf("get realm %s: %w", id, err)
	}
	return model.Realm{ID: row.ID, Name: row.Name, CreatedAt: fromMillis(row.CreatedAt)}, nil
}

// ListRealms returns all realms ordered by id.
func (s *SQLiteStore) ListRealms(ctx context.Context) ([]model.Realm, error) {
	var rows []struct {
		ID        string `db:"id"`
		Name      string `db:"name"`
		CreatedAt int64  `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT id, name, created_at FROM realms ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list realms: %w", err)
	}
	out := make([]model.Realm, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Realm{ID: r.ID, Name: r.Name, CreatedAt: fromMillis(r.CreatedAt)})
	}
	return out, nil
}

// Begin opens an import transaction for realmID.
func (s *SQLiteStore) Begin(ctx context.Context, realmID string) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import transaction: %w", err)
	}
	return &sqliteTx{tx: tx, realmID: realmID, opts: s.opts}, nil
}

func (s *SQLiteStore) CurrentTiles(ctx context.Context, realmID string) ([]model.Tile, error) {
	defer observeQuery(time.Now())
	return selectTiles(ctx, s.db, "WHERE realm_id = ? AND is_active = 1 ORDER BY x, y", realmID)
}

func (s *SQLiteStore) CurrentPlayers(ctx context.Context, realmID string) ([]model.Player, error) {
	defer observeQuery(time.Now())
	return selectPlayers(ctx, s.db, "WHERE realm_id = ? AND is_active = 1 ORDER BY natural_key", realmID)
}

func (s *SQLiteStore) CurrentAlliances(ctx context.Context, realmID string) ([]model.Alliance, error) {
	defer observeQuery(time.Now())
	return selectAlliances(ctx, s.db, "WHERE realm_id = ? AND is_active = 1 ORDER BY natural_key", realmID)
}

const asOf = "WHERE realm_id = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)"

// TilesAsOf returns the tile versions valid at instant at.
func (s *SQLiteStore) TilesAsOf(ctx context.Context, realmID string, at time.Time) ([]model.Tile, error) {
	defer observeQuery(time.Now())
	ms := toMillis(at)
	return selectTiles(ctx, s.db, asOf+" ORDER BY x, y", realmID, ms, ms)
}

// PlayersAsOf returns the player versions valid at instant at.
func (s *SQLiteStore) PlayersAsOf(ctx context.Context, realmID string, at time.Time) ([]model.Player, error) {
	defer observeQuery(time.Now())
	ms := toMillis(at)
	return selectPlayers(ctx, s.db, asOf+" ORDER BY natural_key", realmID, ms, ms)
}

// AlliancesAsOf returns the alliance versions valid at instant at.
func (s *SQLiteStore) AlliancesAsOf(ctx context.Context, realmID string, at time.Time) ([]model.Alliance, error) {
	defer observeQuery(time.Now())
	ms := toMillis(at)
	return selectAlliances(ctx, s.db, asOf+" ORDER BY natural_key", realmID, ms, ms)
}

const history = "WHERE realm_id = ? AND natural_key = ? ORDER BY valid_from, id"

// TileHistory returns every version of a tile, oldest first.
func (s *SQLiteStore) TileHistory(ctx context.Context, realmID, key string) ([]model.Tile, error) {
	defer observeQuery(time.Now())
	return selectTiles(ctx, s.db, history, realmID, key)
}

// PlayerHistory returns every version of a player, oldest first.
func (s *SQLiteStore) PlayerHistory(ctx context.Context, realmID, key string) ([]model.Player, error) {
	defer observeQuery(time.Now())
	return selectPlayers(ctx, s.db, history, realmID, key)
}

// AllianceHistory returns every version of an alliance, oldest first.
func (s *SQLiteStore) AllianceHistory(ctx context.Context, realmID, key string) ([]model.Alliance, error) {
	defer observeQuery(time.Now())
	return selectAlliances(ctx, s.db, history, realmID, key)
}

// CountActive returns the number of active rows of kind in the realm.
func (s *SQLiteStore) CountActive(ctx context.Context, kind model.Kind, realmID string) (int, error) {
	tbl, err := table(kind)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM "+tbl+" WHERE realm_id = ? AND is_active = 1", realmID); err != nil {
		return 0, fmt.Errorf("count active %s: %w", tbl, err)
	}
	return n, nil
}

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
}

func selectTiles(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) ([]model.Tile, error) {
	var rows []tileRow
	if err := sqlx.SelectContext(ctx, q, &rows, "SELECT "+tileColumns+" FROM tiles "+where, args...); err != nil {
		return nil, fmt.Errorf("select tiles: %w", err)
	}
	out := make([]model.Tile, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func selectPlayers(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) ([]model.Player, error) {
	var rows []playerRow
	if err := sqlx.SelectContext(ctx, q, &rows, "SELECT "+playerColumns+" FROM players "+where, args...); err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}
	out := make([]model.Player, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func selectAlliances(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) ([]model.Alliance, error) {
	var rows []allianceRow
	if err := sqlx.SelectContext(ctx, q, &rows, "SELECT "+allianceColumns+" FROM alliances "+where, args...); err != nil {
		return nil, fmt.Errorf("select alliances: %w", err)
	}
	out := make([]model.Alliance, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}
