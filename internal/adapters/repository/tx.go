package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/pkg/metrics"
)

type sqliteTx struct {
	tx      *sqlx.Tx
	realmID string
	opts    options
}

func (t *sqliteTx) RealmID() string { return t.realmID }

func (t *sqliteTx) ActiveTiles(ctx context.Context) ([]model.Tile, error) {
	return selectTiles(ctx, t.tx, "WHERE realm_id = ? AND is_active = 1 ORDER BY id", t.realmID)
}

func (t *sqliteTx) ActivePlayers(ctx context.Context) ([]model.Player, error) {
	return selectPlayers(ctx, t.tx, "WHERE realm_id = ? AND is_active = 1 ORDER BY id", t.realmID)
}

func (t *sqliteTx) ActiveAlliances(ctx context.Context) ([]model.Alliance, error) {
	return selectAlliances(ctx, t.tx, "WHERE realm_id = ? AND is_active = 1 ORDER BY id", t.realmID)
}

func (t *sqliteTx) ActiveKeys(ctx context.Context, kind model.Kind) (map[string]struct{}, error) {
	return t.keys(ctx, kind, " AND is_active = 1")
}

func (t *sqliteTx) KnownKeys(ctx context.Context, kind model.Kind) (map[string]struct{}, error) {
	return t.keys(ctx, kind, "")
}

func (t *sqliteTx) keys(ctx context.Context, kind model.Kind, filter string) (map[string]struct{}, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := t.tx.SelectContext(ctx, &keys,
		"SELECT DISTINCT natural_key FROM "+tbl+" WHERE realm_id = ?"+filter, t.realmID); err != nil {
		return nil, fmt.Errorf("select %s keys: %w", tbl, err)
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}

func (t *sqliteTx) Deactivate(ctx context.Context, kind model.Kind, keys []string, validTo time.Time) (int, error) {
	tbl, err := table(kind)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	defer func() { metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Milliseconds())) }()

	total := 0
	for lo := 0; lo < len(keys); lo += t.opts.chunkSize {
		hi := min(lo+t.opts.chunkSize, len(keys))
		query, args, err := sqlx.In(
			"UPDATE "+tbl+" SET is_active = 0, valid_to = ? WHERE realm_id = ? AND is_active = 1 AND natural_key IN (?)",
			toMillis(validTo), t.realmID, keys[lo:hi])
		if err != nil {
			return total, fmt.Errorf("deactivate %s: %w", tbl, err)
		}
		res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
		if err != nil {
			return total, fmt.Errorf("deactivate %s: %w", tbl, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("deactivate %s: %w", tbl, err)
		}
		total += int(n)
	}
	return total, nil
}

func (t *sqliteTx) InsertTiles(ctx context.Context, tiles []model.Tile) error {
	rows := make([]tileRow, 0, len(tiles))
	for _, m := range tiles {
		if err := t.checkRealm(m.RealmID); err != nil {
			return err
		}
		rows = append(rows, newTileRow(m))
	}
	return insertRows(ctx, t.tx, insertTileSQL, rows)
}

func (t *sqliteTx) InsertPlayers(ctx context.Context, players []model.Player) error {
	rows := make([]playerRow, 0, len(players))
	for _, m := range players {
		if err := t.checkRealm(m.RealmID); err != nil {
			return err
		}
		rows = append(rows, newPlayerRow(m))
	}
	return insertRows(ctx, t.tx, insertPlayerSQL, rows)
}

func (t *sqliteTx) InsertAlliances(ctx context.Context, alliances []model.Alliance) error {
	rows := make([]allianceRow, 0, len(alliances))
	for _, m := range alliances {
		if err := t.checkRealm(m.RealmID); err != nil {
			return err
		}
		rows = append(rows, newAllianceRow(m))
	}
	return insertRows(ctx, t.tx, insertAllianceSQL, rows)
}

func (t *sqliteTx) checkRealm(realmID string) error {
	if realmID != t.realmID {
		return fmt.Errorf("insert into realm %s: %w", t.realmID, ErrRealmMismatch)
	}
	return nil
}

// insertRows writes rows through one prepared statement.
func insertRows[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Milliseconds())) }()

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. A transaction already ended, for example
// by context cancellation, is not an error.
func (t *sqliteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback import: %w", err)
	}
	return nil
}
