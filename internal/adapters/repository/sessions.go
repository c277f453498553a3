package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/okian/realmhist/internal/adapters/repository/migrations"
	"github.com/okian/realmhist/internal/domain/importerr"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/pkg/logger"
)

// SessionStore implements SessionRepository on the session database.
type SessionStore struct {
	db   *sqlx.DB
	opts options
}

var _ SessionRepository = (*SessionStore)(nil)

// OpenSessions opens the session database at path.
func OpenSessions(ctx context.Context, path string, opts ...Option) (*SessionStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("sessions")
	}
	db, err := openDB(ctx, path, migrations.Sessions)
	if err != nil {
		return nil, err
	}
	return &SessionStore{db: db, opts: o}, nil
}

// Close closes the database.
func (s *SessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateSession inserts a new session. CreatedAt and UpdatedAt default to now.
func (s *SessionStore) CreateSession(ctx context.Context, m model.ImportSession) error {
	if m.ID == "" || m.RealmID == "" {
		return fmt.Errorf("session id and realm are required")
	}
	now := s.opts.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.Status == "" {
		m.Status = model.StatusProcessing
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO import_sessions
		(id, realm_id, import_date, status, total_phases, total_records, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RealmID, toMillis(m.ImportDate), string(m.Status),
		m.Progress.TotalPhases, m.Progress.TotalRecords,
		toMillis(m.CreatedAt), toMillis(now))
	if err != nil {
		return fmt.Errorf("create session %s: %w", m.ID, err)
	}
	return nil
}

func (s *SessionStore) UpdateProgress(ctx context.Context, id string, p model.Progress) error {
	res, err := s.db.ExecContext(ctx, `UPDATE import_sessions SET
		phase = ?, phase_number = ?, total_phases = ?, phase_percent = ?, overall_percent = ?,
		total_records = ?, processed_records = ?, changed_records = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		p.Phase, p.PhaseNumber, p.TotalPhases, p.PhasePercent, p.OverallPercent,
		p.TotalRecords, p.ProcessedRecords, p.ChangedRecords, toMillis(s.opts.now()),
		id, string(model.StatusProcessing))
	if err != nil {
		return fmt.Errorf("update progress %s: %w", id, err)
	}
	return s.checkTouched(ctx, res, id)
}

func (s *SessionStore) FinishSession(ctx context.Context, id string, f Finish) error {
	if !f.Status.Terminal() {
		return fmt.Errorf("finish session %s: status %q is not terminal", id, f.Status)
	}
	now := toMillis(s.opts.now())
	p := f.Progress
	res, err := s.db.ExecContext(ctx, `UPDATE import_sessions SET
		status = ?, phase = ?, phase_number = ?, total_phases = ?, phase_percent = ?, overall_percent = ?,
		total_records = ?, processed_records = ?, changed_records = ?,
		error_category = ?, error_message = ?, updated_at = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		string(f.Status), p.Phase, p.PhaseNumber, p.TotalPhases, p.PhasePercent, p.OverallPercent,
		p.TotalRecords, p.ProcessedRecords, p.ChangedRecords,
		f.ErrorCategory, f.ErrorMessage, now, now,
		id, string(model.StatusProcessing))
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	return s.checkTouched(ctx, res, id)
}

// checkTouched tells a missing session apart from a finished one when an
// update matched no row.
func (s *SessionStore) checkTouched(ctx context.Context, res sql.Result, id string) error {
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("session %s: %w", id, ErrSessionFinished)
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (model.ImportSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, "SELECT "+sessionColumns+" FROM import_sessions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ImportSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ImportSession{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return row.model(), nil
}

// ListSessions returns the newest sessions of a realm first.
func (s *SessionStore) ListSessions(ctx context.Context, realmID string, limit int) ([]model.ImportSession, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT "+sessionColumns+" FROM import_sessions WHERE realm_id = ? ORDER BY created_at DESC, id LIMIT ?",
		realmID, limit); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.ImportSession, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// CompletedImportDates returns the distinct logical dates of completed
// imports, newest first.
func (s *SessionStore) CompletedImportDates(ctx context.Context, realmID string) ([]time.Time, error) {
	var dates []int64
	if err := s.db.SelectContext(ctx, &dates,
		"SELECT DISTINCT import_date FROM import_sessions WHERE realm_id = ? AND status = ? ORDER BY import_date DESC",
		realmID, string(model.StatusCompleted)); err != nil {
		return nil, fmt.Errorf("completed import dates: %w", err)
	}
	out := make([]time.Time, len(dates))
	for i, d := range dates {
		out[i] = fromMillis(d)
	}
	return out, nil
}

func (s *SessionStore) LatestCompletedDate(ctx context.Context, realmID string) (time.Time, bool, error) {
	var latest sql.NullInt64
	if err := s.db.GetContext(ctx, &latest,
		"SELECT MAX(import_date) FROM import_sessions WHERE realm_id = ? AND status = ?",
		realmID, string(model.StatusCompleted)); err != nil {
		return time.Time{}, false, fmt.Errorf("latest import date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(latest.Int64), true, nil
}

func (s *SessionStore) FailInterrupted(ctx context.Context, message string) (int, error) {
	now := toMillis(s.opts.now())
	res, err := s.db.ExecContext(ctx, `UPDATE import_sessions SET
		status = ?, error_category = ?, error_message = ?, updated_at = ?, finished_at = ?
		WHERE status = ?`,
		string(model.StatusFailed), string(importerr.Unknown), message, now, now, string(model.StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if n > 0 {
		s.opts.log.Warn(ctx, "sessions interrupted by a previous shutdown marked failed", logger.Int64("sessions", n))
	}
	return int(n), err
}
