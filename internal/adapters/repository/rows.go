package repository

import (
	"database/sql"
	"time"

	"github.com/okian/realmhist/internal/domain/model"
)

// Timestamps are stored as unix milliseconds in UTC.
func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

// versionRow holds the temporal columns shared by the versioned tables.
type versionRow struct {
	ID         int64         `db:"id"`
	RealmID    string        `db:"realm_id"`
	NaturalKey string        `db:"natural_key"`
	IsActive   bool          `db:"is_active"`
	ValidFrom  int64         `db:"valid_from"`
	ValidTo    sql.NullInt64 `db:"valid_to"`
	SessionID  string        `db:"import_session_id"`
}

func newVersionRow(key string, v model.Version) versionRow {
	return versionRow{
		RealmID:    v.RealmID,
		NaturalKey: key,
		IsActive:   v.IsActive,
		ValidFrom:  toMillis(v.ValidFrom),
		ValidTo:    nullMillis(v.ValidTo),
		SessionID:  v.SessionID,
	}
}

func (r versionRow) version() model.Version {
	return model.Version{
		RealmID:   r.RealmID,
		IsActive:  r.IsActive,
		ValidFrom: fromMillis(r.ValidFrom),
		ValidTo:   timePtr(r.ValidTo),
		SessionID: r.SessionID,
	}
}

type tileRow struct {
	versionRow
	X          int    `db:"x"`
	Y          int    `db:"y"`
	Type       string `db:"type"`
	Level      int    `db:"level"`
	Name       string `db:"name"`
	PlayerID   string `db:"player_id"`
	AllianceID string `db:"alliance_id"`
}

const tileColumns = `id, realm_id, natural_key, is_active, valid_from, valid_to, import_session_id,
	x, y, type, level, name, player_id, alliance_id`

const insertTileSQL = `INSERT INTO tiles (realm_id, natural_key, is_active, valid_from, valid_to, import_session_id,
	x, y, type, level, name, player_id, alliance_id)
	VALUES (:realm_id, :natural_key, :is_active, :valid_from, :valid_to, :import_session_id,
	:x, :y, :type, :level, :name, :player_id, :alliance_id)`

func newTileRow(t model.Tile) tileRow {
	return tileRow{
		versionRow: newVersionRow(t.Key(), t.Version),
		X:          t.X,
		Y:          t.Y,
		Type:       t.Type,
		Level:      t.Level,
		Name:       t.Name,
		PlayerID:   t.PlayerID,
		AllianceID: t.AllianceID,
	}
}

func (r tileRow) model() model.Tile {
	return model.Tile{
		X:          r.X,
		Y:          r.Y,
		Type:       r.Type,
		Level:      r.Level,
		Name:       r.Name,
		PlayerID:   r.PlayerID,
		AllianceID: r.AllianceID,
		Version:    r.version(),
	}
}

type playerRow struct {
	versionRow
	Name            string        `db:"name"`
	AllianceID      string        `db:"alliance_id"`
	Might           int64         `db:"might"`
	Kills           int64         `db:"kills"`
	CityX           sql.NullInt64 `db:"city_x"`
	CityY           sql.NullInt64 `db:"city_y"`
	WildernessCount int           `db:"wilderness_count"`
}

const playerColumns = `id, realm_id, natural_key, is_active, valid_from, valid_to, import_session_id,
	name, alliance_id, might, kills, city_x, city_y, wilderness_count`

const insertPlayerSQL = `INSERT INTO players (realm_id, natural_key, is_active, valid_from, valid_to, import_session_id,
	name, alliance_id, might, kills, city_x, city_y, wilderness_count)
	VALUES (:realm_id, :natural_key, :is_active, :valid_from, :valid_to, :import_session_id,
	:name, :alliance_id, :might, :kills, :city_x, :city_y, :wilderness_count)`

func newPlayerRow(p model.Player) playerRow {
	r := playerRow{
		versionRow:      newVersionRow(p.Key(), p.Version),
		Name:            p.Name,
		AllianceID:      p.AllianceID,
		Might:           p.Might,
		Kills:           p.Kills,
		WildernessCount: p.WildernessCount,
	}
	r.CityX, r.CityY = nullCoord(p.City)
	return r
}

func (r playerRow) model() model.Player {
	return model.Player{
		PlayerID:        r.NaturalKey,
		Name:            r.Name,
		AllianceID:      r.AllianceID,
		Might:           r.Might,
		Kills:           r.Kills,
		City:            coord(r.CityX, r.CityY),
		WildernessCount: r.WildernessCount,
		Version:         r.version(),
	}
}

type allianceRow struct {
	versionRow
	Name        string        `db:"name"`
	Tag         string        `db:"tag"`
	Power       int64         `db:"power"`
	MemberCount int           `db:"member_count"`
	BaseX       sql.NullInt64 `db:"base_x"`
	BaseY       sql.NullInt64 `db:"base_y"`
	BaseLevel   int           `db:"base_level"`
}

const allianceColumns = `id, realm_id, natural_key, is_active, valid_from, valid_to, import_session_id,
	name, tag, power, member_count, base_x, base_y, base_level`

const insertAllianceSQL = `INSERT INTO alliances (realm_id, natural_key, is_active, valid_from, valid_to, import_session_id,
	name, tag, power, member_count, base_x, base_y, base_level)
	VALUES (:realm_id, :natural_key, :is_active, :valid_from, :valid_to, :import_session_id,
	:name, :tag, :power, :member_count, :base_x, :base_y, :base_level)`

func newAllianceRow(a model.Alliance) allianceRow {
	r := allianceRow{
		versionRow:  newVersionRow(a.Key(), a.Version),
		Name:        a.Name,
		Tag:         a.Tag,
		Power:       a.Power,
		MemberCount: a.MemberCount,
		BaseLevel:   a.BaseLevel,
	}
	r.BaseX, r.BaseY = nullCoord(a.Base)
	return r
}

func (r allianceRow) model() model.Alliance {
	return model.Alliance{
		AllianceID:  r.NaturalKey,
		Name:        r.Name,
		Tag:         r.Tag,
		Power:       r.Power,
		MemberCount: r.MemberCount,
		Base:        coord(r.BaseX, r.BaseY),
		BaseLevel:   r.BaseLevel,
		Version:     r.version(),
	}
}

func nullCoord(c *model.Coord) (sql.NullInt64, sql.NullInt64) {
	if c == nil {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(c.X), Valid: true}, sql.NullInt64{Int64: int64(c.Y), Valid: true}
}

func coord(x, y sql.NullInt64) *model.Coord {
	if !x.Valid || !y.Valid {
		return nil
	}
	return &model.Coord{X: int(x.Int64), Y: int(y.Int64)}
}

// table maps a kind to its table name.
func table(kind model.Kind) (string, error) {
	switch kind {
	case model.KindTile:
		return "tiles", nil
	case model.KindPlayer:
		return "players", nil
	case model.KindAlliance:
		return "alliances", nil
	}
	return "", ErrInvalidKind
}

type sessionRow struct {
	ID               string        `db:"id"`
	RealmID          string        `db:"realm_id"`
	ImportDate       int64         `db:"import_date"`
	Status           string        `db:"status"`
	Phase            string        `db:"phase"`
	PhaseNumber      int           `db:"phase_number"`
	TotalPhases      int           `db:"total_phases"`
	PhasePercent     float64       `db:"phase_percent"`
	OverallPercent   float64       `db:"overall_percent"`
	TotalRecords     int           `db:"total_records"`
	ProcessedRecords int           `db:"processed_records"`
	ChangedRecords   int           `db:"changed_records"`
	ErrorCategory    string        `db:"error_category"`
	ErrorMessage     string        `db:"error_message"`
	CreatedAt        int64         `db:"created_at"`
	UpdatedAt        int64         `db:"updated_at"`
	FinishedAt       sql.NullInt64 `db:"finished_at"`
}

const sessionColumns = `id, realm_id, import_date, status, phase, phase_number, total_phases,
	phase_percent, overall_percent, total_records, processed_records, changed_records,
	error_category, error_message, created_at, updated_at, finished_at`

func (r sessionRow) model() model.ImportSession {
	return model.ImportSession{
		ID:         r.ID,
		RealmID:    r.RealmID,
		ImportDate: fromMillis(r.ImportDate),
		Status:     model.Status(r.Status),
		Progress: model.Progress{
			Phase:            r.Phase,
			PhaseNumber:      r.PhaseNumber,
			TotalPhases:      r.TotalPhases,
			PhasePercent:     r.PhasePercent,
			OverallPercent:   r.OverallPercent,
			TotalRecords:     r.TotalRecords,
			ProcessedRecords: r.ProcessedRecords,
			ChangedRecords:   r.ChangedRecords,
		},
		ErrorCategory: r.ErrorCategory,
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     fromMillis(r.CreatedAt),
		UpdatedAt:     fromMillis(r.UpdatedAt),
		FinishedAt:    timePtr(r.FinishedAt),
	}
}
