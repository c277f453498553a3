package model

import "time"

// Status is the lifecycle state of an import session.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Realm is an isolated game world. Natural keys are scoped to it.
type Realm struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress is the phase level view of a running import.
type Progress struct {
	Phase            string  `json:"phase"`
	PhaseNumber      int     `json:"phase_number"`
	TotalPhases      int     `json:"total_phases"`
	PhasePercent     float64 `json:"phase_percent"`
	OverallPercent   float64 `json:"overall_percent"`
	TotalRecords     int     `json:"total_records"`
	ProcessedRecords int     `json:"processed_records"`
	ChangedRecords   int     `json:"changed_records"`
}

// ImportSession is the audit record of one ingestion attempt. It is never
// deleted.
type ImportSession struct {
	ID            string     `json:"id"`
	RealmID       string     `json:"realm_id"`
	ImportDate    time.Time  `json:"import_date"`
	Status        Status     `json:"status"`
	Progress      Progress   `json:"progress"`
	ErrorCategory string     `json:"error_category,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// ImportDay normalizes t to midnight UTC of its calendar day.
func ImportDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
