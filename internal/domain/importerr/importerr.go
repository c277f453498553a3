// Package importerr classifies ingestion failures into the categories
// reported on import sessions.
package importerr

import (
	"context"
	"errors"
	"io/fs"
	"strings"
)

// Category is the reported failure class of an import.
type Category string

const (
	DataFormat          Category = "data_format"
	DataValidation      Category = "data_validation"
	DataDuplication     Category = "data_duplication"
	DatabaseTransaction Category = "database_transaction"
	DatabaseUpdate      Category = "database_update"
	DatabaseConnection  Category = "database_connection"
	Timeout             Category = "timeout"
	Memory              Category = "memory"
	Security            Category = "security"
	FileAccess          Category = "file_access"
	Unknown             Category = "unknown"
)

// Sentinel errors, one per category. Errors built by Wrap match them with errors.Is.
var (
	ErrDataFormat          = errors.New("data format")
	ErrDataValidation      = errors.New("data validation")
	ErrDataDuplication     = errors.New("data duplication")
	ErrDatabaseTransaction = errors.New("database transaction")
	ErrDatabaseUpdate      = errors.New("database update")
	ErrDatabaseConnection  = errors.New("database connection")
	ErrTimeout             = errors.New("timeout")
	ErrMemory              = errors.New("memory")
	ErrSecurity            = errors.New("security")
	ErrFileAccess          = errors.New("file access")
	ErrUnknown             = errors.New("unknown")
)

var sentinels = map[Category]error{
	DataFormat:          ErrDataFormat,
	DataValidation:      ErrDataValidation,
	DataDuplication:     ErrDataDuplication,
	DatabaseTransaction: ErrDatabaseTransaction,
	DatabaseUpdate:      ErrDatabaseUpdate,
	DatabaseConnection:  ErrDatabaseConnection,
	Timeout:             ErrTimeout,
	Memory:              ErrMemory,
	Security:            ErrSecurity,
	FileAccess:          ErrFileAccess,
	Unknown:             ErrUnknown,
}

// Error is a categorized failure of one ingestion step.
type Error struct {
	Op       string
	Category Category
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Category)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the category sentinel.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Category]
	return ok && s == target
}

// Wrap attaches op and category to err. A nil err yields nil.
func Wrap(op string, c Category, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Category: c, Err: err}
}

// New builds a categorized error from a message.
func New(op string, c Category, msg string) error {
	return &Error{Op: op, Category: c, Err: errors.New(msg)}
}

// Classify returns the category of err. The outermost explicit category
// wins; otherwise the cause is inspected.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Category
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout
	}
	var pe *fs.PathError
	if errors.As(err, &pe) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return FileAccess
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "out of memory") || strings.Contains(msg, "cannot allocate"):
		return Memory
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return Security
	case strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed"):
		return DatabaseUpdate
	case strings.Contains(msg, "database is locked") || strings.Contains(msg, "transaction") ||
		strings.Contains(msg, "sql: tx"):
		return DatabaseTransaction
	case strings.Contains(msg, "unable to open database") || strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "sql: database is closed"):
		return DatabaseConnection
	}
	return Unknown
}

// Message renders err for the session error message, prefixing the category.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return string(Classify(err)) + ": " + err.Error()
}
