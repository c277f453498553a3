package ingest

import "errors"

var (
	// ErrImportInProgress is returned when another import holds the gate.
	ErrImportInProgress = errors.New("another import is already processing")
	// ErrNotTracked is returned when cancelling a session that is not running.
	ErrNotTracked = errors.New("import session is not in progress")
	// ErrCancelled is the cancellation cause of a user requested cancel.
	ErrCancelled = errors.New("import cancelled by request")
	// ErrTimeout is the cancellation cause of an exhausted time budget.
	ErrTimeout = errors.New("import time budget exceeded")
)
