package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidKind     = errors.New("invalid entity kind")
	ErrInvalidLimit    = errors.New("invalid limit")
	ErrRealmMismatch   = errors.New("row belongs to another realm")
	ErrSessionFinished = errors.New("import session already finished")
)
