package service

import "errors"

// Sentinel errors returned to the API layer.
var (
	ErrRealmNotFound     = errors.New("realm not found")
	ErrSessionNotFound   = errors.New("import session not found")
	ErrEmptySnapshot     = errors.New("snapshot is empty")
	ErrMalformedSnapshot = errors.New("snapshot is not a json object")
	ErrSnapshotTooLarge  = errors.New("snapshot exceeds the size limit")
	ErrQueueFull         = errors.New("import queue is full")
	ErrNotStarted        = errors.New("service not started")
)
