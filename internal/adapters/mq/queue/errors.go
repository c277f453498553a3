package queue

import "errors"

// Sentinel errors for enqueue failures.
var (
	ErrClosed = errors.New("import queue closed")
	ErrFull   = errors.New("import queue full")
)
