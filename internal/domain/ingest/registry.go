package ingest

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/realmhist/pkg/metrics"
)

// Registry is the process wide single importer gate: a mutex guarded set of
// active session ids. It is advisory within one process only.
type Registry struct {
	mu     sync.Mutex
	active map[string]*entry
}

type entry struct {
	cancel    context.CancelCauseFunc
	cancelled bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*entry)}
}

// Register claims the gate for sessionID. It fails with ErrImportInProgress
// while any other session is registered.
func (r *Registry) Register(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[sessionID]; ok {
		return nil
	}
	if len(r.active) > 0 {
		return ErrImportInProgress
	}
	r.active[sessionID] = &entry{}
	metrics.UpdateActiveImports(len(r.active))
	return nil
}

// Unregister releases the gate held by sessionID.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sessionID)
	metrics.UpdateActiveImports(len(r.active))
}

// IsActive reports whether sessionID holds the gate.
func (r *Registry) IsActive(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Busy reports whether any import holds the gate.
func (r *Registry) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active) > 0
}

// Active lists the registered session ids.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// attach binds the cancel function of a running import. A cancel requested
// while the session was still queued fires immediately.
func (r *Registry) attach(sessionID string, cancel context.CancelCauseFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[sessionID]
	if !ok {
		return false
	}
	e.cancel = cancel
	if e.cancelled {
		cancel(ErrCancelled)
	}
	return true
}

// Cancel requests cancellation of sessionID. It reports false when the
// session is not registered.
func (r *Registry) Cancel(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[sessionID]
	if !ok {
		return false
	}
	e.cancelled = true
	if e.cancel != nil {
		e.cancel(ErrCancelled)
	}
	return true
}

// Cancelled reports whether cancellation was requested for sessionID.
func (r *Registry) Cancelled(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[sessionID]
	return ok && e.cancelled
}
