package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/okian/realmhist/internal/domain/model"
)

// ImportDependencies defines the interface for import operations.
type ImportDependencies interface {
	// StartImport queues an import and returns its processing session.
	StartImport(ctx context.Context, realmID string, date time.Time, body io.Reader) (model.ImportSession, error)
	// Import runs an import within the request.
	Import(ctx context.Context, realmID string, date time.Time, body io.Reader) (model.ImportSession, error)
	ImportStatus(ctx context.Context, id string) (model.ImportSession, error)
	CancelImport(ctx context.Context, id string) error
	ImportHistory(ctx context.Context, realmID string, limit int) ([]model.ImportSession, error)
	ImportDates(ctx context.Context, realmID string) ([]time.Time, error)
}

// ImportsHandler handles snapshot uploads and session queries.
type ImportsHandler struct {
	deps     ImportDependencies
	maxLimit int
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(deps ImportDependencies, maxLimit int) *ImportsHandler {
	return &ImportsHandler{deps: deps, maxLimit: maxLimit}
}

type cancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type datesResponse struct {
	RealmID string   `json:"realm_id"`
	Dates   []string `json:"dates"`
}

// HandlePostImport handles POST /realms/{realm}/imports?date=&mode= requests.
// The body is the raw snapshot. mode=sync runs the import before answering.
func (h *ImportsHandler) HandlePostImport(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_import"
	realmID := r.PathValue("realm")
	q := r.URL.Query()

	at, err := parseDate(op, q.Get("date"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	var date time.Time
	if at != nil {
		date = *at
	}

	switch mode := q.Get("mode"); mode {
	case "sync":
		session, err := h.deps.Import(r.Context(), realmID, date, r.Body)
		if err != nil {
			writeFailure(w, Wrap(op, err))
			return
		}
		writeJSON(w, http.StatusOK, session)
	case "", "async":
		session, err := h.deps.StartImport(r.Context(), realmID, date, r.Body)
		if err != nil {
			writeFailure(w, Wrap(op, err))
			return
		}
		w.Header().Set("Location", "/imports/"+session.ID)
		writeJSON(w, http.StatusAccepted, session)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
	}
}

// HandleGetImport handles GET /imports/{id} requests.
func (h *ImportsHandler) HandleGetImport(w http.ResponseWriter, r *http.Request) {
	session, err := h.deps.ImportStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, Wrap("api.get_import", err))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// HandleCancelImport handles DELETE /imports/{id} requests. Cancellation is
// asynchronous; poll the session for the terminal state.
func (h *ImportsHandler) HandleCancelImport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.CancelImport(r.Context(), id); err != nil {
		writeFailure(w, Wrap("api.cancel_import", err))
		return
	}
	writeJSON(w, http.StatusAccepted, cancelResponse{ID: id, Status: "cancelling"})
}

// HandleListImports handles GET /realms/{realm}/imports?limit=N requests.
func (h *ImportsHandler) HandleListImports(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_imports"
	limit, err := parseLimit(op, r.URL.Query().Get("limit"), defaultListLimit, h.maxLimit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	sessions, err := h.deps.ImportHistory(r.Context(), r.PathValue("realm"), limit)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if sessions == nil {
		sessions = []model.ImportSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleListDates handles GET /realms/{realm}/dates requests.
func (h *ImportsHandler) HandleListDates(w http.ResponseWriter, r *http.Request) {
	realmID := r.PathValue("realm")
	dates, err := h.deps.ImportDates(r.Context(), realmID)
	if err != nil {
		writeFailure(w, Wrap("api.list_dates", err))
		return
	}
	out := datesResponse{RealmID: realmID, Dates: make([]string, len(dates))}
	for i, d := range dates {
		out.Dates[i] = d.UTC().Format(dateLayout)
	}
	writeJSON(w, http.StatusOK, out)
}
