// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/realmhist/internal/adapters/repository"
	service "github.com/okian/realmhist/internal/app"
	"github.com/okian/realmhist/internal/domain/ingest"
	"github.com/okian/realmhist/internal/domain/ranking"
)

const (
	defaultListLimit = 20
	defaultMaxLimit  = 1000
	dateLayout       = "2006-01-02"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ImportDependencies
	WorldDependencies
	RankDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	importsHandler *ImportsHandler
	worldHandler   *WorldHandler
	rankHandler    *RankHandler
}

// NewServer creates a new API server with all handlers. maxLimit caps list
// and ranking sizes; zero selects the default.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	if maxLimit < 1 {
		maxLimit = defaultMaxLimit
	}
	return &Server{
		healthHandler:  NewHealthHandler(statsProvider),
		importsHandler: NewImportsHandler(deps, maxLimit),
		worldHandler:   NewWorldHandler(deps),
		rankHandler:    NewRankHandler(deps, maxLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.healthHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /realms", MetricsMiddleware(s.worldHandler.HandleListRealms, "realms"))
	mux.HandleFunc("POST /realms", MetricsMiddleware(s.worldHandler.HandleCreateRealm, "realms"))

	mux.HandleFunc("POST /realms/{realm}/imports", MetricsMiddleware(s.importsHandler.HandlePostImport, "imports"))
	mux.HandleFunc("GET /realms/{realm}/imports", MetricsMiddleware(s.importsHandler.HandleListImports, "imports"))
	mux.HandleFunc("GET /realms/{realm}/dates", MetricsMiddleware(s.importsHandler.HandleListDates, "dates"))
	mux.HandleFunc("GET /imports/{id}", MetricsMiddleware(s.importsHandler.HandleGetImport, "import"))
	mux.HandleFunc("DELETE /imports/{id}", MetricsMiddleware(s.importsHandler.HandleCancelImport, "import"))

	mux.HandleFunc("GET /realms/{realm}/tiles", MetricsMiddleware(s.worldHandler.HandleGetTiles, "tiles"))
	mux.HandleFunc("GET /realms/{realm}/players", MetricsMiddleware(s.worldHandler.HandleGetPlayers, "players"))
	mux.HandleFunc("GET /realms/{realm}/alliances", MetricsMiddleware(s.worldHandler.HandleGetAlliances, "alliances"))
	mux.HandleFunc("GET /realms/{realm}/history/{kind}/{key}", MetricsMiddleware(s.worldHandler.HandleGetHistory, "history"))

	mux.HandleFunc("GET /realms/{realm}/rankings", MetricsMiddleware(s.rankHandler.HandleGetRankings, "rankings"))
	mux.HandleFunc("GET /realms/{realm}/players/{id}/rank", MetricsMiddleware(s.rankHandler.HandleGetPlayerRank, "rank"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps upstream errors to a status and code.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrRealmNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, ranking.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ingest.ErrImportInProgress):
		return http.StatusConflict, "import_in_progress"
	case errors.Is(err, ingest.ErrNotTracked):
		return http.StatusConflict, "not_running"
	case errors.Is(err, repository.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, service.ErrSnapshotTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, service.ErrEmptySnapshot),
		errors.Is(err, service.ErrMalformedSnapshot),
		errors.Is(err, ranking.ErrInvalidLimit),
		errors.Is(err, repository.ErrInvalidLimit),
		errors.Is(err, repository.ErrInvalidKind),
		errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// parseDate reads an optional point in time. Plain dates mean midnight UTC.
func parseDate(op, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, WrapKind(op, ErrBadRequest, errors.New("invalid date; use YYYY-MM-DD or RFC3339"))
	}
	t = t.UTC()
	return &t, nil
}

// parseLimit reads an optional positive limit no larger than maxLimit.
func parseLimit(op, raw string, def, maxLimit int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, WrapKind(op, ErrBadRequest, errors.New("limit must be a positive integer"))
	}
	if n > maxLimit {
		return 0, WrapKind(op, ErrBadRequest, errors.New("limit exceeds "+strconv.Itoa(maxLimit)))
	}
	return n, nil
}
