// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	service "github.com/okian/realmhist/internal/app"
	"github.com/okian/realmhist/internal/domain/ranking"
)

const defaultRankingLimit = 100

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	Rankings(ctx context.Context, realmID string, at *time.Time, limit int) (service.Rankings, error)
	PlayerRank(ctx context.Context, realmID, playerID string, at *time.Time) (ranking.Entry, error)
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps     RankDependencies
	maxLimit int
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies, maxLimit int) *RankHandler {
	return &RankHandler{deps: deps, maxLimit: maxLimit}
}

// HandleGetRankings handles GET /realms/{realm}/rankings?date=&limit= requests.
func (h *RankHandler) HandleGetRankings(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rankings"
	q := r.URL.Query()
	limit, err := parseLimit(op, q.Get("limit"), min(defaultRankingLimit, h.maxLimit), h.maxLimit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	at, err := parseDate(op, q.Get("date"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	out, err := h.deps.Rankings(r.Context(), r.PathValue("realm"), at, limit)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if out.Players == nil {
		out.Players = []ranking.Entry{}
	}
	if out.Alliances == nil {
		out.Alliances = []ranking.Entry{}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetPlayerRank handles GET /realms/{realm}/players/{id}/rank?date= requests.
func (h *RankHandler) HandleGetPlayerRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	at, err := parseDate(op, r.URL.Query().Get("date"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	entry, err := h.deps.PlayerRank(r.Context(), r.PathValue("realm"), r.PathValue("id"), at)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
