package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/realmhist/internal/domain/model"
)

// WorldDependencies defines the interface for realm and point-in-time reads.
type WorldDependencies interface {
	Realms(ctx context.Context) ([]model.Realm, error)
	CreateRealm(ctx context.Context, id, name string) (model.Realm, error)
	// A nil at selects the current state.
	Tiles(ctx context.Context, realmID string, at *time.Time) ([]model.Tile, error)
	Players(ctx context.Context, realmID string, at *time.Time) ([]model.Player, error)
	Alliances(ctx context.Context, realmID string, at *time.Time) ([]model.Alliance, error)
	History(ctx context.Context, realmID string, kind model.Kind, key string) (any, error)
}

// WorldHandler handles realm and world state requests.
type WorldHandler struct {
	deps WorldDependencies
}

// NewWorldHandler creates a new world handler.
func NewWorldHandler(deps WorldDependencies) *WorldHandler {
	return &WorldHandler{deps: deps}
}

type realmRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HandleListRealms handles GET /realms requests.
func (h *WorldHandler) HandleListRealms(w http.ResponseWriter, r *http.Request) {
	realms, err := h.deps.Realms(r.Context())
	if err != nil {
		writeFailure(w, Wrap("api.list_realms", err))
		return
	}
	if realms == nil {
		realms = []model.Realm{}
	}
	writeJSON(w, http.StatusOK, realms)
}

// HandleCreateRealm handles POST /realms requests.
func (h *WorldHandler) HandleCreateRealm(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_realm"
	var req realmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || strings.ContainsAny(req.ID, "/ ") {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("invalid realm id")))
		return
	}
	realm, err := h.deps.CreateRealm(r.Context(), req.ID, strings.TrimSpace(req.Name))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, realm)
}

// HandleGetTiles handles GET /realms/{realm}/tiles?date= requests.
func (h *WorldHandler) HandleGetTiles(w http.ResponseWriter, r *http.Request) {
	serveWorld(w, r, "api.get_tiles", h.deps.Tiles)
}

// HandleGetPlayers handles GET /realms/{realm}/players?date= requests.
func (h *WorldHandler) HandleGetPlayers(w http.ResponseWriter, r *http.Request) {
	serveWorld(w, r, "api.get_players", h.deps.Players)
}

// HandleGetAlliances handles GET /realms/{realm}/alliances?date= requests.
func (h *WorldHandler) HandleGetAlliances(w http.ResponseWriter, r *http.Request) {
	serveWorld(w, r, "api.get_alliances", h.deps.Alliances)
}

// HandleGetHistory handles GET /realms/{realm}/history/{kind}/{key} requests.
func (h *WorldHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	kind := model.Kind(r.PathValue("kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("kind must be tile, player or alliance")))
		return
	}
	versions, err := h.deps.History(r.Context(), r.PathValue("realm"), kind, r.PathValue("key"))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func serveWorld[T any](w http.ResponseWriter, r *http.Request, op string, read func(context.Context, string, *time.Time) ([]T, error)) {
	at, err := parseDate(op, r.URL.Query().Get("date"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	items, err := read(r.Context(), r.PathValue("realm"), at)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}
