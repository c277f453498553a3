// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"time"

	"github.com/okian/realmhist/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider reports runtime statistics of the service.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// HealthHandler serves the operational endpoints: liveness, Prometheus
// metrics and service statistics.
type HealthHandler struct {
	started time.Time
	stats   StatsProvider
}

// NewHealthHandler creates a health handler. stats may be nil, in which
// case /stats answers 503.
func NewHealthHandler(stats StatsProvider) *HealthHandler {
	return &HealthHandler{started: time.Now(), stats: stats}
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// HandleHealth handles GET /healthz requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleStats handles GET /stats requests.
func (h *HealthHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", ErrUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.stats.GetStats())
}

// MetricsHandler serves the custom Prometheus registry.
func (h *HealthHandler) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
