package server

import (
	"net/http"

	"github.com/desertthunder/kvx/internal/metrics"
)

// MetricsHandler serves the prometheus exposition endpoint.
type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler creates a handler for m's registry.
func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{handler: m.Handler()}
}

// Routes returns the HTTP routes this handler serves.
func (h *MetricsHandler) Routes() []string {
	return []string{"GET /metrics"}
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}
