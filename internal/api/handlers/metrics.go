package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/metrics"
	"github.com/wonny/optchain/pkg/logger"
)

// MetricsHandler serves the local metrics store
type MetricsHandler struct {
	store  *metrics.Store
	clock  func() time.Time
	logger *logger.Logger
}

// NewMetricsHandler creates a metrics handler; a nil store serves empty results
func NewMetricsHandler(store *metrics.Store, log *logger.Logger) *MetricsHandler {
	return &MetricsHandler{store: store, clock: time.Now, logger: log}
}

// Names lists recorded metric names
// GET /api/metrics
func (h *MetricsHandler) Names(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.Names(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list metrics")
		respondError(w, http.StatusInternalServerError, "Failed to list metrics")
		return
	}
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"names": names})
}

// Query returns the points of one metric
// GET /api/metrics/{name}?since=YYYY-MM-DD|RFC3339 (default: last 24h)
func (h *MetricsHandler) Query(w http.ResponseWriter, r *http.Request) {
	since := h.clock().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			if t, err = calendar.Parse(s); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid since (expected YYYY-MM-DD or RFC3339)")
				return
			}
		}
		since = t
	}

	name := mux.Vars(r)["name"]
	points, err := h.store.Query(r.Context(), name, since)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query metric")
		respondError(w, http.StatusInternalServerError, "Failed to query metric")
		return
	}
	if points == nil {
		points = []metrics.Point{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":   name,
		"since":  since,
		"points": points,
	})
}
