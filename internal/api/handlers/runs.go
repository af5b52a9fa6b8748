package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/logger"
)

var runKinds = map[string]bool{
	storage.RunKindSnapshot:   true,
	storage.RunKindRollup:     true,
	storage.RunKindEnrichment: true,
	storage.RunKindQA:         true,
	storage.RunKindSelfcheck:  true,
	storage.RunKindSchedule:   true,
	storage.RunKindCompaction: true,
}

// RunsHandler serves run logs
// ⭐ SSOT: run log 조회 API 는 여기서만
type RunsHandler struct {
	runLogs *storage.RunLogs
	logger  *logger.Logger
}

// NewRunsHandler creates a run log handler
func NewRunsHandler(runLogs *storage.RunLogs, log *logger.Logger) *RunsHandler {
	return &RunsHandler{runLogs: runLogs, logger: log}
}

// ListRunsResponse lists run log names of one kind
type ListRunsResponse struct {
	Kind  string   `json:"kind"`
	Count int      `json:"count"`
	Names []string `json:"names"`
}

// List returns run log names, newest first
// GET /api/runs/{kind}?limit=N
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	if !runKinds[kind] {
		respondError(w, http.StatusNotFound, "unknown run kind")
		return
	}

	names, err := h.runLogs.List(kind)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list run logs")
		respondError(w, http.StatusInternalServerError, "Failed to list run logs")
		return
	}
	if names == nil {
		names = []string{}
	}
	if limit := parseLimit(r.URL.Query().Get("limit")); limit > 0 && limit < len(names) {
		names = names[:limit]
	}

	respondJSON(w, http.StatusOK, ListRunsResponse{Kind: kind, Count: len(names), Names: names})
}

// Get returns one run log verbatim
// GET /api/runs/{kind}/{name}
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, name := vars["kind"], vars["name"]
	if !runKinds[kind] || strings.ContainsAny(name, `/\.`) {
		respondError(w, http.StatusNotFound, "run log not found")
		return
	}

	var raw json.RawMessage
	if err := h.runLogs.Read(kind, name, &raw); err != nil {
		respondError(w, http.StatusNotFound, "run log not found")
		return
	}
	respondJSON(w, http.StatusOK, raw)
}

func parseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
