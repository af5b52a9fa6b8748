package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/logger"
)

// QAHandler serves persisted QA reports
type QAHandler struct {
	runLogs *storage.RunLogs
	clock   func() time.Time
	logger  *logger.Logger
}

// NewQAHandler creates a QA handler
func NewQAHandler(runLogs *storage.RunLogs, log *logger.Logger) *QAHandler {
	return &QAHandler{runLogs: runLogs, clock: time.Now, logger: log}
}

// Latest returns the most recent QA report
// GET /api/qa/latest
func (h *QAHandler) Latest(w http.ResponseWriter, r *http.Request) {
	names, err := h.runLogs.List(storage.RunKindQA)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list qa reports")
		respondError(w, http.StatusInternalServerError, "Failed to list QA reports")
		return
	}
	if len(names) == 0 {
		respondError(w, http.StatusNotFound, "no QA report yet")
		return
	}
	h.respondReport(w, names[0])
}

// Get returns the QA report of one trade date
// GET /api/qa/{date}
func (h *QAHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := parseDate(mux.Vars(r)["date"], h.clock())
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
		return
	}
	h.respondReport(w, storage.Name(storage.RunKindQA, d, ""))
}

func (h *QAHandler) respondReport(w http.ResponseWriter, name string) {
	var report contracts.QAReport
	if err := h.runLogs.Read(storage.RunKindQA, name, &report); err != nil {
		respondError(w, http.StatusNotFound, "QA report not found")
		return
	}
	respondJSON(w, http.StatusOK, report)
}
