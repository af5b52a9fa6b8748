package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/scheduler"
	"github.com/wonny/optchain/pkg/logger"
)

// ScheduleHandler serves day plans
type ScheduleHandler struct {
	planner *scheduler.Planner
	clock   func() time.Time
	logger  *logger.Logger
}

// NewScheduleHandler creates a schedule handler
func NewScheduleHandler(planner *scheduler.Planner, log *logger.Logger) *ScheduleHandler {
	return &ScheduleHandler{planner: planner, clock: time.Now, logger: log}
}

// PlanResponse is the plan of one date
type PlanResponse struct {
	TradeDate  string                 `json:"trade_date"`
	TradingDay bool                   `json:"trading_day"`
	Jobs       []scheduler.PlannedJob `json:"jobs"`
}

// Plan returns the job plan of a date
// GET /api/schedule/{date}
func (h *ScheduleHandler) Plan(w http.ResponseWriter, r *http.Request) {
	d, err := parseDate(mux.Vars(r)["date"], h.clock())
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date format (expected YYYY-MM-DD)")
		return
	}

	jobs := h.planner.PlanDay(d)
	if jobs == nil {
		jobs = []scheduler.PlannedJob{}
	}
	respondJSON(w, http.StatusOK, PlanResponse{
		TradeDate:  calendar.Format(d),
		TradingDay: len(jobs) > 0,
		Jobs:       jobs,
	})
}
