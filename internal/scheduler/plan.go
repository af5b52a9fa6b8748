package scheduler

import (
	"time"

	"github.com/wonny/optchain/internal/calendar"
)

// JobKind is the kind of a planned job
type JobKind string

const (
	JobSnapshot            JobKind = "snapshot"
	JobCloseSnapshotRollup JobKind = "close_snapshot_rollup"
	JobEnrichment          JobKind = "enrichment"
)

// PlannedJob is one entry of a day plan
type PlannedJob struct {
	Kind      JobKind   `json:"kind"`
	RunTime   time.Time `json:"run_time"` // ET
	TradeDate string    `json:"trade_date"`
	Slot      int       `json:"slot"`
	SlotLabel string    `json:"slot_label,omitempty"`
}

// Planner builds the job list of a trading day
// ⭐ SSOT: 하루 작업 순서는 PlanDay 에서만 결정
type Planner struct {
	calendar        *calendar.Calendar
	enrichmentDelay time.Duration
}

// NewPlanner creates a planner; enrichment runs enrichmentDelay after the close
func NewPlanner(cal *calendar.Calendar, enrichmentDelay time.Duration) *Planner {
	return &Planner{calendar: cal, enrichmentDelay: enrichmentDelay}
}

// PlanDay returns every snapshot slot (open→close), then the close snapshot + rollup, then enrichment.
// Non-trading days return nil.
func (p *Planner) PlanDay(tradeDate time.Time) []PlannedJob {
	session, ok := p.calendar.Session(tradeDate)
	if !ok {
		return nil
	}
	date := calendar.Format(session.Date)
	slots := session.Slots()

	jobs := make([]PlannedJob, 0, len(slots)+2)
	for _, s := range slots {
		jobs = append(jobs, PlannedJob{
			Kind:      JobSnapshot,
			RunTime:   s.ET,
			TradeDate: date,
			Slot:      s.Index,
			SlotLabel: s.Label,
		})
	}

	last := slots[len(slots)-1]
	jobs = append(jobs, PlannedJob{
		Kind:      JobCloseSnapshotRollup,
		RunTime:   session.Close,
		TradeDate: date,
		Slot:      last.Index,
		SlotLabel: last.Label,
	})
	jobs = append(jobs, PlannedJob{
		Kind:      JobEnrichment,
		RunTime:   session.Close.Add(p.enrichmentDelay),
		TradeDate: date,
		Slot:      last.Index,
	})
	return jobs
}
