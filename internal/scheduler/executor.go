package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/logger"
)

// Runners are the pipeline stages a day plan invokes
type Runners struct {
	Snapshot   contracts.SnapshotStage
	Rollup     contracts.RollupStage
	Enrichment contracts.EnrichmentStage
	QA         contracts.QAStage // nil 이면 QA 생략
}

// JobOutcome records one executed (or skipped) job
type JobOutcome struct {
	Kind     JobKind   `json:"kind"`
	RunTime  time.Time `json:"run_time"`
	Slot     int       `json:"slot"`
	Success  bool      `json:"success"`
	Skipped  bool      `json:"skipped,omitempty"`
	Rows     int       `json:"rows"`
	Errors   []string  `json:"errors,omitempty"`
	Duration string    `json:"duration"`
}

// KindSummary aggregates outcomes per job kind
type KindSummary struct {
	Runs    int      `json:"runs"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Rows    int      `json:"rows"`
	Errors  []string `json:"errors"`
}

// DayReport is the run log of one scheduled day
type DayReport struct {
	TradeDate  string                   `json:"trade_date"`
	Mode       string                   `json:"mode"` // simulate, live
	Planned    int                      `json:"planned"`
	Jobs       []JobOutcome             `json:"jobs"`
	Counts     map[JobKind]*KindSummary `json:"counts"`
	QA         *contracts.QAReport      `json:"qa,omitempty"`
	QAError    string                   `json:"qa_error,omitempty"`
	Cancelled  bool                     `json:"cancelled,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
}

// Failed returns the number of failed jobs
func (r *DayReport) Failed() int {
	n := 0
	for _, c := range r.Counts {
		n += c.Failed
	}
	return n
}

const (
	modeSimulate = "simulate"
	modeLive     = "live"
)

// Executor runs a day plan against the pipeline stages, one job at a time
type Executor struct {
	planner *Planner
	runners Runners
	runLogs *storage.RunLogs
	symbols []string
	fields  []string
	clock   func() time.Time
	wait    func(ctx context.Context, until time.Time) error
	logger  *logger.Logger
}

// NewExecutor creates an executor over the given universe symbols and enrichment fields
func NewExecutor(planner *Planner, runners Runners, runLogs *storage.RunLogs, symbols, fields []string, log *logger.Logger) *Executor {
	e := &Executor{
		planner: planner,
		runners: runners,
		runLogs: runLogs,
		symbols: symbols,
		fields:  fields,
		clock:   time.Now,
		logger:  log.WithField("module", "scheduler"),
	}
	e.wait = e.sleepUntil
	return e
}

// WithClock overrides the clock (tests)
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// WithWait overrides how the live mode waits for a job's run time (tests)
func (e *Executor) WithWait(wait func(ctx context.Context, until time.Time) error) *Executor {
	e.wait = wait
	return e
}

// RunSimulation runs every planned job immediately, in plan order
func (e *Executor) RunSimulation(ctx context.Context, tradeDate time.Time) (*DayReport, error) {
	return e.run(ctx, tradeDate, modeSimulate)
}

// RunDay runs the plan live: each job waits for its run time.
// Snapshot slots already past by more than one slot interval are skipped.
func (e *Executor) RunDay(ctx context.Context, tradeDate time.Time) (*DayReport, error) {
	return e.run(ctx, tradeDate, modeLive)
}

func (e *Executor) run(ctx context.Context, tradeDate time.Time, mode string) (*DayReport, error) {
	plan := e.planner.PlanDay(tradeDate)
	report := &DayReport{
		TradeDate: calendar.Format(tradeDate),
		Mode:      mode,
		Planned:   len(plan),
		Counts:    make(map[JobKind]*KindSummary),
		StartedAt: e.clock(),
	}
	for _, k := range []JobKind{JobSnapshot, JobCloseSnapshotRollup, JobEnrichment} {
		report.Counts[k] = &KindSummary{Errors: []string{}}
	}

	log := e.logger.WithFields(map[string]interface{}{
		"trade_date": report.TradeDate,
		"mode":       mode,
		"jobs":       len(plan),
	})
	if len(plan) == 0 {
		log.Info("Not a trading day, nothing scheduled")
		report.FinishedAt = e.clock()
		e.persist(tradeDate, report)
		return report, nil
	}
	log.Info("Day plan started")

	var runErr error
	for _, job := range plan {
		if mode == modeLive {
			if job.Kind == JobSnapshot && e.clock().Sub(job.RunTime) > calendar.SlotInterval {
				e.record(report, JobOutcome{Kind: job.Kind, RunTime: job.RunTime, Slot: job.Slot, Skipped: true})
				continue
			}
			if err := e.wait(ctx, job.RunTime); err != nil {
				runErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		e.record(report, e.execute(ctx, tradeDate, job))
	}

	if runErr != nil {
		report.Cancelled = true
		log.WithError(runErr).Warn("Day plan cancelled")
	} else if e.runners.QA != nil {
		// QA 는 모든 작업 이후 한 번
		qaReport, err := e.runners.QA.Run(ctx, tradeDate, e.symbols)
		if err != nil {
			report.QAError = err.Error()
		}
		report.QA = qaReport
	}

	report.FinishedAt = e.clock()
	e.persist(tradeDate, report)

	log.WithFields(map[string]interface{}{
		"failed":    report.Failed(),
		"cancelled": report.Cancelled,
	}).Info("Day plan finished")

	return report, runErr
}

func (e *Executor) execute(ctx context.Context, tradeDate time.Time, job PlannedJob) JobOutcome {
	started := e.clock()
	out := JobOutcome{Kind: job.Kind, RunTime: job.RunTime, Slot: job.Slot}

	var (
		errs    []error
		rowErrs []contracts.RowError
	)
	switch job.Kind {
	case JobSnapshot:
		res, err := e.runners.Snapshot.Run(ctx, tradeDate, job.Slot, e.symbols, contracts.RunTypeIntraday)
		if res != nil {
			out.Rows = res.RowsWritten
			rowErrs = append(rowErrs, res.Errors...)
		}
		errs = append(errs, err)

	case JobCloseSnapshotRollup:
		// close snapshot 실패와 무관하게 rollup 은 수행
		res, err := e.runners.Snapshot.Run(ctx, tradeDate, job.Slot, e.symbols, contracts.RunTypeClose)
		if res != nil {
			out.Rows = res.RowsWritten
			rowErrs = append(rowErrs, res.Errors...)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("close snapshot: %w", err))
		}
		rolled, err := e.runners.Rollup.Run(ctx, tradeDate)
		if rolled != nil {
			out.Rows += rolled.RowsWritten
			rowErrs = append(rowErrs, rolled.Errors...)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("rollup: %w", err))
		}

	case JobEnrichment:
		res, err := e.runners.Enrichment.Run(ctx, tradeDate, e.fields)
		if res != nil {
			out.Rows = res.RowsUpdated
			rowErrs = append(rowErrs, res.Errors...)
		}
		errs = append(errs, err)

	default:
		errs = append(errs, fmt.Errorf("unknown job kind %q", job.Kind))
	}

	if err := errors.Join(errs...); err != nil {
		out.Errors = append(out.Errors, err.Error())
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"kind": job.Kind,
			"slot": job.Slot,
		}).Warn("Scheduled job failed")
	} else {
		out.Success = true
	}
	// 작업이 성공해도 행 단위 오류는 보고서에 남김
	for _, re := range rowErrs {
		out.Errors = append(out.Errors, re.Error())
	}
	out.Duration = e.clock().Sub(started).String()
	return out
}

func (e *Executor) record(report *DayReport, out JobOutcome) {
	report.Jobs = append(report.Jobs, out)
	sum := report.Counts[out.Kind]
	if sum == nil {
		sum = &KindSummary{Errors: []string{}}
		report.Counts[out.Kind] = sum
	}
	switch {
	case out.Skipped:
		sum.Skipped++
	case out.Success:
		sum.Runs++
	default:
		sum.Runs++
		sum.Failed++
	}
	sum.Errors = append(sum.Errors, out.Errors...)
	sum.Rows += out.Rows
}

func (e *Executor) persist(tradeDate time.Time, report *DayReport) {
	if e.runLogs == nil {
		return
	}
	suffix := ""
	if report.Mode == modeSimulate {
		suffix = modeSimulate
	}
	if _, err := e.runLogs.Write(storage.RunKindSchedule, storage.Name(storage.RunKindSchedule, tradeDate, suffix), report); err != nil {
		e.logger.WithError(err).Warn("Failed to write schedule run log")
	}
}

func (e *Executor) sleepUntil(ctx context.Context, until time.Time) error {
	d := until.Sub(e.clock())
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
