package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/scheduler"
	"github.com/wonny/optchain/pkg/logger"
)

// DayRunner runs one trading day's plan
type DayRunner interface {
	RunDay(ctx context.Context, tradeDate time.Time) (*scheduler.DayReport, error)
}

// DailyPipelineJob plans and runs the trading day
// ⭐ SSOT: 일일 파이프라인 스케줄은 이 Job에서만
type DailyPipelineJob struct {
	runner   DayRunner
	calendar *calendar.Calendar
	planTime time.Time
	clock    func() time.Time
	logger   *logger.Logger
}

// NewDailyPipelineJob creates the job; planTime is HH:MM in ET
func NewDailyPipelineJob(runner DayRunner, cal *calendar.Calendar, planTime string, log *logger.Logger) (*DailyPipelineJob, error) {
	t, err := time.Parse("15:04", planTime)
	if err != nil {
		return nil, fmt.Errorf("parse plan time %q: %w", planTime, err)
	}
	return &DailyPipelineJob{
		runner:   runner,
		calendar: cal,
		planTime: t,
		clock:    time.Now,
		logger:   log.WithField("job", "daily_pipeline"),
	}, nil
}

// WithClock overrides the clock (tests)
func (j *DailyPipelineJob) WithClock(clock func() time.Time) *DailyPipelineJob {
	j.clock = clock
	return j
}

// Name returns the job name
func (j *DailyPipelineJob) Name() string {
	return "daily_pipeline"
}

// Schedule fires at plan_time on weekdays (ET)
func (j *DailyPipelineJob) Schedule() string {
	return fmt.Sprintf("0 %d %d * * 1-5", j.planTime.Minute(), j.planTime.Hour())
}

// Run executes today's plan; holidays are a no-op
func (j *DailyPipelineJob) Run(ctx context.Context) error {
	today := calendar.Today(j.clock())
	if !j.calendar.IsTradingDay(today) {
		j.logger.WithField("date", calendar.Format(today)).Info("Market closed, skipping")
		return nil
	}

	report, err := j.runner.RunDay(ctx, today)
	if err != nil {
		return fmt.Errorf("run day %s: %w", calendar.Format(today), err)
	}

	fields := map[string]interface{}{
		"date":   report.TradeDate,
		"failed": report.Failed(),
	}
	if report.QA != nil {
		fields["qa"] = report.QA.Status
	}
	j.logger.WithFields(fields).Info("Daily pipeline completed")
	return nil
}
