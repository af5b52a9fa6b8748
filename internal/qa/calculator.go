package qa

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/metrics"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
)

// Calculator computes and persists the day-level QA report
// ⭐ SSOT: 일일 품질 판정은 여기서만
type Calculator struct {
	layout     storage.Layout
	runLogs    *storage.RunLogs
	calendar   *calendar.Calendar
	metrics    *metrics.Store
	thresholds config.QAConfig
	logger     *logger.Logger
	clock      func() time.Time
}

// New creates a QA calculator
func New(layout storage.Layout, runLogs *storage.RunLogs, cal *calendar.Calendar, store *metrics.Store, cfg *config.Config, log *logger.Logger) *Calculator {
	return &Calculator{
		layout:     layout,
		runLogs:    runLogs,
		calendar:   cal,
		metrics:    store,
		thresholds: cfg.QA,
		logger:     log.WithField("module", "qa"),
		clock:      time.Now,
	}
}

// WithClock overrides the clock
func (c *Calculator) WithClock(clock func() time.Time) *Calculator {
	c.clock = clock
	return c
}

// Run reads today's intraday and daily_clean partitions and writes qa_YYYYMMDD.json.
// A FAIL status is reported in the result, not as an error.
func (c *Calculator) Run(ctx context.Context, tradeDate time.Time, symbols []string) (*contracts.QAReport, error) {
	tradeDate = calendar.Date(tradeDate)

	expected := 0
	if session, ok := c.calendar.Session(tradeDate); ok {
		expected = len(session.Slots())
	}

	intraday, err := c.readView(storage.ViewIntraday, tradeDate)
	if err != nil {
		return nil, err
	}
	daily, err := c.readView(storage.ViewDailyClean, tradeDate)
	if err != nil {
		return nil, err
	}

	report := Compute(Input{
		TradeDate:     calendar.Format(tradeDate),
		Symbols:       symbols,
		ExpectedSlots: expected,
		Intraday:      intraday,
		Daily:         daily,
	}, c.thresholds)
	report.GeneratedAt = c.clock().UTC()

	log := c.logger.WithFields(map[string]interface{}{
		"trade_date": report.TradeDate,
		"status":     report.Status,
	})

	if _, err := c.runLogs.Write(storage.RunKindQA, storage.Name(storage.RunKindQA, tradeDate, ""), report); err != nil {
		return report, fmt.Errorf("persist qa report: %w", err)
	}
	if err := c.metrics.RecordAll(context.WithoutCancel(ctx), prefixed(report.Metrics), map[string]string{
		"trade_date": report.TradeDate,
		"status":     report.Status,
	}); err != nil {
		log.WithError(err).Warn("Failed to record qa metrics")
	}

	fields := map[string]interface{}{"breaches": report.Breaches}
	for k, v := range report.Metrics {
		fields[k] = v
	}
	if report.Passed() {
		log.WithFields(fields).Info("QA passed")
	} else {
		log.WithFields(fields).Warn("QA failed")
	}
	return report, nil
}

func (c *Calculator) readView(view storage.View, tradeDate time.Time) ([]contracts.OptionRow, error) {
	partitions, err := c.layout.ListPartitions(c.layout.CleanRoot, view, tradeDate)
	if err != nil {
		return nil, err
	}
	var rows []contracts.OptionRow
	for _, p := range partitions {
		part, err := storage.ReadFiles[contracts.OptionRow](p.Files)
		if err != nil {
			return nil, fmt.Errorf("read %s %s: %w", view, p.Underlying, err)
		}
		rows = append(rows, part...)
	}
	return rows, nil
}

func prefixed(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out["qa."+k] = v
	}
	return out
}
