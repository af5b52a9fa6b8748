package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/corpactions"
	"github.com/wonny/optchain/internal/metrics"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
)

// Runner builds the daily_clean and daily_adjusted views from intraday samples
// ⭐ SSOT: EOD 대표값 선택은 여기서만
type Runner struct {
	layout   storage.Layout
	adjuster *corpactions.Adjuster
	runLogs  *storage.RunLogs
	calendar *calendar.Calendar
	metrics  *metrics.Store

	closeSlot     int
	fallbackSlot  int
	allowLastGood bool

	logger *logger.Logger
	clock  func() time.Time
}

// New creates a rollup runner
func New(layout storage.Layout, adjuster *corpactions.Adjuster, runLogs *storage.RunLogs, cal *calendar.Calendar, store *metrics.Store, cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{
		layout:        layout,
		adjuster:      adjuster,
		runLogs:       runLogs,
		calendar:      cal,
		metrics:       store,
		closeSlot:     cfg.CLI.RollupCloseSlot,
		fallbackSlot:  cfg.CLI.RollupFallbackSlot,
		allowLastGood: cfg.Rollup.AllowIntradayFallback,
		logger:        log.WithField("module", "rollup"),
		clock:         time.Now,
	}
}

// WithClock overrides the clock
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Run rolls up every intraday partition of tradeDate
func (r *Runner) Run(ctx context.Context, tradeDate time.Time) (*contracts.RollupResult, error) {
	tradeDate = calendar.Date(tradeDate)
	session, ok := r.calendar.Session(tradeDate)
	if !ok {
		return nil, fmt.Errorf("rollup %s: not a trading day", calendar.Format(tradeDate))
	}
	slots := ClampSlots(r.closeSlot, r.fallbackSlot, session.LastSlot())

	result := &contracts.RollupResult{
		TradeDate:      calendar.Format(tradeDate),
		IngestID:       uuid.NewString(),
		StrategyCounts: make(map[string]int),
		Errors:         []contracts.RowError{},
		StartedAt:      r.clock().UTC(),
	}
	log := r.logger.WithFields(map[string]interface{}{
		"trade_date":    result.TradeDate,
		"close_slot":    slots.Close,
		"fallback_slot": slots.Fallback,
	})

	partitions, err := r.layout.ListPartitions(r.layout.CleanRoot, storage.ViewIntraday, tradeDate)
	if err != nil {
		return nil, err
	}
	result.Partitions = len(partitions)
	codec := r.layout.CodecFor(tradeDate, calendar.Today(r.clock()))

	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rows, err := storage.ReadFiles[contracts.OptionRow](p.Files)
		if err != nil {
			log.WithError(err).WithField("underlying", p.Underlying).Error("Failed to read intraday partition")
			result.Errors = append(result.Errors, contracts.NewRowError(p.Underlying, 0, err))
			continue
		}
		result.IntradayRows += len(rows)

		sel := Select(rows, slots, r.allowLastGood)
		result.Dropped += sel.Dropped
		for k, v := range sel.StrategyCounts {
			result.StrategyCounts[k] += v
		}
		if len(sel.Rows) == 0 {
			log.WithField("underlying", p.Underlying).Warn("No contract survived rollup")
			continue
		}

		// daily_clean 은 조정 전 값만 보존
		clean := make([]contracts.OptionRow, 0, len(sel.Rows))
		for _, row := range sel.Rows {
			row.StrikeAdj, row.UnderlyingCloseAdj, row.MoneynessPctAdj = nil, nil, nil
			clean = append(clean, row)
		}
		adjusted := r.adjuster.AdjustAll(clean, tradeDate)

		cleanDir := r.layout.PartitionDir(r.layout.CleanRoot, storage.ViewDailyClean, tradeDate, p.Underlying, p.Exchange)
		cleanPath, err := storage.ReplacePartition(cleanDir, clean, codec)
		if err != nil {
			return result, fmt.Errorf("rollup %s: %w", p.Underlying, err)
		}
		adjDir := r.layout.PartitionDir(r.layout.CleanRoot, storage.ViewDailyAdjusted, tradeDate, p.Underlying, p.Exchange)
		adjPath, err := storage.ReplacePartition(adjDir, adjusted, codec)
		if err != nil {
			return result, fmt.Errorf("rollup %s: %w", p.Underlying, err)
		}

		result.CleanPaths = append(result.CleanPaths, cleanPath)
		result.AdjustedPaths = append(result.AdjustedPaths, adjPath)
		result.RowsWritten += len(clean)

		log.WithFields(map[string]interface{}{
			"underlying": p.Underlying,
			"rows":       len(clean),
			"dropped":    sel.Dropped,
		}).Debug("Partition rolled up")
	}
	result.FinishedAt = r.clock().UTC()

	if r.runLogs != nil {
		if _, err := r.runLogs.Write(storage.RunKindRollup, storage.Name(storage.RunKindRollup, tradeDate, ""), result); err != nil {
			log.WithError(err).Error("Failed to write rollup run log")
		}
	}
	values := map[string]float64{
		"rollup.rows_written": float64(result.RowsWritten),
		"rollup.dropped":      float64(result.Dropped),
	}
	for k, v := range result.StrategyCounts {
		values["rollup.strategy."+k] = float64(v)
	}
	if err := r.metrics.RecordAll(context.WithoutCancel(ctx), values, map[string]string{"trade_date": result.TradeDate}); err != nil {
		log.WithError(err).Warn("Failed to record rollup metrics")
	}

	log.WithFields(map[string]interface{}{
		"partitions": result.Partitions,
		"rows":       result.RowsWritten,
		"dropped":    result.Dropped,
		"strategies": result.StrategyCounts,
	}).Info("Rollup completed")

	if result.Partitions > 0 && result.RowsWritten == 0 && len(result.Errors) > 0 {
		return result, fmt.Errorf("rollup %s: every partition failed", result.TradeDate)
	}
	return result, nil
}
