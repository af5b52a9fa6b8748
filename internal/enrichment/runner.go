package enrichment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/internal/metrics"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
	"github.com/wonny/optchain/pkg/ratelimit"
	"github.com/wonny/optchain/pkg/retry"
)

// FieldOpenInterest is the only enrichable field
const FieldOpenInterest = "open_interest"

// ErrNoOpenInterest means the gateway returned no usable bar
var ErrNoOpenInterest = errors.New("no open interest bars")

// Runner back-fills open interest on daily_clean rows
// ⭐ SSOT: daily_clean 파티션의 사후 보강은 여기서만
type Runner struct {
	gw      gateway.Gateway
	limiter *ratelimit.Limiter
	layout  storage.Layout
	runLogs *storage.RunLogs
	metrics *metrics.Store
	cfg     config.EnrichmentConfig
	policy  retry.Policy
	logger  *logger.Logger
	clock   func() time.Time
}

// New creates an enrichment runner
func New(gw gateway.Gateway, limiter *ratelimit.Limiter, layout storage.Layout, runLogs *storage.RunLogs, store *metrics.Store, cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{
		gw:      gateway.Serialize(gw),
		limiter: limiter,
		layout:  layout,
		runLogs: runLogs,
		metrics: store,
		cfg:     cfg.Enrichment,
		policy: retry.Policy{
			MaxAttempts:   cfg.Enrichment.MaxAttempts,
			InitialDelay:  cfg.Enrichment.InitialDelay,
			BackoffFactor: cfg.Enrichment.BackoffFactor,
			MaxDelay:      cfg.Enrichment.MaxDelay,
			Retriable:     contracts.IsRetriable,
		},
		logger: log.WithField("module", "enrichment"),
		clock:  time.Now,
	}
}

// WithClock overrides the clock
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// WithSleep overrides the retry sleep (tests)
func (r *Runner) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Runner {
	r.policy.Sleep = sleep
	return r
}

// NeedsOpenInterest: null OI, or any OI when force is set
func NeedsOpenInterest(row contracts.OptionRow, force bool) bool {
	if row.IsError() {
		return false
	}
	return row.OpenInterest == nil || force
}

// Run enriches fields on every daily_clean partition of tradeDate
func (r *Runner) Run(ctx context.Context, tradeDate time.Time, fields []string) (*contracts.EnrichmentResult, error) {
	tradeDate = calendar.Date(tradeDate)
	if len(fields) == 0 {
		fields = r.cfg.Fields
	}
	for _, f := range fields {
		if f != FieldOpenInterest {
			return nil, fmt.Errorf("enrichment: unsupported field %q", f)
		}
	}

	result := &contracts.EnrichmentResult{
		TradeDate: calendar.Format(tradeDate),
		IngestID:  uuid.NewString(),
		Fields:    fields,
		Errors:    []contracts.RowError{},
		StartedAt: r.clock().UTC(),
	}
	log := r.logger.WithFields(map[string]interface{}{
		"trade_date": result.TradeDate,
		"ingest_id":  result.IngestID,
	})

	partitions, err := r.layout.ListPartitions(r.layout.CleanRoot, storage.ViewDailyClean, tradeDate)
	if err != nil {
		return nil, err
	}
	codec := r.layout.CodecFor(tradeDate, calendar.Today(r.clock()))

	for _, p := range partitions {
		if err := r.enrichPartition(ctx, p, codec, result, log); err != nil {
			result.FinishedAt = r.clock().UTC()
			r.persist(ctx, tradeDate, result, log)
			return result, err
		}
	}
	result.FinishedAt = r.clock().UTC()
	r.persist(ctx, tradeDate, result, log)

	log.WithFields(map[string]interface{}{
		"considered": result.RowsConsidered,
		"updated":    result.RowsUpdated,
		"errors":     len(result.Errors),
	}).Info("Enrichment completed")

	// 한 행이라도 성공하면 성공
	if result.RowsConsidered > 0 && result.RowsUpdated == 0 && len(result.Errors) > 0 && len(result.Errors) >= result.RowsConsidered {
		return result, fmt.Errorf("enrichment %s: all %d rows failed: %w",
			result.TradeDate, result.RowsConsidered, result.Errors[0])
	}
	return result, nil
}

// enrichPartition updates one partition; only write failures are returned
func (r *Runner) enrichPartition(ctx context.Context, p storage.Partition, codec storage.Codec, result *contracts.EnrichmentResult, log *logger.Logger) error {
	rows, err := storage.ReadFiles[contracts.OptionRow](p.Files)
	if err != nil {
		result.Errors = append(result.Errors, contracts.NewRowError(p.Underlying, 0, err))
		return nil
	}

	var records []contracts.EnrichmentRecord
	for i := range rows {
		row := &rows[i]
		if !NeedsOpenInterest(*row, r.cfg.ForceOverwrite) {
			continue
		}
		result.RowsConsidered++

		oi, barDate, err := r.fetchOpenInterest(ctx, *row)
		if err != nil {
			log.WithError(err).WithFields(map[string]interface{}{
				"symbol":      row.Underlying,
				"contract_id": row.ContractID,
			}).Warn("Open interest fetch failed")
			result.Errors = append(result.Errors, contracts.NewRowError(row.Underlying, row.ContractID, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		old := row.OpenInterest
		if old != nil && *old == oi {
			// 값 변화 없음
			continue
		}

		records = append(records, contracts.EnrichmentRecord{
			TradeDate:       row.TradeDate,
			Underlying:      row.Underlying,
			ContractID:      row.ContractID,
			FieldsUpdated:   []string{FieldOpenInterest},
			OldOpenInterest: old,
			NewOpenInterest: oi,
			SourceTradeDate: barDate,
			IngestRunType:   contracts.RunTypeEnrichment,
			IngestID:        result.IngestID,
			AsofTS:          r.clock().UTC(),
		})
		applyOpenInterest(row, oi)
		result.RowsUpdated++
	}

	if len(records) == 0 {
		return nil
	}

	path, err := storage.ReplacePartition(p.Dir, rows, codec)
	if err != nil {
		return fmt.Errorf("enrichment %s: %w", p.Underlying, err)
	}
	result.Paths = append(result.Paths, path)

	auditDir := r.layout.PartitionDir(r.layout.CleanRoot, storage.ViewEnrichment, p.Key().Date, p.Underlying, p.Exchange)
	idx, err := storage.NextPartIndex(auditDir)
	if err != nil {
		return err
	}
	auditPath := r.layout.PartitionPath(r.layout.CleanRoot, storage.ViewEnrichment, p.Key().Date, p.Underlying, p.Exchange, idx)
	if err := storage.WriteFile(auditPath, records, codec); err != nil {
		return fmt.Errorf("enrichment records %s: %w", p.Underlying, err)
	}
	result.Paths = append(result.Paths, auditPath)
	return nil
}

// applyOpenInterest merges a fetched value and updates the flags
func applyOpenInterest(row *contracts.OptionRow, oi int64) {
	if row.OpenInterest != nil {
		row.AddFlag(contracts.FlagOIOverwritten)
	}
	row.OpenInterest = contracts.Int64(oi)
	row.RemoveFlag(contracts.FlagMissingOI)
	row.AddFlag(contracts.FlagOIEnriched)
	row.IngestRunType = contracts.RunTypeEnrichment
}

// fetchOpenInterest reads the most recent OPTION_OPEN_INTEREST bar under the historical limit
func (r *Runner) fetchOpenInterest(ctx context.Context, row contracts.OptionRow) (int64, string, error) {
	c, err := contractOf(row)
	if err != nil {
		return 0, "", err
	}

	var bars []gateway.Bar
	op := fmt.Sprintf("open interest %d", row.ContractID)
	err = retry.Do(ctx, r.policy, r.logger, op, func(ctx context.Context) error {
		if err := r.limiter.Wait(ctx, ratelimit.ClassHistorical); err != nil {
			return err
		}
		var ferr error
		bars, ferr = r.gw.HistoricalBars(ctx, gateway.BarRequest{
			Contract:   c,
			WhatToShow: gateway.ShowOpenInterest,
			Duration:   r.cfg.OIDuration,
			BarSize:    "1 day",
			UseRTH:     r.cfg.OIUseRTH,
		})
		return ferr
	})
	if err != nil {
		return 0, "", err
	}

	if len(bars) == 0 {
		return 0, "", fmt.Errorf("%s: %w", op, ErrNoOpenInterest)
	}
	latest := bars[0]
	for _, b := range bars[1:] {
		if !b.Date.Before(latest.Date) {
			latest = b
		}
	}
	if latest.Close < 0 || math.IsNaN(latest.Close) {
		return 0, "", fmt.Errorf("%s: negative value %v: %w", op, latest.Close, ErrNoOpenInterest)
	}

	source := ""
	if !latest.Date.IsZero() {
		source = calendar.Format(latest.Date)
	}
	return int64(math.Round(latest.Close)), source, nil
}

// contractOf rebuilds the option contract of a daily row
func contractOf(row contracts.OptionRow) (contracts.OptionContract, error) {
	expiry, err := calendar.Parse(row.Expiry)
	if err != nil {
		return contracts.OptionContract{}, err
	}
	return contracts.OptionContract{
		Symbol:       row.Underlying,
		ContractID:   row.ContractID,
		SecType:      contracts.SecTypeOption,
		Expiry:       expiry,
		Right:        contracts.Right(row.Right),
		Strike:       decimal.NewFromFloat(row.Strike),
		Multiplier:   int(row.Multiplier),
		Exchange:     row.Exchange,
		TradingClass: row.TradingClass,
		Currency:     row.Currency,
	}, nil
}

func (r *Runner) persist(ctx context.Context, tradeDate time.Time, result *contracts.EnrichmentResult, log *logger.Logger) {
	if r.runLogs != nil {
		if _, err := r.runLogs.Write(storage.RunKindEnrichment, storage.Name(storage.RunKindEnrichment, tradeDate, ""), result); err != nil {
			log.WithError(err).Error("Failed to write enrichment run log")
		}
	}
	err := r.metrics.RecordAll(context.WithoutCancel(ctx), map[string]float64{
		"enrichment.rows_considered": float64(result.RowsConsidered),
		"enrichment.rows_updated":    float64(result.RowsUpdated),
		"enrichment.errors":          float64(len(result.Errors)),
	}, map[string]string{"trade_date": result.TradeDate})
	if err != nil {
		log.WithError(err).Warn("Failed to record enrichment metrics")
	}
}
