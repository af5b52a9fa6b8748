package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/cleaning"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/corpactions"
	"github.com/wonny/optchain/internal/discovery"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/internal/metrics"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
	"github.com/wonny/optchain/pkg/ratelimit"
)

// Runner samples one slot for a set of underlyings
// ⭐ SSOT: 장중 스냅샷 수집은 이 Runner 에서만
type Runner struct {
	gw         gateway.Gateway
	discoverer *discovery.Discoverer
	limiter    *ratelimit.Limiter
	cleaner    *cleaning.Pipeline
	adjuster   *corpactions.Adjuster
	writer     *storage.Writer
	runLogs    *storage.RunLogs
	calendar   *calendar.Calendar
	metrics    *metrics.Store

	cfg            config.SnapshotConfig
	marketDataType int
	maxConcurrent  int

	logger *logger.Logger
	clock  func() time.Time
}

// Deps bundles the collaborators of a Runner
type Deps struct {
	Gateway    gateway.Gateway
	Discoverer *discovery.Discoverer
	Limiter    *ratelimit.Limiter
	Cleaner    *cleaning.Pipeline
	Adjuster   *corpactions.Adjuster
	Writer     *storage.Writer
	RunLogs    *storage.RunLogs
	Calendar   *calendar.Calendar
	Metrics    *metrics.Store
}

// New creates a snapshot runner; the gateway is serialized
func New(deps Deps, cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{
		gw:             gateway.Serialize(deps.Gateway),
		discoverer:     deps.Discoverer,
		limiter:        deps.Limiter,
		cleaner:        deps.Cleaner,
		adjuster:       deps.Adjuster,
		writer:         deps.Writer,
		runLogs:        deps.RunLogs,
		calendar:       deps.Calendar,
		metrics:        deps.Metrics,
		cfg:            cfg.Snapshot,
		marketDataType: cfg.IB.MarketDataType,
		maxConcurrent:  cfg.SnapshotMaxConcurrent(),
		logger:         log.WithField("module", "snapshot"),
		clock:          time.Now,
	}
}

// WithClock overrides the clock used for asof_ts and codec selection
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// symbolWork is the per-underlying state of one run
type symbolWork struct {
	symbol    string
	refPrice  float64
	contracts []contracts.OptionContract
	rows      []contracts.OptionRow
}

// Run samples every contract of symbols at slot and writes raw + clean intraday files
func (r *Runner) Run(ctx context.Context, tradeDate time.Time, slot int, symbols []string, runType string) (*contracts.SnapshotResult, error) {
	tradeDate = calendar.Date(tradeDate)
	session, ok := r.calendar.Session(tradeDate)
	if !ok {
		return nil, fmt.Errorf("snapshot %s: not a trading day", calendar.Format(tradeDate))
	}
	slots := session.Slots()
	if slot < 0 || slot >= len(slots) {
		return nil, fmt.Errorf("snapshot %s: slot %d outside session [0, %d]", calendar.Format(tradeDate), slot, len(slots)-1)
	}
	if runType == "" {
		runType = contracts.RunTypeIntraday
	}
	anchor := slots[slot]

	result := &contracts.SnapshotResult{
		TradeDate:             calendar.Format(tradeDate),
		Slot:                  slot,
		SlotLabel:             anchor.Label,
		RunType:               runType,
		IngestID:              uuid.NewString(),
		Symbols:               len(symbols),
		Errors:                []contracts.RowError{},
		UnderlyingContractIDs: make(map[string]int64),
		StartedAt:             r.clock().UTC(),
	}
	log := r.logger.WithFields(map[string]interface{}{
		"trade_date": result.TradeDate,
		"slot":       anchor.Label,
		"run_type":   runType,
		"ingest_id":  result.IngestID,
	})
	log.WithField("symbols", len(symbols)).Info("Starting snapshot")

	if err := r.gw.SetMarketDataType(ctx, r.marketDataType); err != nil {
		return nil, fmt.Errorf("set market data type: %w", err)
	}

	// 1. 심볼별 계약 확정 (캐시 선행)
	var work []*symbolWork
	var symbolErrs []error
	for _, sym := range symbols {
		w, err := r.prepare(ctx, sym, tradeDate, result)
		if err != nil {
			log.WithError(err).WithField("symbol", sym).Warn("Symbol skipped")
			result.Errors = append(result.Errors, contracts.NewRowError(sym, 0, err))
			symbolErrs = append(symbolErrs, err)
			continue
		}
		work = append(work, w)
		result.Contracts += len(w.contracts)
	}

	// 2. 계약별 구독 (rate limit + max_concurrent)
	rowErrs := r.sampleAll(ctx, work, tradeDate, anchor, result, log)
	result.Errors = append(result.Errors, rowErrs...)

	// 3. 쓰기
	writeErr := r.write(tradeDate, slot, work, result)
	result.FinishedAt = r.clock().UTC()

	r.persist(ctx, tradeDate, anchor, result, log)

	if writeErr != nil {
		return result, writeErr
	}
	if len(symbols) > 0 && len(work) == 0 {
		return result, fmt.Errorf("snapshot %s %s: every symbol failed: %w",
			result.TradeDate, anchor.Label, errors.Join(symbolErrs...))
	}

	log.WithFields(map[string]interface{}{
		"contracts": result.Contracts,
		"rows":      result.RowsWritten,
		"timed_out": result.TimedOut,
		"errors":    len(result.Errors),
	}).Info("Snapshot completed")
	return result, nil
}

// prepare resolves the reference price and contract set of one symbol
func (r *Runner) prepare(ctx context.Context, symbol string, tradeDate time.Time, result *contracts.SnapshotResult) (*symbolWork, error) {
	if err := r.limiter.Wait(ctx, ratelimit.ClassDiscovery); err != nil {
		return nil, err
	}
	underlying, err := r.gw.Qualify(ctx, contracts.Underlying(symbol))
	if err != nil {
		return nil, fmt.Errorf("qualify %s: %w", symbol, err)
	}
	if underlying.ContractID != 0 {
		result.UnderlyingContractIDs[symbol] = underlying.ContractID
	}

	ref, err := r.referencePrice(ctx, underlying)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// 캐시된 계약 세트의 기준가로 대체
		cached, ok := r.discoverer.CachedReferencePrice(symbol, tradeDate)
		if !ok {
			return nil, err
		}
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"symbol":          symbol,
			"reference_price": cached,
		}).Warn("Using cached reference price")
		ref = cached
	}

	list, err := r.discoverer.Discover(ctx, symbol, tradeDate, ref)
	if err != nil {
		return nil, err
	}
	return &symbolWork{symbol: symbol, refPrice: ref, contracts: list}, nil
}

// referencePrice takes the close of the latest daily TRADES bar
func (r *Runner) referencePrice(ctx context.Context, underlying contracts.OptionContract) (float64, error) {
	if err := r.limiter.Wait(ctx, ratelimit.ClassHistorical); err != nil {
		return 0, err
	}
	bars, err := r.gw.HistoricalBars(ctx, gateway.BarRequest{
		Contract:   underlying,
		WhatToShow: gateway.ShowTrades,
		Duration:   "5 D",
		BarSize:    "1 day",
		UseRTH:     true,
	})
	if err != nil {
		return 0, fmt.Errorf("reference price %s: %w", underlying.Symbol, err)
	}
	price, ok := gateway.LatestClose(bars)
	if !ok || price <= 0 {
		return 0, fmt.Errorf("reference price %s: no bars: %w", underlying.Symbol, contracts.ErrDiscoveryFailed)
	}
	return price, nil
}

// sampleAll runs one task per contract and collects rows into work
func (r *Runner) sampleAll(ctx context.Context, work []*symbolWork, tradeDate time.Time, anchor calendar.Slot, result *contracts.SnapshotResult, log *logger.Logger) []contracts.RowError {
	var (
		mu     sync.Mutex
		errs   []contracts.RowError
		g      errgroup.Group
		sem    = semaphore.NewWeighted(int64(max(r.maxConcurrent, 1)))
		stamps = rowStamp{
			tradeDate: tradeDate,
			anchor:    anchor,
			ingestID:  result.IngestID,
			runType:   result.RunType,
		}
	)

	for _, w := range work {
		for _, c := range w.contracts {
			w, c := w, c
			g.Go(func() error {
				if err := sem.Acquire(ctx, 1); err != nil {
					// 슬롯 취소: 수집 전 계약은 건너뜀
					mu.Lock()
					errs = append(errs, contracts.NewRowError(w.symbol, c.ContractID, err))
					mu.Unlock()
					return nil
				}
				defer sem.Release(1)

				row, rowErr := r.sample(ctx, c, w.refPrice, stamps, log)
				mu.Lock()
				defer mu.Unlock()
				if row != nil {
					w.rows = append(w.rows, *row)
					if row.HasFlag(contracts.FlagSnapshotTimedOut) {
						result.TimedOut++
					}
				}
				if rowErr != nil {
					errs = append(errs, *rowErr)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, w := range work {
		sort.Slice(w.rows, func(i, j int) bool { return w.rows[i].ContractID < w.rows[j].ContractID })
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].ContractID < errs[j].ContractID })
	return errs
}

// rowStamp carries the run-level columns of every row
type rowStamp struct {
	tradeDate time.Time
	anchor    calendar.Slot
	ingestID  string
	runType   string
}

// sample subscribes to one contract (with exchange fallback) and builds its row
func (r *Runner) sample(ctx context.Context, c contracts.OptionContract, refPrice float64, st rowStamp, log *logger.Logger) (*contracts.OptionRow, *contracts.RowError) {
	clog := log.WithFields(map[string]interface{}{
		"symbol":      c.Symbol,
		"contract_id": c.ContractID,
	})

	var lastErr error
	for _, ex := range r.exchanges() {
		target := c
		target.Exchange = ex

		if err := r.limiter.Wait(ctx, ratelimit.ClassSnapshot); err != nil {
			rowErr := contracts.NewRowError(c.Symbol, c.ContractID, err)
			return nil, &rowErr
		}

		var (
			ticker gateway.Ticker
			ready  bool
		)
		err := gateway.WithSubscription(ctx, r.gw, target, r.cfg.GenericTicks, clog, func(sub gateway.Subscription) error {
			ticker, ready = r.await(ctx, sub)
			return nil
		})
		if err == nil {
			row := r.buildRow(target, ticker, refPrice, st)
			if !ready {
				row.AddFlag(contracts.FlagSnapshotTimedOut)
				clog.WithField("exchange", ex).Debug("Subscription timed out, keeping partial row")
			}
			return &row, nil
		}

		lastErr = err
		if errors.Is(err, contracts.ErrNoBook) {
			clog.WithField("exchange", ex).Debug("No book, trying next exchange")
			continue
		}
		break
	}

	row := r.errorRow(c, refPrice, st, lastErr)
	clog.WithError(lastErr).Warn("Contract sample failed")
	rowErr := contracts.NewRowError(c.Symbol, c.ContractID, lastErr)
	return &row, &rowErr
}

// exchanges returns the configured exchange followed by the fallbacks, deduplicated
func (r *Runner) exchanges() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ex := range append([]string{r.cfg.Exchange}, r.cfg.FallbackExchanges...) {
		ex = strings.ToUpper(strings.TrimSpace(ex))
		if ex == "" || seen[ex] {
			continue
		}
		seen[ex] = true
		out = append(out, ex)
	}
	return out
}

// await polls the subscription until ready, timeout or cancellation
func (r *Runner) await(ctx context.Context, sub gateway.Subscription) (gateway.Ticker, bool) {
	timeout := time.NewTimer(r.cfg.SubscriptionTimeout)
	defer timeout.Stop()
	poll := time.NewTicker(r.cfg.SubscriptionPollInterval)
	defer poll.Stop()

	for {
		t := sub.Snapshot()
		if t.Ready(r.cfg.RequireGreeks) {
			return t, true
		}
		select {
		case <-ctx.Done():
			return sub.Snapshot(), false
		case <-timeout.C:
			return sub.Snapshot(), false
		case <-poll.C:
		}
	}
}

func (r *Runner) baseRow(c contracts.OptionContract, refPrice float64, st rowStamp) contracts.OptionRow {
	row := contracts.OptionRow{
		TradeDate:      calendar.Format(st.tradeDate),
		Underlying:     c.Symbol,
		ContractID:     c.ContractID,
		Expiry:         c.ExpiryString(),
		Right:          string(c.Right),
		Strike:         c.Strike.InexactFloat64(),
		Multiplier:     int32(c.Multiplier),
		Exchange:       c.Exchange,
		TradingClass:   c.TradingClass,
		Currency:       c.Currency,
		MarketDataType: int32(r.marketDataType),
		AsofTS:         r.clock().UTC(),
		SampleTime:     st.anchor.UTC,
		SampleTimeET:   st.anchor.ET.Format(time.RFC3339),
		Slot30m:        contracts.Int32(int32(st.anchor.Index)),
		IngestID:       st.ingestID,
		IngestRunType:  st.runType,
	}
	if refPrice > 0 {
		row.UnderlyingClose = contracts.Float(refPrice)
	}
	return row
}

func (r *Runner) buildRow(c contracts.OptionContract, t gateway.Ticker, refPrice float64, st rowStamp) contracts.OptionRow {
	row := r.baseRow(c, refPrice, st)
	row.Bid, row.Ask, row.Last, row.Volume = t.Bid, t.Ask, t.Last, t.Volume
	row.IV, row.Delta, row.Gamma, row.Theta, row.Vega = t.IV, t.Delta, t.Gamma, t.Theta, t.Vega
	if row.Last == nil {
		row.Last = t.Close
	}
	if t.UnderlyingPrice != nil && *t.UnderlyingPrice > 0 {
		row.UnderlyingClose = contracts.Float(*t.UnderlyingPrice)
	}
	if t.MarketDataType != 0 {
		row.MarketDataType = int32(t.MarketDataType)
	}
	if cleaning.IsDelayed(int(row.MarketDataType)) {
		row.AddFlag(contracts.FlagDelayedFallback)
	}
	return row.Clone()
}

// errorRow records a failed contract; no-book rows count as timed out
func (r *Runner) errorRow(c contracts.OptionContract, refPrice float64, st rowStamp, err error) contracts.OptionRow {
	row := r.baseRow(c, refPrice, st)
	kind := contracts.ErrorKind(err)
	switch kind {
	case contracts.ErrorTypeSubscriptionFailed:
	case contracts.ErrorTypeNoBook:
		row.AddFlag(contracts.FlagSnapshotTimedOut)
	default:
		kind = contracts.ErrorTypeFetchError
	}
	row.ErrorType = contracts.String(kind)
	if err != nil {
		row.ErrorMessage = contracts.String(err.Error())
	}
	return row
}

// write stores raw and cleaned rows as part-<slot> of each underlying's intraday partition
func (r *Runner) write(tradeDate time.Time, slot int, work []*symbolWork, result *contracts.SnapshotResult) error {
	layout := r.writer.Layout()
	codec := layout.CodecFor(tradeDate, calendar.Today(r.clock()))

	for _, w := range work {
		if len(w.rows) == 0 {
			continue
		}
		key := storage.PartitionKey{Date: tradeDate, Underlying: w.symbol, Exchange: r.cfg.Exchange}

		rawPath, err := r.writer.WritePart(layout.RawRoot, storage.ViewIntraday, key, slot, w.rows, codec)
		if err != nil {
			return fmt.Errorf("write raw %s: %w", w.symbol, err)
		}
		result.RawPaths = append(result.RawPaths, rawPath)

		cleaned, violations := r.cleaner.Clean(w.rows)
		cleaned = r.adjuster.AdjustAll(cleaned, tradeDate)
		result.Violations = append(result.Violations, violations...)

		cleanPath, err := r.writer.WritePart(layout.CleanRoot, storage.ViewIntraday, key, slot, cleaned, codec)
		if err != nil {
			return fmt.Errorf("write clean %s: %w", w.symbol, err)
		}
		result.CleanPaths = append(result.CleanPaths, cleanPath)
		result.RowsWritten += len(cleaned)
	}
	return nil
}

// persist writes the run log and metrics; failures here are logged, not returned
func (r *Runner) persist(ctx context.Context, tradeDate time.Time, anchor calendar.Slot, result *contracts.SnapshotResult, log *logger.Logger) {
	if r.runLogs != nil {
		name := storage.Name(storage.RunKindSnapshot, tradeDate, anchor.Label)
		if result.RunType == contracts.RunTypeClose {
			name = storage.Name(storage.RunKindSnapshot, tradeDate, "close_"+anchor.Label)
		}
		if _, err := r.runLogs.Write(storage.RunKindSnapshot, name, result); err != nil {
			log.WithError(err).Error("Failed to write snapshot run log")
		}
	}

	labels := map[string]string{
		"trade_date": result.TradeDate,
		"slot":       strconv.Itoa(result.Slot),
		"run_type":   result.RunType,
	}
	err := r.metrics.RecordAll(context.WithoutCancel(ctx), map[string]float64{
		"snapshot.rows_written": float64(result.RowsWritten),
		"snapshot.errors":       float64(len(result.Errors)),
		"snapshot.timed_out":    float64(result.TimedOut),
	}, labels)
	if err != nil {
		log.WithError(err).Warn("Failed to record snapshot metrics")
	}
}
