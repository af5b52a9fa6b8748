package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/cleaning"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/corpactions"
	"github.com/wonny/optchain/internal/discovery"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/internal/gateway/gatewaytest"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
	"github.com/wonny/optchain/pkg/ratelimit"
)

var tradeDate = time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC)

type harness struct {
	cfg    *config.Config
	fake   *gatewaytest.Fake
	layout storage.Layout
	runner *Runner
}

func newHarness(t *testing.T, mutate func(cfg *config.Config, fake *gatewaytest.Fake)) *harness {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Paths.RawRoot = filepath.Join(root, "raw")
	cfg.Paths.CleanRoot = filepath.Join(root, "clean")
	cfg.Paths.StateRoot = filepath.Join(root, "state")
	cfg.RateLimits = config.RateLimitsConfig{}
	cfg.Snapshot.SubscriptionTimeout = 60 * time.Millisecond
	cfg.Snapshot.SubscriptionPollInterval = 5 * time.Millisecond
	cfg.Snapshot.FallbackExchanges = []string{"CBOE"}

	fake := gatewaytest.SampleChain()
	if mutate != nil {
		mutate(cfg, fake)
	}

	log := logger.NewNop()
	clock := func() time.Time { return time.Date(2025, 10, 6, 20, 0, 5, 0, time.UTC) }
	layout := storage.NewLayout(cfg.Paths, cfg.Storage)
	limiter := ratelimit.New(cfg.RateLimits, nil)
	disc := discovery.New(fake, limiter, discovery.NewCache(layout.ContractsCacheDir()), cfg, log).WithClock(clock)

	runner := New(Deps{
		Gateway:    fake,
		Discoverer: disc,
		Limiter:    limiter,
		Cleaner:    cleaning.New(log),
		Adjuster:   corpactions.New(nil),
		Writer:     storage.NewWriter(layout),
		RunLogs:    storage.NewRunLogs(layout),
		Calendar:   calendar.New(),
	}, cfg, log).WithClock(clock)

	return &harness{cfg: cfg, fake: fake, layout: layout, runner: runner}
}

func (h *harness) cleanRows(t *testing.T, slot int) []contracts.OptionRow {
	t.Helper()
	path := h.layout.PartitionPath(h.layout.CleanRoot, storage.ViewIntraday, tradeDate, "AAPL", "SMART", slot)
	rows, err := storage.ReadFile[contracts.OptionRow](path)
	require.NoError(t, err)
	return rows
}

func byContract(rows []contracts.OptionRow) map[int64]contracts.OptionRow {
	out := make(map[int64]contracts.OptionRow, len(rows))
	for _, r := range rows {
		out[r.ContractID] = r
	}
	return out
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.runner.Run(context.Background(), tradeDate, 13, []string{"AAPL"}, contracts.RunTypeIntraday)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Contracts)
	assert.Equal(t, 3, res.RowsWritten)
	assert.Equal(t, 0, res.TimedOut)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "16:00", res.SlotLabel)
	assert.Equal(t, int64(265598), res.UnderlyingContractIDs["AAPL"])
	require.Len(t, res.RawPaths, 1)
	require.Len(t, res.CleanPaths, 1)
	assert.Equal(t, "part-013.parquet", filepath.Base(res.CleanPaths[0]))
	assert.FileExists(t, res.RawPaths[0])

	rows := h.cleanRows(t, 13)
	require.Len(t, rows, 3)
	for _, r := range rows {
		require.NotNil(t, r.Mid)
		assert.InDelta(t, 2.1, *r.Mid, 1e-9)
		require.NotNil(t, r.Slot30m)
		assert.Equal(t, int32(13), *r.Slot30m)
		assert.Equal(t, res.IngestID, r.IngestID)
		assert.Equal(t, contracts.RunTypeIntraday, r.IngestRunType)
		assert.Equal(t, []string{string(contracts.FlagMissingOI)}, r.DataQualityFlag)
		require.NotNil(t, r.MoneynessPct)
	}
	assert.Equal(t, 0, h.fake.Active(), "every subscription is cancelled")

	var logged contracts.SnapshotResult
	require.NoError(t, storage.NewRunLogs(h.layout).Read(storage.RunKindSnapshot, "snapshot_20251006_1600", &logged))
	assert.Equal(t, res.IngestID, logged.IngestID)
}

func TestRunTimeoutKeepsRow(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, fake *gatewaytest.Fake) {
		tk := gatewaytest.ReadyTicker(155)
		tk.Vega = nil
		fake.Tickers[1002] = tk
	})

	res, err := h.runner.Run(context.Background(), tradeDate, 3, []string{"AAPL"}, contracts.RunTypeIntraday)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TimedOut)

	rows := byContract(h.cleanRows(t, 3))
	require.Len(t, rows, 3)
	assert.True(t, rows[1002].HasFlag(contracts.FlagSnapshotTimedOut))
	assert.True(t, rows[1002].HasFlag(contracts.FlagMissingGreeks))
	assert.NotNil(t, rows[1002].Bid, "partial data is kept")
	assert.False(t, rows[1001].HasFlag(contracts.FlagSnapshotTimedOut))
}

func TestRunRefusedSubscriptionWritesErrorRow(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, fake *gatewaytest.Fake) {
		fake.Refuse[1003] = true
	})

	res, err := h.runner.Run(context.Background(), tradeDate, 0, []string{"AAPL"}, contracts.RunTypeIntraday)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, contracts.ErrorTypeSubscriptionFailed, res.Errors[0].Kind)

	rows := byContract(h.cleanRows(t, 0))
	require.Contains(t, rows, int64(1003))
	require.NotNil(t, rows[1003].ErrorType)
	assert.Equal(t, contracts.ErrorTypeSubscriptionFailed, *rows[1003].ErrorType)
	assert.Nil(t, rows[1003].Bid)
	assert.Nil(t, rows[1001].ErrorType)
	assert.Equal(t, 0, h.fake.Active())
}

func TestRunExchangeFallback(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, fake *gatewaytest.Fake) {
		fake.NoBook["1001|SMART"] = true
	})

	_, err := h.runner.Run(context.Background(), tradeDate, 5, []string{"AAPL"}, contracts.RunTypeIntraday)
	require.NoError(t, err)

	assert.Equal(t, []string{"SMART", "CBOE"}, h.fake.Exchanges(1001))
	assert.Equal(t, []string{"SMART"}, h.fake.Exchanges(1002))

	rows := byContract(h.cleanRows(t, 5))
	assert.Equal(t, "CBOE", rows[1001].Exchange)
	assert.Nil(t, rows[1001].ErrorType)
}

func TestRunNoBookAnywhere(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, fake *gatewaytest.Fake) {
		fake.NoBook["1002|SMART"] = true
		fake.NoBook["1002|CBOE"] = true
	})

	res, err := h.runner.Run(context.Background(), tradeDate, 5, []string{"AAPL"}, contracts.RunTypeIntraday)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TimedOut)

	rows := byContract(h.cleanRows(t, 5))
	require.NotNil(t, rows[1002].ErrorType)
	assert.Equal(t, contracts.ErrorTypeNoBook, *rows[1002].ErrorType)
	assert.True(t, rows[1002].HasFlag(contracts.FlagSnapshotTimedOut))
}

func TestRunDelayedFeed(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, fake *gatewaytest.Fake) {
		cfg.IB.MarketDataType = gateway.MarketDataDelayed
	})

	_, err := h.runner.Run(context.Background(), tradeDate, 7, []string{"AAPL"}, contracts.RunTypeIntraday)
	require.NoError(t, err)
	assert.Equal(t, gateway.MarketDataDelayed, h.fake.MarketDataTypeSet)

	for _, r := range h.cleanRows(t, 7) {
		assert.Equal(t, int32(3), r.MarketDataType)
		assert.True(t, r.HasFlag(contracts.FlagDelayedFallback))
	}
}

func TestRunRejectsNonTradingDayAndBadSlot(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.runner.Run(context.Background(), time.Date(2025, 10, 4, 0, 0, 0, 0, time.UTC), 0, []string{"AAPL"}, "")
	assert.Error(t, err)

	_, err = h.runner.Run(context.Background(), tradeDate, 14, []string{"AAPL"}, "")
	assert.Error(t, err)
}

func TestRunGatewayDown(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, fake *gatewaytest.Fake) {
		fake.Down = true
	})

	_, err := h.runner.Run(context.Background(), tradeDate, 0, []string{"AAPL"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrGatewayUnavailable))
}

func TestRunUnknownSymbolDoesNotAbortOthers(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.runner.Run(context.Background(), tradeDate, 2, []string{"ZZZZ", "AAPL"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsWritten)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "ZZZZ", res.Errors[0].Symbol)

	_, err = h.runner.Run(context.Background(), tradeDate, 3, []string{"ZZZZ"}, "")
	assert.Error(t, err, "every symbol failed")
}

func TestRunFallsBackToCachedReferencePrice(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.runner.Run(context.Background(), tradeDate, 2, []string{"AAPL"}, "")
	require.NoError(t, err)

	h.fake.TradesErr = errors.New("historical data farm down")
	res, err := h.runner.Run(context.Background(), tradeDate, 3, []string{"AAPL"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsWritten)
	assert.Empty(t, res.Errors)

	for _, r := range h.cleanRows(t, 3) {
		require.NotNil(t, r.UnderlyingClose)
		assert.InDelta(t, 155.0, *r.UnderlyingClose, 1e-9)
	}
}

func TestRunColdCacheNeedsReferencePrice(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, fake *gatewaytest.Fake) {
		fake.TradesErr = errors.New("historical data farm down")
	})

	_, err := h.runner.Run(context.Background(), tradeDate, 2, []string{"AAPL"}, "")
	assert.Error(t, err)
}

func TestResolveSlot(t *testing.T) {
	cal := calendar.New()
	session, ok := cal.Session(tradeDate)
	require.True(t, ok)
	et := calendar.ET()

	idx, err := ResolveSlot(session, time.Date(2025, 10, 6, 9, 31, 0, 0, et), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = ResolveSlot(session, time.Date(2025, 10, 6, 15, 58, 30, 0, et), 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 13, idx)

	idx, err = ResolveSlot(session, time.Date(2025, 10, 6, 18, 0, 0, 0, et), 0)
	require.NoError(t, err)
	assert.Equal(t, 13, idx)

	_, err = ResolveSlot(session, time.Date(2025, 10, 6, 8, 0, 0, 0, et), time.Minute)
	assert.Error(t, err)
}
