package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/optchain/internal/api"
	"github.com/wonny/optchain/internal/api/handlers"
	"github.com/wonny/optchain/internal/backfill"
	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/internal/gateway/gatewaytest"
	"github.com/wonny/optchain/internal/scheduler"
	"github.com/wonny/optchain/internal/selfcheck"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
)

const testConfig = `
paths:
  raw_root: %[1]s/raw
  clean_root: %[1]s/clean
  state_root: %[1]s/state
  universe_file: %[1]s/universe.csv
  corporate_actions_file: %[1]s/corporate_actions.csv
filters:
  moneyness_pct: 0.2
  expiry_months_ahead: 6
rate_limits:
  discovery: {per_minute: 0, burst: 0}
  snapshot: {per_minute: 0, burst: 0, max_concurrent: 0}
  historical: {per_minute: 0, burst: 0}
snapshot:
  subscription_timeout: 60ms
  subscription_poll_interval: 5ms
enrichment:
  initial_delay: 1ms
  max_delay: 2ms
logging:
  level: ERROR
`

type env struct {
	root    string
	cfgPath string
	fake    *gatewaytest.Fake
	now     time.Time
	dialErr error
}

// newEnv writes a config, an AAPL universe and the given corporate actions
func newEnv(t *testing.T, now time.Time, corpActions string) *env {
	t.Helper()
	root := t.TempDir()

	cfgPath := filepath.Join(root, "optchain.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(testConfig, filepath.ToSlash(root))), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "universe.csv"), []byte("symbol,conid\nAAPL,\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "corporate_actions.csv"),
		[]byte("symbol,effective_date,split_ratio\n"+corpActions), 0o644))

	e := &env{root: root, cfgPath: cfgPath, fake: gatewaytest.SampleChain(), now: now}
	e.fake.Now = func() time.Time { return e.now }
	return e
}

// withOpenInterest scripts OI bars for the sample contracts on day
func (e *env) withOpenInterest(day time.Time) *env {
	for i, id := range []int64{1001, 1002, 1003} {
		e.fake.OIBars[id] = []gateway.Bar{{Date: day, Close: float64(100 * (i + 1))}}
	}
	return e
}

func (e *env) run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	o := &rootOptions{
		dial: func(ctx context.Context, cfg *config.Config, log *logger.Logger) (gateway.Gateway, io.Closer, error) {
			if e.dialErr != nil {
				return nil, nil, e.dialErr
			}
			return e.fake, nil, nil
		},
		clock: func() time.Time { return e.now },
	}

	cmd := newRootCmd(o)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.cfgPath}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), ExitCode(err)
}

func (e *env) layout(t *testing.T) storage.Layout {
	t.Helper()
	cfg, err := config.Load(e.cfgPath)
	require.NoError(t, err)
	return storage.NewLayout(cfg.Paths, cfg.Storage)
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

// 2025-10-06 16:00:05 ET
var fullDayClose = time.Date(2025, 10, 6, 20, 0, 5, 0, time.UTC)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, ExitOK},
		{"qa fail", fmt.Errorf("day: %w", contracts.ErrQAFail), ExitLogical},
		{"gateway", fmt.Errorf("dial: %w", contracts.ErrGatewayUnavailable), ExitEnvironment},
		{"timeout", contracts.ErrTimeout, ExitEnvironment},
		{"write", &storage.WriteError{Path: "x", Err: errors.New("disk full")}, ExitEnvironment},
		{"config", &config.ConfigError{Key: "ib.port", Message: "bad"}, ExitEnvironment},
		{"selfcheck", fmt.Errorf("%w: gateway", errEnvironment), ExitEnvironment},
		{"interrupted", context.Canceled, ExitEnvironment},
		{"other", errors.New("all symbols failed"), ExitLogical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestSimulateFullDayPasses(t *testing.T) {
	day, _ := calendar.Parse("2025-10-06")
	e := newEnv(t, fullDayClose, "").withOpenInterest(day)

	stdout, stderr, code := e.run(t, "schedule", "simulate", "--date", "2025-10-06")
	require.Equal(t, ExitOK, code, stderr)

	report := decode[scheduler.DayReport](t, stdout)
	assert.Equal(t, "simulate", report.Mode)
	assert.Equal(t, 16, report.Planned)
	assert.Equal(t, 14, report.Counts[scheduler.JobSnapshot].Runs)
	assert.Zero(t, report.Failed())
	require.NotNil(t, report.QA)
	assert.Equal(t, contracts.QAStatusPass, report.QA.Status)
	assert.Equal(t, 1.0, report.QA.Metrics[contracts.MetricSlotCoverage])
	assert.Equal(t, 1.0, report.QA.Metrics[contracts.MetricOIEnrichmentRatio])

	// 유니버스 conid back-fill
	universe, err := os.ReadFile(filepath.Join(e.root, "universe.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(universe), "265598")

	runLogs := storage.NewRunLogs(e.layout(t))
	names, err := runLogs.List(storage.RunKindSchedule)
	require.NoError(t, err)
	assert.Equal(t, []string{"schedule_20251006_simulate"}, names)

	// qa 재실행도 동일 결과
	stdout, stderr, code = e.run(t, "qa", "--date", "2025-10-06")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, contracts.QAStatusPass, decode[contracts.QAReport](t, stdout).Status)
}

func TestSimulateDelayedFeedFailsQA(t *testing.T) {
	day, _ := calendar.Parse("2025-10-06")
	e := newEnv(t, fullDayClose, "").withOpenInterest(day)
	e.fake.DefaultTicker.MarketDataType = gateway.MarketDataDelayed

	stdout, _, code := e.run(t, "schedule", "simulate", "--date", "2025-10-06")
	assert.Equal(t, ExitLogical, code)

	report := decode[scheduler.DayReport](t, stdout)
	require.NotNil(t, report.QA)
	assert.Equal(t, contracts.QAStatusFail, report.QA.Status)
	assert.Contains(t, report.QA.Breaches, contracts.MetricDelayedRatio)
	assert.Equal(t, 1.0, report.QA.Metrics[contracts.MetricDelayedRatio])
}

func TestScheduleEarlyClose(t *testing.T) {
	e := newEnv(t, time.Date(2025, 7, 3, 17, 5, 0, 0, time.UTC), "")

	stdout, stderr, code := e.run(t, "schedule", "plan", "--date", "2025-07-03")
	require.Equal(t, ExitOK, code, stderr)

	plan := decode[[]scheduler.PlannedJob](t, stdout)
	require.Len(t, plan, 10)

	var snapshots int
	var closeJob *scheduler.PlannedJob
	for i := range plan {
		switch plan[i].Kind {
		case scheduler.JobSnapshot:
			snapshots++
		case scheduler.JobCloseSnapshotRollup:
			closeJob = &plan[i]
		}
	}
	assert.Equal(t, 8, snapshots)
	require.NotNil(t, closeJob)
	assert.Equal(t, 7, closeJob.Slot)
	assert.Equal(t, "13:00", closeJob.RunTime.In(calendar.ET()).Format("15:04"))

	stdout, _, code = e.run(t, "schedule", "plan", "--date", "2025-07-04")
	require.Equal(t, ExitOK, code)
	assert.Empty(t, decode[[]scheduler.PlannedJob](t, stdout))
}

func TestSimulateEnrichmentGap(t *testing.T) {
	day, _ := calendar.Parse("2025-10-06")
	e := newEnv(t, fullDayClose, "").withOpenInterest(day)
	delete(e.fake.OIBars, 1003)
	e.fake.OIErrors[1003] = errors.New("no data for contract")

	stdout, _, code := e.run(t, "schedule", "simulate", "--date", "2025-10-06")
	assert.Equal(t, ExitLogical, code)

	report := decode[scheduler.DayReport](t, stdout)
	require.NotNil(t, report.QA)
	assert.InDelta(t, 2.0/3.0, report.QA.Metrics[contracts.MetricOIEnrichmentRatio], 1e-9)
	assert.Contains(t, report.QA.Breaches, contracts.MetricOIEnrichmentRatio)
	assert.NotEmpty(t, report.Counts[scheduler.JobEnrichment].Errors)
}

func TestRollupFallsBackToSlot1530(t *testing.T) {
	e := newEnv(t, fullDayClose, "")

	_, stderr, code := e.run(t, "snapshot", "--date", "2025-10-06", "--slot", "12")
	require.Equal(t, ExitOK, code, stderr)

	stdout, stderr, code := e.run(t, "rollup", "--date", "2025-10-06")
	require.Equal(t, ExitOK, code, stderr)

	result := decode[contracts.RollupResult](t, stdout)
	assert.Equal(t, 3, result.StrategyCounts[contracts.StrategySlot1530])
	assert.Zero(t, result.StrategyCounts[contracts.StrategyClose])

	// 누락 슬롯 13 개와 daily_clean 이 아직 있는 상태
	stdout, stderr, code = e.run(t, "backfill-plan", "--from", "2025-10-06", "--to", "2025-10-06")
	require.Equal(t, ExitOK, code, stderr)
	plan := decode[struct {
		Path   string         `json:"path"`
		Counts map[string]int `json:"counts"`
	}](t, stdout)
	assert.Equal(t, 13, plan.Counts[backfill.TaskIntradaySlot])
	assert.Zero(t, plan.Counts[backfill.TaskDailyClean])
	assert.Equal(t, 1, plan.Counts[backfill.TaskOpenInterest], "one task per partition")
	assert.FileExists(t, plan.Path)
}

func TestRollupAppliesSplitAdjustment(t *testing.T) {
	e := newEnv(t, time.Date(2024, 8, 1, 20, 0, 5, 0, time.UTC), "AAPL,2024-09-15,2\n")
	e.fake = gatewaytest.New()
	e.fake.Now = func() time.Time { return e.now }
	e.fake.Underlyings["AAPL"] = gatewaytest.Underlying{
		ContractID: 265598,
		Price:      180,
		Params: []gateway.OptionParams{{
			Exchange:     "SMART",
			TradingClass: "AAPL",
			Multiplier:   100,
			Expirations:  []string{"20240920"},
			Strikes:      []float64{170, 180, 190, 200},
		}},
	}
	e.fake.AddOption("AAPL", "2024-09-20", contracts.RightCall, "200", 2001)
	e.fake.DefaultTicker = gatewaytest.ReadyTicker(180)

	_, stderr, code := e.run(t, "close-snapshot", "--date", "2024-08-01", "--with-rollup")
	require.Equal(t, ExitOK, code, stderr)

	day, _ := calendar.Parse("2024-08-01")
	l := e.layout(t)
	files, err := storage.PartFiles(l.PartitionDir(l.CleanRoot, storage.ViewDailyAdjusted, day, "AAPL", "SMART"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	rows, err := storage.ReadFiles[contracts.OptionRow](files)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, 200.0, r.Strike)
	require.NotNil(t, r.StrikeAdj)
	require.NotNil(t, r.UnderlyingCloseAdj)
	assert.Equal(t, 100.0, *r.StrikeAdj)
	assert.Equal(t, 90.0, *r.UnderlyingCloseAdj)
}

func TestSelfcheckGatewayDown(t *testing.T) {
	e := newEnv(t, fullDayClose, "")
	e.dialErr = fmt.Errorf("dial ws://127.0.0.1:4002: %w", contracts.ErrGatewayUnavailable)

	stdout, _, code := e.run(t, "selfcheck")
	assert.Equal(t, ExitEnvironment, code)

	report := decode[selfcheck.Report](t, stdout)
	assert.Equal(t, "FAIL", report.Status)
	assert.Equal(t, []string{selfcheck.CheckGateway}, report.Failed())
}

func TestSelfcheckPasses(t *testing.T) {
	e := newEnv(t, fullDayClose, "")

	stdout, stderr, code := e.run(t, "selfcheck")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "PASS", decode[selfcheck.Report](t, stdout).Status)
}

func TestSnapshotGatewayDownIsEnvironmentError(t *testing.T) {
	e := newEnv(t, fullDayClose, "")
	e.dialErr = fmt.Errorf("dial: %w", contracts.ErrGatewayUnavailable)

	_, _, code := e.run(t, "snapshot", "--date", "2025-10-06", "--slot", "3")
	assert.Equal(t, ExitEnvironment, code)
}

func TestBadConfigIsEnvironmentError(t *testing.T) {
	e := newEnv(t, fullDayClose, "")
	require.NoError(t, os.WriteFile(e.cfgPath, []byte("snapshot:\n  exchnage: SMART\n"), 0o644))

	_, _, code := e.run(t, "schedule", "plan")
	assert.Equal(t, ExitEnvironment, code)
}

func TestStatusReadsServeAPI(t *testing.T) {
	day, _ := calendar.Parse("2025-10-06")
	e := newEnv(t, fullDayClose, "").withOpenInterest(day)
	_, stderr, code := e.run(t, "schedule", "simulate", "--date", "2025-10-06")
	require.Equal(t, ExitOK, code, stderr)

	log := logger.NewNop()
	runLogs := storage.NewRunLogs(e.layout(t))
	srv := httptest.NewServer(api.NewRouter(api.Handlers{
		Runs:     handlers.NewRunsHandler(runLogs, log),
		QA:       handlers.NewQAHandler(runLogs, log),
		Metrics:  handlers.NewMetricsHandler(nil, log),
		Schedule: handlers.NewScheduleHandler(scheduler.NewPlanner(calendar.New(), 90*time.Minute), log),
	}, log))
	defer srv.Close()

	stdout, stderr, code := e.run(t, "status", "--addr", srv.URL)
	require.Equal(t, ExitOK, code, stderr)

	report := decode[statusReport](t, stdout)
	assert.Equal(t, "ok", report.Health["status"])
	require.NotNil(t, report.LatestQA)
	assert.Equal(t, "2025-10-06", report.LatestQA.TradeDate)
	assert.Equal(t, []string{"schedule_20251006_simulate"}, report.Runs[storage.RunKindSchedule])
	assert.True(t, strings.HasPrefix(report.Server, "http://"))
}

func TestStatusUnreachable(t *testing.T) {
	e := newEnv(t, fullDayClose, "")
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	_, _, code := e.run(t, "status", "--addr", url)
	assert.Equal(t, ExitEnvironment, code)
}
