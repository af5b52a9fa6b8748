package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/cleaning"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/corpactions"
	"github.com/wonny/optchain/internal/discovery"
	"github.com/wonny/optchain/internal/enrichment"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/internal/gateway/wsbridge"
	"github.com/wonny/optchain/internal/metrics"
	"github.com/wonny/optchain/internal/qa"
	"github.com/wonny/optchain/internal/rollup"
	"github.com/wonny/optchain/internal/scheduler"
	"github.com/wonny/optchain/internal/snapshot"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/internal/universe"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
	"github.com/wonny/optchain/pkg/ratelimit"
)

// dialFunc opens a gateway session; the closer ends it
type dialFunc func(ctx context.Context, cfg *config.Config, log *logger.Logger) (gateway.Gateway, io.Closer, error)

func dialBridge(ctx context.Context, cfg *config.Config, log *logger.Logger) (gateway.Gateway, io.Closer, error) {
	c, err := wsbridge.Dial(ctx, wsbridge.ConfigFrom(cfg.IB), log)
	if err != nil {
		return nil, nil, err
	}
	return c, c, nil
}

// app holds the wired components shared by every command
// ⭐ SSOT: 컴포넌트 조립은 여기서만
type app struct {
	opts     *rootOptions
	cfg      *config.Config
	log      *logger.Logger
	calendar *calendar.Calendar
	layout   storage.Layout
	writer   *storage.Writer
	runLogs  *storage.RunLogs
	limiter  *ratelimit.Limiter
	metrics  *metrics.Store
	adjuster *corpactions.Adjuster
	out      io.Writer

	gw      gateway.Gateway
	closers []io.Closer
}

func newApp(cmd *cobra.Command, o *rootOptions) (*app, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.verbose {
		cfg.Logging.Level = "DEBUG"
	}

	a := &app{
		opts:     o,
		cfg:      cfg,
		log:      logger.New(cfg),
		calendar: calendar.New(),
		layout:   storage.NewLayout(cfg.Paths, cfg.Storage),
		limiter:  ratelimit.New(cfg.RateLimits, nil),
		out:      cmd.OutOrStdout(),
	}
	a.writer = storage.NewWriter(a.layout)
	a.runLogs = storage.NewRunLogs(a.layout)

	a.adjuster, err = corpactions.Load(cfg.Paths.CorporateActionsFile)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		store, err := metrics.Open(cfg.MetricsPath())
		if err != nil {
			// 메트릭 저장소는 부가 기능: 경고 후 계속
			a.log.WithError(err).Warn("Metrics store unavailable, continuing without metrics")
		} else {
			a.metrics = store
			a.closers = append(a.closers, store)
		}
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func (a *app) now() time.Time {
	return a.opts.clock()
}

// gateway dials once per process and serializes the session
func (a *app) gateway(ctx context.Context) (gateway.Gateway, error) {
	if a.gw != nil {
		return a.gw, nil
	}
	gw, closer, err := a.opts.dial(ctx, a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.gw = gateway.Serialize(gw)
	return a.gw, nil
}

// symbols returns the --symbols override or the universe file
func (a *app) symbols(override []string) ([]string, error) {
	if len(override) > 0 {
		out := make([]string, 0, len(override))
		for _, s := range override {
			if s = universe.NormalizeSymbol(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	u, err := universe.Load(a.cfg.Paths.UniverseFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	if len(u.Entries) == 0 {
		return nil, &config.ConfigError{Key: "paths.universe_file", Message: "universe is empty"}
	}
	return u.Symbols(), nil
}

// backfillUniverse writes resolved underlying conids back to the universe file
func (a *app) backfillUniverse(resolved map[string]int64) {
	if len(resolved) == 0 {
		return
	}
	changed, err := universe.Backfill(a.cfg.Paths.UniverseFile, resolved)
	if err != nil {
		a.log.WithError(err).Debug("Universe back-fill skipped")
		return
	}
	if changed > 0 {
		a.log.WithField("changed", changed).Info("Universe conids back-filled")
	}
}

// tradeDate parses --date; empty means today (ET)
func (a *app) tradeDate(s string) (time.Time, error) {
	if s == "" || strings.EqualFold(s, "today") {
		return calendar.Today(a.now()), nil
	}
	d, err := calendar.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return d, nil
}

func (a *app) snapshotRunner(gw gateway.Gateway) *snapshot.Runner {
	disc := discovery.New(gw, a.limiter, discovery.NewCache(a.layout.ContractsCacheDir()), a.cfg, a.log).
		WithClock(a.now)
	return snapshot.New(snapshot.Deps{
		Gateway:    gw,
		Discoverer: disc,
		Limiter:    a.limiter,
		Cleaner:    cleaning.New(a.log),
		Adjuster:   a.adjuster,
		Writer:     a.writer,
		RunLogs:    a.runLogs,
		Calendar:   a.calendar,
		Metrics:    a.metrics,
	}, a.cfg, a.log).WithClock(a.now)
}

func (a *app) rollupRunner() *rollup.Runner {
	return rollup.New(a.layout, a.adjuster, a.runLogs, a.calendar, a.metrics, a.cfg, a.log).WithClock(a.now)
}

func (a *app) enrichmentRunner(gw gateway.Gateway) *enrichment.Runner {
	return enrichment.New(gw, a.limiter, a.layout, a.runLogs, a.metrics, a.cfg, a.log).WithClock(a.now)
}

func (a *app) qaCalculator() *qa.Calculator {
	return qa.New(a.layout, a.runLogs, a.calendar, a.metrics, a.cfg, a.log).WithClock(a.now)
}

func (a *app) planner() *scheduler.Planner {
	return scheduler.NewPlanner(a.calendar, a.cfg.Scheduler.EnrichmentDelay)
}

// snapshotStage back-fills the universe after every snapshot run
type snapshotStage struct {
	app    *app
	runner *snapshot.Runner
}

func (s snapshotStage) Run(ctx context.Context, tradeDate time.Time, slot int, symbols []string, runType string) (*contracts.SnapshotResult, error) {
	res, err := s.runner.Run(ctx, tradeDate, slot, symbols, runType)
	if res != nil {
		s.app.backfillUniverse(res.UnderlyingContractIDs)
	}
	return res, err
}

var _ contracts.SnapshotStage = snapshotStage{}

func (a *app) executor(gw gateway.Gateway, symbols []string) *scheduler.Executor {
	runners := scheduler.Runners{
		Snapshot:   snapshotStage{app: a, runner: a.snapshotRunner(gw)},
		Rollup:     a.rollupRunner(),
		Enrichment: a.enrichmentRunner(gw),
		QA:         a.qaCalculator(),
	}
	return scheduler.NewExecutor(a.planner(), runners, a.runLogs, symbols, a.cfg.Enrichment.Fields, a.log).
		WithClock(a.now)
}
