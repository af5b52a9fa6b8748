// Package selfcheck verifies the runtime environment before a trading day.
package selfcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/internal/metrics"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
)

// Check names
const (
	CheckConfig    = "config"
	CheckRawRoot   = "raw_root_writable"
	CheckCleanRoot = "clean_root_writable"
	CheckStateRoot = "state_root_writable"
	CheckCalendar  = "calendar"
	CheckGateway   = "gateway"
	CheckMetrics   = "metrics_store"
)

// Check is the outcome of one check
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Report is the persisted self-check result
type Report struct {
	Status      string    `json:"status"` // PASS, FAIL
	Checks      []Check   `json:"checks"`
	GatewayTime time.Time `json:"gateway_time,omitempty"`
	ClockSkew   string    `json:"clock_skew,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Path        string    `json:"-"`
}

// Passed reports whether every check succeeded
func (r *Report) Passed() bool {
	return r.Status == "PASS"
}

// Failed returns the names of failed checks
func (r *Report) Failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c.Name)
		}
	}
	return out
}

// Checker runs the environment checks
type Checker struct {
	cfg      *config.Config
	calendar *calendar.Calendar
	gateway  gateway.Gateway
	store    *metrics.Store
	runLogs  *storage.RunLogs
	clock    func() time.Time
	logger   *logger.Logger
}

// New creates a checker; a nil store skips the metrics check
func New(cfg *config.Config, cal *calendar.Calendar, gw gateway.Gateway, store *metrics.Store, runLogs *storage.RunLogs, log *logger.Logger) *Checker {
	return &Checker{
		cfg:      cfg,
		calendar: cal,
		gateway:  gw,
		store:    store,
		runLogs:  runLogs,
		clock:    time.Now,
		logger:   log.WithField("module", "selfcheck"),
	}
}

// WithClock overrides the clock (tests)
func (c *Checker) WithClock(clock func() time.Time) *Checker {
	c.clock = clock
	return c
}

// Run executes every check; failures are reported, never returned
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	now := c.clock()
	report := &Report{Status: "PASS", GeneratedAt: now}

	add := func(name string, err error, detail string) {
		ch := Check{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			ch.Error = err.Error()
			report.Status = "FAIL"
		}
		report.Checks = append(report.Checks, ch)
	}

	add(CheckConfig, c.cfg.Validate(), "")
	add(CheckRawRoot, writable(c.cfg.Paths.RawRoot), c.cfg.Paths.RawRoot)
	add(CheckCleanRoot, writable(c.cfg.Paths.CleanRoot), c.cfg.Paths.CleanRoot)
	add(CheckStateRoot, writable(c.cfg.Paths.StateRoot), c.cfg.Paths.StateRoot)

	today := calendar.Today(now)
	if s, ok := c.calendar.Session(today); ok {
		add(CheckCalendar, nil, fmt.Sprintf("%s trading day, %d slots, close %s ET",
			calendar.Format(today), len(s.Slots()), s.Close.Format("15:04")))
	} else {
		add(CheckCalendar, nil, calendar.Format(today)+" market closed")
	}

	if c.gateway == nil {
		add(CheckGateway, contracts.ErrGatewayUnavailable, "")
	} else {
		gwTime, err := c.gateway.CurrentTime(ctx)
		if err == nil {
			report.GatewayTime = gwTime
			report.ClockSkew = gwTime.Sub(c.clock()).Round(time.Millisecond).String()
		}
		add(CheckGateway, err, report.ClockSkew)
	}

	if c.store == nil {
		add(CheckMetrics, nil, "disabled")
	} else {
		add(CheckMetrics, c.store.Ping(ctx), c.cfg.MetricsPath())
	}

	if c.runLogs != nil {
		name := storage.Name(storage.RunKindSelfcheck, today, now.In(calendar.ET()).Format("1504"))
		path, err := c.runLogs.Write(storage.RunKindSelfcheck, name, report)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to write selfcheck run log")
		}
		report.Path = path
	}

	c.logger.WithFields(map[string]interface{}{
		"status": report.Status,
		"failed": report.Failed(),
	}).Info("Self-check completed")

	return report, nil
}

// writable creates dir if needed and round-trips a check file
func writable(dir string) error {
	if dir == "" {
		return fmt.Errorf("path not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".selfcheck-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("cleanup %s: %w", filepath.Base(name), err)
	}
	return nil
}
