package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrConfig is the sentinel wrapped by every ConfigError
var ErrConfig = errors.New("config error")

// ConfigError 설정 검증 실패 (로드 시점에 중단)
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// Unwrap lets errors.Is(err, ErrConfig) match
func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

var (
	validCodecs      = map[string]bool{"snappy": true, "zstd": true, "none": true}
	validExpiryTypes = map[string]bool{"monthly": true, "quarterly": true}
	validLogLevels   = map[string]bool{"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true}
	validFields      = map[string]bool{"open_interest": true}
	validWeekdays    = map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
		"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	}
)

// Validate checks all constraints and reports the first offending key
func (c *Config) Validate() error {
	// === ib ===
	if c.IB.Host == "" {
		return &ConfigError{"ib.host", "required"}
	}
	if c.IB.Port <= 0 || c.IB.Port > 65535 {
		return &ConfigError{"ib.port", fmt.Sprintf("must be in [1, 65535], got %d", c.IB.Port)}
	}
	if c.IB.ClientID < 0 {
		return &ConfigError{"ib.client_id", "must be >= 0"}
	}
	if c.IB.MarketDataType < 1 || c.IB.MarketDataType > 4 {
		return &ConfigError{"ib.market_data_type", fmt.Sprintf("must be one of 1,2,3,4, got %d", c.IB.MarketDataType)}
	}

	// === paths ===
	if c.Paths.RawRoot == "" {
		return &ConfigError{"paths.raw_root", "required"}
	}
	if c.Paths.CleanRoot == "" {
		return &ConfigError{"paths.clean_root", "required"}
	}
	if c.Paths.StateRoot == "" {
		return &ConfigError{"paths.state_root", "required"}
	}

	// === filters ===
	if c.Filters.MoneynessPct <= 0 || c.Filters.MoneynessPct > 1 {
		return &ConfigError{"filters.moneyness_pct", fmt.Sprintf("must be in (0, 1], got %v", c.Filters.MoneynessPct)}
	}
	if len(c.Filters.ExpiryTypes) == 0 {
		return &ConfigError{"filters.expiry_types", "must not be empty"}
	}
	for _, t := range c.Filters.ExpiryTypes {
		if !validExpiryTypes[t] {
			return &ConfigError{"filters.expiry_types", fmt.Sprintf("unknown expiry type %q (valid: monthly, quarterly)", t)}
		}
	}
	if c.Filters.ExpiryMonthsAhead < 1 {
		return &ConfigError{"filters.expiry_months_ahead", "must be >= 1"}
	}

	if c.Discovery.RefreshDays < 1 {
		return &ConfigError{"discovery.refresh_days", "must be >= 1"}
	}

	// === rate_limits ===
	classes := map[string]RateLimitClass{
		"discovery":  c.RateLimits.Discovery,
		"snapshot":   c.RateLimits.Snapshot,
		"historical": c.RateLimits.Historical,
	}
	for name, rl := range classes {
		if rl.PerMinute < 0 {
			return &ConfigError{"rate_limits." + name + ".per_minute", "must be >= 0"}
		}
		if rl.Burst < 0 {
			return &ConfigError{"rate_limits." + name + ".burst", "must be >= 0"}
		}
		if rl.MaxConcurrent < 0 {
			return &ConfigError{"rate_limits." + name + ".max_concurrent", "must be >= 0"}
		}
	}

	// === storage ===
	if c.Storage.HotDays < 0 {
		return &ConfigError{"storage.hot_days", "must be >= 0"}
	}
	if !validCodecs[strings.ToLower(c.Storage.HotCodec)] {
		return &ConfigError{"storage.hot_codec", fmt.Sprintf("unknown codec %q", c.Storage.HotCodec)}
	}
	if !validCodecs[strings.ToLower(c.Storage.ColdCodec)] {
		return &ConfigError{"storage.cold_codec", fmt.Sprintf("unknown codec %q", c.Storage.ColdCodec)}
	}
	if c.Storage.ColdCodecLevel < 1 || c.Storage.ColdCodecLevel > 22 {
		return &ConfigError{"storage.cold_codec_level", "must be in [1, 22]"}
	}

	// === snapshot ===
	if c.Snapshot.Exchange == "" {
		return &ConfigError{"snapshot.exchange", "required"}
	}
	if c.Snapshot.StrikesPerSide < 1 {
		return &ConfigError{"snapshot.strikes_per_side", "must be >= 1"}
	}
	if c.Snapshot.SubscriptionTimeout <= 0 {
		return &ConfigError{"snapshot.subscription_timeout", "must be > 0"}
	}
	if c.Snapshot.SubscriptionPollInterval <= 0 || c.Snapshot.SubscriptionPollInterval > c.Snapshot.SubscriptionTimeout {
		return &ConfigError{"snapshot.subscription_poll_interval", "must be in (0, subscription_timeout]"}
	}
	if c.Snapshot.MaxConcurrent < 1 {
		return &ConfigError{"snapshot.max_concurrent", "must be >= 1"}
	}

	// === cli ===
	if c.CLI.RollupCloseSlot < 0 || c.CLI.RollupCloseSlot > 13 {
		return &ConfigError{"cli.rollup_close_slot", "must be in [0, 13]"}
	}
	if c.CLI.RollupFallbackSlot < 0 || c.CLI.RollupFallbackSlot >= c.CLI.RollupCloseSlot {
		return &ConfigError{"cli.rollup_fallback_slot", "must be in [0, rollup_close_slot)"}
	}
	if c.CLI.SnapshotGraceSeconds < 0 {
		return &ConfigError{"cli.snapshot_grace_seconds", "must be >= 0"}
	}

	// === enrichment ===
	for _, f := range c.Enrichment.Fields {
		if !validFields[f] {
			return &ConfigError{"enrichment.fields", fmt.Sprintf("unsupported field %q", f)}
		}
	}
	if c.Enrichment.OIDuration == "" {
		return &ConfigError{"enrichment.oi_duration", "required"}
	}
	if c.Enrichment.MaxAttempts < 1 {
		return &ConfigError{"enrichment.max_attempts", "must be >= 1"}
	}
	if c.Enrichment.BackoffFactor < 1 {
		return &ConfigError{"enrichment.backoff_factor", "must be >= 1"}
	}
	if c.Enrichment.MaxDelay < c.Enrichment.InitialDelay {
		return &ConfigError{"enrichment.max_delay", "must be >= initial_delay"}
	}

	// === qa ===
	thresholds := []struct {
		key   string
		value float64
	}{
		{"qa.slot_coverage_threshold", c.QA.SlotCoverageThreshold},
		{"qa.delayed_ratio_threshold", c.QA.DelayedRatioThreshold},
		{"qa.rollup_fallback_threshold", c.QA.RollupFallbackThreshold},
		{"qa.oi_enrichment_threshold", c.QA.OIEnrichmentThreshold},
	}
	for _, th := range thresholds {
		if err := validatePctRange(th.value, th.key); err != nil {
			return err
		}
	}

	// === compaction ===
	if c.Compaction.MinFileSizeMB < 0 {
		return &ConfigError{"compaction.min_file_size_mb", "must be >= 0"}
	}
	if c.Compaction.MaxFileSizeMB < c.Compaction.MinFileSizeMB {
		return &ConfigError{"compaction.max_file_size_mb", "must be >= min_file_size_mb"}
	}
	if c.Compaction.Schedule != "" {
		if _, err := cron.ParseStandard(c.Compaction.Schedule); err != nil {
			return &ConfigError{"compaction.schedule", err.Error()}
		}
	} else if c.Compaction.Enabled {
		if _, ok := validWeekdays[strings.ToLower(c.Compaction.Weekday)]; !ok {
			return &ConfigError{"compaction.weekday", fmt.Sprintf("unknown weekday %q", c.Compaction.Weekday)}
		}
		if err := validateHHMM(c.Compaction.StartTime); err != nil {
			return &ConfigError{"compaction.start_time", err.Error()}
		}
	}

	// === scheduler ===
	if err := validateHHMM(c.Scheduler.PlanTime); err != nil {
		return &ConfigError{"scheduler.plan_time", err.Error()}
	}
	if c.Scheduler.EnrichmentDelay < 0 {
		return &ConfigError{"scheduler.enrichment_delay", "must be >= 0"}
	}

	// === logging ===
	if !validLogLevels[strings.ToUpper(c.Logging.Level)] {
		return &ConfigError{"logging.level", fmt.Sprintf("must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL, got %q", c.Logging.Level)}
	}

	return nil
}

// CompactionSpec returns the cron expression for compaction
// schedule 우선, 없으면 weekday + start_time 으로 생성
func (c *Config) CompactionSpec() string {
	if c.Compaction.Schedule != "" {
		return c.Compaction.Schedule
	}
	t, err := time.Parse("15:04", c.Compaction.StartTime)
	if err != nil {
		return ""
	}
	wd := validWeekdays[strings.ToLower(c.Compaction.Weekday)]
	return fmt.Sprintf("%d %d * * %d", t.Minute(), t.Hour(), int(wd))
}

// SnapshotMaxConcurrent returns the effective in-flight cap for snapshots
func (c *Config) SnapshotMaxConcurrent() int {
	if c.RateLimits.Snapshot.MaxConcurrent > 0 {
		return c.RateLimits.Snapshot.MaxConcurrent
	}
	return c.Snapshot.MaxConcurrent
}

func validateHHMM(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("must be HH:MM, got %q", s)
	}
	return nil
}

func validatePctRange(v float64, key string) error {
	if v < 0 || v > 1 {
		return &ConfigError{key, fmt.Sprintf("must be in [0, 1], got %v", v)}
	}
	return nil
}
