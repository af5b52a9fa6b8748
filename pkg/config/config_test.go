package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "optchain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "SMART", cfg.Snapshot.Exchange)
	assert.Equal(t, 13, cfg.CLI.RollupCloseSlot)
	assert.Equal(t, 12, cfg.CLI.RollupFallbackSlot)
	assert.Equal(t, "snappy", cfg.Storage.HotCodec)
	assert.Equal(t, "zstd", cfg.Storage.ColdCodec)
	assert.Equal(t, []string{"open_interest"}, cfg.Enrichment.Fields)
	assert.Equal(t, filepath.Join("state", "metrics.db"), cfg.MetricsPath())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
ib:
  host: gw.internal
  port: 4001
  market_data_type: 3
snapshot:
  exchange: SMART
  subscription_timeout: 20s
  subscription_poll_interval: 500ms
qa:
  delayed_ratio_threshold: 0.25
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gw.internal", cfg.IB.Host)
	assert.Equal(t, 4001, cfg.IB.Port)
	assert.Equal(t, 3, cfg.IB.MarketDataType)
	assert.Equal(t, 20*time.Second, cfg.Snapshot.SubscriptionTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Snapshot.SubscriptionPollInterval)
	assert.Equal(t, 0.25, cfg.QA.DelayedRatioThreshold)
	// untouched keys keep their defaults
	assert.Equal(t, 0.9, cfg.QA.SlotCoverageThreshold)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPTCHAIN_IB_PORT", "7497")
	t.Setenv("OPTCHAIN_STATE_ROOT", "/var/lib/optchain")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7497, cfg.IB.Port)
	assert.Equal(t, "/var/lib/optchain", cfg.Paths.StateRoot)
}

func TestLoadBadEnvReportsKey(t *testing.T) {
	t.Setenv("OPTCHAIN_IB_PORT", "not-a-port")

	_, err := Load("")
	require.Error(t, err)

	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "OPTCHAIN_IB_PORT", cerr.Key)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestLoadUnknownKeyFails(t *testing.T) {
	path := writeYAML(t, `
snapshot:
  exchnage: SMART
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantKey string
	}{
		{"market data type", func(c *Config) { c.IB.MarketDataType = 5 }, "ib.market_data_type"},
		{"moneyness zero", func(c *Config) { c.Filters.MoneynessPct = 0 }, "filters.moneyness_pct"},
		{"moneyness above one", func(c *Config) { c.Filters.MoneynessPct = 1.5 }, "filters.moneyness_pct"},
		{"expiry type", func(c *Config) { c.Filters.ExpiryTypes = []string{"weekly"} }, "filters.expiry_types"},
		{"negative burst", func(c *Config) { c.RateLimits.Historical.Burst = -1 }, "rate_limits.historical.burst"},
		{"negative per minute", func(c *Config) { c.RateLimits.Snapshot.PerMinute = -3 }, "rate_limits.snapshot.per_minute"},
		{"codec", func(c *Config) { c.Storage.ColdCodec = "lzma" }, "storage.cold_codec"},
		{"poll interval", func(c *Config) { c.Snapshot.SubscriptionPollInterval = time.Minute }, "snapshot.subscription_poll_interval"},
		{"fallback slot", func(c *Config) { c.CLI.RollupFallbackSlot = 13 }, "cli.rollup_fallback_slot"},
		{"qa threshold", func(c *Config) { c.QA.OIEnrichmentThreshold = 1.2 }, "qa.oi_enrichment_threshold"},
		{"compaction sizes", func(c *Config) { c.Compaction.MinFileSizeMB = 10; c.Compaction.MaxFileSizeMB = 5 }, "compaction.max_file_size_mb"},
		{"compaction schedule", func(c *Config) { c.Compaction.Schedule = "every tuesday" }, "compaction.schedule"},
		{"log level", func(c *Config) { c.Logging.Level = "TRACE" }, "logging.level"},
		{"enrichment field", func(c *Config) { c.Enrichment.Fields = []string{"volume"} }, "enrichment.fields"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.wantKey, cerr.Key)
		})
	}
}

func TestCompactionSpec(t *testing.T) {
	cfg := Default()
	cfg.Compaction.Weekday = "saturday"
	cfg.Compaction.StartTime = "03:30"
	assert.Equal(t, "30 3 * * 6", cfg.CompactionSpec())

	cfg.Compaction.Schedule = "0 2 * * 0"
	assert.Equal(t, "0 2 * * 0", cfg.CompactionSpec())
}

func TestSnapshotMaxConcurrent(t *testing.T) {
	cfg := Default()
	cfg.RateLimits.Snapshot.MaxConcurrent = 0
	cfg.Snapshot.MaxConcurrent = 8
	assert.Equal(t, 8, cfg.SnapshotMaxConcurrent())

	cfg.RateLimits.Snapshot.MaxConcurrent = 3
	assert.Equal(t, 3, cfg.SnapshotMaxConcurrent())
}
