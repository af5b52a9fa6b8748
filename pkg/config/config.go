package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline
// ⭐ SSOT: 모든 설정 값은 여기서만 읽음 (YAML + 환경변수 override)
type Config struct {
	Env string `yaml:"env" json:"env"`

	IB         IBConfig         `yaml:"ib" json:"ib"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Filters    FiltersConfig    `yaml:"filters" json:"filters"`
	Discovery  DiscoveryConfig  `yaml:"discovery" json:"discovery"`
	RateLimits RateLimitsConfig `yaml:"rate_limits" json:"rate_limits"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Snapshot   SnapshotConfig   `yaml:"snapshot" json:"snapshot"`
	Rollup     RollupConfig     `yaml:"rollup" json:"rollup"`
	CLI        CLIConfig        `yaml:"cli" json:"cli"`
	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment"`
	QA         QAConfig         `yaml:"qa" json:"qa"`
	Compaction CompactionConfig `yaml:"compaction" json:"compaction"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	API        APIConfig        `yaml:"api" json:"api"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// IBConfig holds market-data gateway connection settings
type IBConfig struct {
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port"`
	ClientID       int    `yaml:"client_id" json:"client_id"`
	MarketDataType int    `yaml:"market_data_type" json:"market_data_type"` // 1 live, 2 frozen, 3 delayed, 4 delayed-frozen
}

// PathsConfig holds the filesystem roots owned by the pipeline
type PathsConfig struct {
	RawRoot              string `yaml:"raw_root" json:"raw_root"`
	CleanRoot            string `yaml:"clean_root" json:"clean_root"`
	StateRoot            string `yaml:"state_root" json:"state_root"`
	UniverseFile         string `yaml:"universe_file" json:"universe_file"`
	CorporateActionsFile string `yaml:"corporate_actions_file" json:"corporate_actions_file"`
}

// FiltersConfig controls the discovery window
type FiltersConfig struct {
	MoneynessPct      float64  `yaml:"moneyness_pct" json:"moneyness_pct"`
	ExpiryTypes       []string `yaml:"expiry_types" json:"expiry_types"` // monthly, quarterly
	ExpiryMonthsAhead int      `yaml:"expiry_months_ahead" json:"expiry_months_ahead"`
}

// DiscoveryConfig controls the contract cache
type DiscoveryConfig struct {
	RefreshDays int `yaml:"refresh_days" json:"refresh_days"`
}

// RateLimitClass is one token bucket class
type RateLimitClass struct {
	PerMinute     float64 `yaml:"per_minute" json:"per_minute"`
	Burst         int     `yaml:"burst" json:"burst"`
	MaxConcurrent int     `yaml:"max_concurrent" json:"max_concurrent"` // 0 = 미지정
}

// RateLimitsConfig groups the three request classes
type RateLimitsConfig struct {
	Discovery  RateLimitClass `yaml:"discovery" json:"discovery"`
	Snapshot   RateLimitClass `yaml:"snapshot" json:"snapshot"`
	Historical RateLimitClass `yaml:"historical" json:"historical"`
}

// StorageConfig controls codec selection
type StorageConfig struct {
	HotDays        int    `yaml:"hot_days" json:"hot_days"`
	HotCodec       string `yaml:"hot_codec" json:"hot_codec"`
	ColdCodec      string `yaml:"cold_codec" json:"cold_codec"`
	ColdCodecLevel int    `yaml:"cold_codec_level" json:"cold_codec_level"`
}

// SnapshotConfig controls the snapshot runner
type SnapshotConfig struct {
	Exchange                 string        `yaml:"exchange" json:"exchange"`
	FallbackExchanges        []string      `yaml:"fallback_exchanges" json:"fallback_exchanges"`
	GenericTicks             string        `yaml:"generic_ticks" json:"generic_ticks"`
	StrikesPerSide           int           `yaml:"strikes_per_side" json:"strikes_per_side"`
	SubscriptionTimeout      time.Duration `yaml:"subscription_timeout" json:"subscription_timeout"`
	SubscriptionPollInterval time.Duration `yaml:"subscription_poll_interval" json:"subscription_poll_interval"`
	RequireGreeks            bool          `yaml:"require_greeks" json:"require_greeks"`
	MaxConcurrent            int           `yaml:"max_concurrent" json:"max_concurrent"`
}

// RollupConfig controls the EOD rollup
type RollupConfig struct {
	AllowIntradayFallback bool `yaml:"allow_intraday_fallback" json:"allow_intraday_fallback"`
}

// CLIConfig holds slot anchors shared by the CLI and the scheduler
type CLIConfig struct {
	RollupCloseSlot      int `yaml:"rollup_close_slot" json:"rollup_close_slot"`
	RollupFallbackSlot   int `yaml:"rollup_fallback_slot" json:"rollup_fallback_slot"`
	SnapshotGraceSeconds int `yaml:"snapshot_grace_seconds" json:"snapshot_grace_seconds"`
}

// EnrichmentConfig controls open-interest back-fill
type EnrichmentConfig struct {
	Fields         []string      `yaml:"fields" json:"fields"`
	OIDuration     string        `yaml:"oi_duration" json:"oi_duration"`
	OIUseRTH       bool          `yaml:"oi_use_rth" json:"oi_use_rth"`
	ForceOverwrite bool          `yaml:"force_overwrite" json:"force_overwrite"`
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay" json:"initial_delay"`
	BackoffFactor  float64       `yaml:"backoff_factor" json:"backoff_factor"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay"`
}

// QAConfig holds the day-level thresholds (all in [0,1])
type QAConfig struct {
	SlotCoverageThreshold   float64 `yaml:"slot_coverage_threshold" json:"slot_coverage_threshold"`
	DelayedRatioThreshold   float64 `yaml:"delayed_ratio_threshold" json:"delayed_ratio_threshold"`
	RollupFallbackThreshold float64 `yaml:"rollup_fallback_threshold" json:"rollup_fallback_threshold"`
	OIEnrichmentThreshold   float64 `yaml:"oi_enrichment_threshold" json:"oi_enrichment_threshold"`
}

// CompactionConfig controls small-file compaction
type CompactionConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	Schedule      string  `yaml:"schedule" json:"schedule"` // cron expression, 비어 있으면 weekday + start_time
	Weekday       string  `yaml:"weekday" json:"weekday"`
	StartTime     string  `yaml:"start_time" json:"start_time"` // HH:MM (ET)
	MinFileSizeMB float64 `yaml:"min_file_size_mb" json:"min_file_size_mb"`
	MaxFileSizeMB float64 `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// SchedulerConfig controls the live daemon
type SchedulerConfig struct {
	PlanTime        string        `yaml:"plan_time" json:"plan_time"` // HH:MM (ET)
	EnrichmentDelay time.Duration `yaml:"enrichment_delay" json:"enrichment_delay"`
}

// MetricsConfig controls the local metrics store
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"` // 비어 있으면 <state_root>/metrics.db
}

// APIConfig controls the read-only status server
type APIConfig struct {
	Port string `yaml:"port" json:"port"`
}

// LoggingConfig controls the logger
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // json, console
}

// Default returns a Config populated with production defaults
func Default() *Config {
	return &Config{
		Env: "development",
		IB: IBConfig{
			Host:           "127.0.0.1",
			Port:           4002,
			ClientID:       17,
			MarketDataType: 1,
		},
		Paths: PathsConfig{
			RawRoot:              "data/raw",
			CleanRoot:            "data/clean",
			StateRoot:            "state",
			UniverseFile:         "config/universe.csv",
			CorporateActionsFile: "config/corporate_actions.csv",
		},
		Filters: FiltersConfig{
			MoneynessPct:      0.10,
			ExpiryTypes:       []string{"monthly", "quarterly"},
			ExpiryMonthsAhead: 3,
		},
		Discovery: DiscoveryConfig{RefreshDays: 1},
		RateLimits: RateLimitsConfig{
			Discovery:  RateLimitClass{PerMinute: 30, Burst: 10},
			Snapshot:   RateLimitClass{PerMinute: 120, Burst: 40, MaxConcurrent: 40},
			Historical: RateLimitClass{PerMinute: 50, Burst: 10},
		},
		Storage: StorageConfig{
			HotDays:        14,
			HotCodec:       "snappy",
			ColdCodec:      "zstd",
			ColdCodecLevel: 7,
		},
		Snapshot: SnapshotConfig{
			Exchange:                 "SMART",
			FallbackExchanges:        []string{"CBOE"},
			GenericTicks:             "100,101,106",
			StrikesPerSide:           5,
			SubscriptionTimeout:      12 * time.Second,
			SubscriptionPollInterval: 250 * time.Millisecond,
			RequireGreeks:            true,
			MaxConcurrent:            40,
		},
		Rollup: RollupConfig{AllowIntradayFallback: true},
		CLI: CLIConfig{
			RollupCloseSlot:      13,
			RollupFallbackSlot:   12,
			SnapshotGraceSeconds: 120,
		},
		Enrichment: EnrichmentConfig{
			Fields:        []string{"open_interest"},
			OIDuration:    "7 D",
			OIUseRTH:      true,
			MaxAttempts:   4,
			InitialDelay:  1 * time.Second,
			BackoffFactor: 2,
			MaxDelay:      30 * time.Second,
		},
		QA: QAConfig{
			SlotCoverageThreshold:   0.9,
			DelayedRatioThreshold:   0.1,
			RollupFallbackThreshold: 0.2,
			OIEnrichmentThreshold:   0.8,
		},
		Compaction: CompactionConfig{
			Enabled:       false,
			Weekday:       "saturday",
			StartTime:     "03:00",
			MinFileSizeMB: 8,
			MaxFileSizeMB: 256,
		},
		Scheduler: SchedulerConfig{
			PlanTime:        "09:00",
			EnrichmentDelay: 90 * time.Minute,
		},
		Metrics: MetricsConfig{Enabled: true},
		API:     APIConfig{Port: "8089"},
		Logging: LoggingConfig{Level: "INFO", Format: "json"},
	}
}

// Load reads a YAML config file (optional), applies environment overrides and validates
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load(path string) (*Config, error) {
	loadEnvFile()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Key: "config", Message: fmt.Sprintf("read %s: %v", path, err)}
		}
		if err := Decode(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Decode decodes YAML on top of cfg
// KnownFields(true): 오타/미사용 키는 즉시 실패
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return &ConfigError{Key: "config", Message: err.Error()}
	}
	return nil
}

// MetricsPath returns the metrics store location
func (c *Config) MetricsPath() string {
	if c.Metrics.Path != "" {
		return c.Metrics.Path
	}
	return filepath.Join(c.Paths.StateRoot, "metrics.db")
}

// applyEnv applies OPTCHAIN_* environment overrides
func applyEnv(cfg *Config) error {
	cfg.Env = getEnv("OPTCHAIN_ENV", cfg.Env)
	cfg.IB.Host = getEnv("OPTCHAIN_IB_HOST", cfg.IB.Host)
	cfg.Paths.RawRoot = getEnv("OPTCHAIN_RAW_ROOT", cfg.Paths.RawRoot)
	cfg.Paths.CleanRoot = getEnv("OPTCHAIN_CLEAN_ROOT", cfg.Paths.CleanRoot)
	cfg.Paths.StateRoot = getEnv("OPTCHAIN_STATE_ROOT", cfg.Paths.StateRoot)
	cfg.Paths.UniverseFile = getEnv("OPTCHAIN_UNIVERSE_FILE", cfg.Paths.UniverseFile)
	cfg.Logging.Level = getEnv("OPTCHAIN_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("OPTCHAIN_LOG_FORMAT", cfg.Logging.Format)
	cfg.API.Port = getEnv("OPTCHAIN_API_PORT", cfg.API.Port)

	var err error
	if cfg.IB.Port, err = getEnvAsInt("OPTCHAIN_IB_PORT", cfg.IB.Port); err != nil {
		return err
	}
	if cfg.IB.ClientID, err = getEnvAsInt("OPTCHAIN_IB_CLIENT_ID", cfg.IB.ClientID); err != nil {
		return err
	}
	if cfg.IB.MarketDataType, err = getEnvAsInt("OPTCHAIN_IB_MARKET_DATA_TYPE", cfg.IB.MarketDataType); err != nil {
		return err
	}
	if cfg.Metrics.Enabled, err = getEnvAsBool("OPTCHAIN_METRICS_ENABLED", cfg.Metrics.Enabled); err != nil {
		return err
	}
	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, &ConfigError{Key: key, Message: fmt.Sprintf("not an integer: %q", valueStr)}
	}

	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, &ConfigError{Key: key, Message: fmt.Sprintf("not a boolean: %q", valueStr)}
	}

	return value, nil
}
