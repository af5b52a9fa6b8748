package contracts

import "time"

// SnapshotResult is returned by one snapshot run (one slot)
type SnapshotResult struct {
	TradeDate   string            `json:"trade_date"`
	Slot        int               `json:"slot"`
	SlotLabel   string            `json:"slot_label"`
	RunType     string            `json:"run_type"`
	IngestID    string            `json:"ingest_id"`
	Symbols     int               `json:"symbols"`
	Contracts   int               `json:"contracts"`
	RowsWritten int               `json:"rows_written"`
	TimedOut    int               `json:"timed_out"`
	RawPaths    []string          `json:"raw_paths"`
	CleanPaths  []string          `json:"clean_paths"`
	Errors      []RowError        `json:"errors"`
	Violations  []SchemaViolation `json:"violations,omitempty"`

	// 기초자산 conid (universe back-fill 용)
	UnderlyingContractIDs map[string]int64 `json:"underlying_contract_ids,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RollupResult is returned by the EOD rollup
type RollupResult struct {
	TradeDate      string         `json:"trade_date"`
	IngestID       string         `json:"ingest_id"`
	Partitions     int            `json:"partitions"`
	IntradayRows   int            `json:"intraday_rows"`
	RowsWritten    int            `json:"rows_written"`
	Dropped        int            `json:"dropped"`
	StrategyCounts map[string]int `json:"strategy_counts"`
	CleanPaths     []string       `json:"clean_paths"`
	AdjustedPaths  []string       `json:"adjusted_paths"`
	Errors         []RowError     `json:"errors"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// EnrichmentResult is returned by the open-interest back-fill
type EnrichmentResult struct {
	TradeDate      string     `json:"trade_date"`
	IngestID       string     `json:"ingest_id"`
	Fields         []string   `json:"fields"`
	RowsConsidered int        `json:"rows_considered"`
	RowsUpdated    int        `json:"rows_updated"`
	Paths          []string   `json:"paths"`
	Errors         []RowError `json:"errors"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
}

// QA status values
const (
	QAStatusPass = "PASS"
	QAStatusFail = "FAIL"
)

// QA metric names
const (
	MetricSlotCoverage        = "slot_coverage"
	MetricDelayedRatio        = "delayed_ratio"
	MetricRollupFallbackRatio = "rollup_fallback_ratio"
	MetricOIEnrichmentRatio   = "oi_enrichment_ratio"
)

// QAReport is the day-level health report
// ⭐ SSOT: QA 결과는 이 구조로만 저장
type QAReport struct {
	TradeDate  string             `json:"trade_date"`
	Status     string             `json:"status"`
	Metrics    map[string]float64 `json:"metrics"`
	Thresholds map[string]float64 `json:"thresholds"`
	Checks     map[string]bool    `json:"checks"`
	Breaches   []string           `json:"breaches"`
	Symbols    []string           `json:"symbols"`
	// 심볼별 slot coverage
	SymbolCoverage map[string]float64 `json:"symbol_coverage"`
	IntradayRows   int                `json:"intraday_rows"`
	DailyRows      int                `json:"daily_rows"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// Passed reports whether every metric met its threshold
func (r *QAReport) Passed() bool {
	return r.Status == QAStatusPass
}
