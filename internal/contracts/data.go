package contracts

import (
	"sort"
	"time"
)

// Flag is a data quality flag attached to a row
type Flag string

const (
	FlagMissingOI              Flag = "missing_oi"
	FlagCrossedMarket          Flag = "crossed_market"
	FlagDelayedFallback        Flag = "delayed_fallback"
	FlagSnapshotTimedOut       Flag = "snapshot_timed_out"
	FlagOIEnriched             Flag = "oi_enriched"
	FlagOIOverwritten          Flag = "oi_overwritten"
	FlagSuspiciousITMZeroPrice Flag = "suspicious_itm_zero_price"
	FlagExtremeIV              Flag = "extreme_iv"
	FlagMissingGreeks          Flag = "missing_greeks"
)

// AllFlags is the closed set of flags
var AllFlags = []Flag{
	FlagMissingOI, FlagCrossedMarket, FlagDelayedFallback, FlagSnapshotTimedOut, FlagOIEnriched,
	FlagOIOverwritten, FlagSuspiciousITMZeroPrice, FlagExtremeIV, FlagMissingGreeks,
}

// Ingest run types
const (
	RunTypeIntraday   = "intraday"
	RunTypeClose      = "close"
	RunTypeEODRollup  = "eod_rollup"
	RunTypeEnrichment = "enrichment"
)

// Rollup strategies
const (
	StrategyClose    = "close"
	StrategySlot1530 = "slot_1530"
	StrategyLastGood = "last_good"
)

// Error types carried on error rows
const (
	ErrorTypeSubscriptionFailed = "subscription_failed"
	ErrorTypeFetchError         = "fetch_error"
	ErrorTypeNoBook             = "no_book"
)

// OptionRow is the single row shape for intraday, daily_clean and daily_adjusted views.
// Nullable market fields are pointers; every view writes the full column set.
// ⭐ SSOT: 모든 파티션 파일의 스키마
type OptionRow struct {
	TradeDate    string  `parquet:"trade_date" json:"trade_date"`
	Underlying   string  `parquet:"underlying" json:"underlying"`
	ContractID   int64   `parquet:"contract_id" json:"contract_id"`
	Expiry       string  `parquet:"expiry" json:"expiry"`
	Right        string  `parquet:"right" json:"right"`
	Strike       float64 `parquet:"strike" json:"strike"`
	Multiplier   int32   `parquet:"multiplier" json:"multiplier"`
	Exchange     string  `parquet:"exchange" json:"exchange"`
	TradingClass string  `parquet:"trading_class" json:"trading_class"`
	Currency     string  `parquet:"currency" json:"currency"`

	Bid    *float64 `parquet:"bid,optional" json:"bid"`
	Ask    *float64 `parquet:"ask,optional" json:"ask"`
	Mid    *float64 `parquet:"mid,optional" json:"mid"`
	Last   *float64 `parquet:"last,optional" json:"last"`
	Volume *float64 `parquet:"volume,optional" json:"volume"`
	IV     *float64 `parquet:"iv,optional" json:"iv"`
	Delta  *float64 `parquet:"delta,optional" json:"delta"`
	Gamma  *float64 `parquet:"gamma,optional" json:"gamma"`
	Theta  *float64 `parquet:"theta,optional" json:"theta"`
	Vega   *float64 `parquet:"vega,optional" json:"vega"`

	UnderlyingClose *float64 `parquet:"underlying_close,optional" json:"underlying_close"`
	MoneynessPct    *float64 `parquet:"moneyness_pct,optional" json:"moneyness_pct"`
	OpenInterest    *int64   `parquet:"open_interest,optional" json:"open_interest"`
	MarketDataType  int32    `parquet:"market_data_type" json:"market_data_type"`

	AsofTS        time.Time `parquet:"asof_ts" json:"asof_ts"`
	SampleTime    time.Time `parquet:"sample_time" json:"sample_time"`
	SampleTimeET  string    `parquet:"sample_time_et" json:"sample_time_et"`
	Slot30m       *int32    `parquet:"slot_30m,optional" json:"slot_30m"`
	IngestID      string    `parquet:"ingest_id" json:"ingest_id"`
	IngestRunType string    `parquet:"ingest_run_type" json:"ingest_run_type"`

	DataQualityFlag []string `parquet:"data_quality_flag,list" json:"data_quality_flag"`

	RollupStrategy   *string `parquet:"rollup_strategy,optional" json:"rollup_strategy,omitempty"`
	RollupSourceTime *string `parquet:"rollup_source_time,optional" json:"rollup_source_time,omitempty"`

	UnderlyingCloseAdj *float64 `parquet:"underlying_close_adj,optional" json:"underlying_close_adj,omitempty"`
	StrikeAdj          *float64 `parquet:"strike_adj,optional" json:"strike_adj,omitempty"`
	MoneynessPctAdj    *float64 `parquet:"moneyness_pct_adj,optional" json:"moneyness_pct_adj,omitempty"`

	ErrorType    *string `parquet:"error_type,optional" json:"error_type,omitempty"`
	ErrorMessage *string `parquet:"error_message,optional" json:"error_message,omitempty"`
}

// HasFlag reports whether the row carries f
func (r OptionRow) HasFlag(f Flag) bool {
	for _, s := range r.DataQualityFlag {
		if s == string(f) {
			return true
		}
	}
	return false
}

// AddFlag inserts f keeping the set sorted and unique
func (r *OptionRow) AddFlag(f Flag) {
	if r.HasFlag(f) {
		return
	}
	r.DataQualityFlag = append(r.DataQualityFlag, string(f))
	sort.Strings(r.DataQualityFlag)
}

// RemoveFlag drops f if present
func (r *OptionRow) RemoveFlag(f Flag) {
	out := r.DataQualityFlag[:0]
	for _, s := range r.DataQualityFlag {
		if s != string(f) {
			out = append(out, s)
		}
	}
	r.DataQualityFlag = out
}

// IsError reports whether the row records a failed fetch instead of market data
func (r *OptionRow) IsError() bool {
	return r.ErrorType != nil
}

// Clone returns a deep copy (pointer fields and flags are not shared)
func (r OptionRow) Clone() OptionRow {
	out := r
	out.Bid = cloneFloat(r.Bid)
	out.Ask = cloneFloat(r.Ask)
	out.Mid = cloneFloat(r.Mid)
	out.Last = cloneFloat(r.Last)
	out.Volume = cloneFloat(r.Volume)
	out.IV = cloneFloat(r.IV)
	out.Delta = cloneFloat(r.Delta)
	out.Gamma = cloneFloat(r.Gamma)
	out.Theta = cloneFloat(r.Theta)
	out.Vega = cloneFloat(r.Vega)
	out.UnderlyingClose = cloneFloat(r.UnderlyingClose)
	out.MoneynessPct = cloneFloat(r.MoneynessPct)
	out.UnderlyingCloseAdj = cloneFloat(r.UnderlyingCloseAdj)
	out.StrikeAdj = cloneFloat(r.StrikeAdj)
	out.MoneynessPctAdj = cloneFloat(r.MoneynessPctAdj)
	if r.OpenInterest != nil {
		v := *r.OpenInterest
		out.OpenInterest = &v
	}
	if r.Slot30m != nil {
		v := *r.Slot30m
		out.Slot30m = &v
	}
	out.RollupStrategy = cloneString(r.RollupStrategy)
	out.RollupSourceTime = cloneString(r.RollupSourceTime)
	out.ErrorType = cloneString(r.ErrorType)
	out.ErrorMessage = cloneString(r.ErrorMessage)
	out.DataQualityFlag = append([]string(nil), r.DataQualityFlag...)
	return out
}

// EnrichmentRecord is the audit entry written for each open-interest back-fill
type EnrichmentRecord struct {
	TradeDate       string    `parquet:"trade_date" json:"trade_date"`
	Underlying      string    `parquet:"underlying" json:"underlying"`
	ContractID      int64     `parquet:"contract_id" json:"contract_id"`
	FieldsUpdated   []string  `parquet:"fields_updated,list" json:"fields_updated"`
	OldOpenInterest *int64    `parquet:"old_open_interest,optional" json:"old_open_interest"`
	NewOpenInterest int64     `parquet:"new_open_interest" json:"new_open_interest"`
	SourceTradeDate string    `parquet:"source_trade_date" json:"source_trade_date"`
	IngestRunType   string    `parquet:"ingest_run_type" json:"ingest_run_type"`
	IngestID        string    `parquet:"ingest_id" json:"ingest_id"`
	AsofTS          time.Time `parquet:"asof_ts" json:"asof_ts"`
}

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }

// Int64 returns a pointer to v
func Int64(v int64) *int64 { return &v }

// Int32 returns a pointer to v
func Int32(v int32) *int32 { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
