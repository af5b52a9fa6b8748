package qa

import (
	"sort"
	"strings"

	"github.com/wonny/optchain/internal/cleaning"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/pkg/config"
)

// Input is what the calculator needs for one trade date
type Input struct {
	TradeDate     string
	Symbols       []string // 비어 있으면 intraday 데이터의 심볼 사용
	ExpectedSlots int
	Intraday      []contracts.OptionRow
	Daily         []contracts.OptionRow
}

// check is one metric compared with its threshold
type check struct {
	name      string
	threshold float64
	// true: metric >= threshold 이어야 통과, false: metric <= threshold
	atLeast bool
}

// Compute derives the day-level metrics and compares them with the thresholds.
// Error rows are excluded from every ratio.
func Compute(in Input, th config.QAConfig) *contracts.QAReport {
	symbols := normalize(in.Symbols)
	if len(symbols) == 0 {
		symbols = symbolsOf(in.Intraday)
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	intraday := filter(in.Intraday, want)
	daily := filter(in.Daily, want)

	report := &contracts.QAReport{
		TradeDate:      in.TradeDate,
		Metrics:        make(map[string]float64),
		Thresholds:     make(map[string]float64),
		Checks:         make(map[string]bool),
		Breaches:       []string{},
		Symbols:        symbols,
		SymbolCoverage: make(map[string]float64),
		IntradayRows:   len(intraday),
		DailyRows:      len(daily),
	}

	// slot_coverage = min(unique_slots / expected_slots)
	slotsBySymbol := make(map[string]map[int32]bool)
	for _, r := range intraday {
		if r.Slot30m == nil {
			continue
		}
		if slotsBySymbol[r.Underlying] == nil {
			slotsBySymbol[r.Underlying] = make(map[int32]bool)
		}
		slotsBySymbol[r.Underlying][*r.Slot30m] = true
	}
	coverage := 0.0
	for i, s := range symbols {
		c := 0.0
		if in.ExpectedSlots > 0 {
			c = float64(len(slotsBySymbol[s])) / float64(in.ExpectedSlots)
		}
		if c > 1 {
			c = 1
		}
		report.SymbolCoverage[s] = c
		if i == 0 || c < coverage {
			coverage = c
		}
	}
	report.Metrics[contracts.MetricSlotCoverage] = coverage

	delayed := 0
	for _, r := range intraday {
		if cleaning.IsDelayed(int(r.MarketDataType)) {
			delayed++
		}
	}
	report.Metrics[contracts.MetricDelayedRatio] = ratio(delayed, len(intraday))

	fallback, withOI := 0, 0
	for _, r := range daily {
		if r.RollupStrategy != nil && (*r.RollupStrategy == contracts.StrategySlot1530 || *r.RollupStrategy == contracts.StrategyLastGood) {
			fallback++
		}
		if r.OpenInterest != nil {
			withOI++
		}
	}
	report.Metrics[contracts.MetricRollupFallbackRatio] = ratio(fallback, len(daily))
	report.Metrics[contracts.MetricOIEnrichmentRatio] = ratio(withOI, len(daily))

	checks := []check{
		{contracts.MetricSlotCoverage, th.SlotCoverageThreshold, true},
		{contracts.MetricDelayedRatio, th.DelayedRatioThreshold, false},
		{contracts.MetricRollupFallbackRatio, th.RollupFallbackThreshold, false},
		{contracts.MetricOIEnrichmentRatio, th.OIEnrichmentThreshold, true},
	}
	report.Status = contracts.QAStatusPass
	for _, c := range checks {
		v := report.Metrics[c.name]
		ok := v <= c.threshold
		if c.atLeast {
			ok = v >= c.threshold
		}
		report.Thresholds[c.name] = c.threshold
		report.Checks[c.name] = ok
		if !ok {
			report.Breaches = append(report.Breaches, c.name)
			report.Status = contracts.QAStatusFail
		}
	}
	return report
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func normalize(symbols []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func symbolsOf(rows []contracts.OptionRow) []string {
	var list []string
	for _, r := range rows {
		list = append(list, r.Underlying)
	}
	return normalize(list)
}

func filter(rows []contracts.OptionRow, want map[string]bool) []contracts.OptionRow {
	out := make([]contracts.OptionRow, 0, len(rows))
	for _, r := range rows {
		if r.IsError() || !want[strings.ToUpper(r.Underlying)] {
			continue
		}
		out = append(out, r)
	}
	return out
}
