package cleaning

import (
	"math"

	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/pkg/logger"
)

const (
	// ExtremeIVThreshold flags implied volatility above 500%
	ExtremeIVThreshold = 5.0
	// ITMDeltaThreshold is the |delta| above which a contract is treated as deep ITM
	ITMDeltaThreshold = 0.9
	// ZeroPriceThreshold is the mid below which a deep ITM quote is suspicious
	ZeroPriceThreshold = 0.02
)

// Pipeline derives mid/moneyness and attaches quality flags before every write
// ⭐ SSOT: 행 정제 규칙은 여기서만
type Pipeline struct {
	logger *logger.Logger
}

// New creates a cleaning pipeline
func New(log *logger.Logger) *Pipeline {
	return &Pipeline{logger: log.WithField("module", "cleaning")}
}

// Clean cleans a batch; schema violations are recorded, never fatal
func (p *Pipeline) Clean(rows []contracts.OptionRow) ([]contracts.OptionRow, []contracts.SchemaViolation) {
	out := make([]contracts.OptionRow, 0, len(rows))
	var violations []contracts.SchemaViolation

	for _, r := range rows {
		cleaned, v := CleanRow(r)
		out = append(out, cleaned)
		violations = append(violations, v...)
	}

	if len(violations) > 0 {
		p.logger.WithFields(map[string]interface{}{
			"rows":       len(rows),
			"violations": len(violations),
		}).Warn("Schema violations flagged")
	}
	return out, violations
}

// CleanRow applies the cleaning rules to one row and returns a copy.
// Error rows are passed through untouched.
func CleanRow(in contracts.OptionRow) (contracts.OptionRow, []contracts.SchemaViolation) {
	row := in.Clone()
	if row.IsError() {
		return row, nil
	}

	var violations []contracts.SchemaViolation

	// 1. 스키마 검증: delta ∉ [-1,1] 은 null 처리, 음수 IV 는 유지 후 flag
	if row.Delta != nil && (math.IsNaN(*row.Delta) || *row.Delta < -1 || *row.Delta > 1) {
		violations = append(violations, contracts.SchemaViolation{
			ContractID: row.ContractID, Field: "delta", Value: *row.Delta, Reason: "outside [-1, 1]",
		})
		row.Delta = nil
	}
	if row.IV != nil && *row.IV < 0 {
		violations = append(violations, contracts.SchemaViolation{
			ContractID: row.ContractID, Field: "iv", Value: *row.IV, Reason: "negative",
		})
	}

	// 2. mid / crossed market
	row.Mid = Mid(row.Bid, row.Ask)
	if row.Bid != nil && row.Ask != nil && *row.Bid > *row.Ask {
		row.AddFlag(contracts.FlagCrossedMarket)
		row.Mid = nil
	}

	// 3. moneyness
	row.MoneynessPct = nil
	if row.UnderlyingClose != nil && *row.UnderlyingClose > 0 {
		m := Moneyness(*row.UnderlyingClose, row.Strike)
		row.MoneynessPct = &m
	}

	// 4. flags
	if row.OpenInterest == nil {
		row.AddFlag(contracts.FlagMissingOI)
	}
	if row.IV == nil || row.Delta == nil || row.Gamma == nil || row.Theta == nil || row.Vega == nil {
		row.AddFlag(contracts.FlagMissingGreeks)
	}
	if row.IV != nil && (*row.IV > ExtremeIVThreshold || *row.IV < 0) {
		row.AddFlag(contracts.FlagExtremeIV)
	}
	if row.Delta != nil && math.Abs(*row.Delta) >= ITMDeltaThreshold {
		mid := 0.0
		if row.Mid != nil {
			mid = *row.Mid
		}
		if mid < ZeroPriceThreshold {
			row.AddFlag(contracts.FlagSuspiciousITMZeroPrice)
		}
	}
	if IsDelayed(int(row.MarketDataType)) {
		row.AddFlag(contracts.FlagDelayedFallback)
	}

	return row, violations
}

// Mid returns (bid+ask)/2 when both are positive
func Mid(bid, ask *float64) *float64 {
	if bid == nil || ask == nil || *bid <= 0 || *ask <= 0 {
		return nil
	}
	m := (*bid + *ask) / 2
	return &m
}

// Moneyness returns (underlying - strike) / underlying
func Moneyness(underlying, strike float64) float64 {
	return (underlying - strike) / underlying
}

// IsDelayed reports market data types 3 (delayed) and 4 (delayed-frozen)
func IsDelayed(marketDataType int) bool {
	return marketDataType == 3 || marketDataType == 4
}
