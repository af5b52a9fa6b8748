package contracts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Right is the option right
type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// Security types
const (
	SecTypeOption = "OPT"
	SecTypeStock  = "STK"
)

// OptionContract is one listed option (or, with SecType STK, its underlying)
// ⭐ SSOT: contract_id 가 계약의 유일 식별자
type OptionContract struct {
	Symbol       string          `json:"symbol"`
	ContractID   int64           `json:"contract_id"`
	SecType      string          `json:"sec_type"`
	Expiry       time.Time       `json:"expiry"`
	Right        Right           `json:"right"`
	Strike       decimal.Decimal `json:"strike"`
	Multiplier   int             `json:"multiplier"`
	Exchange     string          `json:"exchange"`
	TradingClass string          `json:"trading_class"`
	Currency     string          `json:"currency"`
}

// ContractKey is the natural key (symbol, expiry, right, strike, exchange)
type ContractKey struct {
	Symbol   string
	Expiry   string
	Right    Right
	Strike   string
	Exchange string
}

// Key returns the natural key of the contract
func (c OptionContract) Key() ContractKey {
	return ContractKey{
		Symbol:   c.Symbol,
		Expiry:   c.ExpiryString(),
		Right:    c.Right,
		Strike:   c.Strike.String(),
		Exchange: c.Exchange,
	}
}

// ExpiryString formats the expiry as YYYY-MM-DD (empty for underlyings)
func (c OptionContract) ExpiryString() string {
	if c.Expiry.IsZero() {
		return ""
	}
	return c.Expiry.Format("2006-01-02")
}

// IsOption reports whether the contract is an option
func (c OptionContract) IsOption() bool {
	return c.SecType == "" || c.SecType == SecTypeOption
}

// String renders the contract like "AAPL 2025-12-20 C150"
func (c OptionContract) String() string {
	if !c.IsOption() {
		return fmt.Sprintf("%s %s", c.Symbol, c.SecType)
	}
	return fmt.Sprintf("%s %s %s%s", c.Symbol, c.ExpiryString(), c.Right, c.Strike.String())
}

// Underlying builds the stock contract used to resolve an underlying
func Underlying(symbol string) OptionContract {
	return OptionContract{
		Symbol:   symbol,
		SecType:  SecTypeStock,
		Exchange: "SMART",
		Currency: "USD",
	}
}

// CorporateAction is a split applied to rows before its effective date
type CorporateAction struct {
	Symbol        string    `json:"symbol"`
	EffectiveDate time.Time `json:"effective_date"`
	SplitRatio    float64   `json:"split_ratio"`
}
