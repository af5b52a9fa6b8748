package gateway

import (
	"context"
	"time"

	"github.com/wonny/optchain/internal/contracts"
)

// Market data types
const (
	MarketDataLive          = 1
	MarketDataFrozen        = 2
	MarketDataDelayed       = 3
	MarketDataDelayedFrozen = 4
)

// Historical "what to show" values
const (
	ShowTrades       = "TRADES"
	ShowOpenInterest = "OPTION_OPEN_INTEREST"
)

// OptionParams is one option-parameter set returned for an underlying
type OptionParams struct {
	Exchange     string    `json:"exchange"`
	TradingClass string    `json:"trading_class"`
	Multiplier   int       `json:"multiplier"`
	Expirations  []string  `json:"expirations"` // YYYYMMDD
	Strikes      []float64 `json:"strikes"`
}

// Bar is one historical bar
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	WAP    *float64  `json:"wap,omitempty"`
}

// BarRequest describes a historical_bars call
type BarRequest struct {
	Contract   contracts.OptionContract `json:"contract"`
	WhatToShow string                   `json:"what_to_show"`
	Duration   string                   `json:"duration"`     // e.g. "7 D"
	BarSize    string                   `json:"bar_size"`     // e.g. "1 day"
	End        time.Time                `json:"end_datetime"` // zero = now
	UseRTH     bool                     `json:"use_rth"`
}

// Gateway is the market-data collaborator the pipeline consumes.
// Implementations return errors wrapping contracts.ErrGatewayUnavailable,
// ErrTimeout, ErrSubscriptionFailed or ErrNoBook so callers can classify them.
// ⭐ SSOT: 외부 시세 프로토콜은 이 인터페이스 뒤에만 존재
type Gateway interface {
	Qualify(ctx context.Context, c contracts.OptionContract) (contracts.OptionContract, error)
	OptionParams(ctx context.Context, symbol string, underlyingID int64) ([]OptionParams, error)
	Subscribe(ctx context.Context, c contracts.OptionContract, genericTicks string) (Subscription, error)
	Cancel(ctx context.Context, sub Subscription) error
	HistoricalBars(ctx context.Context, req BarRequest) ([]Bar, error)
	SetMarketDataType(ctx context.Context, t int) error
	CurrentTime(ctx context.Context) (time.Time, error)
}

// Subscription is a live market-data subscription for one contract
type Subscription interface {
	ID() string
	Contract() contracts.OptionContract
	// Snapshot returns the latest ticker state
	Snapshot() Ticker
}
