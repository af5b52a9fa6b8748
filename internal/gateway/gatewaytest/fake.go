// Package gatewaytest provides a scriptable in-memory Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/gateway"
)

// Underlying is a scripted underlying
type Underlying struct {
	ContractID int64
	Price      float64
	Params     []gateway.OptionParams
}

// Fake is an in-memory gateway. Zero-valued maps are allowed; configure before use.
type Fake struct {
	mu sync.Mutex

	Underlyings map[string]Underlying

	// 옵션 qualify 결과: "SYM|YYYY-MM-DD|R|strike" -> conid
	Options map[string]int64

	// 기본 ticker 와 계약별 override
	DefaultTicker gateway.Ticker
	Tickers       map[int64]gateway.Ticker

	// 거래소별 호가 없음 ("SMART" 등), 계약+거래소 조합은 "conid|EX"
	NoBook map[string]bool
	// Subscribe 거절 계약
	Refuse map[int64]bool

	// Open interest bars / errors per contract
	OIBars   map[int64][]gateway.Bar
	OIErrors map[int64]error
	// TRADES bar 조회 실패
	TradesErr error

	// 전체 호출 실패 (게이트웨이 다운)
	Down bool

	Now func() time.Time

	OptionParamsCalls  int
	QualifyCalls       int
	SubscribeCalls     int
	CancelCalls        int
	HistoricalCalls    int
	MarketDataTypeSet  int
	active             map[string]bool
	nextSub            int
	subscribedExchange map[int64][]string
}

// New returns an empty fake
func New() *Fake {
	return &Fake{
		Underlyings:        make(map[string]Underlying),
		Options:            make(map[string]int64),
		Tickers:            make(map[int64]gateway.Ticker),
		NoBook:             make(map[string]bool),
		Refuse:             make(map[int64]bool),
		OIBars:             make(map[int64][]gateway.Bar),
		OIErrors:           make(map[int64]error),
		active:             make(map[string]bool),
		subscribedExchange: make(map[int64][]string),
	}
}

// OptionKey builds the key used by Options
func OptionKey(symbol, expiry string, right contracts.Right, strike string) string {
	return fmt.Sprintf("%s|%s|%s|%s", symbol, expiry, right, strike)
}

// AddOption registers a qualifiable option
func (f *Fake) AddOption(symbol, expiry string, right contracts.Right, strike string, conid int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Options[OptionKey(symbol, expiry, right, strike)] = conid
}

func (f *Fake) down() error {
	if f.Down {
		return fmt.Errorf("fake gateway: %w", contracts.ErrGatewayUnavailable)
	}
	return nil
}

func (f *Fake) Qualify(ctx context.Context, c contracts.OptionContract) (contracts.OptionContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QualifyCalls++
	if err := f.down(); err != nil {
		return c, err
	}

	if !c.IsOption() {
		u, ok := f.Underlyings[c.Symbol]
		if !ok {
			return c, fmt.Errorf("qualify %s: not found", c.Symbol)
		}
		c.ContractID = u.ContractID
		return c, nil
	}

	id, ok := f.Options[OptionKey(c.Symbol, c.ExpiryString(), c.Right, c.Strike.String())]
	if !ok {
		return c, fmt.Errorf("qualify %s: no security definition", c.String())
	}
	c.ContractID = id
	if c.Multiplier == 0 {
		c.Multiplier = 100
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	return c, nil
}

func (f *Fake) OptionParams(ctx context.Context, symbol string, underlyingID int64) ([]gateway.OptionParams, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OptionParamsCalls++
	if err := f.down(); err != nil {
		return nil, err
	}
	u, ok := f.Underlyings[symbol]
	if !ok {
		return nil, nil
	}
	return u.Params, nil
}

type subscription struct {
	id       string
	contract contracts.OptionContract
	ticker   gateway.Ticker
}

func (s *subscription) ID() string                         { return s.id }
func (s *subscription) Contract() contracts.OptionContract { return s.contract }
func (s *subscription) Snapshot() gateway.Ticker           { return s.ticker }

func (f *Fake) Subscribe(ctx context.Context, c contracts.OptionContract, genericTicks string) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SubscribeCalls++
	f.subscribedExchange[c.ContractID] = append(f.subscribedExchange[c.ContractID], c.Exchange)
	if err := f.down(); err != nil {
		return nil, err
	}
	if f.Refuse[c.ContractID] {
		return nil, fmt.Errorf("subscribe %d: %w", c.ContractID, contracts.ErrSubscriptionFailed)
	}
	if f.NoBook[c.Exchange] || f.NoBook[fmt.Sprintf("%d|%s", c.ContractID, c.Exchange)] {
		return nil, fmt.Errorf("subscribe %d on %s: %w", c.ContractID, c.Exchange, contracts.ErrNoBook)
	}

	ticker, ok := f.Tickers[c.ContractID]
	if !ok {
		ticker = f.DefaultTicker
	}
	if f.MarketDataTypeSet != 0 && ticker.MarketDataType == 0 {
		ticker.MarketDataType = f.MarketDataTypeSet
	}

	f.nextSub++
	sub := &subscription{
		id:       fmt.Sprintf("sub-%d", f.nextSub),
		contract: c,
		ticker:   gateway.Ticker{}.Merge(ticker),
	}
	f.active[sub.id] = true
	return sub, nil
}

func (f *Fake) Cancel(ctx context.Context, sub gateway.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CancelCalls++
	delete(f.active, sub.ID())
	return nil
}

func (f *Fake) HistoricalBars(ctx context.Context, req gateway.BarRequest) ([]gateway.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HistoricalCalls++
	if err := f.down(); err != nil {
		return nil, err
	}

	switch req.WhatToShow {
	case gateway.ShowOpenInterest:
		if err, ok := f.OIErrors[req.Contract.ContractID]; ok {
			return nil, err
		}
		return f.OIBars[req.Contract.ContractID], nil
	default:
		if f.TradesErr != nil {
			return nil, f.TradesErr
		}
		u, ok := f.Underlyings[req.Contract.Symbol]
		if !ok {
			return nil, nil
		}
		end := req.End
		if end.IsZero() {
			end = f.now()
		}
		return []gateway.Bar{{Date: end, Open: u.Price, High: u.Price, Low: u.Price, Close: u.Price}}, nil
	}
}

func (f *Fake) SetMarketDataType(ctx context.Context, t int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return err
	}
	f.MarketDataTypeSet = t
	return nil
}

func (f *Fake) CurrentTime(ctx context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return time.Time{}, err
	}
	return f.now(), nil
}

func (f *Fake) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Active returns the number of subscriptions not yet cancelled
func (f *Fake) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

// Exchanges returns the exchanges a contract was subscribed on, in order
func (f *Fake) Exchanges(conid int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribedExchange[conid]...)
}

// Calls returns a copy of the call counters
func (f *Fake) Calls() (optionParams, subscribe, cancel, historical int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.OptionParamsCalls, f.SubscribeCalls, f.CancelCalls, f.HistoricalCalls
}

var _ gateway.Gateway = (*Fake)(nil)

func ptr(v float64) *float64 { return &v }

// ReadyTicker returns a two-sided quote with all greeks populated
func ReadyTicker(underlying float64) gateway.Ticker {
	return gateway.Ticker{
		Bid:             ptr(2.0),
		Ask:             ptr(2.2),
		Last:            ptr(2.1),
		Volume:          ptr(120),
		IV:              ptr(0.25),
		Delta:           ptr(0.5),
		Gamma:           ptr(0.05),
		Theta:           ptr(-0.02),
		Vega:            ptr(0.1),
		UnderlyingPrice: ptr(underlying),
	}
}

// SampleChain scripts AAPL at 155 with AAPL 2025-12-20 C150 / P150 / P160 resolvable
func SampleChain() *Fake {
	f := New()
	f.Underlyings["AAPL"] = Underlying{
		ContractID: 265598,
		Price:      155,
		Params: []gateway.OptionParams{{
			Exchange:     "SMART",
			TradingClass: "AAPL",
			Multiplier:   100,
			Expirations:  []string{"20251017", "20251024", "20251220"},
			Strikes:      []float64{140, 145, 150, 155, 160, 165, 170},
		}},
	}
	f.AddOption("AAPL", "2025-12-20", contracts.RightCall, "150", 1001)
	f.AddOption("AAPL", "2025-12-20", contracts.RightPut, "150", 1002)
	f.AddOption("AAPL", "2025-12-20", contracts.RightPut, "160", 1003)
	f.DefaultTicker = ReadyTicker(155)
	return f
}
