package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/pkg/logger"
)

// serialized runs every gateway request under one mutex (single-threaded session)
type serialized struct {
	mu sync.Mutex
	gw Gateway
}

// Serialize wraps gw so that requests never overlap
func Serialize(gw Gateway) Gateway {
	if s, ok := gw.(*serialized); ok {
		return s
	}
	return &serialized{gw: gw}
}

func (s *serialized) Qualify(ctx context.Context, c contracts.OptionContract) (contracts.OptionContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw.Qualify(ctx, c)
}

func (s *serialized) OptionParams(ctx context.Context, symbol string, underlyingID int64) ([]OptionParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw.OptionParams(ctx, symbol, underlyingID)
}

func (s *serialized) Subscribe(ctx context.Context, c contracts.OptionContract, genericTicks string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw.Subscribe(ctx, c, genericTicks)
}

func (s *serialized) Cancel(ctx context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw.Cancel(ctx, sub)
}

func (s *serialized) HistoricalBars(ctx context.Context, req BarRequest) ([]Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw.HistoricalBars(ctx, req)
}

func (s *serialized) SetMarketDataType(ctx context.Context, t int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw.SetMarketDataType(ctx, t)
}

func (s *serialized) CurrentTime(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw.CurrentTime(ctx)
}

// WithSubscription subscribes, runs fn, and always cancels the subscription.
// Cancel runs on a context detached from ctx so that it also happens after cancellation.
func WithSubscription(ctx context.Context, gw Gateway, c contracts.OptionContract, genericTicks string, log *logger.Logger, fn func(Subscription) error) error {
	sub, err := gw.Subscribe(ctx, c, genericTicks)
	if err != nil {
		return err
	}

	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if cerr := gw.Cancel(cctx, sub); cerr != nil && log != nil {
			log.WithFields(map[string]interface{}{
				"contract_id": c.ContractID,
				"sub_id":      sub.ID(),
			}).WithError(cerr).Warn("Cancel subscription failed")
		}
	}()

	return fn(sub)
}

// LatestClose returns the close of the most recent bar
func LatestClose(bars []Bar) (float64, bool) {
	if len(bars) == 0 {
		return 0, false
	}
	latest := bars[0]
	for _, b := range bars[1:] {
		if !b.Date.Before(latest.Date) {
			latest = b
		}
	}
	return latest.Close, true
}
