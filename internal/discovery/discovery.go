package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
	"github.com/wonny/optchain/pkg/ratelimit"
)

var rights = []contracts.Right{contracts.RightCall, contracts.RightPut}

// Discoverer resolves and caches the contract set per (symbol, trade_date)
// ⭐ SSOT: 수집 대상 옵션 계약 결정은 여기서만
type Discoverer struct {
	gw       gateway.Gateway
	limiter  *ratelimit.Limiter
	cache    *Cache
	filters  config.FiltersConfig
	exchange string
	perSide  int
	refresh  int
	logger   *logger.Logger
	clock    func() time.Time
}

// New creates a discoverer
func New(gw gateway.Gateway, limiter *ratelimit.Limiter, cache *Cache, cfg *config.Config, log *logger.Logger) *Discoverer {
	return &Discoverer{
		gw:       gw,
		limiter:  limiter,
		cache:    cache,
		filters:  cfg.Filters,
		exchange: "SMART",
		perSide:  cfg.Snapshot.StrikesPerSide,
		refresh:  cfg.Discovery.RefreshDays,
		logger:   log.WithField("module", "discovery"),
		clock:    time.Now,
	}
}

// WithClock overrides the clock used for cache timestamps
func (d *Discoverer) WithClock(clock func() time.Time) *Discoverer {
	d.clock = clock
	return d
}

// Discover returns the contract set of symbol for tradeDate.
// Same-day cache hits never touch the gateway.
func (d *Discoverer) Discover(ctx context.Context, symbol string, tradeDate time.Time, refPrice float64) ([]contracts.OptionContract, error) {
	tradeDate = calendar.Date(tradeDate)
	log := d.logger.WithFields(map[string]interface{}{
		"symbol":     symbol,
		"trade_date": calendar.Format(tradeDate),
	})

	// 1. 당일 캐시
	if entry, ok, err := d.cache.Load(symbol, tradeDate); err != nil {
		return nil, err
	} else if ok {
		log.WithField("contracts", len(entry.Contracts)).Debug("Contract cache hit")
		return entry.Contracts, nil
	}

	// 2. refresh_days 이내 캐시 재사용 (만기 지난 계약 제외)
	if entry, from, ok, err := d.cache.LoadRecent(symbol, tradeDate, d.refresh); err != nil {
		return nil, err
	} else if ok {
		live := unexpired(entry.Contracts, tradeDate)
		if len(live) > 0 {
			reused := &CacheEntry{
				Symbol:         entry.Symbol,
				TradeDate:      calendar.Format(tradeDate),
				ReferencePrice: entry.ReferencePrice,
				Source:         "reuse:" + calendar.Format(from),
				CreatedAt:      d.clock().UTC(),
				Contracts:      live,
			}
			if _, err := d.cache.Save(reused, tradeDate); err != nil {
				return nil, err
			}
			log.WithFields(map[string]interface{}{
				"from":      calendar.Format(from),
				"contracts": len(live),
			}).Info("Reused recent contract cache")
			return live, nil
		}
	}

	// 3. 게이트웨이 조회
	found, err := d.resolve(ctx, symbol, tradeDate, refPrice)
	if err != nil {
		return nil, err
	}

	entry := &CacheEntry{
		Symbol:         symbol,
		TradeDate:      calendar.Format(tradeDate),
		ReferencePrice: refPrice,
		Source:         "gateway",
		CreatedAt:      d.clock().UTC(),
		Contracts:      found,
	}
	if _, err := d.cache.Save(entry, tradeDate); err != nil {
		return nil, err
	}

	log.WithField("contracts", len(found)).Info("Contracts discovered")
	return found, nil
}

// CachedReferencePrice returns the reference price stored with the newest
// cached contract set of symbol (same day first, then refresh_days back)
func (d *Discoverer) CachedReferencePrice(symbol string, tradeDate time.Time) (float64, bool) {
	tradeDate = calendar.Date(tradeDate)
	if entry, ok, err := d.cache.Load(symbol, tradeDate); err == nil && ok && entry.ReferencePrice > 0 {
		return entry.ReferencePrice, true
	}
	if entry, _, ok, err := d.cache.LoadRecent(symbol, tradeDate, d.refresh); err == nil && ok && entry.ReferencePrice > 0 {
		return entry.ReferencePrice, true
	}
	return 0, false
}

// resolve queries option params and qualifies every candidate contract
func (d *Discoverer) resolve(ctx context.Context, symbol string, tradeDate time.Time, refPrice float64) ([]contracts.OptionContract, error) {
	if refPrice <= 0 {
		return nil, fmt.Errorf("%s: reference price %v: %w", symbol, refPrice, contracts.ErrDiscoveryFailed)
	}

	if err := d.limiter.Wait(ctx, ratelimit.ClassDiscovery); err != nil {
		return nil, err
	}
	underlying, err := d.gw.Qualify(ctx, contracts.Underlying(symbol))
	if err != nil {
		return nil, fmt.Errorf("qualify underlying %s: %w", symbol, err)
	}

	if err := d.limiter.Wait(ctx, ratelimit.ClassDiscovery); err != nil {
		return nil, err
	}
	params, err := d.gw.OptionParams(ctx, symbol, underlying.ContractID)
	if err != nil {
		return nil, fmt.Errorf("option params %s: %w", symbol, err)
	}
	chosen, ok := pickParams(params, d.exchange)
	if !ok {
		return nil, fmt.Errorf("%s: no option parameters: %w", symbol, contracts.ErrDiscoveryFailed)
	}

	expiries := FilterExpiries(chosen.Expirations, tradeDate, d.filters.ExpiryTypes, d.filters.ExpiryMonthsAhead)
	strikes := SelectStrikes(chosen.Strikes, refPrice, d.filters.MoneynessPct, d.perSide)

	var out []contracts.OptionContract
	for _, expiry := range expiries {
		for _, strike := range strikes {
			for _, right := range rights {
				if err := d.limiter.Wait(ctx, ratelimit.ClassDiscovery); err != nil {
					return nil, err
				}

				trial := contracts.OptionContract{
					Symbol:       symbol,
					SecType:      contracts.SecTypeOption,
					Expiry:       expiry,
					Right:        right,
					Strike:       strike,
					Multiplier:   chosen.Multiplier,
					Exchange:     chosen.Exchange,
					TradingClass: chosen.TradingClass,
					Currency:     "USD",
				}
				q, err := d.gw.Qualify(ctx, trial)
				if err != nil || q.ContractID == 0 {
					d.logger.WithFields(map[string]interface{}{
						"contract": trial.String(),
					}).Debug("Contract did not resolve")
					continue
				}
				// 요청한 조건은 유지하고 게이트웨이가 채운 식별 정보만 반영
				trial.ContractID = q.ContractID
				if q.Multiplier != 0 {
					trial.Multiplier = q.Multiplier
				}
				if q.TradingClass != "" {
					trial.TradingClass = q.TradingClass
				}
				out = append(out, trial)
			}
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %d expiries x %d strikes, none resolved: %w",
			symbol, len(expiries), len(strikes), contracts.ErrDiscoveryFailed)
	}
	return out, nil
}

// pickParams restricts to the preferred exchange if present, else the first set
func pickParams(params []gateway.OptionParams, exchange string) (gateway.OptionParams, bool) {
	if len(params) == 0 {
		return gateway.OptionParams{}, false
	}
	for _, p := range params {
		if p.Exchange == exchange {
			return p, true
		}
	}
	return params[0], true
}

func unexpired(list []contracts.OptionContract, tradeDate time.Time) []contracts.OptionContract {
	var out []contracts.OptionContract
	for _, c := range list {
		if !c.Expiry.Before(tradeDate) {
			out = append(out, c)
		}
	}
	return out
}
