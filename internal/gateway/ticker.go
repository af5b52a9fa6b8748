package gateway

import "time"

// Ticker is the asynchronously updated market state of one subscription
type Ticker struct {
	Bid    *float64 `json:"bid,omitempty"`
	Ask    *float64 `json:"ask,omitempty"`
	Last   *float64 `json:"last,omitempty"`
	Close  *float64 `json:"close,omitempty"`
	Volume *float64 `json:"volume,omitempty"`

	IV    *float64 `json:"iv,omitempty"`
	Delta *float64 `json:"delta,omitempty"`
	Gamma *float64 `json:"gamma,omitempty"`
	Theta *float64 `json:"theta,omitempty"`
	Vega  *float64 `json:"vega,omitempty"`

	UnderlyingPrice *float64  `json:"underlying_price,omitempty"`
	MarketDataType  int       `json:"market_data_type"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PriceReady: a consistent two-sided quote, or last/close for non-quote feeds
func (t Ticker) PriceReady() bool {
	if t.Bid != nil && t.Ask != nil && *t.Bid >= 0 && *t.Ask >= 0 && *t.Bid <= *t.Ask {
		return true
	}
	return t.Last != nil || t.Close != nil
}

// GreeksReady: all of iv, delta, gamma, theta, vega populated
func (t Ticker) GreeksReady() bool {
	return t.IV != nil && t.Delta != nil && t.Gamma != nil && t.Theta != nil && t.Vega != nil
}

// Ready combines the predicates; greeks are skipped when not required
func (t Ticker) Ready(requireGreeks bool) bool {
	if !t.PriceReady() {
		return false
	}
	return !requireGreeks || t.GreeksReady()
}

// Merge overlays the populated fields of u onto t
func (t Ticker) Merge(u Ticker) Ticker {
	pick := func(dst **float64, src *float64) {
		if src != nil {
			v := *src
			*dst = &v
		}
	}
	pick(&t.Bid, u.Bid)
	pick(&t.Ask, u.Ask)
	pick(&t.Last, u.Last)
	pick(&t.Close, u.Close)
	pick(&t.Volume, u.Volume)
	pick(&t.IV, u.IV)
	pick(&t.Delta, u.Delta)
	pick(&t.Gamma, u.Gamma)
	pick(&t.Theta, u.Theta)
	pick(&t.Vega, u.Vega)
	pick(&t.UnderlyingPrice, u.UnderlyingPrice)
	if u.MarketDataType != 0 {
		t.MarketDataType = u.MarketDataType
	}
	if u.UpdatedAt.After(t.UpdatedAt) {
		t.UpdatedAt = u.UpdatedAt
	}
	return t
}
