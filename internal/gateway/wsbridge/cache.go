package wsbridge

import (
	"sync"

	"github.com/wonny/optchain/internal/gateway"
)

// tickerCache keeps the latest ticker per subscription
// ⭐ SSOT: 구독별 최신 시세는 여기서만 보관
type tickerCache struct {
	mu      sync.RWMutex
	tickers map[string]gateway.Ticker
}

func newTickerCache() *tickerCache {
	return &tickerCache{tickers: make(map[string]gateway.Ticker)}
}

// register starts tracking a subscription
func (c *tickerCache) register(subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tickers[subID]; !ok {
		c.tickers[subID] = gateway.Ticker{}
	}
}

// update merges a pushed ticker; unknown subscriptions and older updates are rejected
func (c *tickerCache) update(subID string, t gateway.Ticker) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.tickers[subID]
	if !ok {
		return false
	}
	if !t.UpdatedAt.IsZero() && t.UpdatedAt.Before(existing.UpdatedAt) {
		return false
	}
	c.tickers[subID] = existing.Merge(t)
	return true
}

func (c *tickerCache) get(subID string) gateway.Ticker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickers[subID]
}

func (c *tickerCache) remove(subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tickers, subID)
}

func (c *tickerCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tickers)
}
