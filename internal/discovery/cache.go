package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
)

// CacheEntry is the persisted contract set of one (symbol, trade_date)
type CacheEntry struct {
	Symbol         string                     `json:"symbol"`
	TradeDate      string                     `json:"trade_date"`
	ReferencePrice float64                    `json:"reference_price"`
	Source         string                     `json:"source"` // gateway | reuse:<date>
	CreatedAt      time.Time                  `json:"created_at"`
	Contracts      []contracts.OptionContract `json:"contracts"`
}

// Cache stores contract sets at <state>/contracts_cache/<SYM>_<YYYY-MM-DD>.json
type Cache struct {
	dir string
}

// NewCache creates a cache rooted at dir
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Path returns the cache file of (symbol, date)
func (c *Cache) Path(symbol string, date time.Time) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.json", strings.ToUpper(symbol), calendar.Format(date)))
}

// Load reads the entry of (symbol, date); ok is false when absent
func (c *Cache) Load(symbol string, date time.Time) (*CacheEntry, bool, error) {
	data, err := os.ReadFile(c.Path(symbol, date))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read contract cache: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode contract cache %s: %w", c.Path(symbol, date), err)
	}
	return &entry, true, nil
}

// Save writes the entry once; an existing file for the same day is left untouched
func (c *Cache) Save(entry *CacheEntry, date time.Time) (bool, error) {
	path := c.Path(entry.Symbol, date)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return false, fmt.Errorf("create contract cache dir: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode contract cache: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write contract cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("write contract cache: %w", err)
	}
	return true, nil
}

// LoadRecent finds the newest entry within refreshDays before date (exclusive of date)
func (c *Cache) LoadRecent(symbol string, date time.Time, refreshDays int) (*CacheEntry, time.Time, bool, error) {
	for back := 1; back < refreshDays; back++ {
		d := calendar.Date(date).AddDate(0, 0, -back)
		entry, ok, err := c.Load(symbol, d)
		if err != nil {
			return nil, time.Time{}, false, err
		}
		if ok {
			return entry, d, true, nil
		}
	}
	return nil, time.Time{}, false, nil
}
