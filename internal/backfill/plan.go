// Package backfill lists the gaps in stored data so they can be re-collected.
package backfill

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/enrichment"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/logger"
)

// Task kinds
const (
	TaskIntradaySlot = "intraday_slot"
	TaskDailyClean   = "daily_clean"
	TaskOpenInterest = "open_interest"
)

// Task is one unit of missing data, written as one JSON line
type Task struct {
	Kind        string  `json:"kind"`
	TradeDate   string  `json:"trade_date"`
	Underlying  string  `json:"underlying"`
	Exchange    string  `json:"exchange"`
	Slot        *int    `json:"slot,omitempty"`
	SlotLabel   string  `json:"slot_label,omitempty"`
	ContractIDs []int64 `json:"contract_ids,omitempty"`
}

// Planner scans the clean root for gaps
type Planner struct {
	layout   storage.Layout
	writer   *storage.Writer
	calendar *calendar.Calendar
	exchange string
	logger   *logger.Logger
}

// NewPlanner creates a planner for partitions under exchange
func NewPlanner(layout storage.Layout, cal *calendar.Calendar, exchange string, log *logger.Logger) *Planner {
	return &Planner{
		layout:   layout,
		writer:   storage.NewWriter(layout),
		calendar: cal,
		exchange: exchange,
		logger:   log.WithField("module", "backfill"),
	}
}

// Plan lists missing slots, daily partitions and open interest over [from, to]
func (p *Planner) Plan(from, to time.Time, symbols []string) ([]Task, error) {
	var tasks []Task
	for _, d := range p.calendar.TradingDays(from, to) {
		session, _ := p.calendar.Session(d)
		date := calendar.Format(d)

		for _, sym := range symbols {
			for _, slot := range session.Slots() {
				path := p.layout.PartitionPath(p.layout.CleanRoot, storage.ViewIntraday, d, sym, p.exchange, slot.Index)
				if exists(path) {
					continue
				}
				idx := slot.Index
				tasks = append(tasks, Task{
					Kind:       TaskIntradaySlot,
					TradeDate:  date,
					Underlying: sym,
					Exchange:   p.exchange,
					Slot:       &idx,
					SlotLabel:  slot.Label,
				})
			}

			key := storage.PartitionKey{Date: d, Underlying: sym, Exchange: p.exchange}
			rows, err := p.writer.ReadPartition(p.layout.CleanRoot, storage.ViewDailyClean, key)
			if err != nil {
				return nil, fmt.Errorf("read daily %s %s: %w", date, sym, err)
			}
			if len(rows) == 0 {
				tasks = append(tasks, Task{Kind: TaskDailyClean, TradeDate: date, Underlying: sym, Exchange: p.exchange})
				continue
			}

			if ids := missingOpenInterest(rows); len(ids) > 0 {
				tasks = append(tasks, Task{
					Kind:        TaskOpenInterest,
					TradeDate:   date,
					Underlying:  sym,
					Exchange:    p.exchange,
					ContractIDs: ids,
				})
			}
		}
	}

	p.logger.WithFields(map[string]interface{}{
		"from":  calendar.Format(from),
		"to":    calendar.Format(to),
		"tasks": len(tasks),
	}).Info("Backfill plan built")

	return tasks, nil
}

// Write stores tasks as <state>/backfill_<created>.jsonl
func (p *Planner) Write(tasks []Task, created time.Time) (string, error) {
	if err := os.MkdirAll(p.layout.StateRoot, 0o755); err != nil {
		return "", fmt.Errorf("create state root: %w", err)
	}
	path := filepath.Join(p.layout.StateRoot, "backfill_"+calendar.Format(created)+".jsonl")
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", &storage.WriteError{Path: path, Err: err}
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, t := range tasks {
		if err := enc.Encode(t); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return "", fmt.Errorf("encode task: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", &storage.WriteError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", &storage.WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", &storage.WriteError{Path: path, Err: err}
	}
	return path, nil
}

// Counts groups tasks by kind
func Counts(tasks []Task) map[string]int {
	out := map[string]int{TaskIntradaySlot: 0, TaskDailyClean: 0, TaskOpenInterest: 0}
	for _, t := range tasks {
		out[t.Kind]++
	}
	return out
}

func missingOpenInterest(rows []contracts.OptionRow) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, r := range rows {
		if !enrichment.NeedsOpenInterest(r, false) || seen[r.ContractID] {
			continue
		}
		seen[r.ContractID] = true
		ids = append(ids, r.ContractID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
