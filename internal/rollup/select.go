package rollup

import (
	"sort"

	"github.com/wonny/optchain/internal/contracts"
)

// Slots are the anchors used for strategy selection
type Slots struct {
	Close    int
	Fallback int
}

// Selection is the outcome of reducing one partition
type Selection struct {
	Rows           []contracts.OptionRow
	StrategyCounts map[string]int
	Dropped        int
}

// Select reduces intraday samples to one EOD row per contract.
// Error rows are ignored. last_good is only considered when allowLastGood is set.
func Select(rows []contracts.OptionRow, slots Slots, allowLastGood bool) Selection {
	byContract := make(map[int64][]contracts.OptionRow)
	var ids []int64
	for _, r := range rows {
		if r.IsError() || r.Slot30m == nil {
			continue
		}
		if _, ok := byContract[r.ContractID]; !ok {
			ids = append(ids, r.ContractID)
		}
		byContract[r.ContractID] = append(byContract[r.ContractID], r)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	sel := Selection{StrategyCounts: make(map[string]int)}
	for _, id := range ids {
		row, strategy, ok := pick(byContract[id], slots, allowLastGood)
		if !ok {
			sel.Dropped++
			continue
		}
		sel.Rows = append(sel.Rows, finalize(row, strategy))
		sel.StrategyCounts[strategy]++
	}
	return sel
}

// pick applies close → slot_1530 → last_good to the samples of one contract
func pick(samples []contracts.OptionRow, slots Slots, allowLastGood bool) (contracts.OptionRow, string, bool) {
	if r, ok := bestAt(samples, slots.Close); ok {
		return r, contracts.StrategyClose, true
	}
	if r, ok := bestAt(samples, slots.Fallback); ok {
		r.AddFlag(contracts.FlagDelayedFallback)
		return r, contracts.StrategySlot1530, true
	}
	if !allowLastGood {
		return contracts.OptionRow{}, "", false
	}

	var best *contracts.OptionRow
	for i := range samples {
		s := &samples[i]
		if s.HasFlag(contracts.FlagSnapshotTimedOut) {
			continue
		}
		if best == nil || *s.Slot30m > *best.Slot30m || (*s.Slot30m == *best.Slot30m && newer(*s, *best)) {
			best = s
		}
	}
	if best == nil {
		return contracts.OptionRow{}, "", false
	}
	return best.Clone(), contracts.StrategyLastGood, true
}

// bestAt returns the winning sample at slot: latest asof_ts, then latest ingest_id
func bestAt(samples []contracts.OptionRow, slot int) (contracts.OptionRow, bool) {
	var best *contracts.OptionRow
	for i := range samples {
		s := &samples[i]
		if int(*s.Slot30m) != slot {
			continue
		}
		if best == nil || newer(*s, *best) {
			best = s
		}
	}
	if best == nil {
		return contracts.OptionRow{}, false
	}
	return best.Clone(), true
}

func newer(a, b contracts.OptionRow) bool {
	if !a.AsofTS.Equal(b.AsofTS) {
		return a.AsofTS.After(b.AsofTS)
	}
	return a.IngestID > b.IngestID
}

// finalize turns the chosen sample into a daily row
func finalize(r contracts.OptionRow, strategy string) contracts.OptionRow {
	sourceTime := r.SampleTimeET
	r.Slot30m = nil
	r.RollupStrategy = contracts.String(strategy)
	r.RollupSourceTime = &sourceTime
	r.IngestRunType = contracts.RunTypeEODRollup
	return r
}

// ClampSlots fits the configured anchors to a session with lastSlot as its closing slot.
// On early-close days the close anchor becomes the session close and the fallback keeps its distance.
func ClampSlots(closeSlot, fallbackSlot, lastSlot int) Slots {
	if closeSlot <= lastSlot {
		return Slots{Close: closeSlot, Fallback: fallbackSlot}
	}
	gap := closeSlot - fallbackSlot
	fb := lastSlot - gap
	if fb < 0 {
		fb = 0
	}
	return Slots{Close: lastSlot, Fallback: fb}
}
