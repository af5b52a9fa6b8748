package discovery

import (
	"sort"
	"time"

	"github.com/wonny/optchain/internal/calendar"
)

// ThirdFriday returns the third Friday of the month
func ThirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}

// IsThirdFridayFamily reports d within one day of its month's third Friday.
// Covers Saturday-dated legacy expiries and Thursday expiries before a holiday.
func IsThirdFridayFamily(d time.Time) bool {
	d = calendar.Date(d)
	tf := ThirdFriday(d.Year(), d.Month())
	diff := d.Sub(tf)
	return diff >= -24*time.Hour && diff <= 24*time.Hour
}

// IsQuarterlyExpiry reports a third-Friday-family expiry in Mar/Jun/Sep/Dec
func IsQuarterlyExpiry(d time.Time) bool {
	switch d.Month() {
	case time.March, time.June, time.September, time.December:
		return IsThirdFridayFamily(d)
	}
	return false
}

// IsMonthlyExpiry reports a standard monthly expiry
func IsMonthlyExpiry(d time.Time) bool {
	return IsThirdFridayFamily(d)
}

// PickNearestQuarterly prefers the nearest future quarterly expiry,
// then the nearest future expiry, then the latest past expiry.
func PickNearestQuarterly(expiries []time.Time, asof time.Time) (time.Time, bool) {
	if len(expiries) == 0 {
		return time.Time{}, false
	}
	sorted := append([]time.Time(nil), expiries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	asof = calendar.Date(asof)

	for _, e := range sorted {
		if !e.Before(asof) && IsQuarterlyExpiry(e) {
			return e, true
		}
	}
	for _, e := range sorted {
		if !e.Before(asof) {
			return e, true
		}
	}
	return sorted[len(sorted)-1], true
}

// FilterExpiries keeps expiries in [tradeDate, tradeDate+monthsAhead] matching any of types
func FilterExpiries(raw []string, tradeDate time.Time, types []string, monthsAhead int) []time.Time {
	tradeDate = calendar.Date(tradeDate)
	limit := tradeDate.AddDate(0, monthsAhead, 0)

	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, s := range raw {
		e, err := time.Parse("20060102", s)
		if err != nil {
			continue
		}
		if e.Before(tradeDate) || e.After(limit) || seen[e] {
			continue
		}
		if !matchesType(e, types) {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func matchesType(e time.Time, types []string) bool {
	for _, t := range types {
		switch t {
		case "monthly":
			if IsMonthlyExpiry(e) {
				return true
			}
		case "quarterly":
			if IsQuarterlyExpiry(e) {
				return true
			}
		}
	}
	return false
}
