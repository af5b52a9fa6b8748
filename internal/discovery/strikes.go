package discovery

import (
	"sort"

	"github.com/shopspring/decimal"
)

// StrikeStep returns the listing step expected around a reference price
func StrikeStep(ref decimal.Decimal) decimal.Decimal {
	switch {
	case ref.LessThan(decimal.NewFromInt(25)):
		return decimal.NewFromInt(1)
	case ref.LessThan(decimal.NewFromInt(200)):
		return decimal.NewFromInt(5)
	default:
		return decimal.NewFromInt(10)
	}
}

// SelectStrikes keeps strikes within ±moneyness×ref and at most perSide on each side of ref.
// Candidates are ranked by (multiple of step first, |strike-ref|, strike); the result keeps that order.
func SelectStrikes(strikes []float64, ref float64, moneyness float64, perSide int) []decimal.Decimal {
	refD := decimal.NewFromFloat(ref)
	band := refD.Mul(decimal.NewFromFloat(moneyness))
	lo, hi := refD.Sub(band), refD.Add(band)
	step := StrikeStep(refD)

	seen := make(map[string]bool)
	var candidates []decimal.Decimal
	for _, s := range strikes {
		d := decimal.NewFromFloat(s)
		if d.LessThan(lo) || d.GreaterThan(hi) || seen[d.String()] {
			continue
		}
		seen[d.String()] = true
		candidates = append(candidates, d)
	}

	SortStrikes(candidates, refD, step)

	if perSide <= 0 {
		return candidates
	}

	var out []decimal.Decimal
	below, above := 0, 0
	for _, s := range candidates {
		if s.LessThanOrEqual(refD) {
			if below < perSide {
				out = append(out, s)
				below++
			}
			continue
		}
		if above < perSide {
			out = append(out, s)
			above++
		}
	}
	return out
}

// SortStrikes orders strikes by (is multiple of step desc, |strike-ref|, strike)
func SortStrikes(strikes []decimal.Decimal, ref, step decimal.Decimal) {
	sort.SliceStable(strikes, func(i, j int) bool {
		mi := strikes[i].Mod(step).IsZero()
		mj := strikes[j].Mod(step).IsZero()
		if mi != mj {
			return mi
		}
		di := strikes[i].Sub(ref).Abs()
		dj := strikes[j].Sub(ref).Abs()
		if c := di.Cmp(dj); c != 0 {
			return c < 0
		}
		return strikes[i].LessThan(strikes[j])
	})
}
