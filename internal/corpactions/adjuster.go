package corpactions

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
)

// Adjuster applies split adjustments to daily rows
// ⭐ SSOT: 기업행위(액면분할) 보정은 여기서만
type Adjuster struct {
	actions map[string][]contracts.CorporateAction // symbol -> effective_date 오름차순
}

// New builds an adjuster from a list of actions
func New(actions []contracts.CorporateAction) *Adjuster {
	a := &Adjuster{actions: make(map[string][]contracts.CorporateAction)}
	for _, ca := range actions {
		sym := strings.ToUpper(ca.Symbol)
		ca.Symbol = sym
		a.actions[sym] = append(a.actions[sym], ca)
	}
	for sym := range a.actions {
		list := a.actions[sym]
		sort.SliceStable(list, func(i, j int) bool { return list[i].EffectiveDate.Before(list[j].EffectiveDate) })
	}
	return a
}

// Load reads "symbol,effective_date,split_ratio"; a missing file yields an empty adjuster
func Load(path string) (*Adjuster, error) {
	if path == "" {
		return New(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(nil), nil
		}
		return nil, fmt.Errorf("open corporate actions: %w", err)
	}
	defer f.Close()

	actions, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return New(actions), nil
}

// Parse decodes the corporate action table
func Parse(r io.Reader) ([]contracts.CorporateAction, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse corporate actions: %w", err)
	}

	var out []contracts.CorporateAction
	for i, rec := range records {
		if len(rec) < 3 {
			return nil, fmt.Errorf("parse corporate actions line %d: want 3 columns, got %d", i+1, len(rec))
		}
		if i == 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "symbol") {
			continue
		}

		eff, err := calendar.Parse(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("parse corporate actions line %d: %w", i+1, err)
		}
		ratio, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil || ratio <= 0 {
			return nil, fmt.Errorf("parse corporate actions line %d: split_ratio %q must be > 0", i+1, rec[2])
		}

		out = append(out, contracts.CorporateAction{
			Symbol:        strings.ToUpper(strings.TrimSpace(rec[0])),
			EffectiveDate: eff,
			SplitRatio:    ratio,
		})
	}
	return out, nil
}

// Factor returns the composed split ratio of actions effective after tradeDate
func (a *Adjuster) Factor(symbol string, tradeDate time.Time) float64 {
	factor := 1.0
	if a == nil {
		return factor
	}
	td := calendar.Date(tradeDate)
	for _, ca := range a.actions[strings.ToUpper(symbol)] {
		if td.Before(ca.EffectiveDate) {
			factor *= ca.SplitRatio
		}
	}
	return factor
}

// Adjust returns a copy of row with the *_adj fields set
func (a *Adjuster) Adjust(row contracts.OptionRow, tradeDate time.Time) contracts.OptionRow {
	out := row.Clone()
	factor := a.Factor(row.Underlying, tradeDate)

	strikeAdj := row.Strike / factor
	out.StrikeAdj = &strikeAdj

	out.UnderlyingCloseAdj = nil
	out.MoneynessPctAdj = nil
	if row.UnderlyingClose != nil {
		ucAdj := *row.UnderlyingClose / factor
		out.UnderlyingCloseAdj = &ucAdj
		if ucAdj > 0 {
			m := (ucAdj - strikeAdj) / ucAdj
			out.MoneynessPctAdj = &m
		}
	}
	return out
}

// AdjustAll adjusts every row
func (a *Adjuster) AdjustAll(rows []contracts.OptionRow, tradeDate time.Time) []contracts.OptionRow {
	out := make([]contracts.OptionRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, a.Adjust(r, tradeDate))
	}
	return out
}

// Count returns the number of loaded actions
func (a *Adjuster) Count() int {
	n := 0
	if a == nil {
		return n
	}
	for _, list := range a.actions {
		n += len(list)
	}
	return n
}
