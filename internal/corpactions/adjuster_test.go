package corpactions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
)

func row(strike, underlying float64) contracts.OptionRow {
	return contracts.OptionRow{
		Underlying:      "AAPL",
		Strike:          strike,
		UnderlyingClose: contracts.Float(underlying),
	}
}

func TestAdjustSplit(t *testing.T) {
	actions, err := Parse(strings.NewReader("symbol,effective_date,split_ratio\nAAPL,2024-09-15,2.0\n"))
	require.NoError(t, err)
	a := New(actions)

	before, _ := calendar.Parse("2024-08-01")
	got := a.Adjust(row(200, 180), before)

	assert.Equal(t, 100.0, *got.StrikeAdj)
	assert.Equal(t, 90.0, *got.UnderlyingCloseAdj)
	assert.InDelta(t, (90.0-100.0)/90.0, *got.MoneynessPctAdj, 1e-12)
	// 원본 필드는 그대로
	assert.Equal(t, 200.0, got.Strike)
	assert.Equal(t, 180.0, *got.UnderlyingClose)

	onDate, _ := calendar.Parse("2024-09-15")
	same := a.Adjust(row(200, 180), onDate)
	assert.Equal(t, 200.0, *same.StrikeAdj)
	assert.Equal(t, 180.0, *same.UnderlyingCloseAdj)
	assert.InDelta(t, (180.0-200.0)/180.0, *same.MoneynessPctAdj, 1e-12)
}

func TestActionsCompose(t *testing.T) {
	d1, _ := calendar.Parse("2020-08-31")
	d2, _ := calendar.Parse("2024-06-10")
	a := New([]contracts.CorporateAction{
		{Symbol: "nvda", EffectiveDate: d2, SplitRatio: 10},
		{Symbol: "NVDA", EffectiveDate: d1, SplitRatio: 4},
	})

	early, _ := calendar.Parse("2019-01-02")
	mid, _ := calendar.Parse("2022-01-03")
	late, _ := calendar.Parse("2025-01-02")

	assert.Equal(t, 40.0, a.Factor("NVDA", early))
	assert.Equal(t, 10.0, a.Factor("NVDA", mid))
	assert.Equal(t, 1.0, a.Factor("NVDA", late))
	assert.Equal(t, 1.0, a.Factor("AAPL", early))
	assert.Equal(t, 2, a.Count())
}

func TestAdjustWithoutUnderlyingClose(t *testing.T) {
	a := New(nil)
	d, _ := calendar.Parse("2025-10-06")

	got := a.Adjust(contracts.OptionRow{Underlying: "AAPL", Strike: 150}, d)
	assert.Equal(t, 150.0, *got.StrikeAdj)
	assert.Nil(t, got.UnderlyingCloseAdj)
	assert.Nil(t, got.MoneynessPctAdj)
}

func TestLoad(t *testing.T) {
	a, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	require.NoError(t, err)
	assert.Zero(t, a.Count())

	path := filepath.Join(t.TempDir(), "ca.csv")
	require.NoError(t, os.WriteFile(path, []byte("AAPL,2020-08-31,4\nTSLA,2022-08-25,3\n"), 0o644))
	a, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Count())

	_, err = Parse(strings.NewReader("AAPL,2020-08-31,0\n"))
	assert.Error(t, err)
	_, err = Parse(strings.NewReader("AAPL,08/31/2020,4\n"))
	assert.Error(t, err)
}
