package contracts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFlagSetStaysSortedAndUnique(t *testing.T) {
	var row OptionRow
	row.AddFlag(FlagSnapshotTimedOut)
	row.AddFlag(FlagCrossedMarket)
	row.AddFlag(FlagMissingOI)
	row.AddFlag(FlagCrossedMarket)

	assert.Equal(t, []string{"crossed_market", "missing_oi", "snapshot_timed_out"}, row.DataQualityFlag)
	assert.True(t, row.HasFlag(FlagMissingOI))

	row.RemoveFlag(FlagMissingOI)
	assert.Equal(t, []string{"crossed_market", "snapshot_timed_out"}, row.DataQualityFlag)
	assert.False(t, row.HasFlag(FlagMissingOI))
}

func TestHasFlagOnMapValues(t *testing.T) {
	rows := map[int64]OptionRow{
		1001: {DataQualityFlag: []string{"missing_oi"}},
		1002: {},
	}

	assert.True(t, rows[1001].HasFlag(FlagMissingOI))
	assert.False(t, rows[1002].HasFlag(FlagMissingOI))
	assert.False(t, rows[9999].HasFlag(FlagMissingOI))
}

func TestCloneDoesNotShare(t *testing.T) {
	row := OptionRow{
		Bid:             Float(1.0),
		OpenInterest:    Int64(10),
		Slot30m:         Int32(3),
		DataQualityFlag: []string{"missing_oi"},
	}

	cp := row.Clone()
	*cp.Bid = 2.0
	*cp.OpenInterest = 20
	cp.AddFlag(FlagOIEnriched)

	assert.Equal(t, 1.0, *row.Bid)
	assert.Equal(t, int64(10), *row.OpenInterest)
	assert.Equal(t, []string{"missing_oi"}, row.DataQualityFlag)
}

func TestContractKeyAndString(t *testing.T) {
	c := OptionContract{
		Symbol:     "AAPL",
		ContractID: 1001,
		SecType:    SecTypeOption,
		Expiry:     time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC),
		Right:      RightCall,
		Strike:     decimal.NewFromInt(150),
		Exchange:   "SMART",
	}

	assert.Equal(t, "AAPL 2025-12-20 C150", c.String())
	assert.Equal(t, ContractKey{"AAPL", "2025-12-20", RightCall, "150", "SMART"}, c.Key())
	assert.False(t, Underlying("AAPL").IsOption())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("dial: %w", ErrGatewayUnavailable), "gateway_unavailable"},
		{fmt.Errorf("sub: %w", ErrSubscriptionFailed), "subscription_failed"},
		{ErrNoBook, "no_book"},
		{SchemaViolation{Field: "iv", Value: -1, Reason: "negative"}, "schema_violation"},
		{errors.New("boom"), "fetch_error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), tt.err.Error())
	}

	assert.True(t, IsRetriable(fmt.Errorf("x: %w", ErrTimeout)))
	assert.False(t, IsRetriable(ErrSchemaViolation))
}

func TestUniverseBackfill(t *testing.T) {
	u := Universe{Entries: []UniverseEntry{{Symbol: "AAPL"}, {Symbol: "MSFT", ContractID: 272093}}}

	changed := u.BackfillContractIDs(map[string]int64{"AAPL": 265598, "MSFT": 1})
	assert.Equal(t, 1, changed)
	assert.Equal(t, int64(265598), u.Entries[0].ContractID)
	assert.Equal(t, int64(272093), u.Entries[1].ContractID)
	assert.Equal(t, []string{"AAPL", "MSFT"}, u.Symbols())
}
