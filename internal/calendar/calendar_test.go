package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) time.Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestIsTradingDay(t *testing.T) {
	cal := New()

	tests := []struct {
		date string
		want bool
	}{
		{"2025-10-06", true},  // Monday
		{"2025-10-04", false}, // Saturday
		{"2025-01-01", false}, // New Year
		{"2023-01-02", false}, // New Year observed (Sunday)
		{"2021-12-31", true},  // Jan 1 2022 is a Saturday; no observed closure
		{"2025-01-20", false}, // MLK
		{"2025-02-17", false}, // Presidents
		{"2025-04-18", false}, // Good Friday
		{"2024-03-29", false}, // Good Friday
		{"2025-05-26", false}, // Memorial
		{"2025-06-19", false}, // Juneteenth
		{"2022-06-20", false}, // Juneteenth observed
		{"2021-06-18", true},  // before Juneteenth became a holiday
		{"2025-07-04", false}, // Independence
		{"2025-09-01", false}, // Labor
		{"2025-11-27", false}, // Thanksgiving
		{"2025-12-25", false}, // Christmas
		{"2021-12-24", false}, // Christmas observed
		{"2018-12-05", false}, // ad-hoc closure
		{"2025-01-09", false}, // ad-hoc closure
		{"2025-07-03", true},  // early close is still a trading day
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsTradingDay(d(tt.date)))
		})
	}
}

func TestSessionFullDay(t *testing.T) {
	cal := New()

	s, ok := cal.Session(d("2025-10-06"))
	require.True(t, ok)
	assert.False(t, s.EarlyClose)
	assert.Equal(t, "09:30", s.Open.Format("15:04"))
	assert.Equal(t, "16:00", s.Close.Format("15:04"))
	assert.Equal(t, 13, s.LastSlot())

	slots := s.Slots()
	require.Len(t, slots, FullDaySlots)
	assert.Equal(t, "09:30", slots[0].Label)
	assert.Equal(t, "15:30", slots[12].Label)
	assert.Equal(t, "16:00", slots[13].Label)
	// EDT: 16:00 ET = 20:00 UTC
	assert.Equal(t, time.Date(2025, 10, 6, 20, 0, 0, 0, time.UTC), slots[13].UTC)
}

func TestSessionEarlyClose(t *testing.T) {
	cal := New()

	for _, date := range []string{"2025-07-03", "2025-11-28", "2025-12-24"} {
		t.Run(date, func(t *testing.T) {
			s, ok := cal.Session(d(date))
			require.True(t, ok)
			assert.True(t, s.EarlyClose)
			assert.Equal(t, "13:00", s.Close.Format("15:04"))

			slots := s.Slots()
			require.Len(t, slots, EarlyCloseSlots)
			assert.Equal(t, "13:00", slots[len(slots)-1].Label)
			assert.Equal(t, 7, s.LastSlot())
		})
	}
}

func TestSessionNonTradingDay(t *testing.T) {
	cal := New()

	_, ok := cal.Session(d("2025-12-25"))
	assert.False(t, ok)
	assert.Nil(t, cal.Slots(d("2025-12-27")))
	assert.False(t, cal.IsEarlyClose(d("2025-12-25")))
}

func TestTradingDayNavigation(t *testing.T) {
	cal := New()

	assert.Equal(t, d("2025-07-07"), cal.NextTradingDay(d("2025-07-03")))
	assert.Equal(t, d("2025-12-24"), cal.PrevTradingDay(d("2025-12-26")))
	assert.Len(t, cal.TradingDays(d("2025-10-06"), d("2025-10-12")), 5)
}

func TestAddClosure(t *testing.T) {
	cal := New()
	cal.AddClosure(d("2025-10-07"))
	assert.False(t, cal.IsTradingDay(d("2025-10-07")))
}

func TestDateHelpers(t *testing.T) {
	now := time.Date(2025, 10, 7, 2, 0, 0, 0, time.UTC) // 22:00 ET on Oct 6
	assert.Equal(t, d("2025-10-06"), Today(now))
	assert.Equal(t, "20251006", Compact(d("2025-10-06")))
	assert.Equal(t, 14, DaysBetween(d("2025-10-01"), d("2025-10-15")))

	_, err := Parse("10/06/2025")
	assert.Error(t, err)
}
