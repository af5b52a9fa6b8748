package calendar

import (
	"fmt"
	"time"
	_ "time/tzdata" // America/New_York without a system zoneinfo
)

const (
	// SlotInterval is the spacing between intraday snapshot slots
	SlotInterval = 30 * time.Minute

	// FullDaySlots is the slot count of a 09:30-16:00 session
	FullDaySlots = 14
	// EarlyCloseSlots is the slot count of a 09:30-13:00 session
	EarlyCloseSlots = 8

	dateLayout = "2006-01-02"
)

var et = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("load location %s: %v", name, err))
	}
	return loc
}

// ET returns the exchange time zone
func ET() *time.Location {
	return et
}

// Session is one trading session
type Session struct {
	Date       time.Time `json:"date"`
	Open       time.Time `json:"open_et"`
	Close      time.Time `json:"close_et"`
	EarlyClose bool      `json:"early_close"`
}

// Slot is a 30-minute sampling anchor; index 0 = open, last = close
type Slot struct {
	Index int       `json:"index"`
	ET    time.Time `json:"et_time"`
	UTC   time.Time `json:"utc_time"`
	Label string    `json:"label"` // HH:MM
}

// Calendar answers trading-day and session queries for US equity options
// ⭐ SSOT: 거래일/세션 판단은 여기서만
type Calendar struct {
	// 규칙 외 임시 휴장일 (국장 등)
	closures map[string]bool
}

// New creates a calendar with the known ad-hoc closures
func New() *Calendar {
	c := &Calendar{closures: make(map[string]bool)}
	for _, d := range []string{
		"2012-10-29", "2012-10-30", // Hurricane Sandy
		"2018-12-05", // President G.H.W. Bush
		"2025-01-09", // President Carter
	} {
		c.closures[d] = true
	}
	return c
}

// AddClosure registers an extra market closure
func (c *Calendar) AddClosure(d time.Time) {
	c.closures[Format(d)] = true
}

// IsTradingDay reports whether the market is open on d
func (c *Calendar) IsTradingDay(d time.Time) bool {
	d = Date(d)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if c.closures[Format(d)] {
		return false
	}
	return !isHoliday(d)
}

// IsEarlyClose reports whether d closes at 13:00 ET
func (c *Calendar) IsEarlyClose(d time.Time) bool {
	if !c.IsTradingDay(d) {
		return false
	}
	return isEarlyClose(Date(d))
}

// Session returns the session for d; ok is false on non-trading days
func (c *Calendar) Session(d time.Time) (Session, bool) {
	if !c.IsTradingDay(d) {
		return Session{}, false
	}
	d = Date(d)
	y, m, day := d.Date()

	early := isEarlyClose(d)
	closeHour := 16
	if early {
		closeHour = 13
	}

	return Session{
		Date:       d,
		Open:       time.Date(y, m, day, 9, 30, 0, 0, et),
		Close:      time.Date(y, m, day, closeHour, 0, 0, 0, et),
		EarlyClose: early,
	}, true
}

// Slots returns the snapshot slots from open to close inclusive
func (c *Calendar) Slots(d time.Time) []Slot {
	s, ok := c.Session(d)
	if !ok {
		return nil
	}
	return s.Slots()
}

// Slots returns the 30-minute anchors of the session
func (s Session) Slots() []Slot {
	var slots []Slot
	for i, t := 0, s.Open; !t.After(s.Close); i, t = i+1, t.Add(SlotInterval) {
		slots = append(slots, Slot{
			Index: i,
			ET:    t,
			UTC:   t.UTC(),
			Label: t.Format("15:04"),
		})
	}
	return slots
}

// LastSlot returns the index of the closing slot
func (s Session) LastSlot() int {
	return int(s.Close.Sub(s.Open) / SlotInterval)
}

// NextTradingDay returns the first trading day strictly after d
func (c *Calendar) NextTradingDay(d time.Time) time.Time {
	d = Date(d).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevTradingDay returns the last trading day strictly before d
func (c *Calendar) PrevTradingDay(d time.Time) time.Time {
	d = Date(d).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// TradingDays lists trading days in [from, to]
func (c *Calendar) TradingDays(from, to time.Time) []time.Time {
	var days []time.Time
	for d := Date(from); !d.After(Date(to)); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// Date truncates t to its civil date (midnight UTC)
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current ET civil date
func Today(now time.Time) time.Time {
	return Date(now.In(et))
}

// Format renders a civil date as YYYY-MM-DD
func Format(d time.Time) string {
	return d.Format(dateLayout)
}

// Compact renders a civil date as YYYYMMDD
func Compact(d time.Time) string {
	return d.Format("20060102")
}

// Parse reads YYYY-MM-DD into a civil date
func Parse(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// DaysBetween returns the whole days from a to b
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}
