package calendar

import "time"

// isHoliday applies the NYSE holiday rules to a weekday d
func isHoliday(d time.Time) bool {
	y := d.Year()
	for _, h := range holidays(y) {
		if h.Equal(d) {
			return true
		}
	}
	return false
}

func holidays(y int) []time.Time {
	hs := []time.Time{
		observedNewYear(y),
		nthWeekday(y, time.January, time.Monday, 3),    // Martin Luther King Jr. Day
		nthWeekday(y, time.February, time.Monday, 3),   // Washington's Birthday
		easter(y).AddDate(0, 0, -2),                    // Good Friday
		lastWeekday(y, time.May, time.Monday),          // Memorial Day
		observed(date(y, time.July, 4)),                // Independence Day
		nthWeekday(y, time.September, time.Monday, 1),  // Labor Day
		nthWeekday(y, time.November, time.Thursday, 4), // Thanksgiving
		observed(date(y, time.December, 25)),           // Christmas
	}
	if y >= 2022 {
		hs = append(hs, observed(date(y, time.June, 19))) // Juneteenth
	}
	return hs
}

// isEarlyClose covers the 13:00 closes: Jul 3, day after Thanksgiving, Dec 24
func isEarlyClose(d time.Time) bool {
	y := d.Year()
	switch {
	case d.Equal(date(y, time.July, 3)):
		return true
	case d.Equal(nthWeekday(y, time.November, time.Thursday, 4).AddDate(0, 0, 1)):
		return true
	case d.Equal(date(y, time.December, 24)):
		return true
	}
	return false
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// observed shifts a Saturday holiday to Friday and a Sunday holiday to Monday
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// observedNewYear: NYSE does not close on Dec 31 when Jan 1 is a Saturday
func observedNewYear(y int) time.Time {
	d := date(y, time.January, 1)
	if d.Weekday() == time.Sunday {
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(y int, m time.Month, wd time.Weekday, n int) time.Time {
	d := date(y, m, 1)
	offset := (int(wd) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(y int, m time.Month, wd time.Weekday) time.Time {
	d := date(y, m+1, 1).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(wd) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// easter returns Easter Sunday (anonymous Gregorian algorithm)
func easter(y int) time.Time {
	a := y % 19
	b := y / 100
	c := y % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1
	return date(y, time.Month(month), day)
}
