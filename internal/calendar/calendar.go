// Package calendar decodes and encodes numeric time coordinates for the
// named calendars used by climate model output. A coordinate value is a
// count of seconds/minutes/hours/days since a reference date, interpreted
// under a particular date arithmetic (e.g. a 365-day "noleap" year).
package calendar

import (
	"fmt"
	"strings"
)

// Calendar selects the date arithmetic used to interpret time values.
type Calendar int

const (
	Standard Calendar = iota // mixed Gregorian/Julian, treated as proleptic Gregorian
	ProlepticGregorian
	NoLeap  // 365_day
	AllLeap // 366_day
	Day360  // 360_day
	Julian
)

// Parse maps a CF calendar attribute value to a Calendar.
func Parse(name string) (Calendar, error) {
	switch strings.ToLower(name) {
	case "standard", "gregorian":
		return Standard, nil
	case "proleptic_gregorian":
		return ProlepticGregorian, nil
	case "noleap", "365_day":
		return NoLeap, nil
	case "all_leap", "366_day":
		return AllLeap, nil
	case "360_day":
		return Day360, nil
	case "julian":
		return Julian, nil
	}
	return Standard, fmt.Errorf("unknown calendar %q", name)
}

func (c Calendar) String() string {
	switch c {
	case ProlepticGregorian:
		return "proleptic_gregorian"
	case NoLeap:
		return "noleap"
	case AllLeap:
		return "all_leap"
	case Day360:
		return "360_day"
	case Julian:
		return "julian"
	default:
		return "standard"
	}
}

// Date is a calendar-agnostic broken-down timestamp. Model calendars reach
// year numbers far outside time.Time's practical range (year 1 spinups are
// common), so this is kept independent of the time package.
type Date struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// String renders "YYYY-MM-DD hh:mm:ss" with the year zero-padded to four
// digits, so lexical order agrees with chronological order even for small
// year numbers.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

// Compare returns -1, 0 or 1 ordering d against o.
func (d Date) Compare(o Date) int {
	a := [6]int{d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second}
	b := [6]int{o.Year, o.Month, o.Day, o.Hour, o.Minute, o.Second}
	for i := range a {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
var monthDaysLeap = [12]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func isGregorianLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// daysFromEpoch counts whole days from year 0, month 1, day 1 of the
// calendar to the given date.
func daysFromEpoch(c Calendar, y, m, day int) int {
	switch c {
	case Day360:
		return y*360 + (m-1)*30 + (day - 1)
	case NoLeap:
		return y*365 + cumDays(monthDays, m) + (day - 1)
	case AllLeap:
		return y*366 + cumDays(monthDaysLeap, m) + (day - 1)
	case Julian:
		// leap every 4 years, including year 0
		days := y*365 + (y+3)/4
		md := monthDays
		if y%4 == 0 {
			md = monthDaysLeap
		}
		return days + cumDays(md, m) + (day - 1)
	default:
		// proleptic Gregorian civil-day arithmetic
		leaps := 0
		if y > 0 {
			yy := y - 1
			leaps = yy/4 - yy/100 + yy/400 + 1 // year 0 is a leap year
		}
		days := y*365 + leaps
		md := monthDays
		if isGregorianLeap(y) {
			md = monthDaysLeap
		}
		return days + cumDays(md, m) + (day - 1)
	}
}

func cumDays(md [12]int, month int) int {
	n := 0
	for i := 0; i < month-1 && i < 12; i++ {
		n += md[i]
	}
	return n
}

func daysInYear(c Calendar, y int) int {
	switch c {
	case Day360:
		return 360
	case NoLeap:
		return 365
	case AllLeap:
		return 366
	case Julian:
		if y%4 == 0 {
			return 366
		}
		return 365
	default:
		if isGregorianLeap(y) {
			return 366
		}
		return 365
	}
}

func daysInMonth(c Calendar, y, m int) int {
	if c == Day360 {
		return 30
	}
	md := monthDays
	switch c {
	case AllLeap:
		md = monthDaysLeap
	case NoLeap:
	case Julian:
		if y%4 == 0 {
			md = monthDaysLeap
		}
	default:
		if isGregorianLeap(y) {
			md = monthDaysLeap
		}
	}
	return md[m-1]
}

// dateFromDays inverts daysFromEpoch.
func dateFromDays(c Calendar, days int) Date {
	y := 0
	for days < 0 {
		y--
		days += daysInYear(c, y)
	}
	for {
		n := daysInYear(c, y)
		if days < n {
			break
		}
		days -= n
		y++
	}
	m := 1
	for {
		n := daysInMonth(c, y, m)
		if days < n {
			break
		}
		days -= n
		m++
	}
	return Date{Year: y, Month: m, Day: days + 1}
}
