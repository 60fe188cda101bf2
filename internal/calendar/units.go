package calendar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Units is a parsed CF time units attribute such as
// "days since 1900-01-01 00:00:00".
type Units struct {
	Seconds float64 // seconds per unit step
	Epoch   Date
}

var unitSeconds = map[string]float64{
	"second":  1,
	"seconds": 1,
	"sec":     1,
	"secs":    1,
	"s":       1,
	"minute":  60,
	"minutes": 60,
	"min":     60,
	"mins":    60,
	"hour":    3600,
	"hours":   3600,
	"hr":      3600,
	"hrs":     3600,
	"h":       3600,
	"day":     86400,
	"days":    86400,
	"d":       86400,
}

// ParseUnits parses a "<unit> since <date>[ <time>]" units string.
func ParseUnits(units string) (Units, error) {
	fields := strings.Fields(units)
	if len(fields) < 3 || strings.ToLower(fields[1]) != "since" {
		return Units{}, fmt.Errorf("unparseable time units %q", units)
	}
	sec, ok := unitSeconds[strings.ToLower(fields[0])]
	if !ok {
		return Units{}, fmt.Errorf("unsupported time unit %q", fields[0])
	}
	epoch, err := parseEpoch(fields[2:])
	if err != nil {
		return Units{}, fmt.Errorf("unparseable reference date in %q: %w", units, err)
	}
	return Units{Seconds: sec, Epoch: epoch}, nil
}

func parseEpoch(fields []string) (Date, error) {
	var d Date
	ymd := strings.SplitN(fields[0], "-", 3)
	if len(ymd) != 3 {
		return d, fmt.Errorf("bad date %q", fields[0])
	}
	var err error
	if d.Year, err = strconv.Atoi(ymd[0]); err != nil {
		return d, err
	}
	if d.Month, err = strconv.Atoi(ymd[1]); err != nil {
		return d, err
	}
	if d.Day, err = strconv.Atoi(ymd[2]); err != nil {
		return d, err
	}
	if len(fields) > 1 {
		hms := strings.SplitN(fields[1], ":", 3)
		parts := []*int{&d.Hour, &d.Minute, &d.Second}
		for i, s := range hms {
			// tolerate fractional seconds in the reference time
			if i == 2 {
				if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
					d.Second = int(f)
					continue
				}
			}
			if *parts[i], err = strconv.Atoi(s); err != nil {
				return d, err
			}
		}
	}
	if d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return d, fmt.Errorf("bad date %q", fields[0])
	}
	return d, nil
}

// Decode converts a numeric time coordinate value to a Date under the given
// units string and calendar.
func Decode(value float64, units string, cal Calendar) (Date, error) {
	u, err := ParseUnits(units)
	if err != nil {
		return Date{}, err
	}
	return u.Decode(value, cal), nil
}

// Decode converts a coordinate value to a Date.
func (u Units) Decode(value float64, cal Calendar) Date {
	epochSec := int64(daysFromEpoch(cal, u.Epoch.Year, u.Epoch.Month, u.Epoch.Day))*86400 +
		int64(u.Epoch.Hour*3600+u.Epoch.Minute*60+u.Epoch.Second)
	total := epochSec + int64(math.Round(value*u.Seconds))
	days := total / 86400
	rem := total % 86400
	if rem < 0 {
		days--
		rem += 86400
	}
	d := dateFromDays(cal, int(days))
	d.Hour = int(rem / 3600)
	d.Minute = int(rem % 3600 / 60)
	d.Second = int(rem % 60)
	return d
}

// Encode is the inverse of Decode: it converts a Date back to a coordinate
// value under the given units and calendar.
func (u Units) Encode(d Date, cal Calendar) float64 {
	sec := int64(daysFromEpoch(cal, d.Year, d.Month, d.Day))*86400 +
		int64(d.Hour*3600+d.Minute*60+d.Second)
	epochSec := int64(daysFromEpoch(cal, u.Epoch.Year, u.Epoch.Month, u.Epoch.Day))*86400 +
		int64(u.Epoch.Hour*3600+u.Epoch.Minute*60+u.Epoch.Second)
	return float64(sec-epochSec) / u.Seconds
}

// Encode converts a Date to a numeric coordinate value.
func Encode(d Date, units string, cal Calendar) (float64, error) {
	u, err := ParseUnits(units)
	if err != nil {
		return 0, err
	}
	return u.Encode(d, cal), nil
}
