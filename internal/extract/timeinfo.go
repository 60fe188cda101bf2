package extract

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"nccatalog/internal/calendar"
	"nccatalog/internal/ncio"
)

var errEmptyTime = errors.New("zero-length time dimension")

// FindTimeDimension locates the time dimension of a file, cascading
// through checks guided by the CF conventions: a coordinate with
// standard_name "time", one with axis "T", the record dimension, and
// finally a dimension literally named "time". Returns "" if none match.
//
// The units attribute would be a further hint, but bounds variables can
// share the time units, and a false positive here is very confusing.
func FindTimeDimension(f ncio.File) string {
	if dim := dimWithAttribute(f, "standard_name", "time"); dim != "" {
		return dim
	}
	if dim := dimWithAttribute(f, "axis", "T"); dim != "" {
		return dim
	}
	if dim := f.Unlimited(); dim != "" {
		return dim
	}
	for _, dim := range f.Dimensions() {
		if strings.EqualFold(dim, "time") {
			return dim
		}
	}
	return ""
}

// dimWithAttribute finds a dimension whose coordinate variable carries
// attribute=value.
func dimWithAttribute(f ncio.File, attribute, value string) string {
	for _, dim := range f.Dimensions() {
		v, err := f.Variable(dim)
		if err != nil {
			continue
		}
		if v.Attributes()[attribute] == value {
			return dim
		}
	}
	return ""
}

// updateTimeInfo fills the temporal fields of meta from the file's time
// coordinate. A file without any time dimension is left untouched. A file
// whose time coordinate lacks units or calendar is non-CF-compliant and is
// also left untouched. A zero-length time dimension is reported as Empty.
func updateTimeInfo(f ncio.File, meta *FileMeta) (Kind, error) {
	timeDim := FindTimeDimension(f)
	if timeDim == "" {
		return Ok, nil
	}

	timeVar, err := f.Variable(timeDim)
	if err != nil {
		return Ok, nil // dimension without a coordinate variable
	}
	n, _ := f.DimLen(timeDim)
	if n == 0 {
		n = timeVar.Len()
	}
	if n == 0 {
		return Empty, errEmptyTime
	}

	attrs := timeVar.Attributes()
	units, hasUnits := attrs["units"]
	calName, hasCal := attrs["calendar"]
	if !hasUnits || !hasCal {
		// non-CF-compliant file, don't process further
		return Ok, nil
	}
	cal, err := calendar.Parse(calName)
	if err != nil {
		return Broken, err
	}
	cfUnits, err := calendar.ParseUnits(units)
	if err != nil {
		return Broken, err
	}

	boundsName := attrs["bounds"]
	var bounds ncio.Var
	if boundsName != "" {
		if bv, err := f.Variable(boundsName); err == nil {
			bounds = bv
		}
	}

	var start, end, next float64
	hasNext := false
	if bounds != nil {
		nb := int64(1)
		if dims := bounds.Dimensions(); len(dims) > 0 {
			if bn, ok := f.DimLen(dims[0]); ok {
				nb = bn
			}
		}
		first, err := readFloats(bounds, 0, 1)
		if err != nil || len(first) < 2 {
			return Broken, fmt.Errorf("read bounds %s: %w", boundsName, err)
		}
		last, err := readFloats(bounds, nb-1, nb)
		if err != nil || len(last) < 2 {
			return Broken, fmt.Errorf("read bounds %s: %w", boundsName, err)
		}
		// a bounds interval gives the averaging period, which is easier
		// to work with than the spacing of interval midpoints
		start, next, end = first[0], first[1], last[1]
		hasNext = true
	} else {
		first, err := readFloats(timeVar, 0, 1)
		if err != nil || len(first) < 1 {
			return Broken, fmt.Errorf("read time %s: %w", timeDim, err)
		}
		last, err := readFloats(timeVar, n-1, n)
		if err != nil || len(last) < 1 {
			return Broken, fmt.Errorf("read time %s: %w", timeDim, err)
		}
		start, end = first[0], last[0]
		if n > 1 {
			pair, err := readFloats(timeVar, 0, 2)
			if err != nil || len(pair) < 2 {
				return Broken, fmt.Errorf("read time %s: %w", timeDim, err)
			}
			next = pair[1]
			hasNext = true
		}
	}

	meta.TimeStart = cfUnits.Decode(start, cal).String()
	meta.TimeEnd = cfUnits.Decode(end, cal).String()
	if hasNext {
		meta.Frequency = classifyFrequency((next - start) * cfUnits.Seconds)
	} else {
		// single time value and no averaging bounds
		meta.Frequency = "static"
	}
	return Ok, nil
}

// classifyFrequency maps an interval in seconds to the frequency label.
// The thresholds are heuristic and deliberately unchanged from long
// standing behaviour: >=365 days yearly, >=28 days monthly, >=1 day daily,
// else hourly.
func classifyFrequency(seconds float64) string {
	days := int(seconds / 86400)
	switch {
	case days >= 365:
		return fmt.Sprintf("%d yearly", int(math.Round(float64(days)/365)))
	case days >= 28:
		return fmt.Sprintf("%d monthly", int(math.Round(float64(days)/30)))
	case days >= 1:
		return fmt.Sprintf("%d daily", days)
	default:
		return fmt.Sprintf("%d hourly", int(seconds)/3600)
	}
}

func readFloats(v ncio.Var, begin, end int64) ([]float64, error) {
	raw, err := v.Read(begin, end)
	if err != nil {
		return nil, err
	}
	return ncio.Floats(raw)
}
