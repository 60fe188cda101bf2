// Package query resolves (experiment, variable, constraints) against the
// catalog and assembles lazy multi-file views of the results. A query
// never silently resolves ambiguity: incompatible samplings in a result
// set always produce a warning, or an error in strict mode.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"nccatalog/internal/catalog"
	"nccatalog/internal/logging"
)

// ErrVariableNotFound is returned when a query matches no catalog rows.
var ErrVariableNotFound = errors.New("variable not found")

// AmbiguityError is the strict-mode escalation of ambiguity warnings.
type AmbiguityError struct {
	Warnings []string
}

func (e *AmbiguityError) Error() string {
	return "ambiguous query result: " + strings.Join(e.Warnings, "; ")
}

// Options constrain a variable query. Experiment and Variable are
// required.
type Options struct {
	Experiment string
	// RootDir disambiguates experiments sharing a name; optional.
	RootDir  string
	Variable string

	// File restricts matches to paths ending with this pattern.
	File string
	// StartTime / EndTime restrict matches to files overlapping the
	// window, as (possibly partial) "YYYY-MM-DD hh:mm:ss" strings.
	StartTime string
	EndTime   string
	// Frequency restricts matches to one recorded frequency.
	Frequency string
	// Attrs are attribute values every match must carry.
	Attrs map[string]string
	// AttrsUnique maps attribute names that must be unique across the
	// result to their preferred value; nil selects the default, which
	// disambiguates instantaneous vs time-averaged copies of a name via
	// cell_methods. Pass an empty map to disable.
	AttrsUnique map[string]string
	// N restricts the result to the first n files (n > 0) or the last n
	// (n < 0) after all other filtering.
	N int
	// Strict promotes ambiguity warnings to an error.
	Strict bool
}

// DefaultAttrsUnique is applied when Options.AttrsUnique is nil.
func DefaultAttrsUnique() map[string]string {
	return map[string]string{"cell_methods": "time: mean"}
}

// Resolution is an ordered, disambiguated result set.
type Resolution struct {
	Matches  []catalog.VarRow
	Warnings []string
}

// Resolve returns the catalog rows for a variable, ordered by time_start,
// filtered by the options, with ambiguity detected across the final set.
func Resolve(db *catalog.DB, opts Options) (*Resolution, error) {
	log := logging.L(logging.CategoryQuery)

	attrsUnique := opts.AttrsUnique
	if attrsUnique == nil {
		attrsUnique = DefaultAttrsUnique()
	}

	rows, err := db.FindVarInstances(catalog.VarFilter{
		Experiment:    opts.Experiment,
		RootDir:       opts.RootDir,
		Variable:      opts.Variable,
		PathSuffix:    opts.File,
		StartTime:     opts.StartTime,
		EndTime:       opts.EndTime,
		Frequency:     opts.Frequency,
		RequiredAttrs: opts.Attrs,
	})
	if err != nil {
		return nil, err
	}

	// Preferred-value restriction: when an attribute marked unique is
	// present anywhere in the match set, keep only rows carrying the
	// preferred value, so e.g. a time-mean copy shadows a snapshot copy
	// of the same name.
	for attr, preferred := range attrsUnique {
		present := false
		for _, r := range rows {
			if _, ok := r.Attrs[attr]; ok {
				present = true
				break
			}
		}
		if !present {
			continue
		}
		var kept []catalog.VarRow
		for _, r := range rows {
			if r.Attrs[attr] == preferred {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			log.Debug("restricted matches by unique attribute",
				zap.String("attribute", attr), zap.String("value", preferred),
				zap.Int("kept", len(kept)), zap.Int("dropped", len(rows)-len(kept)))
			rows = kept
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no files contain %q in experiment %q",
			ErrVariableNotFound, opts.Variable, opts.Experiment)
	}

	if n := opts.N; n != 0 {
		if n > 0 && n < len(rows) {
			rows = rows[:n]
		} else if n < 0 && -n < len(rows) {
			rows = rows[len(rows)+n:]
		}
	}

	res := &Resolution{Matches: rows}
	res.Warnings = append(res.Warnings, ambiguityWarnings(rows, attrsUnique)...)
	for _, w := range res.Warnings {
		log.Warn(w,
			zap.String("experiment", opts.Experiment),
			zap.String("variable", opts.Variable))
	}
	if opts.Strict && len(res.Warnings) > 0 {
		return nil, &AmbiguityError{Warnings: res.Warnings}
	}
	return res, nil
}

// ambiguityWarnings reports result sets that span more than one frequency
// or more than one value of an attribute that should be unique;
// concatenating incompatible samplings would silently corrupt the result.
func ambiguityWarnings(rows []catalog.VarRow, attrsUnique map[string]string) []string {
	var warnings []string

	if freqs := distinct(rows, func(r catalog.VarRow) (string, bool) {
		return r.File.Frequency, r.File.Frequency != ""
	}); len(freqs) > 1 {
		warnings = append(warnings, fmt.Sprintf(
			"query matches multiple frequencies (%s); disambiguate with a frequency constraint",
			strings.Join(freqs, ", ")))
	}

	attrs := make([]string, 0, len(attrsUnique))
	for attr := range attrsUnique {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		if values := distinct(rows, func(r catalog.VarRow) (string, bool) {
			v, ok := r.Attrs[attr]
			return v, ok
		}); len(values) > 1 {
			warnings = append(warnings, fmt.Sprintf(
				"query matches multiple values of %s (%s); disambiguate with an attribute constraint",
				attr, strings.Join(values, ", ")))
		}
	}
	return warnings
}

func distinct(rows []catalog.VarRow, key func(catalog.VarRow) (string, bool)) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if v, ok := key(r); ok && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
