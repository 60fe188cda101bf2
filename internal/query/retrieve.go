package query

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"nccatalog/internal/array"
	"nccatalog/internal/calendar"
	"nccatalog/internal/catalog"
	"nccatalog/internal/extract"
	"nccatalog/internal/logging"
	"nccatalog/internal/ncio"
)

// RetrieveOptions extend query Options with read-side settings.
type RetrieveOptions struct {
	Options
	// Chunks override the default chunk shape (the first matched file's
	// recorded chunking). A key naming a dimension the variable does not
	// have produces a warning, not a failure.
	Chunks map[string]int64
	// Open substitutes the file opener; nil means ncio.Open.
	Open ncio.Opener
}

// Retrieve resolves a variable and assembles a lazy, time-ordered
// multi-file view: matches concatenated along the calendar-decoded time
// axis, trimmed to the requested window, with provenance attributes
// attached. For a time-mean variable the referenced bounds variable is
// opened and attached too.
func Retrieve(ctx context.Context, db *catalog.DB, opts RetrieveOptions) (*array.Variable, *Resolution, error) {
	log := logging.L(logging.CategoryQuery)
	open := opts.Open
	if open == nil {
		open = ncio.Open
	}

	res, err := Resolve(db, opts.Options)
	if err != nil {
		return nil, nil, err
	}
	matches := res.Matches
	first := matches[0]

	exp, err := db.ExperimentByID(first.File.ExperimentID)
	if err != nil {
		return nil, nil, err
	}

	v := array.New(opts.Variable, first.Instance.Dimensions, open)
	v.Chunks = chunkMap(first, opts.Chunks, res, log)
	for k, val := range map[string]string{
		"long_name":     first.Variable.LongName,
		"standard_name": first.Variable.StandardName,
		"units":         first.Variable.Units,
	} {
		if val != "" {
			v.Attrs[k] = val
		}
	}
	for k, val := range first.Attrs {
		v.Attrs[k] = val
	}

	var bounds *array.Variable
	timeMean := denotesTimeMean(first.Attrs["cell_methods"])

	used := make([]catalog.VarRow, 0, len(matches))
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		path := filepath.Join(exp.RootDir, m.File.Path)
		src, times, boundsName, err := fileSource(open, path, opts, m)
		if err != nil {
			return nil, nil, err
		}
		v.Append(src)
		v.Times = append(v.Times, times...)
		used = append(used, m)

		if timeMean && boundsName != "" {
			if bounds == nil {
				bounds = array.New(boundsName, nil, open)
			}
			bsrc := src
			bsrc.VarName = boundsName
			bounds.Append(bsrc)
		}

		if src.TimeLen == 0 {
			// no time axis: the first copy is the variable, the rest of
			// the matches are not read
			break
		}
	}
	if timeMean && bounds != nil {
		v.Bounds = bounds
	}

	attachProvenance(v, exp, db, used)
	return v, res, nil
}

// fileSource opens one matched file, decodes its time coordinate and
// computes the sample window contributed to the concatenation.
func fileSource(open ncio.Opener, path string, opts RetrieveOptions, m catalog.VarRow) (array.Source, []calendar.Date, string, error) {
	src := array.Source{Path: path, VarName: opts.Variable}

	f, err := open(path)
	if err != nil {
		return src, nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	timeDim := extract.FindTimeDimension(f)
	if timeDim == "" || !containsDim(m.Instance.Dimensions, timeDim) {
		return src, nil, "", nil // static variable
	}

	timeVar, err := f.Variable(timeDim)
	if err != nil {
		return src, nil, "", nil
	}
	attrs := timeVar.Attributes()
	units, cal := attrs["units"], attrs["calendar"]
	if units == "" || cal == "" {
		return src, nil, "", nil
	}
	c, err := calendar.Parse(cal)
	if err != nil {
		return src, nil, "", err
	}
	u, err := calendar.ParseUnits(units)
	if err != nil {
		return src, nil, "", err
	}

	n := timeVar.Len()
	raw, err := timeVar.Read(0, n)
	if err != nil {
		return src, nil, "", fmt.Errorf("read time coordinate of %s: %w", path, err)
	}
	values, err := ncio.Floats(raw)
	if err != nil {
		return src, nil, "", err
	}

	src.TimeLen = n
	src.Start, src.Stop = 0, n
	var times []calendar.Date
	for i, tv := range values {
		d := u.Decode(tv, c)
		ts := d.String()
		if opts.StartTime != "" && ts < opts.StartTime {
			src.Start = int64(i) + 1
			continue
		}
		if opts.EndTime != "" && ts > opts.EndTime {
			src.Stop = int64(i)
			break
		}
		times = append(times, d)
	}
	if src.Start > src.Stop {
		src.Stop = src.Start
	}
	return src, times, attrs["bounds"], nil
}

// chunkMap derives the chunk shape: the first match's recorded chunking,
// overridden by caller-supplied values.
func chunkMap(first catalog.VarRow, overrides map[string]int64, res *Resolution, log *zap.Logger) map[string]int64 {
	chunks := make(map[string]int64)
	dims := first.Instance.Dimensions
	for i, c := range first.Instance.Chunking {
		if i < len(dims) {
			chunks[dims[i]] = c
		}
	}
	for dim, c := range overrides {
		if !containsDim(dims, dim) {
			w := fmt.Sprintf("chunk override names unknown dimension %q (variable has %s)",
				dim, strings.Join(dims, ", "))
			res.Warnings = append(res.Warnings, w)
			log.Warn(w)
			continue
		}
		chunks[dim] = c
	}
	return chunks
}

// attachProvenance records where the result came from: the experiment's
// human metadata and the files actually wired into the view.
func attachProvenance(v *array.Variable, exp *catalog.Experiment, db *catalog.DB, matches []catalog.VarRow) {
	v.Attrs["experiment"] = exp.Name
	v.Attrs["rootdir"] = exp.RootDir
	for k, val := range map[string]string{
		"contact":     exp.Contact,
		"email":       exp.Email,
		"created":     exp.Created,
		"description": exp.Description,
		"notes":       exp.Notes,
		"url":         exp.URL,
	} {
		if val != "" {
			v.Attrs[k] = val
		}
	}
	if kws, err := db.ExperimentKeywords(exp.ID); err == nil && len(kws) > 0 {
		v.Attrs["keywords"] = strings.Join(kws, ", ")
	}
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.File.Path
	}
	v.Attrs["ncfiles"] = strings.Join(paths, ", ")
	if matches[0].File.Frequency != "" {
		v.Attrs["frequency"] = matches[0].File.Frequency
	}
}

// denotesTimeMean reports whether a cell_methods value marks the variable
// as averaged over time.
func denotesTimeMean(cellMethods string) bool {
	idx := strings.Index(cellMethods, "time:")
	if idx < 0 {
		return false
	}
	rest := cellMethods[idx+len("time:"):]
	// the method for the time axis runs until the next "name:" group
	if next := strings.Index(rest, ":"); next >= 0 {
		if sp := strings.LastIndexByte(rest[:next], ' '); sp >= 0 {
			rest = rest[:sp]
		}
	}
	return strings.Contains(rest, "mean")
}

func containsDim(dims []string, dim string) bool {
	for _, d := range dims {
		if d == dim {
			return true
		}
	}
	return false
}
