// Package array assembles a lazy, time-ordered view of one variable across
// many files. No file I/O happens until Values forces it, and nothing is
// cached across calls.
package array

import (
	"context"
	"fmt"

	"nccatalog/internal/calendar"
	"nccatalog/internal/ncio"
)

// Source is one contributing file: a sample range [Start, Stop) along the
// time axis of the named variable. Stop == Start means the file contributes
// nothing (fully trimmed); TimeLen == 0 means the variable has no time axis
// and is read whole.
type Source struct {
	Path    string
	VarName string
	TimeLen int64
	Start   int64
	Stop    int64
}

// Variable is a lazy concatenation of sources along the time axis.
type Variable struct {
	Name   string
	Dims   []string
	Chunks map[string]int64
	Attrs  map[string]string
	// Times is the decoded time coordinate of the concatenated, trimmed
	// view, in file order.
	Times []calendar.Date
	// Bounds carries the time-averaging interval bounds when the variable
	// is a time mean.
	Bounds *Variable

	open    ncio.Opener
	sources []Source
}

// New builds an empty lazy variable served by the given opener.
func New(name string, dims []string, open ncio.Opener) *Variable {
	return &Variable{
		Name:   name,
		Dims:   dims,
		Chunks: make(map[string]int64),
		Attrs:  make(map[string]string),
		open:   open,
	}
}

// Append adds a contributing file. Sources must be appended in time order.
func (v *Variable) Append(src Source) {
	v.sources = append(v.sources, src)
}

// NFiles reports how many files contribute at least one sample.
func (v *Variable) NFiles() int {
	n := 0
	for _, s := range v.sources {
		if s.TimeLen == 0 || s.Stop > s.Start {
			n++
		}
	}
	return n
}

// Files lists the contributing file paths, in order.
func (v *Variable) Files() []string {
	var out []string
	for _, s := range v.sources {
		if s.TimeLen == 0 || s.Stop > s.Start {
			out = append(out, s.Path)
		}
	}
	return out
}

// NTimes is the length of the concatenated time axis.
func (v *Variable) NTimes() int64 {
	var n int64
	for _, s := range v.sources {
		if s.TimeLen > 0 {
			n += s.Stop - s.Start
		}
	}
	return n
}

// Values forces the read: every contributing file is opened, its sample
// range read and flattened, and the results concatenated in source order.
func (v *Variable) Values(ctx context.Context) ([]float64, error) {
	var out []float64
	for _, src := range v.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if src.TimeLen > 0 && src.Stop <= src.Start {
			continue
		}
		vals, err := v.readSource(src)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

func (v *Variable) readSource(src Source) ([]float64, error) {
	f, err := v.open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Path, err)
	}
	defer f.Close()

	nv, err := f.Variable(src.VarName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Path, err)
	}
	var raw interface{}
	if src.TimeLen == 0 {
		rows := int64(1)
		if dims := nv.Dimensions(); len(dims) > 0 {
			if n, ok := f.DimLen(dims[0]); ok {
				rows = n
			}
		}
		raw, err = nv.Read(0, rows)
	} else {
		raw, err = nv.Read(src.Start, src.Stop)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", src.VarName, src.Path, err)
	}
	return ncio.Floats(raw)
}
