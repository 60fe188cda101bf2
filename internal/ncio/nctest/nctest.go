// Package nctest provides in-memory ncio fakes for tests that need array
// files without writing real NetCDF to disk.
package nctest

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"nccatalog/internal/ncio"
)

// Var is an in-memory variable. Data is flat, row-major; Shape gives the
// dimension lengths in the same order as Dims.
type Var struct {
	Dims   []string
	Shape  []int64
	Chunks []int64
	Attrs  map[string]string
	Data   []float64
}

// File is an in-memory ncio.File.
type File struct {
	order  []string
	vars   map[string]*Var
	attrs  map[string]string
	record string
	closed bool
}

func NewFile() *File {
	return &File{vars: map[string]*Var{}, attrs: map[string]string{}}
}

// AddVar registers a variable; returns the file for chaining.
func (f *File) AddVar(name string, v *Var) *File {
	if _, ok := f.vars[name]; !ok {
		f.order = append(f.order, name)
	}
	f.vars[name] = v
	return f
}

// SetGlobal sets a file-level attribute.
func (f *File) SetGlobal(name, value string) *File {
	f.attrs[name] = value
	return f
}

// SetRecord marks the unlimited dimension.
func (f *File) SetRecord(dim string) *File {
	f.record = dim
	return f
}

func (f *File) Variables() []string { return append([]string(nil), f.order...) }

func (f *File) Variable(name string) (ncio.Var, error) {
	v, ok := f.vars[name]
	if !ok {
		return nil, fmt.Errorf("no such variable %q", name)
	}
	return v, nil
}

func (f *File) Attributes() map[string]string { return f.attrs }

func (f *File) Dimensions() []string {
	seen := map[string]bool{}
	var dims []string
	for _, name := range f.order {
		for _, d := range f.vars[name].Dims {
			if !seen[d] {
				seen[d] = true
				dims = append(dims, d)
			}
		}
	}
	return dims
}

func (f *File) DimLen(name string) (int64, bool) {
	for _, v := range f.vars {
		for i, d := range v.Dims {
			if d == name && i < len(v.Shape) {
				return v.Shape[i], true
			}
		}
	}
	return 0, false
}

func (f *File) Unlimited() string { return f.record }

func (f *File) Close() error {
	f.closed = true
	return nil
}

func (v *Var) Dimensions() []string { return v.Dims }

func (v *Var) Chunking() []int64 { return v.Chunks }

func (v *Var) Attributes() map[string]string { return v.Attrs }

func (v *Var) Len() int64 {
	if len(v.Shape) == 0 {
		return 1
	}
	n := int64(1)
	for _, s := range v.Shape {
		n *= s
	}
	return n
}

func (v *Var) Read(begin, end int64) (interface{}, error) {
	rows := int64(1)
	if len(v.Shape) > 0 {
		rows = v.Shape[0]
	}
	if begin < 0 || end > rows || begin > end {
		return nil, fmt.Errorf("slice [%d, %d) out of range for %d rows", begin, end, rows)
	}
	stride := v.Len() / rows
	return append([]float64(nil), v.Data[begin*stride:end*stride]...), nil
}

// Coord builds a 1-D coordinate variable over its own dimension.
func Coord(dim string, values []float64, attrs map[string]string) *Var {
	return &Var{
		Dims:  []string{dim},
		Shape: []int64{int64(len(values))},
		Attrs: attrs,
		Data:  values,
	}
}

// Bounds builds an (n, 2) interval-bounds variable for a time dimension.
func Bounds(dim string, intervals [][2]float64) *Var {
	data := make([]float64, 0, 2*len(intervals))
	for _, iv := range intervals {
		data = append(data, iv[0], iv[1])
	}
	return &Var{
		Dims:  []string{dim, "nv"},
		Shape: []int64{int64(len(intervals)), 2},
		Data:  data,
	}
}

// Opener builds an ncio.Opener serving the given files, keyed by full path
// or by base name. Unknown paths fail with fs.ErrNotExist.
func Opener(files map[string]*File) ncio.Opener {
	return func(path string) (ncio.File, error) {
		if f, ok := files[path]; ok {
			return f, nil
		}
		if f, ok := files[filepath.Base(path)]; ok {
			return f, nil
		}
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
}

// FailingOpener fails every open with the given error.
func FailingOpener(err error) ncio.Opener {
	return func(path string) (ncio.File, error) {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
}
