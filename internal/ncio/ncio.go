// Package ncio is the file-reader capability consumed by the extractor and
// by lazy retrieval. It narrows the go-native-netcdf API to the handful of
// operations the catalog needs: enumerate variables, read attributes as
// strings, and read slices of a variable along its outermost dimension.
package ncio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// File is one open array file.
type File interface {
	// Variables lists stored variable names.
	Variables() []string
	// Variable opens one variable for inspection and lazy reads.
	Variable(name string) (Var, error)
	// Attributes returns the file-level global attributes, string-rendered.
	Attributes() map[string]string
	// Dimensions returns the union of dimension names used by variables.
	Dimensions() []string
	// DimLen reports the length of a dimension, when determinable.
	DimLen(name string) (int64, bool)
	// Unlimited names the record dimension, or "" if none is known.
	Unlimited() string
	Close() error
}

// Var is one variable within a File.
type Var interface {
	Dimensions() []string
	// Chunking returns the on-disk chunk shape, or nil for contiguous
	// storage.
	Chunking() []int64
	Attributes() map[string]string
	// Len is the total number of stored elements.
	Len() int64
	// Read returns values for outermost-dimension indices [begin, end).
	Read(begin, end int64) (interface{}, error)
}

// Opener opens a file by path. The production Opener is Open; tests
// substitute in-memory fakes.
type Opener func(path string) (File, error)

// Open opens a NetCDF file (classic CDF or HDF5) read-only.
func Open(path string) (File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &ncFile{group: g}, nil
}

// IsNotExist reports whether an Opener error means the file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

type ncFile struct {
	group api.Group
}

func (f *ncFile) Variables() []string {
	return f.group.ListVariables()
}

func (f *ncFile) Variable(name string) (Var, error) {
	vg, err := f.group.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	return &ncVar{getter: vg}, nil
}

func (f *ncFile) Attributes() map[string]string {
	return renderAttrs(f.group.Attributes())
}

func (f *ncFile) Dimensions() []string {
	seen := map[string]bool{}
	var dims []string
	for _, name := range f.group.ListVariables() {
		vg, err := f.group.GetVarGetter(name)
		if err != nil {
			continue
		}
		for _, d := range vg.Dimensions() {
			if !seen[d] {
				seen[d] = true
				dims = append(dims, d)
			}
		}
	}
	return dims
}

// DimLen resolves a dimension length through its coordinate variable, or
// through any 1-D variable on that dimension. Lengths of dimensions with no
// 1-D variable are not recoverable through this reader.
func (f *ncFile) DimLen(name string) (int64, bool) {
	if vg, err := f.group.GetVarGetter(name); err == nil {
		if dims := vg.Dimensions(); len(dims) == 1 && dims[0] == name {
			return vg.Len(), true
		}
	}
	for _, vn := range f.group.ListVariables() {
		vg, err := f.group.GetVarGetter(vn)
		if err != nil {
			continue
		}
		if dims := vg.Dimensions(); len(dims) == 1 && dims[0] == name {
			return vg.Len(), true
		}
	}
	return 0, false
}

// Unlimited is not recoverable through the go-native-netcdf reader; the
// time-dimension cascade falls through to its later steps instead.
func (f *ncFile) Unlimited() string { return "" }

func (f *ncFile) Close() error {
	f.group.Close()
	return nil
}

type ncVar struct {
	getter api.VarGetter
}

func (v *ncVar) Dimensions() []string { return v.getter.Dimensions() }

// Chunking is not exposed by the reader; classic-format files are
// contiguous, which nil denotes.
func (v *ncVar) Chunking() []int64 { return nil }

func (v *ncVar) Attributes() map[string]string {
	return renderAttrs(v.getter.Attributes())
}

func (v *ncVar) Len() int64 { return v.getter.Len() }

func (v *ncVar) Read(begin, end int64) (interface{}, error) {
	return v.getter.GetSlice(begin, end)
}

func renderAttrs(am api.AttributeMap) map[string]string {
	if am == nil {
		return nil
	}
	attrs := make(map[string]string)
	for _, key := range am.Keys() {
		val, has := am.Get(key)
		if !has {
			continue
		}
		attrs[key] = renderAttr(val)
	}
	return attrs
}

func renderAttr(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case []string:
		return strings.Join(v, " ")
	default:
		return fmt.Sprint(v)
	}
}
