package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nccatalog/internal/catalog"
	"nccatalog/internal/indexer"
	"nccatalog/internal/ncio"
	"nccatalog/internal/ncio/nctest"
)

func openTestDB(t *testing.T) *catalog.DB {
	t.Helper()
	db, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeStub(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("nc"), 0o644))
}

// tempFile builds a file holding a "temp" series over the given time
// values (days since 0001-01-01, noleap).
func tempFile(times, data []float64, attrs map[string]string) *nctest.File {
	f := nctest.NewFile()
	f.AddVar("time", nctest.Coord("time", times, map[string]string{
		"standard_name": "time",
		"units":         "days since 0001-01-01",
		"calendar":      "noleap",
	}))
	f.AddVar("temp", &nctest.Var{
		Dims:  []string{"time"},
		Shape: []int64{int64(len(times))},
		Data:  data,
		Attrs: attrs,
	})
	return f
}

// indexFixture writes stubs under root and indexes them against the fake
// contents; the experiment takes root's base name.
func indexFixture(t *testing.T, db *catalog.DB, root string, files map[string]*nctest.File) ncio.Opener {
	t.Helper()
	for rel := range files {
		writeStub(t, root, rel)
	}
	byBase := map[string]*nctest.File{}
	for rel, f := range files {
		byBase[filepath.Base(rel)] = f
	}
	open := nctest.Opener(byBase)
	_, err := indexer.Build(context.Background(), db, []string{root}, indexer.Options{Open: open})
	require.NoError(t, err)
	return open
}

func TestResolveOrdersByTimeStart(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	indexFixture(t, db, root, map[string]*nctest.File{
		// deliberately indexed under names whose lexical order disagrees
		// with their time order
		"output000/zz.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
		"output001/aa.nc": tempFile([]float64{59, 90}, []float64{3, 4}, nil),
	})

	res, err := Resolve(db, Options{Experiment: filepath.Base(root), Variable: "temp"})
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "output000/zz.nc", res.Matches[0].File.Path)
	assert.Equal(t, "output001/aa.nc", res.Matches[1].File.Path)
	assert.Empty(t, res.Warnings)
}

func TestResolveVariableNotFound(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	indexFixture(t, db, root, map[string]*nctest.File{
		"a.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
	})

	_, err := Resolve(db, Options{Experiment: filepath.Base(root), Variable: "salt"})
	assert.ErrorIs(t, err, ErrVariableNotFound)
}

func TestResolvePrefersTimeMeanCopy(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	indexFixture(t, db, root, map[string]*nctest.File{
		"snap.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
		"mean.nc": tempFile([]float64{0, 30}, []float64{1, 2},
			map[string]string{"cell_methods": "time: mean"}),
	})

	res, err := Resolve(db, Options{Experiment: filepath.Base(root), Variable: "temp"})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "mean.nc", res.Matches[0].File.Path)
	assert.Empty(t, res.Warnings, "restriction to the preferred copy is not ambiguous")
}

func TestResolveAttrsUniqueDisabled(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	indexFixture(t, db, root, map[string]*nctest.File{
		"snap.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
		"mean.nc": tempFile([]float64{0, 30}, []float64{1, 2},
			map[string]string{"cell_methods": "time: mean"}),
	})

	res, err := Resolve(db, Options{
		Experiment:  filepath.Base(root),
		Variable:    "temp",
		AttrsUnique: map[string]string{},
	})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
}

func TestResolveFrequencyAmbiguity(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	indexFixture(t, db, root, map[string]*nctest.File{
		"monthly.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
		"daily.nc":   tempFile([]float64{0, 1}, []float64{5, 6}, nil),
	})
	opts := Options{Experiment: filepath.Base(root), Variable: "temp"}

	res, err := Resolve(db, opts)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "multiple frequencies")

	// a frequency constraint silences the warning and narrows the result
	opts.Frequency = "1 monthly"
	res, err = Resolve(db, opts)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "monthly.nc", res.Matches[0].File.Path)
	assert.Empty(t, res.Warnings)

	// strict mode promotes the warning to an error
	opts.Frequency = ""
	opts.Strict = true
	_, err = Resolve(db, opts)
	var amb *AmbiguityError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Warnings, 1)
}

func TestResolveFirstLastN(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	indexFixture(t, db, root, map[string]*nctest.File{
		"a.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
		"b.nc": tempFile([]float64{59, 90}, []float64{3, 4}, nil),
		"c.nc": tempFile([]float64{120, 151}, []float64{5, 6}, nil),
	})
	opts := Options{Experiment: filepath.Base(root), Variable: "temp"}

	opts.N = 2
	res, err := Resolve(db, opts)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "a.nc", res.Matches[0].File.Path)
	assert.Equal(t, "b.nc", res.Matches[1].File.Path)

	opts.N = -1
	res, err = Resolve(db, opts)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "c.nc", res.Matches[0].File.Path)
}

func TestRetrieveConcatenatesAcrossFiles(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	open := indexFixture(t, db, root, map[string]*nctest.File{
		"output000/o1.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
		"output001/o2.nc": tempFile([]float64{59, 90}, []float64{3, 4}, nil),
	})

	v, res, err := Retrieve(context.Background(), db, RetrieveOptions{
		Options: Options{Experiment: filepath.Base(root), Variable: "temp"},
		Open:    open,
	})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
	assert.Equal(t, int64(4), v.NTimes())
	assert.Equal(t, 2, v.NFiles())

	vals, err := v.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, vals)

	require.Len(t, v.Times, 4)
	assert.Equal(t, "0001-01-01 00:00:00", v.Times[0].String())
	assert.Equal(t, "0001-04-01 00:00:00", v.Times[3].String())
}

func TestRetrieveTrimsToWindow(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	open := indexFixture(t, db, root, map[string]*nctest.File{
		"o1.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
		"o2.nc": tempFile([]float64{59, 90}, []float64{3, 4}, nil),
	})

	v, _, err := Retrieve(context.Background(), db, RetrieveOptions{
		Options: Options{
			Experiment: filepath.Base(root),
			Variable:   "temp",
			StartTime:  "0001-01-15 00:00:00",
			EndTime:    "0001-03-01 00:00:00",
		},
		Open: open,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.NTimes())

	vals, err := v.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, vals)

	require.Len(t, v.Times, 2)
	assert.Equal(t, "0001-01-31 00:00:00", v.Times[0].String())
	assert.Equal(t, "0001-03-01 00:00:00", v.Times[1].String())
}

func TestRetrieveChunkDefaultsAndOverride(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	f := nctest.NewFile()
	f.AddVar("time", nctest.Coord("time", []float64{0, 30}, map[string]string{
		"standard_name": "time",
		"units":         "days since 0001-01-01",
		"calendar":      "noleap",
	}))
	f.AddVar("temp", &nctest.Var{
		Dims:   []string{"time", "x"},
		Shape:  []int64{2, 3},
		Chunks: []int64{1, 3},
		Data:   []float64{1, 2, 3, 4, 5, 6},
	})
	open := indexFixture(t, db, root, map[string]*nctest.File{"a.nc": f})

	v, res, err := Retrieve(context.Background(), db, RetrieveOptions{
		Options: Options{Experiment: filepath.Base(root), Variable: "temp"},
		Chunks:  map[string]int64{"x": 2, "depth": 4},
		Open:    open,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"time": 1, "x": 2}, v.Chunks)

	// an override naming a dimension the variable lacks warns, not fails
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "depth")

	vals, err := v.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, vals)
}

func TestRetrieveTimeMeanAttachesBounds(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	f := nctest.NewFile()
	f.AddVar("time", nctest.Coord("time", []float64{15, 45}, map[string]string{
		"standard_name": "time",
		"units":         "days since 0001-01-01",
		"calendar":      "noleap",
		"bounds":        "time_bounds",
	}))
	f.AddVar("time_bounds", nctest.Bounds("time", [][2]float64{{0, 31}, {31, 59}}))
	f.AddVar("temp", &nctest.Var{
		Dims: []string{"time"}, Shape: []int64{2}, Data: []float64{1, 2},
		Attrs: map[string]string{"cell_methods": "time: mean"},
	})
	open := indexFixture(t, db, root, map[string]*nctest.File{"a.nc": f})

	v, _, err := Retrieve(context.Background(), db, RetrieveOptions{
		Options: Options{Experiment: filepath.Base(root), Variable: "temp"},
		Open:    open,
	})
	require.NoError(t, err)

	require.NotNil(t, v.Bounds)
	assert.Equal(t, "time_bounds", v.Bounds.Name)
	bvals, err := v.Bounds.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 31, 31, 59}, bvals)
}

func TestRetrieveSnapshotSkipsBounds(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	f := nctest.NewFile()
	f.AddVar("time", nctest.Coord("time", []float64{15, 45}, map[string]string{
		"standard_name": "time",
		"units":         "days since 0001-01-01",
		"calendar":      "noleap",
		"bounds":        "time_bounds",
	}))
	f.AddVar("time_bounds", nctest.Bounds("time", [][2]float64{{0, 31}, {31, 59}}))
	f.AddVar("temp", &nctest.Var{
		Dims: []string{"time"}, Shape: []int64{2}, Data: []float64{1, 2},
	})
	open := indexFixture(t, db, root, map[string]*nctest.File{"a.nc": f})

	v, _, err := Retrieve(context.Background(), db, RetrieveOptions{
		Options: Options{
			Experiment:  filepath.Base(root),
			Variable:    "temp",
			AttrsUnique: map[string]string{},
		},
		Open: open,
	})
	require.NoError(t, err)
	assert.Nil(t, v.Bounds)
}

func TestRetrieveStaticVariable(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	f := nctest.NewFile()
	f.AddVar("geolat", &nctest.Var{
		Dims: []string{"y"}, Shape: []int64{3}, Data: []float64{-10, 0, 10},
	})
	open := indexFixture(t, db, root, map[string]*nctest.File{"grid.nc": f})

	v, _, err := Retrieve(context.Background(), db, RetrieveOptions{
		Options: Options{Experiment: filepath.Base(root), Variable: "geolat"},
		Open:    open,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.NTimes())
	assert.Empty(t, v.Times)

	vals, err := v.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{-10, 0, 10}, vals)
}

func TestRetrieveStaticVariableUsesOneCopy(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	grid := func() *nctest.File {
		f := nctest.NewFile()
		f.AddVar("geolat", &nctest.Var{
			Dims: []string{"y"}, Shape: []int64{3}, Data: []float64{-10, 0, 10},
		})
		return f
	}
	open := indexFixture(t, db, root, map[string]*nctest.File{
		"grid1.nc": grid(),
		"grid2.nc": grid(),
	})

	v, _, err := Retrieve(context.Background(), db, RetrieveOptions{
		Options: Options{Experiment: filepath.Base(root), Variable: "geolat"},
		Open:    open,
	})
	require.NoError(t, err)

	// every copy is identical; the result is built from the first and the
	// provenance names only what was read
	assert.Equal(t, 1, v.NFiles())
	assert.Equal(t, "grid1.nc", v.Attrs["ncfiles"])

	vals, err := v.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{-10, 0, 10}, vals)
}

func TestRetrieveAttachesProvenance(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "metadata.yaml"), []byte(`
contact: A Modeller
description: Control run
keywords: [cosima]
`), 0o644))
	open := indexFixture(t, db, root, map[string]*nctest.File{
		"o1.nc": tempFile([]float64{0, 30}, []float64{1, 2},
			map[string]string{"units": "degrees K", "long_name": "temperature"}),
	})

	v, _, err := Retrieve(context.Background(), db, RetrieveOptions{
		Options: Options{Experiment: filepath.Base(root), Variable: "temp"},
		Open:    open,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(root), v.Attrs["experiment"])
	assert.Equal(t, root, v.Attrs["rootdir"])
	assert.Equal(t, "A Modeller", v.Attrs["contact"])
	assert.Equal(t, "Control run", v.Attrs["description"])
	assert.Equal(t, "cosima", v.Attrs["keywords"])
	assert.Equal(t, "o1.nc", v.Attrs["ncfiles"])
	assert.Equal(t, "1 monthly", v.Attrs["frequency"])
	assert.Equal(t, "degrees K", v.Attrs["units"])
	assert.Equal(t, "temperature", v.Attrs["long_name"])
}

func TestRetrieveDataReadIsLazy(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	inner := indexFixture(t, db, root, map[string]*nctest.File{
		"o1.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
		"o2.nc": tempFile([]float64{59, 90}, []float64{3, 4}, nil),
	})
	opens := 0
	counting := func(path string) (ncio.File, error) {
		opens++
		return inner(path)
	}

	v, _, err := Retrieve(context.Background(), db, RetrieveOptions{
		Options: Options{Experiment: filepath.Base(root), Variable: "temp"},
		Open:    counting,
	})
	require.NoError(t, err)
	// retrieval reads only the time coordinates
	assert.Equal(t, 2, opens)

	_, err = v.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, opens, "forcing the values reopens each file")
}

func TestRetrieveHonoursContext(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	open := indexFixture(t, db, root, map[string]*nctest.File{
		"o1.nc": tempFile([]float64{0, 30}, []float64{1, 2}, nil),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Retrieve(ctx, db, RetrieveOptions{
		Options: Options{Experiment: filepath.Base(root), Variable: "temp"},
		Open:    open,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDenotesTimeMean(t *testing.T) {
	for _, tt := range []struct {
		cellMethods string
		want        bool
	}{
		{"time: mean", true},
		{"time: mean area: sum", true},
		{"area: mean time: point", false},
		{"time: point", false},
		{"", false},
	} {
		assert.Equal(t, tt.want, denotesTimeMean(tt.cellMethods),
			"cell_methods=%q", tt.cellMethods)
	}
}
