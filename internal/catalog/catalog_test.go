package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesVersionedCatalog(t *testing.T) {
	db := openTestDB(t)

	var version int
	require.NoError(t, db.sql.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)

	counts, err := db.Counts()
	require.NoError(t, err)
	for _, table := range []string{"experiments", "ncfiles", "variables", "ncvars", "keywords", "strings"} {
		n, ok := counts[table]
		assert.True(t, ok, "missing table %s", table)
		assert.Zero(t, n)
	}
}

func TestOpenRejectsMismatchedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := Open(path)
	require.NoError(t, err)

	// restamp with a newer version than the code expects
	_, err = db.sql.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestOpenRejectsUnversionedCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.sql.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestUniqueVariable(t *testing.T) {
	db := openTestDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)

	// same identity requested many times within one uncommitted session
	var first int64
	for i := 0; i < 5; i++ {
		id, err := sess.UniqueVariable("temp", "Temperature", "sea_water_temperature", "degrees K")
		require.NoError(t, err)
		if i == 0 {
			first = id
		} else {
			assert.Equal(t, first, id)
		}
	}

	// a different identity gets its own row
	other, err := sess.UniqueVariable("temp", "Temperature", "", "degrees C")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
	require.NoError(t, sess.Commit())

	// a new session finds the committed rows rather than staging duplicates
	sess, err = db.Begin()
	require.NoError(t, err)
	again, err := sess.UniqueVariable("temp", "Temperature", "sea_water_temperature", "degrees K")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	require.NoError(t, sess.Commit())

	counts, err := db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 2, counts["variables"])
}

func TestUniqueKeywordCaseInsensitive(t *testing.T) {
	db := openTestDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)

	a, err := sess.UniqueKeyword("Cosima")
	require.NoError(t, err)
	b, err := sess.UniqueKeyword("COSIMA")
	require.NoError(t, err)
	c, err := sess.UniqueKeyword("cosima")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	require.NoError(t, sess.Commit())

	var canonical string
	require.NoError(t, db.sql.QueryRow("SELECT keyword FROM keywords WHERE id = ?", a).Scan(&canonical))
	assert.Equal(t, "cosima", canonical)

	counts, err := db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["keywords"])
}

func TestInternString(t *testing.T) {
	db := openTestDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)

	a, err := sess.InternString("time: mean")
	require.NoError(t, err)
	b, err := sess.InternString("time: mean")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// case matters for attribute strings, unlike keywords
	c, err := sess.InternString("Time: Mean")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
	require.NoError(t, sess.Commit())
}

func TestDeleteFileCascades(t *testing.T) {
	db := openTestDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)

	exp, created, err := sess.GetOrCreateExperiment("exp1", "/data/exp1")
	require.NoError(t, err)
	assert.True(t, created)

	fileID, err := sess.InsertFile(&File{
		ExperimentID: exp.ID,
		Path:         "output000/ocean.nc",
		IndexTime:    time.Now(),
		Present:      true,
	})
	require.NoError(t, err)

	varID, err := sess.UniqueVariable("temp", "", "", "")
	require.NoError(t, err)
	nvID, err := sess.InsertVarInstance(fileID, varID, []string{"time", "lat"}, nil)
	require.NoError(t, err)
	require.NoError(t, sess.SetVarAttrs(nvID, map[string]string{"cell_methods": "time: mean"}))
	require.NoError(t, sess.SetFileAttrs(fileID, map[string]string{"title": "test"}))

	require.NoError(t, sess.DeleteFile(fileID))
	require.NoError(t, sess.Commit())

	counts, err := db.Counts()
	require.NoError(t, err)
	assert.Zero(t, counts["ncfiles"])
	assert.Zero(t, counts["ncvars"])
	// the canonical variable row and the interned strings survive
	assert.Equal(t, 1, counts["variables"])
}

func TestDeleteExperimentCascades(t *testing.T) {
	db := openTestDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)

	exp, _, err := sess.GetOrCreateExperiment("exp1", "/data/exp1")
	require.NoError(t, err)
	fileID, err := sess.InsertFile(&File{ExperimentID: exp.ID, Path: "a.nc", IndexTime: time.Now()})
	require.NoError(t, err)
	varID, err := sess.UniqueVariable("salt", "", "", "")
	require.NoError(t, err)
	_, err = sess.InsertVarInstance(fileID, varID, nil, nil)
	require.NoError(t, err)
	require.NoError(t, sess.MergeExperimentKeywords(exp.ID, []string{"test"}))

	require.NoError(t, sess.DeleteExperiment(exp.ID))
	require.NoError(t, sess.Commit())

	counts, err := db.Counts()
	require.NoError(t, err)
	assert.Zero(t, counts["experiments"])
	assert.Zero(t, counts["ncfiles"])
	assert.Zero(t, counts["ncvars"])
}

func TestExperimentByNameAmbiguity(t *testing.T) {
	db := openTestDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)
	_, _, err = sess.GetOrCreateExperiment("run", "/data/a")
	require.NoError(t, err)
	_, _, err = sess.GetOrCreateExperiment("run", "/data/b")
	require.NoError(t, err)
	require.NoError(t, sess.Commit())

	_, err = db.ExperimentByName("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	exp, err := db.ExperimentByNameDir("run", "/data/a")
	require.NoError(t, err)
	assert.Equal(t, "/data/a", exp.RootDir)

	_, err = db.ExperimentByName("absent")
	assert.ErrorIs(t, err, ErrExperimentNotFound)
}

func TestFindVarInstancesFilters(t *testing.T) {
	db := openTestDB(t)
	sess, err := db.Begin()
	require.NoError(t, err)

	exp, _, err := sess.GetOrCreateExperiment("exp1", "/data/exp1")
	require.NoError(t, err)
	varID, err := sess.UniqueVariable("temp", "Temperature", "", "K")
	require.NoError(t, err)

	addFile := func(path, start, end, freq, cellMethods string, present bool) {
		fID, err := sess.InsertFile(&File{
			ExperimentID: exp.ID, Path: path, IndexTime: time.Now(),
			Present: present, TimeStart: start, TimeEnd: end, Frequency: freq,
		})
		require.NoError(t, err)
		nvID, err := sess.InsertVarInstance(fID, varID, []string{"time"}, []int64{1})
		require.NoError(t, err)
		if cellMethods != "" {
			require.NoError(t, sess.SetVarAttrs(nvID, map[string]string{"cell_methods": cellMethods}))
		}
	}
	addFile("out0/mean.nc", "0001-01-01 00:00:00", "0002-01-01 00:00:00", "1 monthly", "time: mean", true)
	addFile("out1/mean.nc", "0002-01-01 00:00:00", "0003-01-01 00:00:00", "1 monthly", "time: mean", true)
	addFile("out0/snap.nc", "0001-01-01 00:00:00", "0002-01-01 00:00:00", "1 daily", "", true)
	addFile("out2/gone.nc", "0003-01-01 00:00:00", "0004-01-01 00:00:00", "1 monthly", "time: mean", false)
	require.NoError(t, sess.Commit())

	// presence and time ordering
	rows, err := db.FindVarInstances(VarFilter{Experiment: "exp1", Variable: "temp"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].File.TimeStart <= rows[1].File.TimeStart)

	// frequency filter
	rows, err = db.FindVarInstances(VarFilter{Experiment: "exp1", Variable: "temp", Frequency: "1 daily"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "out0/snap.nc", rows[0].File.Path)

	// filename suffix
	rows, err = db.FindVarInstances(VarFilter{Experiment: "exp1", Variable: "temp", PathSuffix: "mean.nc"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// time window overlap
	rows, err = db.FindVarInstances(VarFilter{
		Experiment: "exp1", Variable: "temp",
		StartTime: "0002-06-01", EndTime: "0002-12-01",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "out1/mean.nc", rows[0].File.Path)

	// required attributes
	rows, err = db.FindVarInstances(VarFilter{
		Experiment: "exp1", Variable: "temp",
		RequiredAttrs: map[string]string{"cell_methods": "time: mean"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "time: mean", r.Attrs["cell_methods"])
	}

	// unknown variable resolves to nothing
	rows, err = db.FindVarInstances(VarFilter{Experiment: "exp1", Variable: "rho"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSessionReadsKnownFilesMidTransaction(t *testing.T) {
	db := openTestDB(t)

	sess, err := db.Begin()
	require.NoError(t, err)
	exp, _, err := sess.GetOrCreateExperiment("exp1", "/data/exp1")
	require.NoError(t, err)
	_, err = sess.InsertFile(&File{ExperimentID: exp.ID, Path: "a.nc", IndexTime: time.Now(), Present: true})
	require.NoError(t, err)
	require.NoError(t, sess.Commit())

	// the session read must not reach for the pool while its transaction
	// holds the only connection, and it must see rows staged in-session
	sess, err = db.Begin()
	require.NoError(t, err)
	defer sess.Rollback()
	_, err = sess.InsertFile(&File{ExperimentID: exp.ID, Path: "b.nc", IndexTime: time.Now(), Present: true})
	require.NoError(t, err)

	known, err := sess.FilesForExperiment(exp.ID)
	require.NoError(t, err)
	require.Len(t, known, 2)
	assert.Contains(t, known, "a.nc")
	assert.Contains(t, known, "b.nc")
}

func TestVariablesSeparatesSharedNames(t *testing.T) {
	db := openTestDB(t)

	sess, err := db.Begin()
	require.NoError(t, err)
	exp, _, err := sess.GetOrCreateExperiment("exp1", "/data/exp1")
	require.NoError(t, err)

	potID, err := sess.UniqueVariable("temp", "Potential temperature", "", "degrees K")
	require.NoError(t, err)
	conID, err := sess.UniqueVariable("temp", "Conservative temperature", "", "degrees K")
	require.NoError(t, err)
	require.NotEqual(t, potID, conID)

	fID, err := sess.InsertFile(&File{
		ExperimentID: exp.ID, Path: "a.nc", IndexTime: time.Now(),
		Present: true, Frequency: "1 monthly",
	})
	require.NoError(t, err)
	_, err = sess.InsertVarInstance(fID, potID, []string{"time"}, nil)
	require.NoError(t, err)
	_, err = sess.InsertVarInstance(fID, conID, []string{"time"}, nil)
	require.NoError(t, err)
	require.NoError(t, sess.Commit())

	// two identities sharing a name stay distinct lines, in a fixed order
	vars, err := db.Variables(exp.ID, "")
	require.NoError(t, err)
	require.Len(t, vars, 2)
	assert.Equal(t, "Conservative temperature", vars[0].LongName)
	assert.Equal(t, "Potential temperature", vars[1].LongName)
	for _, v := range vars {
		assert.Equal(t, "temp", v.Name)
		assert.Equal(t, 1, v.NFiles)
	}
}
