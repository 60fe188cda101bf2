package catalog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Read-side repository: joins over the explicit tables, consumed by the
// query engine and the CLI.

// ErrExperimentNotFound is returned when an experiment name matches no row.
var ErrExperimentNotFound = fmt.Errorf("experiment not found")

// ExperimentByNameDir addresses an experiment by its full identity.
func (db *DB) ExperimentByNameDir(name, rootDir string) (*Experiment, error) {
	row := db.sql.QueryRow(
		`SELECT id, experiment, root_dir, contact, email, created, description, notes, url
		 FROM experiments WHERE experiment = ? AND root_dir = ?`, name, rootDir)
	return scanExperiment(row)
}

// ExperimentByID fetches an experiment row by id.
func (db *DB) ExperimentByID(id int64) (*Experiment, error) {
	row := db.sql.QueryRow(
		`SELECT id, experiment, root_dir, contact, email, created, description, notes, url
		 FROM experiments WHERE id = ?`, id)
	return scanExperiment(row)
}

// ExperimentByName addresses an experiment by bare name, which is only
// valid while the name is unambiguous across root directories.
func (db *DB) ExperimentByName(name string) (*Experiment, error) {
	rows, err := db.sql.Query(
		`SELECT id, experiment, root_dir, contact, email, created, description, notes, url
		 FROM experiments WHERE experiment = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("find experiment %s: %w", name, err)
	}
	defer rows.Close()

	var found []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, name)
	case 1:
		return found[0], nil
	}
	dirs := make([]string, len(found))
	for i, exp := range found {
		dirs[i] = exp.RootDir
	}
	return nil, fmt.Errorf("experiment name %q is ambiguous across roots: %s",
		name, strings.Join(dirs, ", "))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	exp := &Experiment{}
	err := row.Scan(&exp.ID, &exp.Name, &exp.RootDir, &exp.Contact, &exp.Email,
		&exp.Created, &exp.Description, &exp.Notes, &exp.URL)
	if err == sql.ErrNoRows {
		return nil, ErrExperimentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan experiment: %w", err)
	}
	return exp, nil
}

// ExperimentSummary is one line of the experiment listing.
type ExperimentSummary struct {
	Name    string
	RootDir string
	NFiles  int
}

// Experiments lists all experiments with their file counts.
func (db *DB) Experiments() ([]ExperimentSummary, error) {
	rows, err := db.sql.Query(
		`SELECT e.experiment, e.root_dir, count(f.id)
		 FROM experiments e LEFT JOIN ncfiles f ON f.experiment_id = e.id
		 GROUP BY e.id ORDER BY e.experiment, e.root_dir`)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []ExperimentSummary
	for rows.Next() {
		var s ExperimentSummary
		if err := rows.Scan(&s.Name, &s.RootDir, &s.NFiles); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ExperimentKeywords returns the experiment's keyword tags.
func (db *DB) ExperimentKeywords(expID int64) ([]string, error) {
	rows, err := db.sql.Query(
		`SELECT k.keyword FROM keywords k
		 JOIN experiment_keywords ek ON ek.keyword_id = k.id
		 WHERE ek.experiment_id = ? ORDER BY k.keyword`, expID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, err
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

// FilesForExperiment returns every file row for an experiment, keyed for
// reconciliation against the on-disk set.
func (db *DB) FilesForExperiment(expID int64) (map[string]File, error) {
	rows, err := db.sql.Query(
		`SELECT id, experiment_id, ncfile, index_time, present, time_start, time_end, frequency
		 FROM ncfiles WHERE experiment_id = ?`, expID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]File)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out[f.Path] = f
	}
	return out, rows.Err()
}

// FileList returns the experiment's files ordered by path.
func (db *DB) FileList(expID int64) ([]File, error) {
	rows, err := db.sql.Query(
		`SELECT id, experiment_id, ncfile, index_time, present, time_start, time_end, frequency
		 FROM ncfiles WHERE experiment_id = ? ORDER BY ncfile`, expID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFile(rows *sql.Rows) (File, error) {
	var f File
	var indexTime string
	if err := rows.Scan(&f.ID, &f.ExperimentID, &f.Path, &indexTime, &f.Present,
		&f.TimeStart, &f.TimeEnd, &f.Frequency); err != nil {
		return f, fmt.Errorf("scan file: %w", err)
	}
	if t, err := time.Parse(indexTimeFormat, indexTime); err == nil {
		f.IndexTime = t
	}
	return f, nil
}

// VariableSummary is one line of the per-experiment variable listing,
// grouped by variable identity and frequency.
type VariableSummary struct {
	Name      string
	LongName  string
	Frequency string
	NFiles    int
	TimeStart string
	TimeEnd   string
}

// Variables summarises an experiment's variables, optionally restricted to
// one frequency.
func (db *DB) Variables(expID int64, frequency string) ([]VariableSummary, error) {
	q := `SELECT v.name, v.long_name, f.frequency, count(f.id),
	             min(f.time_start), max(f.time_end)
	      FROM variables v
	      JOIN ncvars nv ON nv.variable_id = v.id
	      JOIN ncfiles f ON f.id = nv.ncfile_id
	      WHERE f.experiment_id = ?`
	args := []interface{}{expID}
	if frequency != "" {
		q += ` AND f.frequency = ?`
		args = append(args, frequency)
	}
	q += ` GROUP BY v.name, v.long_name, f.frequency
	       ORDER BY f.frequency, v.name, v.long_name`

	rows, err := db.sql.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	var out []VariableSummary
	for rows.Next() {
		var s VariableSummary
		if err := rows.Scan(&s.Name, &s.LongName, &s.Frequency, &s.NFiles,
			&s.TimeStart, &s.TimeEnd); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Frequencies lists the distinct frequencies recorded for an experiment,
// or for the whole catalog when expID is zero.
func (db *DB) Frequencies(expID int64) ([]string, error) {
	q := `SELECT DISTINCT frequency FROM ncfiles WHERE frequency != ''`
	args := []interface{}{}
	if expID != 0 {
		q += ` AND experiment_id = ?`
		args = append(args, expID)
	}
	q += ` ORDER BY frequency`

	rows, err := db.sql.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list frequencies: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// VarFilter narrows FindVarInstances. Experiment and Variable are
// required; the rest are optional constraints.
type VarFilter struct {
	Experiment string
	RootDir    string // disambiguates experiments sharing a name
	Variable   string
	PathSuffix string // filename pattern, matched as LIKE '%'||suffix
	StartTime  string // keep files whose time_end >= StartTime
	EndTime    string // keep files whose time_start <= EndTime
	Frequency  string
	// RequiredAttrs must all be present on the variable instance with the
	// given values.
	RequiredAttrs map[string]string
}

// VarRow is one resolved (file, instance, variable) triple.
type VarRow struct {
	File     File
	Instance VarInstance
	Variable Variable
	// Attrs are the per-instance attributes, resolved from the interning
	// pool.
	Attrs map[string]string
}

// FindVarInstances resolves a variable filter to present files ordered by
// time_start.
func (db *DB) FindVarInstances(filter VarFilter) ([]VarRow, error) {
	q := `SELECT f.id, f.experiment_id, f.ncfile, f.index_time, f.present,
	             f.time_start, f.time_end, f.frequency,
	             nv.id, nv.dimensions, nv.chunking,
	             v.id, v.name, v.long_name, v.standard_name, v.units
	      FROM ncfiles f
	      JOIN experiments e ON e.id = f.experiment_id
	      JOIN ncvars nv ON nv.ncfile_id = f.id
	      JOIN variables v ON v.id = nv.variable_id
	      WHERE e.experiment = ? AND v.name = ? AND f.present = 1`
	args := []interface{}{filter.Experiment, filter.Variable}

	if filter.RootDir != "" {
		q += ` AND e.root_dir = ?`
		args = append(args, filter.RootDir)
	}
	if filter.PathSuffix != "" {
		q += ` AND f.ncfile LIKE ?`
		args = append(args, "%"+filter.PathSuffix)
	}
	if filter.StartTime != "" {
		q += ` AND f.time_end >= ?`
		args = append(args, filter.StartTime)
	}
	if filter.EndTime != "" {
		q += ` AND f.time_start <= ?`
		args = append(args, filter.EndTime)
	}
	if filter.Frequency != "" {
		q += ` AND f.frequency = ?`
		args = append(args, filter.Frequency)
	}
	for name, value := range filter.RequiredAttrs {
		q += ` AND EXISTS (
			SELECT 1 FROM ncvar_attrs a
			JOIN strings an ON an.id = a.name_id
			JOIN strings av ON av.id = a.value_id
			WHERE a.ncvar_id = nv.id AND an.value = ? AND av.value = ?)`
		args = append(args, name, value)
	}
	q += ` ORDER BY f.time_start, f.ncfile`

	rows, err := db.sql.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve variable %s: %w", filter.Variable, err)
	}
	defer rows.Close()

	var out []VarRow
	for rows.Next() {
		var r VarRow
		var indexTime, dims, chunking string
		if err := rows.Scan(
			&r.File.ID, &r.File.ExperimentID, &r.File.Path, &indexTime,
			&r.File.Present, &r.File.TimeStart, &r.File.TimeEnd, &r.File.Frequency,
			&r.Instance.ID, &dims, &chunking,
			&r.Variable.ID, &r.Variable.Name, &r.Variable.LongName,
			&r.Variable.StandardName, &r.Variable.Units); err != nil {
			return nil, fmt.Errorf("scan variable instance: %w", err)
		}
		if t, perr := time.Parse(indexTimeFormat, indexTime); perr == nil {
			r.File.IndexTime = t
		}
		r.Instance.FileID = r.File.ID
		r.Instance.VariableID = r.Variable.ID
		if r.Instance.Dimensions, err = decodeDims(dims); err != nil {
			return nil, err
		}
		if r.Instance.Chunking, err = decodeChunking(chunking); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := db.attachVarAttrs(out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachVarAttrs fills VarRow.Attrs for a result set in one query.
func (db *DB) attachVarAttrs(rows []VarRow) error {
	if len(rows) == 0 {
		return nil
	}
	byID := make(map[int64]int, len(rows))
	placeholders := make([]string, len(rows))
	args := make([]interface{}, len(rows))
	for i := range rows {
		byID[rows[i].Instance.ID] = i
		placeholders[i] = "?"
		args[i] = rows[i].Instance.ID
	}

	q := fmt.Sprintf(
		`SELECT a.ncvar_id, an.value, av.value
		 FROM ncvar_attrs a
		 JOIN strings an ON an.id = a.name_id
		 JOIN strings av ON av.id = a.value_id
		 WHERE a.ncvar_id IN (%s)`, strings.Join(placeholders, ","))

	res, err := db.sql.Query(q, args...)
	if err != nil {
		return fmt.Errorf("load variable attributes: %w", err)
	}
	defer res.Close()

	for res.Next() {
		var id int64
		var name, value string
		if err := res.Scan(&id, &name, &value); err != nil {
			return err
		}
		i := byID[id]
		if rows[i].Attrs == nil {
			rows[i].Attrs = make(map[string]string)
		}
		rows[i].Attrs[name] = value
	}
	return res.Err()
}

// FileAttrs returns a file's global attributes from the interning pool.
func (db *DB) FileAttrs(fileID int64) (map[string]string, error) {
	rows, err := db.sql.Query(
		`SELECT an.value, av.value
		 FROM ncfile_attrs a
		 JOIN strings an ON an.id = a.name_id
		 JOIN strings av ON av.id = a.value_id
		 WHERE a.ncfile_id = ?`, fileID)
	if err != nil {
		return nil, fmt.Errorf("load file attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		attrs[name] = value
	}
	return attrs, rows.Err()
}

// Counts reports row counts per table, for status output and tests.
func (db *DB) Counts() (map[string]int, error) {
	out := make(map[string]int)
	for _, table := range []string{"experiments", "ncfiles", "variables", "ncvars", "keywords", "strings"} {
		var n int
		if err := db.sql.QueryRow("SELECT count(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}
