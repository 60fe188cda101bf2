package catalog

import (
	"database/sql"
	"fmt"
)

// Write-side repository: all catalog mutation goes through a Session.

// GetOrCreateExperiment finds the experiment row for (name, rootDir),
// creating it on first index. The second return reports creation.
func (s *Session) GetOrCreateExperiment(name, rootDir string) (*Experiment, bool, error) {
	exp := &Experiment{Name: name, RootDir: rootDir}
	err := s.tx.QueryRow(
		`SELECT id, contact, email, created, description, notes, url
		 FROM experiments WHERE experiment = ? AND root_dir = ?`,
		name, rootDir).Scan(&exp.ID, &exp.Contact, &exp.Email, &exp.Created,
		&exp.Description, &exp.Notes, &exp.URL)
	if err == nil {
		return exp, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("find experiment %s: %w", name, err)
	}
	res, err := s.tx.Exec(
		`INSERT INTO experiments (experiment, root_dir) VALUES (?, ?)`, name, rootDir)
	if err != nil {
		return nil, false, fmt.Errorf("create experiment %s: %w", name, err)
	}
	if exp.ID, err = res.LastInsertId(); err != nil {
		return nil, false, err
	}
	return exp, true, nil
}

// UpdateExperimentMetadata rewrites the human metadata fields.
func (s *Session) UpdateExperimentMetadata(exp *Experiment) error {
	_, err := s.tx.Exec(
		`UPDATE experiments
		 SET contact = ?, email = ?, created = ?, description = ?, notes = ?, url = ?
		 WHERE id = ?`,
		exp.Contact, exp.Email, exp.Created, exp.Description, exp.Notes, exp.URL, exp.ID)
	if err != nil {
		return fmt.Errorf("update experiment metadata: %w", err)
	}
	return nil
}

// MergeExperimentKeywords uniquifies the given keywords (case-insensitive)
// and links any that are not yet attached to the experiment.
func (s *Session) MergeExperimentKeywords(expID int64, keywords []string) error {
	for _, kw := range keywords {
		id, err := s.UniqueKeyword(kw)
		if err != nil {
			return err
		}
		if _, err := s.tx.Exec(
			`INSERT OR IGNORE INTO experiment_keywords (experiment_id, keyword_id) VALUES (?, ?)`,
			expID, id); err != nil {
			return fmt.Errorf("link keyword %s: %w", kw, err)
		}
	}
	return nil
}

// InsertFile stages a new file row and returns its id.
func (s *Session) InsertFile(f *File) (int64, error) {
	res, err := s.tx.Exec(
		`INSERT INTO ncfiles (experiment_id, ncfile, index_time, present, time_start, time_end, frequency)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ExperimentID, f.Path, f.IndexTime.Format(indexTimeFormat),
		f.Present, f.TimeStart, f.TimeEnd, f.Frequency)
	if err != nil {
		return 0, fmt.Errorf("insert file %s: %w", f.Path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

// InsertVarInstance stages a per-file variable instance.
func (s *Session) InsertVarInstance(fileID, variableID int64, dims []string, chunking []int64) (int64, error) {
	res, err := s.tx.Exec(
		`INSERT INTO ncvars (ncfile_id, variable_id, dimensions, chunking) VALUES (?, ?, ?, ?)`,
		fileID, variableID, encodeDims(dims), encodeChunking(chunking))
	if err != nil {
		return 0, fmt.Errorf("insert variable instance: %w", err)
	}
	return res.LastInsertId()
}

// SetFileAttrs stores file-level attributes through the interning pool.
func (s *Session) SetFileAttrs(fileID int64, attrs map[string]string) error {
	for name, value := range attrs {
		nameID, err := s.InternString(name)
		if err != nil {
			return err
		}
		valueID, err := s.InternString(value)
		if err != nil {
			return err
		}
		if _, err := s.tx.Exec(
			`INSERT OR REPLACE INTO ncfile_attrs (ncfile_id, name_id, value_id) VALUES (?, ?, ?)`,
			fileID, nameID, valueID); err != nil {
			return fmt.Errorf("store file attribute %s: %w", name, err)
		}
	}
	return nil
}

// SetVarAttrs stores per-instance attributes through the interning pool.
func (s *Session) SetVarAttrs(ncvarID int64, attrs map[string]string) error {
	for name, value := range attrs {
		nameID, err := s.InternString(name)
		if err != nil {
			return err
		}
		valueID, err := s.InternString(value)
		if err != nil {
			return err
		}
		if _, err := s.tx.Exec(
			`INSERT OR REPLACE INTO ncvar_attrs (ncvar_id, name_id, value_id) VALUES (?, ?, ?)`,
			ncvarID, nameID, valueID); err != nil {
			return fmt.Errorf("store variable attribute %s: %w", name, err)
		}
	}
	return nil
}

// FilesForExperiment returns the experiment's known file rows, staged rows
// included, keyed by path. The indexer reconciles through the session: the
// transaction holds the pool's only connection, so reading through the DB
// mid-session would block on it.
func (s *Session) FilesForExperiment(expID int64) (map[string]File, error) {
	rows, err := s.tx.Query(
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

// DeleteFile removes a file row; variable instances and attributes cascade.
func (s *Session) DeleteFile(fileID int64) error {
	if _, err := s.tx.Exec(`DELETE FROM ncfiles WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("delete file row: %w", err)
	}
	return nil
}

// FlagFileMissing retains a file row but marks it not present.
func (s *Session) FlagFileMissing(fileID int64) error {
	if _, err := s.tx.Exec(`UPDATE ncfiles SET present = 0 WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("flag file row: %w", err)
	}
	return nil
}

// DeleteExperimentFiles removes every file row for an experiment; used by
// force re-indexing.
func (s *Session) DeleteExperimentFiles(expID int64) error {
	if _, err := s.tx.Exec(`DELETE FROM ncfiles WHERE experiment_id = ?`, expID); err != nil {
		return fmt.Errorf("delete experiment files: %w", err)
	}
	return nil
}

// DeleteExperiment removes an experiment and cascades to its files,
// variable instances, attributes and keyword links.
func (s *Session) DeleteExperiment(expID int64) error {
	if _, err := s.tx.Exec(`DELETE FROM experiments WHERE id = ?`, expID); err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	return nil
}
