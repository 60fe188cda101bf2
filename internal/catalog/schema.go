package catalog

// SchemaVersion is stamped into PRAGMA user_version when a catalog is
// created. Opening a catalog stamped with any other version is a hard
// error; there is no migration path.
const SchemaVersion = 3

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id          INTEGER PRIMARY KEY,
	experiment  TEXT NOT NULL,
	root_dir    TEXT NOT NULL,
	contact     TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	created     TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS ix_experiments_experiment_rootdir
	ON experiments (experiment, root_dir);

CREATE TABLE IF NOT EXISTS keywords (
	id      INTEGER PRIMARY KEY,
	keyword TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS experiment_keywords (
	experiment_id INTEGER NOT NULL REFERENCES experiments (id) ON DELETE CASCADE,
	keyword_id    INTEGER NOT NULL REFERENCES keywords (id) ON DELETE CASCADE,
	PRIMARY KEY (experiment_id, keyword_id)
);

CREATE TABLE IF NOT EXISTS ncfiles (
	id            INTEGER PRIMARY KEY,
	experiment_id INTEGER NOT NULL REFERENCES experiments (id) ON DELETE CASCADE,
	ncfile        TEXT NOT NULL,
	index_time    TEXT NOT NULL,
	present       INTEGER NOT NULL DEFAULT 0,
	time_start    TEXT NOT NULL DEFAULT '',
	time_end      TEXT NOT NULL DEFAULT '',
	frequency     TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS ix_ncfiles_experiment_ncfile
	ON ncfiles (experiment_id, ncfile);
CREATE INDEX IF NOT EXISTS ix_ncfiles_ncfile ON ncfiles (ncfile);

CREATE TABLE IF NOT EXISTS variables (
	id            INTEGER PRIMARY KEY,
	name          TEXT NOT NULL,
	long_name     TEXT NOT NULL DEFAULT '',
	standard_name TEXT NOT NULL DEFAULT '',
	units         TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS ix_variables_name_long_name_units
	ON variables (name, long_name, units);
CREATE INDEX IF NOT EXISTS ix_variables_name ON variables (name);

CREATE TABLE IF NOT EXISTS ncvars (
	id          INTEGER PRIMARY KEY,
	ncfile_id   INTEGER NOT NULL REFERENCES ncfiles (id) ON DELETE CASCADE,
	variable_id INTEGER NOT NULL REFERENCES variables (id),
	dimensions  TEXT NOT NULL DEFAULT '[]',
	chunking    TEXT NOT NULL DEFAULT 'null'
);
CREATE INDEX IF NOT EXISTS ix_ncvars_ncfile_id ON ncvars (ncfile_id);
CREATE INDEX IF NOT EXISTS ix_ncvars_variable_id ON ncvars (variable_id);

CREATE TABLE IF NOT EXISTS strings (
	id    INTEGER PRIMARY KEY,
	value TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS ncfile_attrs (
	ncfile_id INTEGER NOT NULL REFERENCES ncfiles (id) ON DELETE CASCADE,
	name_id   INTEGER NOT NULL REFERENCES strings (id),
	value_id  INTEGER NOT NULL REFERENCES strings (id),
	PRIMARY KEY (ncfile_id, name_id)
);

CREATE TABLE IF NOT EXISTS ncvar_attrs (
	ncvar_id INTEGER NOT NULL REFERENCES ncvars (id) ON DELETE CASCADE,
	name_id  INTEGER NOT NULL REFERENCES strings (id),
	value_id INTEGER NOT NULL REFERENCES strings (id),
	PRIMARY KEY (ncvar_id, name_id)
);
`
