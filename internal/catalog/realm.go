package catalog

import "strings"

// Model output is conventionally split per submodel (ocean, atmosphere,
// ice, land), recoverable only heuristically from the file path. The
// classification exists twice: RealmForPath for in-memory use, and
// realmCaseSQL as the equivalent query fragment. The two must agree; a
// test verifies it over a path corpus.

const (
	RealmOcean      = "ocean"
	RealmAtmosphere = "atmosphere"
	RealmIce        = "ice"
	RealmLand       = "land"
	RealmNone       = ""
)

// RealmForPath classifies a file path by submodel. Match order matters:
// "ocean" wins over "ice" for paths like "ocean/ice_diag.nc" because the
// earlier path component is the more authoritative one in practice.
func RealmForPath(path string) string {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "ocean"):
		return RealmOcean
	case strings.Contains(p, "atmos"):
		return RealmAtmosphere
	case strings.Contains(p, "ice"):
		return RealmIce
	case strings.Contains(p, "land"):
		return RealmLand
	}
	return RealmNone
}

// realmCaseSQL is the query-fragment form of RealmForPath, evaluated over
// the ncfile column.
const realmCaseSQL = `CASE
	WHEN lower(ncfile) LIKE '%ocean%' THEN 'ocean'
	WHEN lower(ncfile) LIKE '%atmos%' THEN 'atmosphere'
	WHEN lower(ncfile) LIKE '%ice%' THEN 'ice'
	WHEN lower(ncfile) LIKE '%land%' THEN 'land'
	ELSE ''
END`

// FileRealms returns each file path of an experiment with its realm,
// classified inside the query.
func (db *DB) FileRealms(expID int64) (map[string]string, error) {
	rows, err := db.sql.Query(
		`SELECT ncfile, `+realmCaseSQL+` FROM ncfiles WHERE experiment_id = ?`, expID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, realm string
		if err := rows.Scan(&path, &realm); err != nil {
			return nil, err
		}
		out[path] = realm
	}
	return out, rows.Err()
}
