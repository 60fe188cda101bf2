package catalog

import (
	"database/sql"
	"fmt"
	"strings"
)

// Session is one unit of catalog mutation: a transaction plus the
// per-session uniquing caches. The caches guarantee one row per logically
// distinct Variable, Keyword or interned string even across many staged,
// uncommitted inserts.
type Session struct {
	tx *sql.Tx

	variables map[variableKey]int64
	keywords  map[string]int64
	strings   map[string]int64
}

func newSession(tx *sql.Tx) *Session {
	return &Session{
		tx:        tx,
		variables: make(map[variableKey]int64),
		keywords:  make(map[string]int64),
		strings:   make(map[string]int64),
	}
}

func (s *Session) Commit() error   { return s.tx.Commit() }
func (s *Session) Rollback() error { return s.tx.Rollback() }

type variableKey struct {
	name     string
	longName string
	units    string
}

// asUnique is the get-or-create contract: consult the session cache, then
// committed-or-staged rows, then insert.
func asUnique[K comparable](cache map[K]int64, key K,
	lookup func() (int64, error), insert func() (int64, error)) (int64, error) {

	if id, ok := cache[key]; ok {
		return id, nil
	}
	id, err := lookup()
	if err == sql.ErrNoRows {
		if id, err = insert(); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}
	cache[key] = id
	return id, nil
}

// UniqueVariable returns the id of the canonical variable row for
// (name, longName, units), creating it if necessary. standardName rides
// along but does not participate in identity.
func (s *Session) UniqueVariable(name, longName, standardName, units string) (int64, error) {
	key := variableKey{name: name, longName: longName, units: units}
	return asUnique(s.variables, key,
		func() (int64, error) {
			var id int64
			err := s.tx.QueryRow(
				`SELECT id FROM variables WHERE name = ? AND long_name = ? AND units = ?`,
				name, longName, units).Scan(&id)
			return id, err
		},
		func() (int64, error) {
			res, err := s.tx.Exec(
				`INSERT INTO variables (name, long_name, standard_name, units) VALUES (?, ?, ?, ?)`,
				name, longName, standardName, units)
			if err != nil {
				return 0, fmt.Errorf("insert variable %s: %w", name, err)
			}
			return res.LastInsertId()
		})
}

// UniqueKeyword returns the id of the interned keyword row. Keywords are
// case-insensitive; the canonical form is lowercase.
func (s *Session) UniqueKeyword(keyword string) (int64, error) {
	canonical := strings.ToLower(keyword)
	return asUnique(s.keywords, canonical,
		func() (int64, error) {
			var id int64
			err := s.tx.QueryRow(
				`SELECT id FROM keywords WHERE keyword = ?`, canonical).Scan(&id)
			return id, err
		},
		func() (int64, error) {
			res, err := s.tx.Exec(
				`INSERT INTO keywords (keyword) VALUES (?)`, canonical)
			if err != nil {
				return 0, fmt.Errorf("insert keyword %s: %w", canonical, err)
			}
			return res.LastInsertId()
		})
}

// InternString returns the id of the interned string value.
func (s *Session) InternString(value string) (int64, error) {
	return asUnique(s.strings, value,
		func() (int64, error) {
			var id int64
			err := s.tx.QueryRow(
				`SELECT id FROM strings WHERE value = ?`, value).Scan(&id)
			return id, err
		},
		func() (int64, error) {
			res, err := s.tx.Exec(
				`INSERT INTO strings (value) VALUES (?)`, value)
			if err != nil {
				return 0, fmt.Errorf("intern string: %w", err)
			}
			return res.LastInsertId()
		})
}
