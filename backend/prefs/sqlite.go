package prefs

import (
	"database/sql"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by a single-table SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) the store database at path.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening prefs database")
	}
	// The store is accessed from one process; a single connection avoids
	// SQLITE_BUSY between the worker and API threads.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS prefs (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating prefs table")
	}
	return &SQLiteStore{db: db, log: logger.With().Str("component", "prefs").Logger()}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetString(key, def string) string {
	var value string
	err := s.db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return def
	case err != nil:
		s.log.Error().Err(err).Str("key", key).Msg("prefs read failed")
		return def
	}
	return value
}

func (s *SQLiteStore) PutString(key, value string) {
	_, err := s.db.Exec(
		`INSERT INTO prefs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("prefs write failed")
	}
}

func (s *SQLiteStore) GetInt(key string, def int) int {
	return int(s.GetInt64(key, int64(def)))
}

func (s *SQLiteStore) PutInt(key string, value int) {
	s.PutInt64(key, int64(value))
}

func (s *SQLiteStore) GetInt64(key string, def int64) int64 {
	raw := s.GetString(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.log.Error().Str("key", key).Str("value", raw).Msg("prefs value is not an integer")
		return def
	}
	return v
}

func (s *SQLiteStore) PutInt64(key string, value int64) {
	s.PutString(key, strconv.FormatInt(value, 10))
}
