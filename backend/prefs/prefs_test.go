package prefs

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "prefs.db"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreDefaults(t *testing.T) {
	s := openTestStore(t)

	if got := s.GetString("missing", "fallback"); got != "fallback" {
		t.Errorf("GetString default = %q", got)
	}
	if got := s.GetInt("missing", 7); got != 7 {
		t.Errorf("GetInt default = %d", got)
	}
	if got := s.GetInt64("missing", -1); got != -1 {
		t.Errorf("GetInt64 default = %d", got)
	}
}

func TestSQLiteStoreReadBack(t *testing.T) {
	s := openTestStore(t)

	s.PutString("media_source_component_playback_u10", "com.app/Browse")
	if got := s.GetString("media_source_component_playback_u10", ""); got != "com.app/Browse" {
		t.Errorf("read back %q", got)
	}

	s.PutInt("media_playback_state_u10", 3)
	if got := s.GetInt("media_playback_state_u10", 0); got != 3 {
		t.Errorf("read back %d", got)
	}

	s.PutInt64("counter", 1<<40)
	if got := s.GetInt64("counter", 0); got != 1<<40 {
		t.Errorf("read back %d", got)
	}

	// Overwrite in place.
	s.PutString("media_source_component_playback_u10", "com.other/Browse")
	if got := s.GetString("media_source_component_playback_u10", ""); got != "com.other/Browse" {
		t.Errorf("overwrite read back %q", got)
	}
}

func TestSQLiteStoreBadIntegerFallsBack(t *testing.T) {
	s := openTestStore(t)
	s.PutString("key", "not a number")
	if got := s.GetInt("key", 42); got != 42 {
		t.Errorf("GetInt on garbage = %d, want default", got)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	s, err := OpenSQLite(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.PutString("key", "value")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenSQLite(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if got := s2.GetString("key", ""); got != "value" {
		t.Errorf("after reopen got %q, want value", got)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	if got := m.GetString("k", "d"); got != "d" {
		t.Errorf("default = %q", got)
	}
	m.PutInt("n", 5)
	if got := m.GetInt("n", 0); got != 5 {
		t.Errorf("read back %d", got)
	}
}
