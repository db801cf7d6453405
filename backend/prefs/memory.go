package prefs

import (
	"strconv"
	"sync"
)

// MemoryStore is an in-memory Store. Used in tests and as the stand-in for
// a user whose credential-encrypted storage has not unlocked yet.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) GetString(key, def string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	return def
}

func (m *MemoryStore) PutString(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MemoryStore) GetInt(key string, def int) int {
	return int(m.GetInt64(key, int64(def)))
}

func (m *MemoryStore) PutInt(key string, value int) {
	m.PutInt64(key, int64(value))
}

func (m *MemoryStore) GetInt64(key string, def int64) int64 {
	raw := m.GetString(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func (m *MemoryStore) PutInt64(key string, value int64) {
	m.PutString(key, strconv.FormatInt(value, 10))
}
