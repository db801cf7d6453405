// Package prefs provides the persistent key-value store the coordinator
// writes recoverable media state through. Writes are best-effort: callers
// treat the store as a cache of state that can be rebuilt, so Put methods
// log failures instead of returning them.
package prefs

// Store is the read/write contract. Per-user scoping is done by the caller
// through key suffixing.
type Store interface {
	GetString(key, def string) string
	PutString(key, value string)
	GetInt(key string, def int) int
	PutInt(key string, value int)
	GetInt64(key string, def int64) int64
	PutInt64(key string, value int64)
}
