// Package kv provides the synchronous key-value substrate markpad persists into:
// an in-memory store for tab-scoped session data and a SQLite store shared by
// every tab and process that opens the same file.
package kv

// Store is a flat string key-value store.
type Store interface {
	// Get returns the value stored under key and whether it exists.
	Get(key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys returns every stored key in unspecified order.
	Keys() ([]string, error)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)
