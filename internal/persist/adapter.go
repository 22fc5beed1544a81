// Package persist maps logical storage names onto physical keys in the
// tab-scoped session store or the durable store shared by all tabs.
package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/markpad/internal/apperr"
	"github.com/starford/markpad/internal/kv"
)

// Logical names with a fixed physical placement. Any other name is treated
// as a snapshot key and stored under itself in the durable store.
const (
	// BufferName is the live editing buffer of one tab.
	BufferName = "markdown-storage"
	// DraftName is the debounced summary of a tab's unsaved edits.
	DraftName = "markdown-draft"
	// HistoryName is the catalog of snapshot metadata shared by all tabs.
	HistoryName = "markdown-session-history"
)

const (
	sessionBufferKey = "markdown-storage-session"
	sessionDraftKey  = "markdown-draft-session"
	durableCatalog   = "markdown-session-history"
)

// Location tells where a logical name is stored.
type Location int

const (
	Session Location = iota
	Durable
)

func (l Location) String() string {
	if l == Session {
		return "session"
	}
	return "durable"
}

// Adapter is the persistence boundary used by history, snapshot and state.
// No method panics or blocks on a failing store: reads report "absent" and
// writes return an error wrapping apperr.ErrStorageWrite.
type Adapter struct {
	session kv.Store
	durable kv.Store
	logger  *slog.Logger
}

// New returns an adapter over one tab's session store and the shared durable store.
func New(session, durable kv.Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{session: session, durable: durable, logger: logger}
}

// Resolve returns the store location and physical key for a logical name.
func Resolve(name string) (Location, string) {
	switch name {
	case BufferName:
		return Session, sessionBufferKey
	case DraftName:
		return Session, sessionDraftKey
	case HistoryName:
		return Durable, durableCatalog
	default:
		return Durable, name
	}
}

func (a *Adapter) target(name string) (kv.Store, string) {
	loc, key := Resolve(name)
	if loc == Session {
		return a.session, key
	}
	return a.durable, key
}

// Read returns the value stored for name.
func (a *Adapter) Read(name string) (string, bool) {
	store, key := a.target(name)
	v, ok, err := store.Get(key)
	if err != nil {
		a.logger.Warn("persist: read failed",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return "", false
	}
	return v, ok
}

// Write stores value for name.
func (a *Adapter) Write(name, value string) error {
	store, key := a.target(name)
	if err := store.Set(key, value); err != nil {
		a.logger.Warn("persist: write failed",
			slog.String("name", name),
			slog.Int("bytes", len(value)),
			slog.Bool("quota", errors.Is(err, apperr.ErrQuotaExceeded)),
			slog.String("error", err.Error()))
		return fmt.Errorf("persist: write %s: %w: %w", name, apperr.ErrStorageWrite, err)
	}
	return nil
}

// Remove deletes the value stored for name. Failures are logged and reported.
func (a *Adapter) Remove(name string) error {
	store, key := a.target(name)
	if err := store.Delete(key); err != nil {
		a.logger.Warn("persist: remove failed",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return fmt.Errorf("persist: remove %s: %w", name, err)
	}
	return nil
}

// DurableKeys lists the physical durable keys starting with prefix.
func (a *Adapter) DurableKeys(prefix string) ([]string, error) {
	keys, err := a.durable.Keys()
	if err != nil {
		return nil, fmt.Errorf("persist: list keys: %w", err)
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) && k != durableCatalog {
			out = append(out, k)
		}
	}
	return out, nil
}

// Exists reports whether a value is stored for name.
func (a *Adapter) Exists(name string) bool {
	_, ok := a.Read(name)
	return ok
}
