// Package snapshot creates immutable, uniquely keyed copies of a buffer and
// registers them in the history catalog.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/markpad/internal/apperr"
	"github.com/starford/markpad/internal/history"
	"github.com/starford/markpad/internal/models"
	"github.com/starford/markpad/internal/parser"
	"github.com/starford/markpad/internal/persist"
)

// KeyPrefix starts every snapshot storage key.
const KeyPrefix = "markdown-snapshot-"

// SweepGrace is how old a payload must be before Sweep may treat it as an
// orphan. Younger payloads may belong to a Create, in this or another
// process, that has not registered its metadata yet.
const SweepGrace = time.Minute

// RestorePolicy decides what a restore carries into the new snapshot.
type RestorePolicy string

const (
	// RestoreContentOnly copies only the buffer; the new payload has no editor config.
	RestoreContentOnly RestorePolicy = "content-only"
	// RestoreFullConfig also carries the editor config stored with the old snapshot.
	RestoreFullConfig RestorePolicy = "full-config"
)

// Valid reports whether p is a known policy.
func (p RestorePolicy) Valid() bool {
	return p == RestoreContentOnly || p == RestoreFullConfig
}

// Engine is the snapshot/versioning engine.
type Engine struct {
	p       *persist.Adapter
	history *history.Store
	policy  RestorePolicy
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex
	lastStamp int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithRestorePolicy selects the restore policy. Unknown values are ignored.
func WithRestorePolicy(p RestorePolicy) Option {
	return func(e *Engine) {
		if p.Valid() {
			e.policy = p
		}
	}
}

// WithClock overrides the time source for keys and metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New returns an Engine writing payloads through p and metadata into h.
func New(p *persist.Adapter, h *history.Store, opts ...Option) *Engine {
	e := &Engine{
		p:       p,
		history: h,
		policy:  RestoreContentOnly,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the active restore policy.
func (e *Engine) Policy() RestorePolicy {
	return e.policy
}

// NewKey returns a storage key that no earlier call in this process returned:
// the nanosecond timestamp never repeats, and a random suffix separates keys
// minted at the same instant by other processes.
func (e *Engine) NewKey() string {
	e.mu.Lock()
	stamp := e.now().UnixNano()
	if stamp <= e.lastStamp {
		stamp = e.lastStamp + 1
	}
	e.lastStamp = stamp
	e.mu.Unlock()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return KeyPrefix + strconv.FormatInt(stamp, 10) + "-" + suffix
}

// stampOf returns the timestamp part of a key minted by NewKey.
func stampOf(key string) (time.Time, bool) {
	rest := strings.TrimPrefix(key, KeyPrefix)
	digits, _, _ := strings.Cut(rest, "-")
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// IsKey reports whether key has the snapshot key shape.
func IsKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix)
}

// Create writes a new payload for content and registers it in history.
// With cfg the payload carries a copy of the full editor config; without it
// only content and storage key are written, with version 0.
func (e *Engine) Create(content string, cfg *models.EditorConfig) (string, error) {
	key := e.NewKey()

	env := models.Envelope{
		State: models.DocumentState{Content: content, StorageKey: key},
	}
	if cfg != nil {
		c := *cfg
		env.State.EditorConfig = &c
		env.Version = models.StateVersion
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("snapshot: encode payload: %w", err)
	}
	if err := e.p.Write(key, string(raw)); err != nil {
		return "", fmt.Errorf("snapshot: create: %w", err)
	}

	now := e.now()
	meta := models.SessionMetadata{
		StorageKey:     key,
		Title:          parser.DeriveTitle(content),
		ContentPreview: parser.Preview(content),
		CreatedAt:      now,
		LastModified:   now,
	}
	if err := e.history.Upsert(meta); err != nil {
		// Without metadata the payload is unreachable; drop it.
		_ = e.p.Remove(key)
		return "", fmt.Errorf("snapshot: register: %w", err)
	}

	e.logger.Debug("snapshot: created",
		slog.String("storage_key", key),
		slog.String("title", meta.Title),
		slog.Bool("with_config", cfg != nil))
	return key, nil
}

// Load reads the payload stored under key.
func (e *Engine) Load(key string) (models.Envelope, error) {
	raw, ok := e.p.Read(key)
	if !ok {
		return models.Envelope{}, fmt.Errorf("snapshot: load %s: %w", key, apperr.ErrNotFound)
	}
	var env models.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return models.Envelope{}, fmt.Errorf("snapshot: decode %s: %w", key, err)
	}
	return env, nil
}

// Restore appends a new snapshot holding the content of key and returns the
// new key. The old snapshot is left untouched.
func (e *Engine) Restore(key string) (string, error) {
	env, err := e.Load(key)
	if err != nil {
		return "", err
	}
	var cfg *models.EditorConfig
	if e.policy == RestoreFullConfig {
		cfg = env.State.EditorConfig
	}
	newKey, err := e.Create(env.State.Content, cfg)
	if err != nil {
		return "", err
	}
	e.logger.Info("snapshot: restored",
		slog.String("from", key),
		slog.String("to", newKey),
		slog.String("policy", string(e.policy)))
	return newKey, nil
}

// Sweep deletes snapshot payloads that no catalog entry points at, such as
// those left by a crash between the payload write and the catalog write.
// Payloads younger than SweepGrace are kept. It returns how many were deleted.
func (e *Engine) Sweep() (int, error) {
	keys, err := e.p.DurableKeys(KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("snapshot: sweep: %w", err)
	}

	listed := make(map[string]struct{})
	for _, m := range e.history.List() {
		listed[m.StorageKey] = struct{}{}
	}

	cutoff := e.now().Add(-SweepGrace)
	swept := 0
	for _, key := range keys {
		if _, ok := listed[key]; ok {
			continue
		}
		if stamp, ok := stampOf(key); ok && stamp.After(cutoff) {
			continue
		}
		// The catalog may have gained the key since it was listed.
		if _, ok := e.history.Get(key); ok {
			continue
		}
		if err := e.p.Remove(key); err != nil {
			return swept, fmt.Errorf("snapshot: sweep: %w", err)
		}
		swept++
		e.logger.Info("snapshot: swept orphan payload", slog.String("storage_key", key))
	}
	return swept, nil
}
