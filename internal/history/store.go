// Package history maintains the catalog of snapshot metadata shared by all
// tabs: ordering, retention, rename and deletion, keeping the catalog and the
// snapshot payloads consistent.
//
// Calls within one process are serialized. Across processes there is no lock:
// each call is a read-modify-write of one catalog blob and the last writer wins.
package history

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/starford/markpad/internal/models"
	"github.com/starford/markpad/internal/parser"
	"github.com/starford/markpad/internal/persist"
)

// DefaultMaxEntries is the retention ceiling of the catalog.
const DefaultMaxEntries = 100

// Store is the Session History Store.
type Store struct {
	mu     sync.Mutex
	p      *persist.Adapter
	max    int
	now    func() time.Time
	logger *slog.Logger

	onChange func()
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries sets the retention ceiling.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithClock overrides the time source used for lastModified bumps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithOnChange registers fn to run after every successful catalog write.
func WithOnChange(fn func()) Option {
	return func(s *Store) {
		s.onChange = fn
	}
}

// New returns a Store persisting through p.
func New(p *persist.Adapter, opts ...Option) *Store {
	s := &Store{
		p:      p,
		max:    DefaultMaxEntries,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxEntries returns the retention ceiling.
func (s *Store) MaxEntries() int {
	return s.max
}

// List returns every catalog entry, most recently modified first.
// A corrupt catalog is reset to empty and reported as no history.
func (s *Store) List() []models.SessionMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the entry for key.
func (s *Store) Get(key string) (models.SessionMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.load() {
		if e.StorageKey == key {
			return e, true
		}
	}
	return models.SessionMetadata{}, false
}

// Upsert inserts meta or replaces the entry with the same storage key, keeping
// the original createdAt. Entries beyond the retention ceiling are evicted
// oldest first, and their payloads are removed after the catalog is written.
func (s *Store) Upsert(meta models.SessionMetadata) error {
	if meta.StorageKey == "" {
		return errors.New("history: upsert: empty storage key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entries := s.load()

	for i, e := range entries {
		if e.StorageKey == meta.StorageKey {
			if !e.CreatedAt.IsZero() {
				meta.CreatedAt = e.CreatedAt
			}
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if meta.LastModified.IsZero() {
		meta.LastModified = now
	}

	// Newest insertion goes first so equal timestamps keep insertion order.
	entries = append([]models.SessionMetadata{meta}, entries...)
	sortEntries(entries)

	var evicted []models.SessionMetadata
	if len(entries) > s.max {
		evicted = append(evicted, entries[s.max:]...)
		entries = entries[:s.max]
	}

	if err := s.save(entries); err != nil {
		return err
	}

	for _, e := range evicted {
		s.logger.Debug("history: evicted",
			slog.String("storage_key", e.StorageKey),
			slog.Time("last_modified", e.LastModified))
		_ = s.p.Remove(e.StorageKey)
	}
	return nil
}

// Remove deletes the entry for key and its payload.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	kept := entries[:0]
	for _, e := range entries {
		if e.StorageKey != key {
			kept = append(kept, e)
		}
	}
	if err := s.save(kept); err != nil {
		return err
	}
	return s.p.Remove(key)
}

// RemoveAll empties the catalog and removes every listed payload.
func (s *Store) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	if err := s.save(nil); err != nil {
		return err
	}
	var firstErr error
	for _, e := range entries {
		if err := s.p.Remove(e.StorageKey); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Rename sets the title of key and bumps its lastModified. Unknown keys are
// ignored. A blank title falls back to the default document title.
func (s *Store) Rename(key, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	title = strings.TrimSpace(title)
	if title == "" {
		title = parser.DefaultTitle
	}

	entries := s.load()
	found := false
	for i := range entries {
		if entries[i].StorageKey == key {
			entries[i].Title = title
			entries[i].LastModified = s.now()
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	sortEntries(entries)
	return s.save(entries)
}

// Search ranks entries whose title or preview fuzzily contains query.
// Equal ranks keep recency order. An empty query lists the catalog.
func (s *Store) Search(query string, limit int) []models.SessionMetadata {
	entries := s.List()
	query = strings.TrimSpace(query)

	var out []models.SessionMetadata
	if query == "" {
		out = entries
	} else {
		targets := make([]string, len(entries))
		for i, e := range entries {
			targets[i] = e.Title + " " + e.ContentPreview
		}
		ranks := fuzzy.RankFindNormalizedFold(query, targets)
		sort.SliceStable(ranks, func(i, j int) bool {
			if ranks[i].Distance != ranks[j].Distance {
				return ranks[i].Distance < ranks[j].Distance
			}
			return ranks[i].OriginalIndex < ranks[j].OriginalIndex
		})
		out = make([]models.SessionMetadata, 0, len(ranks))
		for _, r := range ranks {
			out = append(out, entries[r.OriginalIndex])
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Prune drops entries whose payload no longer exists and returns how many
// were dropped.
func (s *Store) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	kept := entries[:0]
	dropped := 0
	for _, e := range entries {
		if s.p.Exists(e.StorageKey) {
			kept = append(kept, e)
			continue
		}
		dropped++
		s.logger.Info("history: pruned entry without payload", slog.String("storage_key", e.StorageKey))
	}
	if dropped == 0 {
		return 0, nil
	}
	if err := s.save(kept); err != nil {
		return 0, err
	}
	return dropped, nil
}

// load reads and decodes the catalog. Callers must hold s.mu.
func (s *Store) load() []models.SessionMetadata {
	raw, ok := s.p.Read(persist.HistoryName)
	if !ok {
		return []models.SessionMetadata{}
	}
	cat, err := DecodeCatalog(raw)
	if err != nil {
		s.logger.Error("history: catalog corrupt, resetting to empty",
			slog.Int("bytes", len(raw)),
			slog.String("error", err.Error()))
		if werr := s.save(nil); werr != nil {
			s.logger.Warn("history: reset after corruption failed", slog.String("error", werr.Error()))
		}
		return []models.SessionMetadata{}
	}
	if cat.Encoding == EncodingLegacyMap {
		s.logger.Info("history: normalizing legacy catalog", slog.Int("entries", len(cat.Entries)))
	}
	return cat.Entries
}

// save writes entries in the canonical encoding. Callers must hold s.mu.
func (s *Store) save(entries []models.SessionMetadata) error {
	raw, err := EncodeCatalog(entries)
	if err != nil {
		return err
	}
	if err := s.p.Write(persist.HistoryName, raw); err != nil {
		return err
	}
	if s.onChange != nil {
		s.onChange()
	}
	return nil
}
