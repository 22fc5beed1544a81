package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/starford/markpad/internal/apperr"
	"github.com/starford/markpad/internal/models"
)

// Encoding identifies which shape a stored catalog blob had.
type Encoding int

const (
	// EncodingEmpty means nothing usable was stored (absent key, empty or null blob).
	EncodingEmpty Encoding = iota
	// EncodingList is the canonical ordered array of metadata records.
	EncodingList
	// EncodingLegacyMap is the older object keyed by storage key.
	EncodingLegacyMap
)

func (e Encoding) String() string {
	switch e {
	case EncodingList:
		return "list"
	case EncodingLegacyMap:
		return "legacy-map"
	default:
		return "empty"
	}
}

// Catalog is a decoded catalog blob, already normalized to the ordered list.
type Catalog struct {
	Encoding Encoding
	Entries  []models.SessionMetadata
}

// wireEntry accepts both canonical records and the looser legacy ones,
// where timestamps may be epoch milliseconds and the key may be implied.
type wireEntry struct {
	StorageKey     string   `json:"storageKey"`
	Title          string   `json:"title"`
	ContentPreview string   `json:"contentPreview"`
	CreatedAt      flexTime `json:"createdAt"`
	LastModified   flexTime `json:"lastModified"`
}

func (w wireEntry) metadata() models.SessionMetadata {
	return models.SessionMetadata{
		StorageKey:     w.StorageKey,
		Title:          w.Title,
		ContentPreview: w.ContentPreview,
		CreatedAt:      time.Time(w.CreatedAt),
		LastModified:   time.Time(w.LastModified),
	}
}

// flexTime decodes RFC 3339 strings, epoch milliseconds, or numeric strings.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = flexTime(time.Time{})
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = flexTime(time.Time{})
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			*f = flexTime(time.UnixMilli(ms).UTC())
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*f = flexTime(t)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*f = flexTime(time.UnixMilli(int64(ms)).UTC())
	return nil
}

// DecodeCatalog parses a stored catalog blob. Both the ordered list and the
// legacy keyed object are accepted; the result is sorted most recent first.
// Anything else wraps apperr.ErrCatalogCorrupt.
func DecodeCatalog(raw string) (Catalog, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Catalog{Encoding: EncodingEmpty}, nil
	}

	switch trimmed[0] {
	case '[':
		var list []wireEntry
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return Catalog{}, fmt.Errorf("history: decode list: %w: %v", apperr.ErrCatalogCorrupt, err)
		}
		entries := make([]models.SessionMetadata, 0, len(list))
		for _, w := range list {
			if w.StorageKey == "" {
				continue
			}
			entries = append(entries, w.metadata())
		}
		sortEntries(entries)
		return Catalog{Encoding: EncodingList, Entries: dedupe(entries)}, nil

	case '{':
		var legacy map[string]wireEntry
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return Catalog{}, fmt.Errorf("history: decode legacy map: %w: %v", apperr.ErrCatalogCorrupt, err)
		}
		entries := make([]models.SessionMetadata, 0, len(legacy))
		for key, w := range legacy {
			if w.StorageKey == "" {
				w.StorageKey = key
			}
			entries = append(entries, w.metadata())
		}
		// Map iteration order is random; settle ties by key first.
		sort.Slice(entries, func(i, j int) bool { return entries[i].StorageKey < entries[j].StorageKey })
		sortEntries(entries)
		return Catalog{Encoding: EncodingLegacyMap, Entries: dedupe(entries)}, nil
	}

	return Catalog{}, fmt.Errorf("history: unrecognized catalog encoding: %w", apperr.ErrCatalogCorrupt)
}

// EncodeCatalog serializes entries in the canonical list encoding.
func EncodeCatalog(entries []models.SessionMetadata) (string, error) {
	if entries == nil {
		entries = []models.SessionMetadata{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("history: encode catalog: %w", err)
	}
	return string(data), nil
}

// sortEntries orders by lastModified, newest first, keeping the existing
// relative order of equal timestamps.
func sortEntries(entries []models.SessionMetadata) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastModified.After(entries[j].LastModified)
	})
}

// dedupe keeps the first (most recent) record per storage key.
func dedupe(entries []models.SessionMetadata) []models.SessionMetadata {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if _, ok := seen[e.StorageKey]; ok {
			continue
		}
		seen[e.StorageKey] = struct{}{}
		out = append(out, e)
	}
	return out
}
