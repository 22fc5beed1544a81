// Package docservice is the use-case layer shared by the HTTP API, the MCP
// server and the CLI: tab editing, history browsing, sharing, rendering and
// export.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/starford/markpad/internal/apperr"
	"github.com/starford/markpad/internal/checksum"
	"github.com/starford/markpad/internal/export"
	"github.com/starford/markpad/internal/models"
	"github.com/starford/markpad/internal/render"
	"github.com/starford/markpad/internal/state"
	"github.com/starford/markpad/internal/storage"
	"github.com/starford/markpad/internal/tabs"
)

// TabNotifier is told when tabs open or close.
type TabNotifier interface {
	PublishTabEvent(eventType, tabID string)
}

// TabView is the full representation of an open tab.
type TabView struct {
	ID            string              `json:"id"`
	Content       string              `json:"content"`
	Checksum      string              `json:"checksum"`
	StorageKey    string              `json:"storageKey"`
	Config        models.EditorConfig `json:"config"`
	Source        string              `json:"source"`
	Draft         *models.Draft       `json:"draft,omitempty"`
	AutoSaveArmed bool                `json:"autoSaveArmed"`
	OpenedAt      time.Time           `json:"openedAt"`
}

// SnapshotDetail is a catalog entry together with its payload.
type SnapshotDetail struct {
	models.SessionMetadata
	Content string               `json:"content"`
	Config  *models.EditorConfig `json:"config,omitempty"`
	Version int                  `json:"version"`
}

// SettingsPatch changes selected editor settings; nil fields are left alone.
type SettingsPatch struct {
	EditorTheme  *string `json:"editorTheme,omitempty"`
	PreviewTheme *string `json:"previewTheme,omitempty"`
	DarkMode     *bool   `json:"darkMode,omitempty"`
	FontSize     *int    `json:"fontSize,omitempty"`
	ScrollSync   *bool   `json:"scrollSync,omitempty"`
	WordWrap     *bool   `json:"wordWrap,omitempty"`
	LineNumbers  *bool   `json:"lineNumbers,omitempty"`
}

// Service coordinates tabs, history, rendering and export.
type Service struct {
	tabs     *tabs.Registry
	renderer *render.Renderer
	exports  storage.Provider
	exporter *export.Exporter
	notifier TabNotifier
}

// Option configures a Service.
type Option func(*Service)

// WithExports enables export into store.
func WithExports(store storage.Provider) Option {
	return func(s *Service) {
		s.exports = store
	}
}

// WithNotifier sets the tab event sink.
func WithNotifier(n TabNotifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// NewService creates a new document service.
func NewService(registry *tabs.Registry, renderer *render.Renderer, opts ...Option) *Service {
	s := &Service{tabs: registry, renderer: renderer}
	for _, opt := range opts {
		opt(s)
	}
	if s.exports != nil {
		s.exporter = export.New(s.exports, renderer, nil)
	}
	return s
}

// --- tabs ---

// OpenTab opens (or reloads, when id names an open tab) a tab hydrated from pageURL.
func (s *Service) OpenTab(_ context.Context, id, pageURL string) (*TabView, error) {
	tab, err := s.tabs.Open(id, pageURL)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.PublishTabEvent("tab.opened", tab.ID)
	}
	return view(tab), nil
}

// GetTab returns the tab with id.
func (s *Service) GetTab(_ context.Context, id string) (*TabView, error) {
	tab, err := s.tabs.Get(id)
	if err != nil {
		return nil, err
	}
	return view(tab), nil
}

// ListTabs returns all open tabs in opening order.
func (s *Service) ListTabs(_ context.Context) []*TabView {
	ids := s.tabs.IDs()
	out := make([]*TabView, 0, len(ids))
	for _, id := range ids {
		if tab, err := s.tabs.Get(id); err == nil {
			out = append(out, view(tab))
		}
	}
	return out
}

// CloseTab closes the tab and discards its session storage.
func (s *Service) CloseTab(_ context.Context, id string) error {
	if err := s.tabs.Close(id); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.PublishTabEvent("tab.closed", id)
	}
	return nil
}

// UpdateContent replaces the tab buffer. A non-empty ifMatch must equal the
// checksum of the current buffer.
func (s *Service) UpdateContent(_ context.Context, id, content, ifMatch string) (*TabView, error) {
	tab, err := s.tabs.Get(id)
	if err != nil {
		return nil, err
	}
	ctrl := tab.Controller()
	if ifMatch == "" {
		ctrl.UpdateContent(content)
	} else if !ctrl.UpdateContentIf(ifMatch, content) {
		return nil, fmt.Errorf("docservice: %s: buffer changed: %w", id, apperr.ErrConflict)
	}
	return view(tab), nil
}

// ResetContent loads the default document into the tab.
func (s *Service) ResetContent(_ context.Context, id string) (*TabView, error) {
	tab, err := s.tabs.Get(id)
	if err != nil {
		return nil, err
	}
	tab.Controller().ResetContent()
	return view(tab), nil
}

// UpdateSettings applies patch to the tab's editor config.
func (s *Service) UpdateSettings(_ context.Context, id string, patch SettingsPatch) (*TabView, error) {
	tab, err := s.tabs.Get(id)
	if err != nil {
		return nil, err
	}
	ctrl := tab.Controller()
	cfg := ctrl.Snapshot().Config
	if patch.EditorTheme != nil {
		cfg.EditorTheme = *patch.EditorTheme
	}
	if patch.PreviewTheme != nil {
		cfg.PreviewTheme = *patch.PreviewTheme
	}
	if patch.DarkMode != nil {
		cfg.DarkMode = *patch.DarkMode
	}
	if patch.FontSize != nil {
		cfg.FontSize = *patch.FontSize
	}
	if patch.ScrollSync != nil {
		cfg.ScrollSync = *patch.ScrollSync
	}
	if patch.WordWrap != nil {
		cfg.WordWrap = *patch.WordWrap
	}
	if patch.LineNumbers != nil {
		cfg.LineNumbers = *patch.LineNumbers
	}
	ctrl.ApplyConfig(cfg)
	return view(tab), nil
}

// TogglePanel flips a panel of the tab.
func (s *Service) TogglePanel(_ context.Context, id string, panel state.Panel) (*TabView, error) {
	tab, err := s.tabs.Get(id)
	if err != nil {
		return nil, err
	}
	if err := tab.Controller().TogglePanel(panel); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrConflict, err)
	}
	return view(tab), nil
}

// SaveTab snapshots the tab buffer with its editor config.
func (s *Service) SaveTab(_ context.Context, id string) (models.SessionMetadata, error) {
	tab, err := s.tabs.Get(id)
	if err != nil {
		return models.SessionMetadata{}, err
	}
	key, err := tab.Controller().Save()
	if err != nil {
		return models.SessionMetadata{}, err
	}
	return s.metadata(key)
}

// RestoreInTab appends a copy of key and loads it into the tab.
func (s *Service) RestoreInTab(_ context.Context, id, key string) (models.SessionMetadata, error) {
	tab, err := s.tabs.Get(id)
	if err != nil {
		return models.SessionMetadata{}, err
	}
	newKey, err := tab.Controller().Restore(key)
	if err != nil {
		return models.SessionMetadata{}, err
	}
	return s.metadata(newKey)
}

// ShareTab builds a share link for the tab buffer.
func (s *Service) ShareTab(_ context.Context, id string) (string, error) {
	tab, err := s.tabs.Get(id)
	if err != nil {
		return "", err
	}
	return tab.Controller().ShareLink(s.tabs.Codec())
}

// ExportTab writes the tab buffer in format to the export directory.
func (s *Service) ExportTab(ctx context.Context, id string, format export.Format) (models.ExportFile, error) {
	tab, err := s.tabs.Get(id)
	if err != nil {
		return models.ExportFile{}, err
	}
	return s.Export(ctx, tab.Controller().Content(), format)
}

// --- history ---

// ListHistory returns a page of the catalog, newest first, and its total size.
func (s *Service) ListHistory(_ context.Context, limit, offset int) ([]models.SessionMetadata, int) {
	entries := s.tabs.History().List()
	total := len(entries)
	if offset > 0 {
		if offset >= len(entries) {
			return []models.SessionMetadata{}, total
		}
		entries = entries[offset:]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, total
}

// SearchHistory ranks catalog entries against query.
func (s *Service) SearchHistory(_ context.Context, query string, limit int) []models.SessionMetadata {
	return nonNilSlice(s.tabs.History().Search(query, limit))
}

// GetSnapshot returns the catalog entry and payload of key.
func (s *Service) GetSnapshot(_ context.Context, key string) (*SnapshotDetail, error) {
	meta, err := s.metadata(key)
	if err != nil {
		return nil, err
	}
	env, err := s.tabs.Engine().Load(key)
	if err != nil {
		return nil, err
	}
	return &SnapshotDetail{
		SessionMetadata: meta,
		Content:         env.State.Content,
		Config:          env.State.EditorConfig,
		Version:         env.Version,
	}, nil
}

// SaveContent snapshots content outside any tab.
func (s *Service) SaveContent(_ context.Context, content string) (models.SessionMetadata, error) {
	key, err := s.tabs.Engine().Create(content, nil)
	if err != nil {
		return models.SessionMetadata{}, err
	}
	return s.metadata(key)
}

// RestoreSnapshot appends a copy of key outside any tab.
func (s *Service) RestoreSnapshot(_ context.Context, key string) (models.SessionMetadata, error) {
	newKey, err := s.tabs.Engine().Restore(key)
	if err != nil {
		return models.SessionMetadata{}, err
	}
	return s.metadata(newKey)
}

// RenameSnapshot retitles key.
func (s *Service) RenameSnapshot(_ context.Context, key, title string) (models.SessionMetadata, error) {
	h := s.tabs.History()
	if _, ok := h.Get(key); !ok {
		return models.SessionMetadata{}, fmt.Errorf("docservice: %s: %w", key, apperr.ErrNotFound)
	}
	if err := h.Rename(key, title); err != nil {
		return models.SessionMetadata{}, err
	}
	return s.metadata(key)
}

// DeleteSnapshot removes key from the catalog together with its payload.
func (s *Service) DeleteSnapshot(_ context.Context, key string) error {
	h := s.tabs.History()
	if _, ok := h.Get(key); !ok {
		return fmt.Errorf("docservice: %s: %w", key, apperr.ErrNotFound)
	}
	return h.Remove(key)
}

// ClearHistory removes every snapshot.
func (s *Service) ClearHistory(_ context.Context) error {
	return s.tabs.History().RemoveAll()
}

// PruneResult counts what PruneHistory removed.
type PruneResult struct {
	// Entries are catalog entries whose payload was missing.
	Entries int `json:"entries"`
	// Payloads are stored snapshots no catalog entry pointed at.
	Payloads int `json:"payloads"`
}

// PruneHistory repairs both directions of catalog drift: entries without a
// payload are dropped, then payloads without an entry are swept.
func (s *Service) PruneHistory(_ context.Context) (PruneResult, error) {
	var res PruneResult
	n, err := s.tabs.History().Prune()
	if err != nil {
		return res, err
	}
	res.Entries = n
	res.Payloads, err = s.tabs.Engine().Sweep()
	return res, err
}

// --- share, render, export ---

// BuildShareLink encodes content into a share link.
func (s *Service) BuildShareLink(_ context.Context, content string) (string, error) {
	return s.tabs.Codec().BuildShareLink(content)
}

// OpenShareLink decodes the buffer carried by rawURL.
func (s *Service) OpenShareLink(_ context.Context, rawURL string) (string, error) {
	text, ok := s.tabs.Codec().ExtractFromURL(rawURL)
	if !ok {
		return "", fmt.Errorf("docservice: no share token in url: %w", apperr.ErrDecodeFailure)
	}
	return text, nil
}

// Render converts content to HTML.
func (s *Service) Render(_ context.Context, content string) (string, error) {
	return s.renderer.Render(content)
}

// Export writes content in format to the export directory.
func (s *Service) Export(_ context.Context, content string, format export.Format) (models.ExportFile, error) {
	if s.exporter == nil {
		return models.ExportFile{}, errors.New("docservice: exports disabled")
	}
	return s.exporter.Export(content, format)
}

// ListExports returns the files in the export directory.
func (s *Service) ListExports(_ context.Context) ([]models.ExportFile, error) {
	if s.exports == nil {
		return []models.ExportFile{}, nil
	}
	files, err := s.exports.List()
	return nonNilSlice(files), err
}

// ReadExport returns the bytes of an exported file.
func (s *Service) ReadExport(_ context.Context, name string) ([]byte, error) {
	if s.exports == nil {
		return nil, apperr.ErrNotFound
	}
	data, err := s.exports.Read(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// DeleteExport removes an exported file.
func (s *Service) DeleteExport(_ context.Context, name string) error {
	if s.exports == nil {
		return apperr.ErrNotFound
	}
	if err := s.exports.Delete(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("docservice: export %s: %w", name, apperr.ErrNotFound)
		}
		return err
	}
	return nil
}

func (s *Service) metadata(key string) (models.SessionMetadata, error) {
	meta, ok := s.tabs.History().Get(key)
	if !ok {
		return models.SessionMetadata{}, fmt.Errorf("docservice: %s: %w", key, apperr.ErrNotFound)
	}
	return meta, nil
}

func view(tab *tabs.Tab) *TabView {
	ctrl := tab.Controller()
	st := ctrl.Snapshot()
	v := &TabView{
		ID:            tab.ID,
		Content:       st.Content,
		Checksum:      checksum.String(st.Content),
		StorageKey:    st.StorageKey,
		Config:        st.Config,
		Source:        string(tab.Source),
		AutoSaveArmed: tab.AutoSaveArmed(),
		OpenedAt:      tab.OpenedAt,
	}
	if d, ok := ctrl.Draft(); ok {
		v.Draft = &d
	}
	return v
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
