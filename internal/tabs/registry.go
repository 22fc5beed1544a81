// Package tabs keeps the open editor tabs of this process. Each tab owns a
// session store that dies with it, a state controller and an auto-save
// timer; all tabs share the durable store.
package tabs

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/markpad/internal/apperr"
	"github.com/starford/markpad/internal/autosave"
	"github.com/starford/markpad/internal/history"
	"github.com/starford/markpad/internal/kv"
	"github.com/starford/markpad/internal/persist"
	"github.com/starford/markpad/internal/sharelink"
	"github.com/starford/markpad/internal/snapshot"
	"github.com/starford/markpad/internal/state"
)

// Settings are the per-tab knobs taken from configuration.
type Settings struct {
	MaxEntries       int
	RestorePolicy    snapshot.RestorePolicy
	AutoSaveInterval time.Duration
	DraftDebounce    time.Duration
	// SessionQuota caps the bytes one tab's session store may hold; zero is unlimited.
	SessionQuota int
}

// Tab is one open editor tab.
type Tab struct {
	ID       string
	OpenedAt time.Time
	Source   state.HydrateSource

	ctrl      *state.Controller
	session   *kv.Memory
	scheduler *autosave.Scheduler
	timer     *autosave.Timer
	detector  *autosave.ChangeDetector
}

// Controller returns the tab's state controller.
func (t *Tab) Controller() *state.Controller {
	return t.ctrl
}

// AutoSaveNow runs one auto-save tick immediately and reports whether a
// snapshot was written.
func (t *Tab) AutoSaveNow() bool {
	return t.detector.Tick()
}

// AutoSaveArmed reports whether the tab's auto-save timer is live.
func (t *Tab) AutoSaveArmed() bool {
	return t.scheduler.Armed()
}

func (t *Tab) shutdown() {
	t.scheduler.Stop(t.timer)
	t.ctrl.Close()
}

// Registry owns the tabs of this process.
type Registry struct {
	durable  kv.Store
	codec    sharelink.Codec
	settings Settings
	logger   *slog.Logger
	onChange func()

	history *history.Store
	engine  *snapshot.Engine

	mu   sync.Mutex
	tabs map[string]*Tab
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithOnHistoryChange registers fn to run after any tab rewrites the catalog.
func WithOnHistoryChange(fn func()) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry returns an empty registry over the shared durable store.
func NewRegistry(durable kv.Store, codec sharelink.Codec, settings Settings, opts ...Option) *Registry {
	r := &Registry{
		durable:  durable,
		codec:    codec,
		settings: settings,
		logger:   slog.Default(),
		tabs:     make(map[string]*Tab),
	}
	for _, opt := range opts {
		opt(r)
	}

	// One history store and one engine serve every tab and the callers
	// outside any tab (API listing, MCP, CLI), so in-process catalog writes
	// share one mutex and snapshot keys one clock. They only touch the
	// durable side; the session store here is never written.
	p := persist.New(kv.NewMemory(), durable, r.logger)
	r.history, r.engine = r.versioning(p)
	return r
}

func (r *Registry) versioning(p *persist.Adapter) (*history.Store, *snapshot.Engine) {
	hopts := []history.Option{
		history.WithMaxEntries(r.settings.MaxEntries),
		history.WithLogger(r.logger),
	}
	if r.onChange != nil {
		hopts = append(hopts, history.WithOnChange(r.onChange))
	}
	h := history.New(p, hopts...)

	policy := r.settings.RestorePolicy
	if !policy.Valid() {
		policy = snapshot.RestoreContentOnly
	}
	e := snapshot.New(p, h,
		snapshot.WithRestorePolicy(policy),
		snapshot.WithLogger(r.logger))
	return h, e
}

// History returns the catalog view shared by all tabs.
func (r *Registry) History() *history.Store {
	return r.history
}

// Engine returns a snapshot engine over the durable store.
func (r *Registry) Engine() *snapshot.Engine {
	return r.engine
}

// Codec returns the share-link codec.
func (r *Registry) Codec() sharelink.Codec {
	return r.codec
}

// Open creates a tab and hydrates it from pageURL. An empty id mints a new
// tab; an existing id reloads that tab, keeping its session store.
func (r *Registry) Open(id, pageURL string) (*Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var session *kv.Memory
	if id == "" {
		id = uuid.NewString()
	} else if old, ok := r.tabs[id]; ok {
		old.shutdown()
		session = old.session
	}
	if session == nil {
		var mopts []kv.MemoryOption
		if r.settings.SessionQuota > 0 {
			mopts = append(mopts, kv.WithQuota(r.settings.SessionQuota))
		}
		session = kv.NewMemory(mopts...)
	}

	tab := r.build(id, session)
	tab.Source = tab.ctrl.Hydrate(pageURL, r.codec)
	tab.detector.Prime(tab.ctrl.Content())
	tab.timer = tab.scheduler.Start(tab.detector.Func())
	r.tabs[id] = tab

	r.logger.Info("tabs: opened",
		slog.String("tab_id", id),
		slog.String("source", string(tab.Source)))
	return tab, nil
}

func (r *Registry) build(id string, session *kv.Memory) *Tab {
	p := persist.New(session, r.durable, r.logger.With(slog.String("tab_id", id)))

	ctrl := state.New(p, r.engine,
		state.WithLogger(r.logger),
		state.WithDraftDebounce(r.settings.DraftDebounce))

	detector := autosave.NewChangeDetector(ctrl.Content, func(content string) error {
		_, err := ctrl.AutoSave(content)
		return err
	}, r.logger)

	return &Tab{
		ID:        id,
		OpenedAt:  time.Now().UTC(),
		ctrl:      ctrl,
		session:   session,
		scheduler: autosave.New(r.settings.AutoSaveInterval, r.logger),
		detector:  detector,
	}
}

// Get returns the tab with id.
func (r *Registry) Get(id string) (*Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[id]
	if !ok {
		return nil, fmt.Errorf("tabs: %s: %w", id, apperr.ErrNotFound)
	}
	return tab, nil
}

// IDs lists open tab ids in opening order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tabs := make([]*Tab, 0, len(r.tabs))
	for _, t := range r.tabs {
		tabs = append(tabs, t)
	}
	sort.Slice(tabs, func(i, j int) bool {
		if tabs[i].OpenedAt.Equal(tabs[j].OpenedAt) {
			return tabs[i].ID < tabs[j].ID
		}
		return tabs[i].OpenedAt.Before(tabs[j].OpenedAt)
	})
	ids := make([]string, len(tabs))
	for i, t := range tabs {
		ids[i] = t.ID
	}
	return ids
}

// Close stops the tab's timer and discards its session store. Durable
// snapshots are kept.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	tab, ok := r.tabs[id]
	delete(r.tabs, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("tabs: %s: %w", id, apperr.ErrNotFound)
	}
	tab.shutdown()
	tab.session.Clear()
	r.logger.Info("tabs: closed", slog.String("tab_id", id))
	return nil
}

// CloseAll closes every tab.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		_ = r.Close(id)
	}
}
