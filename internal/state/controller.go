// Package state holds the live, observable model of one editor tab: the
// buffer, the editor configuration and the key of the snapshot it points at.
// Persistence happens through subscribers; versioning is delegated to the
// snapshot engine.
package state

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/markpad/internal/checksum"
	"github.com/starford/markpad/internal/models"
	"github.com/starford/markpad/internal/persist"
	"github.com/starford/markpad/internal/sharelink"
	"github.com/starford/markpad/internal/snapshot"
)

// DefaultContent is the built-in document a fresh or reset tab shows.
const DefaultContent = `# Welcome to markpad

Write **Markdown** on the left, see it rendered on the right.

- Press Ctrl+S to save a snapshot to history.
- Snapshots are also taken automatically every 10 minutes.
- Use Share to copy a link that carries this document.
`

// Panel names a toggleable UI panel.
type Panel string

const (
	PanelEditor  Panel = "editor"
	PanelPreview Panel = "preview"
)

// State is an immutable copy of the controller's fields.
type State struct {
	Content    string              `json:"content"`
	StorageKey string              `json:"storageKey"`
	Config     models.EditorConfig `json:"config"`
}

// Change is delivered to listeners after every mutation.
type Change struct {
	Prev State
	Next State
}

// ContentChanged reports whether the buffer differs between Prev and Next.
func (c Change) ContentChanged() bool {
	return c.Prev.Content != c.Next.Content
}

// Listener observes state changes. Listeners run after the controller's lock
// is released and must not block.
type Listener func(Change)

// HydrateSource says where the initial buffer came from.
type HydrateSource string

const (
	SourceMirror  HydrateSource = "mirror"
	SourceShare   HydrateSource = "share"
	SourceDefault HydrateSource = "default"
)

// Controller is the Application State Controller for one tab.
type Controller struct {
	engine *snapshot.Engine
	mirror *Mirror
	draft  *DraftCommitter
	logger *slog.Logger

	// dispatch is held from a mutation until its listeners return, so
	// listeners see changes in the order they were applied.
	dispatch sync.Mutex

	mu        sync.Mutex
	st        State
	listeners map[int]Listener
	nextID    int
}

// Option configures a Controller.
type Option func(*controllerOptions)

type controllerOptions struct {
	logger        *slog.Logger
	draftDebounce time.Duration
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *controllerOptions) {
		o.logger = l
	}
}

// WithDraftDebounce sets how long after the last edit the draft summary is
// written. Zero selects DefaultDraftDebounce; a negative delay disables
// draft commits.
func WithDraftDebounce(d time.Duration) Option {
	return func(o *controllerOptions) {
		o.draftDebounce = d
	}
}

// MinFontSize and MaxFontSize bound the editor font size.
const (
	MinFontSize = 8
	MaxFontSize = 48
)

func clampFontSize(size int) int {
	switch {
	case size < MinFontSize:
		return MinFontSize
	case size > MaxFontSize:
		return MaxFontSize
	}
	return size
}

// New returns a Controller holding the default document. p is the tab's
// persistence adapter; the mirror and draft subscribers write through it.
func New(p *persist.Adapter, engine *snapshot.Engine, opts ...Option) *Controller {
	o := controllerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{
		engine:    engine,
		logger:    o.logger,
		listeners: make(map[int]Listener),
		st: State{
			Content: DefaultContent,
			Config:  models.DefaultEditorConfig(),
		},
	}

	c.mirror = NewMirror(p, o.logger)
	c.Subscribe(c.mirror.OnChange)

	if o.draftDebounce >= 0 {
		c.draft = NewDraftCommitter(p, o.draftDebounce, o.logger)
		c.Subscribe(c.draft.OnChange)
	}
	return c
}

// Subscribe registers fn and returns a function that removes it.
func (c *Controller) Subscribe(fn Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// Content returns the current buffer.
func (c *Controller) Content() string {
	return c.Snapshot().Content
}

// update applies fn under the lock and notifies listeners afterwards.
func (c *Controller) update(fn func(*State)) State {
	next, _ := c.apply(func(s *State) bool {
		fn(s)
		return true
	})
	return next
}

// apply runs fn under the lock. When fn reports false the state is left as
// it was and no listener runs. Listeners run outside c.mu, so they may read
// the controller, but they must not mutate it.
func (c *Controller) apply(fn func(*State) bool) (State, bool) {
	c.dispatch.Lock()
	defer c.dispatch.Unlock()

	c.mu.Lock()
	prev := c.st
	if !fn(&c.st) {
		c.st = prev
		c.mu.Unlock()
		return prev, false
	}
	next := c.st
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	ch := Change{Prev: prev, Next: next}
	for _, l := range listeners {
		l(ch)
	}
	return next, true
}

// UpdateContent replaces the buffer.
func (c *Controller) UpdateContent(text string) {
	c.update(func(s *State) { s.Content = text })
}

// UpdateContentIf replaces the buffer only while its checksum still equals
// sum, and reports whether it did.
func (c *Controller) UpdateContentIf(sum, text string) bool {
	_, ok := c.apply(func(s *State) bool {
		if checksum.String(s.Content) != sum {
			return false
		}
		s.Content = text
		return true
	})
	return ok
}

// SwitchStorageKey points the tab at another snapshot key.
func (c *Controller) SwitchStorageKey(key string) {
	c.update(func(s *State) { s.StorageKey = key })
}

// ResetContent restores the built-in default document.
func (c *Controller) ResetContent() {
	c.update(func(s *State) { s.Content = DefaultContent })
}

// SetDarkMode sets the dark-mode flag.
func (c *Controller) SetDarkMode(on bool) {
	c.update(func(s *State) { s.Config.DarkMode = on })
}

// SetEditorTheme sets the editor theme.
func (c *Controller) SetEditorTheme(theme string) {
	c.update(func(s *State) { s.Config.EditorTheme = theme })
}

// SetPreviewTheme sets the preview theme.
func (c *Controller) SetPreviewTheme(theme string) {
	c.update(func(s *State) { s.Config.PreviewTheme = theme })
}

// SetFontSize sets the editor font size, clamped to [MinFontSize, MaxFontSize].
func (c *Controller) SetFontSize(size int) {
	c.update(func(s *State) { s.Config.FontSize = clampFontSize(size) })
}

// SetScrollSync toggles synchronized scrolling of editor and preview.
func (c *Controller) SetScrollSync(on bool) {
	c.update(func(s *State) { s.Config.ScrollSync = on })
}

// TogglePanel flips the visibility of p. Hiding the last visible panel is
// refused so the tab never shows nothing.
func (c *Controller) TogglePanel(p Panel) error {
	var err error
	c.apply(func(s *State) bool {
		switch p {
		case PanelEditor:
			if s.Config.ShowEditor && !s.Config.ShowPreview {
				err = fmt.Errorf("state: cannot hide the only visible panel")
				return false
			}
			s.Config.ShowEditor = !s.Config.ShowEditor
		case PanelPreview:
			if s.Config.ShowPreview && !s.Config.ShowEditor {
				err = fmt.Errorf("state: cannot hide the only visible panel")
				return false
			}
			s.Config.ShowPreview = !s.Config.ShowPreview
		default:
			err = fmt.Errorf("state: unknown panel %q", p)
			return false
		}
		return true
	})
	return err
}

// ApplyConfig replaces the whole editor configuration.
func (c *Controller) ApplyConfig(cfg models.EditorConfig) {
	cfg.FontSize = clampFontSize(cfg.FontSize)
	if !cfg.ShowEditor && !cfg.ShowPreview {
		cfg.ShowEditor = true
	}
	c.update(func(s *State) { s.Config = cfg })
}

// Hydrate loads the tab's initial state. The mirror wins when it holds a
// non-empty buffer; otherwise a share token in pageURL supplies the buffer;
// otherwise the default document is used.
func (c *Controller) Hydrate(pageURL string, codec sharelink.Codec) HydrateSource {
	mirrored, ok := c.mirror.Load()

	source := SourceDefault
	content := DefaultContent
	switch {
	case ok && mirrored.Content != "":
		source = SourceMirror
		content = mirrored.Content
	case pageURL != "":
		if shared, found := codec.ExtractFromURL(pageURL); found {
			source = SourceShare
			content = shared
		}
	}

	c.update(func(s *State) {
		s.Content = content
		if ok {
			s.StorageKey = mirrored.StorageKey
			if mirrored.EditorTheme != "" {
				s.Config.EditorTheme = mirrored.EditorTheme
			}
			if mirrored.PreviewTheme != "" {
				s.Config.PreviewTheme = mirrored.PreviewTheme
			}
			s.Config.DarkMode = mirrored.DarkMode
		}
	})
	c.logger.Debug("state: hydrated", slog.String("source", string(source)))
	return source
}

// Save creates a snapshot of the buffer with the full editor config and
// points the tab at it.
func (c *Controller) Save() (string, error) {
	st := c.Snapshot()
	cfg := st.Config
	key, err := c.engine.Create(st.Content, &cfg)
	if err != nil {
		return "", err
	}
	c.SwitchStorageKey(key)
	return key, nil
}

// AutoSave snapshots content without editor config, as the periodic
// auto-save does, and points the tab at the new key.
func (c *Controller) AutoSave(content string) (string, error) {
	key, err := c.engine.Create(content, nil)
	if err != nil {
		return "", err
	}
	c.SwitchStorageKey(key)
	return key, nil
}

// Restore appends a snapshot with the content of key, loads it into the
// buffer and points the tab at the new key.
func (c *Controller) Restore(key string) (string, error) {
	newKey, err := c.engine.Restore(key)
	if err != nil {
		return "", err
	}
	env, err := c.engine.Load(newKey)
	if err != nil {
		return "", err
	}
	c.update(func(s *State) {
		s.Content = env.State.Content
		s.StorageKey = newKey
		if env.State.EditorConfig != nil {
			s.Config = *env.State.EditorConfig
		}
	})
	return newKey, nil
}

// ShareLink builds a share link for the current buffer.
func (c *Controller) ShareLink(codec sharelink.Codec) (string, error) {
	return codec.BuildShareLink(c.Content())
}

// Draft returns the last committed draft summary, if any.
func (c *Controller) Draft() (models.Draft, bool) {
	if c.draft == nil {
		return models.Draft{}, false
	}
	return c.draft.Load()
}

// Close flushes a pending draft commit and stops its timer.
func (c *Controller) Close() {
	if c.draft != nil {
		c.draft.Close()
	}
}
