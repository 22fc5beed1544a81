package state

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/markpad/internal/models"
	"github.com/starford/markpad/internal/parser"
	"github.com/starford/markpad/internal/persist"
)

// DefaultDraftDebounce is the quiet period after the last edit before the
// draft summary is written.
const DefaultDraftDebounce = 3 * time.Second

// DraftCommitter writes the tab's draft summary (title, preview, time) a
// fixed delay after the last content change, so typing does not cause a
// metadata write per keystroke.
type DraftCommitter struct {
	p      *persist.Adapter
	delay  time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	pending *string
	closed  bool
}

// NewDraftCommitter returns a committer writing through p after delay.
func NewDraftCommitter(p *persist.Adapter, delay time.Duration, logger *slog.Logger) *DraftCommitter {
	if delay <= 0 {
		delay = DefaultDraftDebounce
	}
	return &DraftCommitter{p: p, delay: delay, logger: logger, now: time.Now}
}

// OnChange schedules a commit when the buffer changed.
func (d *DraftCommitter) OnChange(ch Change) {
	if !ch.ContentChanged() {
		return
	}
	content := ch.Next.Content

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = &content
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
	} else {
		d.timer.Reset(d.delay)
	}
}

func (d *DraftCommitter) fire() {
	d.mu.Lock()
	content := d.pending
	d.pending = nil
	d.mu.Unlock()

	if content != nil {
		d.commit(*content)
	}
}

// Flush commits a pending draft immediately.
func (d *DraftCommitter) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.fire()
}

// Close flushes and stops accepting changes.
func (d *DraftCommitter) Close() {
	d.Flush()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *DraftCommitter) commit(content string) {
	draft := models.Draft{
		Title:          parser.DeriveTitle(content),
		ContentPreview: parser.Preview(content),
		LastModified:   d.now(),
	}
	raw, err := json.Marshal(draft)
	if err != nil {
		return
	}
	if err := d.p.Write(persist.DraftName, string(raw)); err != nil {
		return
	}
	d.logger.Debug("state: draft committed", slog.String("title", draft.Title))
}

// Load returns the last committed draft.
func (d *DraftCommitter) Load() (models.Draft, bool) {
	raw, ok := d.p.Read(persist.DraftName)
	if !ok {
		return models.Draft{}, false
	}
	var draft models.Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return models.Draft{}, false
	}
	return draft, true
}
