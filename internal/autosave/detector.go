package autosave

import (
	"log/slog"
	"sync"
)

// ChangeDetector is a tick callback that saves only when the buffer changed
// since the last successful save.
type ChangeDetector struct {
	current func() string
	save    func(content string) error
	logger  *slog.Logger

	mu     sync.Mutex
	last   string
	primed bool
}

// NewChangeDetector returns a detector reading the buffer with current and
// persisting it with save.
func NewChangeDetector(current func() string, save func(content string) error, logger *slog.Logger) *ChangeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeDetector{current: current, save: save, logger: logger}
}

// Prime records content as already saved.
func (d *ChangeDetector) Prime(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = content
	d.primed = true
}

// Tick saves the buffer if it changed and reports whether a save happened.
// A failed save keeps the old baseline so the next tick retries.
func (d *ChangeDetector) Tick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	content := d.current()
	if d.primed && content == d.last {
		return false
	}
	if err := d.save(content); err != nil {
		d.logger.Warn("autosave: save failed", slog.String("error", err.Error()))
		return false
	}
	d.last = content
	d.primed = true
	return true
}

// Func adapts Tick to the Scheduler callback signature.
func (d *ChangeDetector) Func() func() {
	return func() { d.Tick() }
}
