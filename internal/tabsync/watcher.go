// Package tabsync turns writes to the durable store made by other markpad
// processes into change notifications, the way a browser delivers storage
// events to sibling tabs.
package tabsync

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last write before the
// callback runs. A single snapshot touches the database, its WAL and the
// shared-memory file several times.
const DefaultDebounce = 200 * time.Millisecond

// Callback is called once per burst of writes to the store.
type Callback func()

// Options tune Watch.
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch starts an fsnotify watcher on the directory holding dbPath and calls
// cb after writes to the database or its -wal/-journal companions, until ctx
// is cancelled. The directory is watched rather than the file so that a
// store created or replaced after startup is still seen.
func Watch(ctx context.Context, dbPath string, opts Options, cb Callback) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return err
	}
	dir, base := filepath.Split(abs)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Clean(dir)); err != nil {
		return err
	}

	logger.Info("tabsync: started", slog.String("path", abs))

	// notifyTimer debounces bursts of writes into one callback.
	var notifyTimer *time.Timer
	var notifyCh <-chan time.Time

	scheduleNotify := func() {
		if notifyTimer == nil {
			notifyTimer = time.NewTimer(debounce)
			notifyCh = notifyTimer.C
		} else {
			notifyTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if notifyTimer != nil {
				notifyTimer.Stop()
			}
			logger.Info("tabsync: stopped")
			return nil

		case <-notifyCh:
			logger.Debug("tabsync: store changed")
			if cb != nil {
				cb()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isStoreFile(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			scheduleNotify()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("tabsync: error", slog.String("error", watchErr.Error()))
		}
	}
}

// isStoreFile reports whether name is the database file or one of the files
// SQLite keeps next to it. The -shm file is skipped: readers touch it too.
func isStoreFile(name, base string) bool {
	if name == base {
		return true
	}
	suffix, ok := strings.CutPrefix(name, base)
	return ok && (suffix == "-wal" || suffix == "-journal")
}
