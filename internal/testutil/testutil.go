// Package testutil provides shared test helpers for durable stores, export
// directories and a fully wired document service.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/markpad/internal/docservice"
	"github.com/starford/markpad/internal/kv"
	"github.com/starford/markpad/internal/render"
	"github.com/starford/markpad/internal/sharelink"
	"github.com/starford/markpad/internal/storage"
	"github.com/starford/markpad/internal/tabs"
)

// QuietLogger returns a JSON logger that only prints errors.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore creates a temporary SQLite durable store that is automatically
// closed. The database lives in its own directory so watchers see nothing else.
func TestStore(t *testing.T) *kv.SQLite {
	t.Helper()
	store, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "markpad.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestExports creates a temporary export directory with a storage.Provider.
func TestExports(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestService wires a tab registry over a temporary SQLite store, with draft
// commits disabled, and returns the service and the registry.
func TestService(t *testing.T, opts ...docservice.Option) (*docservice.Service, *tabs.Registry) {
	t.Helper()
	reg := tabs.NewRegistry(TestStore(t), sharelink.Default(), tabs.Settings{DraftDebounce: -1},
		tabs.WithLogger(QuietLogger()))
	t.Cleanup(reg.CloseAll)
	return docservice.NewService(reg, render.New(), opts...), reg
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}
