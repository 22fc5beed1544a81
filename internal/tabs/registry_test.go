package tabs

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/markpad/internal/apperr"
	"github.com/starford/markpad/internal/kv"
	"github.com/starford/markpad/internal/sharelink"
	"github.com/starford/markpad/internal/state"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

func newRegistry(t *testing.T, durable kv.Store, settings Settings, opts ...Option) *Registry {
	t.Helper()
	if settings.DraftDebounce == 0 {
		settings.DraftDebounce = -1
	}
	r := NewRegistry(durable, sharelink.Default(), settings, append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(r.CloseAll)
	return r
}

func TestOpen_MintsIDAndArmsAutoSave(t *testing.T) {
	r := newRegistry(t, kv.NewMemory(), Settings{})

	tab, err := r.Open("", "")
	require.NoError(t, err)
	assert.NotEmpty(t, tab.ID)
	assert.Equal(t, state.SourceDefault, tab.Source)
	assert.True(t, tab.AutoSaveArmed())

	got, err := r.Get(tab.ID)
	require.NoError(t, err)
	assert.Same(t, tab, got)
	assert.Equal(t, []string{tab.ID}, r.IDs())
}

func TestOpen_FromShareLink(t *testing.T) {
	r := newRegistry(t, kv.NewMemory(), Settings{})
	link, err := r.Codec().BuildShareLink("# Shared")
	require.NoError(t, err)

	tab, err := r.Open("", link)
	require.NoError(t, err)
	assert.Equal(t, state.SourceShare, tab.Source)
	assert.Equal(t, "# Shared", tab.Controller().Content())
}

func TestOpen_ReloadKeepsSessionBuffer(t *testing.T) {
	r := newRegistry(t, kv.NewMemory(), Settings{})
	tab, err := r.Open("", "")
	require.NoError(t, err)
	tab.Controller().UpdateContent("# Typed before reload")

	link, err := r.Codec().BuildShareLink("# Ignored")
	require.NoError(t, err)
	reloaded, err := r.Open(tab.ID, link)
	require.NoError(t, err)

	assert.Equal(t, tab.ID, reloaded.ID)
	assert.Equal(t, state.SourceMirror, reloaded.Source)
	assert.Equal(t, "# Typed before reload", reloaded.Controller().Content())
	assert.False(t, tab.AutoSaveArmed())
	assert.True(t, reloaded.AutoSaveArmed())
}

func TestTabs_IsolatedBuffersSharedHistory(t *testing.T) {
	r := newRegistry(t, kv.NewMemory(), Settings{})
	a, err := r.Open("", "")
	require.NoError(t, err)
	b, err := r.Open("", "")
	require.NoError(t, err)

	a.Controller().UpdateContent("# Tab A")
	b.Controller().UpdateContent("# Tab B")
	assert.Equal(t, "# Tab A", a.Controller().Content())

	_, err = a.Controller().Save()
	require.NoError(t, err)
	_, err = b.Controller().Save()
	require.NoError(t, err)

	entries := r.History().List()
	require.Len(t, entries, 2)
	assert.Equal(t, "Tab B", entries[0].Title)
	assert.Equal(t, "Tab A", entries[1].Title)
}

func TestAutoSaveNow_SkipsUnchanged(t *testing.T) {
	r := newRegistry(t, kv.NewMemory(), Settings{})
	tab, err := r.Open("", "")
	require.NoError(t, err)

	assert.False(t, tab.AutoSaveNow(), "hydrated content is the baseline")

	tab.Controller().UpdateContent("# Changed")
	assert.True(t, tab.AutoSaveNow())
	assert.False(t, tab.AutoSaveNow())

	entries := r.History().List()
	require.Len(t, entries, 1)
	assert.Equal(t, tab.Controller().Snapshot().StorageKey, entries[0].StorageKey)

	env, err := r.Engine().Load(entries[0].StorageKey)
	require.NoError(t, err)
	assert.Nil(t, env.State.EditorConfig)
	assert.Equal(t, 0, env.Version)
}

func TestAutoSave_TimerFires(t *testing.T) {
	r := newRegistry(t, kv.NewMemory(), Settings{AutoSaveInterval: 10 * time.Millisecond})
	tab, err := r.Open("", "")
	require.NoError(t, err)
	tab.Controller().UpdateContent("# Ticked")

	require.Eventually(t, func() bool {
		return len(r.History().List()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// No further edits, no further snapshots.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, r.History().List(), 1)
}

func TestClose_DiscardsSessionKeepsSnapshots(t *testing.T) {
	r := newRegistry(t, kv.NewMemory(), Settings{})
	tab, err := r.Open("", "")
	require.NoError(t, err)
	tab.Controller().UpdateContent("# Keep me")
	_, err = tab.Controller().Save()
	require.NoError(t, err)

	require.NoError(t, r.Close(tab.ID))
	assert.False(t, tab.AutoSaveArmed())
	assert.Equal(t, 0, tab.session.Size())

	_, err = r.Get(tab.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.True(t, errors.Is(r.Close(tab.ID), apperr.ErrNotFound))

	assert.Len(t, r.History().List(), 1)

	// Reopening the id starts from scratch.
	again, err := r.Open(tab.ID, "")
	require.NoError(t, err)
	assert.Equal(t, state.SourceDefault, again.Source)
}

func TestHistoryChangeHook(t *testing.T) {
	var calls atomic.Int32
	r := newRegistry(t, kv.NewMemory(), Settings{}, WithOnHistoryChange(func() { calls.Add(1) }))
	tab, err := r.Open("", "")
	require.NoError(t, err)
	tab.Controller().UpdateContent("# hook")
	_, err = tab.Controller().Save()
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestMaxEntriesApplied(t *testing.T) {
	r := newRegistry(t, kv.NewMemory(), Settings{MaxEntries: 2})
	tab, err := r.Open("", "")
	require.NoError(t, err)
	for _, s := range []string{"# one", "# two", "# three"} {
		tab.Controller().UpdateContent(s)
		_, err := tab.Controller().Save()
		require.NoError(t, err)
	}
	assert.Len(t, r.History().List(), 2)
}

func TestConcurrentSavesFromTabsAllReachHistory(t *testing.T) {
	r := newRegistry(t, kv.NewMemory(), Settings{MaxEntries: 10000})
	tab1, err := r.Open("", "")
	require.NoError(t, err)
	tab2, err := r.Open("", "")
	require.NoError(t, err)

	const perTab = 100
	keys := make(chan string, 2*perTab+perTab)
	var wg sync.WaitGroup
	save := func(ctrl *state.Controller) {
		defer wg.Done()
		for i := 0; i < perTab; i++ {
			key, err := ctrl.Save()
			if err != nil {
				t.Errorf("save: %v", err)
				return
			}
			keys <- key
		}
	}
	wg.Add(3)
	go save(tab1.Controller())
	go save(tab2.Controller())
	go func() {
		defer wg.Done()
		for i := 0; i < perTab; i++ {
			key, err := r.Engine().Create("# outside", nil)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			keys <- key
		}
	}()
	wg.Wait()
	close(keys)

	listed := make(map[string]bool)
	for _, e := range r.History().List() {
		listed[e.StorageKey] = true
	}
	seen := make(map[string]bool)
	for key := range keys {
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
		assert.True(t, listed[key], "saved key %s missing from history", key)
	}
	assert.Len(t, seen, 3*perTab)
	assert.Len(t, listed, 3*perTab)
}
