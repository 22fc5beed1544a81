package docservice

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/markpad/internal/apperr"
	"github.com/starford/markpad/internal/checksum"
	"github.com/starford/markpad/internal/export"
	"github.com/starford/markpad/internal/kv"
	"github.com/starford/markpad/internal/render"
	"github.com/starford/markpad/internal/sharelink"
	"github.com/starford/markpad/internal/state"
	"github.com/starford/markpad/internal/storage"
	"github.com/starford/markpad/internal/tabs"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) PublishTabEvent(eventType, tabID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType+":"+tabID)
}

func testService(t *testing.T) (*Service, *recordingNotifier) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := tabs.NewRegistry(kv.NewMemory(), sharelink.Default(), tabs.Settings{DraftDebounce: -1}, tabs.WithLogger(logger))
	t.Cleanup(reg.CloseAll)

	exports, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	n := &recordingNotifier{}
	return NewService(reg, render.New(), WithExports(exports), WithNotifier(n)), n
}

func TestTabLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, n := testService(t)

	tab, err := svc.OpenTab(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, string(state.SourceDefault), tab.Source)
	assert.True(t, tab.AutoSaveArmed)

	tab, err = svc.UpdateContent(ctx, tab.ID, "# Edited", "")
	require.NoError(t, err)
	assert.Equal(t, checksum.String("# Edited"), tab.Checksum)

	assert.Len(t, svc.ListTabs(ctx), 1)
	require.NoError(t, svc.CloseTab(ctx, tab.ID))
	assert.Empty(t, svc.ListTabs(ctx))

	_, err = svc.GetTab(ctx, tab.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Equal(t, []string{"tab.opened:" + tab.ID, "tab.closed:" + tab.ID}, n.events)
}

func TestUpdateContent_IfMatch(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)
	tab, err := svc.OpenTab(ctx, "", "")
	require.NoError(t, err)

	_, err = svc.UpdateContent(ctx, tab.ID, "v2", "stale")
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	updated, err := svc.UpdateContent(ctx, tab.ID, "v2", tab.Checksum)
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Content)
}

func TestUpdateContent_SameETagOneWinner(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)
	tab, err := svc.OpenTab(ctx, "", "")
	require.NoError(t, err)

	var mu sync.Mutex
	wins, conflicts := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.UpdateContent(ctx, tab.ID, "writer "+string(rune('a'+i)), tab.Checksum)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, apperr.ErrConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, conflicts)
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)
	tab, err := svc.OpenTab(ctx, "", "")
	require.NoError(t, err)

	dark, size, wrap := true, 99, false
	v, err := svc.UpdateSettings(ctx, tab.ID, SettingsPatch{DarkMode: &dark, FontSize: &size, WordWrap: &wrap})
	require.NoError(t, err)
	assert.True(t, v.Config.DarkMode)
	assert.Equal(t, state.MaxFontSize, v.Config.FontSize)
	assert.False(t, v.Config.WordWrap)
	assert.Equal(t, "github", v.Config.EditorTheme)

	_, err = svc.TogglePanel(ctx, tab.ID, state.PanelEditor)
	require.NoError(t, err)
	_, err = svc.TogglePanel(ctx, tab.ID, state.PanelPreview)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestSaveRestoreAndHistory(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)
	tab, err := svc.OpenTab(ctx, "", "")
	require.NoError(t, err)

	_, err = svc.UpdateContent(ctx, tab.ID, "# First draft", "")
	require.NoError(t, err)
	first, err := svc.SaveTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, "First draft", first.Title)

	_, err = svc.UpdateContent(ctx, tab.ID, "# Second", "")
	require.NoError(t, err)
	_, err = svc.SaveTab(ctx, tab.ID)
	require.NoError(t, err)

	restored, err := svc.RestoreInTab(ctx, tab.ID, first.StorageKey)
	require.NoError(t, err)
	assert.NotEqual(t, first.StorageKey, restored.StorageKey)

	got, err := svc.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, "# First draft", got.Content)
	assert.Equal(t, restored.StorageKey, got.StorageKey)

	page, total := svc.ListHistory(ctx, 2, 0)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
	page, _ = svc.ListHistory(ctx, 10, 5)
	assert.Empty(t, page)

	detail, err := svc.GetSnapshot(ctx, first.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "# First draft", detail.Content)
	require.NotNil(t, detail.Config)
	assert.Equal(t, 1, detail.Version)

	hits := svc.SearchHistory(ctx, "second", 0)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Second", hits[0].Title)
}

func TestRenameDeleteClear(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)

	meta, err := svc.SaveContent(ctx, "# Loose")
	require.NoError(t, err)

	renamed, err := svc.RenameSnapshot(ctx, meta.StorageKey, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Title)

	_, err = svc.RenameSnapshot(ctx, "markdown-snapshot-0-missing", "x")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	require.NoError(t, svc.DeleteSnapshot(ctx, meta.StorageKey))
	assert.True(t, errors.Is(svc.DeleteSnapshot(ctx, meta.StorageKey), apperr.ErrNotFound))
	_, err = svc.GetSnapshot(ctx, meta.StorageKey)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = svc.SaveContent(ctx, "# a")
	require.NoError(t, err)
	_, err = svc.SaveContent(ctx, "# b")
	require.NoError(t, err)
	require.NoError(t, svc.ClearHistory(ctx))
	_, total := svc.ListHistory(ctx, 0, 0)
	assert.Zero(t, total)
}

func TestShareLinks(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)

	link, err := svc.BuildShareLink(ctx, "# Shared")
	require.NoError(t, err)
	text, err := svc.OpenShareLink(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, "# Shared", text)

	_, err = svc.OpenShareLink(ctx, "http://localhost:8080/")
	assert.True(t, errors.Is(err, apperr.ErrDecodeFailure))

	tab, err := svc.OpenTab(ctx, "", link)
	require.NoError(t, err)
	assert.Equal(t, "# Shared", tab.Content)
	tabLink, err := svc.ShareTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, link, tabLink)
}

func TestExportTab(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)
	tab, err := svc.OpenTab(ctx, "", "")
	require.NoError(t, err)
	_, err = svc.UpdateContent(ctx, tab.ID, "# Report", "")
	require.NoError(t, err)

	f, err := svc.ExportTab(ctx, tab.ID, export.FormatHTML)
	require.NoError(t, err)

	files, err := svc.ListExports(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, f.Name, files[0].Name)

	data, err := svc.ReadExport(ctx, f.Name)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<h1>Report</h1>")

	_, err = svc.ReadExport(ctx, "missing.md")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPruneHistory_RepairsBothDirections(t *testing.T) {
	ctx := context.Background()
	durable := kv.NewMemory()
	reg := tabs.NewRegistry(durable, sharelink.Default(), tabs.Settings{DraftDebounce: -1})
	t.Cleanup(reg.CloseAll)
	svc := NewService(reg, render.New())

	kept, err := svc.SaveContent(ctx, "# Kept")
	require.NoError(t, err)
	lost, err := svc.SaveContent(ctx, "# Payload lost")
	require.NoError(t, err)
	require.NoError(t, durable.Delete(lost.StorageKey))
	require.NoError(t, durable.Set("markdown-snapshot-orphan", `{"state":{"content":"x"},"version":0}`))

	res, err := svc.PruneHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{Entries: 1, Payloads: 1}, res)

	entries, total := svc.ListHistory(ctx, 0, 0)
	assert.Equal(t, 1, total)
	assert.Equal(t, kept.StorageKey, entries[0].StorageKey)
	_, ok, _ := durable.Get("markdown-snapshot-orphan")
	assert.False(t, ok)
}
