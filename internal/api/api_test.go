package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/markpad/internal/docservice"
	"github.com/starford/markpad/internal/models"
	"github.com/starford/markpad/internal/testutil"
)

// testEnv sets up a SQLite durable store, a tab registry, a service and a
// router. An empty authToken means auth is disabled.
func testEnv(t *testing.T, authToken string) http.Handler {
	t.Helper()
	return testEnvWithOptions(t, Options{AuthEnabled: authToken != "", Token: authToken})
}

func testEnvWithOptions(t *testing.T, opts Options) http.Handler {
	t.Helper()
	_, exports := testutil.TestExports(t)
	svc, _ := testutil.TestService(t, docservice.WithExports(exports))
	return NewRouter(svc, opts)
}

func do(t *testing.T, router http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func openTab(t *testing.T, router http.Handler, body any) TabView {
	t.Helper()
	w := do(t, router, http.MethodPost, "/tabs", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("open tab status = %d, body = %s", w.Code, w.Body.String())
	}
	var tab TabView
	_ = json.Unmarshal(w.Body.Bytes(), &tab)
	if tab.ID == "" {
		t.Fatal("tab id missing")
	}
	return tab
}

func TestOpenEditSaveTab(t *testing.T) {
	router := testEnv(t, "")
	tab := openTab(t, router, nil)
	if tab.Source != "default" {
		t.Errorf("source = %q, want default", tab.Source)
	}

	w := do(t, router, http.MethodPut, "/tabs/"+tab.ID+"/content", map[string]string{"content": "# Hello\nWorld"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodPost, "/tabs/"+tab.ID+"/save", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	var meta models.SessionMetadata
	_ = json.Unmarshal(w.Body.Bytes(), &meta)
	if meta.Title != "Hello" {
		t.Errorf("title = %q, want Hello", meta.Title)
	}
	if !strings.HasPrefix(meta.StorageKey, "markdown-snapshot-") {
		t.Errorf("storage key = %q", meta.StorageKey)
	}

	w = do(t, router, http.MethodGet, "/tabs/"+tab.ID, nil)
	var got TabView
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.StorageKey != meta.StorageKey {
		t.Errorf("tab storage key = %q, want %q", got.StorageKey, meta.StorageKey)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}
}

func TestUpdateContent_IfMatch(t *testing.T) {
	router := testEnv(t, "")
	tab := openTab(t, router, nil)

	w := do(t, router, http.MethodPut, "/tabs/"+tab.ID+"/content", map[string]string{"content": "v2"}, "If-Match", `"wrong"`)
	if w.Code != http.StatusConflict {
		t.Errorf("stale If-Match = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodPut, "/tabs/"+tab.ID+"/content", map[string]string{"content": "v2"}, "If-Match", `"`+tab.Checksum+`"`)
	if w.Code != http.StatusOK {
		t.Errorf("matching If-Match = %d, want 200", w.Code)
	}
}

func TestTabNotFound(t *testing.T) {
	router := testEnv(t, "")
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/tabs/nope"},
		{http.MethodDelete, "/tabs/nope"},
		{http.MethodPost, "/tabs/nope/save"},
	} {
		w := do(t, router, tc.method, tc.path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, w.Code)
		}
	}
}

func TestSettingsAndPanels(t *testing.T) {
	router := testEnv(t, "")
	tab := openTab(t, router, nil)

	w := do(t, router, http.MethodPatch, "/tabs/"+tab.ID+"/settings", map[string]any{"darkMode": true, "fontSize": 18})
	if w.Code != http.StatusOK {
		t.Fatalf("settings = %d", w.Code)
	}
	var got TabView
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if !got.Config.DarkMode || got.Config.FontSize != 18 {
		t.Errorf("config = %+v", got.Config)
	}

	if w := do(t, router, http.MethodPost, "/tabs/"+tab.ID+"/panels/editor/toggle", nil); w.Code != http.StatusOK {
		t.Errorf("hide editor = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/tabs/"+tab.ID+"/panels/preview/toggle", nil); w.Code != http.StatusConflict {
		t.Errorf("hide last panel = %d, want 409", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/tabs/"+tab.ID+"/panels/sidebar/toggle", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown panel = %d, want 400", w.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	router := testEnv(t, "")
	tab := openTab(t, router, nil)

	var keys []string
	for _, content := range []string{"# Alpha", "# Beta", "# Gamma"} {
		do(t, router, http.MethodPut, "/tabs/"+tab.ID+"/content", map[string]string{"content": content})
		w := do(t, router, http.MethodPost, "/tabs/"+tab.ID+"/save", nil)
		var meta models.SessionMetadata
		_ = json.Unmarshal(w.Body.Bytes(), &meta)
		keys = append(keys, meta.StorageKey)
	}

	w := do(t, router, http.MethodGet, "/history?limit=2", nil)
	var list HistoryListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 3 || len(list.Entries) != 2 {
		t.Fatalf("list total=%d len=%d", list.Total, len(list.Entries))
	}
	if list.Entries[0].Title != "Gamma" {
		t.Errorf("newest first: got %q", list.Entries[0].Title)
	}

	w = do(t, router, http.MethodGet, "/history/search?q=beta", nil)
	var search HistorySearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &search)
	if len(search.Results) != 1 || search.Results[0].Title != "Beta" {
		t.Errorf("search = %+v", search.Results)
	}
	if w := do(t, router, http.MethodGet, "/history/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search without q = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodGet, "/history/"+keys[0], nil)
	var detail docservice.SnapshotDetail
	_ = json.Unmarshal(w.Body.Bytes(), &detail)
	if detail.Content != "# Alpha" {
		t.Errorf("snapshot content = %q", detail.Content)
	}

	w = do(t, router, http.MethodPatch, "/history/"+keys[0], map[string]string{"title": "First"})
	var renamed models.SessionMetadata
	_ = json.Unmarshal(w.Body.Bytes(), &renamed)
	if renamed.Title != "First" {
		t.Errorf("rename = %q", renamed.Title)
	}

	w = do(t, router, http.MethodPost, "/tabs/"+tab.ID+"/restore", map[string]string{"storageKey": keys[1]})
	if w.Code != http.StatusCreated {
		t.Fatalf("restore = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodGet, "/tabs/"+tab.ID, nil)
	var got TabView
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Content != "# Beta" {
		t.Errorf("tab content after restore = %q", got.Content)
	}

	if w := do(t, router, http.MethodDelete, "/history/"+keys[2], nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/history/"+keys[2], nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodPost, "/history/prune", nil)
	var pruned PruneResponse
	_ = json.Unmarshal(w.Body.Bytes(), &pruned)
	if pruned.Pruned != 0 || pruned.Swept != 0 {
		t.Errorf("prune = %+v, want nothing removed", pruned)
	}

	if w := do(t, router, http.MethodDelete, "/history", nil); w.Code != http.StatusNoContent {
		t.Errorf("clear = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/history", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 0 {
		t.Errorf("total after clear = %d", list.Total)
	}
}

func TestShareRoundTrip(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/share", map[string]string{"content": "# Shared ✓"})
	if w.Code != http.StatusOK {
		t.Fatalf("share = %d", w.Code)
	}
	var link ShareLinkResponse
	_ = json.Unmarshal(w.Body.Bytes(), &link)
	if !strings.Contains(link.URL, "#share:") {
		t.Errorf("link = %q", link.URL)
	}

	tab := openTab(t, router, map[string]string{"url": link.URL})
	if tab.Source != "share" || tab.Content != "# Shared ✓" {
		t.Errorf("tab from share = %q / %q", tab.Source, tab.Content)
	}

	w = do(t, router, http.MethodPost, "/share/open", map[string]string{"url": "http://localhost:8080/#share:%%%"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad token = %d, want 400", w.Code)
	}
}

func TestShareTooLarge(t *testing.T) {
	router := testEnv(t, "")
	var b strings.Builder
	seed := uint32(1)
	for b.Len() < 40000 {
		seed = seed*1664525 + 1013904223
		b.WriteByte(byte('!' + seed>>24%90))
	}
	w := do(t, router, http.MethodPost, "/share", map[string]string{"content": b.String()})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("too large = %d, want 413", w.Code)
	}
}

func TestRenderAndExport(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/render", map[string]string{"content": "# Title"})
	var rendered RenderResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rendered)
	if !strings.Contains(rendered.HTML, "<h1>Title</h1>") {
		t.Errorf("render = %q", rendered.HTML)
	}

	tab := openTab(t, router, nil)
	do(t, router, http.MethodPut, "/tabs/"+tab.ID+"/content", map[string]string{"content": "# Report"})

	w = do(t, router, http.MethodPost, "/tabs/"+tab.ID+"/export", map[string]string{"format": "md"})
	if w.Code != http.StatusCreated {
		t.Fatalf("export = %d, body = %s", w.Code, w.Body.String())
	}
	var f models.ExportFile
	_ = json.Unmarshal(w.Body.Bytes(), &f)

	w = do(t, router, http.MethodGet, "/exports", nil)
	var list ExportListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Files) != 1 || list.Files[0].Name != f.Name {
		t.Errorf("exports = %+v", list.Files)
	}

	w = do(t, router, http.MethodGet, "/exports/"+f.Name, nil)
	if w.Code != http.StatusOK || w.Body.String() != "# Report" {
		t.Errorf("serve export = %d %q", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/exports/nope.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing export = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/exports/"+f.Name, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete export = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/exports/"+f.Name, nil); w.Code != http.StatusNotFound {
		t.Errorf("deleted export = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/exports/"+f.Name, nil); w.Code != http.StatusNotFound {
		t.Errorf("delete missing export = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/tabs/"+tab.ID+"/export", map[string]string{"format": "pdf"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown format = %d, want 400", w.Code)
	}
}

func TestCloseTab(t *testing.T) {
	router := testEnv(t, "")
	tab := openTab(t, router, nil)
	if w := do(t, router, http.MethodDelete, "/tabs/"+tab.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("close = %d", w.Code)
	}
	w := do(t, router, http.MethodGet, "/tabs", nil)
	var list TabListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Tabs) != 0 {
		t.Errorf("tabs after close = %d", len(list.Tabs))
	}
}

// Auth tests.

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/history", nil, "Authorization", "Bearer secret")
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/history", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/history", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/history?access_token=secret", nil)
	if w.Code != http.StatusOK {
		t.Errorf("query token = %d, want 200", w.Code)
	}
	w = do(t, router, http.MethodGet, "/history?access_token=nope", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong query token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/history", nil)
	if w.Code != http.StatusOK {
		t.Errorf("disabled auth = %d, want 200", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := testEnvWithOptions(t, Options{
		AuthEnabled: true,
		Token:       "secret",
		CORSOrigins: []string{"http://localhost:5173"},
	})
	req := httptest.NewRequest(http.MethodOptions, "/history", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}
	if w.Code == http.StatusUnauthorized {
		t.Error("preflight must not require auth")
	}
}

// SSE endpoint auth tests.

func sseStub() http.Handler {
	// Minimal SSE handler stub: writes headers and blocks until context done.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithOptions(t, Options{AuthEnabled: true, Token: "secret", Events: sseStub()})
	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithOptions(t, Options{AuthEnabled: true, Token: "tok", Events: sseStub()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
