package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/DylanDDeng/notely-sub000/internal/gitsync"
	"github.com/DylanDDeng/notely-sub000/internal/history"
	"github.com/DylanDDeng/notely-sub000/internal/noteservice"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
	"github.com/DylanDDeng/notely-sub000/internal/testutil"
)

// testEnv sets up a temp vault, SQLite DB, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*noteservice.Service, http.Handler) {
	t.Helper()
	return testEnvFull(t, authToken != "", authToken, nil, nil)
}

func testEnvFull(t *testing.T, authEnabled bool, authToken string, engine SyncEngine, sseHandler http.Handler) (*noteservice.Service, http.Handler) {
	t.Helper()
	vaultDir, store := testutil.TestVault(t)
	svc := noteservice.NewService(store, testutil.TestDB(t), testutil.TestHistory(t, vaultDir),
		noteservice.WithLogger(testutil.Logger()))
	return svc, NewRouter(svc, engine, authEnabled, authToken, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetNote(t *testing.T) {
	_, router := testEnv(t, "")

	// Create note.
	body, _ := json.Marshal(map[string]string{"path": "hello.md", "content": "# Hello\nWorld"})
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	// Get note.
	req = httptest.NewRequest(http.MethodGet, "/notes/hello.md", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var note NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &note)
	if note.Path != "hello.md" {
		t.Errorf("path = %q", note.Path)
	}
	if note.Title != "Hello" {
		t.Errorf("title = %q, want Hello", note.Title)
	}
}

func TestCreateDuplicate(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"path": "dup.md", "content": "a"})
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}

	// Second create should 409.
	req = httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	_, router := testEnv(t, "")

	// Create.
	body, _ := json.Marshal(map[string]string{"path": "lock.md", "content": "v1"})
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	var created NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	// Update with correct checksum.
	updateBody, _ := json.Marshal(map[string]string{"content": "v2"})
	req = httptest.NewRequest(http.MethodPut, "/notes/lock.md", bytes.NewReader(updateBody))
	req.Header.Set("If-Match", created.Checksum)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update with correct checksum = %d, body = %s", w.Code, w.Body.String())
	}

	// Update with stale checksum → 409.
	req = httptest.NewRequest(http.MethodPut, "/notes/lock.md", bytes.NewReader(updateBody))
	req.Header.Set("If-Match", created.Checksum) // stale now
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("update with stale checksum = %d, want 409", w.Code)
	}
}

func TestUpdateWithoutIfMatch(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"path": "nolock.md", "content": "v1"})
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Update without If-Match should succeed (no locking enforced).
	updateBody, _ := json.Marshal(map[string]string{"content": "v2"})
	req = httptest.NewRequest(http.MethodPut, "/notes/nolock.md", bytes.NewReader(updateBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("update without If-Match = %d, want 200", w.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"path": "bye.md", "content": "gone"})
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	req = httptest.NewRequest(http.MethodDelete, "/notes/bye.md", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}

	// GET should now 404.
	req = httptest.NewRequest(http.MethodGet, "/notes/bye.md", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestListNotes(t *testing.T) {
	_, router := testEnv(t, "")

	for _, name := range []string{"a.md", "b.md"} {
		body, _ := json.Marshal(map[string]string{"path": name, "content": "# " + name})
		req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/notes?limit=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	notes := resp["notes"].([]any)
	if len(notes) != 2 {
		t.Errorf("len(notes) = %d, want 2", len(notes))
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"path": "find.md", "content": "uniquetoken here"})
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	req = httptest.NewRequest(http.MethodGet, "/search?q=uniquetoken", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	results := resp["results"].([]any)
	if len(results) != 1 {
		t.Errorf("search results = %d, want 1", len(results))
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"path": "auth.md", "content": "test"})
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestGetNote_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/notes/nope.md", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing note = %d, want 404", w.Code)
	}
}

func TestUpdateNote_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := json.Marshal(map[string]string{"content": "x"})
	req := httptest.NewRequest(http.MethodPut, "/notes/ghost.md", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

// SSE endpoint auth tests.

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret")

	// No token → 401.
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	_, router := testEnvWithSSE(t, false, "")

	// Disabled mode → should not 401. SSE handler will write 200 and block,
	// so we cancel the context after a short time.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok")

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

// testEnvWithSSE creates a router with a dummy SSE handler to test auth on /events.
func testEnvWithSSE(t *testing.T, authEnabled bool, token string) (*noteservice.Service, http.Handler) {
	t.Helper()

	// Minimal SSE handler stub: writes headers and blocks until context done.
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
	return testEnvFull(t, authEnabled, token, nil, sseHandler)
}

func TestCreateNote_HiddenPathRejected(t *testing.T) {
	_, router := testEnv(t, "")

	for _, p := range []string{".history/x.md", ".git/config", "../escape.md"} {
		w := do(t, router, http.MethodPost, "/notes", map[string]string{"path": p, "content": "x"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("create %s = %d, want 400", p, w.Code)
		}
	}
}

func TestGetNote_ETag(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/notes", map[string]string{"path": "e.md", "content": "etag"})
	var created NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = do(t, router, http.MethodGet, "/notes/e.md", nil)
	if got := w.Header().Get("ETag"); got != `"`+created.Checksum+`"` {
		t.Errorf("ETag = %q, want quoted %q", got, created.Checksum)
	}
}

func TestBacklinksEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	do(t, router, http.MethodPost, "/notes", map[string]string{"path": "a.md", "content": "see [[b]]"})
	do(t, router, http.MethodPost, "/notes", map[string]string{"path": "b.md", "content": "# B"})

	w := do(t, router, http.MethodGet, "/backlinks?target=b", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("backlinks = %d", w.Code)
	}
	var resp BacklinksResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Backlinks) != 1 || resp.Backlinks[0] != "a.md" {
		t.Errorf("backlinks = %v", resp.Backlinks)
	}

	if w := do(t, router, http.MethodGet, "/backlinks", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing target = %d, want 400", w.Code)
	}
}

// History endpoints.

func TestHistoryLifecycle(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/notes", map[string]string{"path": "dir/h.md", "content": "# First"})
	var created NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created.VersionID == "" {
		t.Fatal("create did not report a version id")
	}
	do(t, router, http.MethodPut, "/notes/dir/h.md", map[string]string{"content": "# Second"})

	q := "?path=" + url.QueryEscape("dir/h.md")

	w = do(t, router, http.MethodGet, "/history"+q, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list history = %d, body = %s", w.Code, w.Body.String())
	}
	var list HistoryListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Entries) != 2 || list.Entries[1].ID != created.VersionID {
		t.Fatalf("entries = %+v", list.Entries)
	}

	w = do(t, router, http.MethodGet, "/history/"+created.VersionID+q, nil)
	var content VersionContentResponse
	_ = json.Unmarshal(w.Body.Bytes(), &content)
	if w.Code != http.StatusOK || content.Content != "# First" {
		t.Fatalf("read version = %d %+v", w.Code, content)
	}

	w = do(t, router, http.MethodPatch, "/history/"+created.VersionID+q, map[string]any{"label": "origin", "pinned": true})
	var entry history.Entry
	_ = json.Unmarshal(w.Body.Bytes(), &entry)
	if w.Code != http.StatusOK || entry.Label != "origin" || !entry.Pinned {
		t.Fatalf("patch = %d %+v", w.Code, entry)
	}

	w = do(t, router, http.MethodPost, "/history/"+created.VersionID+"/restore"+q, nil)
	var restored NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &restored)
	if w.Code != http.StatusOK || restored.Content != "# First" {
		t.Fatalf("restore = %d %+v", w.Code, restored)
	}

	w = do(t, router, http.MethodGet, "/history"+q+"&limit=1", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Entries) != 1 || list.Entries[0].Source != history.SourceRollback || list.Entries[0].FromVersionID != created.VersionID {
		t.Errorf("latest = %+v", list.Entries)
	}
}

func TestHistoryErrors(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/history", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing path = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/history/0000000-nope?path=x.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown version = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodPatch, "/history/0000000-nope?path=x.md", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty patch = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/history?path=..", nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid path = %d, want 400", w.Code)
	}
}

// Sync endpoints.

type fakeSync struct {
	mu       sync.Mutex
	connects []gitsync.ConnectRequest
	patches  []gitsync.SettingsPatch
	runs     int
	cleared  bool
}

func (f *fakeSync) Config() syncconfig.PublicConfig {
	return syncconfig.PublicConfig{Enabled: true, RemoteURL: "https://example.test/notes.git", Branch: "main", LastConflictFiles: []string{}}
}

func (f *fakeSync) Running() bool { return false }

func (f *fakeSync) Connect(_ context.Context, req gitsync.ConnectRequest) gitsync.SetupResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, req)
	return gitsync.SetupResult{Success: true, Status: syncconfig.StatusSuccess, RemoteConnected: true}
}

func (f *fakeSync) Run(_ context.Context, reason gitsync.Reason) gitsync.RunResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return gitsync.RunResult{Success: true, Status: syncconfig.StatusSuccess, Reason: reason, ConflictFiles: []string{}}
}

func (f *fakeSync) UpdateSettings(p gitsync.SettingsPatch) gitsync.OpResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, p)
	return gitsync.OpResult{Success: true, Status: syncconfig.StatusIdle}
}

func (f *fakeSync) ClearCredential() gitsync.OpResult {
	f.cleared = true
	return gitsync.OpResult{Success: true, Status: syncconfig.StatusDisabled}
}

func TestSyncEndpoints(t *testing.T) {
	fs := &fakeSync{}
	_, router := testEnvFull(t, false, "", fs, nil)

	w := do(t, router, http.MethodGet, "/sync/config", nil)
	var cfg SyncConfigResponse
	_ = json.Unmarshal(w.Body.Bytes(), &cfg)
	if w.Code != http.StatusOK || cfg.RemoteURL != "https://example.test/notes.git" || cfg.Running {
		t.Fatalf("config = %d %+v", w.Code, cfg)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("encryptedToken")) {
		t.Error("config leaked the token ciphertext")
	}

	w = do(t, router, http.MethodPost, "/sync/connect", map[string]any{
		"remoteUrl":       "https://example.test/notes.git",
		"token":           "t0k",
		"intervalMinutes": 10,
	})
	if w.Code != http.StatusOK || len(fs.connects) != 1 {
		t.Fatalf("connect = %d", w.Code)
	}
	if got := fs.connects[0]; got.Token != "t0k" || got.IntervalMinutes == nil || *got.IntervalMinutes != 10 || got.AutoSyncEnabled != nil {
		t.Errorf("connect request = %+v", got)
	}

	w = do(t, router, http.MethodPost, "/sync/run", nil)
	var run gitsync.RunResult
	_ = json.Unmarshal(w.Body.Bytes(), &run)
	if w.Code != http.StatusOK || run.Reason != gitsync.ReasonManual || fs.runs != 1 {
		t.Errorf("run = %d %+v", w.Code, run)
	}

	w = do(t, router, http.MethodPatch, "/sync/settings", map[string]any{"autoSyncEnabled": false})
	if w.Code != http.StatusOK || len(fs.patches) != 1 || fs.patches[0].AutoSyncEnabled == nil || *fs.patches[0].AutoSyncEnabled {
		t.Errorf("settings = %d %+v", w.Code, fs.patches)
	}

	w = do(t, router, http.MethodDelete, "/sync/credential", nil)
	if w.Code != http.StatusOK || !fs.cleared {
		t.Errorf("clear credential = %d", w.Code)
	}
}

func TestSyncEndpoints_BadBody(t *testing.T) {
	_, router := testEnvFull(t, false, "", &fakeSync{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/sync/connect", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body = %d, want 400", w.Code)
	}
}

func TestSyncEndpoints_NotConfigured(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodPost, "/sync/run", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("run without engine = %d, want 503", w.Code)
	}
}

func TestSyncEndpoints_AuthProtected(t *testing.T) {
	_, router := testEnvFull(t, true, "secret", &fakeSync{}, nil)

	if w := do(t, router, http.MethodPost, "/sync/run", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed run = %d, want 401", w.Code)
	}
}
