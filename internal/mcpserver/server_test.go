package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/DylanDDeng/notely-sub000/internal/gitsync"
	"github.com/DylanDDeng/notely-sub000/internal/history"
	"github.com/DylanDDeng/notely-sub000/internal/noteservice"
	"github.com/DylanDDeng/notely-sub000/internal/storage"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
	"github.com/DylanDDeng/notely-sub000/internal/testutil"
)

type stubSync struct {
	result gitsync.RunResult
	runs   int
}

func (s *stubSync) Config() syncconfig.PublicConfig {
	return syncconfig.PublicConfig{Enabled: true, Branch: "main", LastStatus: syncconfig.StatusIdle}
}

func (s *stubSync) Running() bool { return false }

func (s *stubSync) Run(_ context.Context, reason gitsync.Reason) gitsync.RunResult {
	s.runs++
	res := s.result
	res.Reason = reason
	return res
}

func testServer(t *testing.T, sync SyncEngine) (*Server, storage.Provider) {
	t.Helper()
	vaultDir, store := testutil.TestVault(t)
	svc := noteservice.NewService(store, testutil.TestDB(t), testutil.TestHistory(t, vaultDir),
		noteservice.WithLogger(testutil.Logger()))
	return New(svc, sync, "test"), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" helper, so the handlers are called
	// directly.
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"search_notes":         srv.searchNotes,
		"read_note":            srv.readNote,
		"create_note":          srv.createNote,
		"update_note":          srv.updateNote,
		"list_notes":           srv.listNotes,
		"get_backlinks":        srv.getBacklinks,
		"list_history":         srv.listHistory,
		"read_history_version": srv.readHistoryVersion,
		"label_version":        srv.labelVersion,
		"restore_version":      srv.restoreVersion,
		"sync_status":          srv.syncStatus,
		"run_sync":             srv.runSync,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateAndReadNote(t *testing.T) {
	srv, _ := testServer(t, nil)

	r := callTool(t, srv, "create_note", map[string]any{
		"path":    "test.md",
		"content": "# Test\nHello",
	})
	if text := resultText(r); text != "created: test.md" {
		t.Errorf("create result = %q", text)
	}

	r = callTool(t, srv, "read_note", map[string]any{"path": "test.md"})
	if text := resultText(r); text != "# Test\nHello" {
		t.Errorf("read result = %q", text)
	}
	if len(r.Content) != 2 {
		t.Fatalf("expected content and checksum, got %d items", len(r.Content))
	}

	r = callTool(t, srv, "create_note", map[string]any{"path": "test.md", "content": "dup"})
	if !r.IsError || !strings.Contains(resultText(r), "already exists") {
		t.Errorf("duplicate create = %q", resultText(r))
	}
}

func TestUpdateNote_ChecksumGuard(t *testing.T) {
	srv, _ := testServer(t, nil)
	callTool(t, srv, "create_note", map[string]any{"path": "u.md", "content": "v1"})

	r := callTool(t, srv, "update_note", map[string]any{"path": "u.md", "content": "v2", "checksum": "stale"})
	if !r.IsError {
		t.Fatal("expected conflict for stale checksum")
	}

	r = callTool(t, srv, "update_note", map[string]any{"path": "u.md", "content": "v2"})
	if r.IsError || !strings.HasPrefix(resultText(r), "updated: u.md") {
		t.Errorf("update = %q", resultText(r))
	}
}

func TestListNotes(t *testing.T) {
	srv, store := testServer(t, nil)
	testutil.WriteNotes(t, store, map[string]string{"a.md": "a", "sub/b.md": "b"})

	r := callTool(t, srv, "list_notes", map[string]any{})
	text := resultText(r)
	if !strings.Contains(text, "a.md") || !strings.Contains(text, "sub/b.md") {
		t.Errorf("list = %q", text)
	}

	r = callTool(t, srv, "list_notes", map[string]any{"folder": "sub"})
	if text := resultText(r); text != "sub/b.md" {
		t.Errorf("folder list = %q", text)
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := callTool(t, srv, "read_note", map[string]any{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestGetBacklinks(t *testing.T) {
	srv, _ := testServer(t, nil)
	callTool(t, srv, "create_note", map[string]any{
		"path":    "a.md",
		"content": "links to [[b]]",
	})

	r := callTool(t, srv, "get_backlinks", map[string]any{"path": "b"})
	if text := resultText(r); text != "a.md" {
		t.Errorf("backlinks = %q, want a.md", text)
	}
}

func TestHistoryTools(t *testing.T) {
	srv, _ := testServer(t, nil)
	callTool(t, srv, "create_note", map[string]any{"path": "h.md", "content": "first"})
	callTool(t, srv, "update_note", map[string]any{"path": "h.md", "content": "second"})

	r := callTool(t, srv, "list_history", map[string]any{"path": "h.md", "limit": float64(10)})
	var entries []history.Entry
	if err := json.Unmarshal([]byte(resultText(r)), &entries); err != nil {
		t.Fatalf("decode: %v (%q)", err, resultText(r))
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	oldest := entries[1].ID

	r = callTool(t, srv, "read_history_version", map[string]any{"path": "h.md", "version_id": oldest})
	if text := resultText(r); text != "first" {
		t.Errorf("version content = %q", text)
	}

	r = callTool(t, srv, "label_version", map[string]any{"path": "h.md", "version_id": oldest, "pinned": true})
	var e history.Entry
	_ = json.Unmarshal([]byte(resultText(r)), &e)
	if !e.Pinned || e.Label != "" {
		t.Errorf("label_version = %+v", e)
	}

	r = callTool(t, srv, "restore_version", map[string]any{"path": "h.md", "version_id": oldest})
	if r.IsError {
		t.Fatalf("restore = %q", resultText(r))
	}
	r = callTool(t, srv, "read_note", map[string]any{"path": "h.md"})
	if text := resultText(r); text != "first" {
		t.Errorf("after restore = %q", text)
	}

	r = callTool(t, srv, "read_history_version", map[string]any{"path": "h.md", "version_id": "0000000-missing"})
	if !r.IsError || !strings.Contains(resultText(r), "not found") {
		t.Errorf("missing version = %q", resultText(r))
	}
}

func TestSyncTools(t *testing.T) {
	stub := &stubSync{result: gitsync.RunResult{Success: true, Status: syncconfig.StatusSuccess}}
	srv, _ := testServer(t, stub)

	r := callTool(t, srv, "sync_status", map[string]any{})
	if !strings.Contains(resultText(r), `"branch": "main"`) {
		t.Errorf("status = %q", resultText(r))
	}

	r = callTool(t, srv, "run_sync", map[string]any{})
	if r.IsError || stub.runs != 1 || !strings.Contains(resultText(r), `"reason": "manual"`) {
		t.Errorf("run = %q", resultText(r))
	}

	stub.result = gitsync.RunResult{Status: syncconfig.StatusConflict, ConflictFiles: []string{"a.md"}}
	r = callTool(t, srv, "run_sync", map[string]any{})
	if !r.IsError {
		t.Error("conflict run should be reported as a tool error")
	}
}
