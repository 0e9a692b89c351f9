// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Notely tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
	"github.com/DylanDDeng/notely-sub000/internal/gitsync"
	"github.com/DylanDDeng/notely-sub000/internal/history"
	"github.com/DylanDDeng/notely-sub000/internal/noteservice"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

const contractURI = "notely://note-format"

// SyncEngine is the part of *gitsync.Engine exposed as tools.
type SyncEngine interface {
	Config() syncconfig.PublicConfig
	Running() bool
	Run(ctx context.Context, reason gitsync.Reason) gitsync.RunResult
}

// Server wraps the MCP server with Notely tools.
type Server struct {
	mcp  *server.MCPServer
	svc  *noteservice.Service
	sync SyncEngine
}

// New creates a new MCP server with all Notely tools registered. sync may
// be nil, in which case the sync tools are not offered.
func New(svc *noteservice.Service, sync SyncEngine, version string) *Server {
	s := &Server{svc: svc, sync: sync}

	s.mcp = server.NewMCPServer(
		"Notely",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through notes content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new Markdown note at the specified path. "+
			"Content MUST follow the canonical note format (YAML frontmatter with title, "+
			"optional tags, Markdown body with [[wikilinks]]). Read the contract first via "+
			"the get_note_contract tool or the "+contractURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new note (must end with .md)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content following the Notely note format contract")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the content of an existing note. The previous content stays available in its history."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New Markdown content")),
		mcp.WithString("checksum", mcp.Description("Checksum reported by read_note; the update fails if the note changed since")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the canonical Notely note format contract. "+
			"Call this before creating or updating notes to ensure correct structure."),
	), s.getNoteContract)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all notes or notes in a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the note to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("list_history",
		mcp.WithDescription("List saved versions of a note, newest first."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of versions (1-200, default 50)")),
	), s.listHistory)

	s.mcp.AddTool(mcp.NewTool("read_history_version",
		mcp.WithDescription("Read the content of one saved version of a note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note")),
		mcp.WithString("version_id", mcp.Required(), mcp.Description("Version id from list_history")),
	), s.readHistoryVersion)

	s.mcp.AddTool(mcp.NewTool("label_version",
		mcp.WithDescription("Set the label and/or pin flag of a saved version. Pinned versions are never pruned."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note")),
		mcp.WithString("version_id", mcp.Required(), mcp.Description("Version id from list_history")),
		mcp.WithString("label", mcp.Description("New label; empty string clears it")),
		mcp.WithBoolean("pinned", mcp.Description("Pin or unpin the version")),
	), s.labelVersion)

	s.mcp.AddTool(mcp.NewTool("restore_version",
		mcp.WithDescription("Write a saved version back to the note. The restore is recorded as a new version."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note")),
		mcp.WithString("version_id", mcp.Required(), mcp.Description("Version id from list_history")),
	), s.restoreVersion)

	if sync != nil {
		s.mcp.AddTool(mcp.NewTool("sync_status",
			mcp.WithDescription("Show the Git sync configuration and the outcome of the last run."),
		), s.syncStatus)

		s.mcp.AddTool(mcp.NewTool("run_sync",
			mcp.WithDescription("Commit local note changes, pull from and push to the configured Git remote."),
		), s.runSync)
	}

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Note Format Contract",
			mcp.WithResourceDescription("Canonical Markdown note format that all notes must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, path)
	if err != nil {
		return toolError(err, path), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(note.Content),
			mcp.NewTextContent("checksum: " + note.Checksum),
		},
	}, nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.CreateNote(ctx, path, []byte(content)); err != nil {
		return toolError(err, path), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.UpdateNote(ctx, path, []byte(content), req.GetString("checksum", ""))
	if err != nil {
		return toolError(err, path), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s (version %s)", path, note.VersionID)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := strings.Trim(req.GetString("folder", ""), "/")

	metas, err := s.svc.Store().List(folder)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	paths := make([]string, 0, len(metas))
	for _, m := range metas {
		paths = append(paths, m.Path)
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no notes found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) getNoteContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

func (s *Server) listHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.svc.ListHistory(ctx, path, req.GetInt("limit", 0))
	if err != nil {
		return toolError(err, path), nil
	}
	return jsonResult(entries)
}

func (s *Server) readHistoryVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, id, errRes := pathAndVersion(req)
	if errRes != nil {
		return errRes, nil
	}
	data, err := s.svc.ReadVersion(ctx, path, id)
	if err != nil {
		return toolError(err, path+"@"+id), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) labelVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, id, errRes := pathAndVersion(req)
	if errRes != nil {
		return errRes, nil
	}
	var upd history.MetaUpdate
	args := req.GetArguments()
	if _, ok := args["label"]; ok {
		label := req.GetString("label", "")
		upd.Label = &label
	}
	if _, ok := args["pinned"]; ok {
		pinned := req.GetBool("pinned", false)
		upd.Pinned = &pinned
	}
	entry, err := s.svc.UpdateVersionMeta(ctx, path, id, upd)
	if err != nil {
		return toolError(err, path+"@"+id), nil
	}
	return jsonResult(entry)
}

func (s *Server) restoreVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, id, errRes := pathAndVersion(req)
	if errRes != nil {
		return errRes, nil
	}
	note, err := s.svc.RestoreVersion(ctx, path, id)
	if err != nil {
		return toolError(err, path+"@"+id), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("restored: %s from %s (version %s)", path, id, note.VersionID)), nil
}

func (s *Server) syncStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(struct {
		syncconfig.PublicConfig
		Running bool `json:"running"`
	}{s.sync.Config(), s.sync.Running()})
}

func (s *Server) runSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := s.sync.Run(context.WithoutCancel(ctx), gitsync.ReasonManual)
	out, err := jsonResult(res)
	if err == nil && !res.Success && res.Status != syncconfig.StatusSkipped {
		out.IsError = true
	}
	return out, err
}

func pathAndVersion(req mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	path, err := req.RequireString("path")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	id, err := req.RequireString("version_id")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	return path, id, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(err error, subject string) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", subject))
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError(fmt.Sprintf("note already exists: %s", subject))
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError(fmt.Sprintf("note changed since it was read: %s", subject))
	}
	return mcp.NewToolResultError(err.Error())
}
