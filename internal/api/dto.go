package api

import (
	"github.com/DylanDDeng/notely-sub000/internal/history"
	"github.com/DylanDDeng/notely-sub000/internal/index"
	"github.com/DylanDDeng/notely-sub000/internal/models"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Content string `json:"content" example:"# Hello\nWorld" validate:"required"`
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = models.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = models.NoteListItem

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// BacklinksResponse lists the notes linking to Target.
type BacklinksResponse struct {
	Target    string   `json:"target" example:"hello" validate:"required"`
	Backlinks []string `json:"backlinks" validate:"required"`
}

// HistoryListResponse wraps the versions of one note.
type HistoryListResponse struct {
	Path    string          `json:"path" example:"hello.md" validate:"required"`
	Entries []history.Entry `json:"entries" validate:"required"`
}

// VersionContentResponse carries the stored content of one version.
type VersionContentResponse struct {
	Path    string `json:"path" example:"hello.md" validate:"required"`
	ID      string `json:"id" example:"1735689600000-6f1c..." validate:"required"`
	Content string `json:"content" validate:"required"`
}

// UpdateVersionRequest changes the label and/or pin flag of a version.
type UpdateVersionRequest struct {
	Label  *string `json:"label,omitempty" example:"before refactor"`
	Pinned *bool   `json:"pinned,omitempty" example:"true"`
}

// SyncConfigResponse is the public sync configuration plus run state.
type SyncConfigResponse struct {
	syncconfig.PublicConfig
	Running bool `json:"running"`
}
