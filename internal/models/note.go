// Package models holds the note types shared by storage, services and
// transports.
package models

import "time"

// NoteMetadata is what a directory listing knows about a file.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteDetail is a fully read note.
type NoteDetail struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Tags        []string       `json:"tags"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Backlinks   []string       `json:"backlinks"`
	UpdatedAt   time.Time      `json:"updated_at"`

	// VersionID is the history entry recorded by the write that produced
	// this detail, if any.
	VersionID string `json:"version_id,omitempty"`
}

// NoteListItem is one row of a note listing.
type NoteListItem struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	Tags      []string  `json:"tags"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
