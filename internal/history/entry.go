// Package history keeps per-note version snapshots inside the vault.
//
// Layout, relative to the vault root:
//
//	.history/<encoded filename>/index.json
//	.history/<encoded filename>/versions/<id>.md
//
// The index is a chronological list of entries; each entry owns one blob.
package history

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/DylanDDeng/notely-sub000/internal/parser"
)

// Source says which action produced a version.
type Source string

const (
	SourceSave     Source = "save"
	SourceCreate   Source = "create"
	SourceRollback Source = "rollback"
)

// ParseSource maps unknown values to SourceSave.
func ParseSource(s string) Source {
	switch Source(s) {
	case SourceCreate, SourceRollback:
		return Source(s)
	}
	return SourceSave
}

const (
	maxPreview = 140
	maxLabel   = 100
)

var idRe = regexp.MustCompile(`(?i)^[a-z0-9-]{6,96}$`)

// ValidID reports whether id has the shape of a version id.
func ValidID(id string) bool {
	return idRe.MatchString(id)
}

// Entry describes one stored version.
type Entry struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	Source        Source    `json:"source"`
	Size          int       `json:"size"`
	Preview       string    `json:"preview"`
	Label         string    `json:"label"`
	Pinned        bool      `json:"pinned"`
	FromVersionID string    `json:"fromVersionId,omitempty"`
	Checksum      string    `json:"checksum,omitempty"`
}

func newID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
}

// buildPreview strips frontmatter, collapses whitespace and truncates.
func buildPreview(content []byte) string {
	body := strings.Join(strings.Fields(parser.StripFrontmatter(content)), " ")
	return truncate(body, maxPreview)
}

// NormalizeLabel trims and truncates a user-supplied label.
func NormalizeLabel(label string) string {
	return truncate(strings.TrimSpace(label), maxLabel)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
