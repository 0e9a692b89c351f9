// Package noteservice coordinates the note store, the search index and
// the version history.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
	"github.com/DylanDDeng/notely-sub000/internal/checksum"
	"github.com/DylanDDeng/notely-sub000/internal/history"
	"github.com/DylanDDeng/notely-sub000/internal/index"
	"github.com/DylanDDeng/notely-sub000/internal/models"
	"github.com/DylanDDeng/notely-sub000/internal/parser"
	"github.com/DylanDDeng/notely-sub000/internal/storage"
)

// Listener is told about writes made through the service.
type Listener interface {
	NoteChanged(kind index.ChangeKind, path string)
	VersionRecorded(path string, e history.Entry)
}

// Service coordinates storage, index and history operations.
type Service struct {
	store    storage.Provider
	db       index.NoteIndex
	history  *history.Store
	logger   *slog.Logger
	listener Listener
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithListener registers l for write notifications.
func WithListener(l Listener) Option {
	return func(s *Service) { s.listener = l }
}

// NewService creates a new note service.
func NewService(store storage.Provider, db index.NoteIndex, hist *history.Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		db:      db,
		history: hist,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying note store.
func (s *Service) Store() storage.Provider { return s.store }

// GetNote reads a note from storage, parses it, and enriches with backlinks.
func (s *Service) GetNote(_ context.Context, path string) (*models.NoteDetail, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return nil, err
	}
	return s.buildNoteDetail(path, data)
}

// CreateNote writes a new note, indexes it and records its first version.
func (s *Service) CreateNote(_ context.Context, path string, content []byte) (*models.NoteDetail, error) {
	if _, err := s.store.Read(path); err == nil {
		return nil, apperr.ErrAlreadyExists
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return s.write(path, content, index.Created, history.SourceCreate, "")
}

// UpdateNote writes updated content with optimistic concurrency. An empty
// ifMatch skips the check.
func (s *Service) UpdateNote(_ context.Context, path string, content []byte, ifMatch string) (*models.NoteDetail, error) {
	existing, err := s.store.Read(path)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && !checksum.Match(existing, ifMatch) {
		return nil, apperr.ErrConflict
	}
	return s.write(path, content, index.Updated, history.SourceSave, "")
}

// DeleteNote removes a note from storage and index. Its history is kept
// so the note can be restored later.
func (s *Service) DeleteNote(_ context.Context, path string) error {
	if err := s.store.Delete(path); err != nil {
		return err
	}
	if err := s.db.DeleteNote(path); err != nil {
		return err
	}
	s.noteChanged(index.Deleted, path)
	return nil
}

// ListNotes returns a page of indexed notes and the total match count.
func (s *Service) ListNotes(_ context.Context, q index.ListQuery) ([]models.NoteListItem, int, error) {
	rows, total, err := s.db.ListNotes(q)
	if err != nil {
		return nil, 0, err
	}
	items := make([]models.NoteListItem, len(rows))
	for i, r := range rows {
		items[i] = models.NoteListItem{
			Path:      r.Path,
			Title:     r.Title,
			Checksum:  r.Checksum,
			Tags:      nonNilSlice(r.Tags),
			Size:      r.Size,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	res, err := s.db.Search(query, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// Backlinks returns all note paths that link to the given target.
func (s *Service) Backlinks(_ context.Context, target string) ([]string, error) {
	bl, err := s.db.Backlinks(target)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(bl), nil
}

// ListHistory returns the newest versions of path first.
func (s *Service) ListHistory(_ context.Context, path string, limit int) ([]history.Entry, error) {
	entries, err := s.history.List(path, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(entries), nil
}

// ReadVersion returns the content stored for one version of path.
func (s *Service) ReadVersion(_ context.Context, path, versionID string) ([]byte, error) {
	return s.history.Read(path, versionID)
}

// UpdateVersionMeta changes the label and/or pin flag of a version.
func (s *Service) UpdateVersionMeta(_ context.Context, path, versionID string, upd history.MetaUpdate) (*history.Entry, error) {
	if upd.Label == nil && upd.Pinned == nil {
		return nil, fmt.Errorf("nothing to update: %w", apperr.ErrValidation)
	}
	return s.history.UpdateMeta(path, versionID, upd)
}

// RestoreVersion writes the content of versionID back to path and records
// the result as a rollback pointing at versionID. A deleted note is
// recreated.
func (s *Service) RestoreVersion(_ context.Context, path, versionID string) (*models.NoteDetail, error) {
	content, err := s.history.Read(path, versionID)
	if err != nil {
		return nil, err
	}
	kind := index.Updated
	if _, err := s.store.Read(path); errors.Is(err, apperr.ErrNotFound) {
		kind = index.Created
	} else if err != nil {
		return nil, err
	}
	return s.write(path, content, kind, history.SourceRollback, versionID)
}

func (s *Service) write(path string, content []byte, kind index.ChangeKind, source history.Source, from string) (*models.NoteDetail, error) {
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := index.IndexFile(s.db, path, content, s.now()); err != nil {
		return nil, err
	}
	s.noteChanged(kind, path)

	detail, err := s.buildNoteDetail(path, content)
	if err != nil {
		return nil, err
	}

	// The note is already on disk; a history failure only costs a snapshot.
	entry, created, err := s.history.Record(path, content, source, from)
	if err != nil {
		s.logger.Warn("history: record failed",
			slog.String("path", path),
			slog.String("source", string(source)),
			slog.String("error", err.Error()))
		return detail, nil
	}
	detail.VersionID = entry.ID
	if created && s.listener != nil {
		s.listener.VersionRecorded(path, *entry)
	}
	return detail, nil
}

func (s *Service) noteChanged(kind index.ChangeKind, path string) {
	if s.listener != nil {
		s.listener.NoteChanged(kind, path)
	}
}

// buildNoteDetail constructs a NoteDetail from raw data without re-reading the file.
func (s *Service) buildNoteDetail(path string, data []byte) (*models.NoteDetail, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	bl, err := s.backlinksFor(path)
	if err != nil {
		return nil, err
	}
	return &models.NoteDetail{
		Path:        path,
		Title:       res.Title,
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		Tags:        nonNilSlice(res.Tags),
		Frontmatter: res.Frontmatter,
		Backlinks:   nonNilSlice(bl),
		UpdatedAt:   s.now(),
	}, nil
}

// backlinksFor accepts both [[name]] and [[name.md]] as links to path.
func (s *Service) backlinksFor(path string) ([]string, error) {
	out, err := s.db.Backlinks(path)
	if err != nil {
		return nil, err
	}
	bare := strings.TrimSuffix(path, ".md")
	if bare == path {
		return out, nil
	}
	more, err := s.db.Backlinks(bare)
	if err != nil {
		return nil, err
	}
	for _, src := range more {
		if !slices.Contains(out, src) {
			out = append(out, src)
		}
	}
	slices.Sort(out)
	return out, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
