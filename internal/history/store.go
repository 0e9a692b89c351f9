package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
	"github.com/DylanDDeng/notely-sub000/internal/checksum"
)

const (
	// DefaultMaxVersions is the retention cap per note.
	DefaultMaxVersions = 80

	DefaultListLimit = 50
	MaxListLimit     = 200

	indexFile   = "index.json"
	versionsDir = "versions"
)

type indexDoc struct {
	Filename string  `json:"filename"`
	Entries  []Entry `json:"entries"`
}

// Store records and serves note versions.
type Store struct {
	root        string // <vault>/.history
	maxVersions int
	logger      *slog.Logger
	now         func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithMaxVersions overrides the retention cap.
func WithMaxVersions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxVersions = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store for the vault at vaultRoot.
func NewStore(vaultRoot string, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		root:        filepath.Join(vaultRoot, Dir),
		maxVersions: DefaultMaxVersions,
		logger:      logger,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record stores content as a new version of filename and reports whether a
// new entry was written. When content is byte-identical to the latest
// version nothing is written and the latest entry is returned.
func (s *Store) Record(filename string, content []byte, source Source, fromVersionID string) (*Entry, bool, error) {
	key, err := EncodeKey(filename)
	if err != nil {
		return nil, false, err
	}
	unlock := s.lock(key)
	defer unlock()

	doc := s.loadIndex(key, filename)
	sum := checksum.Sum(content)

	if n := len(doc.Entries); n > 0 {
		latest := doc.Entries[n-1]
		if s.sameContent(key, latest, content, sum) {
			return &latest, false, nil
		}
	}

	if fromVersionID != "" && !ValidID(fromVersionID) {
		fromVersionID = ""
	}
	now := s.now()
	entry := Entry{
		ID:            newID(now),
		CreatedAt:     now,
		Source:        ParseSource(string(source)),
		Size:          len(content),
		Preview:       buildPreview(content),
		FromVersionID: fromVersionID,
		Checksum:      sum,
	}

	if err := writeFileAtomic(s.blobPath(key, entry.ID), content); err != nil {
		return nil, false, fmt.Errorf("history: write version: %w", err)
	}

	doc.Entries = append(doc.Entries, entry)
	kept, dropped := applyRetention(doc.Entries, s.maxVersions)
	doc.Entries = kept

	if err := s.saveIndex(key, doc); err != nil {
		return nil, false, err
	}
	for _, d := range dropped {
		if err := os.Remove(s.blobPath(key, d.ID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("history: stale blob not removed",
				slog.String("file", filename), slog.String("id", d.ID), slog.String("error", err.Error()))
		}
	}

	s.logger.Debug("history: recorded",
		slog.String("file", filename),
		slog.String("id", entry.ID),
		slog.String("source", string(entry.Source)),
		slog.Int("dropped", len(dropped)))
	return &entry, true, nil
}

// List returns up to limit entries, newest first. limit is clamped to
// [1, MaxListLimit]; zero means DefaultListLimit.
func (s *Store) List(filename string, limit int) ([]Entry, error) {
	key, err := EncodeKey(filename)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	limit = max(1, min(limit, MaxListLimit))

	unlock := s.lock(key)
	doc := s.loadIndex(key, filename)
	unlock()

	out := make([]Entry, 0, min(limit, len(doc.Entries)))
	for i := len(doc.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, doc.Entries[i])
	}
	return out, nil
}

// Read returns the stored content of versionID.
func (s *Store) Read(filename, versionID string) ([]byte, error) {
	key, err := EncodeKey(filename)
	if err != nil {
		return nil, err
	}
	if !ValidID(versionID) {
		return nil, fmt.Errorf("history: version %q: %w", versionID, apperr.ErrNotFound)
	}
	data, err := os.ReadFile(s.blobPath(key, versionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("history: version %q: %w", versionID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("history: read version: %w", err)
	}
	return data, nil
}

// MetaUpdate carries the optional fields of UpdateMeta.
type MetaUpdate struct {
	Label  *string
	Pinned *bool
}

// UpdateMeta changes the label and/or pin flag of an existing entry.
func (s *Store) UpdateMeta(filename, versionID string, upd MetaUpdate) (*Entry, error) {
	key, err := EncodeKey(filename)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(key)
	defer unlock()

	doc := s.loadIndex(key, filename)
	for i := range doc.Entries {
		if doc.Entries[i].ID != versionID {
			continue
		}
		if upd.Label != nil {
			doc.Entries[i].Label = NormalizeLabel(*upd.Label)
		}
		if upd.Pinned != nil {
			doc.Entries[i].Pinned = *upd.Pinned
		}
		if err := s.saveIndex(key, doc); err != nil {
			return nil, err
		}
		e := doc.Entries[i]
		return &e, nil
	}
	return nil, fmt.Errorf("history: version %q: %w", versionID, apperr.ErrNotFound)
}

// lock serializes read-modify-write cycles per note.
func (s *Store) lock(key string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Store) noteDir(key string) string {
	return filepath.Join(s.root, key)
}

func (s *Store) blobPath(key, id string) string {
	return filepath.Join(s.noteDir(key), versionsDir, id+".md")
}

// sameContent compares against the latest blob. The checksum short-cuts
// the common "different" case; equal checksums are confirmed byte-wise.
func (s *Store) sameContent(key string, latest Entry, content []byte, sum string) bool {
	if latest.Checksum != "" && latest.Checksum != sum {
		return false
	}
	prev, err := os.ReadFile(s.blobPath(key, latest.ID))
	if err != nil {
		return false
	}
	return bytes.Equal(prev, content)
}

// loadIndex reads the index; a missing or corrupt file is an empty history.
// Entries with malformed ids are dropped and the rest sorted by time.
func (s *Store) loadIndex(key, filename string) indexDoc {
	doc := indexDoc{Filename: filename}
	data, err := os.ReadFile(filepath.Join(s.noteDir(key), indexFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("history: read index failed", slog.String("file", filename), slog.String("error", err.Error()))
		}
		return doc
	}
	var raw indexDoc
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("history: index is corrupt, starting fresh", slog.String("file", filename), slog.String("error", err.Error()))
		return doc
	}
	for _, e := range raw.Entries {
		if !ValidID(e.ID) {
			continue
		}
		e.Source = ParseSource(string(e.Source))
		e.Label = NormalizeLabel(e.Label)
		doc.Entries = append(doc.Entries, e)
	}
	sortChronological(doc.Entries)
	return doc
}

func (s *Store) saveIndex(key string, doc indexDoc) error {
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode index: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.noteDir(key), indexFile), data); err != nil {
		return fmt.Errorf("history: write index: %w", err)
	}
	return nil
}

func sortChronological(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partial index or blob.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
