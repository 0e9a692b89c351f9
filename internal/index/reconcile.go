package index

import (
	"log/slog"
	"time"

	"github.com/DylanDDeng/notely-sub000/internal/checksum"
	"github.com/DylanDDeng/notely-sub000/internal/parser"
	"github.com/DylanDDeng/notely-sub000/internal/storage"
)

// ChangeKind describes an index mutation.
type ChangeKind string

const (
	Created ChangeKind = "created"
	Updated ChangeKind = "updated"
	Deleted ChangeKind = "deleted"
)

// ChangeFunc is told about every index mutation made outside the note
// service (initial scan, watcher, post-pull reconcile).
type ChangeFunc func(kind ChangeKind, path string)

// Stats summarizes one Reconcile pass.
type Stats struct {
	Indexed int
	Removed int
}

// Reconcile brings the index in line with the vault: changed files are
// re-parsed and files gone from disk are dropped.
func Reconcile(db NoteIndex, store storage.Provider, logger *slog.Logger, cb ChangeFunc) (Stats, error) {
	var st Stats
	metas, err := store.List("")
	if err != nil {
		return st, err
	}
	known, err := db.AllChecksums()
	if err != nil {
		return st, err
	}

	onDisk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		onDisk[m.Path] = struct{}{}
		prev, seen := known[m.Path]
		if seen && prev == m.Checksum {
			continue
		}
		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("index: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data, m.UpdatedAt); err != nil {
			logger.Warn("index: parse failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		st.Indexed++
		notify(cb, kindFor(seen), m.Path)
	}

	for p := range known {
		if _, ok := onDisk[p]; ok {
			continue
		}
		if err := db.DeleteNote(p); err != nil {
			logger.Warn("index: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		st.Removed++
		notify(cb, Deleted, p)
	}

	logger.Debug("index: reconciled", slog.Int("indexed", st.Indexed), slog.Int("removed", st.Removed))
	return st, nil
}

// IndexFile parses data and upserts it under path.
func IndexFile(db NoteIndex, path string, data []byte, modTime time.Time) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	return db.UpsertNote(NoteRow{
		Path:      path,
		Title:     res.Title,
		Checksum:  checksum.Sum(data),
		Tags:      res.Tags,
		Size:      len(data),
		UpdatedAt: modTime,
	}, res.Body, res.Links)
}

func kindFor(existed bool) ChangeKind {
	if existed {
		return Updated
	}
	return Created
}

func notify(cb ChangeFunc, kind ChangeKind, path string) {
	if cb != nil {
		cb(kind, path)
	}
}
