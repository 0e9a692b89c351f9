package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DylanDDeng/notely-sub000/internal/storage"
)

const reconcileDelay = 200 * time.Millisecond

// Watcher keeps the index current while files change on disk, including
// changes made by git during a pull.
type Watcher struct {
	db     NoteIndex
	store  storage.Provider
	logger *slog.Logger
	cb     ChangeFunc
}

// NewWatcher creates a watcher over store's root.
func NewWatcher(db NoteIndex, store storage.Provider, logger *slog.Logger, cb ChangeFunc) *Watcher {
	return &Watcher{db: db, store: store, logger: logger, cb: cb}
}

// Run watches until ctx is cancelled. Hidden directories such as .git and
// .history are never watched. Renames, and any burst git produces, are
// settled by a debounced Reconcile.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.store.Root()
	if err := addDirs(fw, root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", root))

	debounce := time.NewTimer(reconcileDelay)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case <-debounce.C:
			if _, err := Reconcile(w.db, w.store, w.logger, w.cb); err != nil {
				w.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(root, ev.Name)
			if err != nil || storage.IsHidden(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addDirs(fw, ev.Name); err != nil {
						w.logger.Warn("watcher: add dir failed", slog.String("path", rel), slog.String("error", err.Error()))
					}
					debounce.Reset(reconcileDelay)
					continue
				}
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.index(rel, ev.Op&fsnotify.Create != 0)
			case ev.Op&fsnotify.Remove != 0:
				w.remove(rel)
			case ev.Op&fsnotify.Rename != 0:
				// The new name arrives as a separate Create, if at all.
				w.remove(rel)
				debounce.Reset(reconcileDelay)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) index(rel string, created bool) {
	data, err := w.store.Read(rel)
	if err != nil {
		w.logger.Debug("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if err := IndexFile(w.db, rel, data, time.Now()); err != nil {
		w.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	notify(w.cb, kindFor(!created), rel)
}

func (w *Watcher) remove(rel string) {
	if err := w.db.DeleteNote(rel); err != nil {
		w.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	notify(w.cb, Deleted, rel)
}

// addDirs watches root and every non-hidden directory below it.
func addDirs(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
