package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DylanDDeng/notely-sub000/internal/gitcmd"
)

const conflictStamp = "20060102-150405"

// Index stages of a conflicted path while a rebase is stopped. The rebase
// replays local commits onto the fetched branch, so "ours" is the remote.
const (
	stageRemote = 2
	stageLocal  = 3
)

// ConflictCopyName builds the sibling file name for one side of a conflict.
func ConflictCopyName(path, side string, at time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s.conflict-%s-%s%s", base, side, at.Format(conflictStamp), ext)
}

type conflictCopy struct {
	name    string
	content string
}

// resolveConflict materializes both sides of every conflicted note and
// aborts the rebase. It returns the written copy paths, relative to dir.
func (e *Engine) resolveConflict(ctx context.Context, dir string, paths []string) ([]string, error) {
	at := e.now()
	var copies []conflictCopy
	for _, p := range paths {
		if !strings.EqualFold(filepath.Ext(p), ".md") {
			continue
		}
		copies = append(copies,
			conflictCopy{ConflictCopyName(p, "local", at), e.readStage(ctx, dir, stageLocal, p)},
			conflictCopy{ConflictCopyName(p, "remote", at), e.readStage(ctx, dir, stageRemote, p)},
		)
	}

	if _, err := e.runChecked(ctx, dir, "rebase", "--abort"); err != nil {
		return nil, fmt.Errorf("gitsync: abort rebase: %w", err)
	}

	written := make([]string, 0, len(copies))
	for _, c := range copies {
		full := filepath.Join(dir, filepath.FromSlash(c.name))
		if err := os.WriteFile(full, []byte(c.content), 0o644); err != nil {
			return written, fmt.Errorf("gitsync: write conflict copy %s: %w", c.name, err)
		}
		written = append(written, c.name)
	}
	return written, nil
}

// readStage returns one merge stage of path. A failed read degrades to an
// empty copy.
func (e *Engine) readStage(ctx context.Context, dir string, stage int, path string) string {
	spec := fmt.Sprintf(":%d:%s", stage, path)
	res, err := e.git.Run(ctx, dir, []string{"show", spec}, gitcmd.Options{Check: true})
	if err != nil {
		e.logger.Warn("sync: read conflict stage failed",
			slog.String("path", path), slog.Int("stage", stage), slog.String("error", err.Error()))
		return ""
	}
	return res.Stdout
}
