package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
	"github.com/DylanDDeng/notely-sub000/internal/gitcmd"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

// Run performs one sync attempt. A call made while another attempt is in
// flight returns StatusSkipped immediately.
func (e *Engine) Run(ctx context.Context, reason Reason) RunResult {
	if reason != ReasonAuto {
		reason = ReasonManual
	}
	if !e.running.CompareAndSwap(false, true) {
		return RunResult{
			Status:        syncconfig.StatusSkipped,
			Message:       "A sync is already in progress.",
			Reason:        reason,
			ConflictFiles: []string{},
		}
	}
	defer e.running.Store(false)

	res := e.guardedRun(ctx, reason)
	e.logger.Info("sync: run finished",
		slog.String("reason", string(reason)),
		slog.String("status", string(res.Status)),
		slog.Int("commits", res.CommitsCreated),
		slog.Bool("pulled", res.Pulled),
		slog.Bool("pushed", res.Pushed))
	if e.notify != nil {
		e.notify(res)
	}
	return res
}

func (e *Engine) guardedRun(ctx context.Context, reason Reason) (res RunResult) {
	defer func() {
		if p := recover(); p != nil {
			res = e.finish(reason, failed(fmt.Errorf("unexpected failure: %v", p)))
		}
	}()

	state := e.store.Get()
	if !state.Enabled {
		return RunResult{
			Status:        syncconfig.StatusDisabled,
			Message:       "Git sync is disabled.",
			Reason:        reason,
			ConflictFiles: []string{},
		}
	}

	dir := e.Dir()
	if !samePath(state.VaultPath, dir) {
		return e.vaultMismatch(reason, state.VaultPath, dir)
	}

	token, err := e.vault.Decrypt(state.EncryptedToken)
	if err != nil {
		return e.finish(reason, failed(err))
	}

	if _, err := e.store.Update(syncconfig.Patch{
		LastStatus:  syncconfig.Ptr(syncconfig.StatusRunning),
		LastMessage: syncconfig.Ptr("Sync in progress."),
	}); err != nil {
		e.logger.Warn("sync: mark running failed", slog.String("error", err.Error()))
	}

	return e.finish(reason, e.sync(ctx, dir, state, token, reason))
}

// outcome is the internal result of the git phase of a run.
type outcome struct {
	status    syncconfig.Status
	err       error
	commits   int
	pulled    bool
	pushed    bool
	conflicts []string
}

func failed(err error) outcome {
	return outcome{status: syncconfig.StatusError, err: err}
}

func (e *Engine) sync(ctx context.Context, dir string, state syncconfig.State, token string, reason Reason) outcome {
	var out outcome
	branch := state.Branch

	if !e.inspect.IsRepository(dir) {
		return failed(fmt.Errorf("%w: connect Git sync first", apperr.ErrNotAGitRepository))
	}
	if err := e.ensureOrigin(ctx, dir, state.RemoteURL); err != nil {
		return failed(err)
	}
	if err := ensureGitignore(dir); err != nil {
		return failed(err)
	}

	if err := e.stageNotes(ctx, dir); err != nil {
		return failed(err)
	}
	staged, err := e.hasStagedChanges(ctx, dir)
	if err != nil {
		return failed(err)
	}
	if staged {
		msg := fmt.Sprintf("notely: %s sync %s", reason, e.now().UTC().Format(time.RFC3339))
		if err := e.commit(ctx, dir, msg); err != nil {
			return failed(err)
		}
		out.commits = 1
	}

	hasCommits, err := e.inspect.HasCommits(dir)
	if err != nil {
		return failed(err)
	}

	remoteExists, err := e.remoteBranchExists(ctx, dir, token, branch)
	if err != nil {
		return failed(err)
	}

	if remoteExists {
		if err := e.fetch(ctx, dir, token, branch); err != nil {
			return failed(err)
		}
		if !hasCommits {
			if _, err := e.runChecked(ctx, dir, "reset", "--hard", trackingRef(branch)); err != nil {
				return failed(err)
			}
			if err := ensureGitignore(dir); err != nil {
				return failed(err)
			}
			out.pulled = true
			hasCommits = true
		} else {
			behind, err := e.countCommits(ctx, dir, "HEAD.."+trackingRef(branch))
			if err != nil {
				return failed(err)
			}
			if behind > 0 {
				conflicts, err := e.rebase(ctx, dir, branch)
				if err != nil {
					return failed(err)
				}
				if conflicts != nil {
					out.status = syncconfig.StatusConflict
					out.conflicts = conflicts
					return out
				}
				out.pulled = true
			}
		}
	}

	if hasCommits {
		ahead := 1
		if remoteExists {
			if ahead, err = e.countCommits(ctx, dir, trackingRef(branch)+"..HEAD"); err != nil {
				return failed(err)
			}
		}
		if ahead > 0 {
			if err := e.push(ctx, dir, token, branch, !remoteExists); err != nil {
				return failed(err)
			}
			out.pushed = true
		}
	}

	out.status = syncconfig.StatusSuccess
	return out
}

// rebase replays local commits onto the fetched branch. A non-nil slice
// means the rebase stopped on conflicts and has been aborted; the slice
// holds the conflict copies written.
func (e *Engine) rebase(ctx context.Context, dir, branch string) ([]string, error) {
	res, err := e.git.Run(ctx, dir,
		[]string{"rebase", "--autostash", trackingRef(branch)},
		gitcmd.Options{Env: e.identityEnv()})
	if err != nil {
		return nil, err
	}
	if res.ExitCode == 0 {
		return nil, nil
	}

	paths, listErr := e.unmergedPaths(ctx, dir)
	if listErr != nil || len(paths) == 0 {
		_, _ = e.git.Run(ctx, dir, []string{"rebase", "--abort"}, gitcmd.Options{})
		return nil, &gitcmd.CommandError{
			Args:     []string{"rebase", "--autostash", trackingRef(branch)},
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}

	e.logger.Warn("sync: rebase conflict", slog.Int("files", len(paths)))
	copies, err := e.resolveConflict(ctx, dir, paths)
	if err != nil {
		return nil, err
	}
	return copies, nil
}

// finish persists the outcome and converts it to a RunResult.
func (e *Engine) finish(reason Reason, out outcome) RunResult {
	res := RunResult{
		Status:         out.status,
		Reason:         reason,
		CommitsCreated: out.commits,
		Pulled:         out.pulled,
		Pushed:         out.pushed,
		ConflictFiles:  append([]string{}, out.conflicts...),
	}
	switch out.status {
	case syncconfig.StatusSuccess:
		res.Success = true
		res.Message = successMessage(out)
	case syncconfig.StatusConflict:
		res.Message = fmt.Sprintf("Sync stopped on a conflict. Review %s and reconcile manually.", strings.Join(res.ConflictFiles, ", "))
		if len(res.ConflictFiles) == 0 {
			res.Message = "Sync stopped on a conflict in non-note files. Reconcile the repository manually."
		}
	default:
		res.Status = syncconfig.StatusError
		res.Message = errorMessage(out.err)
	}

	now := e.now()
	if _, err := e.store.Update(syncconfig.Patch{
		LastSyncAt:        syncconfig.Ptr(&now),
		LastStatus:        syncconfig.Ptr(res.Status),
		LastMessage:       syncconfig.Ptr(res.Message),
		LastConflictFiles: syncconfig.Ptr(res.ConflictFiles),
	}); err != nil {
		e.logger.Warn("sync: persist result failed", slog.String("error", err.Error()))
	}
	return res
}

// vaultMismatch disables sync when the configured vault is not the active
// one. No git command runs against the active directory.
func (e *Engine) vaultMismatch(reason Reason, configured, active string) RunResult {
	msg := fmt.Sprintf("Git sync was configured for %s but the active vault is %s. Reconnect to sync this vault.", configured, active)
	e.logger.Warn("sync: vault mismatch", slog.String("configured", configured), slog.String("active", active))

	now := e.now()
	if _, err := e.store.Update(syncconfig.Patch{
		Enabled:     syncconfig.Ptr(false),
		LastSyncAt:  syncconfig.Ptr(&now),
		LastStatus:  syncconfig.Ptr(syncconfig.StatusError),
		LastMessage: syncconfig.Ptr(msg),
	}); err != nil {
		e.logger.Warn("sync: persist vault mismatch failed", slog.String("error", err.Error()))
	}
	e.reschedule()

	return RunResult{
		Status:        syncconfig.StatusError,
		Message:       fmt.Sprintf("%s (%v)", msg, apperr.ErrVaultMismatch),
		Reason:        reason,
		ConflictFiles: []string{},
	}
}

func successMessage(out outcome) string {
	var parts []string
	if out.commits > 0 {
		parts = append(parts, fmt.Sprintf("committed %d change set", out.commits))
	}
	if out.pulled {
		parts = append(parts, "pulled remote changes")
	}
	if out.pushed {
		parts = append(parts, "pushed")
	}
	if len(parts) == 0 {
		return "Already up to date."
	}
	s := strings.Join(parts, ", ")
	return strings.ToUpper(s[:1]) + s[1:] + "."
}

func errorMessage(err error) string {
	if err == nil {
		return "Sync failed."
	}
	if apperr.ReconnectRequired(err) {
		return fmt.Sprintf("Stored credential is unusable, reconnect Git sync: %v", err)
	}
	var cmdErr *gitcmd.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Error()
	}
	return err.Error()
}
