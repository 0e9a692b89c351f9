package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

// ConnectRequest carries the setup inputs. Empty Branch means main; an
// empty Token reuses the stored credential.
type ConnectRequest struct {
	RemoteURL       string `json:"remoteUrl"`
	Branch          string `json:"branch,omitempty"`
	Token           string `json:"token,omitempty"`
	AutoSyncEnabled *bool  `json:"autoSyncEnabled,omitempty"`
	IntervalMinutes *int   `json:"intervalMinutes,omitempty"`
}

// Connect prepares the active notes directory for syncing with a remote
// and enables sync when every check passes.
func (e *Engine) Connect(ctx context.Context, req ConnectRequest) SetupResult {
	if !e.running.CompareAndSwap(false, true) {
		return SetupResult{Status: syncconfig.StatusSkipped, Message: "A sync is in progress, try again when it finishes."}
	}
	defer e.running.Store(false)

	var res SetupResult
	err := e.connect(ctx, req, &res)
	if err != nil {
		e.logger.Warn("sync: connect failed", slog.String("error", err.Error()))
		res.Success = false
		res.Status = syncconfig.StatusError
		res.Message = setupMessage(err)
		return res
	}
	res.Success = true
	res.Status = syncconfig.StatusSuccess
	res.Message = "Git sync connected."
	e.logger.Info("sync: connected",
		slog.Bool("repo_initialized", res.RepoInitialized),
		slog.String("dir", e.Dir()))
	return res
}

func (e *Engine) connect(ctx context.Context, req ConnectRequest, res *SetupResult) error {
	remote, err := syncconfig.NormalizeRemoteURL(req.RemoteURL)
	if err != nil {
		return err
	}
	branch, err := syncconfig.NormalizeBranch(req.Branch)
	if err != nil {
		return err
	}

	current := e.store.Get()
	interval := current.IntervalMinutes
	if req.IntervalMinutes != nil {
		interval = syncconfig.ClampInterval(*req.IntervalMinutes)
	}
	autoSync := current.AutoSyncEnabled
	if req.AutoSyncEnabled != nil {
		autoSync = *req.AutoSyncEnabled
	}

	ciphertext, token, err := e.resolveToken(current, req.Token)
	if err != nil {
		return err
	}

	dir := e.Dir()
	if dir == "" {
		return fmt.Errorf("no active notes directory: %w", apperr.ErrValidation)
	}

	if !e.inspect.IsRepository(dir) {
		if err := e.initRepo(ctx, dir, branch); err != nil {
			return err
		}
		res.RepoInitialized = true
	}
	if err := ensureGitignore(dir); err != nil {
		return err
	}
	if err := e.ensureOrigin(ctx, dir, remote); err != nil {
		return err
	}

	heads, err := e.remoteHeads(ctx, dir, token)
	if err != nil {
		return err
	}
	res.RemoteConnected = true

	if len(heads) > 0 {
		hasCommits, err := e.inspect.HasCommits(dir)
		if err != nil {
			return err
		}
		notes, err := hasRootNotes(dir)
		if err != nil {
			return err
		}
		if !hasCommits && notes {
			return fmt.Errorf("%w: the remote already has commits and this vault already has notes. "+
				"Connect to an empty remote, or reconcile the two manually first", apperr.ErrDivergentHistory)
		}
	}

	if _, err := e.store.Update(syncconfig.Patch{
		Enabled:           syncconfig.Ptr(true),
		RemoteURL:         syncconfig.Ptr(remote),
		Branch:            syncconfig.Ptr(branch),
		AutoSyncEnabled:   syncconfig.Ptr(autoSync),
		IntervalMinutes:   syncconfig.Ptr(interval),
		EncryptedToken:    syncconfig.Ptr(ciphertext),
		VaultPath:         syncconfig.Ptr(dir),
		LastStatus:        syncconfig.Ptr(syncconfig.StatusIdle),
		LastMessage:       syncconfig.Ptr("Connected to " + remote + "."),
		LastConflictFiles: syncconfig.Ptr([]string{}),
	}); err != nil {
		return err
	}
	e.reschedule()
	return nil
}

// resolveToken returns the ciphertext to persist and the plaintext to use
// for this setup. A fresh token wins over the stored one.
func (e *Engine) resolveToken(current syncconfig.State, fresh string) (ciphertext, token string, err error) {
	if fresh = strings.TrimSpace(fresh); fresh != "" {
		ciphertext, err = e.vault.Encrypt(fresh)
		if err != nil {
			return "", "", err
		}
		return ciphertext, fresh, nil
	}
	if !current.TokenConfigured() {
		return "", "", apperr.ErrTokenRequired
	}
	token, err = e.vault.Decrypt(current.EncryptedToken)
	if err != nil {
		return "", "", err
	}
	return current.EncryptedToken, token, nil
}

func setupMessage(err error) string {
	switch {
	case errors.Is(err, apperr.ErrTokenRequired):
		return "A personal access token is required to connect."
	case errors.Is(err, apperr.ErrEncryptionUnavailable):
		return "Secure credential storage is not available on this machine."
	case errors.Is(err, apperr.ErrDecryptionFailed):
		return "The stored token could not be decrypted. Enter the token again to reconnect."
	}
	return errorMessage(err)
}
