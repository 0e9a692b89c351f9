package gitsync

import (
	"fmt"
	"log/slog"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

// SettingsPatch holds the user-editable settings. Nil fields are kept.
type SettingsPatch struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	RemoteURL       *string `json:"remoteUrl,omitempty"`
	Branch          *string `json:"branch,omitempty"`
	AutoSyncEnabled *bool   `json:"autoSyncEnabled,omitempty"`
	IntervalMinutes *int    `json:"intervalMinutes,omitempty"`
}

// UpdateSettings validates and applies the touched fields, then
// reinstalls or clears the timer.
func (e *Engine) UpdateSettings(p SettingsPatch) OpResult {
	patch := syncconfig.Patch{
		Enabled:         p.Enabled,
		AutoSyncEnabled: p.AutoSyncEnabled,
	}
	if p.RemoteURL != nil {
		remote, err := syncconfig.NormalizeRemoteURL(*p.RemoteURL)
		if err != nil {
			return opFailed(err)
		}
		patch.RemoteURL = &remote
	}
	if p.Branch != nil {
		branch, err := syncconfig.NormalizeBranch(*p.Branch)
		if err != nil {
			return opFailed(err)
		}
		patch.Branch = &branch
	}
	if p.IntervalMinutes != nil {
		patch.IntervalMinutes = syncconfig.Ptr(syncconfig.ClampInterval(*p.IntervalMinutes))
	}

	if p.Enabled != nil && *p.Enabled {
		current := e.store.Get()
		remote := current.RemoteURL
		if patch.RemoteURL != nil {
			remote = *patch.RemoteURL
		}
		if remote == "" || !current.TokenConfigured() {
			return opFailed(fmt.Errorf("%w: connect with a remote URL and token before enabling sync", apperr.ErrTokenRequired))
		}
	}

	state, err := e.store.Update(patch)
	if err != nil {
		return opFailed(err)
	}
	e.reschedule()
	e.logger.Info("sync: settings updated",
		slog.Bool("enabled", state.Enabled),
		slog.Bool("auto_sync", state.AutoSyncEnabled),
		slog.Int("interval_minutes", state.IntervalMinutes))
	return OpResult{Success: true, Status: state.LastStatus, Message: "Sync settings saved."}
}

// ClearCredential forgets the stored token, disables sync and clears the
// timer.
func (e *Engine) ClearCredential() OpResult {
	state, err := e.store.Update(syncconfig.Patch{
		Enabled:        syncconfig.Ptr(false),
		EncryptedToken: syncconfig.Ptr(""),
		LastStatus:     syncconfig.Ptr(syncconfig.StatusDisabled),
		LastMessage:    syncconfig.Ptr("Credential cleared. Reconnect to resume syncing."),
	})
	if err != nil {
		return opFailed(err)
	}
	e.reschedule()
	e.logger.Info("sync: credential cleared")
	return OpResult{Success: true, Status: state.LastStatus, Message: state.LastMessage}
}

func opFailed(err error) OpResult {
	return OpResult{Status: syncconfig.StatusError, Message: errorMessage(err)}
}
