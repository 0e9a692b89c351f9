package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/DylanDDeng/notely-sub000/internal/gitsync"
	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

// SyncEngine is the part of *gitsync.Engine served over HTTP.
type SyncEngine interface {
	Config() syncconfig.PublicConfig
	Running() bool
	Connect(ctx context.Context, req gitsync.ConnectRequest) gitsync.SetupResult
	Run(ctx context.Context, reason gitsync.Reason) gitsync.RunResult
	UpdateSettings(p gitsync.SettingsPatch) gitsync.OpResult
	ClearCredential() gitsync.OpResult
}

var _ SyncEngine = (*gitsync.Engine)(nil)

func (h *Handler) syncAvailable(w http.ResponseWriter) bool {
	if h.sync == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("sync is not configured"))
		return false
	}
	return true
}

// SyncConfig handles GET /api/sync/config.
//
//	@Summary		Current sync configuration and status
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncConfigResponse
//	@Security		BearerAuth
//	@Router			/sync/config [get]
func (h *Handler) SyncConfig(w http.ResponseWriter, _ *http.Request) {
	if !h.syncAvailable(w) {
		return
	}
	writeJSON(w, http.StatusOK, SyncConfigResponse{
		PublicConfig: h.sync.Config(),
		Running:      h.sync.Running(),
	})
}

// SyncConnect handles POST /api/sync/connect.
//
//	@Summary		Connect the notes directory to a remote
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		gitsync.ConnectRequest	true	"Remote settings"
//	@Success		200		{object}	gitsync.SetupResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync/connect [post]
func (h *Handler) SyncConnect(w http.ResponseWriter, r *http.Request) {
	if !h.syncAvailable(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req gitsync.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	writeJSON(w, http.StatusOK, h.sync.Connect(r.Context(), req))
}

// SyncRun handles POST /api/sync/run.
//
//	@Summary		Run a sync now
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	gitsync.RunResult
//	@Security		BearerAuth
//	@Router			/sync/run [post]
func (h *Handler) SyncRun(w http.ResponseWriter, r *http.Request) {
	if !h.syncAvailable(w) {
		return
	}
	// A client disconnect must not abort a rebase halfway.
	ctx := context.WithoutCancel(r.Context())
	writeJSON(w, http.StatusOK, h.sync.Run(ctx, gitsync.ReasonManual))
}

// SyncSettings handles PATCH /api/sync/settings.
//
//	@Summary		Change sync settings
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		gitsync.SettingsPatch	true	"Fields to change"
//	@Success		200		{object}	gitsync.OpResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync/settings [patch]
func (h *Handler) SyncSettings(w http.ResponseWriter, r *http.Request) {
	if !h.syncAvailable(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var p gitsync.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	writeJSON(w, http.StatusOK, h.sync.UpdateSettings(p))
}

// SyncClearCredential handles DELETE /api/sync/credential.
//
//	@Summary		Forget the stored access token
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	gitsync.OpResult
//	@Security		BearerAuth
//	@Router			/sync/credential [delete]
func (h *Handler) SyncClearCredential(w http.ResponseWriter, _ *http.Request) {
	if !h.syncAvailable(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.sync.ClearCredential())
}
