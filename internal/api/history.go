package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DylanDDeng/notely-sub000/internal/history"
)

// historyParams reads the note path from ?path= and the version id from
// the route. Writes a 400 and returns ok=false when path is missing.
func historyParams(w http.ResponseWriter, r *http.Request) (path, id string, ok bool) {
	path = r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'path' is required"))
		return "", "", false
	}
	return path, chi.URLParam(r, "id"), true
}

// ListHistory handles GET /api/history.
//
//	@Summary		List versions of a note, newest first
//	@Tags			history
//	@Produce		json
//	@Param			path	query		string	true	"Note path"
//	@Param			limit	query		int		false	"Max entries (1-200)"
//	@Success		200		{object}	HistoryListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	path, _, ok := historyParams(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.ListHistory(r.Context(), path, limit)
	if err != nil {
		writeError(w, err, "list history", slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, HistoryListResponse{Path: path, Entries: entries})
}

// GetVersion handles GET /api/history/{id}.
//
//	@Summary		Read the content of one version
//	@Tags			history
//	@Produce		json
//	@Param			id		path		string	true	"Version id"
//	@Param			path	query		string	true	"Note path"
//	@Success		200		{object}	VersionContentResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history/{id} [get]
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	path, id, ok := historyParams(w, r)
	if !ok {
		return
	}
	data, err := h.svc.ReadVersion(r.Context(), path, id)
	if err != nil {
		writeError(w, err, "read version", slog.String("path", path), slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, VersionContentResponse{Path: path, ID: id, Content: string(data)})
}

// UpdateVersion handles PATCH /api/history/{id}.
//
//	@Summary		Label or pin a version
//	@Tags			history
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Version id"
//	@Param			path	query		string					true	"Note path"
//	@Param			body	body		UpdateVersionRequest	true	"Fields to change"
//	@Success		200		{object}	history.Entry
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history/{id} [patch]
func (h *Handler) UpdateVersion(w http.ResponseWriter, r *http.Request) {
	path, id, ok := historyParams(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req UpdateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	entry, err := h.svc.UpdateVersionMeta(r.Context(), path, id, history.MetaUpdate{
		Label:  req.Label,
		Pinned: req.Pinned,
	})
	if err != nil {
		writeError(w, err, "update version", slog.String("path", path), slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// RestoreVersion handles POST /api/history/{id}/restore.
//
//	@Summary		Write a version back to the note
//	@Tags			history
//	@Produce		json
//	@Param			id		path		string	true	"Version id"
//	@Param			path	query		string	true	"Note path"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history/{id}/restore [post]
func (h *Handler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	path, id, ok := historyParams(w, r)
	if !ok {
		return
	}
	note, err := h.svc.RestoreVersion(r.Context(), path, id)
	if err != nil {
		writeError(w, err, "restore version", slog.String("path", path), slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, note)
}
