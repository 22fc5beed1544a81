package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/markpad/internal/checksum"
	"github.com/starford/markpad/internal/docservice"
	"github.com/starford/markpad/internal/state"
)

// Handler holds API route handlers.
type Handler struct {
	svc *docservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *docservice.Service) *Handler {
	return &Handler{svc: svc}
}

func tabID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// ListTabs handles GET /api/tabs.
//
//	@Summary		List open tabs
//	@Tags			tabs
//	@Produce		json
//	@Success		200	{object}	TabListResponse
//	@Security		BearerAuth
//	@Router			/tabs [get]
func (h *Handler) ListTabs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TabListResponse{Tabs: h.svc.ListTabs(r.Context())})
}

// OpenTab handles POST /api/tabs.
//
//	@Summary		Open a tab, or reload an open one
//	@Tags			tabs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenTabRequest	false	"Tab id and page URL"
//	@Success		201		{object}	TabView
//	@Security		BearerAuth
//	@Router			/tabs [post]
func (h *Handler) OpenTab(w http.ResponseWriter, r *http.Request) {
	var req OpenTabRequest
	if r.ContentLength != 0 && !readJSON(w, r, &req) {
		return
	}
	tab, err := h.svc.OpenTab(r.Context(), req.ID, req.URL)
	if err != nil {
		writeError(w, "open tab", err)
		return
	}
	writeJSON(w, http.StatusCreated, tab)
}

// GetTab handles GET /api/tabs/{id}.
//
//	@Summary		Get a tab
//	@Tags			tabs
//	@Produce		json
//	@Param			id	path		string	true	"Tab id"
//	@Success		200	{object}	TabView
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tabs/{id} [get]
func (h *Handler) GetTab(w http.ResponseWriter, r *http.Request) {
	tab, err := h.svc.GetTab(r.Context(), tabID(r))
	if err != nil {
		writeError(w, "get tab", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(tab.Checksum))
	writeJSON(w, http.StatusOK, tab)
}

// CloseTab handles DELETE /api/tabs/{id}.
func (h *Handler) CloseTab(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CloseTab(r.Context(), tabID(r)); err != nil {
		writeError(w, "close tab", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateContent handles PUT /api/tabs/{id}/content.
//
//	@Summary		Replace the tab buffer
//	@Tags			tabs
//	@Accept			json
//	@Produce		json
//	@Param			id			path	string					true	"Tab id"
//	@Param			If-Match	header	string					false	"SHA-256 of the current buffer"
//	@Param			body		body	UpdateContentRequest	true	"New buffer"
//	@Success		200			{object}	TabView
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tabs/{id}/content [put]
func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	var req UpdateContentRequest
	if !readJSON(w, r, &req) {
		return
	}
	ifMatch := checksum.FromETag(r.Header.Get("If-Match"))

	tab, err := h.svc.UpdateContent(r.Context(), tabID(r), req.Content, ifMatch)
	if err != nil {
		writeError(w, "update content", err, "tab_id", tabID(r))
		return
	}
	w.Header().Set("ETag", checksum.ETag(tab.Checksum))
	writeJSON(w, http.StatusOK, tab)
}

// ResetContent handles POST /api/tabs/{id}/reset.
func (h *Handler) ResetContent(w http.ResponseWriter, r *http.Request) {
	tab, err := h.svc.ResetContent(r.Context(), tabID(r))
	if err != nil {
		writeError(w, "reset content", err)
		return
	}
	writeJSON(w, http.StatusOK, tab)
}

// UpdateSettings handles PATCH /api/tabs/{id}/settings.
//
//	@Summary		Change editor settings of a tab
//	@Tags			tabs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string						true	"Tab id"
//	@Param			body	body		docservice.SettingsPatch	true	"Fields to change"
//	@Success		200		{object}	TabView
//	@Security		BearerAuth
//	@Router			/tabs/{id}/settings [patch]
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch docservice.SettingsPatch
	if !readJSON(w, r, &patch) {
		return
	}
	tab, err := h.svc.UpdateSettings(r.Context(), tabID(r), patch)
	if err != nil {
		writeError(w, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, tab)
}

// TogglePanel handles POST /api/tabs/{id}/panels/{panel}/toggle.
func (h *Handler) TogglePanel(w http.ResponseWriter, r *http.Request) {
	panel := state.Panel(chi.URLParam(r, "panel"))
	if panel != state.PanelEditor && panel != state.PanelPreview {
		writeJSON(w, http.StatusBadRequest, errorBody("panel must be editor or preview"))
		return
	}
	tab, err := h.svc.TogglePanel(r.Context(), tabID(r), panel)
	if err != nil {
		writeError(w, "toggle panel", err)
		return
	}
	writeJSON(w, http.StatusOK, tab)
}

// SaveTab handles POST /api/tabs/{id}/save.
//
//	@Summary		Snapshot the tab buffer into history
//	@Tags			tabs
//	@Produce		json
//	@Param			id	path		string	true	"Tab id"
//	@Success		201	{object}	models.SessionMetadata
//	@Failure		507	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tabs/{id}/save [post]
func (h *Handler) SaveTab(w http.ResponseWriter, r *http.Request) {
	meta, err := h.svc.SaveTab(r.Context(), tabID(r))
	if err != nil {
		writeError(w, "save tab", err, "tab_id", tabID(r))
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

// RestoreInTab handles POST /api/tabs/{id}/restore.
func (h *Handler) RestoreInTab(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.StorageKey == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("storageKey is required"))
		return
	}
	meta, err := h.svc.RestoreInTab(r.Context(), tabID(r), req.StorageKey)
	if err != nil {
		writeError(w, "restore", err, "storage_key", req.StorageKey)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

// ShareTab handles POST /api/tabs/{id}/share.
func (h *Handler) ShareTab(w http.ResponseWriter, r *http.Request) {
	link, err := h.svc.ShareTab(r.Context(), tabID(r))
	if err != nil {
		writeError(w, "share tab", err)
		return
	}
	writeJSON(w, http.StatusOK, ShareLinkResponse{URL: link})
}

// ListHistory handles GET /api/history.
//
//	@Summary		List snapshots, newest first
//	@Tags			history
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	HistoryListResponse
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries, total := h.svc.ListHistory(r.Context(), queryInt(r, "limit"), queryInt(r, "offset"))
	writeJSON(w, http.StatusOK, HistoryListResponse{Entries: entries, Total: total})
}

// SearchHistory handles GET /api/history/search.
func (h *Handler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	writeJSON(w, http.StatusOK, HistorySearchResponse{
		Results: h.svc.SearchHistory(r.Context(), q, queryInt(r, "limit")),
	})
}

// GetSnapshot handles GET /api/history/{key}.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	detail, err := h.svc.GetSnapshot(r.Context(), key)
	if err != nil {
		writeError(w, "get snapshot", err, "storage_key", key)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// RenameSnapshot handles PATCH /api/history/{key}.
func (h *Handler) RenameSnapshot(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !readJSON(w, r, &req) {
		return
	}
	key := chi.URLParam(r, "key")
	meta, err := h.svc.RenameSnapshot(r.Context(), key, req.Title)
	if err != nil {
		writeError(w, "rename snapshot", err, "storage_key", key)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// DeleteSnapshot handles DELETE /api/history/{key}.
func (h *Handler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.svc.DeleteSnapshot(r.Context(), key); err != nil {
		writeError(w, "delete snapshot", err, "storage_key", key)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearHistory handles DELETE /api/history.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearHistory(r.Context()); err != nil {
		writeError(w, "clear history", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PruneHistory handles POST /api/history/prune.
func (h *Handler) PruneHistory(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PruneHistory(r.Context())
	if err != nil {
		writeError(w, "prune history", err)
		return
	}
	writeJSON(w, http.StatusOK, PruneResponse{Pruned: res.Entries, Swept: res.Payloads})
}

// BuildShareLink handles POST /api/share.
//
//	@Summary		Encode a buffer into a share link
//	@Tags			share
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ContentRequest	true	"Buffer"
//	@Success		200		{object}	ShareLinkResponse
//	@Failure		413		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/share [post]
func (h *Handler) BuildShareLink(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !readJSON(w, r, &req) {
		return
	}
	link, err := h.svc.BuildShareLink(r.Context(), req.Content)
	if err != nil {
		writeError(w, "build share link", err)
		return
	}
	writeJSON(w, http.StatusOK, ShareLinkResponse{URL: link})
}

// OpenShareLink handles POST /api/share/open.
func (h *Handler) OpenShareLink(w http.ResponseWriter, r *http.Request) {
	var req ShareLinkResponse
	if !readJSON(w, r, &req) {
		return
	}
	text, err := h.svc.OpenShareLink(r.Context(), req.URL)
	if err != nil {
		writeError(w, "open share link", err)
		return
	}
	writeJSON(w, http.StatusOK, ContentRequest{Content: text})
}

// Render handles POST /api/render.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !readJSON(w, r, &req) {
		return
	}
	html, err := h.svc.Render(r.Context(), req.Content)
	if err != nil {
		writeError(w, "render", err)
		return
	}
	writeJSON(w, http.StatusOK, RenderResponse{HTML: html})
}
