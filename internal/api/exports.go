package api

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/markpad/internal/docservice"
	"github.com/starford/markpad/internal/export"
)

// ExportHandler writes and serves exported files.
type ExportHandler struct {
	svc *docservice.Service
}

// NewExportHandler creates an export handler.
func NewExportHandler(svc *docservice.Service) *ExportHandler {
	return &ExportHandler{svc: svc}
}

// ExportTab handles POST /api/tabs/{id}/export.
func (h *ExportHandler) ExportTab(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if r.ContentLength != 0 && !readJSON(w, r, &req) {
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		writeError(w, "export", err)
		return
	}
	f, err := h.svc.ExportTab(r.Context(), tabID(r), format)
	if err != nil {
		writeError(w, "export", err, "tab_id", tabID(r))
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// ListExports handles GET /api/exports.
func (h *ExportHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.ListExports(r.Context())
	if err != nil {
		writeError(w, "list exports", err)
		return
	}
	writeJSON(w, http.StatusOK, ExportListResponse{Files: files})
}

// exportName returns the {name} URL parameter when it is a plain file name.
func exportName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	cleaned := filepath.Clean(name)
	if name == "" || cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid file name"))
		return "", false
	}
	return cleaned, true
}

// ServeFile handles GET /api/exports/{name}. Only plain file names are served.
func (h *ExportHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name, ok := exportName(w, r)
	if !ok {
		return
	}
	data, err := h.svc.ReadExport(r.Context(), name)
	if err != nil {
		writeError(w, "serve export", err, "name", name)
		return
	}
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DeleteFile handles DELETE /api/exports/{name}.
func (h *ExportHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	name, ok := exportName(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteExport(r.Context(), name); err != nil {
		writeError(w, "delete export", err, "name", name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
