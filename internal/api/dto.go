package api

import (
	"github.com/starford/markpad/internal/docservice"
	"github.com/starford/markpad/internal/models"
)

// TabView is the full tab response type (aliased from the domain layer).
type TabView = docservice.TabView

// OpenTabRequest is the optional request body for opening a tab.
type OpenTabRequest struct {
	ID  string `json:"id,omitempty" example:"1b4e28ba-2fa1-11d2-883f-0016d3cca427"`
	URL string `json:"url,omitempty" example:"http://localhost:8080/#share:..."`
}

// TabListResponse wraps the open tabs.
type TabListResponse struct {
	Tabs []*TabView `json:"tabs" validate:"required"`
}

// UpdateContentRequest is the request body for replacing a tab buffer.
type UpdateContentRequest struct {
	Content string `json:"content" example:"# Updated\nContent"`
}

// ContentRequest carries a buffer.
type ContentRequest struct {
	Content string `json:"content" example:"# Hello\nWorld"`
}

// RestoreRequest names the snapshot to restore.
type RestoreRequest struct {
	StorageKey string `json:"storageKey" example:"markdown-snapshot-1760000000000000000-1a2b3c4d" validate:"required"`
}

// RenameRequest is the request body for retitling a snapshot.
type RenameRequest struct {
	Title string `json:"title" example:"Meeting notes"`
}

// HistoryListResponse wraps a page of the catalog.
type HistoryListResponse struct {
	Entries []models.SessionMetadata `json:"entries" validate:"required"`
	Total   int                      `json:"total" example:"42" validate:"required"`
}

// HistorySearchResponse wraps ranked catalog entries.
type HistorySearchResponse struct {
	Results []models.SessionMetadata `json:"results" validate:"required"`
}

// PruneResponse reports how many orphaned entries and payloads were dropped.
type PruneResponse struct {
	Pruned int `json:"pruned" example:"2"`
	Swept  int `json:"swept" example:"1"`
}

// ShareLinkResponse carries a share link.
type ShareLinkResponse struct {
	URL string `json:"url" example:"http://localhost:8080/#share:..." validate:"required"`
}

// RenderResponse carries rendered HTML.
type RenderResponse struct {
	HTML string `json:"html" validate:"required"`
}

// ExportRequest selects the export format.
type ExportRequest struct {
	Format string `json:"format" example:"html" enums:"markdown,html"`
}

// ExportListResponse wraps the exported files.
type ExportListResponse struct {
	Files []models.ExportFile `json:"files" validate:"required"`
}
