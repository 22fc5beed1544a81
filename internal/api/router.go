package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/starford/markpad/internal/docservice"
)

// Options configure the API router.
type Options struct {
	// AuthEnabled controls whether Bearer token auth is enforced.
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
	// CORSOrigins lists the browser origins (e.g. a UI dev server) allowed
	// to call the API. Empty disables CORS headers.
	CORSOrigins []string
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc *docservice.Service, opts Options) chi.Router {
	h := NewHandler(svc)
	eh := NewExportHandler(svc)

	r := chi.NewRouter()
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "If-Match"},
			ExposedHeaders: []string{"ETag"},
			MaxAge:         300,
		}))
	}
	r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))

	// Tabs.
	r.Get("/tabs", h.ListTabs)
	r.Post("/tabs", h.OpenTab)
	r.Route("/tabs/{id}", func(r chi.Router) {
		r.Get("/", h.GetTab)
		r.Delete("/", h.CloseTab)
		r.Put("/content", h.UpdateContent)
		r.Post("/reset", h.ResetContent)
		r.Patch("/settings", h.UpdateSettings)
		r.Post("/panels/{panel}/toggle", h.TogglePanel)
		r.Post("/save", h.SaveTab)
		r.Post("/restore", h.RestoreInTab)
		r.Post("/share", h.ShareTab)
		r.Post("/export", eh.ExportTab)
	})

	// History.
	r.Get("/history", h.ListHistory)
	r.Delete("/history", h.ClearHistory)
	r.Get("/history/search", h.SearchHistory)
	r.Post("/history/prune", h.PruneHistory)
	r.Get("/history/{key}", h.GetSnapshot)
	r.Patch("/history/{key}", h.RenameSnapshot)
	r.Delete("/history/{key}", h.DeleteSnapshot)

	// Share links and rendering.
	r.Post("/share", h.BuildShareLink)
	r.Post("/share/open", h.OpenShareLink)
	r.Post("/render", h.Render)

	// Exports.
	r.Get("/exports", eh.ListExports)
	r.Get("/exports/{name}", eh.ServeFile)
	r.Delete("/exports/{name}", eh.DeleteFile)

	// SSE endpoint (protected by same auth middleware).
	if opts.Events != nil {
		r.Get("/events", opts.Events.ServeHTTP)
	}

	return r
}
