package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	StartScrapeHandler        http.HandlerFunc
	StartAdAnalysisHandler    http.HandlerFunc
	StartAdSetAnalysisHandler http.HandlerFunc
	StartVideoHandler         http.HandlerFunc
	TaskStatusHandler         http.HandlerFunc
	CancelTaskHandler         http.HandlerFunc

	HistoryHandler       http.HandlerFunc
	RemoveHistoryHandler http.HandlerFunc
	ClearHistoryHandler  http.HandlerFunc

	ListAdsHandler       http.HandlerFunc
	GetAdAnalysisHandler http.HandlerFunc

	CreateCompetitorHandler http.HandlerFunc
	ListCompetitorsHandler  http.HandlerFunc
	GetCompetitorHandler    http.HandlerFunc
	SetTrackedHandler       http.HandlerFunc
	LatestScrapeRunHandler  http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// Competitors and their jobs
		r.Post("/api/v1/competitors", orNotImplemented(deps.CreateCompetitorHandler))
		r.Get("/api/v1/competitors", orNotImplemented(deps.ListCompetitorsHandler))
		r.Get("/api/v1/competitors/{competitorID}", orNotImplemented(deps.GetCompetitorHandler))
		r.Patch("/api/v1/competitors/{competitorID}", orNotImplemented(deps.SetTrackedHandler))
		r.Post("/api/v1/competitors/{competitorID}/scrapes", orNotImplemented(deps.StartScrapeHandler))
		r.Post("/api/v1/competitors/{competitorID}/adset-analysis", orNotImplemented(deps.StartAdSetAnalysisHandler))
		r.Get("/api/v1/competitors/{competitorID}/scrape-runs/latest", orNotImplemented(deps.LatestScrapeRunHandler))

		// Ad corpus and durable analyses
		r.Get("/api/v1/ads", orNotImplemented(deps.ListAdsHandler))
		r.Post("/api/v1/ads/{adArchiveID}/analysis", orNotImplemented(deps.StartAdAnalysisHandler))
		r.Get("/api/v1/ads/{adArchiveID}/analysis", orNotImplemented(deps.GetAdAnalysisHandler))

		// Video remix jobs
		r.Post("/api/v1/videos", orNotImplemented(deps.StartVideoHandler))

		// Live task snapshots
		r.Get("/api/v1/tasks/{taskID}", orNotImplemented(deps.TaskStatusHandler))
		r.Delete("/api/v1/tasks/{taskID}", orNotImplemented(deps.CancelTaskHandler))

		// Session history
		r.Get("/api/v1/history", orNotImplemented(deps.HistoryHandler))
		r.Delete("/api/v1/history/{taskID}", orNotImplemented(deps.RemoveHistoryHandler))
		r.Delete("/api/v1/history", orNotImplemented(deps.ClearHistoryHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
