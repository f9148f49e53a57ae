package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/adscope/adscope/internal/api/response"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker reports whether the engine accepts work.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health. The engine
// being down degrades the report but does not fail it: browsing the corpus
// and history works without the engine.
func NewHealthHandler(db Pinger, sessions Pinger, eng ReadyChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		components := map[string]string{
			"database": "ok",
			"sessions": "ok",
			"engine":   "ok",
		}
		healthy := true

		if err := db.Ping(ctx); err != nil {
			components["database"] = "unreachable"
			healthy = false
		}
		if err := sessions.Ping(ctx); err != nil {
			components["sessions"] = "unreachable"
			healthy = false
		}
		if err := eng.Ready(ctx); err != nil {
			components["engine"] = "unreachable"
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "A required dependency is down", components)
			return
		}

		status := "ok"
		if components["engine"] != "ok" {
			status = "degraded"
		}

		response.JSON(w, map[string]any{
			"status":     status,
			"components": components,
		})
	}
}
