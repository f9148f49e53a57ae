package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/api/response"
	"github.com/adscope/adscope/pkg/models"
)

// CompetitorStore is the slice of the durable store the competitor
// handlers use.
type CompetitorStore interface {
	CreateCompetitor(ctx context.Context, c *models.Competitor) error
	ListCompetitors(ctx context.Context, workspaceID uuid.UUID, trackedOnly bool) ([]*models.Competitor, error)
	GetCompetitor(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID) (*models.Competitor, error)
	SetCompetitorTracked(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID, tracked bool) error
	LatestScrapeRun(ctx context.Context, workspaceID uuid.UUID, competitorID uuid.UUID) (*models.ScrapeRun, error)
}

// NewCreateCompetitorHandler returns the handler for POST /api/v1/competitors.
func NewCreateCompetitorHandler(st CompetitorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		var req struct {
			PageID  string `json:"page_id"`
			Name    string `json:"name"`
			Tracked bool   `json:"tracked"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		req.PageID = strings.TrimSpace(req.PageID)
		req.Name = strings.TrimSpace(req.Name)
		if req.PageID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page_id is required", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		now := time.Now().UTC()
		competitor := &models.Competitor{
			ID:          uuid.New(),
			WorkspaceID: workspaceID,
			PageID:      req.PageID,
			Name:        req.Name,
			Tracked:     req.Tracked,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := st.CreateCompetitor(r.Context(), competitor); err != nil {
			serviceError(w, err)
			return
		}

		response.Created(w, competitor)
	}
}

// NewListCompetitorsHandler returns the handler for GET /api/v1/competitors.
func NewListCompetitorsHandler(st CompetitorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		trackedOnly := r.URL.Query().Get("tracked") == "true"

		competitors, err := st.ListCompetitors(r.Context(), workspaceID, trackedOnly)
		if err != nil {
			serviceError(w, err)
			return
		}

		response.JSON(w, competitors)
	}
}

// NewGetCompetitorHandler returns the handler for GET /api/v1/competitors/{competitorID}.
func NewGetCompetitorHandler(st CompetitorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		competitorID, err := uuid.Parse(chi.URLParam(r, "competitorID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "competitorID must be a UUID", nil)
			return
		}

		competitor, err := st.GetCompetitor(r.Context(), competitorID, workspaceID)
		if err != nil {
			serviceError(w, err)
			return
		}

		response.JSON(w, competitor)
	}
}

// NewSetTrackedHandler returns the handler for PATCH /api/v1/competitors/{competitorID}.
// Tracked competitors get picked up by the recurring scrape refresh.
func NewSetTrackedHandler(st CompetitorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		competitorID, err := uuid.Parse(chi.URLParam(r, "competitorID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "competitorID must be a UUID", nil)
			return
		}

		var req struct {
			Tracked *bool `json:"tracked"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Tracked == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "tracked is required", nil)
			return
		}

		if err := st.SetCompetitorTracked(r.Context(), competitorID, workspaceID, *req.Tracked); err != nil {
			serviceError(w, err)
			return
		}

		competitor, err := st.GetCompetitor(r.Context(), competitorID, workspaceID)
		if err != nil {
			serviceError(w, err)
			return
		}

		response.JSON(w, competitor)
	}
}

// NewLatestScrapeRunHandler returns the handler for GET /api/v1/competitors/{competitorID}/scrape-runs/latest.
func NewLatestScrapeRunHandler(st CompetitorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		competitorID, err := uuid.Parse(chi.URLParam(r, "competitorID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "competitorID must be a UUID", nil)
			return
		}

		run, err := st.LatestScrapeRun(r.Context(), workspaceID, competitorID)
		if err != nil {
			serviceError(w, err)
			return
		}

		response.JSON(w, run)
	}
}
