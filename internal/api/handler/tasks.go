package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/api/response"
	"github.com/adscope/adscope/internal/engine"
	"github.com/adscope/adscope/internal/track"
	"github.com/adscope/adscope/pkg/models"
)

// TaskService is the slice of the tracking service the task handlers use.
type TaskService interface {
	StartScrape(ctx context.Context, workspaceID, competitorID uuid.UUID, opts track.ScrapeOptions) (*models.StartResponse, error)
	StartAdAnalysis(ctx context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.StartResponse, error)
	StartAdSetAnalysis(ctx context.Context, workspaceID, competitorID uuid.UUID, maxAds int) (*models.StartResponse, error)
	StartVideoGeneration(ctx context.Context, workspaceID uuid.UUID, req engine.VideoRequest) (*models.StartResponse, error)
	TaskStatus(ctx context.Context, taskID string) (*models.Task, error)
	CancelTask(ctx context.Context, taskID string) error
	History(ctx context.Context, workspaceID uuid.UUID) ([]models.SessionRecord, error)
	RemoveHistory(ctx context.Context, workspaceID uuid.UUID, taskID string) error
	ClearHistory(ctx context.Context, workspaceID uuid.UUID) error
}

// NewStartScrapeHandler returns the handler for POST /api/v1/competitors/{competitorID}/scrapes.
// The job is accepted, not done: the reply carries the task id to watch.
func NewStartScrapeHandler(svc TaskService) http.HandlerFunc {
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

		// Body is optional; all fields have engine-side defaults.
		var req struct {
			CountryCode string `json:"country_code"`
			ActiveOnly  bool   `json:"active_only"`
			MaxAds      int    `json:"max_ads"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.MaxAds < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "max_ads must not be negative", nil)
			return
		}

		resp, err := svc.StartScrape(r.Context(), workspaceID, competitorID, track.ScrapeOptions{
			CountryCode: req.CountryCode,
			ActiveOnly:  req.ActiveOnly,
			MaxAds:      req.MaxAds,
		})
		if err != nil {
			serviceError(w, err)
			return
		}

		response.Accepted(w, resp)
	}
}

// NewStartAdAnalysisHandler returns the handler for POST /api/v1/ads/{adArchiveID}/analysis.
func NewStartAdAnalysisHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		adArchiveID := chi.URLParam(r, "adArchiveID")
		if adArchiveID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "adArchiveID is required", nil)
			return
		}

		resp, err := svc.StartAdAnalysis(r.Context(), workspaceID, adArchiveID)
		if err != nil {
			serviceError(w, err)
			return
		}

		response.Accepted(w, resp)
	}
}

// NewStartAdSetAnalysisHandler returns the handler for POST /api/v1/competitors/{competitorID}/adset-analysis.
func NewStartAdSetAnalysisHandler(svc TaskService) http.HandlerFunc {
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
			MaxAds int `json:"max_ads"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		resp, err := svc.StartAdSetAnalysis(r.Context(), workspaceID, competitorID, req.MaxAds)
		if err != nil {
			serviceError(w, err)
			return
		}

		response.Accepted(w, resp)
	}
}

// NewStartVideoHandler returns the handler for POST /api/v1/videos.
func NewStartVideoHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		var req struct {
			SourceAdID string `json:"source_ad_id"`
			Prompt     string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		resp, err := svc.StartVideoGeneration(r.Context(), workspaceID, engine.VideoRequest{
			SourceAdID: req.SourceAdID,
			Prompt:     req.Prompt,
		})
		if err != nil {
			serviceError(w, err)
			return
		}

		response.Accepted(w, resp)
	}
}

// NewTaskStatusHandler returns the handler for GET /api/v1/tasks/{taskID}.
// It proxies the engine's live snapshot without touching history.
func NewTaskStatusHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		if taskID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "taskID is required", nil)
			return
		}

		task, err := svc.TaskStatus(r.Context(), taskID)
		if err != nil {
			serviceError(w, err)
			return
		}

		response.JSON(w, task)
	}
}

// NewCancelTaskHandler returns the handler for DELETE /api/v1/tasks/{taskID}.
func NewCancelTaskHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		if taskID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "taskID is required", nil)
			return
		}

		if err := svc.CancelTask(r.Context(), taskID); err != nil {
			serviceError(w, err)
			return
		}

		response.JSON(w, map[string]string{"task_id": taskID, "status": "cancel requested"})
	}
}

// NewHistoryHandler returns the handler for GET /api/v1/history.
func NewHistoryHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		recs, err := svc.History(r.Context(), workspaceID)
		if err != nil {
			serviceError(w, err)
			return
		}

		response.JSON(w, recs)
	}
}

// NewRemoveHistoryHandler returns the handler for DELETE /api/v1/history/{taskID}.
func NewRemoveHistoryHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		taskID := chi.URLParam(r, "taskID")
		if taskID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "taskID is required", nil)
			return
		}

		if err := svc.RemoveHistory(r.Context(), workspaceID, taskID); err != nil {
			serviceError(w, err)
			return
		}

		response.NoContent(w)
	}
}

// NewClearHistoryHandler returns the handler for DELETE /api/v1/history.
func NewClearHistoryHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		if err := svc.ClearHistory(r.Context(), workspaceID); err != nil {
			serviceError(w, err)
			return
		}

		response.NoContent(w)
	}
}
