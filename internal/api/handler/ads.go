package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adscope/adscope/internal/ads"
	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/api/response"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

// AdStore is the slice of the durable store the ad handlers use.
type AdStore interface {
	ListAds(ctx context.Context, filter store.AdFilter) ([]*models.Ad, int, error)
	GetAdAnalysis(ctx context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.AdAnalysisRecord, error)
}

// NewListAdsHandler returns the handler for GET /api/v1/ads. Pagination
// happens in the database; the media/score/search refinements apply to the
// fetched page so the dashboard can tweak them without a new query shape.
func NewListAdsHandler(st AdStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID, ok := mw.GetWorkspaceID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing workspace", nil)
			return
		}

		q := r.URL.Query()

		filter := store.AdFilter{
			WorkspaceID: workspaceID,
			ActiveOnly:  q.Get("active_only") == "true",
			Page:        intParam(q.Get("page"), 1),
			Limit:       intParam(q.Get("limit"), 20),
		}
		if raw := q.Get("competitor_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "competitor_id must be a UUID", nil)
				return
			}
			filter.CompetitorID = id
		}
		if raw := q.Get("since"); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "since must be an RFC 3339 timestamp", nil)
				return
			}
			filter.Since = since
		}

		mediaType := q.Get("media_type")
		switch mediaType {
		case "", models.MediaImage, models.MediaVideo, models.MediaCarousel:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"media_type must be one of image, video, carousel", nil)
			return
		}

		sortOrder := q.Get("sort")
		if !ads.ValidSort(sortOrder) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"sort must be one of newest, score, longevity", nil)
			return
		}

		page, total, err := st.ListAds(r.Context(), filter)
		if err != nil {
			serviceError(w, err)
			return
		}

		refined := ads.Refine(page, ads.Filter{
			MediaType:      mediaType,
			AnalyzedOnly:   q.Get("analyzed_only") == "true",
			MinImpressions: int64(intParam(q.Get("min_impressions"), 0)),
			MinScore:       floatParam(q.Get("min_score"), 0),
			Search:         q.Get("q"),
			Sort:           sortOrder,
		}, time.Now().UTC())

		response.Collection(w, refined, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewGetAdAnalysisHandler returns the handler for GET /api/v1/ads/{adArchiveID}/analysis.
// This is the durable copy keyed by the ad, not a live task snapshot.
func NewGetAdAnalysisHandler(st AdStore) http.HandlerFunc {
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

		analysis, err := st.GetAdAnalysis(r.Context(), workspaceID, adArchiveID)
		if err != nil {
			serviceError(w, err)
			return
		}

		response.JSON(w, analysis)
	}
}

func intParam(raw string, defaultVal int) int {
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}

func floatParam(raw string, defaultVal float64) float64 {
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
