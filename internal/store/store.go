package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/adscope/adscope/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultWorkspace(ctx context.Context) (*models.Workspace, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, workspaceID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID) error

	CreateCompetitor(ctx context.Context, c *models.Competitor) error
	ListCompetitors(ctx context.Context, workspaceID uuid.UUID, trackedOnly bool) ([]*models.Competitor, error)
	GetCompetitor(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID) (*models.Competitor, error)
	SetCompetitorTracked(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID, tracked bool) error
	TouchCompetitorScraped(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID, at time.Time) error

	UpsertAd(ctx context.Context, ad *models.Ad) (*models.Ad, error)
	ListAds(ctx context.Context, filter AdFilter) ([]*models.Ad, int, error)
	GetAdByArchiveID(ctx context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.Ad, error)
	MarkAdAnalyzed(ctx context.Context, workspaceID uuid.UUID, adArchiveID string, score float64) error

	CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error
	LatestScrapeRun(ctx context.Context, workspaceID uuid.UUID, competitorID uuid.UUID) (*models.ScrapeRun, error)

	CreateAdAnalysis(ctx context.Context, rec *models.AdAnalysisRecord) error
	GetAdAnalysis(ctx context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.AdAnalysisRecord, error)
}

// AdFilter narrows and pages the ad corpus listing.
type AdFilter struct {
	WorkspaceID  uuid.UUID
	CompetitorID uuid.UUID
	MediaType    string
	ActiveOnly   bool
	Since        time.Time
	Page         int
	Limit        int
}
