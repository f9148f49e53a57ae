package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adscope/adscope/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Workspaces ---

func (s *PostgresStore) GetDefaultWorkspace(ctx context.Context) (*models.Workspace, error) {
	var w models.Workspace
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM workspaces WHERE name = 'default' LIMIT 1`,
	).Scan(&w.ID, &w.Name, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default workspace: %w", err)
	}
	return &w, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workspace_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, workspace_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.WorkspaceID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, workspaceID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workspace_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE workspace_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.WorkspaceID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Competitors ---

func (s *PostgresStore) CreateCompetitor(ctx context.Context, c *models.Competitor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO competitors (id, workspace_id, page_id, name, tracked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.WorkspaceID, c.PageID, c.Name, c.Tracked, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create competitor: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCompetitors(ctx context.Context, workspaceID uuid.UUID, trackedOnly bool) ([]*models.Competitor, error) {
	query := `SELECT id, workspace_id, page_id, name, tracked, last_scraped_at, created_at, updated_at
	          FROM competitors WHERE workspace_id = $1`
	if trackedOnly {
		query += ` AND tracked`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	defer rows.Close()

	var out []*models.Competitor
	for rows.Next() {
		var c models.Competitor
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.PageID, &c.Name, &c.Tracked,
			&c.LastScrapedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan competitor: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCompetitor(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID) (*models.Competitor, error) {
	var c models.Competitor
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, page_id, name, tracked, last_scraped_at, created_at, updated_at
		 FROM competitors WHERE id = $1 AND workspace_id = $2`, id, workspaceID,
	).Scan(&c.ID, &c.WorkspaceID, &c.PageID, &c.Name, &c.Tracked,
		&c.LastScrapedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get competitor: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) SetCompetitorTracked(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID, tracked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE competitors SET tracked = $3, updated_at = NOW() WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID, tracked)
	if err != nil {
		return fmt.Errorf("set competitor tracked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchCompetitorScraped(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE competitors SET last_scraped_at = $3, updated_at = NOW() WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID, at)
	if err != nil {
		return fmt.Errorf("touch competitor scraped: %w", err)
	}
	return nil
}

// --- Ads ---

func (s *PostgresStore) UpsertAd(ctx context.Context, ad *models.Ad) (*models.Ad, error) {
	var result models.Ad
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ads (id, workspace_id, competitor_id, ad_archive_id, media_type, headline, body_text,
		                  media_url, landing_url, active, impressions, started_at, ended_at, analyzed, score,
		                  created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (workspace_id, ad_archive_id) DO UPDATE SET
		   active = EXCLUDED.active,
		   impressions = GREATEST(ads.impressions, EXCLUDED.impressions),
		   ended_at = EXCLUDED.ended_at,
		   media_url = EXCLUDED.media_url,
		   updated_at = NOW()
		 RETURNING id, workspace_id, competitor_id, ad_archive_id, media_type, headline, body_text,
		           media_url, landing_url, active, impressions, started_at, ended_at, analyzed, score,
		           created_at, updated_at`,
		ad.ID, ad.WorkspaceID, ad.CompetitorID, ad.AdArchiveID, ad.MediaType, ad.Headline, ad.BodyText,
		ad.MediaURL, ad.LandingURL, ad.Active, ad.Impressions, ad.StartedAt, ad.EndedAt, ad.Analyzed, ad.Score,
		ad.CreatedAt, ad.UpdatedAt,
	).Scan(&result.ID, &result.WorkspaceID, &result.CompetitorID, &result.AdArchiveID, &result.MediaType,
		&result.Headline, &result.BodyText, &result.MediaURL, &result.LandingURL, &result.Active,
		&result.Impressions, &result.StartedAt, &result.EndedAt, &result.Analyzed, &result.Score,
		&result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert ad: %w", err)
	}
	return &result, nil
}

func (s *PostgresStore) ListAds(ctx context.Context, filter AdFilter) ([]*models.Ad, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"workspace_id = $1"}
	args := []any{filter.WorkspaceID}
	argIdx := 2

	if filter.CompetitorID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("competitor_id = $%d", argIdx))
		args = append(args, filter.CompetitorID)
		argIdx++
	}
	if filter.MediaType != "" {
		conditions = append(conditions, fmt.Sprintf("media_type = $%d", argIdx))
		args = append(args, filter.MediaType)
		argIdx++
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active")
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM ads WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ads: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT id, workspace_id, competitor_id, ad_archive_id, media_type, headline, body_text,
		        media_url, landing_url, active, impressions, started_at, ended_at, analyzed, score,
		        created_at, updated_at
		 FROM ads WHERE %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ads: %w", err)
	}
	defer rows.Close()

	var ads []*models.Ad
	for rows.Next() {
		var a models.Ad
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.CompetitorID, &a.AdArchiveID, &a.MediaType,
			&a.Headline, &a.BodyText, &a.MediaURL, &a.LandingURL, &a.Active,
			&a.Impressions, &a.StartedAt, &a.EndedAt, &a.Analyzed, &a.Score,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan ad: %w", err)
		}
		ads = append(ads, &a)
	}
	return ads, total, rows.Err()
}

func (s *PostgresStore) GetAdByArchiveID(ctx context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.Ad, error) {
	var a models.Ad
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, competitor_id, ad_archive_id, media_type, headline, body_text,
		        media_url, landing_url, active, impressions, started_at, ended_at, analyzed, score,
		        created_at, updated_at
		 FROM ads WHERE workspace_id = $1 AND ad_archive_id = $2`, workspaceID, adArchiveID,
	).Scan(&a.ID, &a.WorkspaceID, &a.CompetitorID, &a.AdArchiveID, &a.MediaType,
		&a.Headline, &a.BodyText, &a.MediaURL, &a.LandingURL, &a.Active,
		&a.Impressions, &a.StartedAt, &a.EndedAt, &a.Analyzed, &a.Score,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ad: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) MarkAdAnalyzed(ctx context.Context, workspaceID uuid.UUID, adArchiveID string, score float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ads SET analyzed = TRUE, score = $3, updated_at = NOW()
		 WHERE workspace_id = $1 AND ad_archive_id = $2`, workspaceID, adArchiveID, score)
	if err != nil {
		return fmt.Errorf("mark ad analyzed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Scrape Runs ---

func (s *PostgresStore) CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_runs (id, workspace_id, competitor_id, task_id, total_ads, new_ads, updated_ads, active_ads, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.WorkspaceID, run.CompetitorID, run.TaskID, run.TotalAds, run.NewAds,
		run.UpdatedAds, run.ActiveAds, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("create scrape run: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestScrapeRun(ctx context.Context, workspaceID uuid.UUID, competitorID uuid.UUID) (*models.ScrapeRun, error) {
	var r models.ScrapeRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, competitor_id, task_id, total_ads, new_ads, updated_ads, active_ads, completed_at
		 FROM scrape_runs WHERE workspace_id = $1 AND competitor_id = $2
		 ORDER BY completed_at DESC LIMIT 1`, workspaceID, competitorID,
	).Scan(&r.ID, &r.WorkspaceID, &r.CompetitorID, &r.TaskID, &r.TotalAds, &r.NewAds,
		&r.UpdatedAds, &r.ActiveAds, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest scrape run: %w", err)
	}
	return &r, nil
}

// --- Ad Analyses ---

func (s *PostgresStore) CreateAdAnalysis(ctx context.Context, rec *models.AdAnalysisRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ad_analyses (id, workspace_id, ad_archive_id, task_id, transcript, hook_score,
		                          overall_score, summary, recommendations, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.WorkspaceID, rec.AdArchiveID, rec.TaskID, rec.Transcript, rec.HookScore,
		rec.OverallScore, rec.Summary, rec.Recommendations, rec.Model, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create ad analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAdAnalysis(ctx context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.AdAnalysisRecord, error) {
	var r models.AdAnalysisRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, ad_archive_id, task_id, transcript, hook_score, overall_score,
		        summary, recommendations, model, created_at
		 FROM ad_analyses WHERE workspace_id = $1 AND ad_archive_id = $2
		 ORDER BY created_at DESC LIMIT 1`, workspaceID, adArchiveID,
	).Scan(&r.ID, &r.WorkspaceID, &r.AdArchiveID, &r.TaskID, &r.Transcript, &r.HookScore,
		&r.OverallScore, &r.Summary, &r.Recommendations, &r.Model, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ad analysis: %w", err)
	}
	return &r, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
