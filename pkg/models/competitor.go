package models

import (
	"time"

	"github.com/google/uuid"
)

// Competitor is a tracked advertiser page in the public ad library.
// Tracked competitors are re-scraped on the refresh schedule.
type Competitor struct {
	ID            uuid.UUID  `db:"id"              json:"id"`
	WorkspaceID   uuid.UUID  `db:"workspace_id"    json:"workspace_id"`
	PageID        string     `db:"page_id"         json:"page_id"`
	Name          string     `db:"name"            json:"name"`
	Tracked       bool       `db:"tracked"         json:"tracked"`
	LastScrapedAt *time.Time `db:"last_scraped_at" json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"      json:"updated_at"`
}

// ScrapeRun is the durable record of one completed scrape job for a
// competitor, keyed by the competitor rather than the ephemeral task id.
type ScrapeRun struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	WorkspaceID  uuid.UUID `db:"workspace_id"  json:"workspace_id"`
	CompetitorID uuid.UUID `db:"competitor_id" json:"competitor_id"`
	TaskID       string    `db:"task_id"       json:"task_id"`
	TotalAds     int       `db:"total_ads"     json:"total_ads"`
	NewAds       int       `db:"new_ads"       json:"new_ads"`
	UpdatedAds   int       `db:"updated_ads"   json:"updated_ads"`
	ActiveAds    int       `db:"active_ads"    json:"active_ads"`
	CompletedAt  time.Time `db:"completed_at"  json:"completed_at"`
}
