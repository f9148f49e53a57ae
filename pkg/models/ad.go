// Package models contains shared data models used across the AdScope codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Ad media types as reported by the ad library.
const (
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaCarousel = "carousel"
)

// Ad is a single competitor advertisement captured by a scrape run.
// AdArchiveID is the ad library's own identifier and is the stable
// business key durable results are filed under.
type Ad struct {
	ID           uuid.UUID  `db:"id"             json:"id"`
	WorkspaceID  uuid.UUID  `db:"workspace_id"   json:"workspace_id"`
	CompetitorID uuid.UUID  `db:"competitor_id"  json:"competitor_id"`
	AdArchiveID  string     `db:"ad_archive_id"  json:"ad_archive_id"`
	MediaType    string     `db:"media_type"     json:"media_type"`
	Headline     string     `db:"headline"       json:"headline"`
	BodyText     string     `db:"body_text"      json:"body_text"`
	MediaURL     string     `db:"media_url"      json:"media_url"`
	LandingURL   string     `db:"landing_url"    json:"landing_url"`
	Active       bool       `db:"active"         json:"active"`
	Impressions  int64      `db:"impressions"    json:"impressions"`
	StartedAt    time.Time  `db:"started_at"     json:"started_at"`
	EndedAt      *time.Time `db:"ended_at"       json:"ended_at,omitempty"`
	Analyzed     bool       `db:"analyzed"       json:"analyzed"`
	Score        *float64   `db:"score"          json:"score,omitempty"`
	CreatedAt    time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"     json:"updated_at"`
}

// Longevity is how long the ad has been running. Long-running ads are a
// proxy for creatives that are working for the competitor.
func (a Ad) Longevity(now time.Time) time.Duration {
	end := now
	if a.EndedAt != nil {
		end = *a.EndedAt
	}
	if end.Before(a.StartedAt) {
		return 0
	}
	return end.Sub(a.StartedAt)
}
