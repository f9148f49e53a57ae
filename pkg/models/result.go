package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind is returned when a result payload arrives for a task kind
// the decoder does not recognize.
var ErrUnknownKind = errors.New("unknown task kind")

// ScrapeStats summarizes a completed competitor-scrape job.
type ScrapeStats struct {
	CompetitorID string `json:"competitor_id"`
	PageName     string `json:"page_name,omitempty"`
	TotalAds     int    `json:"total_ads"`
	NewAds       int    `json:"new_ads"`
	UpdatedAds   int    `json:"updated_ads"`
	ActiveAds    int    `json:"active_ads"`
}

// AdAnalysis is the engine's creative analysis of a single ad: transcript,
// scoring, and recommendations.
type AdAnalysis struct {
	AdID            string   `json:"ad_id"`
	Transcript      string   `json:"transcript,omitempty"`
	HookScore       float64  `json:"hook_score"`
	OverallScore    float64  `json:"overall_score"`
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations,omitempty"`
	Model           string   `json:"model,omitempty"`
}

// AdSetAnalysis aggregates analysis across a set of ads for one competitor.
type AdSetAnalysis struct {
	CompetitorID string   `json:"competitor_id"`
	AdsAnalyzed  int      `json:"ads_analyzed"`
	Themes       []string `json:"themes,omitempty"`
	Summary      string   `json:"summary"`
	TopAdIDs     []string `json:"top_ad_ids,omitempty"`
}

// VideoRender is the output of a generative video-remix job.
type VideoRender struct {
	SourceAdID string        `json:"source_ad_id,omitempty"`
	VideoURL   string        `json:"video_url"`
	Prompt     string        `json:"prompt,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms,omitempty"`
}

// TaskResult is the decoded, kind-tagged result of a successful task.
// Exactly one payload field is non-nil, matching Kind.
type TaskResult struct {
	Kind   TaskKind
	Scrape *ScrapeStats
	Ad     *AdAnalysis
	AdSet  *AdSetAnalysis
	Video  *VideoRender
}

// DecodeResult decodes a raw SUCCESS result payload according to the task
// kind. Result shapes vary by job type, so decoding is explicit rather
// than field-probing.
func DecodeResult(kind TaskKind, raw json.RawMessage) (*TaskResult, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode %s result: empty payload", kind)
	}

	res := &TaskResult{Kind: kind}
	var err error
	switch kind {
	case KindScrape:
		var v ScrapeStats
		err = json.Unmarshal(raw, &v)
		res.Scrape = &v
	case KindAdAnalysis:
		var v AdAnalysis
		err = json.Unmarshal(raw, &v)
		res.Ad = &v
	case KindAdSetAnalysis:
		var v AdSetAnalysis
		err = json.Unmarshal(raw, &v)
		res.AdSet = &v
	case KindVideoGeneration:
		var v VideoRender
		err = json.Unmarshal(raw, &v)
		res.Video = &v
		if err == nil {
			res.Video.Duration = time.Duration(res.Video.DurationMS) * time.Millisecond
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s result: %w", kind, err)
	}
	return res, nil
}
