// Package ads refines a page of ads already fetched from the database.
// The dashboard tweaks filters and sort order far more often than it pages,
// so these knobs apply in memory to the current page instead of issuing a
// new query per tweak.
package ads

import (
	"sort"
	"strings"
	"time"

	"github.com/adscope/adscope/pkg/models"
)

// Sort orders accepted by Refine.
const (
	SortNewest    = "newest"
	SortScore     = "score"
	SortLongevity = "longevity"
)

// ValidSort reports whether s is a known sort order. Empty means SortNewest.
func ValidSort(s string) bool {
	switch s {
	case "", SortNewest, SortScore, SortLongevity:
		return true
	}
	return false
}

// Filter narrows a page of ads. Zero values leave a dimension unfiltered.
type Filter struct {
	MediaType      string
	ActiveOnly     bool
	AnalyzedOnly   bool
	MinImpressions int64
	MinScore       float64
	// Search matches against headline and body text, case-insensitive.
	Search string
	Sort   string
}

// Refine filters and sorts ads in place of a round trip. Returns an empty
// slice for empty input (never nil). The input slice is not modified.
func Refine(in []*models.Ad, f Filter, now time.Time) []*models.Ad {
	out := make([]*models.Ad, 0, len(in))

	search := strings.ToLower(strings.TrimSpace(f.Search))
	for _, ad := range in {
		if ad == nil {
			continue
		}
		if f.MediaType != "" && ad.MediaType != f.MediaType {
			continue
		}
		if f.ActiveOnly && !ad.Active {
			continue
		}
		if f.AnalyzedOnly && !ad.Analyzed {
			continue
		}
		if ad.Impressions < f.MinImpressions {
			continue
		}
		if f.MinScore > 0 && (ad.Score == nil || *ad.Score < f.MinScore) {
			continue
		}
		if search != "" && !matchesSearch(ad, search) {
			continue
		}
		out = append(out, ad)
	}

	sortAds(out, f.Sort, now)
	return out
}

func matchesSearch(ad *models.Ad, search string) bool {
	return strings.Contains(strings.ToLower(ad.Headline), search) ||
		strings.Contains(strings.ToLower(ad.BodyText), search)
}

// sortAds orders ads by the requested dimension. Ties fall back to newest
// first, then archive id, so the order is stable across refreshes.
func sortAds(ads []*models.Ad, order string, now time.Time) {
	less := func(a, b *models.Ad) bool {
		return newerFirst(a, b)
	}

	switch order {
	case SortScore:
		less = func(a, b *models.Ad) bool {
			as, bs := scoreOf(a), scoreOf(b)
			if as != bs {
				return as > bs
			}
			return newerFirst(a, b)
		}
	case SortLongevity:
		less = func(a, b *models.Ad) bool {
			al, bl := a.Longevity(now), b.Longevity(now)
			if al != bl {
				return al > bl
			}
			return newerFirst(a, b)
		}
	}

	sort.SliceStable(ads, func(i, j int) bool { return less(ads[i], ads[j]) })
}

func newerFirst(a, b *models.Ad) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	return a.AdArchiveID < b.AdArchiveID
}

// scoreOf treats unanalyzed ads as below every scored ad.
func scoreOf(a *models.Ad) float64 {
	if a.Score == nil {
		return -1
	}
	return *a.Score
}
