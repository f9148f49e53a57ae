package ads

import (
	"testing"
	"time"

	"github.com/adscope/adscope/pkg/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func ad(archiveID string, mutate ...func(*models.Ad)) *models.Ad {
	a := &models.Ad{
		AdArchiveID: archiveID,
		MediaType:   models.MediaImage,
		Active:      true,
		StartedAt:   testNow.Add(-24 * time.Hour),
	}
	for _, fn := range mutate {
		fn(a)
	}
	return a
}

func withScore(s float64) func(*models.Ad) {
	return func(a *models.Ad) {
		a.Analyzed = true
		a.Score = &s
	}
}

func ids(ads []*models.Ad) []string {
	out := make([]string, len(ads))
	for i, a := range ads {
		out[i] = a.AdArchiveID
	}
	return out
}

func assertOrder(t *testing.T, got []*models.Ad, want ...string) {
	t.Helper()
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("got %v, want %v", gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("got %v, want %v", gotIDs, want)
		}
	}
}

func TestRefine_Filters(t *testing.T) {
	video := ad("video-1", func(a *models.Ad) { a.MediaType = models.MediaVideo })
	paused := ad("paused-1", func(a *models.Ad) { a.Active = false })
	popular := ad("popular-1", func(a *models.Ad) { a.Impressions = 50000 })
	scored := ad("scored-1", withScore(8.5))
	corpus := []*models.Ad{video, paused, popular, scored}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{
			name:   "no filter keeps everything",
			filter: Filter{},
			want:   []string{"paused-1", "popular-1", "scored-1", "video-1"},
		},
		{
			name:   "media type",
			filter: Filter{MediaType: models.MediaVideo},
			want:   []string{"video-1"},
		},
		{
			name:   "active only drops paused",
			filter: Filter{ActiveOnly: true},
			want:   []string{"popular-1", "scored-1", "video-1"},
		},
		{
			name:   "analyzed only",
			filter: Filter{AnalyzedOnly: true},
			want:   []string{"scored-1"},
		},
		{
			name:   "minimum impressions",
			filter: Filter{MinImpressions: 10000},
			want:   []string{"popular-1"},
		},
		{
			name:   "minimum score excludes unscored",
			filter: Filter{MinScore: 8.0},
			want:   []string{"scored-1"},
		},
		{
			name:   "minimum score above all",
			filter: Filter{MinScore: 9.0},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Refine(corpus, tt.filter, testNow)
			assertOrder(t, got, tt.want...)
		})
	}
}

func TestRefine_Search(t *testing.T) {
	corpus := []*models.Ad{
		ad("a", func(a *models.Ad) { a.Headline = "Summer SALE starts now" }),
		ad("b", func(a *models.Ad) { a.BodyText = "Biggest sale of the year" }),
		ad("c", func(a *models.Ad) { a.Headline = "New arrivals" }),
	}

	got := Refine(corpus, Filter{Search: "  sale "}, testNow)
	assertOrder(t, got, "a", "b")

	got = Refine(corpus, Filter{Search: "nothing matches"}, testNow)
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %v", ids(got))
	}
}

func TestRefine_SortNewest(t *testing.T) {
	corpus := []*models.Ad{
		ad("old", func(a *models.Ad) { a.StartedAt = testNow.Add(-72 * time.Hour) }),
		ad("new", func(a *models.Ad) { a.StartedAt = testNow.Add(-1 * time.Hour) }),
		ad("mid", func(a *models.Ad) { a.StartedAt = testNow.Add(-24 * time.Hour) }),
	}

	got := Refine(corpus, Filter{Sort: SortNewest}, testNow)
	assertOrder(t, got, "new", "mid", "old")

	// Empty sort means newest.
	got = Refine(corpus, Filter{}, testNow)
	assertOrder(t, got, "new", "mid", "old")
}

func TestRefine_SortScore(t *testing.T) {
	corpus := []*models.Ad{
		ad("low", withScore(3.0)),
		ad("unscored"),
		ad("high", withScore(9.1)),
		ad("mid", withScore(6.0)),
	}

	got := Refine(corpus, Filter{Sort: SortScore}, testNow)
	assertOrder(t, got, "high", "mid", "low", "unscored")
}

func TestRefine_SortLongevity(t *testing.T) {
	ended := testNow.Add(-24 * time.Hour)
	corpus := []*models.Ad{
		// Ran 6 days, then stopped.
		ad("finished", func(a *models.Ad) {
			a.StartedAt = testNow.Add(-7 * 24 * time.Hour)
			a.EndedAt = &ended
		}),
		// Still running after 10 days.
		ad("veteran", func(a *models.Ad) { a.StartedAt = testNow.Add(-10 * 24 * time.Hour) }),
		// Started yesterday.
		ad("fresh", func(a *models.Ad) { a.StartedAt = testNow.Add(-24 * time.Hour) }),
	}

	got := Refine(corpus, Filter{Sort: SortLongevity}, testNow)
	assertOrder(t, got, "veteran", "finished", "fresh")
}

func TestRefine_TiesOrderedByArchiveID(t *testing.T) {
	started := testNow.Add(-24 * time.Hour)
	corpus := []*models.Ad{
		ad("b", func(a *models.Ad) { a.StartedAt = started }),
		ad("a", func(a *models.Ad) { a.StartedAt = started }),
	}

	got := Refine(corpus, Filter{}, testNow)
	assertOrder(t, got, "a", "b")
}

func TestRefine_EmptyInput(t *testing.T) {
	got := Refine(nil, Filter{}, testNow)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestRefine_DoesNotModifyInput(t *testing.T) {
	corpus := []*models.Ad{
		ad("old", func(a *models.Ad) { a.StartedAt = testNow.Add(-72 * time.Hour) }),
		ad("new", func(a *models.Ad) { a.StartedAt = testNow.Add(-1 * time.Hour) }),
	}

	Refine(corpus, Filter{Sort: SortNewest}, testNow)

	if corpus[0].AdArchiveID != "old" || corpus[1].AdArchiveID != "new" {
		t.Fatalf("input slice reordered: %v", ids(corpus))
	}
}

func TestValidSort(t *testing.T) {
	for _, s := range []string{"", SortNewest, SortScore, SortLongevity} {
		if !ValidSort(s) {
			t.Errorf("ValidSort(%q) = false, want true", s)
		}
	}
	if ValidSort("impressions") {
		t.Error("ValidSort(\"impressions\") = true, want false")
	}
}
