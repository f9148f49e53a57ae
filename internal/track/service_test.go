package track

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adscope/adscope/internal/engine"
	"github.com/adscope/adscope/internal/poll"
	"github.com/adscope/adscope/internal/session"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

var errTransport = errors.New("connection refused")

// fakeEngine scripts one status snapshot per status call; the last entry
// repeats. A nil entry simulates a transport error. Cancel flips the
// script to a single REVOKED snapshot.
type fakeEngine struct {
	mu            sync.Mutex
	script        []*models.Task
	idx           int
	startErr      error
	canceled      []string
	scrapedAds    []engine.ScrapedAd
	scrapedAdsErr error
}

func (f *fakeEngine) startResp() (*models.StartResponse, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &models.StartResponse{TaskID: "task-1", Status: "queued"}, nil
}

func (f *fakeEngine) StartScrape(ctx context.Context, req engine.ScrapeRequest) (*models.StartResponse, error) {
	return f.startResp()
}

func (f *fakeEngine) StartAdAnalysis(ctx context.Context, req engine.AdAnalysisRequest) (*models.StartResponse, error) {
	return f.startResp()
}

func (f *fakeEngine) StartAdSetAnalysis(ctx context.Context, req engine.AdSetAnalysisRequest) (*models.StartResponse, error) {
	return f.startResp()
}

func (f *fakeEngine) StartVideoGeneration(ctx context.Context, req engine.VideoRequest) (*models.StartResponse, error) {
	return f.startResp()
}

func (f *fakeEngine) TaskStatus(ctx context.Context, taskID string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		return nil, errTransport
	}
	i := f.idx
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.idx++
	task := f.script[i]
	if task == nil {
		return nil, errTransport
	}
	cp := *task
	cp.TaskID = taskID
	return &cp, nil
}

func (f *fakeEngine) CancelTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, taskID)
	f.script = []*models.Task{{State: models.TaskRevoked, Status: "revoked"}}
	f.idx = 0
	return nil
}

func (f *fakeEngine) ScrapedAds(ctx context.Context, taskID string) ([]engine.ScrapedAd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scrapedAdsErr != nil {
		return nil, f.scrapedAdsErr
	}
	return f.scrapedAds, nil
}

func (f *fakeEngine) Ready(ctx context.Context) error { return nil }

var _ engine.Client = (*fakeEngine)(nil)

// fakeStore keeps just enough durable state in memory to observe what the
// completion path writes.
type fakeStore struct {
	mu          sync.Mutex
	competitors map[uuid.UUID]*models.Competitor
	ads         map[string]*models.Ad
	runs        []*models.ScrapeRun
	analyses    []*models.AdAnalysisRecord
	touched     []uuid.UUID
	marked      map[string]float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		competitors: make(map[uuid.UUID]*models.Competitor),
		ads:         make(map[string]*models.Ad),
		marked:      make(map[string]float64),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) GetDefaultWorkspace(ctx context.Context) (*models.Workspace, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	return nil, nil
}

func (f *fakeStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error { return nil }

func (f *fakeStore) ListAPIKeys(ctx context.Context, workspaceID uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}

func (f *fakeStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID) error {
	return nil
}

func (f *fakeStore) CreateCompetitor(ctx context.Context, c *models.Competitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.competitors[c.ID] = c
	return nil
}

func (f *fakeStore) ListCompetitors(ctx context.Context, workspaceID uuid.UUID, trackedOnly bool) ([]*models.Competitor, error) {
	return nil, nil
}

func (f *fakeStore) GetCompetitor(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID) (*models.Competitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.competitors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) SetCompetitorTracked(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID, tracked bool) error {
	return nil
}

func (f *fakeStore) TouchCompetitorScraped(ctx context.Context, id uuid.UUID, workspaceID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeStore) UpsertAd(ctx context.Context, ad *models.Ad) (*models.Ad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.ads[ad.AdArchiveID]; ok && prev.Impressions > ad.Impressions {
		ad.Impressions = prev.Impressions
	}
	f.ads[ad.AdArchiveID] = ad
	return ad, nil
}

func (f *fakeStore) ListAds(ctx context.Context, filter store.AdFilter) ([]*models.Ad, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) GetAdByArchiveID(ctx context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.Ad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ad, ok := f.ads[adArchiveID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ad, nil
}

func (f *fakeStore) MarkAdAnalyzed(ctx context.Context, workspaceID uuid.UUID, adArchiveID string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[adArchiveID] = score
	return nil
}

func (f *fakeStore) CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) LatestScrapeRun(ctx context.Context, workspaceID uuid.UUID, competitorID uuid.UUID) (*models.ScrapeRun, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateAdAnalysis(ctx context.Context, rec *models.AdAnalysisRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses = append(f.analyses, rec)
	return nil
}

func (f *fakeStore) GetAdAnalysis(ctx context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.AdAnalysisRecord, error) {
	return nil, store.ErrNotFound
}

var _ store.Store = (*fakeStore)(nil)

func (f *fakeStore) scrapeRuns() []*models.ScrapeRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.ScrapeRun(nil), f.runs...)
}

func (f *fakeStore) adAnalyses() []*models.AdAnalysisRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.AdAnalysisRecord(nil), f.analyses...)
}

func (f *fakeStore) corpus() map[string]*models.Ad {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*models.Ad, len(f.ads))
	for k, v := range f.ads {
		out[k] = v
	}
	return out
}

var fastPoll = poll.Config{
	Interval:             10 * time.Millisecond,
	MaxWait:              2 * time.Second,
	MaxAttempts:          50,
	MaxConsecutiveErrors: 3,
}

func newService(eng *fakeEngine, st *fakeStore) (*Service, session.Store) {
	sess := session.NewMemoryStore()
	return NewService(eng, st, sess, fastPoll), sess
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func headRecord(t *testing.T, sess session.Store, workspaceID uuid.UUID) models.SessionRecord {
	t.Helper()
	recs, err := sess.List(context.Background(), workspaceID)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	return recs[0]
}

func seedCompetitor(st *fakeStore, workspaceID uuid.UUID) *models.Competitor {
	c := &models.Competitor{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		PageID:      "123456789",
		Name:        "Acme Athletics",
		Tracked:     true,
	}
	st.competitors[c.ID] = c
	return c
}

func TestStartScrape_SuccessPersistsRunOnce(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)

	resultJSON := json.RawMessage(`{"competitor_id":"` + competitor.ID.String() + `","total_ads":12,"new_ads":4,"updated_ads":8,"active_ads":9}`)
	eng := &fakeEngine{script: []*models.Task{
		{State: models.TaskPending, Status: "queued"},
		{State: models.TaskProgress, Status: "scraping page"},
		{State: models.TaskSuccess, Status: "done", Result: resultJSON},
	}}

	svc, sess := newService(eng, st)
	defer svc.Close()

	resp, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "task-1", resp.TaskID)

	waitFor(t, func() bool { return len(st.scrapeRuns()) > 0 })
	// Give the watch time to misbehave if it were going to poll past the
	// terminal state or persist twice.
	time.Sleep(50 * time.Millisecond)

	runs := st.scrapeRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, competitor.ID, runs[0].CompetitorID)
	assert.Equal(t, 12, runs[0].TotalAds)
	assert.Equal(t, 4, runs[0].NewAds)
	assert.Equal(t, "task-1", runs[0].TaskID)
	assert.Equal(t, []uuid.UUID{competitor.ID}, st.touched)

	rec := headRecord(t, sess, workspaceID)
	assert.Equal(t, models.TaskSuccess, rec.State)
	assert.JSONEq(t, string(resultJSON), string(rec.Result))
	assert.False(t, svc.Watching("task-1"))
}

func TestStartAdAnalysis_SuccessPersistsAnalysis(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	st.ads["arch-42"] = &models.Ad{ID: uuid.New(), WorkspaceID: workspaceID, AdArchiveID: "arch-42"}

	resultJSON := json.RawMessage(`{"ad_id":"arch-42","hook_score":7.5,"overall_score":8.2,"summary":"strong opening","recommendations":["shorten intro"]}`)
	eng := &fakeEngine{script: []*models.Task{
		{State: models.TaskProgress, Status: "transcribing"},
		{State: models.TaskSuccess, Result: resultJSON},
	}}

	svc, sess := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartAdAnalysis(context.Background(), workspaceID, "arch-42")
	require.NoError(t, err)

	waitFor(t, func() bool { return len(st.adAnalyses()) > 0 })

	analyses := st.adAnalyses()
	require.Len(t, analyses, 1)
	assert.Equal(t, "arch-42", analyses[0].AdArchiveID)
	assert.Equal(t, 8.2, analyses[0].OverallScore)
	assert.Equal(t, []string{"shorten intro"}, analyses[0].Recommendations)
	assert.Equal(t, 8.2, st.marked["arch-42"])

	rec := headRecord(t, sess, workspaceID)
	assert.Equal(t, models.KindAdAnalysis, rec.Kind)
	assert.Equal(t, "arch-42", rec.AdID)
	assert.Equal(t, models.TaskSuccess, rec.State)
}

func TestFailure_SurfacedInHistoryOnly(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	st.ads["arch-42"] = &models.Ad{ID: uuid.New(), WorkspaceID: workspaceID, AdArchiveID: "arch-42"}
	// Durable result from an earlier successful run.
	st.analyses = append(st.analyses, &models.AdAnalysisRecord{AdArchiveID: "arch-42", OverallScore: 9.0})

	eng := &fakeEngine{script: []*models.Task{
		{State: models.TaskProgress},
		{State: models.TaskFailure, Error: "model backend overloaded"},
	}}

	svc, sess := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartAdAnalysis(context.Background(), workspaceID, "arch-42")
	require.NoError(t, err)

	waitFor(t, func() bool {
		return headRecord(t, sess, workspaceID).State == models.TaskFailure
	})

	rec := headRecord(t, sess, workspaceID)
	assert.Equal(t, "model backend overloaded", rec.Error)
	assert.Empty(t, rec.Result)

	// The earlier durable result is untouched.
	analyses := st.adAnalyses()
	require.Len(t, analyses, 1)
	assert.Equal(t, 9.0, analyses[0].OverallScore)
	assert.Empty(t, st.marked)
}

func TestTimeout_MarksRecordTimedOut(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)

	eng := &fakeEngine{script: []*models.Task{{State: models.TaskPending, Status: "queued"}}}

	cfg := fastPoll
	cfg.MaxAttempts = 2
	svc := NewService(eng, st, session.NewMemoryStore(), cfg)
	defer svc.Close()
	sess := svc.session

	_, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.NoError(t, err)

	waitFor(t, func() bool { return headRecord(t, sess, workspaceID).TimedOut })

	rec := headRecord(t, sess, workspaceID)
	assert.Equal(t, models.TaskPending, rec.State)
	assert.Empty(t, st.scrapeRuns())
}

func TestUnreachable_RecordsTransportError(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)

	eng := &fakeEngine{script: []*models.Task{nil}}

	svc, sess := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.NoError(t, err)

	waitFor(t, func() bool { return headRecord(t, sess, workspaceID).Error != "" })

	rec := headRecord(t, sess, workspaceID)
	assert.Contains(t, rec.Error, "lost contact with engine")
	assert.Empty(t, st.scrapeRuns())
}

func TestStartScrape_UnknownCompetitor(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	eng := &fakeEngine{}

	svc, sess := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartScrape(context.Background(), workspaceID, uuid.New(), ScrapeOptions{})
	require.ErrorIs(t, err, store.ErrNotFound)

	recs, err := sess.List(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStartScrape_EngineRejected(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)
	eng := &fakeEngine{startErr: engine.ErrEngineUnreachable}

	svc, sess := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.ErrorIs(t, err, engine.ErrEngineUnreachable)

	recs, err := sess.List(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStartVideoGeneration_RequiresPrompt(t *testing.T) {
	svc, _ := newService(&fakeEngine{}, newFakeStore())
	defer svc.Close()

	_, err := svc.StartVideoGeneration(context.Background(), uuid.New(), engine.VideoRequest{})
	require.ErrorIs(t, err, ErrPromptRequired)
}

func TestCancelTask_ObservesRevoked(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)

	eng := &fakeEngine{script: []*models.Task{{State: models.TaskPending, Status: "queued"}}}

	svc, sess := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.CancelTask(context.Background(), "task-1"))
	assert.Equal(t, []string{"task-1"}, eng.canceled)

	waitFor(t, func() bool {
		return headRecord(t, sess, workspaceID).State == models.TaskRevoked
	})
	waitFor(t, func() bool { return !svc.Watching("task-1") })
	assert.Empty(t, st.scrapeRuns())
}

func TestCancelTask_NotWatched(t *testing.T) {
	svc, _ := newService(&fakeEngine{}, newFakeStore())
	defer svc.Close()

	err := svc.CancelTask(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotWatched)
}

func TestDuplicateTaskID_Rejected(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)

	// Engine hands the same task id to both kickoffs; the second watch
	// must be refused rather than racing the first.
	eng := &fakeEngine{script: []*models.Task{{State: models.TaskPending, Status: "queued"}}}

	svc, _ := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.NoError(t, err)

	_, err = svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.ErrorIs(t, err, poll.ErrDuplicateWatch)
}

func TestStartScrape_IngestsScrapedAds(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)

	started := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	eng := &fakeEngine{
		script: []*models.Task{
			{State: models.TaskSuccess, Status: "done", Result: json.RawMessage(`{"total_ads":2,"new_ads":2}`)},
		},
		scrapedAds: []engine.ScrapedAd{
			{AdArchiveID: "arch-1", MediaType: models.MediaVideo, Headline: "Run faster", Active: true, Impressions: 5000, StartedAt: started},
			{AdArchiveID: "arch-2", MediaType: models.MediaImage, Impressions: 120, StartedAt: started},
			{MediaType: models.MediaImage, Impressions: 7},
		},
	}

	svc, _ := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(st.corpus()) >= 2 })

	ads := st.corpus()
	require.Len(t, ads, 2)
	assert.NotContains(t, ads, "", "ad without an archive id must be skipped")

	got := ads["arch-1"]
	require.NotNil(t, got)
	assert.Equal(t, workspaceID, got.WorkspaceID)
	assert.Equal(t, competitor.ID, got.CompetitorID)
	assert.Equal(t, models.MediaVideo, got.MediaType)
	assert.Equal(t, "Run faster", got.Headline)
	assert.True(t, got.Active)
	assert.Equal(t, int64(5000), got.Impressions)
	assert.Equal(t, started, got.StartedAt)
}

func TestStartScrape_AdFetchFailureKeepsRun(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)

	eng := &fakeEngine{
		script: []*models.Task{
			{State: models.TaskSuccess, Status: "done", Result: json.RawMessage(`{"total_ads":5}`)},
		},
		scrapedAdsErr: errTransport,
	}

	svc, _ := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(st.scrapeRuns()) > 0 })
	waitFor(t, func() bool { return !svc.Watching("task-1") })

	// The run record lands even when the ad fetch fails; the corpus just
	// waits for the next scrape.
	assert.Empty(t, st.corpus())
	require.Len(t, st.scrapeRuns(), 1)
	assert.Equal(t, 5, st.scrapeRuns()[0].TotalAds)
}

// failingSession rejects every patch while reads and inserts still work,
// like Redis dropping out mid-watch.
type failingSession struct {
	session.Store
	updateErr error
}

func (f *failingSession) Update(ctx context.Context, workspaceID uuid.UUID, taskID string, patch models.SessionPatch) error {
	return f.updateErr
}

func TestSessionOutage_DoesNotBlockPersistence(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)

	eng := &fakeEngine{script: []*models.Task{
		{State: models.TaskProgress, Status: "scraping page"},
		{State: models.TaskSuccess, Status: "done", Result: json.RawMessage(`{"total_ads":3}`)},
	}}

	sess := &failingSession{
		Store:     session.NewMemoryStore(),
		updateErr: errors.New("connection pool timeout"),
	}
	svc := NewService(eng, st, sess, fastPoll)
	defer svc.Close()

	_, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.NoError(t, err)

	// Every history patch is failing; the durable write must land anyway
	// and the watch must wind down cleanly.
	waitFor(t, func() bool { return len(st.scrapeRuns()) > 0 })
	waitFor(t, func() bool { return !svc.Watching("task-1") })
	require.Len(t, st.scrapeRuns(), 1)
	assert.Equal(t, 3, st.scrapeRuns()[0].TotalAds)
}

func TestHistoryDelegation(t *testing.T) {
	workspaceID := uuid.New()
	st := newFakeStore()
	competitor := seedCompetitor(st, workspaceID)

	eng := &fakeEngine{script: []*models.Task{{State: models.TaskSuccess, Result: json.RawMessage(`{"total_ads":1}`)}}}

	svc, _ := newService(eng, st)
	defer svc.Close()

	_, err := svc.StartScrape(context.Background(), workspaceID, competitor.ID, ScrapeOptions{})
	require.NoError(t, err)

	recs, err := svc.History(context.Background(), workspaceID)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, svc.RemoveHistory(context.Background(), workspaceID, recs[0].TaskID))
	recs, err = svc.History(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
