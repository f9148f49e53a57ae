// Package track orchestrates engine jobs end to end: it starts a job,
// records it in the workspace's session history, watches it to a terminal
// state, and translates the outcome into durable rows and history patches.
package track

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adscope/adscope/internal/engine"
	"github.com/adscope/adscope/internal/poll"
	"github.com/adscope/adscope/internal/session"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

var (
	// ErrPromptRequired is returned when a video job is started without a prompt.
	ErrPromptRequired = errors.New("prompt is required")
	// ErrNotWatched is returned when a cancel targets a task with no active watch.
	ErrNotWatched = errors.New("no active watch for task")
)

// ScrapeOptions narrows a scrape kickoff. Zero values mean engine defaults.
type ScrapeOptions struct {
	CountryCode string
	ActiveOnly  bool
	MaxAds      int
}

// Service starts engine jobs and owns their watches. Results reach the
// database and session history through the watch hooks, never through the
// HTTP request that started the job.
type Service struct {
	engine  engine.Client
	store   store.Store
	session session.Store
	watcher *poll.Manager

	mu      sync.Mutex
	scrapes map[string]string // competitor id -> task id of the scrape in flight
}

// NewService creates a tracking service. The poll config applies to every
// watch the service starts.
func NewService(engineClient engine.Client, st store.Store, sess session.Store, cfg poll.Config) *Service {
	return &Service{
		engine:  engineClient,
		store:   st,
		session: sess,
		watcher: poll.NewManager(engineClient.TaskStatus, cfg),
		scrapes: make(map[string]string),
	}
}

// StartScrape kicks off a scrape of the competitor's ad library page and
// returns once the engine has accepted the job.
func (s *Service) StartScrape(ctx context.Context, workspaceID, competitorID uuid.UUID, opts ScrapeOptions) (*models.StartResponse, error) {
	competitor, err := s.store.GetCompetitor(ctx, competitorID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading competitor: %w", err)
	}

	resp, err := s.engine.StartScrape(ctx, engine.ScrapeRequest{
		PageID:      competitor.PageID,
		CountryCode: opts.CountryCode,
		ActiveOnly:  opts.ActiveOnly,
		MaxAds:      opts.MaxAds,
	})
	if err != nil {
		return nil, fmt.Errorf("starting scrape: %w", err)
	}

	return resp, s.track(ctx, workspaceID, models.SessionRecord{
		TaskID:       resp.TaskID,
		Kind:         models.KindScrape,
		CompetitorID: competitor.ID.String(),
		State:        models.TaskPending,
		Status:       resp.Status,
	})
}

// StartAdAnalysis kicks off creative analysis of a single ad. The ad must
// already exist in the corpus.
func (s *Service) StartAdAnalysis(ctx context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.StartResponse, error) {
	ad, err := s.store.GetAdByArchiveID(ctx, workspaceID, adArchiveID)
	if err != nil {
		return nil, fmt.Errorf("loading ad: %w", err)
	}

	resp, err := s.engine.StartAdAnalysis(ctx, engine.AdAnalysisRequest{AdArchiveID: ad.AdArchiveID})
	if err != nil {
		return nil, fmt.Errorf("starting ad analysis: %w", err)
	}

	return resp, s.track(ctx, workspaceID, models.SessionRecord{
		TaskID: resp.TaskID,
		Kind:   models.KindAdAnalysis,
		AdID:   ad.AdArchiveID,
		State:  models.TaskPending,
		Status: resp.Status,
	})
}

// StartAdSetAnalysis kicks off aggregate analysis over a competitor's ads.
func (s *Service) StartAdSetAnalysis(ctx context.Context, workspaceID, competitorID uuid.UUID, maxAds int) (*models.StartResponse, error) {
	competitor, err := s.store.GetCompetitor(ctx, competitorID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading competitor: %w", err)
	}

	resp, err := s.engine.StartAdSetAnalysis(ctx, engine.AdSetAnalysisRequest{
		CompetitorID: competitor.ID.String(),
		MaxAds:       maxAds,
	})
	if err != nil {
		return nil, fmt.Errorf("starting ad set analysis: %w", err)
	}

	return resp, s.track(ctx, workspaceID, models.SessionRecord{
		TaskID:       resp.TaskID,
		Kind:         models.KindAdSetAnalysis,
		CompetitorID: competitor.ID.String(),
		State:        models.TaskPending,
		Status:       resp.Status,
	})
}

// StartVideoGeneration kicks off a generative video remix job.
func (s *Service) StartVideoGeneration(ctx context.Context, workspaceID uuid.UUID, req engine.VideoRequest) (*models.StartResponse, error) {
	if req.Prompt == "" {
		return nil, ErrPromptRequired
	}

	resp, err := s.engine.StartVideoGeneration(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("starting video generation: %w", err)
	}

	return resp, s.track(ctx, workspaceID, models.SessionRecord{
		TaskID: resp.TaskID,
		Kind:   models.KindVideoGeneration,
		AdID:   req.SourceAdID,
		State:  models.TaskPending,
		Status: resp.Status,
	})
}

// TaskStatus returns the engine's current snapshot for a task.
func (s *Service) TaskStatus(ctx context.Context, taskID string) (*models.Task, error) {
	return s.engine.TaskStatus(ctx, taskID)
}

// CancelTask asks the engine to stop the job. The watch stays up: if the
// engine honours the cancel it reports REVOKED, which the watch observes
// as an ordinary terminal state.
func (s *Service) CancelTask(ctx context.Context, taskID string) error {
	if !s.watcher.Watching(taskID) {
		return fmt.Errorf("cancel %s: %w", taskID, ErrNotWatched)
	}
	if err := s.engine.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("canceling task: %w", err)
	}
	return nil
}

// Watching reports whether a watch is active for taskID.
func (s *Service) Watching(taskID string) bool {
	return s.watcher.Watching(taskID)
}

// ScrapeInFlight reports whether a scrape watch is active for the
// competitor. The refresh scheduler uses this to avoid stacking scrapes.
func (s *Service) ScrapeInFlight(competitorID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scrapes[competitorID.String()]
	return ok
}

// History returns the workspace's session history, newest first.
func (s *Service) History(ctx context.Context, workspaceID uuid.UUID) ([]models.SessionRecord, error) {
	return s.session.List(ctx, workspaceID)
}

// RemoveHistory deletes a single history record.
func (s *Service) RemoveHistory(ctx context.Context, workspaceID uuid.UUID, taskID string) error {
	return s.session.Remove(ctx, workspaceID, taskID)
}

// ClearHistory deletes the workspace's entire session history.
func (s *Service) ClearHistory(ctx context.Context, workspaceID uuid.UUID) error {
	return s.session.Clear(ctx, workspaceID)
}

// Close stops all active watches and waits for their goroutines.
func (s *Service) Close() {
	s.watcher.Close()
}

// track records the job in session history and starts its watch. The watch
// is bound to the service lifetime, not the request context: the HTTP
// request that started the job returns long before the job finishes.
func (s *Service) track(ctx context.Context, workspaceID uuid.UUID, rec models.SessionRecord) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := s.session.Record(ctx, workspaceID, rec); err != nil {
		return fmt.Errorf("recording session: %w", err)
	}

	if rec.Kind == models.KindScrape && rec.CompetitorID != "" {
		s.mu.Lock()
		s.scrapes[rec.CompetitorID] = rec.TaskID
		s.mu.Unlock()
	}

	err := s.watcher.Watch(context.Background(), rec.TaskID, poll.Hooks{
		OnUpdate: func(task *models.Task) {
			s.onUpdate(workspaceID, rec.TaskID, task)
		},
		Done: func(out poll.Outcome) {
			s.finish(workspaceID, rec, out)
		},
	})
	if err != nil {
		s.releaseScrape(rec)
		return fmt.Errorf("watching task: %w", err)
	}
	return nil
}

func (s *Service) releaseScrape(rec models.SessionRecord) {
	if rec.Kind != models.KindScrape || rec.CompetitorID == "" {
		return
	}
	s.mu.Lock()
	if s.scrapes[rec.CompetitorID] == rec.TaskID {
		delete(s.scrapes, rec.CompetitorID)
	}
	s.mu.Unlock()
}

// onUpdate reflects in-flight progress into the session record. Terminal
// snapshots are left to finish, which runs exactly once per watch.
func (s *Service) onUpdate(workspaceID uuid.UUID, taskID string, task *models.Task) {
	if task.State.Terminal() {
		return
	}
	s.patch(context.Background(), workspaceID, taskID, models.SessionPatch{
		State:  &task.State,
		Status: &task.Status,
	})
}

// patch applies a session update and logs the error if it fails. Session
// writes off the watch goroutine have no caller to return an error to.
func (s *Service) patch(ctx context.Context, workspaceID uuid.UUID, taskID string, p models.SessionPatch) {
	if err := s.session.Update(ctx, workspaceID, taskID, p); err != nil {
		slog.Error("patching session record", "task_id", taskID, "error", err)
	}
}

// finish translates the watch outcome. It runs on the watch goroutine with
// no request context, so failures here are logged, never returned.
func (s *Service) finish(workspaceID uuid.UUID, rec models.SessionRecord, out poll.Outcome) {
	ctx := context.Background()

	defer s.releaseScrape(rec)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic finishing task", "error", r, "task_id", rec.TaskID)
		}
	}()

	switch out.Kind {
	case poll.OutcomeTerminal:
		task := out.Task
		switch task.State {
		case models.TaskSuccess:
			s.complete(ctx, workspaceID, rec, task)
		case models.TaskFailure:
			// Surface the failure in history only. Durable rows from
			// earlier successful runs stay as they are.
			s.patch(ctx, workspaceID, rec.TaskID, models.SessionPatch{
				State: &task.State,
				Error: &task.Error,
			})
			slog.Warn("task failed",
				"task_id", rec.TaskID, "kind", rec.Kind, "error", task.Error)
		case models.TaskRevoked:
			s.patch(ctx, workspaceID, rec.TaskID, models.SessionPatch{
				State:  &task.State,
				Status: &task.Status,
			})
		}
	case poll.OutcomeTimeout:
		timedOut := true
		s.patch(ctx, workspaceID, rec.TaskID, models.SessionPatch{
			TimedOut: &timedOut,
		})
		slog.Warn("gave up waiting for task",
			"task_id", rec.TaskID, "kind", rec.Kind, "attempts", out.Attempts)
	case poll.OutcomeUnreachable:
		errMsg := fmt.Sprintf("lost contact with engine: %v", out.Err)
		s.patch(ctx, workspaceID, rec.TaskID, models.SessionPatch{
			Error: &errMsg,
		})
		slog.Error("task status checks failing",
			"task_id", rec.TaskID, "kind", rec.Kind, "error", out.Err)
	case poll.OutcomeCanceled:
		// Service teardown. The record keeps its last observed state.
	}
}

// complete persists a successful result under its business key and patches
// the session record with the full payload.
func (s *Service) complete(ctx context.Context, workspaceID uuid.UUID, rec models.SessionRecord, task *models.Task) {
	now := time.Now().UTC()

	result, err := models.DecodeResult(rec.Kind, task.Result)
	if err != nil {
		// The raw payload still reaches history; only the durable copy
		// is skipped.
		slog.Error("decoding task result", "task_id", rec.TaskID, "kind", rec.Kind, "error", err)
	} else {
		s.persist(ctx, workspaceID, rec, result, now)
	}

	s.patch(ctx, workspaceID, rec.TaskID, models.SessionPatch{
		State:  &task.State,
		Status: &task.Status,
		Result: task.Result,
	})
}

func (s *Service) persist(ctx context.Context, workspaceID uuid.UUID, rec models.SessionRecord, result *models.TaskResult, now time.Time) {
	switch rec.Kind {
	case models.KindScrape:
		competitorID, err := uuid.Parse(rec.CompetitorID)
		if err != nil {
			slog.Error("scrape record has invalid competitor id",
				"task_id", rec.TaskID, "competitor_id", rec.CompetitorID)
			return
		}
		run := &models.ScrapeRun{
			ID:           uuid.New(),
			WorkspaceID:  workspaceID,
			CompetitorID: competitorID,
			TaskID:       rec.TaskID,
			TotalAds:     result.Scrape.TotalAds,
			NewAds:       result.Scrape.NewAds,
			UpdatedAds:   result.Scrape.UpdatedAds,
			ActiveAds:    result.Scrape.ActiveAds,
			CompletedAt:  now,
		}
		if err := s.store.CreateScrapeRun(ctx, run); err != nil {
			slog.Error("storing scrape run", "task_id", rec.TaskID, "error", err)
			return
		}
		if err := s.store.TouchCompetitorScraped(ctx, competitorID, workspaceID, now); err != nil {
			slog.Error("updating competitor scrape time", "task_id", rec.TaskID, "error", err)
		}
		s.ingestAds(ctx, workspaceID, competitorID, rec.TaskID, now)
	case models.KindAdAnalysis:
		analysis := &models.AdAnalysisRecord{
			ID:              uuid.New(),
			WorkspaceID:     workspaceID,
			AdArchiveID:     rec.AdID,
			TaskID:          rec.TaskID,
			Transcript:      result.Ad.Transcript,
			HookScore:       result.Ad.HookScore,
			OverallScore:    result.Ad.OverallScore,
			Summary:         result.Ad.Summary,
			Recommendations: result.Ad.Recommendations,
			Model:           result.Ad.Model,
			CreatedAt:       now,
		}
		if err := s.store.CreateAdAnalysis(ctx, analysis); err != nil {
			slog.Error("storing ad analysis", "task_id", rec.TaskID, "error", err)
			return
		}
		if err := s.store.MarkAdAnalyzed(ctx, workspaceID, rec.AdID, result.Ad.OverallScore); err != nil {
			slog.Error("marking ad analyzed", "task_id", rec.TaskID, "error", err)
		}
	case models.KindAdSetAnalysis, models.KindVideoGeneration:
		// History-only results; nothing durable to write.
	}
}

// ingestAds pulls the ads a finished scrape captured into the corpus. The
// upsert keys on (workspace, ad_archive_id), so a re-scraped ad updates in
// place and keeps the highest impression count seen.
func (s *Service) ingestAds(ctx context.Context, workspaceID, competitorID uuid.UUID, taskID string, now time.Time) {
	scraped, err := s.engine.ScrapedAds(ctx, taskID)
	if err != nil {
		slog.Error("fetching scraped ads", "task_id", taskID, "error", err)
		return
	}

	stored := 0
	for _, sa := range scraped {
		if sa.AdArchiveID == "" {
			slog.Warn("scraped ad missing archive id", "task_id", taskID)
			continue
		}
		ad := &models.Ad{
			ID:           uuid.New(),
			WorkspaceID:  workspaceID,
			CompetitorID: competitorID,
			AdArchiveID:  sa.AdArchiveID,
			MediaType:    sa.MediaType,
			Headline:     sa.Headline,
			BodyText:     sa.BodyText,
			MediaURL:     sa.MediaURL,
			LandingURL:   sa.LandingURL,
			Active:       sa.Active,
			Impressions:  sa.Impressions,
			StartedAt:    sa.StartedAt,
			EndedAt:      sa.EndedAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := s.store.UpsertAd(ctx, ad); err != nil {
			slog.Error("storing scraped ad",
				"task_id", taskID, "ad_archive_id", sa.AdArchiveID, "error", err)
			continue
		}
		stored++
	}
	slog.Info("scraped ads ingested", "task_id", taskID, "fetched", len(scraped), "stored", stored)
}
