// Package scheduler re-scrapes tracked competitors on a cron schedule so
// the ad corpus stays fresh without anyone clicking refresh.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/adscope/adscope/internal/track"
	"github.com/adscope/adscope/pkg/models"
)

// sweepTimeout bounds one full refresh sweep, kickoffs included.
const sweepTimeout = 2 * time.Minute

// Tracker is the slice of the tracking service the scheduler needs.
type Tracker interface {
	ScrapeInFlight(competitorID uuid.UUID) bool
	StartScrape(ctx context.Context, workspaceID, competitorID uuid.UUID, opts track.ScrapeOptions) (*models.StartResponse, error)
}

// Directory is the slice of the durable store the scheduler needs.
type Directory interface {
	GetDefaultWorkspace(ctx context.Context) (*models.Workspace, error)
	ListCompetitors(ctx context.Context, workspaceID uuid.UUID, trackedOnly bool) ([]*models.Competitor, error)
}

// Scheduler runs the recurring scrape refresh.
type Scheduler struct {
	store Directory
	track Tracker
	cron  *cron.Cron
}

// New creates a scheduler that sweeps on the given cron spec (standard
// five-field format). The spec is validated here, not at first fire.
func New(st Directory, tr Tracker, spec string) (*Scheduler, error) {
	s := &Scheduler{
		store: st,
		track: tr,
		cron:  cron.New(),
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid refresh cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing sweeps on the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scrape refresh scheduler started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scrape refresh scheduler stopped")
}

// sweep starts a scrape for every tracked competitor that does not already
// have one in flight. Failures are logged per competitor; one bad kickoff
// never aborts the sweep.
func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	started, skipped, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("scrape refresh sweep failed", "error", err)
		return
	}
	slog.Info("scrape refresh sweep complete", "started", started, "skipped", skipped)
}

// Sweep performs one refresh pass and reports how many scrapes it started
// and how many competitors it skipped. Exported so a sweep can also be
// triggered on demand.
func (s *Scheduler) Sweep(ctx context.Context) (started, skipped int, err error) {
	workspace, err := s.store.GetDefaultWorkspace(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("loading workspace: %w", err)
	}

	competitors, err := s.store.ListCompetitors(ctx, workspace.ID, true)
	if err != nil {
		return 0, 0, fmt.Errorf("listing tracked competitors: %w", err)
	}

	for _, competitor := range competitors {
		if s.track.ScrapeInFlight(competitor.ID) {
			skipped++
			continue
		}
		if _, err := s.track.StartScrape(ctx, workspace.ID, competitor.ID, track.ScrapeOptions{}); err != nil {
			slog.Warn("refresh scrape kickoff failed",
				"competitor_id", competitor.ID, "page_id", competitor.PageID, "error", err)
			continue
		}
		started++
	}
	return started, skipped, nil
}
