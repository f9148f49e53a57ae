// Package engine is the HTTP client for the upstream ad-intelligence
// engine: the service that scrapes the public ad library, runs creative
// analysis, and renders video remixes. All engine jobs are asynchronous —
// a start call returns a task id that is then polled for status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/adscope/adscope/pkg/models"
)

// Sentinel errors for engine client failures. A transport failure is never
// synthesized into a fake task state; callers must be able to distinguish
// "could not reach the status endpoint" from "the job reports FAILURE".
var (
	ErrEngineUnreachable = errors.New("engine unreachable")
	ErrEngineStatus      = errors.New("engine returned error status")
	ErrEngineTimeout     = errors.New("engine request timeout")
	ErrTaskNotFound      = errors.New("task not found")
)

// Client is the interface for talking to the engine.
type Client interface {
	StartScrape(ctx context.Context, req ScrapeRequest) (*models.StartResponse, error)
	StartAdAnalysis(ctx context.Context, req AdAnalysisRequest) (*models.StartResponse, error)
	StartAdSetAnalysis(ctx context.Context, req AdSetAnalysisRequest) (*models.StartResponse, error)
	StartVideoGeneration(ctx context.Context, req VideoRequest) (*models.StartResponse, error)

	// TaskStatus returns the engine's current snapshot for a task,
	// verbatim and uncached.
	TaskStatus(ctx context.Context, taskID string) (*models.Task, error)

	// CancelTask asks the engine to stop a non-terminal job. Best effort:
	// the engine may still report SUCCESS or FAILURE afterwards.
	CancelTask(ctx context.Context, taskID string) error

	// ScrapedAds returns the ads captured by a finished scrape task. The
	// engine keeps them only for a retention window after the task ends.
	ScrapedAds(ctx context.Context, taskID string) ([]ScrapedAd, error)

	Ready(ctx context.Context) error
}

// ScrapeRequest starts a scrape of one advertiser page in the ad library.
type ScrapeRequest struct {
	PageID      string `json:"page_id"`
	CountryCode string `json:"country_code,omitempty"`
	ActiveOnly  bool   `json:"active_only,omitempty"`
	MaxAds      int    `json:"max_ads,omitempty"`
}

// AdAnalysisRequest starts creative analysis of a single ad.
type AdAnalysisRequest struct {
	AdArchiveID string `json:"ad_archive_id"`
}

// AdSetAnalysisRequest starts aggregate analysis across a competitor's ads.
type AdSetAnalysisRequest struct {
	CompetitorID string `json:"competitor_id"`
	MaxAds       int    `json:"max_ads,omitempty"`
}

// VideoRequest starts a generative video remix job.
type VideoRequest struct {
	SourceAdID string `json:"source_ad_id,omitempty"`
	Prompt     string `json:"prompt"`
}

// ScrapedAd is one advertisement as the engine captured it from the ad
// library. AdArchiveID is the library's own identifier.
type ScrapedAd struct {
	AdArchiveID string     `json:"ad_archive_id"`
	MediaType   string     `json:"media_type"`
	Headline    string     `json:"headline,omitempty"`
	BodyText    string     `json:"body_text,omitempty"`
	MediaURL    string     `json:"media_url,omitempty"`
	LandingURL  string     `json:"landing_url,omitempty"`
	Active      bool       `json:"active"`
	Impressions int64      `json:"impressions"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// HTTPClient implements Client over the engine's REST API using resty.
type HTTPClient struct {
	http *resty.Client
}

// NewHTTPClient creates a new engine client. The engine rate-limits scrape
// kickoffs, so 429 and transient 5xx responses are retried with backoff
// before a request is reported as failed.
func NewHTTPClient(baseURL, authToken string, timeout time.Duration) *HTTPClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests ||
				(r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
	if authToken != "" {
		rc.SetAuthToken(authToken)
	}
	return &HTTPClient{http: rc}
}

func (c *HTTPClient) StartScrape(ctx context.Context, req ScrapeRequest) (*models.StartResponse, error) {
	return c.start(ctx, "/api/v1/scrape", req)
}

func (c *HTTPClient) StartAdAnalysis(ctx context.Context, req AdAnalysisRequest) (*models.StartResponse, error) {
	return c.start(ctx, "/api/v1/analysis/ad", req)
}

func (c *HTTPClient) StartAdSetAnalysis(ctx context.Context, req AdSetAnalysisRequest) (*models.StartResponse, error) {
	return c.start(ctx, "/api/v1/analysis/adset", req)
}

func (c *HTTPClient) StartVideoGeneration(ctx context.Context, req VideoRequest) (*models.StartResponse, error) {
	return c.start(ctx, "/api/v1/videos", req)
}

func (c *HTTPClient) start(ctx context.Context, path string, body any) (*models.StartResponse, error) {
	var out models.StartResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(path)
	if err != nil {
		return nil, classifyError(err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: POST %s: status %d", ErrEngineStatus, path, resp.StatusCode())
	}
	if out.TaskID == "" {
		return nil, fmt.Errorf("%w: POST %s: response missing task_id", ErrEngineStatus, path)
	}
	return &out, nil
}

func (c *HTTPClient) TaskStatus(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&task).
		SetPathParam("taskID", taskID).
		Get("/api/v1/tasks/{taskID}")
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: GET task %s: status %d", ErrEngineStatus, taskID, resp.StatusCode())
	}
	if task.TaskID == "" {
		task.TaskID = taskID
	}
	return &task, nil
}

func (c *HTTPClient) CancelTask(ctx context.Context, taskID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("taskID", taskID).
		Delete("/api/v1/tasks/{taskID}")
	if err != nil {
		return classifyError(err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: cancel task %s: status %d", ErrEngineStatus, taskID, resp.StatusCode())
	}
	return nil
}

func (c *HTTPClient) ScrapedAds(ctx context.Context, taskID string) ([]ScrapedAd, error) {
	var out struct {
		Ads []ScrapedAd `json:"ads"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetPathParam("taskID", taskID).
		Get("/api/v1/tasks/{taskID}/ads")
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: GET scraped ads %s: status %d", ErrEngineStatus, taskID, resp.StatusCode())
	}
	return out.Ads, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/ready")
	if err != nil {
		return classifyError(err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: engine not ready (status %d)", ErrEngineUnreachable, resp.StatusCode())
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
