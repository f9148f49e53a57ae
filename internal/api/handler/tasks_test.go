package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/engine"
	"github.com/adscope/adscope/internal/poll"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/internal/track"
	"github.com/adscope/adscope/pkg/models"
)

// mockTaskService lets each test script one method.
type mockTaskService struct {
	startScrape   func(workspaceID, competitorID uuid.UUID, opts track.ScrapeOptions) (*models.StartResponse, error)
	startAd       func(workspaceID uuid.UUID, adArchiveID string) (*models.StartResponse, error)
	startVideo    func(workspaceID uuid.UUID, req engine.VideoRequest) (*models.StartResponse, error)
	taskStatus    func(taskID string) (*models.Task, error)
	cancelTask    func(taskID string) error
	history       func(workspaceID uuid.UUID) ([]models.SessionRecord, error)
	removeHistory func(workspaceID uuid.UUID, taskID string) error
}

func (m *mockTaskService) StartScrape(_ context.Context, workspaceID, competitorID uuid.UUID, opts track.ScrapeOptions) (*models.StartResponse, error) {
	return m.startScrape(workspaceID, competitorID, opts)
}

func (m *mockTaskService) StartAdAnalysis(_ context.Context, workspaceID uuid.UUID, adArchiveID string) (*models.StartResponse, error) {
	return m.startAd(workspaceID, adArchiveID)
}

func (m *mockTaskService) StartAdSetAnalysis(_ context.Context, workspaceID, competitorID uuid.UUID, maxAds int) (*models.StartResponse, error) {
	return &models.StartResponse{TaskID: "adset-task"}, nil
}

func (m *mockTaskService) StartVideoGeneration(_ context.Context, workspaceID uuid.UUID, req engine.VideoRequest) (*models.StartResponse, error) {
	return m.startVideo(workspaceID, req)
}

func (m *mockTaskService) TaskStatus(_ context.Context, taskID string) (*models.Task, error) {
	return m.taskStatus(taskID)
}

func (m *mockTaskService) CancelTask(_ context.Context, taskID string) error {
	return m.cancelTask(taskID)
}

func (m *mockTaskService) History(_ context.Context, workspaceID uuid.UUID) ([]models.SessionRecord, error) {
	return m.history(workspaceID)
}

func (m *mockTaskService) RemoveHistory(_ context.Context, workspaceID uuid.UUID, taskID string) error {
	return m.removeHistory(workspaceID, taskID)
}

func (m *mockTaskService) ClearHistory(_ context.Context, workspaceID uuid.UUID) error {
	return nil
}

var _ TaskService = (*mockTaskService)(nil)

// request builds an authenticated request with chi URL params in place.
func request(t *testing.T, method, target string, workspaceID uuid.UUID, body any, params map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	ctx := mw.SetWorkspaceID(req.Context(), workspaceID)

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)

	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return body
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := decodeBody(t, w)["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %q", w.Body.String())
	}
	return errObj["code"].(string)
}

func TestStartScrape_Accepted(t *testing.T) {
	workspaceID := uuid.New()
	competitorID := uuid.New()

	var gotOpts track.ScrapeOptions
	svc := &mockTaskService{
		startScrape: func(ws, comp uuid.UUID, opts track.ScrapeOptions) (*models.StartResponse, error) {
			if ws != workspaceID || comp != competitorID {
				t.Errorf("wrong ids: %s %s", ws, comp)
			}
			gotOpts = opts
			return &models.StartResponse{TaskID: "task-1", Status: "queued"}, nil
		},
	}

	h := NewStartScrapeHandler(svc)
	req := request(t, "POST", "/api/v1/competitors/x/scrapes", workspaceID,
		map[string]any{"country_code": "US", "max_ads": 50},
		map[string]string{"competitorID": competitorID.String()})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["task_id"] != "task-1" {
		t.Errorf("task_id = %v", data["task_id"])
	}
	if gotOpts.CountryCode != "US" || gotOpts.MaxAds != 50 {
		t.Errorf("opts = %+v", gotOpts)
	}
}

func TestStartScrape_EmptyBodyAllowed(t *testing.T) {
	svc := &mockTaskService{
		startScrape: func(_, _ uuid.UUID, _ track.ScrapeOptions) (*models.StartResponse, error) {
			return &models.StartResponse{TaskID: "task-1"}, nil
		},
	}

	h := NewStartScrapeHandler(svc)
	req := request(t, "POST", "/api/v1/competitors/x/scrapes", uuid.New(), nil,
		map[string]string{"competitorID": uuid.New().String()})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestStartScrape_BadCompetitorID(t *testing.T) {
	h := NewStartScrapeHandler(&mockTaskService{})
	req := request(t, "POST", "/api/v1/competitors/x/scrapes", uuid.New(), nil,
		map[string]string{"competitorID": "not-a-uuid"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if code := errCode(t, w); code != "INVALID_REQUEST" {
		t.Errorf("code = %s", code)
	}
}

func TestStartScrape_UnknownCompetitor(t *testing.T) {
	svc := &mockTaskService{
		startScrape: func(_, _ uuid.UUID, _ track.ScrapeOptions) (*models.StartResponse, error) {
			return nil, store.ErrNotFound
		},
	}

	h := NewStartScrapeHandler(svc)
	req := request(t, "POST", "/api/v1/competitors/x/scrapes", uuid.New(), nil,
		map[string]string{"competitorID": uuid.New().String()})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStartScrape_DuplicateWatchConflict(t *testing.T) {
	svc := &mockTaskService{
		startScrape: func(_, _ uuid.UUID, _ track.ScrapeOptions) (*models.StartResponse, error) {
			return nil, poll.ErrDuplicateWatch
		},
	}

	h := NewStartScrapeHandler(svc)
	req := request(t, "POST", "/api/v1/competitors/x/scrapes", uuid.New(), nil,
		map[string]string{"competitorID": uuid.New().String()})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	if code := errCode(t, w); code != "TASK_IN_FLIGHT" {
		t.Errorf("code = %s", code)
	}
}

func TestStartScrape_EngineDown(t *testing.T) {
	svc := &mockTaskService{
		startScrape: func(_, _ uuid.UUID, _ track.ScrapeOptions) (*models.StartResponse, error) {
			return nil, engine.ErrEngineUnreachable
		},
	}

	h := NewStartScrapeHandler(svc)
	req := request(t, "POST", "/api/v1/competitors/x/scrapes", uuid.New(), nil,
		map[string]string{"competitorID": uuid.New().String()})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if code := errCode(t, w); code != "ENGINE_UNAVAILABLE" {
		t.Errorf("code = %s", code)
	}
}

func TestStartVideo_MissingPrompt(t *testing.T) {
	svc := &mockTaskService{
		startVideo: func(_ uuid.UUID, req engine.VideoRequest) (*models.StartResponse, error) {
			return nil, track.ErrPromptRequired
		},
	}

	h := NewStartVideoHandler(svc)
	req := request(t, "POST", "/api/v1/videos", uuid.New(), map[string]any{"source_ad_id": "a1"}, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestTaskStatus_PassesThroughSnapshot(t *testing.T) {
	svc := &mockTaskService{
		taskStatus: func(taskID string) (*models.Task, error) {
			return &models.Task{
				TaskID: taskID,
				State:  models.TaskProgress,
				Status: "rendering frame 12",
			}, nil
		},
	}

	h := NewTaskStatusHandler(svc)
	req := request(t, "GET", "/api/v1/tasks/task-9", uuid.New(), nil,
		map[string]string{"taskID": "task-9"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["task_id"] != "task-9" || data["state"] != "PROGRESS" {
		t.Errorf("data = %v", data)
	}
}

func TestTaskStatus_UnknownTask(t *testing.T) {
	svc := &mockTaskService{
		taskStatus: func(string) (*models.Task, error) { return nil, engine.ErrTaskNotFound },
	}

	h := NewTaskStatusHandler(svc)
	req := request(t, "GET", "/api/v1/tasks/ghost", uuid.New(), nil,
		map[string]string{"taskID": "ghost"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCancelTask_NotWatched(t *testing.T) {
	svc := &mockTaskService{
		cancelTask: func(string) error { return track.ErrNotWatched },
	}

	h := NewCancelTaskHandler(svc)
	req := request(t, "DELETE", "/api/v1/tasks/task-1", uuid.New(), nil,
		map[string]string{"taskID": "task-1"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHistory_ListsRecords(t *testing.T) {
	workspaceID := uuid.New()
	svc := &mockTaskService{
		history: func(ws uuid.UUID) ([]models.SessionRecord, error) {
			if ws != workspaceID {
				t.Errorf("workspace = %s", ws)
			}
			return []models.SessionRecord{
				{TaskID: "task-2", Kind: models.KindAdAnalysis, State: models.TaskSuccess},
				{TaskID: "task-1", Kind: models.KindScrape, State: models.TaskFailure},
			}, nil
		},
	}

	h := NewHistoryHandler(svc)
	req := request(t, "GET", "/api/v1/history", workspaceID, nil, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := decodeBody(t, w)["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("len = %d", len(data))
	}
	first := data[0].(map[string]any)
	if first["task_id"] != "task-2" {
		t.Errorf("first record = %v", first)
	}
}

func TestRemoveHistory_NoContent(t *testing.T) {
	var removed string
	svc := &mockTaskService{
		removeHistory: func(_ uuid.UUID, taskID string) error {
			removed = taskID
			return nil
		},
	}

	h := NewRemoveHistoryHandler(svc)
	req := request(t, "DELETE", "/api/v1/history/task-1", uuid.New(), nil,
		map[string]string{"taskID": "task-1"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if removed != "task-1" {
		t.Errorf("removed = %s", removed)
	}
}

func TestHandlers_MissingWorkspace(t *testing.T) {
	h := NewHistoryHandler(&mockTaskService{})

	// No workspace in context: auth middleware did not run.
	req := httptest.NewRequest("GET", "/api/v1/history", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}
