package models

import (
	"encoding/json"
	"time"
)

// TaskState is the lifecycle state of an asynchronous engine job.
type TaskState string

const (
	TaskPending  TaskState = "PENDING"
	TaskProgress TaskState = "PROGRESS"
	TaskSuccess  TaskState = "SUCCESS"
	TaskFailure  TaskState = "FAILURE"
	TaskRevoked  TaskState = "REVOKED"
)

// Terminal reports whether no further state transitions are possible.
// Once a terminal state is observed for a task, no more status requests
// should be issued for it.
func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskFailure || s == TaskRevoked
}

// TaskKind identifies which engine job a task belongs to. The shape of a
// task's result payload depends on its kind.
type TaskKind string

const (
	KindScrape          TaskKind = "scrape"
	KindAdAnalysis      TaskKind = "ad_analysis"
	KindAdSetAnalysis   TaskKind = "adset_analysis"
	KindVideoGeneration TaskKind = "video_generation"
)

// ValidKind reports whether k is a known task kind.
func ValidKind(k TaskKind) bool {
	switch k {
	case KindScrape, KindAdAnalysis, KindAdSetAnalysis, KindVideoGeneration:
		return true
	}
	return false
}

// Task is a point-in-time snapshot of an asynchronous engine job, as
// returned by the engine's status endpoint. Result is populated only when
// State is SUCCESS; Error only when State is FAILURE. Status is advisory
// progress text and carries no guarantees.
type Task struct {
	TaskID string          `json:"task_id"`
	State  TaskState       `json:"state"`
	Status string          `json:"status,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StartResponse is the engine's reply when a job is enqueued.
type StartResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
}

// SessionRecord is a workspace-scoped history entry for a task. Context
// fields (kind, competitor, ad) are denormalized at start time so the
// record stays meaningful after the in-memory task is gone.
type SessionRecord struct {
	TaskID       string          `json:"task_id"`
	Kind         TaskKind        `json:"kind"`
	CompetitorID string          `json:"competitor_id,omitempty"`
	AdID         string          `json:"ad_id,omitempty"`
	State        TaskState       `json:"state"`
	Status       string          `json:"status,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	TimedOut     bool            `json:"timed_out,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SessionPatch is a partial update merged into an existing SessionRecord.
// Nil fields are left untouched.
type SessionPatch struct {
	State    *TaskState
	Status   *string
	Result   json.RawMessage
	Error    *string
	TimedOut *bool
}

// Apply merges the patch into r and bumps UpdatedAt.
func (p SessionPatch) Apply(r *SessionRecord, now time.Time) {
	if p.State != nil {
		r.State = *p.State
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Result != nil {
		r.Result = p.Result
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	if p.TimedOut != nil {
		r.TimedOut = *p.TimedOut
	}
	r.UpdatedAt = now
}
