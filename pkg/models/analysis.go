package models

import (
	"time"

	"github.com/google/uuid"
)

// AdAnalysisRecord is the durable copy of a completed creative analysis,
// stored under the ad's archive id so it survives navigation and task-id
// churn on the engine side.
type AdAnalysisRecord struct {
	ID              uuid.UUID `db:"id"              json:"id"`
	WorkspaceID     uuid.UUID `db:"workspace_id"    json:"workspace_id"`
	AdArchiveID     string    `db:"ad_archive_id"   json:"ad_archive_id"`
	TaskID          string    `db:"task_id"         json:"task_id"`
	Transcript      string    `db:"transcript"      json:"transcript,omitempty"`
	HookScore       float64   `db:"hook_score"      json:"hook_score"`
	OverallScore    float64   `db:"overall_score"   json:"overall_score"`
	Summary         string    `db:"summary"         json:"summary"`
	Recommendations []string  `db:"recommendations" json:"recommendations,omitempty"`
	Model           string    `db:"model"           json:"model,omitempty"`
	CreatedAt       time.Time `db:"created_at"      json:"created_at"`
}
