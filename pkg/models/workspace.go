package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace represents a team or brand account. Every other entity belongs
// to a workspace, and session history is scoped per workspace.
type Workspace struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
