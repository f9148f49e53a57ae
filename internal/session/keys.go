package session

import (
	"fmt"

	"github.com/google/uuid"
)

// HistoryKey is the Redis key holding a workspace's task history.
func HistoryKey(workspaceID uuid.UUID) string {
	return fmt.Sprintf("session:history:%s", workspaceID)
}

// RateLimitKey is the Redis key for an API key's request counter.
func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
