package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationJob batches the new events of one tracker from one poll cycle.
type NotificationJob struct {
	ID              uuid.UUID       `json:"id"`
	TrackerID       uuid.UUID       `json:"tracker_id"`
	UserID          uuid.UUID       `json:"user_id"`
	Email           string          `json:"email"`
	RepoName        string          `json:"repo_name"`
	Events          []DetectedEvent `json:"events"`
	EventSignatures []string        `json:"event_signatures"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
