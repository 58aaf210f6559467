package model

import (
	"time"

	"github.com/google/uuid"
)

// TrackerResult is the per-tracker outcome of a detection run.
type TrackerResult struct {
	TrackerID uuid.UUID `json:"tracker_id"`
	Repo      string    `json:"repo"`
	Events    int       `json:"events"`
	Skipped   bool      `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// RunReport aggregates one invocation of the detection job.
type RunReport struct {
	Job             string          `json:"job"`
	Skipped         bool            `json:"skipped"`
	Interrupted     bool            `json:"interrupted"`
	Processed       int             `json:"processed"`
	Succeeded       int             `json:"succeeded"`
	Errored         int             `json:"errored"`
	SkippedTrackers int             `json:"skipped_trackers"`
	TotalEvents     int             `json:"total_events"`
	DurationMS      int64           `json:"duration_ms"`
	StartedAt       time.Time       `json:"started_at"`
	Results         []TrackerResult `json:"results"`
}

// DeliveryResult is the per-job outcome of a queue drain.
type DeliveryResult struct {
	JobID     uuid.UUID `json:"job_id"`
	TrackerID uuid.UUID `json:"tracker_id"`
	Recipient string    `json:"recipient"`
	Events    int       `json:"events"`
	Sent      bool      `json:"sent"`
	Error     string    `json:"error,omitempty"`
}

// DrainReport aggregates one invocation of the notification drain.
type DrainReport struct {
	Job          string           `json:"job"`
	Skipped      bool             `json:"skipped"`
	Processed    int              `json:"processed"`
	Sent         int              `json:"sent"`
	Failed       int              `json:"failed"`
	DeadLettered int              `json:"dead_lettered"`
	Remaining    int              `json:"remaining"`
	DurationMS   int64            `json:"duration_ms"`
	StartedAt    time.Time        `json:"started_at"`
	Results      []DeliveryResult `json:"results"`
}
