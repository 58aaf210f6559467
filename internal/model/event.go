package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DetectedEvent is a candidate event produced by the detector.
type DetectedEvent struct {
	Kind      EventKind              `json:"kind"`
	Title     string                 `json:"title"`
	URL       string                 `json:"url"`
	Author    string                 `json:"author"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// EventLogEntry is a persisted, deduplicated event.
type EventLogEntry struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	TrackerID        uuid.UUID       `db:"tracker_id" json:"tracker_id"`
	EventKind        EventKind       `db:"event_kind" json:"event_kind"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	EventSignature   string          `db:"event_signature" json:"event_signature"`
	DetectedAt       time.Time       `db:"detected_at" json:"detected_at"`
	NotificationSent bool            `db:"notification_sent" json:"notification_sent"`
	NotifiedAt       *time.Time      `db:"notified_at" json:"notified_at,omitempty"`
}
