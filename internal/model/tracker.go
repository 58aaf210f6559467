package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind names a detectable change on a tracked repository.
type EventKind string

const (
	EventMergeToDefault EventKind = "merge_to_default"
	EventPRMerged       EventKind = "pr_merged"
	EventNewBranch      EventKind = "new_branch"
	EventNewIssue       EventKind = "new_issue"
	EventNewPR          EventKind = "new_pr"
	EventNewRelease     EventKind = "new_release"
	EventNewPreRelease  EventKind = "new_pre_release"
	EventNewFork        EventKind = "new_fork"
	EventStarsMilestone EventKind = "stars_milestone"
)

const (
	// DefaultErrorLimit is the failure count that deactivates a tracker.
	DefaultErrorLimit = 10

	// UnknownAuthor stands in when upstream data carries no author.
	UnknownAuthor = "unknown"
)

// AllEventKinds lists every kind a tracker may subscribe to.
func AllEventKinds() []EventKind {
	return []EventKind{
		EventMergeToDefault,
		EventPRMerged,
		EventNewBranch,
		EventNewIssue,
		EventNewPR,
		EventNewRelease,
		EventNewPreRelease,
		EventNewFork,
		EventStarsMilestone,
	}
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	for _, known := range AllEventKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Subscription is one subscribed kind with an optional parameter
// (a base branch for merge/PR rules, a label for issue rules).
type Subscription struct {
	Kind  EventKind `json:"kind" binding:"required"`
	Param string    `json:"param,omitempty"`
}

// Subscriptions is stored as a JSON column.
type Subscriptions []Subscription

// Value implements driver.Valuer.
func (s Subscriptions) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *Subscriptions) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported subscriptions column type %T", src)
	}
}

// Lookup returns the subscription for kind, if present.
func (s Subscriptions) Lookup(kind EventKind) (Subscription, bool) {
	for _, sub := range s {
		if sub.Kind == kind {
			return sub, true
		}
	}
	return Subscription{}, false
}

// Tracker is one user's subscription to one repository.
type Tracker struct {
	ID                    uuid.UUID     `db:"id" json:"id"`
	UserID                uuid.UUID     `db:"user_id" json:"user_id"`
	NotifyEmail           string        `db:"notify_email" json:"notify_email"`
	Owner                 string        `db:"owner" json:"owner"`
	Name                  string        `db:"name" json:"name"`
	FullName              string        `db:"full_name" json:"full_name"`
	Subscriptions         Subscriptions `db:"subscriptions" json:"subscriptions"`
	IsActive              bool          `db:"is_active" json:"is_active"`
	IsPaused              bool          `db:"is_paused" json:"is_paused"`
	LastActivitySignature *string       `db:"last_activity_signature" json:"-"`
	LastCheckedAt         *time.Time    `db:"last_checked_at" json:"last_checked_at,omitempty"`
	ErrorCount            int           `db:"error_count" json:"error_count"`
	LastError             *string       `db:"last_error" json:"last_error,omitempty"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

// ResourceKey identifies the tracker's baseline in the snapshot store. It is
// scoped to the tracker because signatures are stored per tracker too.
func (t *Tracker) ResourceKey() string {
	return t.Owner + "/" + t.Name + ":" + t.ID.String()
}

// Signature returns the last observed activity signature or "".
func (t *Tracker) Signature() string {
	if t.LastActivitySignature == nil {
		return ""
	}
	return *t.LastActivitySignature
}
