// Package detector turns the difference between two snapshots of a
// repository into typed, timestamped events.
package detector

import (
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/repo-tracker/internal/model"
)

// DefaultLookback is the window within which a timestamped change still
// counts as new. It must be at least the poll interval.
const DefaultLookback = 60 * time.Minute

// MaxClockSkew is how far in the future an upstream timestamp may lie and
// still count as new.
const MaxClockSkew = 2 * time.Minute

// StarMilestones are evaluated in ascending order.
var StarMilestones = []int{100, 500, 1000, 5000, 10000}

// Detector compares a new snapshot against the prior one for a single
// tracker's subscriptions.
type Detector struct {
	subs     model.Subscriptions
	prev     *model.Snapshot
	lookback time.Duration
	now      func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithLookback overrides DefaultLookback.
func WithLookback(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.lookback = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(det *Detector) {
		if now != nil {
			det.now = now
		}
	}
}

// New builds a detector. prev may be nil, in which case Detect only
// establishes a baseline and returns nothing.
func New(subs model.Subscriptions, prev *model.Snapshot, opts ...Option) *Detector {
	d := &Detector{
		subs:     subs,
		prev:     prev,
		lookback: DefaultLookback,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the candidate events in next. The output is advisory:
// the same underlying change may be reported again on a later call and is
// filtered by the event log.
func (d *Detector) Detect(next *model.Snapshot) []model.DetectedEvent {
	if d.prev == nil || next == nil {
		return []model.DetectedEvent{}
	}

	now := d.now()
	events := make([]model.DetectedEvent, 0)

	if sub, ok := d.subs.Lookup(model.EventMergeToDefault); ok {
		target := sub.Param
		if target == "" {
			target = next.DefaultBranch
		}
		events = append(events, d.mergedPRs(next, model.EventMergeToDefault, target, now)...)
	}
	if sub, ok := d.subs.Lookup(model.EventPRMerged); ok {
		events = append(events, d.mergedPRs(next, model.EventPRMerged, sub.Param, now)...)
	}
	if _, ok := d.subs.Lookup(model.EventNewBranch); ok {
		events = append(events, d.newBranches(next)...)
	}
	if sub, ok := d.subs.Lookup(model.EventNewIssue); ok {
		events = append(events, d.newIssues(next, sub.Param, now)...)
	}
	if sub, ok := d.subs.Lookup(model.EventNewPR); ok {
		events = append(events, d.newPRs(next, sub.Param, now)...)
	}
	if _, ok := d.subs.Lookup(model.EventNewRelease); ok {
		events = append(events, d.newReleases(next, false)...)
	}
	if _, ok := d.subs.Lookup(model.EventNewPreRelease); ok {
		events = append(events, d.newReleases(next, true)...)
	}
	if _, ok := d.subs.Lookup(model.EventNewFork); ok {
		events = append(events, d.newForks(next, now)...)
	}
	if _, ok := d.subs.Lookup(model.EventStarsMilestone); ok {
		if e, ok := d.starsMilestone(next, now); ok {
			events = append(events, e)
		}
	}

	return events
}

func (d *Detector) withinLookback(t, now time.Time) bool {
	if t.IsZero() {
		return false
	}
	age := now.Sub(t)
	return age >= -MaxClockSkew && age <= d.lookback
}

func (d *Detector) mergedPRs(next *model.Snapshot, kind model.EventKind, base string, now time.Time) []model.DetectedEvent {
	var out []model.DetectedEvent
	for _, pr := range next.PullRequests {
		if !pr.Merged || pr.MergedAt == nil {
			continue
		}
		if base != "" && pr.BaseBranch != base {
			continue
		}
		if !d.withinLookback(*pr.MergedAt, now) {
			continue
		}
		out = append(out, model.DetectedEvent{
			Kind:      kind,
			Title:     fmt.Sprintf("PR #%d merged into %s: %s", pr.Number, pr.BaseBranch, pr.Title),
			URL:       pr.URL,
			Author:    authorOrUnknown(pr.Author),
			Timestamp: pr.MergedAt.UTC(),
			Metadata: map[string]interface{}{
				"number":      pr.Number,
				"base_branch": pr.BaseBranch,
				"head_branch": pr.HeadBranch,
			},
		})
	}
	return out
}

func (d *Detector) newBranches(next *model.Snapshot) []model.DetectedEvent {
	known := make(map[string]struct{}, len(d.prev.Branches))
	for _, b := range d.prev.Branches {
		known[b.Name] = struct{}{}
	}

	var out []model.DetectedEvent
	for _, b := range next.Branches {
		if _, ok := known[b.Name]; ok {
			continue
		}
		ts := b.CommittedAt
		if ts.IsZero() {
			ts = next.FetchedAt
		}
		out = append(out, model.DetectedEvent{
			Kind:      model.EventNewBranch,
			Title:     fmt.Sprintf("New branch %s", b.Name),
			URL:       fmt.Sprintf("%s/tree/%s", next.URL, b.Name),
			Author:    authorOrUnknown(b.Author),
			Timestamp: ts.UTC(),
			Metadata: map[string]interface{}{
				"branch":   b.Name,
				"head_sha": b.HeadSHA,
			},
		})
	}
	return out
}

func (d *Detector) newIssues(next *model.Snapshot, label string, now time.Time) []model.DetectedEvent {
	var out []model.DetectedEvent
	for _, is := range next.Issues {
		if !d.withinLookback(is.CreatedAt, now) {
			continue
		}
		if label != "" && !hasLabel(is.Labels, label) {
			continue
		}
		out = append(out, model.DetectedEvent{
			Kind:      model.EventNewIssue,
			Title:     fmt.Sprintf("Issue #%d: %s", is.Number, is.Title),
			URL:       is.URL,
			Author:    authorOrUnknown(is.Author),
			Timestamp: is.CreatedAt.UTC(),
			Metadata: map[string]interface{}{
				"number": is.Number,
				"labels": is.Labels,
			},
		})
	}
	return out
}

func (d *Detector) newPRs(next *model.Snapshot, base string, now time.Time) []model.DetectedEvent {
	var out []model.DetectedEvent
	for _, pr := range next.PullRequests {
		if !d.withinLookback(pr.CreatedAt, now) {
			continue
		}
		if base != "" && pr.BaseBranch != base {
			continue
		}
		out = append(out, model.DetectedEvent{
			Kind:      model.EventNewPR,
			Title:     fmt.Sprintf("PR #%d opened: %s", pr.Number, pr.Title),
			URL:       pr.URL,
			Author:    authorOrUnknown(pr.Author),
			Timestamp: pr.CreatedAt.UTC(),
			Metadata: map[string]interface{}{
				"number":      pr.Number,
				"base_branch": pr.BaseBranch,
			},
		})
	}
	return out
}

func (d *Detector) newReleases(next *model.Snapshot, prerelease bool) []model.DetectedEvent {
	known := d.prev.ReleaseTags()
	kind := model.EventNewRelease
	label := "Release"
	if prerelease {
		kind = model.EventNewPreRelease
		label = "Pre-release"
	}

	var out []model.DetectedEvent
	for _, r := range next.Releases {
		if r.Prerelease != prerelease {
			continue
		}
		if _, ok := known[r.TagName]; ok {
			continue
		}
		name := r.Name
		if name == "" {
			name = r.TagName
		}
		ts := r.PublishedAt
		if ts.IsZero() {
			ts = next.FetchedAt
		}
		out = append(out, model.DetectedEvent{
			Kind:      kind,
			Title:     fmt.Sprintf("%s %s", label, name),
			URL:       r.URL,
			Author:    authorOrUnknown(r.Author),
			Timestamp: ts.UTC(),
			Metadata: map[string]interface{}{
				"tag": r.TagName,
			},
		})
	}
	return out
}

func (d *Detector) newForks(next *model.Snapshot, now time.Time) []model.DetectedEvent {
	var out []model.DetectedEvent
	for _, f := range next.Forks {
		if !d.withinLookback(f.CreatedAt, now) {
			continue
		}
		out = append(out, model.DetectedEvent{
			Kind:      model.EventNewFork,
			Title:     fmt.Sprintf("Forked to %s", f.FullName),
			URL:       f.URL,
			Author:    authorOrUnknown(f.Owner),
			Timestamp: f.CreatedAt.UTC(),
			Metadata: map[string]interface{}{
				"fork": f.FullName,
			},
		})
	}
	return out
}

// starsMilestone reports only the lowest threshold crossed in this poll.
func (d *Detector) starsMilestone(next *model.Snapshot, now time.Time) (model.DetectedEvent, bool) {
	for _, threshold := range StarMilestones {
		if d.prev.Stars < threshold && next.Stars >= threshold {
			return model.DetectedEvent{
				Kind:      model.EventStarsMilestone,
				Title:     fmt.Sprintf("%s reached %d stars", next.FullName, threshold),
				URL:       fmt.Sprintf("%s/stargazers", next.URL),
				Author:    model.UnknownAuthor,
				Timestamp: now.UTC(),
				Metadata: map[string]interface{}{
					"threshold": threshold,
					"stars":     next.Stars,
				},
			}, true
		}
	}
	return model.DetectedEvent{}, false
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, want) {
			return true
		}
	}
	return false
}

func authorOrUnknown(author string) string {
	if strings.TrimSpace(author) == "" {
		return model.UnknownAuthor
	}
	return author
}
