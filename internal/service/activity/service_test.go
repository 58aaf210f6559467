package activity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/repo-tracker/internal/eventlog"
	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/repository/memory"
	"github.com/jwalitptl/repo-tracker/internal/signature"
	"github.com/jwalitptl/repo-tracker/internal/snapshot"
	"github.com/jwalitptl/repo-tracker/internal/source"
	"github.com/jwalitptl/repo-tracker/pkg/lock"
	memqueue "github.com/jwalitptl/repo-tracker/pkg/messaging/memory"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu     sync.Mutex
	snaps  map[string]*model.Snapshot
	errs   map[string]error
	hook   func(owner, name string)
	called int
}

func newFakeSource() *fakeSource {
	return &fakeSource{snaps: map[string]*model.Snapshot{}, errs: map[string]error{}}
}

func (f *fakeSource) FetchSnapshot(_ context.Context, owner, name string) (*model.Snapshot, error) {
	f.mu.Lock()
	f.called++
	snap, err, hook := f.snaps[owner+"/"+name], f.errs[owner+"/"+name], f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(owner, name)
	}
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, source.ErrNotFound
	}
	c := *snap
	return &c, nil
}

func (f *fakeSource) VerifyResource(context.Context, string, string) (*source.ResourceStatus, error) {
	return &source.ResourceStatus{Exists: true}, nil
}

type failingQueue struct {
	*memqueue.Queue[model.NotificationJob]
}

func (failingQueue) Enqueue(context.Context, model.NotificationJob) error {
	return errors.New("queue down")
}

type fixture struct {
	store     *memory.Store
	snapshots *snapshot.MemoryStore
	source    *fakeSource
	locker    *lock.MemoryLocker
	queue     *memqueue.Queue[model.NotificationJob]
	svc       *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewStore(),
		snapshots: snapshot.NewMemoryStore(time.Hour),
		source:    newFakeSource(),
		locker:    lock.NewMemoryLocker(),
		queue:     memqueue.NewQueue[model.NotificationJob](),
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = time.Millisecond
	}
	f.svc = NewService(Dependencies{
		Trackers:  f.store.Trackers(),
		Events:    eventlog.New(f.store.Events()),
		Snapshots: f.snapshots,
		Source:    f.source,
		Locker:    f.locker,
		Queue:     f.queue,
	}, cfg)
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *fixture) addTracker(t *testing.T, name string, subs ...model.EventKind) *model.Tracker {
	t.Helper()
	tr := &model.Tracker{
		UserID:      uuid.New(),
		NotifyEmail: name + "@example.com",
		Owner:       "acme",
		Name:        name,
		FullName:    "acme/" + name,
		IsActive:    true,
	}
	for _, k := range subs {
		tr.Subscriptions = append(tr.Subscriptions, model.Subscription{Kind: k})
	}
	require.NoError(t, f.store.Trackers().Create(context.Background(), tr))
	return tr
}

func (f *fixture) tracker(t *testing.T, id uuid.UUID) *model.Tracker {
	t.Helper()
	tr, err := f.store.Trackers().Get(context.Background(), id)
	require.NoError(t, err)
	return tr
}

func baseSnapshot(name string) *model.Snapshot {
	return &model.Snapshot{
		Owner:         "acme",
		Name:          name,
		FullName:      "acme/" + name,
		URL:           "https://github.com/acme/" + name,
		DefaultBranch: "main",
		Stars:         50,
		Issues: []model.Issue{
			{Number: 10, URL: "https://github.com/acme/" + name + "/issues/10", CreatedAt: now.Add(-72 * time.Hour)},
			{Number: 11, URL: "https://github.com/acme/" + name + "/issues/11", CreatedAt: now.Add(-48 * time.Hour)},
		},
		Releases:  []model.Release{{TagName: "v1.0.0", PublishedAt: now.Add(-240 * time.Hour)}},
		Branches:  []model.Branch{{Name: "main"}},
		FetchedAt: now.Add(-15 * time.Minute),
	}
}

func TestCheckTrackersEndToEnd(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tr := f.addTracker(t, "widgets", model.EventNewIssue)

	prev := baseSnapshot("widgets")
	prevSig, err := signature.Compute(prev)
	require.NoError(t, err)
	require.NoError(t, f.store.Trackers().UpdateSignature(ctx, tr.ID, prevSig, now.Add(-15*time.Minute)))
	f.snapshots.Set(ctx, tr.ResourceKey(), prev, time.Hour)

	next := baseSnapshot("widgets")
	next.Issues = append(next.Issues, model.Issue{
		Number:    12,
		Title:     "crash",
		URL:       "https://github.com/acme/widgets/issues/12",
		CreatedAt: now.Add(-3 * time.Minute),
	})
	next.Releases = append(next.Releases, model.Release{TagName: "v1.1.0", PublishedAt: now.Add(-time.Minute)})
	f.source.snaps["acme/widgets"] = next

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.TotalEvents)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Results[0].Events)

	entries, err := f.store.Events().ListByTracker(ctx, tr.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EventNewIssue, entries[0].EventKind)
	assert.False(t, entries[0].NotificationSent)

	jobs := f.queue.Items()
	require.Len(t, jobs, 1)
	require.Len(t, jobs[0].Events, 1)
	assert.Equal(t, "https://github.com/acme/widgets/issues/12", jobs[0].Events[0].URL)
	assert.Equal(t, []string{entries[0].EventSignature}, jobs[0].EventSignatures)
	assert.Equal(t, "widgets@example.com", jobs[0].Email)

	nextSig, err := signature.Compute(next)
	require.NoError(t, err)
	assert.Equal(t, nextSig, f.tracker(t, tr.ID).Signature())

	// A second run over unchanged upstream state adds nothing.
	report, err = f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.TotalEvents)
	assert.Len(t, f.queue.Items(), 1)
}

func TestCheckTrackersFirstObservationOnlySeeds(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tr := f.addTracker(t, "widgets", model.AllEventKinds()...)

	snap := baseSnapshot("widgets")
	snap.Stars = 5000
	snap.Issues = append(snap.Issues, model.Issue{Number: 12, URL: "u", CreatedAt: now.Add(-time.Minute)})
	f.source.snaps["acme/widgets"] = snap

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.TotalEvents)
	assert.Empty(t, f.queue.Items())
	assert.NotEmpty(t, f.tracker(t, tr.ID).Signature())
	assert.NotNil(t, f.snapshots.Get(ctx, tr.ResourceKey()))
}

func TestCheckTrackersUnchangedSignatureReseedsBaseline(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tr := f.addTracker(t, "widgets", model.EventNewIssue)

	snap := baseSnapshot("widgets")
	sig, err := signature.Compute(snap)
	require.NoError(t, err)
	require.NoError(t, f.store.Trackers().UpdateSignature(ctx, tr.ID, sig, now.Add(-time.Hour)))
	f.source.snaps["acme/widgets"] = snap

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, report.TotalEvents)

	got := f.tracker(t, tr.ID)
	require.NotNil(t, got.LastCheckedAt)
	assert.Equal(t, now, *got.LastCheckedAt)
	assert.NotNil(t, f.snapshots.Get(ctx, tr.ResourceKey()))
}

func TestCheckTrackersErrorThreshold(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	nine := f.addTracker(t, "nine", model.EventNewIssue)
	eight := f.addTracker(t, "eight", model.EventNewIssue)
	for i := 0; i < 9; i++ {
		_, _, err := f.store.Trackers().RecordFailure(ctx, nine.ID, "old", 10)
		require.NoError(t, err)
	}
	for i := 0; i < 8; i++ {
		_, _, err := f.store.Trackers().RecordFailure(ctx, eight.ID, "old", 10)
		require.NoError(t, err)
	}
	f.source.errs["acme/nine"] = errors.New("upstream 502")
	f.source.errs["acme/eight"] = errors.New("upstream 502")

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Errored)

	gotNine := f.tracker(t, nine.ID)
	assert.False(t, gotNine.IsActive)
	assert.Equal(t, 10, gotNine.ErrorCount)
	require.NotNil(t, gotNine.LastError)
	assert.Contains(t, *gotNine.LastError, "upstream 502")

	gotEight := f.tracker(t, eight.ID)
	assert.True(t, gotEight.IsActive)
	assert.Equal(t, 9, gotEight.ErrorCount)
}

func TestCheckTrackersSuccessResetsErrorCount(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tr := f.addTracker(t, "widgets", model.EventNewIssue)
	_, _, err := f.store.Trackers().RecordFailure(ctx, tr.ID, "old", 10)
	require.NoError(t, err)
	f.source.snaps["acme/widgets"] = baseSnapshot("widgets")

	_, err = f.svc.CheckTrackers(ctx)
	require.NoError(t, err)

	got := f.tracker(t, tr.ID)
	assert.Zero(t, got.ErrorCount)
	assert.Nil(t, got.LastError)
}

func TestCheckTrackersBatchIsolation(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 5})
	ctx := context.Background()

	names := []string{"one", "two", "three", "four", "five"}
	ids := map[string]uuid.UUID{}
	for _, n := range names {
		ids[n] = f.addTracker(t, n, model.EventNewIssue).ID
		f.source.snaps["acme/"+n] = baseSnapshot(n)
	}
	f.source.errs["acme/three"] = errors.New("boom")

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 5)
	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Errored)

	for _, r := range report.Results {
		if r.TrackerID == ids["three"] {
			assert.Contains(t, r.Error, "boom")
		} else {
			assert.Empty(t, r.Error, r.Repo)
		}
	}
}

func TestCheckTrackersRecoversPanics(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tr := f.addTracker(t, "widgets", model.EventNewIssue)
	ok := f.addTracker(t, "gadgets", model.EventNewIssue)
	f.source.snaps["acme/widgets"] = baseSnapshot("widgets")
	f.source.snaps["acme/gadgets"] = baseSnapshot("gadgets")
	f.source.hook = func(_, name string) {
		if name == "widgets" {
			panic("nil map")
		}
	}

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errored)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, f.tracker(t, tr.ID).ErrorCount)
	assert.Zero(t, f.tracker(t, ok.ID).ErrorCount)
}

func TestCheckTrackersSkipsWhenLocked(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.addTracker(t, "widgets", model.EventNewIssue)

	_, held := f.locker.Acquire(ctx, "check-trackers-job", time.Minute)
	require.True(t, held)

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, report.Processed)
	assert.Zero(t, f.source.called)
}

func TestCheckTrackersReleasesLock(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)

	_, ok := f.locker.Acquire(ctx, "check-trackers-job", time.Minute)
	assert.True(t, ok)
}

func TestCheckTrackersInterruptedBetweenBatches(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 1, BatchDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.addTracker(t, "one", model.EventNewIssue)
	f.addTracker(t, "two", model.EventNewIssue)
	f.source.snaps["acme/one"] = baseSnapshot("one")
	f.source.snaps["acme/two"] = baseSnapshot("two")
	f.source.hook = func(string, string) { cancel() }

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Len(t, report.Results, 1)
	assert.Equal(t, 1, f.source.called)
}

func TestCheckTrackersQueueFailureDoesNotFailTracker(t *testing.T) {
	f := newFixture(t, Config{})
	f.svc.queue = failingQueue{f.queue}
	ctx := context.Background()
	tr := f.addTracker(t, "widgets", model.EventNewIssue)

	prev := baseSnapshot("widgets")
	f.snapshots.Set(ctx, tr.ResourceKey(), prev, time.Hour)
	next := baseSnapshot("widgets")
	next.Issues = append(next.Issues, model.Issue{Number: 12, URL: "u12", CreatedAt: now.Add(-time.Minute)})
	f.source.snaps["acme/widgets"] = next

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.TotalEvents)
	assert.Zero(t, f.tracker(t, tr.ID).ErrorCount)
}

func TestCheckTrackersListFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.FailOn = func(op string, _ uuid.UUID) error {
		if op == "list_active" {
			return errors.New("db down")
		}
		return nil
	}

	report, err := f.svc.CheckTrackers(context.Background())
	assert.Error(t, err)
	assert.Nil(t, report)

	_, ok := f.locker.Acquire(context.Background(), "check-trackers-job", time.Minute)
	assert.True(t, ok, "lock is released on failure")
}

func TestCheckTrackersRecordFailureLeavesNothingHalfWritten(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tr := f.addTracker(t, "widgets", model.EventNewIssue)

	prev := baseSnapshot("widgets")
	f.snapshots.Set(ctx, tr.ResourceKey(), prev, time.Hour)
	next := baseSnapshot("widgets")
	next.Issues = append(next.Issues,
		model.Issue{Number: 12, URL: "u12", CreatedAt: now.Add(-2 * time.Minute)},
		model.Issue{Number: 13, URL: "u13", CreatedAt: now.Add(-time.Minute)},
	)
	f.source.snaps["acme/widgets"] = next

	inserts := 0
	f.store.FailOn = func(op string, _ uuid.UUID) error {
		if op != "record_event" {
			return nil
		}
		inserts++
		if inserts == 2 {
			return errors.New("connection reset")
		}
		return nil
	}

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errored)
	assert.Empty(t, f.queue.Items())
	entries, err := f.store.Events().ListByTracker(ctx, tr.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	f.store.FailOn = nil
	report, err = f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.TotalEvents)

	entries, err = f.store.Events().ListByTracker(ctx, tr.ID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	jobs := f.queue.Items()
	require.Len(t, jobs, 1)
	assert.Len(t, jobs[0].EventSignatures, 2)
}

func TestCheckTrackersBatchesRunInSequenceWithDelay(t *testing.T) {
	const delay = 50 * time.Millisecond
	f := newFixture(t, Config{BatchSize: 2, BatchDelay: delay})
	ctx := context.Background()

	for _, name := range []string{"one", "two", "three", "four"} {
		f.addTracker(t, name, model.EventNewIssue)
		f.source.snaps["acme/"+name] = baseSnapshot(name)
	}

	type span struct{ start, end time.Time }
	var mu sync.Mutex
	var spans []span
	f.source.hook = func(string, string) {
		start := time.Now()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		spans = append(spans, span{start: start, end: time.Now()})
		mu.Unlock()
	}

	report, err := f.svc.CheckTrackers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Succeeded)

	require.Len(t, spans, 4)
	sort.Slice(spans, func(i, j int) bool { return spans[i].start.Before(spans[j].start) })
	firstDone := spans[0].end
	if spans[1].end.After(firstDone) {
		firstDone = spans[1].end
	}
	for _, s := range spans[2:] {
		assert.GreaterOrEqual(t, s.start.Sub(firstDone), delay,
			"second batch must start after the first one finished and the delay elapsed")
	}
}
