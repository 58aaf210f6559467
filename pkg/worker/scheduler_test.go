package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerValidatesJobs(t *testing.T) {
	_, err := NewScheduler(Config{}, nil, Job{Name: "x", Interval: time.Second})
	assert.Error(t, err)

	_, err = NewScheduler(Config{}, nil, Job{Name: "x", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	var runs, failing atomic.Int32
	s, err := NewScheduler(Config{RunOnStart: true}, nil,
		Job{Name: "count", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			runs.Add(1)
			return nil
		}},
		Job{Name: "fail", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			if failing.Add(1) == 1 {
				panic("boom")
			}
			return errors.New("still failing")
		}},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 3 && failing.Load() >= 3 },
		time.Second, 5*time.Millisecond, "errors and panics must not stop the loop")
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerAppliesTimeout(t *testing.T) {
	deadline := make(chan bool, 1)
	s, err := NewScheduler(Config{RunOnStart: true}, nil, Job{
		Name:     "slow",
		Interval: time.Hour,
		Timeout:  20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			select {
			case deadline <- ok:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	select {
	case ok := <-deadline:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}
