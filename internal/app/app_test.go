package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/repo-tracker/internal/config"
)

func TestServiceConfigMapping(t *testing.T) {
	a := ActivityConfig(config.TrackerConfig{
		JobName:        "check",
		BatchSize:      7,
		BatchDelay:     time.Second,
		Lookback:       time.Hour,
		SnapshotTTL:    20 * time.Minute,
		LockTTL:        time.Minute,
		ErrorThreshold: 3,
	})
	assert.Equal(t, "check", a.JobName)
	assert.Equal(t, 7, a.BatchSize)
	assert.Equal(t, time.Hour, a.Lookback)
	assert.Equal(t, 20*time.Minute, a.SnapshotTTL)
	assert.Equal(t, 3, a.ErrorThreshold)

	n := NotificationConfig(config.NotificationConfig{
		JobName:       "send",
		InterJobDelay: time.Millisecond,
		MaxJobs:       9,
		MaxAttempts:   2,
		LockTTL:       time.Minute,
	})
	assert.Equal(t, "send", n.JobName)
	assert.Equal(t, 9, n.MaxJobs)
	assert.Equal(t, 2, n.MaxAttempts)
}
