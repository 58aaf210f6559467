package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "check-trackers-job", cfg.Tracker.JobName)
	assert.Equal(t, 5, cfg.Tracker.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Tracker.BatchDelay)
	assert.Equal(t, 5*time.Minute, cfg.Tracker.LockTTL)
	assert.Equal(t, 10, cfg.Tracker.ErrorThreshold)
	assert.Equal(t, 100*time.Millisecond, cfg.Notification.InterJobDelay)
	assert.Equal(t, "send-email-job", cfg.Notification.JobName)
	assert.Zero(t, cfg.Notification.MaxAttempts)
	assert.Greater(t, cfg.Tracker.SnapshotTTL, cfg.Tracker.PollInterval)
}

func TestLoadConfigFileAndSecrets(t *testing.T) {
	dir := t.TempDir()
	yml := []byte("tracker:\n  batch_size: 3\n  lookback: 2h\nauth:\n  cron_secret: from-file\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), yml, 0o600))
	t.Setenv("CRON_SECRET", "from-env")
	t.Setenv("TRACKER_TRACKER_BATCH_DELAY", "500ms")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Tracker.BatchSize)
	assert.Equal(t, 2*time.Hour, cfg.Tracker.Lookback)
	assert.Equal(t, 500*time.Millisecond, cfg.Tracker.BatchDelay)
	assert.Equal(t, "from-env", cfg.Auth.CronSecret)
}

func TestLoadConfigRejectsLookbackShorterThanPoll(t *testing.T) {
	dir := t.TempDir()
	yml := []byte("tracker:\n  poll_interval: 30m\n  lookback: 10m\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), yml, 0o600))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadConfigRejectsSnapshotTTLWithinPoll(t *testing.T) {
	dir := t.TempDir()
	yml := []byte("tracker:\n  poll_interval: 15m\n  snapshot_ttl: 10m\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), yml, 0o600))

	_, err := LoadConfig(dir)
	assert.Error(t, err, "a baseline that expires before the next poll is never warm")
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", c.MigrateURL())

	c.URL = "postgres://x"
	assert.Equal(t, "postgres://x", c.DSN())
}

func TestMigrateURLEscapesCredentials(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "svc", Password: "p@ss/w:rd", Name: "n", SSLMode: "require"}

	raw := c.MigrateURL()
	assert.Equal(t, "postgres://svc:p%40ss%2Fw%3Ard@db:5432/n?sslmode=require", raw)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss/w:rd", pass)
	assert.Equal(t, "db:5432", u.Host)
}
