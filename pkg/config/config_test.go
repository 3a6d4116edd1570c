package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 8, cfg.FanOut.Workers)
	assert.Equal(t, 3*time.Second, cfg.FanOut.WriteTimeout)
	assert.Equal(t, "content_changes", cfg.ChangeFeed.Channel)
	assert.Equal(t, []string{"assignments", "announcements", "study_groups", "events", "submissions", "grades"}, cfg.ChangeFeed.Tables)
	assert.Equal(t, 5, cfg.Hub.AssignmentsLimit)
	assert.Equal(t, 3, cfg.Hub.AnnouncementsLimit)
	assert.Equal(t, 50, cfg.Notification.DefaultLimit)
	assert.Equal(t, 30*24*time.Hour, cfg.Notification.Retention)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FANOUT_WORKERS", "16")
	t.Setenv("LIVE_QUEUE_SIZE", "4")
	t.Setenv("RECONCILE_WINDOW", "2h")
	t.Setenv("CHANGEFEED_TABLES", "assignments, events ,")
	t.Setenv("HUB_CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.FanOut.Workers)
	assert.Equal(t, 4, cfg.Live.QueueSize)
	assert.Equal(t, 2*time.Hour, cfg.Reconcile.Window)
	assert.Equal(t, []string{"assignments", "events"}, cfg.ChangeFeed.Tables)
	assert.Equal(t, time.Minute, cfg.Hub.CacheTTL)
}

func TestDatabaseDSN(t *testing.T) {
	dsn := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "feed", SSLMode: "disable"}.DSN()
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=feed sslmode=disable", dsn)
}
