package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DIRECTORY_DRIVER", "")
	t.Setenv("SEED_SESSIONS", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Engagement.DirectoryDriver)
	assert.Equal(t, 5*time.Second, cfg.Engagement.StoreTimeout)
	assert.Equal(t, 6, cfg.Engagement.PollMaxOptions)
	assert.Equal(t, 256, cfg.Engagement.ClientSendBuffer)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DIRECTORY_DRIVER", "Memory")
	t.Setenv("STORE_TIMEOUT_MS", "250")
	t.Setenv("REDIS_BACKPLANE", "true")
	t.Setenv("SEED_SESSIONS", "ABC123:t1:Chemistry, XYZ789:t2")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Engagement.DirectoryDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.Engagement.StoreTimeout)
	assert.True(t, cfg.Redis.Backplane)
	assert.Equal(t, []SeedSession{
		{Code: "ABC123", TeacherID: "t1", Title: "Chemistry"},
		{Code: "XYZ789", TeacherID: "t2", Title: "XYZ789"},
	}, cfg.Engagement.SeedSessions)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DIRECTORY_DRIVER", "sqlite")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DIRECTORY_DRIVER", "memory")
	t.Setenv("SEED_SESSIONS", "ABC123")
	_, err = Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "classroom", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/classroom?sslmode=disable", c.DSN())
	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}
