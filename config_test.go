package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 300, cfg.DiscussionSeconds)
	assert.Equal(t, 60, cfg.VotingSeconds)
	assert.False(t, cfg.Dev)
}

func TestLoadConfigEnvLayer(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("STORE", "redis")
	t.Setenv("DISCUSSION_SECONDS", "120")
	t.Setenv("VOTING_SECONDS", "not-a-number")
	t.Setenv("LOG_DEBUG", "true")

	cfg := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, 120, cfg.DiscussionSeconds)
	assert.Equal(t, 60, cfg.VotingSeconds, "malformed env int falls back to default")
	assert.True(t, cfg.LogDebug)
}

func TestLoadConfigFileOverridesEnv(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("VOTING_SECONDS", "45")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"addr":":7070","discussion_seconds":90}`), 0o644))

	cfg := loadConfig(path)
	assert.Equal(t, ":7070", cfg.Addr, "file wins over env")
	assert.Equal(t, 90, cfg.DiscussionSeconds)
	assert.Equal(t, 45, cfg.VotingSeconds, "fields absent from the file keep the env value")
	assert.Equal(t, "memory", cfg.Store)
}
