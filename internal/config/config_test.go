package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "alchemist", cfg.Identity.AgentID)
	assert.Equal(t, "cim.agent.alchemist", cfg.Bus.SubjectPrefix)
	assert.Equal(t, "cim.dialog.alchemist", cfg.Bus.DialogPrefix)
	assert.Equal(t, 5, cfg.Bus.Retry.MaxAttempts)
	assert.Equal(t, 100, cfg.Bus.Retry.InitialDelayMS)
	assert.Equal(t, 30, cfg.Bus.Retry.MaxDelaySec)
	assert.Equal(t, 2.0, cfg.Bus.Retry.Multiplier)
	assert.Equal(t, 120, cfg.Bus.DedupWindowSec)
	assert.Equal(t, 100, cfg.Dialog.MaxHistory)
	assert.Equal(t, 10, cfg.Dialog.ContextWindow)
	assert.Equal(t, 3600, cfg.Dialog.SessionTimeoutSec)
	assert.Equal(t, "vicuna", cfg.Model.Model)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	jsonStr := `{
		"identity": {"agentId": "alchemist-2"},
		"bus": {
			"url": "redis.internal:6379",
			"subjectPrefix": "cim.agent.alchemist",
			"dialogPrefix": "cim.dialog.alchemist",
			"retry": {"maxAttempts": 8, "initialDelayMs": 100, "maxDelaySec": 30, "multiplier": 2.0},
			"dedupWindowSec": 120
		},
		"dialog": {"maxHistory": 50, "contextWindow": 10, "sessionTimeoutSec": 3600}
	}`
	require.NoError(t, os.WriteFile(path, []byte(jsonStr), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alchemist-2", cfg.Identity.AgentID)
	assert.Equal(t, "redis.internal:6379", cfg.Bus.URL)
	assert.Equal(t, 8, cfg.Bus.Retry.MaxAttempts)
	assert.Equal(t, 50, cfg.Dialog.MaxHistory)

	// Sections the file omitted keep their defaults.
	assert.Equal(t, "http://localhost:11434", cfg.Model.BaseURL)
	assert.Equal(t, 30, cfg.Service.HandlerTimeoutSec)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Identity.AgentID = "alchemist-staging"
	cfg.Bus.DB = 2
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
