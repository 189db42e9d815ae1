package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 1, cfg.Pipeline.Workers)
	assert.Equal(t, 10000, cfg.Execution.MaxRows)
	assert.Equal(t, 10*time.Second, cfg.ExecutionTimeout())
	assert.Equal(t, time.Second, cfg.SlowThreshold())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  max_attempts: 5
  workers: 4
execution:
  timeout: 2s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 2*time.Second, cfg.ExecutionTimeout())
	// Untouched sections keep their defaults.
	assert.Equal(t, 10000, cfg.Execution.MaxRows)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: ["), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("SQLWEAVE_MAX_ATTEMPTS", "7")
	t.Setenv("SQLWEAVE_WORKERS", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, 7, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 1, cfg.Pipeline.Workers, "garbage env values are ignored")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.Pipeline.MaxAttempts = 9
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Pipeline.MaxAttempts)
}
