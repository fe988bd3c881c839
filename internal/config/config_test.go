package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "evolutionary", cfg.Optimization.Algorithm)
	assert.Equal(t, 0.05, cfg.Optimization.LearningRate)
	assert.Equal(t, 8, cfg.Optimization.NumSamples)
	assert.Equal(t, 1, cfg.Optimization.NumSteps)
	assert.Equal(t, 200, cfg.Optimization.MaxIterations)
	assert.False(t, cfg.Optimization.UnrollLoop)

	// Development defaults to verbose logs.
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("OPT_LEARNING_RATE", "0.5")
	t.Setenv("OPT_NUM_SAMPLES", "16")
	t.Setenv("OPT_UNROLL_LOOP", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 0.5, cfg.Optimization.LearningRate)
	assert.Equal(t, 16, cfg.Optimization.NumSamples)
	assert.True(t, cfg.Optimization.UnrollLoop)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
http:
  port: 7070
optimization:
  num_samples: 32
  seed: 99
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("OPT_LEARNING_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	// File values win over the environment where both are set.
	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, 32, cfg.Optimization.NumSamples)
	assert.Equal(t, int64(99), cfg.Optimization.Seed)
	// Fields absent from the file keep their environment values.
	assert.Equal(t, 0.25, cfg.Optimization.LearningRate)
}

func TestLoadFileErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
	t.Setenv("CONFIG_FILE", path)
	_, err = Load()
	assert.Error(t, err)
}
