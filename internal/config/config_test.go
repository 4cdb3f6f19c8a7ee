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
	cfg := LoadFrom()
	assert.Equal(t, "rules", cfg.SuggestStrategy)
	assert.Equal(t, 168*time.Hour, cfg.Retention)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "9")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("JOB_LOCK_TTL", "90s")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "not-a-number")

	cfg := LoadFrom()
	assert.Equal(t, 9, cfg.WorkerConcurrency)
	assert.True(t, cfg.S3PathStyle)
	assert.Equal(t, 90*time.Second, cfg.JobLockTTL)
	assert.Equal(t, 1.0, cfg.RateLimitRefill, "invalid values fall back to defaults")
}

func TestLoadFromDotEnvFile(t *testing.T) {
	const key = "LLM_MODEL"
	prev, had := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LLM_MODEL=qwen2.5\n"), 0o600))

	cfg := LoadFrom(path, filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, "qwen2.5", cfg.LLMModel)
}

func TestEnvironmentWinsOverDotEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "7000")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9999\n"), 0o600))

	assert.Equal(t, "7000", LoadFrom(path).HTTPPort)
}
