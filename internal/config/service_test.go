package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "local", cfg.StorageBackend)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, int64(50)<<20, cfg.MaxUploadBytes)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PPTX_LISTEN_ADDR", ":9999")
	t.Setenv("PPTX_WORKERS", "8")
	t.Setenv("PPTX_JOB_TIMEOUT", "90s")
	t.Setenv("PPTX_THUMBNAILS", "true")
	t.Setenv("PPTX_MAX_UPLOAD_MB", "10")

	cfg := FromEnv()
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)
	assert.True(t, cfg.ThumbnailsEnabled)
	assert.Equal(t, int64(10)<<20, cfg.MaxUploadBytes)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("PPTX_WORKERS", "many")
	t.Setenv("PPTX_JOB_TIMEOUT", "soon")

	cfg := FromEnv()
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	cfg.StorageBackend = "s3"
	assert.Error(t, cfg.Validate())

	cfg.StorageBackend = "gcs"
	cfg.GCSBucket = ""
	assert.Error(t, cfg.Validate())
	cfg.GCSBucket = "slides-bucket"
	assert.NoError(t, cfg.Validate())

	cfg = FromEnv()
	cfg.LogLevel = "loud"
	assert.Error(t, cfg.Validate())

	cfg = FromEnv()
	cfg.MaxUploadBytes = 0
	assert.Error(t, cfg.Validate())
}
