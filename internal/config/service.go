// Package config provides configuration loading and validation for the
// service. Values come from the environment (a .env file is loaded by the
// CLI before this runs) with working single-machine defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Service holds the full runtime configuration.
type Service struct {
	// HTTP
	ListenAddr string `validate:"required"`
	PublicURL  string `validate:"required,url"`

	// Storage
	StorageBackend   string `validate:"oneof=local gcs"`
	StorageDir       string
	GCSBucket        string
	URLSigningSecret string

	// Jobs
	DatabaseURL string // empty selects the in-memory job store
	Workers     int    `validate:"min=0,max=256"`
	QueueDepth  int    `validate:"min=0"`
	JobTimeout  time.Duration
	MaxAttempts int `validate:"min=1,max=10"`

	// Renderer
	BridgeURL         string
	BridgeCallTimeout time.Duration
	BreakerFailures   int `validate:"min=1,max=100"`
	BreakerCooldown   time.Duration

	// Processing
	SlideParallelism    int     `validate:"min=1,max=32"`
	IoUCutoff           float64 `validate:"gt=0,lte=1"`
	SimilarityThreshold float64 `validate:"gt=0,lte=1"`

	// Result cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// Thumbnails
	ThumbnailsEnabled bool
	ThumbnailWidth    int `validate:"min=0,max=2048"`

	// Limits
	MaxUploadBytes int64 `validate:"min=1"`

	LogLevel string `validate:"oneof=trace debug info warn error"`
}

// FromEnv builds the configuration from environment variables.
func FromEnv() *Service {
	return &Service{
		ListenAddr: envStr("PPTX_LISTEN_ADDR", ":8080"),
		PublicURL:  envStr("PPTX_PUBLIC_URL", "http://localhost:8080"),

		StorageBackend:   envStr("PPTX_STORAGE_BACKEND", "local"),
		StorageDir:       envStr("PPTX_STORAGE_DIR", "./data"),
		GCSBucket:        os.Getenv("PPTX_GCS_BUCKET"),
		URLSigningSecret: os.Getenv("PPTX_URL_SIGNING_SECRET"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		Workers:     envInt("PPTX_WORKERS", 0),
		QueueDepth:  envInt("PPTX_QUEUE_DEPTH", 256),
		JobTimeout:  envDuration("PPTX_JOB_TIMEOUT", 5*time.Minute),
		MaxAttempts: envInt("PPTX_MAX_ATTEMPTS", 3),

		BridgeURL:         os.Getenv("PPTX_BRIDGE_URL"),
		BridgeCallTimeout: envDuration("PPTX_BRIDGE_TIMEOUT", 30*time.Second),
		BreakerFailures:   envInt("PPTX_BREAKER_FAILURES", 3),
		BreakerCooldown:   envDuration("PPTX_BREAKER_COOLDOWN", 30*time.Second),

		SlideParallelism:    envInt("PPTX_SLIDE_PARALLELISM", 4),
		IoUCutoff:           envFloat("PPTX_IOU_CUTOFF", 0.90),
		SimilarityThreshold: envFloat("PPTX_SIMILARITY_THRESHOLD", 0.70),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		CacheTTL:      envDuration("PPTX_CACHE_TTL", 24*time.Hour),

		ThumbnailsEnabled: envBool("PPTX_THUMBNAILS", false),
		ThumbnailWidth:    envInt("PPTX_THUMBNAIL_WIDTH", 320),

		MaxUploadBytes: int64(envInt("PPTX_MAX_UPLOAD_MB", 50)) * 1 << 20,

		LogLevel: envStr("PPTX_LOG_LEVEL", "info"),
	}
}

// Validate checks field constraints plus the cross-field rules the tag
// syntax cannot express.
func (c *Service) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.StorageBackend == "gcs" && c.GCSBucket == "" {
		return fmt.Errorf("config error: PPTX_GCS_BUCKET is required with the gcs backend")
	}
	if c.StorageBackend == "local" && c.StorageDir == "" {
		return fmt.Errorf("config error: PPTX_STORAGE_DIR is required with the local backend")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
