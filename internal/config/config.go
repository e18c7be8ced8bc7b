// Package config loads the service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
)

// AI backends.
const (
	AIGemini = "gemini"
	AIVertex = "vertex"
)

// Archive backends. Empty disables archiving.
const (
	ArchiveGCS = "gcs"
	ArchiveS3  = "s3"
)

type Config struct {
	Port string

	// Namespace is the application id in the document path
	// artifacts/{Namespace}/users/{user}/pps_data/{file}.
	Namespace string
	ProjectID string

	// Storage
	StoreBackend      string
	FirestoreDatabase string
	DatabaseURL       string
	WriteTimeout      time.Duration
	Debounce          time.Duration

	// Generation tokens are shared through Redis when set.
	RedisURL string

	// Header aliases (YAML), optional.
	AliasFile string

	// Text generation
	AIBackend     string
	GeminiModel   string
	GeminiBaseURL string
	GeminiTimeout time.Duration
	VertexRegion  string
	VertexModel   string

	// Batch generation
	BatchConcurrency    int
	BatchRPM            int
	BatchMaxRetries     int
	BatchInitialBackoff time.Duration
	BatchMaxBackoff     time.Duration

	// Upload limits
	MaxUploadBytes int64
	SessionIdle    time.Duration

	// Archive
	ArchiveBackend string
	ArchiveBucket  string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3Secure       bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8080"),

		Namespace: envOr("APP_NAMESPACE", "default-app-id"),
		ProjectID: envOr("PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),

		StoreBackend:      envOr("STORE_BACKEND", StoreFirestore),
		FirestoreDatabase: envOr("FIRESTORE_DATABASE", "(default)"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		WriteTimeout:      envDuration("WRITE_TIMEOUT", 30*time.Second),
		Debounce:          envDuration("PERSIST_DEBOUNCE", 1500*time.Millisecond),

		RedisURL:  os.Getenv("REDIS_URL"),
		AliasFile: os.Getenv("COLUMN_ALIASES_FILE"),

		AIBackend:     envOr("AI_BACKEND", AIGemini),
		GeminiModel:   envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL: os.Getenv("GEMINI_BASE_URL"),
		GeminiTimeout: envDuration("GEMINI_TIMEOUT", 60*time.Second),
		VertexRegion:  envOr("VERTEX_AI_REGION", "us-central1"),
		VertexModel:   envOr("VERTEX_AI_MODEL", "gemini-2.0-flash"),

		BatchConcurrency:    envInt("BATCH_CONCURRENCY", 1),
		BatchRPM:            envInt("BATCH_REQUESTS_PER_MINUTE", 30),
		BatchMaxRetries:     envInt("BATCH_MAX_RATE_LIMIT_RETRIES", 5),
		BatchInitialBackoff: envDuration("BATCH_INITIAL_BACKOFF", 2*time.Second),
		BatchMaxBackoff:     envDuration("BATCH_MAX_BACKOFF", time.Minute),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 20<<20),
		SessionIdle:    envDuration("SESSION_IDLE", 2*time.Hour),

		ArchiveBackend: os.Getenv("ARCHIVE_BACKEND"),
		ArchiveBucket:  os.Getenv("ARCHIVE_BUCKET"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Region:       os.Getenv("S3_REGION"),
		S3Secure:       envBool("S3_SECURE", true),
	}

	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}
	if cfg.BatchRPM <= 0 {
		cfg.BatchRPM = 30
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 1500 * time.Millisecond
	}

	return cfg
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreFirestore:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("PROJECT_ID is required for the firestore store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of firestore, postgres, memory", c.StoreBackend))
	}

	switch c.AIBackend {
	case AIGemini:
	case AIVertex:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("PROJECT_ID is required for the vertex backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("AI_BACKEND %q is not one of gemini, vertex", c.AIBackend))
	}

	switch c.ArchiveBackend {
	case "":
	case ArchiveGCS:
		if c.ArchiveBucket == "" {
			errs = append(errs, errors.New("ARCHIVE_BUCKET is required for the gcs archive"))
		}
	case ArchiveS3:
		if c.ArchiveBucket == "" || c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			errs = append(errs, errors.New("ARCHIVE_BUCKET, S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("ARCHIVE_BACKEND %q is not one of gcs, s3", c.ArchiveBackend))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
