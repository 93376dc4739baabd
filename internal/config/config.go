package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the pipeline. Values come from
// TUBEFLOW_* environment variables with defaults matching the original
// deployment.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string

	WatchDir      string
	ProcessedDir  string
	ThumbnailDir  string
	WatchInterval time.Duration

	RecordsDBPath string

	MaxConcurrentJobs int
	SchedulerTick     time.Duration
	MonitorTick       time.Duration

	// Whole-upload retry (outer layer).
	UploadRetryAttempts int
	UploadRetryDelay    time.Duration

	// Per-chunk retry (inner layer).
	ChunkRetryAttempts int
	ChunkRetryBase     time.Duration
	ChunkSize          int64 // bytes; 0 sends the whole file in one request

	MaxFileSize     int64
	ValidExtensions []string

	YouTubeBaseURL string
	YouTubeAPIKey  string

	SoraBaseURL      string
	SoraAPIKey       string
	PollInterval     time.Duration
	PollMaxAttempts  int
	EnableThumbnails bool
}

const maxFileSizeDefault = 2 << 30 // 2 GiB, the host's upload limit

func Load() Config {
	return Config{
		ListenAddr:     envString("TUBEFLOW_LISTEN_ADDR", ":8080"),
		AllowedOrigins: []string{envString("TUBEFLOW_UI_ORIGIN", "http://localhost:5173")},

		WatchDir:      envString("TUBEFLOW_WATCH_DIR", "videos/input"),
		ProcessedDir:  envString("TUBEFLOW_PROCESSED_DIR", "videos/processed"),
		ThumbnailDir:  envString("TUBEFLOW_THUMBNAIL_DIR", "videos/thumbnails"),
		WatchInterval: envDuration("TUBEFLOW_WATCH_INTERVAL", 30*time.Second),

		RecordsDBPath: envString("TUBEFLOW_DB_PATH", "tubeflow.db"),

		MaxConcurrentJobs: envInt("TUBEFLOW_MAX_CONCURRENT_JOBS", 3),
		SchedulerTick:     envDuration("TUBEFLOW_SCHEDULER_TICK", time.Second),
		MonitorTick:       envDuration("TUBEFLOW_MONITOR_TICK", 5*time.Second),

		UploadRetryAttempts: envInt("TUBEFLOW_UPLOAD_RETRY_ATTEMPTS", 3),
		UploadRetryDelay:    envDuration("TUBEFLOW_UPLOAD_RETRY_DELAY", 60*time.Second),

		ChunkRetryAttempts: envInt("TUBEFLOW_CHUNK_RETRY_ATTEMPTS", 3),
		ChunkRetryBase:     envDuration("TUBEFLOW_CHUNK_RETRY_BASE", time.Second),
		ChunkSize:          envInt64("TUBEFLOW_CHUNK_SIZE", 0),

		MaxFileSize:     envInt64("TUBEFLOW_MAX_FILE_SIZE", maxFileSizeDefault),
		ValidExtensions: []string{".mp4", ".mov", ".avi", ".mkv", ".webm"},

		YouTubeBaseURL: envString("TUBEFLOW_YOUTUBE_BASE_URL", "https://www.googleapis.com/upload/youtube/v3"),
		YouTubeAPIKey:  os.Getenv("TUBEFLOW_YOUTUBE_API_KEY"),

		SoraBaseURL:      envString("TUBEFLOW_SORA_BASE_URL", "https://api.openai.com/v1/video"),
		SoraAPIKey:       os.Getenv("TUBEFLOW_SORA_API_KEY"),
		PollInterval:     envDuration("TUBEFLOW_POLL_INTERVAL", 5*time.Second),
		PollMaxAttempts:  envInt("TUBEFLOW_POLL_MAX_ATTEMPTS", 120),
		EnableThumbnails: envBool("TUBEFLOW_ENABLE_THUMBNAILS", false),
	}
}

func envString(key, fallback string) string {
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
