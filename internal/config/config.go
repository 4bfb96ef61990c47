package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port             int
	DatabaseURL      string
	GCSBucket        string
	NatsURL          string
	NatsToken        string
	LogLevel         string
	Workers          int
	QueueSize        int
	MediaConcurrency int
	RunTimeout       time.Duration
	MaxUploadBytes   int64
}

func Load() Config {
	return Config{
		Port:             envInt("ZAPVAULT_PORT", 8080),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		GCSBucket:        envStr("GCS_BUCKET_NAME", ""),
		NatsURL:          envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:        envStr("NATS_TOKEN", ""),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		Workers:          envInt("ZAPVAULT_WORKERS", 2),
		QueueSize:        envInt("ZAPVAULT_QUEUE_SIZE", 32),
		MediaConcurrency: envInt("ZAPVAULT_MEDIA_CONCURRENCY", 4),
		RunTimeout:       envDuration("ZAPVAULT_RUN_TIMEOUT", 10*time.Minute),
		MaxUploadBytes:   int64(envInt("ZAPVAULT_MAX_UPLOAD_MB", 512)) * 1024 * 1024,
	}
}

func envStr(key, fallback string) string {
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
