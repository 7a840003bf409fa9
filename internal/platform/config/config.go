package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. FromEnv keeps main lean; every
// value has a development default so the server starts with no environment.
type Config struct {
	Addr          string
	LogLevel      string
	PostgresURL   string
	RedisURL      string
	KafkaBrokers  string
	JWTSigningKey string

	// FieldEncryptionKey is the master key for metadata field encryption.
	// Per-purpose keys are derived from it, never used raw.
	FieldEncryptionKey string

	PurgeInterval time.Duration
	DSRTopic      string
	DSRGroupID    string

	// HTTPWriteTimeout bounds a single response write; audit exports can be
	// large, so the default is generous.
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:               getEnv("CUSTODIA_ADDR", ":8080"),
		LogLevel:           getEnv("CUSTODIA_LOG_LEVEL", "info"),
		PostgresURL:        getEnv("CUSTODIA_POSTGRES_URL", ""),
		RedisURL:           getEnv("CUSTODIA_REDIS_URL", ""),
		KafkaBrokers:       getEnv("CUSTODIA_KAFKA_BROKERS", ""),
		JWTSigningKey:      getEnv("CUSTODIA_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		FieldEncryptionKey: getEnv("CUSTODIA_FIELD_KEY", "dev-field-key-change-in-production"),
		PurgeInterval:      getDuration("CUSTODIA_PURGE_INTERVAL", 24*time.Hour),
		DSRTopic:           getEnv("CUSTODIA_DSR_TOPIC", "compliance.dsr.process"),
		DSRGroupID:         getEnv("CUSTODIA_DSR_GROUP", "custodia-dsr-workers"),
		HTTPWriteTimeout:   getDuration("CUSTODIA_HTTP_WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    getDuration("CUSTODIA_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if hours, err := strconv.Atoi(v); err == nil {
		return time.Duration(hours) * time.Hour
	}
	return fallback
}
