// Package config loads server configuration from environment variables, with
// an optional YAML deployment profile overriding the defaults.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// Store backend: "sqlite" or "postgres".
	StoreBackend string
	SQLitePath   string
	DatabaseURL  string

	// Blob storage is configured through BLOB_* env vars read by the blob
	// package factory; nothing to carry here.

	// Groups resolution.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth.
	JWTSecret string

	// Rate limiting (requests per second per actor; 0 disables).
	RateLimitRPS   float64
	RateLimitBurst int

	// Present permission failures as 404 (existence hiding).
	HideForbidden bool

	// Metrics export.
	MetricsEnabled bool
	OTLPEndpoint   string

	// Audit log file; empty means stdout.
	AuditLogPath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:           envOr("PORT", "8080"),
		LogLevel:       envOr("LOG_LEVEL", "INFO"),
		StoreBackend:   envOr("STORE_BACKEND", "sqlite"),
		SQLitePath:     envOr("SQLITE_PATH", "datakeep.db"),
		DatabaseURL:    envOr("DATABASE_URL", "postgres://datakeep@localhost:5432/datakeep?sslmode=disable"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        envInt("REDIS_DB", 0),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
		HideForbidden:  os.Getenv("HIDE_FORBIDDEN") == "true",
		MetricsEnabled: os.Getenv("METRICS_ENABLED") == "true",
		OTLPEndpoint:   envOr("OTLP_ENDPOINT", "localhost:4317"),
		AuditLogPath:   os.Getenv("AUDIT_LOG_PATH"),
	}
	return cfg
}

func envOr(key, fallback string) string {
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
