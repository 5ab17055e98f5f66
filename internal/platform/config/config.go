package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StoreBackend selects the correlation store implementation.
type StoreBackend string

const (
	BackendPostgres StoreBackend = "postgres"
	BackendRedis    StoreBackend = "redis"
	BackendMemory   StoreBackend = "memory"
)

// Server captures process-level configuration. Everything is env-driven so
// main stays lean and deployments stay twelve-factor.
type Server struct {
	Addr string

	// StoreBackend picks where correlation records live. Postgres is the
	// production default; memory is for development and tests.
	StoreBackend StoreBackend

	PostgresURL string
	Redis       RedisConfig

	// Pepper is the service-wide secret mixed into every entanglement hash.
	// The process refuses to start without it outside memory-backend mode.
	Pepper string

	// Retention bounds how long correlation records are kept before the
	// maintenance sweep purges them.
	Retention     time.Duration
	SweepInterval time.Duration
}

// RedisConfig holds connection tuning for the Redis-backed store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRetention matches the 30-day reference retention window.
const DefaultRetention = 30 * 24 * time.Hour

// FromEnv builds a Server config from environment variables.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:          envOr("CORRELATION_ADDR", ":8080"),
		StoreBackend:  StoreBackend(envOr("CORRELATION_STORE", string(BackendPostgres))),
		PostgresURL:   os.Getenv("DATABASE_URL"),
		Pepper:        os.Getenv("PII_HASH_PEPPER"),
		Retention:     DefaultRetention,
		SweepInterval: time.Hour,
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}

	if raw := os.Getenv("CORRELATION_RETENTION_DAYS"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			return Server{}, fmt.Errorf("invalid CORRELATION_RETENTION_DAYS %q", raw)
		}
		cfg.Retention = time.Duration(days) * 24 * time.Hour
	}
	if raw := os.Getenv("CORRELATION_SWEEP_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			return Server{}, fmt.Errorf("invalid CORRELATION_SWEEP_INTERVAL %q", raw)
		}
		cfg.SweepInterval = interval
	}

	switch cfg.StoreBackend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return Server{}, fmt.Errorf("unknown CORRELATION_STORE %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == BackendPostgres && cfg.PostgresURL == "" {
		return Server{}, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if cfg.StoreBackend == BackendRedis && cfg.Redis.URL == "" {
		return Server{}, fmt.Errorf("REDIS_URL is required for the redis backend")
	}
	if cfg.Pepper == "" && cfg.StoreBackend != BackendMemory {
		return Server{}, fmt.Errorf("PII_HASH_PEPPER is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
