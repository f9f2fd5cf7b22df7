/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusKind selects how domain events leave the process.
type EventBusKind string

const (
	EventBusMemory EventBusKind = "memory"
	EventBusRedis  EventBusKind = "redis"
	EventBusNATS   EventBusKind = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	Location      *time.Location // the organization's single working-day time zone

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis (cache, event bridge, leader election)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheEnabled  bool

	// Event distribution
	EventBus          EventBusKind
	NATSURL           string
	NATSSubjectPrefix string

	// Multi-instance configuration
	LeaderElectionEnabled bool
	InstanceID            string

	// Overdue slot watchdog
	WatchdogInterval time.Duration
	WatchdogGrace    time.Duration

	// Print asset verification against object storage
	AssetVerifyEnabled bool
	S3Bucket           string
	S3Region           string
	S3Endpoint         string // For S3-compatible services (MinIO etc.)
	S3AccessKeyID      string
	S3SecretAccessKey  string
	S3UsePathStyle     bool
}

// Load reads environment variables, applies defaults, and validates the result.
// A .env file in the working directory is honoured when present; real
// environment variables take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:   getEnv("SHOPFLOOR_ENV", "development"),
		HTTPBind:      getEnv("SHOPFLOOR_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("SHOPFLOOR_HTTP_PORT", 8080),
		DBBackend:     DatabaseBackend(getEnv("SHOPFLOOR_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:         getEnv("SHOPFLOOR_DB_DSN", ""),
		JWTSigningKey: getEnv("SHOPFLOOR_JWT_SIGNING_KEY", ""),

		TracingEnabled:    getEnvBool("SHOPFLOOR_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SHOPFLOOR_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SHOPFLOOR_TRACING_SAMPLE_RATE", 1.0),

		RedisAddr:     getEnv("SHOPFLOOR_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("SHOPFLOOR_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SHOPFLOOR_REDIS_DB", 0),
		CacheEnabled:  getEnvBool("SHOPFLOOR_CACHE_ENABLED", true),

		EventBus:          EventBusKind(getEnv("SHOPFLOOR_EVENT_BUS", string(EventBusMemory))),
		NATSURL:           getEnv("SHOPFLOOR_NATS_URL", "nats://localhost:4222"),
		NATSSubjectPrefix: getEnv("SHOPFLOOR_NATS_SUBJECT_PREFIX", "shopfloor"),

		LeaderElectionEnabled: getEnvBool("SHOPFLOOR_LEADER_ELECTION_ENABLED", false),
		InstanceID:            getEnv("SHOPFLOOR_INSTANCE_ID", ""),

		WatchdogInterval: time.Duration(getEnvInt("SHOPFLOOR_WATCHDOG_INTERVAL_SECONDS", 60)) * time.Second,
		WatchdogGrace:    time.Duration(getEnvInt("SHOPFLOOR_WATCHDOG_GRACE_MINUTES", 30)) * time.Minute,

		AssetVerifyEnabled: getEnvBool("SHOPFLOOR_ASSET_VERIFY_ENABLED", false),
		S3Bucket:           getEnv("SHOPFLOOR_S3_BUCKET", ""),
		S3Region:           getEnv("SHOPFLOOR_S3_REGION", "eu-central-1"),
		S3Endpoint:         getEnv("SHOPFLOOR_S3_ENDPOINT", ""),
		S3AccessKeyID:      getEnv("SHOPFLOOR_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:  getEnv("SHOPFLOOR_S3_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:     getEnvBool("SHOPFLOOR_S3_USE_PATH_STYLE", false),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SHOPFLOOR_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("SHOPFLOOR_JWT_SIGNING_KEY must be provided")
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}

	if cfg.AssetVerifyEnabled && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("SHOPFLOOR_S3_BUCKET is required when asset verification is enabled")
	}

	if cfg.WatchdogInterval <= 0 {
		return nil, fmt.Errorf("SHOPFLOOR_WATCHDOG_INTERVAL_SECONDS must be positive")
	}

	loc, err := time.LoadLocation(getEnv("SHOPFLOOR_LOCATION", "Europe/Berlin"))
	if err != nil {
		return nil, fmt.Errorf("load location: %w", err)
	}
	cfg.Location = loc

	return cfg, nil
}

// HTTPAddr returns the listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
