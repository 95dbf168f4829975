package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures the process configuration assembled from environment
// variables so main stays lean.
type Config struct {
	Addr        string
	Environment string

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	JWTSigningKey string
	// AdminTokenHash is the bcrypt hash of the back-office token used by the
	// audit and provisioning endpoints.
	AdminTokenHash string

	// GateCacheTTL bounds how stale a cached access decision may be.
	GateCacheTTL time.Duration
	// ToggleRetries is the number of times a toggle is retried after losing a
	// serialization conflict before the conflict surfaces to the caller.
	ToggleRetries int
}

// DatabaseConfig holds the connection strings for the primary store and the
// optional read replica used by the access gate.
type DatabaseConfig struct {
	URL     string
	ReadURL string
}

// RedisConfig holds Redis client settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the audit relay settings. Empty Brokers disables the
// relay and audit records stay in the outbox table.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds a Config from environment variables, applying development
// defaults where a variable is unset.
func FromEnv() Config {
	addr := os.Getenv("ORTHOPLUS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	env := os.Getenv("ORTHOPLUS_ENV")
	if env == "" {
		env = "development"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	auditTopic := os.Getenv("AUDIT_TOPIC")
	if auditTopic == "" {
		auditTopic = "orthoplus.module-audit"
	}

	return Config{
		Addr:        addr,
		Environment: env,
		Database: DatabaseConfig{
			URL:     os.Getenv("DATABASE_URL"),
			ReadURL: os.Getenv("READ_DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    brokers,
			AuditTopic: auditTopic,
		},
		JWTSigningKey:  jwtSigningKey,
		AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),
		GateCacheTTL:   envDuration("GATE_CACHE_TTL", 30*time.Second),
		ToggleRetries:  envInt("TOGGLE_RETRIES", 3),
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
