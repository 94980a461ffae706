package config

import (
	"math"
	"os"
	"strconv"
	"time"

	pkgstrings "auditflow/pkg/platform/strings"
)

// Config is the full process configuration, built from the environment so
// main stays lean.
type Config struct {
	Server       Server
	Log          Log
	Database     Database
	Redis        RedisConfig
	Kafka        Kafka
	SLA          SLA
	Approval     Approval
	Notification Notification
	CatalogPath  string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
	ShutdownTimeout time.Duration
}

type Log struct {
	Level  string
	Format string
}

// Database is optional; an empty URL selects in-memory stores.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional; an empty URL selects the in-process subject lock.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka is optional; no brokers selects the log notification publisher.
type Kafka struct {
	Brokers           []string
	NotificationTopic string
	Partitions        int32
	ReplicationFactor int16
}

// SLA tunes the evaluator and sweeper.
type SLA struct {
	SweepInterval    time.Duration
	SweepConcurrency int
	DedupWindow      time.Duration
	LockTTL          time.Duration
}

// Approval tunes the step sequencer.
type Approval struct {
	StrictSequential bool
	CascadeSkip      bool
}

// Notification tunes the dispatcher.
type Notification struct {
	QueueSize  int
	Workers    int
	MaxRetries int
}

// FromEnv builds a Config from environment variables with development defaults.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr: envString("AUDITFLOW_ADDR", ":8080"),
			// Use a default for development - should be overridden in production
			JWTSigningKey:   envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:       envString("JWT_ISSUER", "auditflow"),
			JWTAudience:     envString("JWT_AUDIENCE", "auditflow-api"),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: Log{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		Database: Database{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:           envList("KAFKA_BROKERS"),
			NotificationTopic: envString("KAFKA_NOTIFICATION_TOPIC", "sla.notifications"),
			Partitions:        int32(envIntInRange("KAFKA_NOTIFICATION_PARTITIONS", 3, 1, math.MaxInt32)),
			ReplicationFactor: int16(envIntInRange("KAFKA_REPLICATION_FACTOR", 1, 1, math.MaxInt16)),
		},
		SLA: SLA{
			SweepInterval:    envDuration("SLA_SWEEP_INTERVAL", 60*time.Second),
			SweepConcurrency: envInt("SLA_SWEEP_CONCURRENCY", 8),
			DedupWindow:      envDuration("SLA_DEDUP_WINDOW", time.Hour),
			LockTTL:          envDuration("SLA_LOCK_TTL", 30*time.Second),
		},
		Approval: Approval{
			StrictSequential: os.Getenv("APPROVAL_STRICT_SEQUENTIAL") == "true",
			CascadeSkip:      os.Getenv("APPROVAL_CASCADE_SKIP") == "true",
		},
		Notification: Notification{
			QueueSize: envInt("NOTIFY_QUEUE_SIZE", 1024),
			Workers:   envInt("NOTIFY_WORKERS", 4),
			// Zero retries means a single delivery attempt.
			MaxRetries: envIntInRange("NOTIFY_MAX_RETRIES", 5, 0, math.MaxInt),
		},
		CatalogPath: envString("CATALOG_PATH", "configs/catalog.yaml"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	return envIntInRange(key, fallback, 1, math.MaxInt)
}

// envIntInRange falls back on values outside [lo, hi], so narrowing
// conversions by the caller never wrap.
func envIntInRange(key string, fallback, lo, hi int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= lo && n <= hi {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	return pkgstrings.SplitList(os.Getenv(key))
}
