// Package config loads the control plane's process configuration from
// the environment (spec §9: "env-var/flag driven"), following the
// teacher's api/cmd/main.go getEnv/getEnvInt pattern extended with a
// getEnvDuration helper for the spec's several duration- and
// disable-with-negative-one settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/cache"
	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/events"
	"github.com/kweaver-ai/sandboxctl/internal/execution"
	"github.com/kweaver-ai/sandboxctl/internal/lifecycle"
	"github.com/kweaver-ai/sandboxctl/internal/reconcile"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
)

// Config aggregates every subsystem's settings, loaded once at process
// start and passed down to each component's constructor.
type Config struct {
	Port string

	DB     db.Config
	NATS   events.Config
	Cache  cache.Config
	Store  storage.Config
	Lifecycle lifecycle.Config
	Reconcile reconcile.Config
	Execution execution.Config

	// KubernetesNamespace scopes the Kubernetes Container Scheduler
	// adapter's client (empty disables that adapter for this instance).
	KubernetesNamespace string
	// DockerHost is the Docker Container Scheduler adapter's client
	// endpoint (empty uses the Docker SDK's own DOCKER_HOST default).
	DockerHost string

	// ExternalAPISecret authenticates upstream agents against the
	// external API surface (spec §4.6).
	ExternalAPISecret string
	// InternalAPISecret authenticates executor/adapter callbacks against
	// the internal API surface (spec §4.6). Must differ from
	// ExternalAPISecret.
	InternalAPISecret string

	RateLimitEnabled  bool
	RateLimitPerSecond float64
	RateLimitBurst    int

	HeartbeatSweepInterval time.Duration
	ReaperInterval         time.Duration
	ReplenishInterval      time.Duration

	LogLevel   string
	LogPretty  bool
}

// Load reads every setting from the environment, applying the same
// defaults the teacher's main.go falls back to when a variable is unset.
func Load() (Config, error) {
	cfg := Config{
		Port: getEnv("API_PORT", "8080"),

		DB: db.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "sandboxctl"),
			Password: getEnv("DB_PASSWORD", "sandboxctl"),
			DBName:   getEnv("DB_NAME", "sandboxctl"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},

		NATS: events.Config{
			URL:      os.Getenv("NATS_URL"),
			User:     os.Getenv("NATS_USER"),
			Password: os.Getenv("NATS_PASSWORD"),
		},

		Cache: cache.Config{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnv("CACHE_ENABLED", "false") == "true",
		},

		Store: storage.Config{
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Bucket:          getEnv("S3_BUCKET", "sandboxctl-workspaces"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			UseSSL:          getEnv("S3_USE_SSL", "true") == "true",
			PathStyle:       getEnv("S3_PATH_STYLE", "false") == "true",
		},

		KubernetesNamespace: os.Getenv("KUBERNETES_NAMESPACE"),
		DockerHost:          os.Getenv("DOCKER_HOST"),

		ExternalAPISecret: os.Getenv("EXTERNAL_API_SECRET"),
		InternalAPISecret: os.Getenv("INTERNAL_API_SECRET"),

		RateLimitEnabled:   getEnv("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerSecond: getEnvFloat("RATE_LIMIT_REQUESTS_PER_SECOND", 10),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),

		HeartbeatSweepInterval: getEnvDuration("HEARTBEAT_SWEEP_INTERVAL", 15*time.Second),
		ReaperInterval:         getEnvDuration("REAPER_INTERVAL", 60*time.Second),
		ReplenishInterval:      getEnvDuration("REPLENISH_INTERVAL", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnv("LOG_PRETTY", "false") == "true",
	}

	cfg.Lifecycle = lifecycle.Config{
		WorkspaceBucket:    fmt.Sprintf("s3://%s", cfg.Store.Bucket),
		Runtime:            getEnv("DEFAULT_RUNTIME", events.RuntimeDocker),
		DefaultTimeout:     getEnvDuration("SESSION_DEFAULT_TIMEOUT", 6*time.Hour),
		IdleThreshold:      getEnvDisableableSeconds("SESSION_IDLE_THRESHOLD_SECONDS", 30*time.Minute),
		DisableMaxLifetime: getEnvInt("SESSION_MAX_LIFETIME_SECONDS", 0) < 0,
	}

	cfg.Reconcile = reconcile.Config{
		Interval:               getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		NodeHeartbeatStaleness: getEnvDuration("NODE_HEARTBEAT_STALENESS", 90*time.Second),
		NodeDrainGraceSeconds:  int64(getEnvInt("NODE_DRAIN_GRACE_SECONDS", 300)),
	}

	cfg.Execution = execution.Config{
		ConnectTimeout: getEnvDuration("EXECUTOR_CONNECT_TIMEOUT", 5*time.Second),
		ReadTimeout:    getEnvDuration("EXECUTOR_READ_TIMEOUT", 30*time.Second),
		SubmitRetries:  getEnvInt("EXECUTOR_SUBMIT_RETRIES", 3),
		SubmitBackoff:  getEnvDuration("EXECUTOR_SUBMIT_BACKOFF", 500*time.Millisecond),
	}

	if cfg.ExternalAPISecret == "" {
		return Config{}, fmt.Errorf("EXTERNAL_API_SECRET environment variable must be set")
	}
	if cfg.InternalAPISecret == "" {
		return Config{}, fmt.Errorf("INTERNAL_API_SECRET environment variable must be set")
	}
	if cfg.ExternalAPISecret == cfg.InternalAPISecret {
		return Config{}, fmt.Errorf("EXTERNAL_API_SECRET and INTERNAL_API_SECRET must differ")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvDisableableSeconds applies spec's "-1 disables" convention: key
// holds a plain integer count of seconds, and a negative value must
// survive unchanged (not collapse to 0) because lifecycle.NewManager
// only applies its 30-minute default when IdleThreshold is exactly the
// Go zero value, treating any negative value as an explicit disable
// passed straight through to db.SessionDB.GetIdleSessions.
func getEnvDisableableSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}
