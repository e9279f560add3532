package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the easyauto service.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	TickInterval       time.Duration `json:"-"`
	TickIntervalStr    string        `json:"tick_interval"`
	SchedulerBatchSize int           `json:"scheduler_batch_size"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the dispatcher's maximum retry window
	// (dispatcher.MaxRetryDuration).
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	// ReconcileMaxAge is the age after which an orphan is marked failed
	// instead of re-emitted. 0 re-emits forever.
	ReconcileMaxAge    time.Duration `json:"-"`
	ReconcileMaxAgeStr string        `json:"reconcile_max_age"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`
	EventBusBufferSize int `json:"eventbus_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// LeaderElectionEnabled gates the scheduler, reconciler and rule file
	// watcher behind a Postgres advisory lock. Without it every instance runs them.
	LeaderElectionEnabled bool `json:"leader_election_enabled"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	// RulesFile is an optional YAML rule file imported at startup and
	// re-imported whenever it changes.
	RulesFile string `json:"rules_file,omitempty"`

	// RuleRefreshInterval is how often the in-memory rule index is rebuilt
	// from the store, picking up rules created through the API on other instances.
	RuleRefreshInterval    time.Duration `json:"-"`
	RuleRefreshIntervalStr string        `json:"rule_refresh_interval"`
}

// Default values applied by Load.
const (
	DefaultEventBusBufferSize = 100
	DefaultSchedulerBatchSize = 500
	DefaultLeaderLockKey      = 728379
)

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		TickIntervalStr:            os.Getenv("TICK_INTERVAL"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr:  os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		MetricsPort:                os.Getenv("METRICS_PORT"),
		ReconcileEnabled:           os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:       os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:      os.Getenv("RECONCILE_THRESHOLD"),
		ReconcileMaxAgeStr:         os.Getenv("RECONCILE_MAX_AGE"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		LeaderElectionEnabled:      os.Getenv("LEADER_ELECTION_ENABLED") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
		RulesFile:                  os.Getenv("RULES_FILE"),
		RuleRefreshIntervalStr:     os.Getenv("RULE_REFRESH_INTERVAL"),
	}

	cfg.ReconcileBatchSize = positiveInt("RECONCILE_BATCH_SIZE", 100)
	cfg.EventBusBufferSize = positiveInt("EVENTBUS_BUFFER_SIZE", DefaultEventBusBufferSize)
	cfg.SchedulerBatchSize = positiveInt("SCHEDULER_BATCH_SIZE", DefaultSchedulerBatchSize)
	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)

	cfg.CircuitBreakerThreshold = 5
	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := strconv.Atoi(cbThreshStr); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}

	cfg.LeaderLockKey = DefaultLeaderLockKey
	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := strconv.ParseInt(lockKeyStr, 10, 64); err == nil && n > 0 {
			cfg.LeaderLockKey = n
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default %d", lockKeyStr, DefaultLeaderLockKey)
		}
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	defaultString(&cfg.TickIntervalStr, "30s")
	defaultString(&cfg.DBOpTimeoutStr, "5s")
	defaultString(&cfg.DBConnMaxLifetimeStr, "30m")
	defaultString(&cfg.DBConnMaxIdleTimeStr, "5m")
	defaultString(&cfg.HTTPShutdownTimeoutStr, "10s")
	defaultString(&cfg.DispatcherDrainTimeoutStr, "30s")
	defaultString(&cfg.MetricsPath, "/metrics")
	defaultString(&cfg.MetricsPort, "9090")
	defaultString(&cfg.ReconcileIntervalStr, "5m")
	defaultString(&cfg.ReconcileThresholdStr, "20m")
	defaultString(&cfg.ReconcileMaxAgeStr, "24h")
	defaultString(&cfg.CircuitBreakerCooldownStr, "2m")
	defaultString(&cfg.LeaderRetryIntervalStr, "5s")
	defaultString(&cfg.LeaderHeartbeatIntervalStr, "2s")
	defaultString(&cfg.RuleRefreshIntervalStr, "1m")

	// Parse durations; validation is handled separately by Validate().
	parseDuration(cfg.TickIntervalStr, &cfg.TickInterval)
	parseDuration(cfg.DBOpTimeoutStr, &cfg.DBOpTimeout)
	parseDuration(cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime)
	parseDuration(cfg.DBConnMaxIdleTimeStr, &cfg.DBConnMaxIdleTime)
	parseDuration(cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout)
	parseDuration(cfg.DispatcherDrainTimeoutStr, &cfg.DispatcherDrainTimeout)
	parseDuration(cfg.ReconcileIntervalStr, &cfg.ReconcileInterval)
	parseDuration(cfg.ReconcileThresholdStr, &cfg.ReconcileThreshold)
	parseDuration(cfg.ReconcileMaxAgeStr, &cfg.ReconcileMaxAge)
	parseDuration(cfg.CircuitBreakerCooldownStr, &cfg.CircuitBreakerCooldown)
	parseDuration(cfg.LeaderRetryIntervalStr, &cfg.LeaderRetryInterval)
	parseDuration(cfg.LeaderHeartbeatIntervalStr, &cfg.LeaderHeartbeatInterval)
	parseDuration(cfg.RuleRefreshIntervalStr, &cfg.RuleRefreshInterval)

	return cfg
}

// positiveInt reads a positive integer from the environment, logging and
// falling back to def on anything else.
func positiveInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", name, s, def)
		return def
	}
	return n
}

func defaultString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func parseDuration(s string, dst *time.Duration) {
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
