package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	positive := []struct {
		field string
		value string
	}{
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"RULE_REFRESH_INTERVAL", cfg.RuleRefreshIntervalStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, p := range positive {
		if err := checkPositiveDuration(p.field, p.value); err != nil {
			errs = append(errs, *err)
		}
	}

	if err := checkNonNegativeDuration("RECONCILE_MAX_AGE", cfg.ReconcileMaxAgeStr); err != nil {
		errs = append(errs, *err)
	} else if cfg.ReconcileMaxAge > 0 && cfg.ReconcileThreshold > 0 && cfg.ReconcileMaxAge <= cfg.ReconcileThreshold {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_MAX_AGE",
			Message: fmt.Sprintf("must exceed RECONCILE_THRESHOLD (%s)", cfg.ReconcileThreshold),
		})
	}

	if cfg.DBMaxIdleConns > 0 && cfg.DBMaxOpenConns > 0 && cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		errs = append(errs, ValidationError{
			Field:   "DB_MAX_IDLE_CONNS",
			Message: fmt.Sprintf("must not exceed DB_MAX_OPEN_CONNS (%d)", cfg.DBMaxOpenConns),
		})
	}

	if cfg.MetricsEnabled {
		if !strings.HasPrefix(cfg.MetricsPath, "/") {
			errs = append(errs, ValidationError{
				Field:   "METRICS_PATH",
				Message: fmt.Sprintf("must start with /, got %q", cfg.MetricsPath),
			})
		}
		if port, err := strconv.Atoi(cfg.MetricsPort); err != nil || port < 1 || port > 65535 {
			errs = append(errs, ValidationError{
				Field:   "METRICS_PORT",
				Message: fmt.Sprintf("must be a port number, got %q", cfg.MetricsPort),
			})
		}
	}

	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "CIRCUIT_BREAKER_THRESHOLD",
			Message: "must not be negative",
		})
	}

	if cfg.RulesFile != "" {
		switch filepath.Ext(cfg.RulesFile) {
		case ".yaml", ".yml":
		default:
			errs = append(errs, ValidationError{
				Field:   "RULES_FILE",
				Message: fmt.Sprintf("must be a .yaml or .yml file, got %q", cfg.RulesFile),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// checkPositiveDuration validates an optional duration string. Empty means
// "use the default" and is accepted.
func checkPositiveDuration(field, value string) *ValidationError {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}
	}
	if d <= 0 {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}

func checkNonNegativeDuration(field, value string) *ValidationError {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}
	}
	if d < 0 {
		return &ValidationError{Field: field, Message: "must not be negative"}
	}
	return nil
}
