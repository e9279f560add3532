package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is the root of every rule configuration error.
var ErrInvalidConfig = errors.New("invalid automation configuration")

// ErrUnknownPredicate is returned for filters naming an unsupported predicate.
var ErrUnknownPredicate = errors.New("unknown filter predicate")

// ConfigError describes a malformed rule, schedule or filter. It is reported
// to the caller before evaluation and never coerced to a default.
type ConfigError struct {
	Field   string
	Message string
	Err     error // optional, more specific cause
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidConfig, e.Err}
	}
	return []error{ErrInvalidConfig}
}
