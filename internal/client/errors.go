package client

import (
	"errors"
	"fmt"
)

// ConfigError reports settings the client cannot connect with.
type ConfigError struct {
	// Code identifies the error category.
	Code ConfigErrorCode

	// Message is a human-readable description.
	Message string

	// Field names the offending setting, if any.
	Field string
}

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeMissingInstance indicates settings without an instance.
	ErrCodeMissingInstance ConfigErrorCode = "MISSING_INSTANCE"

	// ErrCodeNoDialer indicates a client built without a transport.
	ErrCodeNoDialer ConfigErrorCode = "NO_DIALER"

	// ErrCodeNoConnection indicates an operation on a nil connection.
	ErrCodeNoConnection ConfigErrorCode = "NO_CONNECTION"
)

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
