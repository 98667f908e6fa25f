package binding

import (
	"errors"
	"fmt"
)

// ConfigError reports a binding that cannot be constructed.
type ConfigError struct {
	// Code identifies the error category.
	Code ConfigErrorCode

	// Message is a human-readable description.
	Message string
}

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeNoConnection indicates a provider or binding without a connection.
	ErrCodeNoConnection ConfigErrorCode = "NO_CONNECTION"

	// ErrCodeNoRender indicates a binding without a render callback.
	ErrCodeNoRender ConfigErrorCode = "NO_RENDER"
)

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
