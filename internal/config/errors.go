package config

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
)

// ConfigError reports a configuration file that cannot be used.
type ConfigError struct {
	// Code identifies the error category.
	Code ConfigErrorCode

	// Message is a human-readable description.
	Message string

	// Field names the offending key, if known.
	Field string

	// Pos locates the error in the schema or document, if known.
	Pos token.Pos
}

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeRead indicates the file could not be read.
	ErrCodeRead ConfigErrorCode = "READ"

	// ErrCodeSyntax indicates malformed YAML or an unknown key.
	ErrCodeSyntax ConfigErrorCode = "SYNTAX"

	// ErrCodeSchema indicates a value that violates the schema.
	ErrCodeSchema ConfigErrorCode = "SCHEMA"

	// ErrCodeDuplicate indicates two connections with the same name.
	ErrCodeDuplicate ConfigErrorCode = "DUPLICATE_CONNECTION"
)

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field=%s)", e.Field)
	}
	if e.Pos.IsValid() {
		msg += fmt.Sprintf(" at %s", e.Pos)
	}
	return msg
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
