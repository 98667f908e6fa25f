// Package config loads fqlsync configuration files.
//
// A file is YAML, decoded strictly (unknown keys are errors) and validated
// against an embedded CUE schema before defaults are applied:
//
//	worker_url: ws://localhost:8090/fql
//	call_timeout: 30s
//	log_level: info
//	credentials:
//	  backend: sqlite
//	  path: ~/.fqlsync/credentials.db
//	connections:
//	  - name: chat
//	    instance: acme/chat
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fqlsync/internal/client"
	"github.com/roach88/fqlsync/internal/connstate"
	"github.com/roach88/fqlsync/internal/credstore"
)

//go:embed schema.cue
var schemaCUE string

// Credential store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config is a loaded configuration file.
type Config struct {
	WorkerURL   string        `yaml:"worker_url"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Credentials Credentials   `yaml:"credentials"`
	Connections []Connection  `yaml:"connections"`
}

// Credentials selects the remember-me store.
type Credentials struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Connection is one named connection profile.
type Connection struct {
	Name            string `yaml:"name"`
	Instance        string `yaml:"instance"`
	Servers         string `yaml:"servers"`
	Token           string `yaml:"token"`
	User            any    `yaml:"user"`
	Anonymous       bool   `yaml:"anonymous"`
	Log             *bool  `yaml:"log"`
	RemoveNamespace *bool  `yaml:"remove_namespace"`
	WorkerURL       string `yaml:"worker_url"`
	AuthMode        string `yaml:"auth_mode"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{
			Code:    ErrCodeRead,
			Message: fmt.Sprintf("read %s: %v", path, err),
		}
	}
	return Parse(data)
}

// Parse validates a YAML document and applies defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Code: ErrCodeSyntax, Message: err.Error()}
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Code: ErrCodeSyntax, Message: err.Error()}
	}

	seen := make(map[string]bool)
	for _, conn := range cfg.Connections {
		if seen[conn.Name] {
			return nil, &ConfigError{
				Code:    ErrCodeDuplicate,
				Message: fmt.Sprintf("connection %q defined twice", conn.Name),
				Field:   "connections",
			}
		}
		seen[conn.Name] = true
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// validate unifies the raw document with the #Config schema.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	if raw == nil {
		raw = map[string]any{}
	}
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError converts the first CUE error into a ConfigError with its
// path and position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ConfigError{Code: ErrCodeSchema, Message: err.Error()}
	}

	first := errs[0]
	ce := &ConfigError{
		Code:    ErrCodeSchema,
		Message: first.Error(),
	}
	if path := first.Path(); len(path) > 0 {
		ce.Field = strings.Join(path, ".")
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}

func (c *Config) applyDefaults() {
	if c.WorkerURL == "" {
		c.WorkerURL = client.DefaultWorkerURL
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Credentials.Backend == "" {
		c.Credentials.Backend = BackendMemory
	}
	for i := range c.Connections {
		conn := &c.Connections[i]
		if conn.Log == nil {
			conn.Log = boolPtr(true)
		}
		if conn.RemoveNamespace == nil {
			conn.RemoveNamespace = boolPtr(true)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

// Connection returns the profile called name.
func (c *Config) Connection(name string) (Connection, bool) {
	for _, conn := range c.Connections {
		if conn.Name == name {
			return conn, true
		}
	}
	return Connection{}, false
}

// Settings converts the profile into connect settings. The profile's
// worker URL wins over the file-level one.
func (c *Config) Settings(conn Connection) client.Settings {
	s := client.DefaultSettings(conn.Instance)
	s.Servers = conn.Servers
	s.Token = conn.Token
	s.User = conn.User
	s.Anonymous = conn.Anonymous
	s.AuthMode = connstate.AuthMode(conn.AuthMode)
	if conn.Log != nil {
		s.Log = *conn.Log
	}
	if conn.RemoveNamespace != nil {
		s.RemoveNamespace = *conn.RemoveNamespace
	}
	s.WorkerURL = c.WorkerURL
	if conn.WorkerURL != "" {
		s.WorkerURL = conn.WorkerURL
	}
	return s
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OpenCredentialStore opens the configured remember-me store. The returned
// close function is never nil.
func (c *Config) OpenCredentialStore() (credstore.Store, func() error, error) {
	switch c.Credentials.Backend {
	case BackendSQLite:
		s, err := credstore.OpenSQLite(c.Credentials.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open credential store: %w", err)
		}
		return s, s.Close, nil
	default:
		return credstore.NewMemory(), func() error { return nil }, nil
	}
}
