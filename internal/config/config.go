package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/keylsp/internal/config/loader"
	"github.com/dshills/keylsp/internal/logging"
	"github.com/dshills/keylsp/internal/lsp"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "KEYLSP_"

// Config is the complete keylsp configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" yaml:"server"`
	Session SessionConfig `toml:"session" yaml:"session"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

// ServerConfig describes the language server to launch.
type ServerConfig struct {
	// Command is the server executable, looked up on PATH.
	Command string `toml:"command" yaml:"command"`

	// Args are passed to the server.
	Args []string `toml:"args,omitempty" yaml:"args,omitempty"`

	// Env is added to the inherited environment.
	Env map[string]string `toml:"env,omitempty" yaml:"env,omitempty"`

	// WorkDir defaults to the workspace root.
	WorkDir string `toml:"workDir,omitempty" yaml:"workDir,omitempty"`

	// LanguageID overrides detection from the file extension.
	LanguageID string `toml:"languageId,omitempty" yaml:"languageId,omitempty"`

	// InitializationOptions are sent verbatim in the initialize request.
	InitializationOptions map[string]any `toml:"initializationOptions,omitempty" yaml:"initializationOptions,omitempty"`
}

// SessionConfig tunes session behavior.
type SessionConfig struct {
	ShutdownTimeout      Duration `toml:"shutdownTimeout" yaml:"shutdownTimeout"`
	MaxPending           int      `toml:"maxPending" yaml:"maxPending"`
	EventBuffer          int      `toml:"eventBuffer" yaml:"eventBuffer"`
	DropStaleCompletions bool     `toml:"dropStaleCompletions" yaml:"dropStaleCompletions"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" yaml:"format"`
}

// Duration is a time.Duration written as a Go duration string ("2s").
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	def := lsp.DefaultClientConfig()
	return &Config{
		Session: SessionConfig{
			ShutdownTimeout:      Duration(def.ShutdownTimeout),
			MaxPending:           def.MaxPending,
			EventBuffer:          def.EventBuffer,
			DropStaleCompletions: def.DropStaleCompletions,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
	}
}

// Load builds the configuration from defaults, the file at path (skipped when
// path is empty) and KEYLSP_ environment variables.
func Load(path string) (*Config, error) {
	return LoadWith(loader.DefaultFS(), path, os.Environ())
}

// LoadWith is Load over an explicit file system and environment.
func LoadWith(fsys loader.FileSystem, path string, environ []string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loader.LoadFile(fsys, path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(loader.NewEnvLoaderWithEnviron(EnvPrefix, environ).Load()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment settings. Variables naming no setting are
// ignored; malformed values are an *EnvError.
func (c *Config) ApplyEnv(settings []loader.Setting) error {
	for _, s := range settings {
		if err := c.set(s.Path, s.Value); err != nil {
			return &EnvError{Env: s.Env, Value: s.Value, Err: err}
		}
	}
	return nil
}

func (c *Config) set(path, value string) error {
	var err error
	switch path {
	case "server.command":
		c.Server.Command = value
	case "server.args":
		c.Server.Args = strings.Fields(value)
	case "server.workDir":
		c.Server.WorkDir = value
	case "server.languageId":
		c.Server.LanguageID = value
	case "session.shutdownTimeout":
		err = c.Session.ShutdownTimeout.UnmarshalText([]byte(value))
	case "session.maxPending":
		c.Session.MaxPending, err = strconv.Atoi(value)
	case "session.eventBuffer":
		c.Session.EventBuffer, err = strconv.Atoi(value)
	case "session.dropStaleCompletions":
		c.Session.DropStaleCompletions, err = strconv.ParseBool(value)
	case "logging.level":
		c.Logging.Level = value
	case "logging.format":
		c.Logging.Format = value
	}
	return err
}

// Validate reports every invalid setting as ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(c.Server.Command) == "" {
		errs = append(errs, &ValidationError{Path: "server.command", Message: "required", Value: c.Server.Command})
	}
	if c.Session.ShutdownTimeout <= 0 {
		errs = append(errs, &ValidationError{Path: "session.shutdownTimeout", Message: "must be positive", Value: c.Session.ShutdownTimeout.Std()})
	}
	if c.Session.MaxPending <= 0 {
		errs = append(errs, &ValidationError{Path: "session.maxPending", Message: "must be positive", Value: c.Session.MaxPending})
	}
	if c.Session.EventBuffer <= 0 {
		errs = append(errs, &ValidationError{Path: "session.eventBuffer", Message: "must be positive", Value: c.Session.EventBuffer})
	}
	if _, ok := logging.LookupLevel(c.Logging.Level); !ok {
		errs = append(errs, &ValidationError{Path: "logging.level", Message: "must be debug, info, warn or error", Value: c.Logging.Level})
	}
	if _, ok := logging.ParseFormat(c.Logging.Format); !ok {
		errs = append(errs, &ValidationError{Path: "logging.format", Message: "must be text or json", Value: c.Logging.Format})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ClientConfig converts the settings into an lsp.ClientConfig.
func (c *Config) ClientConfig() lsp.ClientConfig {
	cc := lsp.DefaultClientConfig()
	cc.Server = lsp.ProcessConfig{
		Command: c.Server.Command,
		Args:    c.Server.Args,
		Env:     c.Server.Env,
		WorkDir: c.Server.WorkDir,
	}
	cc.LanguageID = c.Server.LanguageID
	cc.ShutdownTimeout = c.Session.ShutdownTimeout.Std()
	cc.MaxPending = c.Session.MaxPending
	cc.EventBuffer = c.Session.EventBuffer
	cc.DropStaleCompletions = c.Session.DropStaleCompletions
	if len(c.Server.InitializationOptions) > 0 {
		cc.InitializationOptions = c.Server.InitializationOptions
	}
	return cc
}

// ClientOptions returns the lsp options for this configuration.
func (c *Config) ClientOptions(logger *slog.Logger) []lsp.ClientOption {
	return []lsp.ClientOption{
		lsp.WithClientConfig(c.ClientConfig()),
		lsp.WithLogger(logger),
	}
}

// LoggerConfig returns the logging configuration writing to out.
func (c *Config) LoggerConfig(out io.Writer) logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Output = out
	cfg.Level = logging.ParseLevel(c.Logging.Level)
	if f, ok := logging.ParseFormat(c.Logging.Format); ok {
		cfg.Format = f
	}
	return cfg
}

// Encode renders the configuration in the format implied by path's extension.
func (c *Config) Encode(path string) ([]byte, error) {
	enc, err := loader.ForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := enc.Encode(c)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}
