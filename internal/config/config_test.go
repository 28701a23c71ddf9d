package config

import (
	"errors"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	"github.com/dshills/keylsp/internal/config/loader"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Session.ShutdownTimeout.Std() != 2*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 2s", cfg.Session.ShutdownTimeout.Std())
	}
	if cfg.Session.MaxPending != 256 {
		t.Errorf("MaxPending = %d, want 256", cfg.Session.MaxPending)
	}
	if !cfg.Session.DropStaleCompletions {
		t.Error("DropStaleCompletions should default to true")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// No server command configured.
	if err := cfg.Validate(); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("Validate() = %v, want ErrValidationFailed", err)
	}
}

const tomlConfig = `
[server]
command = "clangd"
args = ["--log=error", "--background-index"]
workDir = "/src"

[server.env]
CLANGD_FLAGS = "-j=2"

[session]
shutdownTimeout = "5s"
maxPending = 32
eventBuffer = 4
dropStaleCompletions = false

[logging]
level = "debug"
format = "json"
`

const yamlConfig = `
server:
  command: clangd
  args: ["--log=error", "--background-index"]
  workDir: /src
  env:
    CLANGD_FLAGS: "-j=2"
session:
  shutdownTimeout: 5s
  maxPending: 32
  eventBuffer: 4
  dropStaleCompletions: false
logging:
  level: debug
  format: json
`

func TestLoadWith_FormatsAgree(t *testing.T) {
	fsys := fstest.MapFS{
		"keylsp.toml": {Data: []byte(tomlConfig)},
		"keylsp.yaml": {Data: []byte(yamlConfig)},
	}

	fromTOML, err := LoadWith(fsys, "keylsp.toml", nil)
	if err != nil {
		t.Fatalf("LoadWith(toml) failed: %v", err)
	}
	fromYAML, err := LoadWith(fsys, "keylsp.yaml", nil)
	if err != nil {
		t.Fatalf("LoadWith(yaml) failed: %v", err)
	}

	// Env overlay on top of defaults only.
	fromEnv, err := LoadWith(fsys, "", []string{
		"KEYLSP_SERVER_COMMAND=clangd",
		"KEYLSP_SERVER_ARGS=--log=error --background-index",
		"KEYLSP_SERVER_WORK_DIR=/src",
		"KEYLSP_SESSION_SHUTDOWN_TIMEOUT=5s",
		"KEYLSP_SESSION_MAX_PENDING=32",
		"KEYLSP_SESSION_EVENT_BUFFER=4",
		"KEYLSP_SESSION_DROP_STALE_COMPLETIONS=false",
		"KEYLSP_LOGGING_LEVEL=debug",
		"KEYLSP_LOGGING_FORMAT=json",
	})
	if err != nil {
		t.Fatalf("LoadWith(env) failed: %v", err)
	}
	fromEnv.Server.Env = map[string]string{"CLANGD_FLAGS": "-j=2"}

	for name, cfg := range map[string]*Config{"toml": fromTOML, "yaml": fromYAML, "env": fromEnv} {
		t.Run(name, func(t *testing.T) {
			if cfg.Server.Command != "clangd" {
				t.Errorf("Command = %q", cfg.Server.Command)
			}
			if len(cfg.Server.Args) != 2 || cfg.Server.Args[1] != "--background-index" {
				t.Errorf("Args = %q", cfg.Server.Args)
			}
			if cfg.Server.WorkDir != "/src" {
				t.Errorf("WorkDir = %q", cfg.Server.WorkDir)
			}
			if cfg.Server.Env["CLANGD_FLAGS"] != "-j=2" {
				t.Errorf("Env = %v", cfg.Server.Env)
			}
			if cfg.Session.ShutdownTimeout.Std() != 5*time.Second {
				t.Errorf("ShutdownTimeout = %v", cfg.Session.ShutdownTimeout.Std())
			}
			if cfg.Session.MaxPending != 32 || cfg.Session.EventBuffer != 4 {
				t.Errorf("Session = %+v", cfg.Session)
			}
			if cfg.Session.DropStaleCompletions {
				t.Error("DropStaleCompletions = true, want false")
			}
			if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
				t.Errorf("Logging = %+v", cfg.Logging)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestLoadWith_EnvOverridesFile(t *testing.T) {
	fsys := fstest.MapFS{"keylsp.toml": {Data: []byte(tomlConfig)}}

	cfg, err := LoadWith(fsys, "keylsp.toml", []string{"KEYLSP_SERVER=gopls", "KEYLSP_LOG=warn"})
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}
	if cfg.Server.Command != "gopls" {
		t.Errorf("Command = %q, want gopls", cfg.Server.Command)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
	// File values not overridden survive.
	if cfg.Session.MaxPending != 32 {
		t.Errorf("MaxPending = %d, want 32", cfg.Session.MaxPending)
	}
}

func TestLoadWith_BadEnvValue(t *testing.T) {
	_, err := LoadWith(fstest.MapFS{}, "", []string{"KEYLSP_SESSION_MAX_PENDING=lots"})
	var envErr *EnvError
	if !errors.As(err, &envErr) {
		t.Fatalf("LoadWith error = %v, want *EnvError", err)
	}
	if envErr.Env != "KEYLSP_SESSION_MAX_PENDING" {
		t.Errorf("EnvError.Env = %q", envErr.Env)
	}
}

func TestLoadWith_ParseError(t *testing.T) {
	fsys := fstest.MapFS{"keylsp.yml": {Data: []byte("server:\n  command: [unterminated\n")}}

	_, err := LoadWith(fsys, "keylsp.yml", nil)
	var pe *loader.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("LoadWith error = %v, want *loader.ParseError", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Command = "clangd"
	cfg.Session.MaxPending = 0
	cfg.Logging.Level = "loud"
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Validate() = %v, want ValidationErrors", err)
	}

	paths := map[string]bool{}
	for _, v := range verrs {
		paths[v.Path] = true
	}
	for _, want := range []string{"session.maxPending", "logging.level", "logging.format"} {
		if !paths[want] {
			t.Errorf("missing validation error for %s (got %v)", want, err)
		}
	}
	if paths["server.command"] {
		t.Error("server.command reported although set")
	}
}

func TestClientConfig(t *testing.T) {
	fsys := fstest.MapFS{"keylsp.toml": {Data: []byte(tomlConfig)}}
	cfg, err := LoadWith(fsys, "keylsp.toml", nil)
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}

	cc := cfg.ClientConfig()
	if cc.Server.Command != "clangd" || cc.Server.WorkDir != "/src" {
		t.Errorf("Server = %+v", cc.Server)
	}
	if cc.ShutdownTimeout != 5*time.Second || cc.MaxPending != 32 || cc.EventBuffer != 4 {
		t.Errorf("ClientConfig = %+v", cc)
	}
	if cc.DropStaleCompletions {
		t.Error("DropStaleCompletions = true, want false")
	}
	if cc.InitializationOptions != nil {
		t.Errorf("InitializationOptions = %v, want nil", cc.InitializationOptions)
	}

	if opts := cfg.ClientOptions(slog.Default()); len(opts) != 2 {
		t.Errorf("ClientOptions returned %d options", len(opts))
	}

	lc := cfg.LoggerConfig(nil)
	if lc.Level != slog.LevelDebug || lc.Format != "json" {
		t.Errorf("LoggerConfig = %+v", lc)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Server.Command = "rust-analyzer"
	cfg.Server.Args = []string{"--verbose"}
	cfg.Session.ShutdownTimeout = Duration(1500 * time.Millisecond)

	for _, name := range []string{"out.toml", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			data, err := cfg.Encode(name)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := LoadWith(fstest.MapFS{name: {Data: data}}, name, nil)
			if err != nil {
				t.Fatalf("reload failed: %v\n%s", err, data)
			}
			if got.Server.Command != "rust-analyzer" || len(got.Server.Args) != 1 {
				t.Errorf("Server = %+v", got.Server)
			}
			if got.Session.ShutdownTimeout != cfg.Session.ShutdownTimeout {
				t.Errorf("ShutdownTimeout = %v, want %v", got.Session.ShutdownTimeout.Std(), cfg.Session.ShutdownTimeout.Std())
			}
		})
	}
}
