package loader

import (
	"testing"
)

func TestEnvLoader_Load(t *testing.T) {
	loader := NewEnvLoaderWithEnviron("KEYLSP_", []string{
		"KEYLSP_SERVER_COMMAND=clangd",
		"KEYLSP_SESSION_SHUTDOWN_TIMEOUT=5s",
		"KEYLSP_LOG=debug",
		"HOME=/home/user",
		"KEYLSP_EMPTY=",
	})

	got := loader.Load()
	want := []Setting{
		{Env: "KEYLSP_EMPTY", Path: "empty", Value: ""},
		{Env: "KEYLSP_LOG", Path: "logging.level", Value: "debug"},
		{Env: "KEYLSP_SERVER_COMMAND", Path: "server.command", Value: "clangd"},
		{Env: "KEYLSP_SESSION_SHUTDOWN_TIMEOUT", Path: "session.shutdownTimeout", Value: "5s"},
	}

	if len(got) != len(want) {
		t.Fatalf("Load returned %d settings, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("setting[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEnvLoader_envToPath(t *testing.T) {
	loader := NewEnvLoader("KEYLSP_")

	tests := []struct {
		env  string
		want string
	}{
		{"KEYLSP_SERVER_COMMAND", "server.command"},
		{"KEYLSP_SERVER_WORK_DIR", "server.workDir"},
		{"KEYLSP_SESSION_MAX_PENDING", "session.maxPending"},
		{"KEYLSP_SESSION_DROP_STALE_COMPLETIONS", "session.dropStaleCompletions"},
		{"KEYLSP_LOGGING_FORMAT", "logging.format"},
		{"KEYLSP_DEBUG", "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := loader.envToPath(tt.env); got != tt.want {
				t.Errorf("envToPath(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestEnvLoader_AddMapping(t *testing.T) {
	loader := NewEnvLoaderWithEnviron("KEYLSP_", []string{"KEYLSP_CMD=gopls"})
	loader.AddMapping("KEYLSP_CMD", "server.command")

	got := loader.Load()
	if len(got) != 1 || got[0].Path != "server.command" || got[0].Value != "gopls" {
		t.Errorf("Load() = %+v, want server.command=gopls", got)
	}
}
