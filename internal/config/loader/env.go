package loader

import (
	"os"
	"sort"
	"strings"
)

// EnvLoader collects prefixed environment variables as setting paths.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "KEYLSP_")
	mapping map[string]string // Env var -> config path
	environ func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "KEYLSP_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(),
		environ: os.Environ,
	}
}

// NewEnvLoaderWithEnviron creates a loader reading from a fixed environment,
// in os.Environ's KEY=value form.
func NewEnvLoaderWithEnviron(prefix string, environ []string) *EnvLoader {
	l := NewEnvLoader(prefix)
	l.environ = func() []string { return environ }
	return l
}

// defaultEnvMapping lists variables whose names do not split cleanly into
// section and setting.
func defaultEnvMapping() map[string]string {
	return map[string]string{
		"KEYLSP_SERVER":   "server.command",
		"KEYLSP_LANGUAGE": "server.languageId",
		"KEYLSP_LOG":      "logging.level",
	}
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// Setting is one environment-provided value.
type Setting struct {
	Env   string
	Path  string
	Value string
}

// Load returns the prefixed variables as settings, sorted by variable name.
// Empty values are treated as set.
func (l *EnvLoader) Load() []Setting {
	var out []Setting
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			path = l.envToPath(name)
		}
		out = append(out, Setting{Env: name, Path: path, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Env < out[j].Env })
	return out
}

// envToPath converts KEYLSP_SESSION_SHUTDOWN_TIMEOUT to session.shutdownTimeout.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.TrimPrefix(env, l.prefix)
	parts := strings.Split(name, "_")

	section := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return section
	}

	setting := strings.ToLower(parts[1])
	for _, part := range parts[2:] {
		if len(part) > 0 {
			setting += strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}
	return section + "." + setting
}
