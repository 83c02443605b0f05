package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const projectYAML = `
workspace: platform
types:
  paths: [types, shared/types]
policy:
  paths: [policies]
  mode: advisory
  disabled: [lowercase-name]
store:
  enabled: true
  path: data/reports.db
  retention: 720h
starlark:
  timeout: 2s
  vars:
    env: prod
telemetry:
  log_level: debug
  log_format: json
`

func writeProject(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeProject(t, "tplcheck.yaml", projectYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	dir := filepath.Dir(path)
	if cfg.Dir != dir {
		t.Errorf("Dir = %q, want %q", cfg.Dir, dir)
	}
	if got := cfg.TypePaths(); len(got) != 2 || got[1] != filepath.Join(dir, "shared", "types") {
		t.Errorf("TypePaths() = %v", got)
	}
	if got := cfg.PolicyPaths(); len(got) != 1 || got[0] != filepath.Join(dir, "policies") {
		t.Errorf("PolicyPaths() = %v", got)
	}
	if cfg.StorePath() != filepath.Join(dir, "data", "reports.db") {
		t.Errorf("StorePath() = %q", cfg.StorePath())
	}
	if cfg.Enforcing() {
		t.Error("advisory mode should not enforce")
	}
	if !cfg.Policy.Enabled {
		t.Error("policy.enabled should keep its default")
	}
	if cfg.Retention() != 720*time.Hour {
		t.Errorf("Retention() = %v", cfg.Retention())
	}
	if cfg.StarlarkTimeout() != 2*time.Second {
		t.Errorf("StarlarkTimeout() = %v", cfg.StarlarkTimeout())
	}
	if cfg.WatchDelay() != 500*time.Millisecond {
		t.Errorf("WatchDelay() = %v, want the default", cfg.WatchDelay())
	}
	if cfg.Starlark.Vars["env"] != "prod" {
		t.Errorf("Starlark.Vars = %v", cfg.Starlark.Vars)
	}
	if len(cfg.Policy.Disabled) != 1 {
		t.Errorf("Policy.Disabled = %v", cfg.Policy.Disabled)
	}
}

func TestLoad_CUE(t *testing.T) {
	path := writeProject(t, "tplcheck.cue", `
workspace: "platform"
types: paths: ["types"]
policy: mode: "enforcing"
telemetry: {
	log_level: "warn"
	sampling_rate: 0.5
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workspace != "platform" || !cfg.Enforcing() {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Telemetry.LogLevel != "warn" || cfg.Telemetry.SamplingRate != 0.5 {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.LogFormat != "console" {
		t.Errorf("unset fields should keep defaults, LogFormat = %q", cfg.Telemetry.LogFormat)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"unknown yaml key", "tplcheck.yaml", "workspace: a\nsurprise: 1\n", "field surprise not found"},
		{"bad mode", "tplcheck.yaml", "workspace: a\npolicy:\n  mode: strict\n", "policy.mode must be one of"},
		{"empty type paths", "tplcheck.yaml", "workspace: a\ntypes:\n  paths: []\n", "types.paths needs at least 1"},
		{"store without path", "tplcheck.yaml", "workspace: a\nstore:\n  enabled: true\n  path: \"\"\n", "store.path is required"},
		{"bad duration", "tplcheck.yaml", "workspace: a\nstarlark:\n  timeout: soon\n", "starlark.timeout is not a valid duration"},
		{"otlp without endpoint", "tplcheck.yaml", "workspace: a\ntelemetry:\n  trace_exporter: otlp\n", "telemetry.trace_endpoint is required"},
		{"sampling out of range", "tplcheck.yaml", "workspace: a\ntelemetry:\n  sampling_rate: 2\n", "between 0 and 1"},
		{"cue closed schema", "tplcheck.cue", "workspace: \"a\"\nsurprise: 1\n", "does not match schema"},
		{"cue bad mode", "tplcheck.cue", "workspace: \"a\"\npolicy: mode: \"strict\"\n", "does not match schema"},
		{"cue syntax", "tplcheck.cue", "workspace: ", "failed to compile config"},
		{"unsupported", "tplcheck.toml", "", "unsupported config format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParse_EmptyYAMLUsesDefaults(t *testing.T) {
	cfg, err := Parse("tplcheck.yaml", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Workspace != "default" || cfg.Types.Paths[0] != "types" || !cfg.Enforcing() {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	if _, err := Find(dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find() error = %v, want ErrNotFound", err)
	}

	for _, name := range []string{"tplcheck.cue", "tplcheck.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("workspace: a\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path, err := Find(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "tplcheck.yaml" {
		t.Errorf("Find() = %s, want yaml before cue", path)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TPLCHECK_LOG_LEVEL":   "DEBUG",
		"TPLCHECK_STORE_PATH":  ":memory:",
		"TPLCHECK_POLICY_MODE": "advisory",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Telemetry.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.Telemetry.LogLevel)
	}
	if !cfg.Store.Enabled || cfg.StorePath() != ":memory:" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Enforcing() {
		t.Error("policy mode should be advisory")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestToTelemetryConfig(t *testing.T) {
	cfg := Default()
	cfg.Workspace = "platform"
	cfg.Telemetry.LogFormat = "json"
	cfg.Telemetry.Metrics = true

	tc := cfg.ToTelemetryConfig("1.2.3")
	if tc.ServiceVersion != "1.2.3" || tc.Environment != "platform" {
		t.Errorf("service = %s %s", tc.ServiceVersion, tc.Environment)
	}
	if tc.Logging.Format != "json" || !tc.Metrics.Enabled || tc.Metrics.ListenAddress != ":9090" {
		t.Errorf("telemetry = %+v", tc)
	}
	if tc.ResourceAttributes["tplcheck.workspace"] != "platform" {
		t.Errorf("ResourceAttributes = %v", tc.ResourceAttributes)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("telemetry config should validate: %v", err)
	}
}
