package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/tplcheck/pkg/telemetry"
)

// FileNames are the project file names searched by Find, in order.
var FileNames = []string{"tplcheck.yaml", "tplcheck.yml", "tplcheck.cue"}

// ErrNotFound is returned by Find when no project file exists.
var ErrNotFound = errors.New("no tplcheck project file found")

// Policy enforcement modes.
const (
	ModeEnforcing = "enforcing"
	ModeAdvisory  = "advisory"
)

// Config is a tplcheck project file.
type Config struct {
	// Workspace names the project in logs and stored reports.
	Workspace string `yaml:"workspace" json:"workspace" validate:"required"`

	Types     TypesConfig     `yaml:"types" json:"types"`
	Policy    PolicyConfig    `yaml:"policy" json:"policy"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Starlark  StarlarkConfig  `yaml:"starlark" json:"starlark"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// Dir is the directory relative paths are resolved against. It is the
	// directory of the project file when loaded from disk.
	Dir string `yaml:"-" json:"-"`
}

// TypesConfig locates type documents.
type TypesConfig struct {
	Paths []string `yaml:"paths" json:"paths" validate:"required,min=1,dive,required"`
}

// PolicyConfig configures policy enforcement.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Paths lists .rego files, JSON policy files or directories.
	Paths []string `yaml:"paths" json:"paths" validate:"dive,required"`

	// Mode is enforcing (policy violations invalidate a value) or advisory
	// (they are reported as warnings).
	Mode string `yaml:"mode" json:"mode" validate:"oneof=advisory enforcing"`

	// Disabled lists policies, built-in or loaded, that never run.
	Disabled []string `yaml:"disabled" json:"disabled" validate:"dive,required"`
}

// StoreConfig configures the report history database.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"required_if=Enabled true"`

	// Retention prunes reports older than this on startup. Empty keeps
	// everything.
	Retention string `yaml:"retention" json:"retention" validate:"omitempty,duration"`

	// StoreValues keeps the checked value in each report.
	StoreValues bool `yaml:"store_values" json:"store_values"`
}

// StarlarkConfig configures Starlark value files.
type StarlarkConfig struct {
	Timeout string         `yaml:"timeout" json:"timeout" validate:"omitempty,duration"`
	Vars    map[string]any `yaml:"vars" json:"vars"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Delay string `yaml:"delay" json:"delay" validate:"omitempty,duration"`
}

// TelemetryConfig is the project-file view of telemetry.Config.
type TelemetryConfig struct {
	LogLevel       string  `yaml:"log_level" json:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat      string  `yaml:"log_format" json:"log_format" validate:"oneof=console json"`
	Tracing        bool    `yaml:"tracing" json:"tracing"`
	TraceExporter  string  `yaml:"trace_exporter" json:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TraceEndpoint  string  `yaml:"trace_endpoint" json:"trace_endpoint" validate:"required_if=TraceExporter otlp"`
	SamplingRate   float64 `yaml:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`
	Metrics        bool    `yaml:"metrics" json:"metrics"`
	MetricsAddress string  `yaml:"metrics_address" json:"metrics_address" validate:"required_if=Metrics true"`
}

// Default returns the configuration used when no project file exists.
func Default() *Config {
	return &Config{
		Workspace: "default",
		Types:     TypesConfig{Paths: []string{"types"}},
		Policy: PolicyConfig{
			Enabled: true,
			Paths:   []string{},
			Mode:    ModeEnforcing,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    filepath.Join(".tplcheck", "reports.db"),
		},
		Starlark: StarlarkConfig{Timeout: "10s"},
		Watch:    WatchConfig{Delay: "500ms"},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "console",
			TraceExporter:  "none",
			SamplingRate:   1.0,
			MetricsAddress: ":9090",
		},
		Dir: ".",
	}
}

// Find returns the first project file in dir.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// Load reads a project file, applies it over Default and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	cfg.Dir = dir
	return cfg, nil
}

// Parse decodes project file contents. The format is chosen by the
// extension of name.
func Parse(name string, data []byte) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config %s: %w", name, err)
		}
	case ".cue":
		raw, err := compileCUE(name, data)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", name, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from TPLCHECK_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("TPLCHECK_LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = strings.ToLower(v)
	}
	if v := getenv("TPLCHECK_LOG_FORMAT"); v != "" {
		c.Telemetry.LogFormat = strings.ToLower(v)
	}
	if v := getenv("TPLCHECK_STORE_PATH"); v != "" {
		c.Store.Enabled = true
		c.Store.Path = v
	}
	if v := getenv("TPLCHECK_POLICY_MODE"); v != "" {
		c.Policy.Mode = strings.ToLower(v)
	}
}

// ResolvePath makes p absolute relative to Dir.
func (c *Config) ResolvePath(p string) string {
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

func (c *Config) resolveAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, c.ResolvePath(p))
	}
	return out
}

// TypePaths returns the resolved type document paths.
func (c *Config) TypePaths() []string { return c.resolveAll(c.Types.Paths) }

// PolicyPaths returns the resolved policy paths.
func (c *Config) PolicyPaths() []string { return c.resolveAll(c.Policy.Paths) }

// StorePath returns the resolved report database path.
func (c *Config) StorePath() string {
	if c.Store.Path == ":memory:" {
		return c.Store.Path
	}
	return c.ResolvePath(c.Store.Path)
}

// Enforcing reports whether policy violations invalidate values.
func (c *Config) Enforcing() bool { return c.Policy.Mode != ModeAdvisory }

// StarlarkTimeout returns the parsed Starlark timeout, or zero for the
// evaluator default.
func (c *Config) StarlarkTimeout() time.Duration { return parseDuration(c.Starlark.Timeout) }

// WatchDelay returns the parsed watch debounce delay.
func (c *Config) WatchDelay() time.Duration { return parseDuration(c.Watch.Delay) }

// Retention returns the parsed report retention, or zero to keep all.
func (c *Config) Retention() time.Duration { return parseDuration(c.Store.Retention) }

// parseDuration parses a duration already accepted by Validate.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}

// ToTelemetryConfig builds the telemetry configuration for this project.
func (c *Config) ToTelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}
	tc.Environment = c.Workspace
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Tracing.Enabled = c.Telemetry.Tracing
	if c.Telemetry.TraceExporter != "" {
		tc.Tracing.Exporter = c.Telemetry.TraceExporter
	}
	tc.Tracing.Endpoint = c.Telemetry.TraceEndpoint
	tc.Tracing.SamplingRate = c.Telemetry.SamplingRate
	tc.Metrics.Enabled = c.Telemetry.Metrics
	tc.Metrics.ListenAddress = c.Telemetry.MetricsAddress
	tc.ResourceAttributes["tplcheck.workspace"] = c.Workspace
	return tc
}
