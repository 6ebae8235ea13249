package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

const (
	defaultDriver         = "bugst"
	defaultBaudRate       = 115200
	defaultReadTimeout    = time.Second
	defaultReconnectDelay = 2 * time.Second
	defaultWidth          = 18
	defaultBufferRows     = 200
)

// Config is the root configuration document.
type Config struct {
	Link      LinkConfig      `yaml:"link"`
	Registers RegistersConfig `yaml:"registers"`
	Columns   []ColumnConfig  `yaml:"columns,omitempty"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	HTTP      HTTPConfig      `yaml:"http"`
	HotReload bool            `yaml:"hot_reload"`

	// Source is the absolute path the configuration was loaded from.
	Source string `yaml:"-"`
}

// LinkConfig configures the serial link and the telemetry frame shape.
type LinkConfig struct {
	Driver         string   `yaml:"driver"`
	Port           string   `yaml:"port"`
	BaudRate       int      `yaml:"baud_rate"`
	ReadTimeout    Duration `yaml:"read_timeout,omitempty"`
	ReconnectDelay Duration `yaml:"reconnect_delay,omitempty"`
	Reconnect      bool     `yaml:"reconnect"`
	Width          int      `yaml:"width"`
	BufferRows     int      `yaml:"buffer_rows"`
	MaxLine        int      `yaml:"max_line,omitempty"`
}

// RegistersConfig selects the register catalog.
type RegistersConfig struct {
	// Builtin includes the controller's built-in registers. Defaults to true.
	Builtin *bool `yaml:"builtin,omitempty"`
	// Entries add registers or replace built-in ones at the same address.
	Entries []RegisterConfig `yaml:"entries,omitempty"`
}

// UseBuiltin reports whether the built-in catalog is enabled.
func (r RegistersConfig) UseBuiltin() bool {
	return r.Builtin == nil || *r.Builtin
}

// RegisterConfig declares one register.
type RegisterConfig struct {
	Address     uint16          `yaml:"address"`
	Mnemonic    string          `yaml:"mnemonic"`
	Name        string          `yaml:"name,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Default     int64           `yaml:"default,omitempty"`
	Range       RangeConfig     `yaml:"range,omitempty"`
	Transform   TransformConfig `yaml:"transform,omitempty"`
	Writable    *bool           `yaml:"writable,omitempty"`
	Readable    *bool           `yaml:"readable,omitempty"`
}

// RangeConfig declares a raw value predicate.
type RangeConfig struct {
	Kind string `yaml:"kind"`
	Min  int64  `yaml:"min,omitempty"`
	Max  int64  `yaml:"max,omitempty"`
}

// TransformConfig declares a unit conversion.
type TransformConfig struct {
	Kind   string  `yaml:"kind"`
	Scale  float64 `yaml:"scale,omitempty"`
	Offset float64 `yaml:"offset,omitempty"`
	K      float64 `yaml:"k,omitempty"`
}

// ColumnConfig names a telemetry column for display and may derive a
// display value with an expression over the raw integer.
type ColumnConfig struct {
	Name string `yaml:"name"`
	Unit string `yaml:"unit,omitempty"`
	Expr string `yaml:"expr,omitempty"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"`
	File   FileLogConfig `yaml:"file,omitempty"`
	Loki   LokiConfig    `yaml:"loki,omitempty"`
}

// FileLogConfig enables a rotating log file.
type FileLogConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// LokiConfig configures the optional Loki sink.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// TelemetryConfig toggles Prometheus metrics.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// HTTPConfig configures the control surface. An empty listen address disables it.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, schema checks and decodes the configuration file at path.
// Files ending in .cue are evaluated as CUE, everything else as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(abs, data)
	if err != nil {
		return nil, err
	}
	cfg.Source = abs
	return cfg, nil
}

// Parse decodes configuration bytes. The filename selects the format.
func Parse(filename string, data []byte) (*Config, error) {
	normalized, err := normalize(filename, data)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(normalized, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", filepath.Base(filename), err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Link.Driver) == "" {
		c.Link.Driver = defaultDriver
	}
	if c.Link.BaudRate <= 0 {
		c.Link.BaudRate = defaultBaudRate
	}
	if c.Link.ReadTimeout.Duration <= 0 {
		c.Link.ReadTimeout.Duration = defaultReadTimeout
	}
	if c.Link.ReconnectDelay.Duration <= 0 {
		c.Link.ReconnectDelay.Duration = defaultReconnectDelay
	}
	if c.Link.Width <= 0 {
		c.Link.Width = defaultWidth
	}
	if c.Link.BufferRows <= 0 {
		c.Link.BufferRows = defaultBufferRows
	}
}

// Validate checks cross-field constraints the schema cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var problems []string
	switch strings.ToLower(cfg.Link.Driver) {
	case "bugst", "tarm":
	default:
		problems = append(problems, fmt.Sprintf("link.driver %q is not supported", cfg.Link.Driver))
	}
	if strings.TrimSpace(cfg.Link.Port) == "" {
		problems = append(problems, "link.port must not be empty")
	}
	if len(cfg.Columns) > cfg.Link.Width {
		problems = append(problems, fmt.Sprintf("%d columns declared for a frame width of %d", len(cfg.Columns), cfg.Link.Width))
	}
	names := make(map[string]int, len(cfg.Columns))
	for i, col := range cfg.Columns {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			problems = append(problems, fmt.Sprintf("columns[%d].name must not be empty", i))
			continue
		}
		if prev, ok := names[name]; ok {
			problems = append(problems, fmt.Sprintf("columns[%d].name %q duplicates columns[%d]", i, name, prev))
			continue
		}
		names[name] = i
	}
	if !cfg.Registers.UseBuiltin() && len(cfg.Registers.Entries) == 0 {
		problems = append(problems, "registers: builtin catalog disabled and no entries declared")
	}
	seen := make(map[uint16]int, len(cfg.Registers.Entries))
	for i, reg := range cfg.Registers.Entries {
		if prev, ok := seen[reg.Address]; ok {
			problems = append(problems, fmt.Sprintf("registers.entries[%d] address 0x%X duplicates entries[%d]", i, reg.Address, prev))
			continue
		}
		seen[reg.Address] = i
	}
	if cfg.Logging.Loki.Enabled && strings.TrimSpace(cfg.Logging.Loki.URL) == "" {
		problems = append(problems, "logging.loki.url is required when loki is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SourceFiles lists the files a configuration was assembled from.
func SourceFiles(cfg *Config) []string {
	if cfg == nil || cfg.Source == "" {
		return nil
	}
	return []string{cfg.Source}
}
