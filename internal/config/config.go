// ABOUTME: Configuration loading and parsing for coven-dataengine
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Isolation modes for the engine.
const (
	IsolationAuto = "auto" // run the engine on a worker, fall back in-process if unavailable
	IsolationOff  = "off"  // always run in-process
)

// Snapshot compression codecs.
const (
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
	CompressionNone = "none"
)

// Config represents the complete coven-dataengine configuration
type Config struct {
	Engine     EngineConfig     `yaml:"engine" toml:"engine"`
	Durability DurabilityConfig `yaml:"durability" toml:"durability"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// EngineConfig holds settings for the execution backend
type EngineConfig struct {
	// WorkDir holds the working database file. Empty means a fresh temp dir per engine.
	WorkDir         string `yaml:"work_dir" toml:"work_dir"`
	Isolation       string `yaml:"isolation" toml:"isolation"`
	VectorDimension int    `yaml:"vector_dimension" toml:"vector_dimension"`
	SeedRows        int    `yaml:"seed_rows" toml:"seed_rows"`
}

// DurabilityConfig holds snapshot persistence settings
type DurabilityConfig struct {
	Enabled     bool          `yaml:"enabled" toml:"enabled"`
	Path        string        `yaml:"path" toml:"path"`
	Compression string        `yaml:"compression" toml:"compression"`
	LockTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	LockTimeoutRaw string `yaml:"lock_timeout" toml:"lock_timeout"`
}

// ServerConfig holds the HTTP listener configuration for `dataengine serve`
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration usable without any config file.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Isolation:       IsolationAuto,
			VectorDimension: 128,
			SeedRows:        5,
		},
		Durability: DurabilityConfig{
			Enabled:     true,
			Path:        "dataengine.db",
			Compression: CompressionZstd,
			LockTimeout: time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:        "127.0.0.1:8480",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Fields missing from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Engine.Isolation {
	case IsolationAuto, IsolationOff:
	default:
		return fmt.Errorf("engine.isolation must be %q or %q, got %q", IsolationAuto, IsolationOff, c.Engine.Isolation)
	}

	if c.Engine.VectorDimension <= 0 {
		return fmt.Errorf("engine.vector_dimension must be positive")
	}

	if c.Engine.SeedRows < 0 {
		return fmt.Errorf("engine.seed_rows must not be negative")
	}

	if c.Durability.Enabled && c.Durability.Path == "" {
		return fmt.Errorf("durability.path is required when durability is enabled")
	}

	switch c.Durability.Compression {
	case CompressionZstd, CompressionLZ4, CompressionNone:
	default:
		return fmt.Errorf("durability.compression must be one of zstd, lz4, none; got %q", c.Durability.Compression)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Durability.LockTimeoutRaw != "" {
		cfg.Durability.LockTimeout, err = time.ParseDuration(cfg.Durability.LockTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing lock_timeout %q: %w", cfg.Durability.LockTimeoutRaw, err)
		}
	}

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	return nil
}
