// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
engine:
  work_dir: "/tmp/engine"
  isolation: "off"
  vector_dimension: 64
  seed_rows: 3

durability:
  enabled: true
  path: "./snapshots.db"
  compression: "lz4"
  lock_timeout: "250ms"

server:
  http_addr: "0.0.0.0:9000"
  shutdown_timeout: "3s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.WorkDir != "/tmp/engine" {
		t.Errorf("Engine.WorkDir = %q, want %q", cfg.Engine.WorkDir, "/tmp/engine")
	}
	if cfg.Engine.Isolation != IsolationOff {
		t.Errorf("Engine.Isolation = %q, want %q", cfg.Engine.Isolation, IsolationOff)
	}
	if cfg.Engine.VectorDimension != 64 {
		t.Errorf("Engine.VectorDimension = %d, want 64", cfg.Engine.VectorDimension)
	}
	if cfg.Engine.SeedRows != 3 {
		t.Errorf("Engine.SeedRows = %d, want 3", cfg.Engine.SeedRows)
	}
	if cfg.Durability.Compression != CompressionLZ4 {
		t.Errorf("Durability.Compression = %q, want %q", cfg.Durability.Compression, CompressionLZ4)
	}
	if cfg.Durability.LockTimeout != 250*time.Millisecond {
		t.Errorf("Durability.LockTimeout = %v, want %v", cfg.Durability.LockTimeout, 250*time.Millisecond)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9000")
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, 3*time.Second)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[engine]
isolation = "auto"
vector_dimension = 32

[durability]
enabled = false
compression = "none"

[logging]
level = "warn"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, IsolationAuto, cfg.Engine.Isolation)
	assert.Equal(t, 32, cfg.Engine.VectorDimension)
	assert.False(t, cfg.Durability.Enabled)
	assert.Equal(t, CompressionNone, cfg.Durability.Compression)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Unset fields keep their defaults
	assert.Equal(t, 5, cfg.Engine.SeedRows)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DATAENGINE_SNAPSHOTS", "/var/lib/dataengine/snapshots.db")

	path := writeConfig(t, "config.yaml", `
durability:
  enabled: true
  path: "${TEST_DATAENGINE_SNAPSHOTS}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/dataengine/snapshots.db", cfg.Durability.Path)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
engine:
  work_dir: "${TEST_DATAENGINE_DEFINITELY_UNSET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Engine.WorkDir)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", "{}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Engine, cfg.Engine)
	assert.Equal(t, want.Durability.Path, cfg.Durability.Path)
	assert.Equal(t, want.Durability.LockTimeout, cfg.Durability.LockTimeout)
	assert.Equal(t, want.Server.HTTPAddr, cfg.Server.HTTPAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "engine: [unterminated\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
durability:
  lock_timeout: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "unknown isolation",
			mutate:  func(c *Config) { c.Engine.Isolation = "sometimes" },
			wantErr: "engine.isolation",
		},
		{
			name:    "zero dimension",
			mutate:  func(c *Config) { c.Engine.VectorDimension = 0 },
			wantErr: "engine.vector_dimension",
		},
		{
			name:    "negative seed rows",
			mutate:  func(c *Config) { c.Engine.SeedRows = -1 },
			wantErr: "engine.seed_rows",
		},
		{
			name:    "durability without path",
			mutate:  func(c *Config) { c.Durability.Path = "" },
			wantErr: "durability.path",
		},
		{
			name: "disabled durability needs no path",
			mutate: func(c *Config) {
				c.Durability.Enabled = false
				c.Durability.Path = ""
			},
		},
		{
			name:    "unknown compression",
			mutate:  func(c *Config) { c.Durability.Compression = "gzip" },
			wantErr: "durability.compression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}
