package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  name: "test-relay"
  motd: "hello"
  bind_address: "127.0.0.1"
  max_players: 8
  password_required: true
  password: "secret"
  buffer_size: 4096
  roster_path: "r.json"
logging:
  level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-relay", cfg.Server.Name)
	assert.Equal(t, 8, cfg.Server.MaxPlayers)
	assert.True(t, cfg.Server.PasswordRequired)
	assert.Equal(t, "secret", cfg.Server.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Sections the file omits keep their defaults.
	assert.False(t, cfg.HTTP.Enabled)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty name", func(c *Config) { c.Server.Name = "" }, "name"},
		{"empty bind address", func(c *Config) { c.Server.BindAddress = "" }, "bind_address"},
		{"zero max players", func(c *Config) { c.Server.MaxPlayers = 0 }, "max_players"},
		{
			"password required but empty",
			func(c *Config) { c.Server.PasswordRequired = true; c.Server.Password = "" },
			"password",
		},
		{"tiny buffer", func(c *Config) { c.Server.BufferSize = 100 }, "buffer_size"},
		{"empty roster path", func(c *Config) { c.Server.RosterPath = "" }, "roster_path"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "format"},
		{
			"http enabled without port",
			func(c *Config) { c.HTTP.Enabled = true; c.HTTP.Port = 0 },
			"port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
