// xml_config_test.go - Tests for XML configuration loading
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.config.xml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "default config should be written")
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, 120*time.Second, cfg.MaxWait())
	assert.Equal(t, filepath.Join(dir, "data", "cases.duckdb"), cfg.Storage.DatabasePath)
	assert.Equal(t, "local", cfg.Storage.Backend)
}

func TestLoadConfig_RoundTripAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.config.xml")

	cfg := DefaultConfig()
	cfg.Extraction.PollIntervalMs = 500
	cfg.Security.Users = []UserConfig{{Username: "alice", Password: "pw"}}
	require.NoError(t, cfg.Save(path))

	t.Setenv("PORT", "9911")
	t.Setenv("LLM_MODEL", "local-model")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9911, loaded.Server.Port)
	assert.Equal(t, "local-model", loaded.Extraction.Model)
	assert.Equal(t, 500*time.Millisecond, loaded.PollInterval())
	require.Len(t, loaded.Security.Users, 1)
	assert.Equal(t, "alice", loaded.Security.Users[0].Username)
}

func TestLoadConfig_InvalidXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.xml")
	require.NoError(t, os.WriteFile(path, []byte("<InterviewToQuote><Server>"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr bool
	}{
		{"defaults", func(c *AppConfig) {}, false},
		{"bad backend", func(c *AppConfig) { c.Storage.Backend = "s3" }, true},
		{"zero poll", func(c *AppConfig) { c.Extraction.PollIntervalMs = 0 }, true},
		{"auth without secret", func(c *AppConfig) { c.Security.RequireAuth = true }, true},
		{"auth with secret", func(c *AppConfig) {
			c.Security.RequireAuth = true
			c.Security.JWTSecret = "s3cret"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAllowedExtensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.AllowedFileTypes = " .TXT, .png ,,"
	assert.Equal(t, []string{".txt", ".png"}, cfg.AllowedExtensions())
}
