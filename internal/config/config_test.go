package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 30*time.Second, cfg.Map.RefreshInterval)
	assert.Equal(t, 15, cfg.Map.MaxZoom)
	assert.Equal(t, 5*time.Minute, cfg.Geo.MaxPositionAge)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "9000"
backend:
  base_url: http://file/api
  timeout: 5s
map:
  refresh_interval: 45s
  palette: ["#000", "#fff"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("API_URL", "http://env/api")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "http://env/api", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 45*time.Second, cfg.Map.RefreshInterval)
	assert.Equal(t, []string{"#000", "#fff"}, cfg.Map.Palette)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ReactAppURLIsFallback(t *testing.T) {
	t.Setenv("API_URL", "")
	t.Setenv("REACT_APP_API_URL", "http://react/api")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://react/api", cfg.Backend.BaseURL)

	t.Setenv("API_URL", "http://primary/api")
	cfg, err = Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://primary/api", cfg.Backend.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "bad database", mutate: func(c *Config) { c.Database.Type = "mysql" }, wantErr: true},
		{name: "no backend", mutate: func(c *Config) { c.Backend.BaseURL = "" }, wantErr: true},
		{name: "refresh too fast", mutate: func(c *Config) { c.Map.RefreshInterval = time.Millisecond }, wantErr: true},
		{name: "zoom out of range", mutate: func(c *Config) { c.Map.MaxZoom = 30 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{}
			c.setDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
