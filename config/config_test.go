package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"HOST", "PORT", "MAX_MINUTES", "LOG_LEVEL", "LOG_DEVELOPMENT",
	"GTFS_STATIC_URL", "GTFS_REALTIME_URL", "API_KEY", "POLLING_PERIOD", "FETCH_TIMEOUT",
}

// isolate runs the test in an empty directory with no config variables set.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultMinutes, cfg.Server.Minutes)
	assert.Equal(t, DefaultMinutesLimit, cfg.Server.MinutesLimit)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, DefaultStaticURL, cfg.Feeds.Static.URL)
	assert.Equal(t, DefaultRealtimeURL, cfg.Feeds.Realtime.URL)
	assert.Equal(t, time.Minute, cfg.Feeds.Realtime.PollingPeriod)
	assert.Equal(t, time.Hour, cfg.Feeds.Static.DefaultWait)
	assert.Equal(t, -2, cfg.Calendar.StartOffset)
	assert.Equal(t, 7, cfg.Calendar.StopOffset)
	assert.Equal(t, 24*time.Hour, cfg.Calendar.Refresh)
	assert.Equal(t, 2*time.Minute, cfg.Fetch.Timeout)
	assert.Equal(t, time.Minute, cfg.Fetch.BackoffCeiling)
	assert.True(t, cfg.RequireAPIKey())
	assert.True(t, cfg.ETagCheck())
}

func TestLoad_SearchPaths(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config", "config.yml"), `
server:
  port: 8080
  minutes: 45
logging:
  level: DEBUG
feeds:
  static:
    url: https://example.com/gtfs.zip
  realtime:
    url: https://example.com/rt
    require_api_key: false
    polling_period: 30s
calendar:
  start_offset: -1
  stop_offset: 3
fetch:
  etag_check: false
`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 45, cfg.Server.Minutes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://example.com/gtfs.zip", cfg.Feeds.Static.URL)
	assert.Equal(t, 30*time.Second, cfg.Feeds.Realtime.PollingPeriod)
	assert.Equal(t, -1, cfg.Calendar.StartOffset)
	assert.Equal(t, 3, cfg.Calendar.StopOffset)
	assert.False(t, cfg.RequireAPIKey())
	assert.False(t, cfg.ETagCheck())

	// explicit zero offsets are kept, a missing one keeps its default
	writeFile(t, filepath.Join(dir, "config", "config.yml"), "calendar:\n  start_offset: 0\n  stop_offset: 0\n")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Calendar.StartOffset)
	assert.Equal(t, 0, cfg.Calendar.StopOffset)

	writeFile(t, filepath.Join(dir, "config", "config.yml"), "calendar:\n  start_offset: -1\n")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.Calendar.StartOffset)
	assert.Equal(t, DefaultStopOffset, cfg.Calendar.StopOffset)

	// config.yml in the working directory comes first
	writeFile(t, filepath.Join(dir, "config.yml"), "server:\n  port: 9090\n")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yml")
	writeFile(t, path, "server:\n  port: 8080\nfeeds:\n  realtime:\n    api_key: from-file\n")

	t.Setenv("PORT", "9000")
	t.Setenv("API_KEY", "from-env")
	t.Setenv("POLLING_PERIOD", "60")
	t.Setenv("MAX_MINUTES", "30")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("GTFS_REALTIME_URL", "https://example.com/live")
	t.Setenv("FETCH_TIMEOUT", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Feeds.Realtime.APIKey)
	assert.Equal(t, time.Minute, cfg.Feeds.Realtime.PollingPeriod, "bare integers are seconds")
	assert.Equal(t, 30, cfg.Server.Minutes)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "https://example.com/live", cfg.Feeds.Realtime.URL)
	assert.Equal(t, 15*time.Second, cfg.Fetch.Timeout)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "API_KEY=dotenv\nPORT=7000\n")
	writeFile(t, filepath.Join(dir, ".env.local"), "PORT=7001\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv", cfg.Feeds.Realtime.APIKey)
	assert.Equal(t, 7001, cfg.Server.Port, ".env.local wins over .env")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{"bad yaml", "server: [", nil, "parse config"},
		{"bad port env", "", map[string]string{"PORT": "eighty"}, "environment variable PORT"},
		{"bad duration env", "", map[string]string{"POLLING_PERIOD": "soon"}, "environment variable POLLING_PERIOD"},
		{"port out of range", "server:\n  port: 70000\n", nil, "invalid config"},
		{"bad level", "logging:\n  level: loud\n", nil, "invalid config"},
		{"bad url", "feeds:\n  static:\n    url: not a url\n", nil, "invalid config"},
		{"polling too fast", "feeds:\n  realtime:\n    polling_period: 10ms\n", nil, "invalid config"},
		{"limit below default", "server:\n  minutes: 90\n  minutes_limit: 30\n", nil, "invalid config"},
		{"positive start offset", "calendar:\n  start_offset: 2\n  stop_offset: 7\n", nil, "invalid config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "config.yml")
			writeFile(t, path, tt.yaml)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}
