package config

import "time"

// ServerConfig contains the HTTP API configuration.
type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT" validate:"gt=0,lte=65535"`
	// Minutes is the departure window used when a request names none.
	Minutes int `yaml:"minutes" env:"MAX_MINUTES" validate:"gt=0"`
	// MinutesLimit caps the window a request may ask for.
	MinutesLimit int `yaml:"minutes_limit" validate:"gtefield=Minutes"`
}

// LoggingConfig is handed to the logger constructor.
type LoggingConfig struct {
	Level       string   `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Development bool     `yaml:"development" env:"LOG_DEVELOPMENT"`
	OutputPaths []string `yaml:"output_paths"`
}

// StaticFeedConfig describes the GTFS static archive.
type StaticFeedConfig struct {
	URL string `yaml:"url" env:"GTFS_STATIC_URL" validate:"required,url"`
	// DefaultWait applies when the server sends no cache headers.
	DefaultWait time.Duration `yaml:"default_wait" validate:"gt=0"`
}

// RealtimeFeedConfig describes the GTFS-Realtime TripUpdates feed.
type RealtimeFeedConfig struct {
	URL           string        `yaml:"url" env:"GTFS_REALTIME_URL" validate:"required,url"`
	APIKey        string        `yaml:"api_key" env:"API_KEY"`
	RequireAPIKey *bool         `yaml:"require_api_key"`
	PollingPeriod time.Duration `yaml:"polling_period" env:"POLLING_PERIOD" validate:"gte=1s"`
}

// FeedsConfig groups both feeds.
type FeedsConfig struct {
	Static   StaticFeedConfig   `yaml:"static"`
	Realtime RealtimeFeedConfig `yaml:"realtime"`
}

// CalendarConfig sets the service calendar window relative to today.
type CalendarConfig struct {
	StartOffset int           `yaml:"start_offset" validate:"lte=0"`
	StopOffset  int           `yaml:"stop_offset" validate:"gte=0"`
	Refresh     time.Duration `yaml:"refresh" validate:"gt=0"`
}

// FetchConfig tunes the polling agents.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout" env:"FETCH_TIMEOUT" validate:"gt=0"`
	BackoffCeiling time.Duration `yaml:"backoff_ceiling" validate:"gte=1s"`
	ETagCheck      *bool         `yaml:"etag_check"`
}

// AppConfig is the root configuration structure.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Feeds    FeedsConfig    `yaml:"feeds"`
	Calendar CalendarConfig `yaml:"calendar"`
	Fetch    FetchConfig    `yaml:"fetch"`
}

// RequireAPIKey reports whether the realtime feed refuses to start without a key.
func (c *AppConfig) RequireAPIKey() bool {
	return c.Feeds.Realtime.RequireAPIKey == nil || *c.Feeds.Realtime.RequireAPIKey
}

// ETagCheck reports whether agents compare ETags before downloading.
func (c *AppConfig) ETagCheck() bool {
	return c.Fetch.ETagCheck == nil || *c.Fetch.ETagCheck
}
