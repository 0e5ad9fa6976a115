package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 7341
	DefaultMinutes        = 90
	DefaultMinutesLimit   = 24 * 60
	DefaultLogLevel       = "info"
	DefaultStaticURL      = "https://www.transportforireland.ie/transitData/Data/GTFS_Realtime.zip"
	DefaultRealtimeURL    = "https://api.nationaltransport.ie/gtfsr/v2/TripUpdates"
	DefaultPollingPeriod  = time.Minute
	DefaultStaticWait     = time.Hour
	DefaultStartOffset    = -2
	DefaultStopOffset     = 7
	DefaultRefresh        = 24 * time.Hour
	DefaultTimeout        = 2 * time.Minute
	DefaultBackoffCeiling = time.Minute
)

// SearchPaths are tried in order when no explicit path is given.
var SearchPaths = []string{"config.yml", "./config/config.yml"}

// Load reads the configuration. An explicit path must exist; without one the
// search paths are tried and a missing file leaves defaults and environment.
func Load(path string) (*AppConfig, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	// Offsets are seeded before decoding since zero is a valid offset.
	cfg := AppConfig{Calendar: CalendarConfig{
		StartOffset: DefaultStartOffset,
		StopOffset:  DefaultStopOffset,
	}}
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		return data, nil
	}
	for _, p := range SearchPaths {
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file %s: %w", p, err)
		}
	}
	return nil, nil
}

// loadEnvFiles loads .env.local then .env. godotenv never overrides a
// variable that is already set, so .env.local wins over .env.
func loadEnvFiles() error {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Minutes == 0 {
		cfg.Server.Minutes = DefaultMinutes
	}
	if cfg.Server.MinutesLimit == 0 {
		cfg.Server.MinutesLimit = max(DefaultMinutesLimit, cfg.Server.Minutes)
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	switch cfg.Logging.Level {
	case "":
		cfg.Logging.Level = DefaultLogLevel
	case "warning":
		cfg.Logging.Level = "warn"
	}

	if cfg.Feeds.Static.URL == "" {
		cfg.Feeds.Static.URL = DefaultStaticURL
	}
	if cfg.Feeds.Static.DefaultWait == 0 {
		cfg.Feeds.Static.DefaultWait = DefaultStaticWait
	}
	if cfg.Feeds.Realtime.URL == "" {
		cfg.Feeds.Realtime.URL = DefaultRealtimeURL
	}
	if cfg.Feeds.Realtime.PollingPeriod == 0 {
		cfg.Feeds.Realtime.PollingPeriod = DefaultPollingPeriod
	}

	if cfg.Calendar.Refresh == 0 {
		cfg.Calendar.Refresh = DefaultRefresh
	}

	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = DefaultTimeout
	}
	if cfg.Fetch.BackoffCeiling == 0 {
		cfg.Fetch.BackoffCeiling = DefaultBackoffCeiling
	}
}

// Validate checks the struct tags of cfg.
func Validate(cfg *AppConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
