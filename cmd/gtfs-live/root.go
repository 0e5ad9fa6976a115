package main

import (
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/gtfs-live/config"
	"github.com/theoremus-urban-solutions/gtfs-live/feeds"
	"github.com/theoremus-urban-solutions/gtfs-live/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "gtfs-live",
		Short:         "Live departure boards from GTFS and GTFS-Realtime feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (default is ./config.yml or ./config/config.yml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(opts),
		newCachedCommand(opts),
		newCalendarCommand(opts),
		newFetchCommand(opts),
		newVersionCommand(),
	)
	return root
}

// load reads the configuration and builds the logger it describes.
func (o *rootOptions) load() (*config.AppConfig, logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func feedOptions(cfg *config.AppConfig) feeds.Options {
	return feeds.Options{
		StaticURL:           cfg.Feeds.Static.URL,
		RealtimeURL:         cfg.Feeds.Realtime.URL,
		APIKey:              cfg.Feeds.Realtime.APIKey,
		RequireAPIKey:       cfg.RequireAPIKey(),
		RealtimeEvery:       cfg.Feeds.Realtime.PollingPeriod,
		StaticDefaultWait:   cfg.Feeds.Static.DefaultWait,
		BackoffCeiling:      cfg.Fetch.BackoffCeiling,
		RequestTimeout:      cfg.Fetch.Timeout,
		ETagCheck:           cfg.ETagCheck(),
		CalendarStartOffset: cfg.Calendar.StartOffset,
		CalendarStopOffset:  cfg.Calendar.StopOffset,
		CalendarRefresh:     cfg.Calendar.Refresh,
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			v := version
			if v == "" {
				v = "devel"
				if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
					v = info.Main.Version
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "gtfs-live %s\n", v)
		},
	}
}
