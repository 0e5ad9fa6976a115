package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/gtfs-live/api"
	"github.com/theoremus-urban-solutions/gtfs-live/config"
	"github.com/theoremus-urban-solutions/gtfs-live/feeds"
	"github.com/theoremus-urban-solutions/gtfs-live/internal/logger"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var readyTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the feeds and serve the departures API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			reg := newRegistry()
			coord, err := feeds.New(feedOptions(cfg), feeds.WithLogger(log), feeds.WithRegistry(reg))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			coord.Start(ctx)
			defer coord.Stop()

			if readyTimeout > 0 {
				log.Info("waiting for feeds", logger.Duration("timeout", readyTimeout))
				if !coord.WaitReady(readyTimeout) {
					log.Warn("feeds not ready yet, serving anyway")
				}
			}
			return serve(ctx, cfg, coord, log, api.WithGatherer(reg))
		},
	}
	cmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 0,
		"wait up to this long for both feeds before listening")
	return cmd
}

func newCachedCommand(opts *rootOptions) *cobra.Command {
	var staticPath, realtimePath string
	cmd := &cobra.Command{
		Use:   "cached",
		Short: "Serve the departures API from feeds stored on disk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			reg := newRegistry()
			coord, err := feeds.NewCached(staticPath, realtimePath,
				feeds.WithLogger(log), feeds.WithRegistry(reg))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			coord.Start(ctx)
			defer coord.Stop()
			return serve(ctx, cfg, coord, log, api.WithGatherer(reg))
		},
	}
	cmd.Flags().StringVar(&staticPath, "static", "", "GTFS static zip archive")
	cmd.Flags().StringVar(&realtimePath, "realtime", "", "GTFS-Realtime TripUpdates protobuf file")
	_ = cmd.MarkFlagRequired("static")
	_ = cmd.MarkFlagRequired("realtime")
	return cmd
}

func serve(ctx context.Context, cfg *config.AppConfig, f api.Feeds, log logger.Logger, opts ...api.Option) error {
	srv := api.New(api.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		DefaultMinutes: cfg.Server.Minutes,
		MaxMinutes:     cfg.Server.MinutesLimit,
	}, f, append([]api.Option{api.WithLogger(log)}, opts...)...)
	return srv.ListenAndServe(ctx)
}
