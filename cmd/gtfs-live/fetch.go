package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/gtfs-live/fetch"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-live/internal/logger"
)

// newFetchCommand downloads one feed to disk, for use with the cached
// command. The download retries with backoff until it succeeds or times out.
func newFetchCommand(opts *rootOptions) *cobra.Command {
	var (
		out     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:       "fetch static|realtime",
		Short:     "Download a feed once and store it on disk",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"static", "realtime"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			url := cfg.Feeds.Static.URL
			headers := http.Header{}
			check := func(b []byte) error {
				_, err := gtfs.ParseStatic(b)
				return err
			}
			if args[0] == "realtime" {
				url = cfg.Feeds.Realtime.URL
				if cfg.Feeds.Realtime.APIKey != "" {
					headers.Set("X-API-KEY", cfg.Feeds.Realtime.APIKey)
				}
				check = func(b []byte) error {
					_, err := gtfsrt.ParseRealtime(b)
					return err
				}
			}

			agent, err := fetch.New(args[0], url, fetch.Manual(),
				fetch.WithLogger(log),
				fetch.WithHeaders(headers),
				fetch.WithTransport(fetch.NewHTTPTransport(cfg.Fetch.Timeout)),
				fetch.WithBackoffCeiling(cfg.Fetch.BackoffCeiling),
				fetch.WithETagCheck(false))
			if err != nil {
				return err
			}
			agent.OnBytes(func(_ context.Context, body []byte) error {
				if err := check(body); err != nil {
					return err
				}
				return os.WriteFile(out, body, 0o644)
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := agent.Run(ctx); err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}
			log.Info("feed stored", logger.String("url", url), logger.String("path", out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "O", "", "file to write")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
