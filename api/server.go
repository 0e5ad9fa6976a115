// Package api serves departure boards and service health over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theoremus-urban-solutions/gtfs-live/feeds"
	"github.com/theoremus-urban-solutions/gtfs-live/fetch"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-live/internal/logger"
)

// Feeds is what the handlers read. *feeds.Coordinator implements it.
type Feeds interface {
	Ready() bool
	Static() *gtfs.Static
	Realtime() *gtfsrt.Realtime
	Calendar() *gtfs.ExpandedCalendar
	Agents() []*fetch.Agent
	DepartureBoards(stopCodes []string, now time.Time, window time.Duration) ([]feeds.Board, error)
}

const (
	DefaultMinutes  = 90
	shutdownTimeout = 10 * time.Second
)

// Config holds the HTTP settings.
type Config struct {
	Host string
	Port int
	// DefaultMinutes is the departure window when a request names none.
	DefaultMinutes int
	// MaxMinutes caps the requested window; zero means no cap.
	MaxMinutes int
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithGatherer exposes the metrics of g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithClock replaces time.Now for departure windows.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server is the HTTP front of the feeds.
type Server struct {
	cfg      Config
	feeds    Feeds
	log      logger.Logger
	gatherer prometheus.Gatherer
	now      func() time.Time
	router   chi.Router
}

// New builds the router. The server does not listen until ListenAndServe.
func New(cfg Config, f Feeds, opts ...Option) *Server {
	if cfg.DefaultMinutes <= 0 {
		cfg.DefaultMinutes = DefaultMinutes
	}
	s := &Server{
		cfg:      cfg,
		feeds:    f,
		log:      logger.NewNop(),
		gatherer: prometheus.DefaultGatherer,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/v2/departures", s.handleDepartures)
	r.Get("/api/v2/calendar", s.handleCalendar)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.log.Info("server shut down successfully")
	return <-errCh
}

func requestLogger(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Debug("request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Int("bytes", ww.BytesWritten()),
				logger.Duration("duration", time.Since(start)),
				logger.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
