// Package feeds keeps the static timetable and the realtime trip updates
// fresh, each with its own polling agent, and tells callers when both have
// been loaded at least once.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/theoremus-urban-solutions/gtfs-live/fetch"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-live/internal/logger"
	"github.com/theoremus-urban-solutions/gtfs-live/periodic"
)

// Agent names, also used as metric labels.
const (
	StaticAgentName   = "static"
	RealtimeAgentName = "realtime"
)

// ErrMissingAPIKey is returned by New when the realtime feed needs a key and
// none was configured.
var ErrMissingAPIKey = errors.New("feeds: realtime API key must be set")

// Options describes the two feeds.
type Options struct {
	StaticURL   string
	RealtimeURL string
	APIKey      string
	// RequireAPIKey refuses to start without APIKey.
	RequireAPIKey bool
	// RealtimeEvery is the fixed realtime polling period.
	RealtimeEvery time.Duration
	// StaticDefaultWait applies when the static feed sends no freshness headers.
	StaticDefaultWait time.Duration
	BackoffCeiling    time.Duration
	RequestTimeout    time.Duration
	ETagCheck         bool

	CalendarStartOffset int
	CalendarStopOffset  int
	CalendarRefresh     time.Duration
}

// DefaultOptions matches the production schedule: realtime every minute,
// static driven by its cache headers.
func DefaultOptions() Options {
	return Options{
		RequireAPIKey:       true,
		RealtimeEvery:       time.Minute,
		StaticDefaultWait:   fetch.DefaultWait,
		BackoffCeiling:      fetch.DefaultBackoffCeiling,
		RequestTimeout:      fetch.DefaultTimeout,
		ETagCheck:           true,
		CalendarStartOffset: gtfs.DefaultStartOffset,
		CalendarStopOffset:  gtfs.DefaultStopOffset,
		CalendarRefresh:     gtfs.DefaultRefresh,
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithRegistry registers fetch, calendar and task metrics on reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(c *Coordinator) { c.reg = reg }
}

// WithAgentOptions appends options to both polling agents.
func WithAgentOptions(opts ...fetch.Option) Option {
	return func(c *Coordinator) { c.agentOpts = append(c.agentOpts, opts...) }
}

// WithClock replaces time.Now for the calendar and departure queries.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns the latest static and realtime snapshots. Snapshots are
// replaced whole; readers never see a partial update.
type Coordinator struct {
	opts      Options
	log       logger.Logger
	reg       prometheus.Registerer
	agentOpts []fetch.Option
	now       func() time.Time

	static   atomic.Pointer[gtfs.Static]
	realtime atomic.Pointer[gtfsrt.Realtime]

	calendar      *gtfs.ServiceCalendar
	gate          *Gate
	staticAgent   *fetch.Agent
	realtimeAgent *fetch.Agent
}

func newCoordinator(opts Options, options ...Option) *Coordinator {
	c := &Coordinator{
		opts: opts,
		log:  logger.NewNop(),
		now:  time.Now,
		gate: NewGate(),
	}
	for _, o := range options {
		o(c)
	}

	calOpts := []gtfs.CalendarOption{
		gtfs.WithWindow(opts.CalendarStartOffset, opts.CalendarStopOffset),
		gtfs.WithRefresh(opts.CalendarRefresh),
		gtfs.WithCalendarClock(c.now),
		gtfs.WithCalendarLogger(c.log.With(logger.String("component", "calendar"))),
	}
	if c.reg != nil {
		calOpts = append(calOpts,
			gtfs.WithCalendarMetrics(gtfs.NewCalendarMetrics(c.reg)),
			gtfs.WithTaskMetrics(periodic.NewMetrics(c.reg)))
	}
	c.calendar = gtfs.NewServiceCalendar(c.static.Load, calOpts...)
	return c
}

// New wires the static agent (header driven) and the realtime agent (fixed
// period) without starting them.
func New(opts Options, options ...Option) (*Coordinator, error) {
	if opts.RequireAPIKey && opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := newCoordinator(opts, options...)

	var metrics *fetch.Metrics
	if c.reg != nil {
		metrics = fetch.NewMetrics(c.reg)
	}
	common := []fetch.Option{
		fetch.WithTransport(fetch.NewHTTPTransport(opts.RequestTimeout)),
		fetch.WithBackoffCeiling(opts.BackoffCeiling),
		fetch.WithETagCheck(opts.ETagCheck),
		fetch.WithMetrics(metrics),
	}
	common = append(common, c.agentOpts...)

	var err error
	c.staticAgent, err = fetch.New(StaticAgentName, opts.StaticURL, fetch.Auto(),
		append([]fetch.Option{
			fetch.WithLogger(c.log),
			fetch.WithDefaultWait(opts.StaticDefaultWait),
		}, common...)...)
	if err != nil {
		return nil, fmt.Errorf("static feed: %w", err)
	}

	headers := http.Header{}
	headers.Set("Cache-Control", "no-cache")
	if opts.APIKey != "" {
		headers.Set("X-API-KEY", opts.APIKey)
	}
	c.realtimeAgent, err = fetch.New(RealtimeAgentName, opts.RealtimeURL, fetch.Every(opts.RealtimeEvery),
		append([]fetch.Option{
			fetch.WithLogger(c.log),
			fetch.WithHeaders(headers),
		}, common...)...)
	if err != nil {
		return nil, fmt.Errorf("realtime feed: %w", err)
	}

	c.staticAgent.OnBytes(c.newStatic)
	c.realtimeAgent.OnBytes(c.newRealtime)
	c.staticAgent.OnNotify(c.checkReady)
	c.realtimeAgent.OnNotify(c.checkReady)
	return c, nil
}

// NewCached loads both feeds from disk once and never polls. The gate is
// open on return.
func NewCached(staticPath, realtimePath string, options ...Option) (*Coordinator, error) {
	opts := DefaultOptions()
	opts.RequireAPIKey = false
	c := newCoordinator(opts, options...)

	s, err := gtfs.LoadStaticFile(staticPath)
	if err != nil {
		return nil, err
	}
	rt, err := gtfsrt.LoadRealtimeFile(realtimePath)
	if err != nil {
		return nil, err
	}
	s.LoadedAt = c.now()
	c.static.Store(s)
	c.realtime.Store(rt)
	if err := c.calendar.Rebuild(context.Background()); err != nil {
		return nil, err
	}
	c.gate.Open()
	c.log.Info("loaded cached feeds",
		logger.String("static", staticPath),
		logger.String("realtime", realtimePath),
		logger.Int("stops", len(s.Stops)),
		logger.Int("trip_updates", rt.Len()))
	return c, nil
}

// Start launches the agents and the daily calendar refresh. In cached mode
// only the calendar refresh runs.
func (c *Coordinator) Start(ctx context.Context) {
	c.calendar.Start(ctx)
	if c.staticAgent != nil {
		c.staticAgent.Start(ctx)
	}
	if c.realtimeAgent != nil {
		c.realtimeAgent.Start(ctx)
	}
}

// Stop ends the calendar refresh; agents stop with the context given to Start.
func (c *Coordinator) Stop() {
	c.calendar.Stop()
}

func (c *Coordinator) newStatic(ctx context.Context, body []byte) error {
	s, err := gtfs.ParseStatic(body)
	if err != nil {
		return err
	}
	s.LoadedAt = c.now()
	c.static.Store(s)
	c.log.Info("static data updated",
		logger.Int("stops", len(s.Stops)),
		logger.Int("trips", len(s.Trips)),
		logger.Int("stop_times", s.StopTimeCount()),
		logger.String("timezone", s.Location().String()))
	return c.calendar.Rebuild(ctx)
}

func (c *Coordinator) newRealtime(_ context.Context, body []byte) error {
	rt, err := gtfsrt.ParseRealtime(body)
	if err != nil {
		return err
	}
	c.realtime.Store(rt)
	c.log.Debug("realtime data updated",
		logger.Int("trips", rt.TripCount()),
		logger.Int("stop_time_updates", rt.Len()),
		logger.Time("feed_timestamp", rt.Timestamp))
	return nil
}

func (c *Coordinator) checkReady(context.Context) error {
	if c.static.Load() != nil && c.realtime.Load() != nil && !c.gate.IsOpen() {
		c.gate.Open()
		c.log.Info("static and realtime data available")
	}
	return nil
}

// WaitReady reports whether both feeds loaded within timeout. A timeout
// leaves the agents running.
func (c *Coordinator) WaitReady(timeout time.Duration) bool {
	return c.gate.WaitTimeout(timeout)
}

// Ready reports whether both feeds have loaded.
func (c *Coordinator) Ready() bool { return c.gate.IsOpen() }

// Gate exposes the readiness gate.
func (c *Coordinator) Gate() *Gate { return c.gate }

// Static returns the latest static snapshot, or nil.
func (c *Coordinator) Static() *gtfs.Static { return c.static.Load() }

// Realtime returns the latest realtime snapshot, or nil.
func (c *Coordinator) Realtime() *gtfsrt.Realtime { return c.realtime.Load() }

// Calendar returns the latest expanded calendar, or nil.
func (c *Coordinator) Calendar() *gtfs.ExpandedCalendar { return c.calendar.Current() }

// Agents returns the polling agents; empty in cached mode.
func (c *Coordinator) Agents() []*fetch.Agent {
	var out []*fetch.Agent
	for _, a := range []*fetch.Agent{c.staticAgent, c.realtimeAgent} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Now is the coordinator clock.
func (c *Coordinator) Now() time.Time { return c.now() }
