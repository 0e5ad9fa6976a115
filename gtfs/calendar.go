package gtfs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/theoremus-urban-solutions/gtfs-live/internal/logger"
	"github.com/theoremus-urban-solutions/gtfs-live/periodic"
)

// Window defaults, in days relative to today.
const (
	DefaultStartOffset = -2
	DefaultStopOffset  = 7
)

// DefaultRefresh is how often the service calendar is rebuilt.
const DefaultRefresh = 24 * time.Hour

// ErrNoStatic is returned when a calendar is requested before any static
// data was loaded.
var ErrNoStatic = errors.New("gtfs: no static data loaded")

// ExceptionType is the exception_type column of calendar_dates.txt.
type ExceptionType int

const (
	ServiceAdded   ExceptionType = 1
	ServiceRemoved ExceptionType = 2
)

// CalendarRow is one line of calendar.txt. Days is indexed Monday..Sunday.
type CalendarRow struct {
	ServiceID string
	Days      [7]bool
	StartDate Date
	EndDate   Date
}

// RunsOn reports whether the weekly pattern covers d.
func (r CalendarRow) RunsOn(d Date) bool {
	return d.Between(r.StartDate, r.EndDate) && r.Days[weekdayIndex(d.Weekday())]
}

// weekdayIndex maps Sunday=0 onto the Monday-first index of CalendarRow.Days.
func weekdayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// CalendarException is one line of calendar_dates.txt.
type CalendarException struct {
	ServiceID string
	Date      Date
	Type      ExceptionType
}

// ServiceDay is a service running on a date.
type ServiceDay struct {
	ServiceID string
	Date      Date
}

// ExpandedCalendar is the immutable set of service days within [From, To].
type ExpandedCalendar struct {
	From    Date
	To      Date
	BuiltAt time.Time

	days  map[ServiceDay]struct{}
	byDay map[Date][]string
}

// Expand combines the weekly rows with the dated exceptions over the window
// [today+startOffset, today+stopOffset]. Additions are applied before
// removals, so a pair that is both added and removed is not running.
func Expand(rows []CalendarRow, exceptions []CalendarException, startOffset, stopOffset int, today Date) *ExpandedCalendar {
	from, to := today.AddDays(startOffset), today.AddDays(stopOffset)
	days := make(map[ServiceDay]struct{})

	for d := from; !d.After(to); d = d.AddDays(1) {
		for _, r := range rows {
			if r.RunsOn(d) {
				days[ServiceDay{ServiceID: r.ServiceID, Date: d}] = struct{}{}
			}
		}
	}

	for _, e := range exceptions {
		if e.Type == ServiceAdded && e.Date.Between(from, to) {
			days[ServiceDay{ServiceID: e.ServiceID, Date: e.Date}] = struct{}{}
		}
	}
	for _, e := range exceptions {
		if e.Type == ServiceRemoved && e.Date.Between(from, to) {
			delete(days, ServiceDay{ServiceID: e.ServiceID, Date: e.Date})
		}
	}

	byDay := make(map[Date][]string)
	for sd := range days {
		byDay[sd.Date] = append(byDay[sd.Date], sd.ServiceID)
	}
	for _, ids := range byDay {
		sort.Strings(ids)
	}

	return &ExpandedCalendar{From: from, To: to, days: days, byDay: byDay}
}

// Contains reports whether serviceID runs on d.
func (c *ExpandedCalendar) Contains(serviceID string, d Date) bool {
	if c == nil {
		return false
	}
	_, ok := c.days[ServiceDay{ServiceID: serviceID, Date: d}]
	return ok
}

// InWindow reports whether d lies within the calendar window.
func (c *ExpandedCalendar) InWindow(d Date) bool {
	return c != nil && d.Between(c.From, c.To)
}

// ServicesOn returns the sorted services running on d.
func (c *ExpandedCalendar) ServicesOn(d Date) []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.byDay[d]...)
}

// Days returns every service day ordered by date then service.
func (c *ExpandedCalendar) Days() []ServiceDay {
	if c == nil {
		return nil
	}
	out := make([]ServiceDay, 0, len(c.days))
	for sd := range c.days {
		out = append(out, sd)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].Date.Compare(out[j].Date); cmp != 0 {
			return cmp < 0
		}
		return out[i].ServiceID < out[j].ServiceID
	})
	return out
}

// Len is the number of service days.
func (c *ExpandedCalendar) Len() int {
	if c == nil {
		return 0
	}
	return len(c.days)
}

// CalendarMetrics describes the current calendar. A nil value records nothing.
type CalendarMetrics struct {
	ServiceDays prometheus.Gauge
	Rebuilds    *prometheus.CounterVec
}

func NewCalendarMetrics(reg prometheus.Registerer) *CalendarMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &CalendarMetrics{
		ServiceDays: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gtfslive",
			Subsystem: "calendar",
			Name:      "service_days",
			Help:      "Service days in the current expanded calendar.",
		}),
		Rebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gtfslive",
			Subsystem: "calendar",
			Name:      "rebuilds_total",
			Help:      "Expanded calendar rebuilds by result.",
		}, []string{"result"}),
	}
}

func (m *CalendarMetrics) rebuilt(c *ExpandedCalendar, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Rebuilds.WithLabelValues("error").Inc()
		return
	}
	m.Rebuilds.WithLabelValues("ok").Inc()
	m.ServiceDays.Set(float64(c.Len()))
}

// CalendarOption configures a ServiceCalendar.
type CalendarOption func(*ServiceCalendar)

// WithWindow sets the day offsets of the expanded window.
func WithWindow(startOffset, stopOffset int) CalendarOption {
	return func(c *ServiceCalendar) {
		c.startOffset, c.stopOffset = startOffset, stopOffset
	}
}

// WithRefresh sets how often the calendar is rebuilt.
func WithRefresh(every time.Duration) CalendarOption {
	return func(c *ServiceCalendar) {
		if every > 0 {
			c.refresh = every
		}
	}
}

func WithCalendarClock(now func() time.Time) CalendarOption {
	return func(c *ServiceCalendar) { c.now = now }
}

func WithCalendarLogger(l logger.Logger) CalendarOption {
	return func(c *ServiceCalendar) { c.log = l }
}

func WithCalendarMetrics(m *CalendarMetrics) CalendarOption {
	return func(c *ServiceCalendar) { c.metrics = m }
}

// WithTaskMetrics instruments the refresh task.
func WithTaskMetrics(m *periodic.Metrics) CalendarOption {
	return func(c *ServiceCalendar) { c.taskMetrics = m }
}

// ServiceCalendar keeps the expanded calendar of the latest static data.
// Rebuilds are serialised; readers always see a complete calendar.
type ServiceCalendar struct {
	source      func() *Static
	startOffset int
	stopOffset  int
	refresh     time.Duration
	now         func() time.Time
	log         logger.Logger
	metrics     *CalendarMetrics
	taskMetrics *periodic.Metrics

	mu      sync.Mutex
	current atomic.Pointer[ExpandedCalendar]
	task    *periodic.Task
}

// NewServiceCalendar reads its tables from source on every rebuild.
func NewServiceCalendar(source func() *Static, opts ...CalendarOption) *ServiceCalendar {
	c := &ServiceCalendar{
		source:      source,
		startOffset: DefaultStartOffset,
		stopOffset:  DefaultStopOffset,
		refresh:     DefaultRefresh,
		now:         time.Now,
		log:         logger.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches the refresh task, which also builds once immediately when
// static data is available.
func (c *ServiceCalendar) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		return
	}
	opts := []periodic.Option{periodic.WithRunAtStart(), periodic.WithLogger(c.log)}
	if c.taskMetrics != nil {
		opts = append(opts, periodic.WithMetrics(c.taskMetrics))
	}
	c.task = periodic.Start(ctx, "service-calendar", c.refresh, c.scheduledRebuild, opts...)
}

// scheduledRebuild is the refresh task. Static data that has not loaded yet
// is not a failure; the first load rebuilds through Rebuild.
func (c *ServiceCalendar) scheduledRebuild(ctx context.Context) error {
	err := c.Rebuild(ctx)
	if errors.Is(err, ErrNoStatic) {
		c.log.Debug("no static data yet, calendar rebuild skipped")
		return nil
	}
	return err
}

// Stop ends the refresh task.
func (c *ServiceCalendar) Stop() {
	c.mu.Lock()
	t := c.task
	c.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Rebuild expands the calendar of the current static data, using today in
// the agency timezone.
func (c *ServiceCalendar) Rebuild(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.source()
	if s == nil {
		return ErrNoStatic
	}
	today := DateOf(c.now().In(s.Location()))
	cal := Expand(s.Calendar, s.Exceptions, c.startOffset, c.stopOffset, today)
	cal.BuiltAt = c.now()
	c.current.Store(cal)
	c.metrics.rebuilt(cal, nil)

	c.log.Info("service calendar rebuilt",
		logger.String("from", cal.From.String()),
		logger.String("to", cal.To.String()),
		logger.Int("service_days", cal.Len()))
	return nil
}

// Current returns the latest calendar, or nil before the first rebuild.
func (c *ServiceCalendar) Current() *ExpandedCalendar { return c.current.Load() }
