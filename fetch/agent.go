// Package fetch keeps a remote resource fresh: an Agent downloads it on a
// schedule, hands every successful response to its subscribers, and backs off
// exponentially while the resource or a subscriber keeps failing.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/theoremus-urban-solutions/gtfs-live/internal/logger"
	"github.com/theoremus-urban-solutions/gtfs-live/periodic"
)

// State is the phase of an agent loop.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateBackingOff
	StateWaitingForSchedule
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateBackingOff:
		return "backing_off"
	case StateWaitingForSchedule:
		return "waiting_for_schedule"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// PayloadShape selects what a callback receives.
type PayloadShape int

const (
	// PayloadNone passes nil; the callback is a plain notification.
	PayloadNone PayloadShape = iota
	// PayloadBytes passes the body as []byte.
	PayloadBytes
	// PayloadText passes the body as string.
	PayloadText
	// PayloadJSON passes the body decoded into any.
	PayloadJSON
)

// Callback receives a fresh payload. Returning an error, or panicking, marks
// the fetch cycle as failed so that it is retried with backoff.
type Callback func(ctx context.Context, payload any) error

type subscription struct {
	cb    Callback
	shape PayloadShape
}

// Option configures an Agent.
type Option func(*Agent)

// WithHeaders sets the request headers.
func WithHeaders(h http.Header) Option {
	return func(a *Agent) { a.headers = h.Clone() }
}

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(a *Agent) { a.transport = t }
}

func WithLogger(l logger.Logger) Option {
	return func(a *Agent) { a.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithDefaultWait sets the auto-mode wait used when headers give none.
func WithDefaultWait(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.defaultWait = d
		}
	}
}

func WithBackoffCeiling(d time.Duration) Option {
	return func(a *Agent) { a.backoff = NewBackoff(d) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithSleep replaces the cancellable sleep between cycles.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Agent) { a.sleep = sleep }
}

// WithETagCheck enables the HEAD request that skips a download when the
// ETag of the resource did not change.
func WithETagCheck(enabled bool) Option {
	return func(a *Agent) { a.etagCheck = enabled }
}

// Agent polls one resource. Construct with New, then register callbacks
// before calling Start.
type Agent struct {
	name     string
	url      string
	schedule Schedule

	mu      sync.RWMutex
	headers http.Header
	subs    []subscription

	transport   Transport
	log         logger.Logger
	metrics     *Metrics
	defaultWait time.Duration
	backoff     *Backoff
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	etagCheck   bool

	last  atomic.Pointer[Response]
	state atomic.Int32

	startOnce sync.Once
	done      chan struct{}
}

// New validates the schedule and builds an agent. It fails with
// ErrInvalidAgent or ErrInvalidSchedule; neither is retried.
func New(name, url string, schedule Schedule, opts ...Option) (*Agent, error) {
	if name == "" || url == "" {
		return nil, fmt.Errorf("%w: name and url are required (name=%q url=%q)", ErrInvalidAgent, name, url)
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}

	a := &Agent{
		name:        name,
		url:         url,
		headers:     http.Header{},
		transport:   NewHTTPTransport(DefaultTimeout),
		log:         logger.NewNop(),
		defaultWait: DefaultWait,
		backoff:     NewBackoff(DefaultBackoffCeiling),
		now:         time.Now,
		sleep:       periodic.Sleep,
		etagCheck:   true,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	a.schedule = schedule.resolve(a.now())
	a.log = a.log.With(logger.String("agent", name))
	return a, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// URL returns the polled URL.
func (a *Agent) URL() string { return a.url }

// Schedule returns the resolved schedule.
func (a *Agent) Schedule() Schedule { return a.schedule }

// RegisterCallback appends cb; callbacks run in registration order.
func (a *Agent) RegisterCallback(cb Callback, shape PayloadShape) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = append(a.subs, subscription{cb: cb, shape: shape})
}

// OnNotify registers a callback that only wants to know an update happened.
func (a *Agent) OnNotify(fn func(ctx context.Context) error) {
	a.RegisterCallback(func(ctx context.Context, _ any) error { return fn(ctx) }, PayloadNone)
}

// OnBytes registers a callback receiving the raw body.
func (a *Agent) OnBytes(fn func(ctx context.Context, body []byte) error) {
	a.RegisterCallback(func(ctx context.Context, p any) error {
		body, _ := p.([]byte)
		return fn(ctx, body)
	}, PayloadBytes)
}

// SetHeaders replaces the request headers for subsequent fetches.
func (a *Agent) SetHeaders(h http.Header) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.headers = h.Clone()
}

func (a *Agent) requestHeaders() http.Header {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.headers.Clone()
}

func (a *Agent) subscribers() []subscription {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]subscription(nil), a.subs...)
}

// LastResponse returns the last successful response, or nil.
func (a *Agent) LastResponse() *Response { return a.last.Load() }

// ResponseHeaders returns the headers of the last successful response, or nil.
func (a *Agent) ResponseHeaders() http.Header {
	if r := a.last.Load(); r != nil {
		return r.Header
	}
	return nil
}

// State returns the current loop phase.
func (a *Agent) State() State { return State(a.state.Load()) }

// Done is closed when the loop started by Start has exited.
func (a *Agent) Done() <-chan struct{} { return a.done }

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
	a.metrics.state(a.name, s)
}

// Start launches the loop on its own goroutine. Later calls do nothing.
func (a *Agent) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		go func() {
			defer close(a.done)
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("agent stopped", logger.Error(err))
			}
		}()
	})
}

// Run blocks running fetch cycles until ctx is done, or, in manual mode,
// until the first successful cycle.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent started", logger.String("url", a.url), logger.String("schedule", a.schedule.String()))
	defer a.setState(StateIdle)

	retrying := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// A failed cycle may have stored a response its subscribers rejected,
		// so retries skip the ETag comparison.
		if retrying || a.needsUpdate(ctx) {
			if err := a.Fetch(ctx); err != nil {
				retrying = true
				if ctx.Err() != nil {
					return ctx.Err()
				}
				wait := a.backoff.Next(statusOf(err))
				a.metrics.backingOff(a.name, wait)
				a.setState(StateBackingOff)
				if errors.Is(err, ErrRateLimited) {
					a.log.Error("too many requests, using maximum backoff", logger.Duration("wait", wait))
				} else {
					a.log.Error("fetch cycle failed, retrying", logger.Error(err), logger.Duration("wait", wait))
				}
				if err := a.sleep(ctx, wait); err != nil {
					return err
				}
				continue
			}
			retrying = false
			a.backoff.Reset()
			if a.schedule.Mode == ModeManual {
				return nil
			}
		}

		wait := a.nextWait()
		a.metrics.waiting(a.name, wait)
		a.setState(StateWaitingForSchedule)
		a.log.Debug("waiting for next fetch", logger.Duration("wait", wait))
		if err := a.sleep(ctx, wait); err != nil {
			return err
		}
		a.setState(StateIdle)
	}
}

func (a *Agent) nextWait() time.Duration {
	now := a.now()
	switch a.schedule.Mode {
	case ModeAuto:
		h := a.ResponseHeaders()
		wait := HeaderWait(h, now, a.defaultWait)
		a.log.Info("freshness from headers",
			logger.Duration("cache_control", CacheControlWait(h, now)),
			logger.Duration("expires", ExpiresWait(h, now)),
			logger.Duration("wait", wait))
		return wait
	default:
		return NextExecTime(a.schedule.Anchor, a.schedule.Period, now).Sub(now)
	}
}

// needsUpdate reports false only when the resource advertises the same ETag
// as the last successful response. A failed HEAD counts as changed.
func (a *Agent) needsUpdate(ctx context.Context) bool {
	if !a.etagCheck {
		return true
	}
	last := a.last.Load()
	if last == nil {
		return true
	}
	old := last.Header.Get("ETag")
	if old == "" {
		return true
	}
	h, err := a.transport.Head(ctx, a.url, a.requestHeaders())
	if err != nil {
		a.log.Debug("etag check failed", logger.Error(err))
		return true
	}
	if current := h.Get("ETag"); current == old {
		a.log.Warn("agent woke up before the resource changed, etag unchanged", logger.String("etag", current))
		a.metrics.fetched(a.name, "unchanged")
		return false
	}
	return true
}

// Fetch runs one synchronous cycle: download, store and broadcast. It returns
// a *TransportError, an *HTTPStatusError, or the joined *SubscriberError
// values of the failed callbacks.
func (a *Agent) Fetch(ctx context.Context) error {
	a.setState(StateFetching)

	resp, err := a.transport.Get(ctx, a.url, a.requestHeaders())
	if err != nil {
		a.metrics.fetched(a.name, "transport_error")
		return &TransportError{Agent: a.name, URL: a.url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.metrics.fetched(a.name, "http_error")
		return &HTTPStatusError{Agent: a.name, URL: a.url, StatusCode: resp.StatusCode}
	}
	if resp.FetchedAt.IsZero() {
		resp.FetchedAt = a.now()
	}
	a.last.Store(resp)
	a.log.Info("resource downloaded", logger.Int("status", resp.StatusCode), logger.Int("bytes", len(resp.Body)))

	if err := a.broadcast(ctx, resp); err != nil {
		a.metrics.fetched(a.name, "subscriber_error")
		return err
	}
	a.metrics.fetched(a.name, "ok")
	a.metrics.succeeded(a.name, resp.FetchedAt)
	return nil
}

func (a *Agent) broadcast(ctx context.Context, resp *Response) error {
	subs := a.subscribers()
	if len(subs) == 0 {
		a.log.Warn("no callbacks registered")
		return nil
	}

	var errs []error
	for i, s := range subs {
		if err := a.invoke(ctx, s, resp); err != nil {
			serr := &SubscriberError{Agent: a.name, Index: i, Err: err}
			a.log.Error("callback failed", logger.Int("index", i), logger.Error(err))
			a.metrics.subscriberFailed(a.name)
			errs = append(errs, serr)
			continue
		}
		a.log.Debug("callback finished", logger.Int("index", i))
	}
	return errors.Join(errs...)
}

func (a *Agent) invoke(ctx context.Context, s subscription, resp *Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var payload any
	switch s.shape {
	case PayloadBytes:
		payload = resp.Body
	case PayloadText:
		payload = string(resp.Body)
	case PayloadJSON:
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
	}
	return s.cb(ctx, payload)
}
