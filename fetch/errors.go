package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidSchedule is returned by New for a schedule that cannot produce
	// a next execution time. It is a configuration error and never retried.
	ErrInvalidSchedule = errors.New("fetch: invalid schedule")
	// ErrInvalidAgent is returned by New for a missing name or URL.
	ErrInvalidAgent = errors.New("fetch: invalid agent")
	// ErrRateLimited matches an HTTPStatusError carrying 429.
	ErrRateLimited = errors.New("fetch: rate limited")
)

// TransportError is a request that produced no HTTP response.
type TransportError struct {
	Agent string
	URL   string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request %s: %v", e.Agent, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError is a response outside the 2xx range.
type HTTPStatusError struct {
	Agent      string
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s from %s", e.Agent, e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// SubscriberError is a callback that returned an error or panicked.
type SubscriberError struct {
	Agent string
	Index int
	Err   error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("%s: subscriber %d: %v", e.Agent, e.Index, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }

func statusOf(err error) int {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
