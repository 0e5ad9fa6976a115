package fetch

import (
	"net/http"
	"time"
)

// DefaultBackoffCeiling caps the wait between failed attempts.
const DefaultBackoffCeiling = 60 * time.Second

// Backoff tracks the exponential wait between failed attempts of one agent.
// It is owned by the agent goroutine and is not safe for concurrent use.
type Backoff struct {
	ceiling   time.Duration
	errorWait time.Duration
}

// NewBackoff returns a reset Backoff. A non-positive ceiling selects
// DefaultBackoffCeiling.
func NewBackoff(ceiling time.Duration) *Backoff {
	if ceiling <= 0 {
		ceiling = DefaultBackoffCeiling
	}
	return &Backoff{ceiling: ceiling}
}

// Next returns the wait before the next retry and advances the state.
// statusCode is the HTTP status of the failed attempt, or 0 when there was none.
func (b *Backoff) Next(statusCode int) time.Duration {
	var wait time.Duration
	if statusCode == http.StatusTooManyRequests {
		wait = b.ceiling
	} else {
		wait = max(b.errorWait, time.Second)
	}
	b.errorWait = min(wait*2, b.ceiling)
	return wait
}

// Reset clears the failure streak after a successful cycle.
func (b *Backoff) Reset() { b.errorWait = 0 }

// Ceiling returns the configured maximum wait.
func (b *Backoff) Ceiling() time.Duration { return b.ceiling }
