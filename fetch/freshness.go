package fetch

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultWait is used in auto mode when neither Cache-Control nor Expires
// says how long the resource stays fresh.
const DefaultWait = time.Hour

// CacheControlWait returns how long the resource stays fresh according to
// Cache-Control. It returns 0 when the header is absent, says no-cache, has no
// max-age, or when the value cannot be interpreted.
func CacheControlWait(h http.Header, now time.Time) time.Duration {
	values := h.Values("Cache-Control")
	if len(values) == 0 {
		return 0
	}

	var maxAge int64 = -1
	for _, v := range values {
		for _, directive := range strings.Split(v, ",") {
			directive = strings.ToLower(strings.TrimSpace(directive))
			switch {
			case directive == "no-cache":
				return 0
			case strings.HasPrefix(directive, "max-age="):
				n, err := strconv.ParseInt(strings.Trim(directive[len("max-age="):], `"`), 10, 64)
				if err != nil || n < 0 {
					return 0
				}
				maxAge = n
			}
		}
	}
	if maxAge < 0 {
		return 0
	}

	if age := h.Get("Age"); age != "" {
		a, err := strconv.ParseInt(strings.TrimSpace(age), 10, 64)
		if err != nil {
			return 0
		}
		return clipAtZero(time.Duration(maxAge-a) * time.Second)
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		modified, err := http.ParseTime(lm)
		if err != nil {
			return 0
		}
		return clipAtZero(modified.Add(time.Duration(maxAge) * time.Second).Sub(now))
	}
	return 0
}

// ExpiresWait returns the time left until the Expires header date, or 0 when
// it is "0", absent, unparseable or already past.
func ExpiresWait(h http.Header, now time.Time) time.Duration {
	exp := strings.TrimSpace(h.Get("Expires"))
	if exp == "" || exp == "0" {
		return 0
	}
	t, err := http.ParseTime(exp)
	if err != nil {
		return 0
	}
	return clipAtZero(t.Sub(now))
}

// HeaderWait combines both freshness sources. Cache-Control wins when it yields
// a positive wait; Expires is consulted only when Cache-Control yields 0.
func HeaderWait(h http.Header, now time.Time, fallback time.Duration) time.Duration {
	if cc := CacheControlWait(h, now); cc > 0 {
		return cc
	}
	if exp := ExpiresWait(h, now); exp > 0 {
		return exp
	}
	return fallback
}

func clipAtZero(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
