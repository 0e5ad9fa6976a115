package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/theoremus-urban-solutions/gtfs-live/gtfs"
)

// QueryError is a client mistake in the query string.
type QueryError struct{ Msg string }

func (e *QueryError) Error() string { return e.Msg }

// stopCodes collects every stop parameter; comma separated lists are split.
func stopCodes(q url.Values) ([]string, error) {
	var codes []string
	seen := map[string]bool{}
	for _, v := range q["stop"] {
		for _, code := range strings.Split(v, ",") {
			code = strings.TrimSpace(code)
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return nil, &QueryError{Msg: "You must provide at least one stop."}
	}
	return codes, nil
}

// window reads minutes, defaulting to def and capped at limit when limit > 0.
func window(q url.Values, def, limit int) (time.Duration, error) {
	minutes, err := parseNonNegativeInt(q.Get("minutes"))
	if err != nil {
		return 0, err
	}
	if minutes < 0 {
		minutes = def
	}
	if limit > 0 && minutes > limit {
		minutes = limit
	}
	return time.Duration(minutes) * time.Minute, nil
}

func parseNonNegativeInt(s string) (int, error) {
	if s == "" {
		return -1, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return -1, &QueryError{Msg: "Numeric parameter must be a non-negative integer."}
	}
	return v, nil
}

// serviceDate reads date as YYYYMMDD or YYYY-MM-DD, defaulting to today.
func serviceDate(q url.Values, today gtfs.Date) (gtfs.Date, error) {
	v := strings.ReplaceAll(strings.TrimSpace(q.Get("date")), "-", "")
	if v == "" {
		return today, nil
	}
	d, err := gtfs.ParseDate(v)
	if err != nil {
		return gtfs.Date{}, &QueryError{Msg: "Date must be formatted as YYYYMMDD."}
	}
	return d, nil
}
