package fetch

import (
	"fmt"
	"time"
)

// Mode selects how an agent decides when to fetch next.
type Mode int

const (
	// ModeFixed fetches at anchor + k*period.
	ModeFixed Mode = iota
	// ModeAuto derives the wait from the last response's freshness headers.
	ModeAuto
	// ModeManual fetches until the first success, then stops.
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeFixed:
		return "fixed"
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Schedule describes when an agent fetches. A zero Anchor in fixed mode is
// resolved against the agent clock at construction.
type Schedule struct {
	Mode   Mode
	Anchor time.Time
	Period time.Duration

	align func(now time.Time) time.Time
}

// Validate rejects fixed schedules without a positive period.
func (s Schedule) Validate() error {
	switch s.Mode {
	case ModeFixed:
		if s.Period <= 0 {
			return fmt.Errorf("%w: fixed period must be positive, got %s", ErrInvalidSchedule, s.Period)
		}
	case ModeAuto, ModeManual:
	default:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidSchedule, s.Mode)
	}
	return nil
}

func (s Schedule) resolve(now time.Time) Schedule {
	if s.Mode != ModeFixed || !s.Anchor.IsZero() {
		return s
	}
	if s.align != nil {
		s.Anchor = s.align(now)
	} else {
		s.Anchor = now
	}
	return s
}

func (s Schedule) String() string {
	if s.Mode != ModeFixed {
		return s.Mode.String()
	}
	return fmt.Sprintf("every %s from %s", s.Period, s.Anchor.Format(time.RFC3339))
}

// NextExecTime returns the first anchor + k*period strictly after now. An
// anchor still in the future is returned unchanged; missed cycles collapse
// into one.
func NextExecTime(anchor time.Time, period time.Duration, now time.Time) time.Time {
	if anchor.After(now) || period <= 0 {
		return anchor
	}
	k := now.Sub(anchor)/period + 1
	return anchor.Add(k * period)
}

// Every fetches every period, starting at construction time.
func Every(period time.Duration) Schedule {
	return Schedule{Mode: ModeFixed, Period: period}
}

func EveryMinute() Schedule { return EveryNMinutes(1) }

func EveryNMinutes(n int) Schedule { return Every(time.Duration(n) * time.Minute) }

func EveryNHours(n int) Schedule { return Every(time.Duration(n) * time.Hour) }

// EveryNHoursAt anchors on the given minute of the current hour.
func EveryNHoursAt(n, minute int) Schedule {
	s := EveryNHours(n)
	s.align = func(now time.Time) time.Time {
		return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, now.Location())
	}
	return s
}

func Hourly() Schedule { return EveryNHours(1) }

func HourlyAt(minute int) Schedule { return EveryNHoursAt(1, minute) }

func EveryNDays(n int) Schedule { return Every(time.Duration(n) * 24 * time.Hour) }

// EveryNDaysAt anchors on hour:minute of the current day.
func EveryNDaysAt(n, hour, minute int) Schedule {
	s := EveryNDays(n)
	s.align = func(now time.Time) time.Time {
		return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	}
	return s
}

func Daily() Schedule { return EveryNDays(1) }

func DailyAt(hour, minute int) Schedule { return EveryNDaysAt(1, hour, minute) }

// FromAnchor fetches at anchor + k*period.
func FromAnchor(anchor time.Time, period time.Duration) Schedule {
	return Schedule{Mode: ModeFixed, Anchor: anchor, Period: period}
}

// Auto sleeps according to the freshness headers of the last response.
func Auto() Schedule { return Schedule{Mode: ModeAuto} }

// Manual fetches once successfully and returns.
func Manual() Schedule { return Schedule{Mode: ModeManual} }
