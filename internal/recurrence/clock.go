package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day. Seconds are deliberately not represented:
// dispensing slots and due times are minute-granular.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Before reports whether c is earlier in the day than other.
func (c Clock) Before(other Clock) bool {
	if c.Hour != other.Hour {
		return c.Hour < other.Hour
	}
	return c.Minute < other.Minute
}

// After reports whether c is later in the day than other.
func (c Clock) After(other Clock) bool { return other.Before(c) }

// On places the clock time onto the given date, keeping its location.
func (c Clock) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, 0, 0, date.Location())
}

// ParseClock parses "HH:MM". A trailing ":SS" is accepted and dropped, since
// upstream systems sometimes store slots with seconds.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) == 3 {
		parts = parts[:2]
	}
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// ClockOf extracts the time-of-day of t.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

// ApplyTimeOfDay resolves the wall-clock time for an occurrence date.
//
// Priority: the rule's first preferred time, then the caller's default
// (e.g. 08:00 for monitoring tasks), then the clock time carried on t.
func ApplyTimeOfDay(r Rule, t time.Time, def *Clock) time.Time {
	if len(r.Times) > 0 {
		return r.Times[0].On(t)
	}
	if def != nil {
		return def.On(t)
	}
	return t
}
