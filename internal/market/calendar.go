// Package market provides market-hours awareness for the execution engine.
package market

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Gate reports whether the market is open at t. The scheduler consults it
// once per tick.
type Gate interface {
	IsOpen(t time.Time) bool
}

// Calendar is a weekday session calendar with a single continuous session
// and an optional holiday list.
type Calendar struct {
	loc      *time.Location
	open     time.Duration // offset from local midnight
	close    time.Duration
	holidays map[string]bool // "2006-01-02" in loc
}

// NewCalendar builds a calendar for tz with a session from openAt to closeAt
// ("15:04" layout, close exclusive).
func NewCalendar(tz, openAt, closeAt string, holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("market: load location %q: %w", tz, err)
	}
	o, err := parseClock(openAt)
	if err != nil {
		return nil, err
	}
	c, err := parseClock(closeAt)
	if err != nil {
		return nil, err
	}
	if c <= o {
		return nil, fmt.Errorf("market: close %s is not after open %s", closeAt, openAt)
	}

	cal := &Calendar{loc: loc, open: o, close: c, holidays: make(map[string]bool, len(holidays))}
	for _, h := range holidays {
		d, err := time.ParseInLocation("2006-01-02", h, loc)
		if err != nil {
			return nil, fmt.Errorf("market: holiday %q: %w", h, err)
		}
		cal.holidays[d.Format("2006-01-02")] = true
	}
	return cal, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("market: session time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsOpen returns whether the session is open at t.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c.holidays[local.Format("2006-01-02")] {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	since := local.Sub(midnight)
	return since >= c.open && since < c.close
}

// AlwaysOpen is a Gate that never closes. Used in development and tests.
type AlwaysOpen struct{}

func (AlwaysOpen) IsOpen(time.Time) bool { return true }
