// Package session resolves trading-day boundaries, daily reset instants
// and holiday membership in the configured exchange timezone.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar answers boundary questions for one reset schedule. All
// returned instants are absolute; callers never re-derive them later.
type Calendar struct {
	loc          *time.Location
	resetHour    int
	resetMinute  int
	skipHolidays bool
	holidays     map[string]struct{}
}

// NewCalendar builds a calendar for the given IANA zone and "HH:MM"
// reset time. holidays are "YYYY-MM-DD" dates in that zone. When
// skipHolidays is set, reset boundaries on holiday dates are passed
// over entirely.
func NewCalendar(tz, resetAt string, holidays []string, skipHolidays bool) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	hour, minute, err := parseClock(resetAt)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(holidays))
	for _, d := range holidays {
		if _, err := time.ParseInLocation(dateLayout, d, loc); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", d, err)
		}
		set[d] = struct{}{}
	}
	return &Calendar{
		loc:          loc,
		resetHour:    hour,
		resetMinute:  minute,
		skipHolidays: skipHolidays,
		holidays:     set,
	}, nil
}

func parseClock(s string) (int, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("reset time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("reset time %q: bad hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("reset time %q: bad minute", s)
	}
	return hour, minute, nil
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Date formats t as YYYY-MM-DD in the calendar zone.
func (c *Calendar) Date(t time.Time) string {
	return t.In(c.loc).Format(dateLayout)
}

// IsHoliday reports whether t falls on a configured holiday date.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[c.Date(t)]
	return ok
}

// boundaryOn returns the reset instant on the calendar date containing t.
func (c *Calendar) boundaryOn(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.resetHour, c.resetMinute, 0, 0, c.loc)
}

// NextReset returns the first reset boundary strictly after t. With
// skipHolidays set, boundaries whose date is a holiday are passed over,
// so a lockout "until next reset" spans the holiday.
func (c *Calendar) NextReset(t time.Time) time.Time {
	b := c.boundaryOn(t)
	if !b.After(t) {
		b = c.boundaryOn(b.AddDate(0, 0, 1))
	}
	for c.skipHolidays && c.isHolidayDate(b) {
		b = c.boundaryOn(b.AddDate(0, 0, 1))
	}
	return b
}

// LastReset returns the most recent reset boundary at or before t.
func (c *Calendar) LastReset(t time.Time) time.Time {
	b := c.boundaryOn(t)
	if b.After(t) {
		b = c.boundaryOn(b.AddDate(0, 0, -1))
	}
	for c.skipHolidays && c.isHolidayDate(b) {
		b = c.boundaryOn(b.AddDate(0, 0, -1))
	}
	return b
}

func (c *Calendar) isHolidayDate(b time.Time) bool {
	_, ok := c.holidays[b.In(c.loc).Format(dateLayout)]
	return ok
}

// TradingDay returns the date key of the trading day containing t. The
// trading day flips at the reset boundary, not at midnight, so an
// instant before today's boundary still belongs to yesterday's day.
func (c *Calendar) TradingDay(t time.Time) string {
	return c.Date(c.LastReset(t))
}

// SameTradingDay reports whether a and b fall inside the same trading day.
func (c *Calendar) SameTradingDay(a, b time.Time) bool {
	return c.TradingDay(a) == c.TradingDay(b)
}

// InSession reports whether t is inside a tradable session. Holidays are
// outside any session; session-scoped rules treat them as closed days.
func (c *Calendar) InSession(t time.Time) bool {
	return !c.IsHoliday(t)
}
