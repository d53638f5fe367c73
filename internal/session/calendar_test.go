package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCalendar(t *testing.T, holidays []string, skip bool) *Calendar {
	t.Helper()
	cal, err := NewCalendar("America/Chicago", "17:00", holidays, skip)
	require.NoError(t, err)
	return cal
}

func TestNewCalendarValidation(t *testing.T) {
	_, err := NewCalendar("Not/AZone", "17:00", nil, false)
	assert.Error(t, err)

	_, err = NewCalendar("UTC", "25:00", nil, false)
	assert.Error(t, err)

	_, err = NewCalendar("UTC", "17-00", nil, false)
	assert.Error(t, err)

	_, err = NewCalendar("UTC", "17:00", []string{"07/03/2026"}, false)
	assert.Error(t, err)
}

func TestNextResetAroundBoundary(t *testing.T) {
	cal := mustCalendar(t, nil, false)
	loc := cal.Location()

	before := time.Date(2026, 3, 10, 16, 59, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 10, 17, 0, 0, 0, loc), cal.NextReset(before))

	// Exactly at the boundary the next reset is tomorrow's.
	at := time.Date(2026, 3, 10, 17, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 11, 17, 0, 0, 0, loc), cal.NextReset(at))

	after := time.Date(2026, 3, 10, 17, 0, 1, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 11, 17, 0, 0, 0, loc), cal.NextReset(after))
}

func TestTradingDayFlipsAtBoundary(t *testing.T) {
	cal := mustCalendar(t, nil, false)
	loc := cal.Location()

	morning := time.Date(2026, 3, 11, 9, 0, 0, 0, loc)
	evening := time.Date(2026, 3, 11, 18, 0, 0, 0, loc)

	assert.Equal(t, "2026-03-10", cal.TradingDay(morning))
	assert.Equal(t, "2026-03-11", cal.TradingDay(evening))
	assert.False(t, cal.SameTradingDay(morning, evening))
	assert.True(t, cal.SameTradingDay(evening, evening.Add(2*time.Hour)))
}

func TestHolidaySkipExtendsNextReset(t *testing.T) {
	loc := mustCalendar(t, nil, false).Location()
	from := time.Date(2026, 7, 2, 18, 0, 0, 0, loc)

	// Holiday resets still fire by default.
	keep := mustCalendar(t, []string{"2026-07-03"}, false)
	assert.Equal(t, time.Date(2026, 7, 3, 17, 0, 0, 0, loc), keep.NextReset(from))

	// With skip enabled the boundary moves past the holiday.
	skip := mustCalendar(t, []string{"2026-07-03"}, true)
	assert.Equal(t, time.Date(2026, 7, 4, 17, 0, 0, 0, loc), skip.NextReset(from))
}

func TestInSession(t *testing.T) {
	cal := mustCalendar(t, []string{"2026-07-03"}, false)
	loc := cal.Location()

	assert.False(t, cal.InSession(time.Date(2026, 7, 3, 10, 0, 0, 0, loc)))
	assert.True(t, cal.InSession(time.Date(2026, 7, 2, 10, 0, 0, 0, loc)))
}

func TestLoadHolidayFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holidays.yaml")
	content := "holidays:\n  - \"2026-01-01\"\n  - \"2026-07-03\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	days, err := LoadHolidayFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-01", "2026-07-03"}, days)

	_, err = LoadHolidayFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
