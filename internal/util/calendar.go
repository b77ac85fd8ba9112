package util

import (
	"fmt"
	"time"
)

// SessionCalendar provides market-hours awareness for the traded instrument's
// local session. The window is inclusive at both ends; weekends are always
// closed.
type SessionCalendar struct {
	loc              *time.Location
	openHH, openMM   int
	closeHH, closeMM int
}

// NewSessionCalendar creates a SessionCalendar for the given IANA timezone
// and "HH:MM" open/close times.
func NewSessionCalendar(tzName, open, close string) (*SessionCalendar, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("loading session timezone %q: %w", tzName, err)
	}
	oh, om, err := parseHHMM(open)
	if err != nil {
		return nil, fmt.Errorf("session open: %w", err)
	}
	ch, cm, err := parseHHMM(close)
	if err != nil {
		return nil, fmt.Errorf("session close: %w", err)
	}
	return &SessionCalendar{loc: loc, openHH: oh, openMM: om, closeHH: ch, closeMM: cm}, nil
}

// Location returns the session's timezone.
func (c *SessionCalendar) Location() *time.Location { return c.loc }

// IsOpen reports whether t falls inside the regular trading hours window.
func (c *SessionCalendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= c.openHH*60+c.openMM && minute <= c.closeHH*60+c.closeMM
}

// IsOpenMinute reports whether t falls exactly on the session open minute of
// a weekday. Used to latch once-per-day events to the open.
func (c *SessionCalendar) IsOpenMinute(t time.Time) bool {
	local := t.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return local.Hour() == c.openHH && local.Minute() == c.openMM
}

// IsCloseMinute reports whether t falls exactly on the session close minute
// of a weekday.
func (c *SessionCalendar) IsCloseMinute(t time.Time) bool {
	local := t.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return local.Hour() == c.closeHH && local.Minute() == c.closeMM
}

// LocalDate formats t as the session-local calendar date (YYYY-MM-DD).
func (c *SessionCalendar) LocalDate(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// LocalHour returns t's hour in the session timezone.
func (c *SessionCalendar) LocalHour(t time.Time) int {
	return t.In(c.loc).Hour()
}

// NextBarClose returns the next boundary of a barMinutes-wide bar strictly
// after t, in UTC. Used to align polling with bar closes.
func NextBarClose(t time.Time, barMinutes int) time.Time {
	if barMinutes <= 0 {
		barMinutes = 1
	}
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	minuteOfDay := t.Hour()*60 + t.Minute()
	next := (minuteOfDay/barMinutes + 1) * barMinutes
	return midnight.Add(time.Duration(next) * time.Minute)
}

func parseHHMM(s string) (hh, mm int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, 0, fmt.Errorf("invalid HH:MM value %q", s)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("out-of-range HH:MM value %q", s)
	}
	return hh, mm, nil
}
