package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
}

func TestSessionCalendarIsOpen(t *testing.T) {
	cal, err := NewSessionCalendar("America/New_York", "09:30", "16:00")
	if err != nil {
		t.Fatalf("NewSessionCalendar: %v", err)
	}

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		// 2025-03-12 is a Wednesday. 14:30 UTC == 10:30 ET (EDT).
		{"mid-session", time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC), true},
		{"open minute", time.Date(2025, 3, 12, 13, 30, 0, 0, time.UTC), true},
		{"close minute inclusive", time.Date(2025, 3, 12, 20, 0, 0, 0, time.UTC), true},
		{"before open", time.Date(2025, 3, 12, 13, 29, 0, 0, time.UTC), false},
		{"after close", time.Date(2025, 3, 12, 20, 1, 0, 0, time.UTC), false},
		// 2025-03-15 is a Saturday.
		{"weekend", time.Date(2025, 3, 15, 15, 0, 0, 0, time.UTC), false},
		// Before the March 9 DST switch, 14:30 UTC is 09:30 EST.
		{"pre-DST open minute", time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC), true},
		{"pre-DST before open", time.Date(2025, 3, 5, 14, 29, 0, 0, time.UTC), false},
	}
	for _, c := range cases {
		if got := cal.IsOpen(c.t); got != c.want {
			t.Errorf("%s: IsOpen(%v) = %v, want %v", c.name, c.t, got, c.want)
		}
	}
}

func TestSessionCalendarEdgeMinutes(t *testing.T) {
	cal, err := NewSessionCalendar("Europe/Berlin", "09:00", "17:30")
	if err != nil {
		t.Fatalf("NewSessionCalendar: %v", err)
	}

	// 2025-06-02 is a Monday; Berlin is UTC+2 in June.
	open := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	if !cal.IsOpenMinute(open) {
		t.Error("expected IsOpenMinute at 09:00 Berlin")
	}
	if cal.IsOpenMinute(open.Add(time.Minute)) {
		t.Error("IsOpenMinute should only match the exact open minute")
	}

	close := time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC)
	if !cal.IsCloseMinute(close) {
		t.Error("expected IsCloseMinute at 17:30 Berlin")
	}
	if got := cal.LocalDate(open); got != "2025-06-02" {
		t.Errorf("LocalDate = %q, want 2025-06-02", got)
	}
}

func TestSessionCalendarBadInput(t *testing.T) {
	if _, err := NewSessionCalendar("Not/AZone", "09:00", "17:00"); err == nil {
		t.Error("expected error for unknown timezone")
	}
	if _, err := NewSessionCalendar("UTC", "25:00", "17:00"); err == nil {
		t.Error("expected error for out-of-range open time")
	}
	if _, err := NewSessionCalendar("UTC", "nine", "17:00"); err == nil {
		t.Error("expected error for malformed open time")
	}
}

func TestNextBarClose(t *testing.T) {
	cases := []struct {
		t    time.Time
		mins int
		want time.Time
	}{
		{time.Date(2025, 3, 10, 12, 3, 20, 0, time.UTC), 5, time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)},
		// exactly on a boundary rolls to the next one
		{time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC), 5, time.Date(2025, 3, 10, 12, 10, 0, 0, time.UTC)},
		{time.Date(2025, 3, 10, 12, 59, 0, 0, time.UTC), 60, time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)},
		{time.Date(2025, 3, 10, 23, 58, 0, 0, time.UTC), 5, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := NextBarClose(c.t, c.mins); !got.Equal(c.want) {
			t.Errorf("NextBarClose(%v, %d) = %v, want %v", c.t, c.mins, got, c.want)
		}
	}
}
