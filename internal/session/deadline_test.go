package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestComputeDeadlineDurationWins(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// 2h duration ends at 11:00, window closes at 12:30.
	end, err := ComputeDeadline(start, 2, "12:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := start.Add(2 * time.Hour)
	if !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestComputeDeadlineWindowWins(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// 5h duration would end at 14:00, but the window closes at 12:30 the
	// same calendar day.
	end, err := ComputeDeadline(start, 5, "12:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	if !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestComputeDeadlineFractionalHours(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	end, err := ComputeDeadline(start, 0.5, "23:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := start.Add(30 * time.Minute)
	if !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestComputeDeadlineMalformed(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		start    time.Time
		duration float64
		endTime  string
	}{
		{"zero start", time.Time{}, 2, "12:30"},
		{"zero duration", start, 0, "12:30"},
		{"negative duration", start, -1, "12:30"},
		{"no colon", start, 2, "1230"},
		{"bad hour", start, 2, "25:00"},
		{"bad minute", start, 2, "12:61"},
		{"empty", start, 2, ""},
		{"garbage", start, 2, "noon"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeDeadline(tc.start, tc.duration, tc.endTime)
			if !errors.Is(err, ErrNoDeadline) {
				t.Errorf("err = %v, want ErrNoDeadline", err)
			}
		})
	}
}

func TestTrackerPollSingleShot(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	fired := 0
	tracker := NewDeadlineTracker(clock, clock.Now().Add(2*time.Second), true, func() {
		fired++
	})

	if tracker.Poll() {
		t.Fatal("expired before the deadline")
	}
	if fired != 0 {
		t.Fatalf("callback fired early")
	}

	clock.Advance(3 * time.Second)

	if !tracker.Poll() {
		t.Fatal("not expired after the deadline")
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	// Further polls report expiry but never re-fire.
	if !tracker.Poll() {
		t.Fatal("expiry did not latch")
	}
	if fired != 1 {
		t.Fatalf("fired = %d after re-poll, want 1", fired)
	}
	if tracker.Remaining() != 0 {
		t.Errorf("Remaining = %v after expiry, want 0", tracker.Remaining())
	}
}

func TestTrackerInert(t *testing.T) {
	clock := newFakeClock(time.Now())
	tracker := NewDeadlineTracker(clock, time.Time{}, false, func() {
		t.Fatal("inert tracker fired")
	})

	if tracker.Valid() {
		t.Error("inert tracker reports valid")
	}
	if tracker.Poll() {
		t.Error("inert tracker reports expired")
	}
	if tracker.Remaining() != 0 {
		t.Errorf("Remaining = %v, want 0", tracker.Remaining())
	}

	clock.Advance(24 * time.Hour)
	if tracker.Poll() {
		t.Error("inert tracker expired after clock advance")
	}
}

func TestTrackerUrgent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	tracker := NewDeadlineTracker(clock, clock.Now().Add(10*time.Minute), true, nil)

	tracker.Poll()
	if tracker.Urgent() {
		t.Error("urgent with 10 minutes left")
	}

	clock.Advance(6 * time.Minute)
	tracker.Poll()
	if !tracker.Urgent() {
		t.Error("not urgent with 4 minutes left")
	}

	clock.Advance(5 * time.Minute)
	tracker.Poll()
	if tracker.Urgent() {
		t.Error("urgent after expiry")
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{-5 * time.Second, "0:00"},
		{59 * time.Second, "0:59"},
		{65 * time.Second, "1:05"},
		{10 * time.Minute, "10:00"},
		{90 * time.Minute, "90:00"},
	}
	for _, tc := range cases {
		if got := FormatRemaining(tc.d); got != tc.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
