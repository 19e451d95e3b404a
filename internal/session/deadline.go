package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LowTimeThreshold marks the remaining time under which the countdown is
// flagged for urgent display. Presentational only.
const LowTimeThreshold = 5 * time.Minute

// Clock abstracts wall-clock reads so the tracker is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ErrNoDeadline is returned when scheduling fields are missing or malformed.
// The session then runs without a countdown and never auto-submits on time.
var ErrNoDeadline = errors.New("attempt has no usable deadline")

// ComputeDeadline derives the single authoritative end-of-attempt instant:
// the earlier of (start + duration) and (start's calendar date at the
// scheduled end-of-window time-of-day). The window boundary caps a long
// duration; the duration caps a window far in the future.
func ComputeDeadline(start time.Time, durationHours float64, endOfWindow string) (time.Time, error) {
	if start.IsZero() || durationHours <= 0 {
		return time.Time{}, ErrNoDeadline
	}

	hh, mm, err := parseClockTime(endOfWindow)
	if err != nil {
		return time.Time{}, ErrNoDeadline
	}

	durationEnd := start.Add(time.Duration(durationHours * float64(time.Hour)))
	y, m, d := start.Date()
	windowEnd := time.Date(y, m, d, hh, mm, 0, 0, start.Location())

	if durationEnd.Before(windowEnd) {
		return durationEnd, nil
	}
	return windowEnd, nil
}

func parseClockTime(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed time-of-day %q", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("malformed hour in %q", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("malformed minute in %q", s)
	}
	return hh, mm, nil
}

// DeadlineTracker polls the wall clock against a fixed end instant and
// signals expiry exactly once. A tracker built from malformed scheduling
// data is inert: Remaining reports zero and the callback never fires.
type DeadlineTracker struct {
	clock Clock
	end   time.Time
	valid bool

	mu        sync.Mutex
	expired   bool
	remaining time.Duration
	onExpire  func()

	stop     chan struct{}
	stopOnce sync.Once
}

// NewDeadlineTracker creates a tracker for the given end instant. onExpire
// runs at most once, from the polling goroutine (or Poll caller).
func NewDeadlineTracker(clock Clock, end time.Time, valid bool, onExpire func()) *DeadlineTracker {
	t := &DeadlineTracker{
		clock:    clock,
		end:      end,
		valid:    valid,
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
	if valid {
		t.remaining = end.Sub(clock.Now())
		if t.remaining < 0 {
			t.remaining = 0
		}
	}
	return t
}

// Start launches the one-second poll loop. It returns immediately for an
// inert tracker. The loop exits when expiry fires, ctx is cancelled, or
// Stop is called.
func (t *DeadlineTracker) Start(ctx context.Context) {
	if !t.valid {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				if t.Poll() {
					return
				}
			}
		}
	}()
}

// Poll recomputes the remaining time and fires the expiry callback on the
// first poll at or past the deadline. Returns true once expired so the
// caller can stop polling. Exposed so tests can drive the tracker without
// real time.
func (t *DeadlineTracker) Poll() bool {
	if !t.valid {
		return false
	}

	t.mu.Lock()
	if t.expired {
		t.mu.Unlock()
		return true
	}

	remaining := t.end.Sub(t.clock.Now())
	if remaining > 0 {
		t.remaining = remaining
		t.mu.Unlock()
		return false
	}

	// Single-shot: mark before invoking the callback so a re-entrant poll
	// can never fire it twice.
	t.remaining = 0
	t.expired = true
	cb := t.onExpire
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

// Stop cancels the poll loop. Safe to call more than once.
func (t *DeadlineTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Valid reports whether a usable deadline exists.
func (t *DeadlineTracker) Valid() bool { return t.valid }

// Remaining returns the last polled remaining duration (zero when inert or
// expired).
func (t *DeadlineTracker) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid {
		return 0
	}
	return t.remaining
}

// Expired reports whether expiry has been signaled.
func (t *DeadlineTracker) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Urgent reports whether the countdown is inside the low-time display window.
func (t *DeadlineTracker) Urgent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valid && !t.expired && t.remaining <= LowTimeThreshold
}

// FormatRemaining renders a duration as "M:SS" for display.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	secs := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
