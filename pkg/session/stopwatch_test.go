package session

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestStopwatch(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	sw := NewStopwatch(clock.Now)

	clock.Advance(10*time.Second + 700*time.Millisecond)
	if got := sw.Elapsed(); got != 10*time.Second {
		t.Errorf("Expected 10s, got %v", got)
	}

	sw.Pause()
	if sw.Running() {
		t.Error("Expected stopwatch to be paused")
	}
	clock.Advance(time.Minute)
	if got := sw.Elapsed(); got != 10*time.Second {
		t.Errorf("Expected paused time not to count, got %v", got)
	}

	sw.Resume()
	clock.Advance(5 * time.Second)
	if got := sw.Elapsed(); got != 15*time.Second {
		t.Errorf("Expected 15s, got %v", got)
	}

	sw.Reset()
	if got := sw.Elapsed(); got != 0 {
		t.Errorf("Expected 0 after Reset, got %v", got)
	}
	if !sw.Running() {
		t.Error("Expected Reset to keep a running stopwatch running")
	}
}

func TestStopwatchResetWhilePaused(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	sw := NewStopwatch(clock.Now)

	clock.Advance(20 * time.Second)
	sw.Pause()
	sw.Reset()
	clock.Advance(30 * time.Second)

	if sw.Running() {
		t.Error("Expected Reset to keep a paused stopwatch paused")
	}
	if got := sw.Elapsed(); got != 0 {
		t.Errorf("Expected 0 while paused after Reset, got %v", got)
	}

	sw.Resume()
	clock.Advance(4 * time.Second)
	if got := sw.Elapsed(); got != 4*time.Second {
		t.Errorf("Expected 4s after Resume, got %v", got)
	}
}

func TestStopwatchPauseTwice(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	sw := NewStopwatch(clock.Now)

	clock.Advance(3 * time.Second)
	sw.Pause()
	clock.Advance(3 * time.Second)
	sw.Pause()
	sw.Resume()
	sw.Resume()
	clock.Advance(time.Second)
	if got := sw.Elapsed(); got != 4*time.Second {
		t.Errorf("Expected 4s, got %v", got)
	}
}
