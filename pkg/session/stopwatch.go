package session

import "time"

// Stopwatch measures the time spent labelling one crop. Paused intervals
// are not counted.
type Stopwatch struct {
	now     func() time.Time
	started time.Time
	elapsed time.Duration
	running bool
}

// NewStopwatch returns a running stopwatch. A nil clock uses time.Now.
func NewStopwatch(now func() time.Time) *Stopwatch {
	if now == nil {
		now = time.Now
	}
	s := &Stopwatch{now: now, running: true}
	s.Reset()
	return s
}

// Reset zeroes the stopwatch. A paused stopwatch stays paused.
func (s *Stopwatch) Reset() {
	s.elapsed = 0
	s.started = s.now()
}

// Pause stops counting
func (s *Stopwatch) Pause() {
	if !s.running {
		return
	}
	s.elapsed += s.now().Sub(s.started)
	s.running = false
}

// Resume continues counting after Pause
func (s *Stopwatch) Resume() {
	if s.running {
		return
	}
	s.started = s.now()
	s.running = true
}

// Running reports whether the stopwatch is counting
func (s *Stopwatch) Running() bool {
	return s.running
}

// Elapsed returns the counted time truncated to whole seconds
func (s *Stopwatch) Elapsed() time.Duration {
	d := s.elapsed
	if s.running {
		d += s.now().Sub(s.started)
	}
	return d.Truncate(time.Second)
}
