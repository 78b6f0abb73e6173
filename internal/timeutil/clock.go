// Package timeutil abstracts the clock behind the session workers and the
// persistence writer. Production code runs on RealClock; tests drive
// MockClock by hand so snapshot cadences, stop grace and retry backoff can
// be observed without real waiting.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time surface the workers depend on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)

	// NewTimer creates a Timer that fires once after at least d.
	NewTimer(d time.Duration) Timer

	// NewTicker creates a Ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Timer is a single-shot timer.
type Timer interface {
	// C returns the channel the firing time is delivered on.
	C() <-chan time.Time

	// Stop prevents the timer from firing.
	Stop() bool
}

// Ticker delivers ticks at an interval.
type Ticker interface {
	// C returns the channel the ticks are delivered on.
	C() <-chan time.Time

	// Stop turns the ticker off.
	Stop()
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) C() <-chan time.Time { return t.timer.C }
func (t *realTimer) Stop() bool          { return t.timer.Stop() }

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// MockClock is a manually advanced clock. Sleep returns immediately and
// records the requested duration; Advance moves time forward and fires any
// timers or tickers that came due.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	timers  []*MockTimer
	tickers []*MockTicker
}

// NewMockClock creates a MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to an absolute time without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward and fires expired timers and tickers.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	timers := c.timers
	tickers := c.tickers
	c.mu.Unlock()

	for _, t := range timers {
		t.checkAndFire(now)
	}
	for _, t := range tickers {
		t.checkAndFire(now)
	}
}

// Sleep records the duration and returns immediately.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
}

// Sleeps returns every duration passed to Sleep, in order.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// NewTimer creates a timer that fires when the clock advances past d.
func (c *MockClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTimer{
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
	}
	c.timers = append(c.timers, t)
	return t
}

// NewTicker creates a ticker driven by Advance or Trigger.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		nextTick: c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// MockTimer is a manually fired single-shot timer.
type MockTimer struct {
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	stopped  bool
	fired    bool
}

func (t *MockTimer) C() <-chan time.Time { return t.ch }

// Stop prevents the timer from firing. Reports whether it was still armed.
func (t *MockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (t *MockTimer) checkAndFire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.fired {
		return
	}
	if !now.Before(t.deadline) {
		t.fired = true
		select {
		case t.ch <- now:
		default:
		}
	}
}

// MockTicker is a manually fired ticker.
type MockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	nextTick time.Time
	stopped  bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

// Stop turns the ticker off.
func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Trigger sends one tick immediately, regardless of the clock.
func (t *MockTicker) Trigger(now time.Time) {
	select {
	case t.ch <- now:
	default:
	}
}

func (t *MockTicker) checkAndFire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if !now.Before(t.nextTick) {
		select {
		case t.ch <- now:
		default:
		}
		t.nextTick = now.Add(t.interval)
	}
}
