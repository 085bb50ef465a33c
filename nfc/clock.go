package nfc

import (
	"sync"
	"time"
)

// Clock abstracts the time operations used by the poller, the hot-plug watcher
// and handle re-acquisition so tests can drive them without real delays.
// It also satisfies backoff.Clock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker used here.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock with the time package.
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return &RealClock{}
}

func (rc *RealClock) Now() time.Time {
	return time.Now()
}

func (rc *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (rc *RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time {
	return rt.ticker.C
}

func (rt *realTicker) Stop() {
	rt.ticker.Stop()
}

// FakeClock is a Clock whose time only moves when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	tickers []*fakeTicker
}

type fakeWaiter struct {
	deadline time.Time
	c        chan time.Time
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(startTime time.Time) *FakeClock {
	return &FakeClock{now: startTime}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) After(d time.Duration) <-chan time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	c := make(chan time.Time, 1)
	if d <= 0 {
		c <- fc.now
		return c
	}
	fc.waiters = append(fc.waiters, &fakeWaiter{deadline: fc.now.Add(d), c: c})
	return c
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTicker{interval: d, next: fc.now.Add(d), c: make(chan time.Time, 1)}
	fc.tickers = append(fc.tickers, ft)
	return ft
}

// Advance moves time forward and fires every waiter and ticker that came due.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	pending := fc.waiters[:0]
	for _, w := range fc.waiters {
		if fc.now.Before(w.deadline) {
			pending = append(pending, w)
			continue
		}
		w.c <- fc.now
	}
	fc.waiters = pending

	for _, t := range fc.tickers {
		t.mu.Lock()
		if !t.stopped && !fc.now.Before(t.next) {
			select {
			case t.c <- fc.now:
			default:
			}
			for !fc.now.Before(t.next) {
				t.next = t.next.Add(t.interval)
			}
		}
		t.mu.Unlock()
	}
}

// Waiters returns how many After channels are still pending. Tests use it to
// wait until a goroutine is parked on the clock before advancing.
func (fc *FakeClock) Waiters() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.waiters)
}

type fakeTicker struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTicker) C() <-chan time.Time {
	return ft.c
}

func (ft *fakeTicker) Stop() {
	ft.mu.Lock()
	ft.stopped = true
	ft.mu.Unlock()
}
