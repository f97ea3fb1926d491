package client

import (
	"sync"
	"time"
)

// throttleState enumerates the two states of the movement rate limiter.
type throttleState int

const (
	throttleIdle throttleState = iota
	throttleCooling
)

// Throttle is a leading-edge rate limiter: the first call in a window fires
// immediately and every later call is dropped (not queued) until the window
// elapses. One timer drives the idle → cooling → idle cycle. This bounds
// outbound movement bandwidth independent of the rendering frame rate.
// Safe for concurrent use.
type Throttle struct {
	window time.Duration

	mu    sync.Mutex
	state throttleState
	timer *time.Timer
}

// NewThrottle creates an idle Throttle with the given window.
//
// Precondition: window must be > 0.
func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		panic("client.NewThrottle: window must be > 0")
	}
	return &Throttle{window: window}
}

// Allow reports whether a call arriving now may fire. A true result
// transitions the throttle to cooling until the window elapses.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == throttleCooling {
		return false
	}
	t.state = throttleCooling
	if t.timer == nil {
		t.timer = time.AfterFunc(t.window, t.reopen)
	} else {
		t.timer.Reset(t.window)
	}
	return true
}

// Stop cancels any pending window and returns the throttle to idle.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.state = throttleIdle
}

func (t *Throttle) reopen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = throttleIdle
}
