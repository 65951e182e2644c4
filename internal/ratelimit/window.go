// Package ratelimit paces submission in fixed windows: each window admits up
// to a quota of transactions, and an early finish sleeps out the remainder.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the pacing window length.
const DefaultWindow = time.Second

// Window tracks the current pacing window.
//
// Unlike an interval limiter, a window does not spread permits evenly and
// never catches up: a window that overran simply ends, and the next one
// starts immediately.
type Window struct {
	mu     sync.Mutex
	rate   int
	length time.Duration
	start  time.Time
}

// NewWindow creates a pacer admitting rate transactions per window of length.
func NewWindow(rate int, length time.Duration) *Window {
	if rate <= 0 {
		rate = 1
	}
	if length <= 0 {
		length = DefaultWindow
	}
	return &Window{rate: rate, length: length}
}

// Begin starts a new window now and returns its start time.
func (w *Window) Begin() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start = time.Now()
	return w.start
}

// Quota returns how many transactions the window admits given how many
// remain in the run: min(rate, remaining), never negative.
func (w *Window) Quota(remaining int) int {
	if remaining <= 0 {
		return 0
	}
	return min(w.rate, remaining)
}

// Remaining returns the time left in the current window, or zero if it overran.
func (w *Window) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	left := w.length - time.Since(w.start)
	if left < 0 {
		return 0
	}
	return left
}

// Wait sleeps until the current window ends or ctx is done. It returns
// immediately if the window already overran.
func (w *Window) Wait(ctx context.Context) error {
	left := w.Remaining()
	if left <= 0 {
		return nil
	}

	timer := time.NewTimer(left)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
