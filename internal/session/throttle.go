// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// RENDER THROTTLE
// =============================================================================

// DefaultRenderInterval caps visible refreshes at ~30fps.
const DefaultRenderInterval = 33 * time.Millisecond

// throttle coalesces refresh requests into at most one call to refresh per
// interval. A request inside the window schedules a single trailing refresh
// at the end of it. The data being rendered is never delayed, only the call
// that publishes it.
//
// PERFORMANCE: Decouples delta frequency (often >1000/s) from render frequency.
type throttle struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	timer    *time.Timer
	pending  bool
	stopped  bool
	refresh  func()
	interval time.Duration
}

func newThrottle(interval time.Duration, refresh func()) *throttle {
	if interval <= 0 {
		interval = DefaultRenderInterval
	}
	return &throttle{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		refresh:  refresh,
		interval: interval,
	}
}

// trigger requests a refresh.
func (t *throttle) trigger() {
	t.mu.Lock()
	if t.stopped || t.pending {
		t.mu.Unlock()
		return
	}

	r := t.limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		t.mu.Unlock()
		t.refresh()
		return
	}

	t.pending = true
	t.timer = time.AfterFunc(delay, t.fire)
	t.mu.Unlock()
}

func (t *throttle) fire() {
	t.mu.Lock()
	if t.stopped || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.mu.Unlock()
	t.refresh()
}

// flush cancels any scheduled refresh and refreshes now.
func (t *throttle) flush() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.cancelPendingLocked()
	t.mu.Unlock()
	t.refresh()
}

// stop drops any scheduled refresh; later triggers are ignored.
func (t *throttle) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.cancelPendingLocked()
}

func (t *throttle) cancelPendingLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
}
