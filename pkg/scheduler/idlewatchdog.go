package scheduler

import (
	"sync"
	"time"
)

// idleWatchdog fires onIdle once after timeout has elapsed since the last kick, implementing
// spec.md §4.7 step 3's "closes stdin after idle_timeout_ms of silence" behavior for one-shot
// scheduled runs, which disable the session manager's own per-message idle timer.
type idleWatchdog struct {
	timeout time.Duration
	onIdle  func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newIdleWatchdog(timeout time.Duration, onIdle func()) *idleWatchdog {
	return &idleWatchdog{timeout: timeout, onIdle: onIdle}
}

// start arms the watchdog. No-op if timeout is non-positive (watchdog disabled).
func (w *idleWatchdog) start() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timer = time.AfterFunc(w.timeout, w.onIdle)
}

// kick resets the silence window; called on every streamed output event.
func (w *idleWatchdog) kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.timer == nil {
		return
	}
	w.timer.Reset(w.timeout)
}

// stop disarms the watchdog permanently. Safe to call more than once.
func (w *idleWatchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
