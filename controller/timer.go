package controller

import (
	"sync"
	"time"
)

// timer is a one-shot timer that the poll loop re-arms after every tick, so
// a slow tick never has another one queued behind it.
type timer struct {
	mu       sync.Mutex
	t        *time.Timer
	interval time.Duration
	stopped  bool
}

// Reschedule arms the timer so the next fire is a full interval from now. A
// fire that was not yet received is discarded.
func (t *timer) Reschedule(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	t.interval = interval
	if t.t == nil {
		t.t = time.NewTimer(interval)
	} else {
		t.t.Stop()
		t.t.Reset(interval)
	}
}

func (t *timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	if t.t != nil {
		t.t.Stop()
	}
}

// C returns nil before the first Reschedule, which blocks forever in a select.
func (t *timer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t == nil {
		return nil
	}

	return t.t.C
}

func (t *timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.interval
}
