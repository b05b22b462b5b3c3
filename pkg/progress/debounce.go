package progress

import (
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet period before a journey's pending
// remote write fires. Rapid successive updates (slider drags) coalesce
// into a single network call per burst.
const DefaultDebounceDelay = 400 * time.Millisecond

// Debouncer runs at most one delayed task per key. Scheduling a task for
// a key cancels that key's pending task and restarts the delay; tasks for
// different keys are independent.
type Debouncer struct {
	delay  time.Duration
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{delay: delay, timers: make(map[string]*time.Timer)}
}

// Do schedules task to run after the quiet period, replacing any pending
// task for the same key.
func (d *Debouncer) Do(key string, task func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		task()
	})
}

// Cancel drops the pending task for a key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// Stop cancels every pending task.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
