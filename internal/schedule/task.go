// Package schedule provides a restartable one-shot timer.
package schedule

import (
	"sync"
	"time"
)

// Task runs a function once after a quiet period. Arming again before the
// period ends replaces the pending run, so a burst of Arm calls produces a
// single run. The zero value is ready to use.
type Task struct {
	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	stopped bool
	running sync.WaitGroup
}

// Arm schedules fn to run after d, cancelling any pending run. It reports
// false once the task has been stopped.
func (t *Task) Arm(d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.cancelLocked()

	t.seq++
	seq := t.seq
	t.running.Add(1)
	t.timer = time.AfterFunc(d, func() {
		defer t.running.Done()
		t.mu.Lock()
		if t.stopped || t.seq != seq {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
	return true
}

// Cancel drops the pending run, if any, and reports whether there was one.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelLocked()
}

// Pending reports whether a run is scheduled and has not started.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Stop cancels the pending run, refuses further Arm calls, and waits for a
// run already in progress. It must not be called from inside fn.
func (t *Task) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.cancelLocked()
	t.mu.Unlock()
	t.running.Wait()
}

func (t *Task) cancelLocked() bool {
	if t.timer == nil {
		return false
	}
	// When Stop returns false the callback has already been started and
	// will call Done itself after seeing the bumped seq.
	if t.timer.Stop() {
		t.running.Done()
	}
	t.timer = nil
	t.seq++
	return true
}
