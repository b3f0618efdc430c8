package room

import (
	"sync"
	"time"
)

// cancellableTimer is the generic replacement for the teacher's scattered
// timerCancel/timerDone/timerCancelOnce triple (room.go), addressing the
// "Timer soup" redesign flag in spec.md §9: every room-level timer is a
// cancellable handle, idempotent to cancel, and trivially replaceable by
// starting a new one under the same name.
type cancellableTimer struct {
	cancel chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newCancellableTimer() *cancellableTimer {
	return &cancellableTimer{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Cancel is idempotent: a double-cancel is a no-op (spec.md §5).
func (t *cancellableTimer) Cancel() {
	t.once.Do(func() { close(t.cancel) })
}

// startTimer replaces and cancels any existing timer registered under
// name, then schedules fn to run after d unless cancelled first. Must be
// called with r.mu held; fn itself must not try to re-acquire r.mu from
// within the same lock scope that called startTimer.
func (r *Room) startTimer(name string, d time.Duration, fn func()) {
	if existing, ok := r.timers[name]; ok {
		existing.Cancel()
	}

	t := newCancellableTimer()
	r.timers[name] = t

	go func() {
		defer close(t.done)
		select {
		case <-time.After(d):
			fn()
		case <-t.cancel:
		}
	}()
}

// cancelTimer cancels a named timer if one is registered. Must be called
// with r.mu held.
func (r *Room) cancelTimer(name string) {
	if t, ok := r.timers[name]; ok {
		t.Cancel()
		delete(r.timers, name)
	}
}

// Timer names, one per row of spec.md §4.E's lifecycle-timer table.
const (
	timerWaiting     = "waiting_timeout"
	timerCountdown   = "countdown"
	timerPostRace    = "post_race_destroy"
	timerRematchIdle = "rematch_idle"
)
