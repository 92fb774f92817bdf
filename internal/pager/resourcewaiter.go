package pager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// MaxResponse bounds every blocking wait in the proxy so stop/yield
// conditions are re-checked at a steady cadence, matching the source
// proxy's max_response constant.
const MaxResponse = 500 * time.Millisecond

// Blocker is the utility-flag/cancellation contract a caller of Wait must
// satisfy. internal/task's Control implements it; pager itself has no
// dependency on the task package so the two can be tested independently.
type Blocker interface {
	// SetBlocked records whether the caller is currently parked in a
	// resource wait (the task framework's TaskBlocked utility flag).
	SetBlocked(blocked bool)
	// Stopped reports whether the caller's task has been asked to stop.
	Stopped() bool
	// Yielded reports whether the caller's task has set its one-shot
	// yield bit (e.g. so the supervisor can steal its slot lock).
	Yielded() bool
}

// ResourceWaiter wraps a Pager's free-page counter with a threshold
// wakeup: producers block in Wait until the counter exceeds the threshold
// or the caller is stopped/yielded.
type ResourceWaiter struct {
	threshold int32
	count     atomic.Int32
	released  atomic.Int64

	mu      sync.Mutex
	gen     chan struct{}
	onBlock atomic.Value // func()
}

// NewResourceWaiter builds a waiter with the given wake threshold (the
// source defaults this to cache_size/5).
func NewResourceWaiter(threshold int) *ResourceWaiter {
	return &ResourceWaiter{threshold: int32(threshold), gen: make(chan struct{})}
}

// SetOnBlock installs the callback invoked the instant a caller's Wait
// first parks (utility flag just went TaskBlocked). The proxy wires this
// to Supervisor.PauseConsumers so a producer stalling on memory halts
// new page demand immediately, matching the source pager's
// on_task_blocked callback rather than waiting for the next supervisor
// tick.
func (w *ResourceWaiter) SetOnBlock(f func()) { w.onBlock.Store(f) }

// Count returns the current resource counter (mirrors the pager's
// pages-available figure).
func (w *ResourceWaiter) Count() int32 { return w.count.Load() }

// seed sets the counter to n without treating it as a take/release delta.
// The Pager calls this once at construction (and after Reset) so the
// counter starts out equal to the free list's actual size rather than
// zero. Every Take and release then moves it by one, so it keeps matching
// the free list as long as Take never has to allocate a page past an
// empty list (such a page drives the counter below the free-list size).
func (w *ResourceWaiter) seed(n int32) { w.count.Store(n) }

// AdjustResource modifies the counter by n and wakes every waiter iff the
// new value crosses the threshold upward.
func (w *ResourceWaiter) AdjustResource(n int32) {
	newCount := w.count.Add(n)
	if n > 0 && newCount > w.threshold {
		w.broadcast()
	}
}

// ReleaseTasks force-wakes all waiters regardless of the threshold; the
// supervisor uses this to break a stall. Unlike a threshold-crossing wake,
// a forced release does not mean memory actually recovered, so every Wait
// call in flight at the time returns false ("waiting for memory
// cancelled") instead of looping back to sleep on a counter that never
// moved.
func (w *ResourceWaiter) ReleaseTasks() {
	w.released.Add(1)
	w.broadcast()
}

func (w *ResourceWaiter) broadcast() {
	w.mu.Lock()
	old := w.gen
	w.gen = make(chan struct{})
	w.mu.Unlock()
	close(old)
}

// Wait blocks the calling task, returning true if woken because resources
// recovered, false if the task was stopped, yielded, or the supervisor
// force-released all waiters via ReleaseTasks. While waiting the task's
// utility flag is set to TaskBlocked via b.SetBlocked(true), cleared on
// every exit path.
func (w *ResourceWaiter) Wait(ctx context.Context, b Blocker) bool {
	b.SetBlocked(true)
	defer b.SetBlocked(false)
	if f, ok := w.onBlock.Load().(func()); ok && f != nil {
		f()
	}

	releasedAt := w.released.Load()
	for {
		if b.Stopped() || b.Yielded() {
			return false
		}
		if w.count.Load() > w.threshold {
			return true
		}
		if w.released.Load() != releasedAt {
			return false
		}

		w.mu.Lock()
		gen := w.gen
		w.mu.Unlock()

		select {
		case <-gen:
			// Resource count likely changed; loop and re-check.
		case <-time.After(MaxResponse):
			// No progress; re-check stop/yield at the standard cadence.
		case <-ctx.Done():
			return false
		}
	}
}
