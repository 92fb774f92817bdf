// Package task implements the uniform long-running worker abstraction
// every proxy goroutine runs on: a start/one-step/finish lifecycle with
// stop and pause controls, a "blocked on memory" utility flag, and a
// one-shot yield hint the supervisor uses to politely interrupt a stalled
// worker.
package task

import (
	"sync"

	"go.uber.org/atomic"
)

// Task is one worker's step function set. Run drives it through
// OnStart, repeated OneStep calls gated by Control.Tick, then OnFinish.
type Task interface {
	OnStart()
	// OneStep performs one unit of work and reports whether the loop
	// should continue (false ends the task cleanly, e.g. on descriptor
	// shutdown).
	OneStep() bool
	OnFinish()
}

// Control carries a task's stop/pause/blocked/yield bits plus the
// condition variable used to wake a paused task, and a diagnostic ID used
// by slot owner tracking and log lines.
type Control struct {
	id string

	stopped atomic.Bool
	paused  atomic.Bool
	blocked atomic.Bool
	yielded atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// NewControl builds a Control identified by id (used only for diagnostics:
// log lines and slot-owner reporting).
func NewControl(id string) *Control {
	c := &Control{id: id}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// ID returns this control's diagnostic identifier.
func (c *Control) ID() string { return c.id }

// Stop requests the task to stop; it wakes it immediately if paused.
func (c *Control) Stop() {
	c.stopped.Store(true)
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (c *Control) Stopped() bool { return c.stopped.Load() }

// Pause suspends the task before its next step.
func (c *Control) Pause() { c.paused.Store(true) }

// Resume un-suspends a paused task.
func (c *Control) Resume() {
	c.paused.Store(false)
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Paused reports whether the task is currently paused.
func (c *Control) Paused() bool { return c.paused.Load() }

// SetBlocked implements pager.Blocker: it records whether this task is
// currently parked inside a ResourceWaiter.Wait call.
func (c *Control) SetBlocked(blocked bool) { c.blocked.Store(blocked) }

// Blocked reports the TaskBlocked utility flag: whether the task is
// currently waiting on memory. The supervisor reads this lock-free to
// decide whether to release the resource waiter and to extend a
// drop-peer's slot-lock wait.
func (c *Control) Blocked() bool { return c.blocked.Load() }

// Yield sets the one-shot bit a stalled worker uses to let the supervisor
// steal its slot lock (e.g. so drop_peer can proceed). It is observed by
// ResourceWaiter.Wait and cleared automatically when Run exits.
func (c *Control) Yield() { c.yielded.Store(true) }

// Yielded reports the one-shot yield bit.
func (c *Control) Yielded() bool { return c.yielded.Load() }

// Tick is called between worker steps: it returns false if the task has
// been stopped, otherwise blocks while paused, then returns true.
func (c *Control) Tick() bool {
	if c.Stopped() {
		return false
	}
	c.mu.Lock()
	for c.paused.Load() && !c.stopped.Load() {
		c.cond.Wait()
	}
	c.mu.Unlock()
	return !c.Stopped()
}

// Run executes the task's full lifecycle: OnStart, then OneStep while
// Tick allows, then OnFinish, clearing the blocked and yield flags on
// every exit path.
func Run(ctrl *Control, t Task) {
	t.OnStart()
	for ctrl.Tick() && t.OneStep() {
	}
	t.OnFinish()
	ctrl.blocked.Store(false)
	ctrl.yielded.Store(false)
}
