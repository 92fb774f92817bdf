package pager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlocker struct {
	stopped atomic64
	yielded atomic64
	blocked atomic64
}

type atomic64 struct {
	mu sync.Mutex
	v  bool
}

func (a *atomic64) set(v bool) { a.mu.Lock(); a.v = v; a.mu.Unlock() }
func (a *atomic64) get() bool  { a.mu.Lock(); defer a.mu.Unlock(); return a.v }

func (f *fakeBlocker) SetBlocked(b bool) { f.blocked.set(b) }
func (f *fakeBlocker) Stopped() bool     { return f.stopped.get() }
func (f *fakeBlocker) Yielded() bool     { return f.yielded.get() }

func TestPagerConservation(t *testing.T) {
	waiter := NewResourceWaiter(DefaultCacheSize / 5)
	p := New(waiter, 64, 8, true)
	require.Equal(t, 8, p.PagesAvailable())

	var held []*Page
	for i := 0; i < 5; i++ {
		held = append(held, p.Take())
	}
	assert.Equal(t, 3, p.PagesAvailable())
	assert.EqualValues(t, 3, waiter.Count())

	for _, pg := range held {
		pg.Release()
	}
	assert.Equal(t, 8, p.PagesAvailable())
	assert.EqualValues(t, 8, waiter.Count())
	assert.EqualValues(t, 5, p.ReleaseCounter())
}

func TestPageSharedOwnership(t *testing.T) {
	waiter := NewResourceWaiter(1)
	p := New(waiter, 16, 2, true)

	pg := p.Take()
	pg.Retain() // lane takes a reference
	assert.Equal(t, 1, p.PagesAvailable())

	pg.Release() // writer drops its hold
	assert.Equal(t, 1, p.PagesAvailable(), "page still owned by the lane")

	pg.Release() // lane drops its hold
	assert.Equal(t, 2, p.PagesAvailable())
}

func TestResourceWaiterThresholdWake(t *testing.T) {
	waiter := NewResourceWaiter(2)
	waiter.AdjustResource(1) // below threshold

	b := &fakeBlocker{}
	done := make(chan bool, 1)
	go func() {
		done <- waiter.Wait(context.Background(), b)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Stopped() == false)

	waiter.AdjustResource(2) // crosses threshold (3 > 2)

	select {
	case woken := <-done:
		assert.True(t, woken)
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake on threshold cross")
	}
	assert.False(t, b.blocked.get(), "blocked flag must clear on exit")
}

func TestResourceWaiterStopExits(t *testing.T) {
	waiter := NewResourceWaiter(1000)
	b := &fakeBlocker{}

	done := make(chan bool, 1)
	go func() {
		done <- waiter.Wait(context.Background(), b)
	}()

	time.Sleep(10 * time.Millisecond)
	b.stopped.set(true)

	select {
	case woken := <-done:
		assert.False(t, woken)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not observe stop")
	}
}

func TestResourceWaiterReleaseTasksBreaksStall(t *testing.T) {
	waiter := NewResourceWaiter(1000)
	b := &fakeBlocker{}

	done := make(chan bool, 1)
	go func() {
		done <- waiter.Wait(context.Background(), b)
	}()

	time.Sleep(10 * time.Millisecond)
	waiter.ReleaseTasks()

	// A forced release is not a threshold-crossing wake: the count never
	// moved, so Wait must return false ("waiting for memory cancelled")
	// rather than looping back to block again with no thread ever making
	// progress.
	select {
	case woken := <-done:
		assert.False(t, woken)
	case <-time.After(time.Second):
		t.Fatal("ReleaseTasks did not break the stall; waiter stayed parked")
	}
	assert.False(t, b.blocked.get(), "blocked flag must clear on exit")
}
