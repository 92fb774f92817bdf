package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingTask struct {
	started  bool
	finished bool
	steps    int
	max      int
}

func (c *countingTask) OnStart()  { c.started = true }
func (c *countingTask) OnFinish() { c.finished = true }
func (c *countingTask) OneStep() bool {
	c.steps++
	return c.steps < c.max
}

func TestRunLifecycle(t *testing.T) {
	ctrl := NewControl("t1")
	ct := &countingTask{max: 5}
	Run(ctrl, ct)

	assert.True(t, ct.started)
	assert.True(t, ct.finished)
	assert.Equal(t, 5, ct.steps)
	assert.False(t, ctrl.Blocked())
	assert.False(t, ctrl.Yielded())
}

func TestStopInterruptsLoop(t *testing.T) {
	ctrl := NewControl("t2")
	ct := &countingTask{max: 1 << 30}

	done := make(chan struct{})
	go func() {
		Run(ctrl, ct)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	ctrl.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
	assert.True(t, ct.finished)
}

func TestPauseResume(t *testing.T) {
	ctrl := NewControl("t3")
	ct := &countingTask{max: 3}
	ctrl.Pause()

	done := make(chan struct{})
	go func() {
		Run(ctrl, ct)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, ct.steps, "paused task must not step")

	ctrl.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not resume")
	}
	assert.Equal(t, 3, ct.steps)
}
