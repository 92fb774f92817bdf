package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-artmv/proxy/internal/conveyor"
	"github.com/a-artmv/proxy/internal/pager"
	"github.com/a-artmv/proxy/internal/task"
)

func newTestSupervisor(cacheSize int) (*Supervisor, *pager.Pager, *pager.Pager) {
	clientWaiter := pager.NewResourceWaiter(cacheSize / 5)
	serverWaiter := pager.NewResourceWaiter(cacheSize / 5)
	clientPager := pager.New(clientWaiter, 64, cacheSize, true)
	serverPager := pager.New(serverWaiter, 64, cacheSize, true)
	sup := NewSupervisor(conveyor.New(), clientPager, serverPager, SupervisorConfig{})
	return sup, clientPager, serverPager
}

func TestSupervisorReleasesWaiterWhenProducerBlocked(t *testing.T) {
	sup, clientPager, _ := newTestSupervisor(8)
	producer := task.NewControl("receiver")
	sup.RegisterProducer(producer)
	producer.SetBlocked(true)

	// Take every client page so the waiter's count (0) is at or below its
	// threshold (8/5 = 1) and Wait has to park.
	for i := 0; i < 8; i++ {
		clientPager.Take()
	}

	released := make(chan struct{})
	clientPager.Waiter().SetOnBlock(func() {})
	go func() {
		// A parked waiter wakes as soon as ReleaseTasks runs from the
		// supervisor's OneStep, even with pages_available still at 0.
		clientPager.Waiter().Wait(context.Background(), producer)
		close(released)
	}()

	time.Sleep(20 * time.Millisecond)
	sup.OneStep()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("expected ReleaseTasks to wake the waiting producer")
	}
}

func TestSupervisorResumesConsumersOncePagesRecover(t *testing.T) {
	sup, clientPager, serverPager := newTestSupervisor(30)
	consumer := task.NewControl("sender")
	sup.RegisterConsumer(consumer)
	consumer.Pause()
	require.True(t, consumer.Paused())

	// Drain pages down to the threshold (cache/15 = 2 free) to confirm
	// resume does not fire while scarce, then return them and confirm it
	// does.
	var held []*pager.Page
	for i := 0; i < 28; i++ {
		held = append(held, clientPager.Take())
	}
	sup.OneStep()
	assert.True(t, consumer.Paused(), "must not resume while pages are still scarce")

	for _, pg := range held {
		pg.Release()
	}
	_ = serverPager
	sup.OneStep()
	assert.False(t, consumer.Paused(), "must resume once pages recover past cache/15")
}

func TestSupervisorDropRandomOnStallDisabledByDefault(t *testing.T) {
	sup, _, _ := newTestSupervisor(8)
	assert.False(t, sup.Config.DropRandomOnStall)
}

func TestPauseConsumersPausesEveryRegisteredConsumer(t *testing.T) {
	sup, _, _ := newTestSupervisor(8)
	a := task.NewControl("sender")
	b := task.NewControl("logger")
	sup.RegisterConsumer(a)
	sup.RegisterConsumer(b)

	sup.PauseConsumers()

	assert.True(t, a.Paused())
	assert.True(t, b.Paused())
}
