package workers

import (
	"math/rand"
	"sync"
	"time"

	"github.com/a-artmv/proxy/internal/conveyor"
	"github.com/a-artmv/proxy/internal/pager"
	"github.com/a-artmv/proxy/internal/proxylog"
	"github.com/a-artmv/proxy/internal/task"
)

// supervisorInterval matches the source superviser_t's 100ms (10Hz) tick.
const supervisorInterval = 100 * time.Millisecond

// SupervisorConfig tunes the optional last-resort policy the source
// proxy keeps commented out: dropping a random peer when every page is
// outstanding and releasing the waiter didn't help. It defaults to off,
// exactly as spec.md §9 describes it, and should only be flipped on
// alongside a targeted test.
type SupervisorConfig struct {
	DropRandomOnStall bool
}

// Supervisor is the Go stand-in for the source proxy's fixed-size
// producer/consumer thread lists: since Fleet spawns one goroutine per
// (peer, role) instead of a static pool, Supervisor tracks every live
// producer (Receiver) and consumer (Sender, Logger) Control via
// Register/Unregister, called from Fleet.Spawn and its per-role
// completion paths. Peer death detection itself is handled by each
// peer's own watchShutdown goroutine (the fan-out analog of
// conveyer_->drop_peers); Supervisor's tick is the stall-detection and
// pause/resume policy only.
type Supervisor struct {
	Conveyor    *conveyor.Conveyor
	ClientPager *pager.Pager
	ServerPager *pager.Pager
	Config      SupervisorConfig
	Ctrl        *task.Control

	mu        sync.Mutex
	producers map[*task.Control]struct{}
	consumers map[*task.Control]struct{}

	rng *rand.Rand
}

// NewSupervisor builds a Supervisor watching the given pagers and
// conveyor registry.
func NewSupervisor(conv *conveyor.Conveyor, clientPager, serverPager *pager.Pager, cfg SupervisorConfig) *Supervisor {
	return &Supervisor{
		Conveyor:    conv,
		ClientPager: clientPager,
		ServerPager: serverPager,
		Config:      cfg,
		producers:   make(map[*task.Control]struct{}),
		consumers:   make(map[*task.Control]struct{}),
		rng:         rand.New(rand.NewSource(1)),
	}
}

// RegisterProducer tracks ctrl (a Receiver's Control) so OneStep can see
// its TaskBlocked utility flag.
func (s *Supervisor) RegisterProducer(ctrl *task.Control) {
	s.mu.Lock()
	s.producers[ctrl] = struct{}{}
	s.mu.Unlock()
}

// UnregisterProducer drops ctrl from the producer set once its task
// exits.
func (s *Supervisor) UnregisterProducer(ctrl *task.Control) {
	s.mu.Lock()
	delete(s.producers, ctrl)
	s.mu.Unlock()
}

// RegisterConsumer tracks ctrl (a Sender's or Logger's Control) so it can
// be paused when a producer blocks on memory and resumed once pages
// recover.
func (s *Supervisor) RegisterConsumer(ctrl *task.Control) {
	s.mu.Lock()
	s.consumers[ctrl] = struct{}{}
	s.mu.Unlock()
}

// UnregisterConsumer drops ctrl from the consumer set once its task
// exits.
func (s *Supervisor) UnregisterConsumer(ctrl *task.Control) {
	s.mu.Lock()
	delete(s.consumers, ctrl)
	s.mu.Unlock()
}

// PauseConsumers suspends every currently registered consumer. It is
// installed as the pager's pause hook: the first producer to block on
// the resource waiter calls this to halt new page demand until memory
// recovers, mirroring on_task_blocked in the source superviser_t.
func (s *Supervisor) PauseConsumers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ctrl := range s.consumers {
		ctrl.Pause()
	}
}

func (s *Supervisor) OnStart()  { proxylog.Info("supervisor started") }
func (s *Supervisor) OnFinish() { proxylog.Info("supervisor finished") }

// OneStep runs one 10Hz supervisor tick: detect producer stalls and
// release the resource waiters, or resume paused consumers once pages
// have recovered past cache_size/15.
func (s *Supervisor) OneStep() bool {
	if s.anyProducerBlocked() {
		s.ClientPager.Waiter().ReleaseTasks()
		s.ServerPager.Waiter().ReleaseTasks()
		if s.Config.DropRandomOnStall && s.ClientPager.PagesAvailable() == 0 && s.ServerPager.PagesAvailable() == 0 {
			s.dropRandomPeer()
		}
	} else if s.anyConsumerPaused() {
		if s.ClientPager.PagesAvailable() > s.ClientPager.CacheSize()/15 &&
			s.ServerPager.PagesAvailable() > s.ServerPager.CacheSize()/15 {
			s.resumeConsumers()
		}
	}

	time.Sleep(supervisorInterval)
	return true
}

func (s *Supervisor) anyProducerBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ctrl := range s.producers {
		if ctrl.Blocked() {
			return true
		}
	}
	return false
}

func (s *Supervisor) anyConsumerPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ctrl := range s.consumers {
		if ctrl.Paused() {
			return true
		}
	}
	return false
}

func (s *Supervisor) resumeConsumers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ctrl := range s.consumers {
		ctrl.Resume()
	}
}

// dropRandomPeer implements the optional last-resort policy: when every
// page is outstanding and releasing the waiters didn't free any, drop one
// arbitrarily chosen peer to force its pages back to the free list. Off
// by default (Config.DropRandomOnStall); the source proxy keeps the
// equivalent call commented out.
func (s *Supervisor) dropRandomPeer() {
	peers := s.Conveyor.Peers()
	if len(peers) == 0 {
		return
	}
	victim := peers[s.rng.Intn(len(peers))]
	proxylog.Warn("dropping random peer to break memory stall", "peer", victim.Peer.ID)
	s.Conveyor.DropPeer(victim.Peer.Client)
}

var _ task.Task = (*Supervisor)(nil)
