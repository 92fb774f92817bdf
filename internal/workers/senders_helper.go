package workers

import (
	"time"

	"github.com/a-artmv/proxy/internal/conveyor"
	"github.com/a-artmv/proxy/internal/task"
)

// sendersHelperInterval matches the source proxy's readiness re-arm
// cadence closely enough to reconcile flag state without busy-spinning.
const sendersHelperInterval = 50 * time.Millisecond

// SendersHelper is the one global reconciler for every sender lane: where
// the source proxy clears a lane's DataPending flag from an EPOLLOUT
// callback the instant the write fd re-arms, this Go realization has no
// separate readiness callback (Sender's own blocking Write already
// retries), so SendersHelper instead sweeps all registered loops and
// clears any SenderLane flag left at DataPending once that lane has
// nothing buffered, keeping flag state faithful for Supervisor's stall
// detection and for tests asserting on it.
type SendersHelper struct {
	Conveyor *conveyor.Conveyor
	Ctrl     *task.Control
}

func (h *SendersHelper) OnStart()  {}
func (h *SendersHelper) OnFinish() {}

// OneStep performs one reconciliation sweep then sleeps for the standard
// interval.
func (h *SendersHelper) OneStep() bool {
	for _, loop := range h.Conveyor.Peers() {
		for _, line := range []*conveyor.TransferLine{loop.ClientLine, loop.ServerLine} {
			h.reconcile(line)
		}
	}
	time.Sleep(sendersHelperInterval)
	return true
}

func (h *SendersHelper) reconcile(line *conveyor.TransferLine) {
	idx := conveyor.SenderLane + 1
	if line.Flag(idx) != conveyor.FlagDataPending {
		return
	}
	if !line.AcquireBufferLock(h.Ctrl, idx, false) {
		return
	}
	defer line.ReleaseBufferLock(idx)
	if line.Buffer().Lane(conveyor.SenderLane).Pending() == 0 {
		line.SetFlag(idx, conveyor.FlagNone)
	}
}

var _ task.Task = (*SendersHelper)(nil)
