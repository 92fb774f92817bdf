package workers

import (
	"net"
	"time"

	"github.com/a-artmv/proxy/internal/conveyor"
	"github.com/a-artmv/proxy/internal/pager"
	"github.com/a-artmv/proxy/internal/task"
)

// Sender drains Line's sender lane (lane 0) and relays each chunk to
// Dest, the opposite side's socket. A write that blocks past
// max_response leaves the chunk's unsent tail buffered for the next
// step rather than dropping it, the Go-native analog of the source
// sender parking on EAGAIN until the write fd re-arms.
type Sender struct {
	Line *conveyor.TransferLine
	Dest net.Conn
	Ctrl *task.Control

	pending []byte
}

func (s *Sender) OnStart()  {}
func (s *Sender) OnFinish() {}

// OneStep flushes any buffered tail first, then reads and relays the
// next lane chunk; it waits on the lane's data signal when nothing is
// available and the writer has not signalled shutdown.
func (s *Sender) OneStep() bool {
	if len(s.pending) > 0 {
		return s.flush()
	}

	rh := conveyor.AcquireRead(s.Line, conveyor.SenderLane, s.Ctrl, true)
	if rh == nil {
		return false
	}
	data, ok := rh.Peek()
	if !ok {
		flag := s.Line.Flag(conveyor.WriterSlot)
		rh.Release()
		if flag == conveyor.FlagDescriptorShutdown || flag == conveyor.FlagDescriptorError || flag == conveyor.FlagOperationalError {
			return false
		}
		doneCh := make(chan struct{})
		s.Line.WaitData(doneCh)
		return true
	}
	rh.Advance(len(data))
	rh.Release()

	s.pending = data
	return s.flush()
}

// flush writes as much of s.pending to Dest as the write deadline
// allows, keeping any unsent tail for the next OneStep.
func (s *Sender) flush() bool {
	_ = s.Dest.SetWriteDeadline(time.Now().Add(pager.MaxResponse))
	n, err := s.Dest.Write(s.pending)
	s.pending = s.pending[n:]
	if err != nil {
		if isTimeout(err) {
			if len(s.pending) > 0 {
				s.Line.SetFlag(conveyor.SenderLane+1, conveyor.FlagDataPending)
			}
			return true
		}
		warnNoisy("sender write failed", "err", err)
		s.Line.SetFlag(conveyor.SenderLane+1, conveyor.FlagDescriptorError)
		s.Line.NotifyData()
		return false
	}
	return true
}

var _ task.Task = (*Sender)(nil)
