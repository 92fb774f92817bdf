package workers

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/a-artmv/proxy/internal/conveyor"
	"github.com/a-artmv/proxy/internal/pager"
	"github.com/a-artmv/proxy/internal/task"
)

// recvChunkSize is the source receiver's stack-buffer size: up to this
// many bytes are read from the socket per OneStep.
const recvChunkSize = 8192

// Receiver copies bytes arriving on Conn into Line's writer slot. It
// blocks for up to max_response per read so its Control's stop flag is
// re-checked at the standard cadence even on an idle socket.
type Receiver struct {
	Conn net.Conn
	Line *conveyor.TransferLine
	Ctrl *task.Control
}

func (r *Receiver) OnStart()  {}
func (r *Receiver) OnFinish() {}

// OneStep reads one chunk, waits (forcing) for the writer lock, commits
// the bytes, and reports the transfer flag matching the read outcome:
// DataPending on a full read (more may be buffered on the socket), None
// on a shorter read, DescriptorShutdown on EOF, DescriptorError on any
// other read error.
func (r *Receiver) OneStep() bool {
	_ = r.Conn.SetReadDeadline(time.Now().Add(pager.MaxResponse))
	buf := make([]byte, recvChunkSize)
	n, err := r.Conn.Read(buf)

	if n > 0 {
		flag := conveyor.FlagNone
		if n == recvChunkSize {
			flag = conveyor.FlagDataPending
		}
		if !r.commit(buf[:n], flag) {
			return false
		}
	}

	switch {
	case err == nil:
		return true
	case isTimeout(err):
		return true
	case errors.Is(err, io.EOF):
		r.setTerminal(conveyor.FlagDescriptorShutdown)
		return false
	default:
		warnNoisy("receiver read failed", "err", err)
		r.setTerminal(conveyor.FlagDescriptorError)
		return false
	}
}

func (r *Receiver) commit(data []byte, flag conveyor.Flag) bool {
	wh := conveyor.AcquireWrite(r.Line, r.Ctrl, true)
	if wh == nil {
		return false
	}
	defer wh.Release()

	pos := 0
	for pos < len(data) {
		if r.Line.Pager().PagesAvailable() == 0 {
			// Every page is outstanding: block here rather than let the
			// pager fabricate one past cache_size, so pages_available +
			// outstanding_pages == cache_size holds even under stall.
			if !r.Line.Pager().Waiter().Wait(context.Background(), r.Ctrl) {
				return false
			}
		}
		avail := wh.Commit(0)
		n := len(data) - pos
		if n > avail {
			n = avail
		}
		copy(wh.Tail(), data[pos:pos+n])
		wh.Commit(n)
		pos += n
	}
	r.Line.SetFlag(conveyor.WriterSlot, flag)
	return true
}

func (r *Receiver) setTerminal(flag conveyor.Flag) {
	r.Line.SetFlag(conveyor.WriterSlot, flag)
	r.Line.NotifyData()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

var _ task.Task = (*Receiver)(nil)
