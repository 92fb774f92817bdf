// Package conveyor implements the process-wide registry of transfer
// loops: the per-peer pair of transfer lines, their slot locks and
// transfer-status flags, and the write/read/drop primitives workers use
// to move bytes through the buffers without ever touching Buffer/Lane
// directly.
package conveyor

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/a-artmv/proxy/internal/buffer"
	"github.com/a-artmv/proxy/internal/pager"
	"github.com/a-artmv/proxy/internal/task"
)

// Flag is a transfer-status value on a TransferLine slot, the only
// cross-worker communication channel besides data signals.
type Flag int32

const (
	FlagOperationalError  Flag = -3
	FlagDescriptorError   Flag = -2
	FlagDescriptorShutdown Flag = -1
	FlagNone              Flag = 0
	FlagDataPending       Flag = 1
)

// WriterSlot is the slot index reserved for the line's single writer; lane
// readers occupy slots 1..K.
const WriterSlot = 0

// lockBackoff is the poll interval AcquireBufferLock uses when force is
// set, matching the source proxy's 1ms back-off.
const lockBackoff = time.Millisecond

type slot struct {
	locked atomic.Bool
	owner  atomic.Value // *task.Control, nil-able via nil interface check
	flag   atomic.Int32
}

// TransferLine is a buffer plus per-role lock flags and per-role
// transfer-status flags: one writer slot and K reader slots. Exactly one
// task may hold a given slot at a time.
type TransferLine struct {
	buf   *buffer.Buffer
	slots []*slot

	// dataReady is signalled whenever the writer commits bytes, so lane
	// readers blocked waiting for data wake promptly instead of polling.
	// It is the Go-native realization of the source proxy's per-lane data
	// signal pack. dataMu guards swapping the channel: NotifyData can be
	// called from any receiver while a lane reader is mid-select on it in
	// WaitData.
	dataMu    sync.Mutex
	dataReady chan struct{}
}

// NewTransferLine builds a line with laneCount reader lanes backed by p.
func NewTransferLine(p *pager.Pager, laneCount int) *TransferLine {
	l := &TransferLine{
		buf:       buffer.New(p, laneCount),
		slots:     make([]*slot, laneCount+1),
		dataReady: make(chan struct{}),
	}
	for i := range l.slots {
		l.slots[i] = &slot{}
	}
	return l
}

// SlotCount returns K+1: the writer slot plus every lane's reader slot.
func (l *TransferLine) SlotCount() int { return len(l.slots) }

// Buffer exposes the underlying fan-out buffer to the write/read paths in
// this package and to workers that inspect lane state directly (e.g. the
// senders helper checking a lane's pending byte count).
func (l *TransferLine) Buffer() *buffer.Buffer { return l.buf }

// Pager returns the page pool backing this line's buffer.
func (l *TransferLine) Pager() *pager.Pager { return l.buf.Pager() }

// AcquireBufferLock attempts to take slot idx for owner. A non-forcing
// call fails fast if the slot is held; a forcing call polls with a 1ms
// back-off until it succeeds.
func (l *TransferLine) AcquireBufferLock(owner *task.Control, idx int, force bool) bool {
	s := l.slots[idx]
	for {
		if s.locked.CompareAndSwap(false, true) {
			s.owner.Store(owner)
			return true
		}
		if !force {
			return false
		}
		time.Sleep(lockBackoff)
	}
}

// ReleaseBufferLock clears the active-owner pointer then the lock flag.
func (l *TransferLine) ReleaseBufferLock(idx int) {
	s := l.slots[idx]
	s.owner.Store((*task.Control)(nil))
	s.locked.Store(false)
}

// SlotOwner returns the task currently holding slot idx, or nil.
func (l *TransferLine) SlotOwner(idx int) *task.Control {
	v := l.slots[idx].owner.Load()
	if v == nil {
		return nil
	}
	return v.(*task.Control)
}

// Flag returns slot idx's transfer-status flag.
func (l *TransferLine) Flag(idx int) Flag { return Flag(l.slots[idx].flag.Load()) }

// SetFlag stores slot idx's transfer-status flag.
func (l *TransferLine) SetFlag(idx int, f Flag) { l.slots[idx].flag.Store(int32(f)) }

// NotifyData wakes any reader blocked waiting for new bytes on this line.
func (l *TransferLine) NotifyData() {
	l.dataMu.Lock()
	old := l.dataReady
	l.dataReady = make(chan struct{})
	l.dataMu.Unlock()
	close(old)
}

// WaitData blocks until NotifyData fires, doneCh is closed, or
// MaxResponse elapses (so a blocked reader re-checks its stop flag at the
// standard cadence even with no producer activity).
func (l *TransferLine) WaitData(doneCh <-chan struct{}) {
	l.dataMu.Lock()
	ch := l.dataReady
	l.dataMu.Unlock()
	select {
	case <-ch:
	case <-doneCh:
	case <-time.After(pager.MaxResponse):
	}
}
