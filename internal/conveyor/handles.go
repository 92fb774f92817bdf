package conveyor

import "github.com/a-artmv/proxy/internal/task"

// WriteHandle is acquired by the single writer of a TransferLine (the
// Receiver task copying bytes off a socket) and released when the write
// for this step is done. Holding it pins WriterSlot so no other task can
// ever write concurrently.
type WriteHandle struct {
	line  *TransferLine
	owner *task.Control
}

// AcquireWrite locks line's writer slot for owner, forcing (polling)
// until it succeeds if force is set. It returns nil if a non-forcing
// acquire found the slot already held.
func AcquireWrite(line *TransferLine, owner *task.Control, force bool) *WriteHandle {
	if !line.AcquireBufferLock(owner, WriterSlot, force) {
		return nil
	}
	return &WriteHandle{line: line, owner: owner}
}

// Tail returns the active writer page's unwritten tail to copy socket
// bytes into.
func (w *WriteHandle) Tail() []byte { return w.line.Buffer().WriterTail() }

// Commit advances the writer by n bytes, fanning them to every lane, then
// marks the line DataPending and wakes any lane readers blocked in
// WaitData. It returns the room available in the (possibly new) active
// page, as Buffer.AdvanceWriter does.
func (w *WriteHandle) Commit(n int) int {
	avail := w.line.Buffer().AdvanceWriter(n)
	if n > 0 {
		w.line.SetFlag(WriterSlot, FlagDataPending)
		w.line.NotifyData()
	}
	return avail
}

// Release gives up the writer slot. The caller must not use w again.
func (w *WriteHandle) Release() {
	w.line.ReleaseBufferLock(WriterSlot)
}

// ReadHandle is acquired by the single consumer of one lane (a Sender or
// Logger task) and released when that task's read step is done.
type ReadHandle struct {
	line  *TransferLine
	idx   int
	owner *task.Control
}

// AcquireRead locks lane's reader slot (lane+1 in the slot array) for
// owner.
func AcquireRead(line *TransferLine, lane int, owner *task.Control, force bool) *ReadHandle {
	idx := lane + 1
	if !line.AcquireBufferLock(owner, idx, force) {
		return nil
	}
	return &ReadHandle{line: line, idx: idx, owner: owner}
}

// Peek returns the next unread chunk on this lane, or ok=false if the
// lane is caught up with the writer.
func (r *ReadHandle) Peek() (data []byte, ok bool) {
	w, ok := r.line.Buffer().Lane(r.idx - 1).Peek()
	if !ok {
		return nil, false
	}
	defer w.Release()
	return append([]byte(nil), w.Data()...), true
}

// Advance marks n bytes as consumed on this lane. It does not change any
// transfer flag.
func (r *ReadHandle) Advance(n int) {
	r.line.Buffer().Lane(r.idx - 1).AdvanceReader(n)
}

// WaitData blocks until the writer commits more bytes, the task is
// stopped, or the standard response interval elapses.
func (r *ReadHandle) WaitData(doneCh <-chan struct{}) { r.line.WaitData(doneCh) }

// Release gives up this lane's reader slot. The caller must not use r
// again.
func (r *ReadHandle) Release() {
	r.line.ReleaseBufferLock(r.idx)
}
