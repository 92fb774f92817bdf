package buffer

import "github.com/a-artmv/proxy/internal/pager"

// Buffer is one writer cursor (writerPage/writerPos) plus K lanes, each an
// independent FIFO of pages covering bytes not yet consumed on that lane.
// 0 <= writerPos <= PageSize always; when writerPos reaches PageSize the
// writer releases its page and AdvanceWriter obtains a new one before it
// returns. Every
// lane's queue contains only pages previously seen by the writer, in the
// order the writer produced them.
type Buffer struct {
	pager *pager.Pager
	lanes []*Lane

	writerPage *pager.Page
	writerPos  int
}

// New builds a Buffer with laneCount independent reader lanes, backed by
// p for page allocation.
func New(p *pager.Pager, laneCount int) *Buffer {
	b := &Buffer{pager: p, lanes: make([]*Lane, laneCount)}
	for i := range b.lanes {
		b.lanes[i] = NewLane()
	}
	return b
}

// LaneCount returns K, the number of reader lanes.
func (b *Buffer) LaneCount() int { return len(b.lanes) }

// Pager returns the page pool backing this buffer, so a writer can check
// or wait on free-page availability before committing bytes that would
// require a fresh page.
func (b *Buffer) Pager() *pager.Pager { return b.pager }

// Lane returns the lane at index idx (0 <= idx < LaneCount).
func (b *Buffer) Lane(idx int) *Lane { return b.lanes[idx] }

// AdvanceWriter commits n bytes into the current writer page (fanning them
// out to every lane) and advances writerPos. If the page becomes full the
// writer's handle to it is released and a fresh page is obtained from the
// pager before returning. The return value is the number of bytes still
// writable in the (possibly new) active page.
func (b *Buffer) AdvanceWriter(n int) int {
	if n > 0 {
		committed := b.writerPos + n
		for _, lane := range b.lanes {
			lane.put(b.writerPage, committed)
		}
		b.writerPos = committed
	}

	if b.writerPage != nil && b.writerPos >= b.writerPage.Size() {
		b.writerPage.Release()
		b.writerPage = nil
		b.writerPos = 0
	}

	if b.writerPage == nil {
		b.writerPage = b.pager.Take()
		b.writerPos = 0
	}

	return b.writerPage.Size() - b.writerPos
}

// WriterTail returns the slice of the active writer page starting at the
// current write position, for a caller to copy bytes into before calling
// AdvanceWriter with however many bytes it copied.
func (b *Buffer) WriterTail() []byte {
	if b.writerPage == nil {
		return nil
	}
	return b.writerPage.Data()[b.writerPos:]
}

// Close releases the writer's outstanding page, if any. Lanes retain
// their own references to any pages they have not yet fully consumed.
func (b *Buffer) Close() {
	if b.writerPage != nil {
		b.writerPage.Release()
		b.writerPage = nil
		b.writerPos = 0
	}
}
