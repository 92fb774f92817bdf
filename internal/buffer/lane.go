package buffer

import (
	"container/list"
	"sync"

	"github.com/a-artmv/proxy/internal/pager"
)

// laneNode records one page a lane still has outstanding: the reader's
// offset into it, and how many bytes the writer has committed so far.
type laneNode struct {
	page      *pager.Page
	readerOff int
	committed int
}

// Lane is a single reader's independent FIFO view over a Buffer's writer
// sequence: a queue of (page, reader-offset, committed-size) nodes plus a
// "last fully consumed page" cache used to coalesce re-use of the current
// writer page across the boundary where a lane catches all the way up.
//
// Writer-side Put and reader-side AdvanceReader/Peek touch the same node
// list from different goroutines (single-producer/single-consumer per
// lane), so the lane guards its own queue with a mutex; the conveyor's
// slot locks serialize *role* access (one writer, one reader per lane) but
// do not by themselves make list mutation safe across the two roles.
type Lane struct {
	mu       sync.Mutex
	nodes    list.List
	lastPage *pager.Page
	lastOff  int
}

// NewLane returns an empty lane.
func NewLane() *Lane { return &Lane{} }

// put is invoked by the writer when it commits bytes into the current
// page. Coalescing rule: if the lane's back node already refers to the
// same page, only its committed size is updated; else if the cached
// last-page matches, a new node is pushed resuming at the cached offset
// and the cache is cleared; else a new node starting at offset 0 is
// pushed.
func (l *Lane) put(p *pager.Page, committed int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if back := l.nodes.Back(); back != nil {
		nd := back.Value.(*laneNode)
		if nd.page == p {
			nd.committed = committed
			return
		}
	}

	offset := 0
	if l.lastPage == p {
		offset = l.lastOff
		l.lastPage = nil
	}
	p.Retain()
	l.nodes.PushBack(&laneNode{page: p, readerOff: offset, committed: committed})
}

// AdvanceReader marks n consumed bytes on this lane. It may pop multiple
// front nodes if n spans node boundaries, and returns the bytes remaining
// to read on the lane afterward (0 if the lane is now empty).
func (l *Lane) AdvanceReader(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for n > 0 {
		e := l.nodes.Front()
		if e == nil {
			break
		}
		nd := e.Value.(*laneNode)
		avail := nd.committed - nd.readerOff
		take := avail
		if take > n {
			take = n
		}
		nd.readerOff += take
		n -= take

		if nd.readerOff >= nd.committed {
			l.nodes.Remove(e)
			if nd.committed < nd.page.Size() {
				// The writer hasn't finished this page yet; remember
				// where we left off so the next Put from the writer
				// resumes at the right intra-page offset instead of
				// starting a fresh node at zero.
				l.lastPage = nd.page
				l.lastOff = nd.readerOff
			}
			nd.page.Release()
		}
	}

	return l.pendingLocked()
}

// Pending returns the bytes currently readable (committed but not yet
// consumed) on this lane, without consuming anything.
func (l *Lane) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingLocked()
}

func (l *Lane) pendingLocked() int {
	total := 0
	for e := l.nodes.Front(); e != nil; e = e.Next() {
		nd := e.Value.(*laneNode)
		total += nd.committed - nd.readerOff
	}
	return total
}

// Peek returns a PageWrapper covering the lane's currently readable span
// on its front node (the unit of work a reader consumes one call at a
// time), or ok=false if the lane has nothing pending. The wrapper holds
// its own page reference, independent of the lane node's.
func (l *Lane) Peek() (wrap *PageWrapper, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.nodes.Front()
	if e == nil {
		return nil, false
	}
	nd := e.Value.(*laneNode)
	avail := nd.committed - nd.readerOff
	if avail == 0 {
		return nil, false
	}
	nd.page.Retain()
	return newPageWrapper(nd.page, nd.readerOff, avail), true
}
