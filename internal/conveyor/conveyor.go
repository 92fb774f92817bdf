package conveyor

import (
	"container/list"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a-artmv/proxy/internal/pager"
)

// dropPollInterval is how often DropPeer re-checks whether a blocked
// slot owner has let go, and dropExtension how much longer it waits past
// the normal timeout once it sees the owner actively blocked on memory
// (so a task parked in ResourceWaiter.Wait is not torn down mid-wait).
const (
	dropPollInterval = 2 * time.Millisecond
	dropTimeout      = pager.MaxResponse
	dropExtension    = 300 * time.Millisecond
)

// Conveyor is the process-wide registry of active TransferLoops, indexed
// by both descriptors of the pair so a lookup from either side of the
// connection (client read event or backend read event) finds the same
// loop in O(1). Mutating the registry takes the write lock; looking a
// loop up while workers run takes the read lock, mirroring the shared
// mutex the source proxy protects its peer list with.
type Conveyor struct {
	mu      sync.RWMutex
	byConn  map[net.Conn]*list.Element
	loops   list.List // of *TransferLoop
}

// New builds an empty Conveyor.
func New() *Conveyor {
	c := &Conveyor{byConn: make(map[net.Conn]*list.Element)}
	c.loops.Init()
	return c
}

// AddPeer registers a new client/backend pair and returns its loop. Both
// descriptors are inserted atomically under a single write-lock hold: a
// concurrent lookup never observes one side registered without the
// other.
func (c *Conveyor) AddPeer(client, server net.Conn, clientPager, serverPager *pager.Pager) *TransferLoop {
	loop := NewTransferLoop(Peer{Client: client, Server: server, ID: uuid.New()}, clientPager, serverPager)

	c.mu.Lock()
	defer c.mu.Unlock()
	el := c.loops.PushBack(loop)
	c.byConn[client] = el
	c.byConn[server] = el
	return loop
}

// Lookup returns the loop registered for conn (either side), or nil.
func (c *Conveyor) Lookup(conn net.Conn) *TransferLoop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	el, ok := c.byConn[conn]
	if !ok {
		return nil
	}
	return el.Value.(*TransferLoop)
}

// Peers returns a snapshot of every currently registered loop, in
// registration order, for the supervisor's sweep.
func (c *Conveyor) Peers() []*TransferLoop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TransferLoop, 0, c.loops.Len())
	for el := c.loops.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*TransferLoop))
	}
	return out
}

// Len reports the number of active loops.
func (c *Conveyor) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loops.Len()
}

// DropPeer removes conn's loop from the registry and marks both lines'
// slots DescriptorShutdown so every worker still touching them exits on
// its next step. It then waits for every slot lock on both lines to
// become free, polling at dropPollInterval, for at most dropTimeout per
// line; if it observes a slot's owner actively Blocked (parked in a
// ResourceWaiter wait) it extends that line's wait once by dropExtension.
// Once the wait runs out it returns even if a slot is still held. It is
// a no-op if conn is not registered.
func (c *Conveyor) DropPeer(conn net.Conn) {
	c.mu.Lock()
	el, ok := c.byConn[conn]
	if !ok {
		c.mu.Unlock()
		return
	}
	loop := el.Value.(*TransferLoop)
	delete(c.byConn, loop.Peer.Client)
	delete(c.byConn, loop.Peer.Server)
	c.loops.Remove(el)
	c.mu.Unlock()

	for _, line := range []*TransferLine{loop.ClientLine, loop.ServerLine} {
		for idx := 0; idx < line.SlotCount(); idx++ {
			line.SetFlag(idx, FlagDescriptorShutdown)
		}
		line.NotifyData()
	}

	for _, line := range []*TransferLine{loop.ClientLine, loop.ServerLine} {
		waitForSlotsFree(line)
	}
}

// waitForSlotsFree blocks until every slot of line reports no owner,
// extending its patience once for a slot whose owner is Blocked.
func waitForSlotsFree(line *TransferLine) {
	deadline := time.Now().Add(dropTimeout)
	extended := false

	for idx := 0; idx < line.SlotCount(); idx++ {
		for {
			owner := line.SlotOwner(idx)
			if owner == nil {
				break
			}
			if time.Now().After(deadline) {
				if !extended && owner.Blocked() {
					extended = true
					deadline = deadline.Add(dropExtension)
					continue
				}
				return
			}
			time.Sleep(dropPollInterval)
		}
	}
}

// DropPeers drops every currently registered loop, e.g. on shutdown.
func (c *Conveyor) DropPeers() {
	for _, loop := range c.Peers() {
		c.DropPeer(loop.Peer.Client)
	}
}
