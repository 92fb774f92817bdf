package conveyor

import (
	"net"

	"github.com/google/uuid"

	"github.com/a-artmv/proxy/internal/pager"
)

// Side names one direction of a TransferLoop: the client-to-server leg or
// the server-to-client leg.
type Side int

const (
	ClientSide Side = iota
	ServerSide
)

// Peer identifies the two descriptors a TransferLoop relays between and
// carries the diagnostic ID assigned when the pair was accepted.
type Peer struct {
	Client net.Conn
	Server net.Conn
	ID     uuid.UUID
}

// TransferLoop is one client/backend pair's full transfer state: a
// ClientLine carrying bytes from the client (fanned out to the Sender
// lane and the Logger lane) and a ServerLine carrying the backend's
// replies (fanned out to the Sender lane and the reverse Logger lane).
type TransferLoop struct {
	Peer Peer

	ClientLine *TransferLine
	ServerLine *TransferLine
}

// Lane indices within each TransferLoop's two lines. Lane 0 always feeds
// the Sender that relays to the opposite descriptor; lane 1 feeds the
// Logger.
const (
	SenderLane = 0
	LoggerLane = 1
	lineLanes  = 2
)

// NewTransferLoop builds both lines for peer, each pulling pages from its
// own pager (client-to-server traffic and server-to-client traffic are
// accounted separately, matching the source proxy's two independent
// memory pools).
func NewTransferLoop(peer Peer, clientPager, serverPager *pager.Pager) *TransferLoop {
	return &TransferLoop{
		Peer:       peer,
		ClientLine: NewTransferLine(clientPager, lineLanes),
		ServerLine: NewTransferLine(serverPager, lineLanes),
	}
}

// Line returns the line carrying bytes produced on side.
func (t *TransferLoop) Line(side Side) *TransferLine {
	if side == ClientSide {
		return t.ClientLine
	}
	return t.ServerLine
}
