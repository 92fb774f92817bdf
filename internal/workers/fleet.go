package workers

import (
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/a-artmv/proxy/internal/conveyor"
	"github.com/a-artmv/proxy/internal/pager"
	"github.com/a-artmv/proxy/internal/proxylog"
	"github.com/a-artmv/proxy/internal/task"
)

// Fleet is the Go-native stand-in for the source proxy's fixed
// thread-per-role pool: instead of a handful of threads round-robining
// over every registered loop via epoll readiness, one goroutine per
// (peer, role) is spawned when Connector registers the pair, each
// parked on its own blocking net.Conn call and driven by the Go
// netpoller. Fleet owns the Conveyor registry, the two pagers (one per
// transfer direction) and the log directory every Logger writes into.
type Fleet struct {
	Conveyor    *conveyor.Conveyor
	ClientPager *pager.Pager
	ServerPager *pager.Pager
	LogDir      string
	Supervisor  *Supervisor

	loggerSeq atomic.Int64
}

// NewFleet builds a Fleet backed by the given pagers and writing
// transfer logs under logDir. sup may be nil in tests that don't need
// stall detection or pause/resume policy.
func NewFleet(conv *conveyor.Conveyor, clientPager, serverPager *pager.Pager, logDir string, sup *Supervisor) *Fleet {
	return &Fleet{Conveyor: conv, ClientPager: clientPager, ServerPager: serverPager, LogDir: logDir, Supervisor: sup}
}

// runProducer drives t to completion, registering ctrl with the
// Supervisor as a producer (Receiver) for the duration so stall
// detection can see its utility flag.
func (f *Fleet) runProducer(ctrl *task.Control, t task.Task) {
	if f.Supervisor != nil {
		f.Supervisor.RegisterProducer(ctrl)
		defer f.Supervisor.UnregisterProducer(ctrl)
	}
	task.Run(ctrl, t)
}

// runConsumer drives t to completion, registering ctrl with the
// Supervisor as a consumer (Sender/Logger) so it can be paused while a
// producer is blocked on memory and resumed once pages recover.
func (f *Fleet) runConsumer(ctrl *task.Control, t task.Task) {
	if f.Supervisor != nil {
		f.Supervisor.RegisterConsumer(ctrl)
		defer f.Supervisor.UnregisterConsumer(ctrl)
	}
	task.Run(ctrl, t)
}

// Spawn registers client/server as a new peer and launches its
// receiver, sender, and logger goroutines, plus a watcher that drops the
// peer once either line signals shutdown or error.
func (f *Fleet) Spawn(client, server net.Conn) {
	loop := f.Conveyor.AddPeer(client, server, f.ClientPager, f.ServerPager)
	n := int(f.loggerSeq.Add(1))

	clientLog, err := proxylog.NewTransferLog(f.LogDir, proxylog.FromClientsName(n))
	if err != nil {
		proxylog.Error("failed opening client transfer log", "err", err)
		f.Conveyor.DropPeer(client)
		_ = client.Close()
		_ = server.Close()
		return
	}
	serverLog, err := proxylog.NewTransferLog(f.LogDir, proxylog.ToClientsName(n))
	if err != nil {
		proxylog.Error("failed opening server transfer log", "err", err)
		f.Conveyor.DropPeer(client)
		_ = clientLog.Close()
		_ = client.Close()
		_ = server.Close()
		return
	}

	clientRecv := &Receiver{Conn: client, Line: loop.ClientLine}
	clientRecv.Ctrl = task.NewControl("receiver:client:" + filepath.Base(f.LogDir))
	go f.runProducer(clientRecv.Ctrl, clientRecv)

	serverRecv := &Receiver{Conn: server, Line: loop.ServerLine}
	serverRecv.Ctrl = task.NewControl("receiver:server")
	go f.runProducer(serverRecv.Ctrl, serverRecv)

	toServer := &Sender{Line: loop.ClientLine, Dest: server}
	toServer.Ctrl = task.NewControl("sender:client-to-server")
	go f.runConsumer(toServer.Ctrl, toServer)

	toClient := &Sender{Line: loop.ServerLine, Dest: client}
	toClient.Ctrl = task.NewControl("sender:server-to-client")
	go f.runConsumer(toClient.Ctrl, toClient)

	clientLogger := NewLogger(loop.ClientLine, clientLog, true)
	clientLogger.Ctrl = task.NewControl("logger:client")
	go f.runConsumer(clientLogger.Ctrl, clientLogger)

	serverLogger := NewLogger(loop.ServerLine, serverLog, false)
	serverLogger.Ctrl = task.NewControl("logger:server")
	go f.runConsumer(serverLogger.Ctrl, serverLogger)

	go func() {
		watchShutdown(loop)
		f.Conveyor.DropPeer(client)
		_ = clientLog.Close()
		_ = serverLog.Close()
		_ = client.Close()
		_ = server.Close()
	}()
}

// watchShutdown blocks until any slot of either line reports a terminal
// flag (shutdown or error), mirroring drop_peers' predicate. It re-checks
// the flags whenever the client line signals data and at least every
// MaxResponse.
func watchShutdown(loop *conveyor.TransferLoop) {
	doneCh := make(chan struct{})
	for {
		for _, line := range []*conveyor.TransferLine{loop.ClientLine, loop.ServerLine} {
			for idx := 0; idx < line.SlotCount(); idx++ {
				switch line.Flag(idx) {
				case conveyor.FlagDescriptorShutdown, conveyor.FlagDescriptorError, conveyor.FlagOperationalError:
					return
				}
			}
		}
		loop.ClientLine.WaitData(doneCh)
	}
}
