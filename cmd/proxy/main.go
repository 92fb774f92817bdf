// Command proxy is the intercepting PostgreSQL wire-protocol TCP proxy:
// it accepts client connections, opens a matching connection to the
// configured backend, and relays every byte in both directions while
// logging a decoded transcript of the client-to-server traffic.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/a-artmv/proxy/internal/conveyor"
	"github.com/a-artmv/proxy/internal/pager"
	"github.com/a-artmv/proxy/internal/proxyconfig"
	"github.com/a-artmv/proxy/internal/proxylog"
	"github.com/a-artmv/proxy/internal/task"
	"github.com/a-artmv/proxy/internal/workers"
)

func main() {
	os.Exit(run())
}

// run builds the console and executes its interactive loop, recovering a
// fatal panic into exit code 2 the way main.cpp's outermost try/catch
// does for an uncaught exception.
func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("fatal error:", r)
			code = 2
		}
	}()
	proxylog.InitLogger(os.Stdout)
	c := newConsole(os.Args[1:], os.Stdout)
	return c.exec()
}

// console is the Go realization of the source proxy's console_t: it
// parses arguments once at startup, then drives a "q"/"s" command loop
// on stdin, starting and stopping the proxy on request.
type console struct {
	cfg     proxyconfig.Config
	out     *os.File
	scanner *bufio.Scanner
}

func newConsole(args []string, out *os.File) *console {
	cfg := proxyconfig.Parse(args, out)
	fmt.Fprint(out, cfg.String())
	return &console{cfg: cfg, out: out, scanner: bufio.NewScanner(os.Stdin)}
}

// exec runs the "enter q to quit / s to start" loop. Returning:
//   - 0 on a "q" command.
//   - 1 if stdin is exhausted without ever seeing "q" (EOF on the scan).
func (c *console) exec() int {
	for {
		fmt.Fprint(c.out, "enter \"q\" to quit\nenter \"s\" to start proxy (press \"Return\" to stop it)\n")
		if !c.scanner.Scan() {
			return 1
		}
		switch c.scanner.Text() {
		case "q":
			return 0
		case "s":
			c.startStopCycle()
		default:
			continue
		}
	}
}

// startStopCycle starts the proxy, blocks until the user presses Return
// on stdin (an empty scanned line), then stops every worker and returns
// control to the command prompt.
func (c *console) startStopCycle() {
	p, err := newProxyRuntime(c.cfg)
	if err != nil {
		fmt.Fprintln(c.out, "exception:", err)
		return
	}

	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(stopCh) }) }

	go func() {
		// A bare Enter keypress (empty scanned line) stops the proxy and
		// returns to the prompt, mirroring the source's cin.get() on the
		// console input thread.
		for c.scanner.Scan() {
			if c.scanner.Text() == "" {
				stop()
				return
			}
		}
		stop()
	}()

	p.start()
	<-stopCh
	p.stop()
}

// proxyRuntime owns every long-lived component the connector and its
// spawned workers need: the two page pools (one per transfer direction),
// the conveyor registry, the supervisor, and the listener.
type proxyRuntime struct {
	listener   net.Listener
	fleet      *workers.Fleet
	supervisor *workers.Supervisor
	connector  *workers.Connector
	helper     *workers.SendersHelper

	connectorCtrl  *task.Control
	supervisorCtrl *task.Control
	helperCtrl     *task.Control

	// eg joins the connector, supervisor and senders-helper goroutines on
	// stop. The per-peer workers the fleet spawns are not in the group.
	eg *errgroup.Group
}

func newProxyRuntime(cfg proxyconfig.Config) (*proxyRuntime, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.ListenPort)))
	if err != nil {
		return nil, err
	}

	clientWaiter := pager.NewResourceWaiter(pager.DefaultCacheSize / 5)
	serverWaiter := pager.NewResourceWaiter(pager.DefaultCacheSize / 5)
	clientPager := pager.New(clientWaiter, pager.DefaultPageSize, pager.DefaultCacheSize, true)
	serverPager := pager.New(serverWaiter, pager.DefaultPageSize, pager.DefaultCacheSize, true)

	conv := conveyor.New()
	sup := workers.NewSupervisor(conv, clientPager, serverPager, workers.SupervisorConfig{DropRandomOnStall: false})
	clientWaiter.SetOnBlock(sup.PauseConsumers)
	serverWaiter.SetOnBlock(sup.PauseConsumers)

	logDir, err := os.Getwd()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	fleet := workers.NewFleet(conv, clientPager, serverPager, logDir, sup)

	backend := net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort))
	connector := workers.NewConnector(ln, backend, fleet)
	helper := &workers.SendersHelper{Conveyor: conv}

	return &proxyRuntime{
		listener:   ln,
		fleet:      fleet,
		supervisor: sup,
		connector:  connector,
		helper:     helper,
	}, nil
}

func (p *proxyRuntime) start() {
	p.connectorCtrl = task.NewControl("connector")
	p.supervisorCtrl = task.NewControl("supervisor")
	p.helperCtrl = task.NewControl("senders-helper")
	p.helper.Ctrl = p.helperCtrl
	p.supervisor.Ctrl = p.supervisorCtrl

	var eg errgroup.Group
	p.eg = &eg
	eg.Go(runAsGroupMember(p.connectorCtrl, p.connector))
	eg.Go(runAsGroupMember(p.supervisorCtrl, p.supervisor))
	eg.Go(runAsGroupMember(p.helperCtrl, p.helper))

	proxylog.Info("proxy started")
}

// runAsGroupMember adapts task.Run (which never returns an error) to the
// func() error shape errgroup.Group.Go expects, so stop can join every
// core worker the same way it signals them.
func runAsGroupMember(ctrl *task.Control, t task.Task) func() error {
	return func() error {
		task.Run(ctrl, t)
		return nil
	}
}

func (p *proxyRuntime) stop() {
	p.connectorCtrl.Stop()
	p.supervisorCtrl.Stop()
	p.helperCtrl.Stop()
	p.fleet.Conveyor.DropPeers()
	_ = p.eg.Wait()
	proxylog.Info("proxy stopped")
}
