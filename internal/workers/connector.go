package workers

import (
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/a-artmv/proxy/internal/pager"
	"github.com/a-artmv/proxy/internal/proxylog"
	"github.com/a-artmv/proxy/internal/task"
)

// dialRetries bounds the source connector's retry loop on a transient
// dial failure; the back-off between attempts is max_response
// (pager.MaxResponse), the same as every other suspension point in the
// proxy.
const dialRetries = 5

// Connector accepts client sockets off a listener, dials the backend for
// each, and on success hands the pair to Fleet to spin up its
// receiver/sender/logger workers. One Connector task runs per listener;
// the Go netpoller substitutes for the source's epoll-based readiness
// wait, so there is no separate "wait for writable, read SO_ERROR" step
// beyond what net.DialTimeout already performs.
type Connector struct {
	Listener    net.Listener
	BackendAddr string
	Fleet       *Fleet

	acceptDeadline time.Duration
}

// NewConnector builds a Connector accepting on ln and dialing backendAddr
// for every accepted client.
func NewConnector(ln net.Listener, backendAddr string, fleet *Fleet) *Connector {
	return &Connector{Listener: ln, BackendAddr: backendAddr, Fleet: fleet, acceptDeadline: pager.MaxResponse}
}

func (c *Connector) OnStart()  {}
func (c *Connector) OnFinish() { _ = c.Listener.Close() }

// OneStep accepts at most one client connection, honoring acceptDeadline
// so the owning Control's stop flag is re-checked at the standard
// cadence even with no inbound traffic.
func (c *Connector) OneStep() bool {
	if tl, ok := c.Listener.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(c.acceptDeadline))
	}
	client, err := c.Listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return true
		}
		proxylog.Error("connector accept failed", "err", err)
		return false
	}

	server, err := c.dialBackend()
	if err != nil {
		proxylog.Error("connector backend dial failed", "addr", c.BackendAddr, "err", err)
		_ = client.Close()
		return true
	}

	c.Fleet.Spawn(client, server)
	return true
}

// dialBackend retries a transient dial failure up to dialRetries times
// with a max_response back-off between attempts, matching the source
// connector's "EAGAIN: insufficient routing cache" retry loop. Only
// errno conditions the kernel considers transient for an outbound
// connect are retried; anything else (refused, unreachable, timeout)
// fails immediately since retrying those wastes the full backoff budget
// on a connection that was never going to succeed.
func (c *Connector) dialBackend() (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < dialRetries; attempt++ {
		conn, err := net.DialTimeout("tcp", c.BackendAddr, pager.MaxResponse)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !isRetryableDialError(err) {
			break
		}
		time.Sleep(pager.MaxResponse)
	}
	return nil, pkgerrors.Wrapf(lastErr, "dialing backend %s", c.BackendAddr)
}

// isRetryableDialError reports whether err's innermost syscall errno is
// one the source connector retries (EAGAIN/ENOBUFS: the kernel's routing
// or socket-buffer cache is momentarily exhausted) rather than a
// definitive failure.
func isRetryableDialError(err error) bool {
	var sysErr *os.SyscallError
	if !errors.As(err, &sysErr) {
		return false
	}
	var errno syscall.Errno
	if !errors.As(sysErr.Err, &errno) {
		return false
	}
	return errno == unix.EAGAIN || errno == unix.ENOBUFS
}

var _ task.Task = (*Connector)(nil)
