package workers

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-artmv/proxy/internal/conveyor"
	"github.com/a-artmv/proxy/internal/pager"
)

func newTestFleet(t *testing.T) *Fleet {
	t.Helper()
	clientWaiter := pager.NewResourceWaiter(pager.DefaultCacheSize / 5)
	serverWaiter := pager.NewResourceWaiter(pager.DefaultCacheSize / 5)
	clientPager := pager.New(clientWaiter, 4096, 64, true)
	serverPager := pager.New(serverWaiter, 4096, 64, true)
	conv := conveyor.New()
	sup := NewSupervisor(conv, clientPager, serverPager, SupervisorConfig{})
	return NewFleet(conv, clientPager, serverPager, t.TempDir(), sup)
}

// TestEchoThrough checks the server-to-client leg of a Spawn'd pair:
// bytes the mock backend writes arrive intact at the client, and the
// server-side (to_clients) transfer log records the byte count.
func TestEchoThrough(t *testing.T) {
	fleet := newTestFleet(t)

	clientSide, clientBackend := net.Pipe()
	serverSide, serverBackend := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	fleet.Spawn(clientBackend, serverBackend)

	// A mock backend writing raw, non-protocol bytes: the server-to-client
	// leg is never decoded (size-only), so this exercises the symmetric
	// "N bytes transferred" record independent of pgwire framing.
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	go func() {
		_, _ = serverSide.Write(payload)
	}()

	_ = clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(payload))
	_, err := io.ReadFull(clientSide, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Give the logger a moment to record the commit before inspecting the
	// transfer log file.
	time.Sleep(150 * time.Millisecond)

	serverLog, err := os.ReadFile(filepath.Join(fleet.LogDir, "to_clients_log1"))
	require.NoError(t, err)
	assert.Contains(t, string(serverLog), "5 bytes transferred")
}

func TestSpawnDropsPeerOnceBothSidesClose(t *testing.T) {
	fleet := newTestFleet(t)

	clientSide, clientBackend := net.Pipe()
	serverSide, serverBackend := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	fleet.Spawn(clientBackend, serverBackend)
	_ = clientSide.Close()
	_ = serverSide.Close()

	require.Eventually(t, func() bool {
		return fleet.Conveyor.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "peer must be dropped once both sides close")
}
