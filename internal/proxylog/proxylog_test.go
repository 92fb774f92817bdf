package proxylog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatElapsed(t *testing.T) {
	d := 2*24*time.Hour + 3*time.Hour + 4*time.Minute + 5*time.Second + 6*time.Millisecond
	assert.Equal(t, "2d3h4m5s6ms", formatElapsed(d))
}

func TestTransferLogRecordsAppendWithBanner(t *testing.T) {
	dir := t.TempDir()
	name := FromClientsName(1)

	tl, err := NewTransferLog(dir, name)
	require.NoError(t, err)
	tl.Record("5 bytes transferred", "")
	require.NoError(t, tl.Close())

	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	content := string(raw)
	assert.True(t, strings.HasPrefix(content, "=== transfer log started"))
	assert.Contains(t, content, "5 bytes transferred")
}

func TestTransferLogReopenDoesNotDuplicateBanner(t *testing.T) {
	dir := t.TempDir()
	name := ToClientsName(2)

	tl1, err := NewTransferLog(dir, name)
	require.NoError(t, err)
	tl1.Record("first", "")
	require.NoError(t, tl1.Close())

	tl2, err := NewTransferLog(dir, name)
	require.NoError(t, err)
	tl2.Record("second", "")
	require.NoError(t, tl2.Close())

	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "=== transfer log started"))
}

type countingLogger struct {
	calls int
}

func (c *countingLogger) Log(keyvals ...interface{}) error {
	c.calls++
	return nil
}

func TestRateLimitedLoggerDropsExcessCalls(t *testing.T) {
	inner := &countingLogger{}
	limited := NewRateLimitedLogger(2, log.Logger(inner))

	for i := 0; i < 10; i++ {
		_ = limited.Log("msg", "x")
	}
	assert.LessOrEqual(t, inner.calls, 2)
}

func TestNewLimitedWarnCapsCallsPerSecond(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "warn.log"))
	require.NoError(t, err)
	defer f.Close()

	old := Logger
	defer func() { Logger = old }()
	Logger = log.NewLogfmtLogger(log.NewSyncWriter(f))

	warn := NewLimitedWarn(2)
	for i := 0; i < 10; i++ {
		warn("socket read failed", "err", "connection reset")
	}

	raw, err := os.ReadFile(filepath.Join(dir, "warn.log"))
	require.NoError(t, err)
	lines := strings.Count(string(raw), "socket read failed")
	assert.LessOrEqual(t, lines, 2, "limited warn must not emit more than the per-second cap")
	assert.Greater(t, lines, 0, "limited warn must still emit within the allowance")
}
