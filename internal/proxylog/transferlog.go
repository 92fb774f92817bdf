package proxylog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// TransferLog is one side's persisted record of transfer activity: a file
// named "from_clients_log<N>" (frontend side, decoded messages) or
// "to_clients_log<N>" (backend side, size-only records), opened with a
// banner naming the wall-clock start time, followed by one elapsed-time
// prefixed record per logged event.
type TransferLog struct {
	mu    sync.Mutex
	file  *os.File
	start time.Time
}

// FromClientsName builds the conventional file name for the client-side
// (frontend message) logger instance numbered n.
func FromClientsName(n int) string { return fmt.Sprintf("from_clients_log%d", n) }

// ToClientsName builds the conventional file name for the server-side
// (size-only) logger instance numbered n.
func ToClientsName(n int) string { return fmt.Sprintf("to_clients_log%d", n) }

// NewTransferLog opens (creating/appending) dir/name and writes the
// start-time banner if the file is new.
func NewTransferLog(dir, name string) (*TransferLog, error) {
	path := filepath.Join(dir, name)
	info, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening transfer log %s", path)
	}

	start := time.Now()
	tl := &TransferLog{file: f, start: start}
	if statErr != nil || info.Size() == 0 {
		tl.writeBanner(start)
	}
	return tl, nil
}

func (t *TransferLog) writeBanner(start time.Time) {
	fmt.Fprintf(t.file, "=== transfer log started %s ===\n", start.Format("Mon Jan  2 15:04:05 2006 MST"))
}

// Record appends one elapsed-time-prefixed line: "(DdHhMmSsMSms) description : suffix".
func (t *TransferLog) Record(description, suffix string) {
	elapsed := time.Since(t.start)
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.file, "(%s) %s : %s\n", formatElapsed(elapsed), description, suffix)
}

// Close flushes and closes the underlying file.
func (t *TransferLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// formatElapsed renders d as "DdHhMmSsMSms", e.g. "0d0h0m5s123ms".
func formatElapsed(d time.Duration) string {
	ms := d.Milliseconds()
	days := ms / (24 * 3600 * 1000)
	ms -= days * 24 * 3600 * 1000
	hours := ms / (3600 * 1000)
	ms -= hours * 3600 * 1000
	mins := ms / (60 * 1000)
	ms -= mins * 60 * 1000
	secs := ms / 1000
	ms -= secs * 1000
	return fmt.Sprintf("%dd%dh%dm%ds%dms", days, hours, mins, secs, ms)
}
