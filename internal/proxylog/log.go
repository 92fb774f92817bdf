// Package proxylog provides the proxy's process-wide structured logger
// plus the per-direction transfer-record file sinks.
package proxylog

import (
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the process-wide structured logger. It defaults to a logfmt
// logger on stderr so the package is usable before InitLogger runs (e.g.
// in tests); InitLogger replaces it for the real console/file wiring.
var Logger log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

var initOnce sync.Once

// InitLogger installs the process logger: logfmt output to w, timestamped
// and annotated with the file/line that called Info, Warn or Error, the
// way the console's `message()` callers expect to be attributed. Lines
// written through NewLimitedWarn are attributed to a frame inside this
// package instead.
func InitLogger(w *os.File) {
	initOnce.Do(func() {
		base := log.NewLogfmtLogger(log.NewSyncWriter(w))
		Logger = log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.Caller(4))
	})
}

// Info logs msg at info level through the process logger, mirroring the
// single injected `message(const char*)` function every worker reports
// through.
func Info(msg string, keyvals ...interface{}) {
	_ = level.Info(Logger).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

// Warn logs msg at warn level.
func Warn(msg string, keyvals ...interface{}) {
	_ = level.Warn(Logger).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

// Error logs msg at error level.
func Error(msg string, keyvals ...interface{}) {
	_ = level.Error(Logger).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

// indirectWarnLogger re-reads the package Logger on every call instead of
// capturing it once, so a limiter built before InitLogger runs still
// writes through whatever sink InitLogger later installs.
type indirectWarnLogger struct{}

func (indirectWarnLogger) Log(keyvals ...interface{}) error {
	return level.Warn(Logger).Log(keyvals...)
}

// NewLimitedWarn returns a Warn-equivalent logging func capped at n calls
// per second. It exists for call sites that can repeat rapidly — a
// socket stuck hitting the same system-call error every receive — so
// such a site cannot flood the log the way an unbounded Warn would.
func NewLimitedWarn(n int) func(msg string, keyvals ...interface{}) {
	limited := NewRateLimitedLogger(n, indirectWarnLogger{})
	return func(msg string, keyvals ...interface{}) {
		_ = limited.Log(append([]interface{}{"msg", msg}, keyvals...)...)
	}
}
