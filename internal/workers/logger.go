package workers

import (
	"fmt"

	"github.com/a-artmv/proxy/internal/conveyor"
	"github.com/a-artmv/proxy/internal/pgwire"
	"github.com/a-artmv/proxy/internal/proxylog"
	"github.com/a-artmv/proxy/internal/task"
)

// Logger drains Line's logger lane (lane 1) unconditionally: the
// client-side instance decodes frontend messages via pgwire.Decoder, the
// server-side instance only records a size-only record per chunk.
type Logger struct {
	Line    *conveyor.TransferLine
	Sink    *proxylog.TransferLog
	Decoded bool

	Ctrl    *task.Control
	decoder *pgwire.Decoder
}

// NewLogger builds a Logger. decoded selects the client-side (decoding)
// behavior versus the server-side (size-only) behavior.
func NewLogger(line *conveyor.TransferLine, sink *proxylog.TransferLog, decoded bool) *Logger {
	l := &Logger{Line: line, Sink: sink, Decoded: decoded}
	if decoded {
		l.decoder = pgwire.NewDecoder()
	}
	return l
}

func (l *Logger) OnStart()  {}
func (l *Logger) OnFinish() { _ = l.Sink.Close() }

// OneStep reads the next available chunk on lane 1 and either decodes it
// (client side) or records its size (server side). When the writer
// slot's flag is DataPending it first waits once for the line's data
// signal (at most pager.MaxResponse) and then reads whatever is
// available; it does not skip the read while the flag stays DataPending.
func (l *Logger) OneStep() bool {
	if l.Line.Flag(conveyor.WriterSlot) == conveyor.FlagDataPending {
		doneCh := make(chan struct{})
		l.Line.WaitData(doneCh)
	}

	rh := conveyor.AcquireRead(l.Line, conveyor.LoggerLane, l.Ctrl, true)
	if rh == nil {
		return false
	}
	data, ok := rh.Peek()
	if !ok {
		flag := l.Line.Flag(conveyor.WriterSlot)
		rh.Release()
		if flag == conveyor.FlagDescriptorShutdown || flag == conveyor.FlagDescriptorError || flag == conveyor.FlagOperationalError {
			return false
		}
		doneCh := make(chan struct{})
		l.Line.WaitData(doneCh)
		return true
	}
	rh.Advance(len(data))
	rh.Release()

	if l.Decoded {
		l.decoder.Feed(data, func(line string) { l.Sink.Record(line, "") })
	} else {
		l.Sink.Record(fmt.Sprintf("%d bytes transferred", len(data)), "")
	}
	return true
}

var _ task.Task = (*Logger)(nil)
