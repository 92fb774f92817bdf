package pgwire

import (
	"fmt"
	"strconv"
	"strings"
)

type decodeState int

const (
	stateType decodeState = iota
	stateLen
	stateData
	stateOutOfSync
)

// Decoder is a per-descriptor frontend message decoder. It is fed
// arbitrary-sized chunks off the client-side logger lane and emits one
// description line per complete message via the callback passed to Feed.
// It is not safe for concurrent use; each descriptor owns exactly one
// Decoder for the lifetime of its loop.
type Decoder struct {
	state decodeState

	typeless bool
	typeByte byte

	lenBuf   [4]byte
	lenFill  int
	payload  int // declared payload length, excluding the 4-byte length field
	consumed int // bytes of the declared payload observed so far

	skipping bool
	oversizeLogged bool
	buf      []byte
}

// NewDecoder returns a fresh decoder in the initial "waiting for type
// byte" state.
func NewDecoder() *Decoder { return &Decoder{state: stateType} }

// OutOfSync reports whether this descriptor's stream lost message
// framing (e.g. an unrecognized type byte or a length matching no known
// contents). Once set, Feed stops decoding and only counts bytes.
func (d *Decoder) OutOfSync() bool { return d.state == stateOutOfSync }

// Feed advances the decoder with newly observed bytes and invokes emit
// once for every description line produced: one per complete decoded
// message, one "too big" line when an oversize message starts, one the
// instant a stream falls out of sync, and after that one byte-count line
// per Feed call.
func (d *Decoder) Feed(data []byte, emit func(line string)) {
	for len(data) > 0 {
		switch d.state {
		case stateOutOfSync:
			emit(fmt.Sprintf("logger is out of sync. %d bytes transferred", len(data)))
			return

		case stateType:
			// A leading zero byte is not a type marker: real startup-phase
			// messages have no type byte at all, and their 4-byte length
			// field's top byte happens to be zero (the message is always
			// small), which is exactly how a typeless message is told apart
			// from a typed one. So that byte is stored as the first byte
			// of the length field.
			b := data[0]
			if b == 0 {
				d.typeless = true
				d.lenBuf[0] = 0
				d.lenFill = 1
			} else {
				d.typeless = false
				d.typeByte = b
				d.lenFill = 0
			}
			data = data[1:]
			d.state = stateLen

		case stateLen:
			for d.lenFill < 4 && len(data) > 0 {
				d.lenBuf[d.lenFill] = data[0]
				data = data[1:]
				d.lenFill++
			}
			if d.lenFill < 4 {
				continue
			}
			raw := uint32(d.lenBuf[0])<<24 | uint32(d.lenBuf[1])<<16 | uint32(d.lenBuf[2])<<8 | uint32(d.lenBuf[3])
			if raw < 4 {
				d.enterOutOfSync(emit)
				continue
			}
			d.payload = int(raw) - 4
			if !d.typeless && !knownTypedID(d.typeByte) {
				d.enterOutOfSync(emit)
				continue
			}
			if !d.typeless && emptyPayloadID(d.typeByte) && d.payload != 0 {
				d.enterOutOfSync(emit)
				continue
			}
			d.consumed = 0
			d.buf = d.buf[:0]
			if d.payload > MaxDataSize {
				d.skipping = true
				d.oversizeLogged = false
			} else {
				d.skipping = false
			}
			d.state = stateData
			if d.payload == 0 {
				d.finishMessage(emit)
			}

		case stateData:
			need := d.payload - d.consumed
			take := need
			if take > len(data) {
				take = len(data)
			}
			if d.skipping {
				if !d.oversizeLogged {
					emit(fmt.Sprintf("! Query was too big: %d bytes !", d.payload))
					d.oversizeLogged = true
				}
			} else {
				d.buf = append(d.buf, data[:take]...)
			}
			data = data[take:]
			d.consumed += take
			if d.consumed >= d.payload {
				d.finishMessage(emit)
			}
		}
	}
}

func (d *Decoder) enterOutOfSync(emit func(line string)) {
	d.state = stateOutOfSync
	emit("logger is out of sync. 0 bytes transferred")
}

func (d *Decoder) finishMessage(emit func(line string)) {
	if !d.skipping {
		line, ok := decodeBody(d.typeless, d.typeByte, d.buf)
		if !ok {
			d.state = stateOutOfSync
			emit("logger is out of sync. 0 bytes transferred")
			return
		}
		emit(line)
	}
	d.state = stateType
	d.payload = 0
	d.consumed = 0
	d.buf = nil
}

// decodeBody renders one complete message's payload into its log line,
// following the table in the wire-protocol section verbatim. ok is false
// if the payload does not match its declared type (out-of-sync).
func decodeBody(typeless bool, typeByte byte, payload []byte) (string, bool) {
	c := &cursor{buf: payload}
	var sb strings.Builder

	if typeless {
		code, err := c.int32()
		if err != nil {
			return "", false
		}
		switch code {
		case startupCode:
			sb.WriteString("[Startup Message]")
			for c.remaining() > 1 {
				key, err := c.cString()
				if err != nil {
					return "", false
				}
				val, err := c.cString()
				if err != nil {
					return "", false
				}
				fmt.Fprintf(&sb, " %s=%s", key, val)
			}
			if b, err := c.byte(); err != nil || b != 0 {
				return "", false
			}
		case sslRequestCode:
			sb.WriteString("[SSL request]")
		case gssEncCode:
			sb.WriteString("[GSS Encryption request]")
		case cancelRequestCode:
			sb.WriteString("[Cancel request]")
			pid, err1 := c.int32()
			key, err2 := c.int32()
			if err1 != nil || err2 != nil {
				return "", false
			}
			fmt.Fprintf(&sb, " PID=%d key=%d", pid, key)
		default:
			return "", false
		}
	} else {
		switch typeByte {
		case bindID:
			sb.WriteString("[Bind command]")
			destPortal, err1 := c.cString()
			prepStmt, err2 := c.cString()
			if err1 != nil || err2 != nil {
				return "", false
			}
			fmt.Fprintf(&sb, " dest_portal=%s prep_statement=%s", destPortal, prepStmt)
			params, ok := decodeParamsPack(c)
			if !ok {
				return "", false
			}
			sb.WriteString(params)
			rsl, err := c.int16()
			if err != nil {
				return "", false
			}
			if rsl > 0 {
				sb.WriteString(" res_fmt_codes=")
				codes := make([]string, rsl)
				for i := range codes {
					v, err := c.int16()
					if err != nil {
						return "", false
					}
					codes[i] = strconv.Itoa(int(v))
				}
				sb.WriteString(strings.Join(codes, ","))
			}
		case closeID, describeID:
			if typeByte == closeID {
				sb.WriteString("[Close command]")
			} else {
				sb.WriteString("[Describe command]")
			}
			sel, err := c.byte()
			if err != nil {
				return "", false
			}
			switch sel {
			case 'S':
				sb.WriteString(" prep_statement=")
			case 'P':
				sb.WriteString(" portal=")
			default:
				return "", false
			}
			name, err := c.cString()
			if err != nil {
				return "", false
			}
			sb.WriteString(name)
		case copyFailID:
			sb.WriteString("[COPY failure]")
			msg, err := c.cString()
			if err != nil {
				return "", false
			}
			sb.WriteString(" error_mgs=")
			sb.WriteString(msg)
		case executeID:
			sb.WriteString("[Execute command]")
			portal, err := c.cString()
			if err != nil {
				return "", false
			}
			rows, err := c.int32()
			if err != nil {
				return "", false
			}
			fmt.Fprintf(&sb, " portal=%s max_rows=%d", portal, rows)
		case functionCallID:
			sb.WriteString("[function call]")
			fid, err := c.int32()
			if err != nil {
				return "", false
			}
			fmt.Fprintf(&sb, " function_id=%d", fid)
			params, ok := decodeParamsPack(c)
			if !ok {
				return "", false
			}
			sb.WriteString(params)
			r, err := c.int16()
			if err != nil {
				return "", false
			}
			fmt.Fprintf(&sb, " result_fmt=%d", r)
		case copyDataID:
			fmt.Fprintf(&sb, "[COPY data] %d bytes", len(payload))
		case parseID:
			sb.WriteString("[Parse command]")
			stmt, err := c.cString()
			if err != nil {
				return "", false
			}
			query, err := c.cString()
			if err != nil {
				return "", false
			}
			fmt.Fprintf(&sb, " prep_statement=%s query=%s", stmt, query)
			prm, err := c.int16()
			if err != nil {
				return "", false
			}
			if prm > 0 {
				sb.WriteString(" param_types=")
				ids := make([]string, prm)
				for i := range ids {
					id, err := c.int32()
					if err != nil {
						return "", false
					}
					ids[i] = strconv.Itoa(int(id))
				}
				sb.WriteString(strings.Join(ids, ","))
			}
		case queryID:
			sb.WriteString("[simple query]  ")
			q, err := c.cString()
			if err != nil {
				return "", false
			}
			sb.WriteString(q)
		case passwID:
			fmt.Fprintf(&sb, "[password message | gss response | sasl response] %d bytes", len(payload))
		case copyDoneID:
			sb.WriteString("[COPY complete]")
		case flushID:
			sb.WriteString("[Flush command]")
		case syncID:
			sb.WriteString("[Sync command]")
		case terminateID:
			sb.WriteString("[Termination]")
		default:
			return "", false
		}
	}

	if !c.exhausted() {
		return "", false
	}
	return sb.String(), true
}

// decodeParamsPack renders the Bind/FunctionCall shared parameter block:
// format-code vector, then parameter count, then each parameter as a
// length-prefixed value (-1 NULL, 0 empty, else rendered textually or as
// hex depending on its format code).
func decodeParamsPack(c *cursor) (string, bool) {
	var sb strings.Builder

	fmtCount, err := c.int16()
	if err != nil {
		return "", false
	}
	formats := make([]bool, 0, fmtCount)
	if fmtCount > 0 {
		sb.WriteString(" fmt_codes=")
		for i := 0; i < int(fmtCount); i++ {
			v, err := c.int16()
			if err != nil {
				return "", false
			}
			formats = append(formats, v != 0)
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%d", v)
		}
	}

	prm, err := c.int16()
	if err != nil {
		return "", false
	}
	if prm > 0 {
		sb.WriteString(" params=")
		defaultBinary := false
		if len(formats) == 1 {
			defaultBinary = formats[0]
		}
		for i := 0; i < int(prm); i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			length, err := c.int32()
			if err != nil {
				return "", false
			}
			v := int32(length)
			switch {
			case v == -1:
				sb.WriteString("NULL")
			case v == 0:
				sb.WriteString("EMPTY")
			default:
				binary := defaultBinary
				if i < len(formats) {
					binary = formats[i]
				}
				for j := int32(0); j < v; j++ {
					b, err := c.byte()
					if err != nil {
						return "", false
					}
					if binary {
						fmt.Fprintf(&sb, "%x", b)
					} else {
						sb.WriteByte(b)
					}
				}
			}
		}
	}

	return sb.String(), true
}
