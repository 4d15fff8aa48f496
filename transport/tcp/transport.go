// Package tcp implements transport.Transport over a Modbus TCP (MBAP)
// socket: a listener that accepts connections and a per-socket transport
// for each accepted or dialed connection.
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
	"go.uber.org/zap"
)

// Transport is a single Modbus-TCP socket transport (client-dialed or
// server-accepted). It implements transport.Transport directly; use
// Listener for the server-side accept loop.
type Transport struct {
	logger *zap.Logger
	cfg    transport.Config
	*transport.ObserverSet

	mu   sync.Mutex
	conn net.Conn
	addr string // used only when Open must dial
}

// NewClient returns a transport that dials addr on Open.
func NewClient(logger *zap.Logger, addr string, cfg transport.Config) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{logger: logger, cfg: cfg, ObserverSet: transport.NewObserverSet(), addr: addr}
}

// NewFromConn wraps an already-established connection (used by Listener
// for each accepted socket).
func NewFromConn(logger *zap.Logger, conn net.Conn, cfg transport.Config) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{logger: logger, cfg: cfg, ObserverSet: transport.NewObserverSet(), conn: conn}
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	timeout := t.cfg.TimeoutOrDefault(0)
	if t.cfg.FastFail {
		timeout = 100 * time.Millisecond
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		t.Notify(transport.Event{Kind: transport.EventError, Cause: err})
		return &common.TransportError{Cause: err}
	}
	t.conn = conn
	t.Notify(transport.Event{Kind: transport.EventOpened})
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	t.Notify(transport.Event{Kind: transport.EventClosed, Cause: err})
	return err
}

func (t *Transport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return &common.TransportError{Cause: common.ErrNotImplemented}
	}
	if dl, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(dl)
	}
	n, err := conn.Write(data)
	if err != nil {
		t.Notify(transport.Event{Kind: transport.EventError, Cause: err})
		return &common.TransportError{Cause: err}
	}
	if n < len(data) {
		return &common.TransportError{Cause: common.ErrShortWrite}
	}
	return nil
}

// ReceiveFrame reads exactly the 7-byte MBAP header then length-1
// further bytes. A socket closed mid-frame yields a truncated frame
// rather than a bare error.
func (t *Transport) ReceiveFrame(ctx context.Context, timeout time.Duration) (*transport.Frame, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, &common.TransportError{Cause: common.ErrNotImplemented}
	}

	deadline := time.Now().Add(t.cfg.TimeoutOrDefault(timeout))
	conn.SetReadDeadline(deadline)

	header := make([]byte, frame.MBAPHeaderLength)
	n, err := readFull(conn, header)
	if n == 0 && err != nil {
		t.Notify(transport.Event{Kind: transport.EventError, Cause: err})
		return nil, &common.TransportError{Cause: err}
	}
	if n < len(header) {
		raw := header[:n]
		return &transport.Frame{Raw: raw, Valid: false}, &common.FrameError{Reason: common.FrameReasonTruncated, RawBytes: raw, Cause: err}
	}

	bodyLen, lenErr := frame.ExpectedBodyLength(header)
	if lenErr != nil {
		return &transport.Frame{Raw: header, Valid: false}, &common.FrameError{Reason: common.FrameReasonOversize, RawBytes: header, Cause: lenErr}
	}
	body := make([]byte, bodyLen)
	n2, err := readFull(conn, body)
	full := append(append([]byte(nil), header...), body[:n2]...)
	if n2 < bodyLen {
		return &transport.Frame{Raw: full, Valid: false}, &common.FrameError{Reason: common.FrameReasonTruncated, RawBytes: full, Cause: err}
	}

	decoded, _ := frame.DecodeTCP(full)
	return &transport.Frame{Raw: full, Decoded: decoded, Valid: decoded.Valid}, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
