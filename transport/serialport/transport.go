// Package serialport implements transport.Transport over an RTU serial
// line, with frame boundaries detected by silence gaps. Ports are opened
// with github.com/goburrow/serial.
package serialport

import (
	"context"
	"io"
	"sync"
	"time"

	sp "github.com/goburrow/serial"
	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
	"go.uber.org/zap"
)

// Settings describes a serial line: device path, line settings and the
// optional inter-byte timeout override.
type Settings struct {
	Path             string
	Baud             int
	Parity           string // "N", "E", "O"
	DataBits         int
	StopBits         int
	InterByteTimeout time.Duration // 0 = compute from baud
}

// FrameGap returns the silence interval that marks end-of-frame:
// max(3.5 * charTime, 1750us) with charTime = 11/baud seconds, unless the
// settings carry an explicit override.
func (s Settings) FrameGap() time.Duration {
	if s.InterByteTimeout > 0 {
		return s.InterByteTimeout
	}
	if s.Baud <= 0 {
		return 1750 * time.Microsecond
	}
	charTime := time.Duration(float64(11) / float64(s.Baud) * float64(time.Second))
	gap := time.Duration(3.5 * float64(charTime))
	if gap < 1750*time.Microsecond {
		return 1750 * time.Microsecond
	}
	return gap
}

func (s Settings) toGoburrowConfig() *sp.Config {
	return &sp.Config{
		Address:  s.Path,
		BaudRate: s.Baud,
		DataBits: s.DataBits,
		Parity:   s.Parity,
		StopBits: s.StopBits,
	}
}

// Transport is a serial RTU transport: boundary detection is by silence
// (inter-byte timeout) rather than by a length prefix.
type Transport struct {
	logger *zap.Logger
	cfg    transport.Config
	*transport.ObserverSet

	settings Settings
	mu       sync.Mutex
	port     io.ReadWriteCloser
	opener   func() (io.ReadWriteCloser, error)
}

// New builds a serial transport that opens settings.Path on Open().
func New(logger *zap.Logger, settings Settings, cfg transport.Config) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{logger: logger, cfg: cfg, ObserverSet: transport.NewObserverSet(), settings: settings}
	t.opener = func() (io.ReadWriteCloser, error) { return sp.Open(settings.toGoburrowConfig()) }
	return t
}

// NewFromPort wraps an already-open stream, useful for tests and for
// sharing one physical port between a client and a passive sniffer.
func NewFromPort(logger *zap.Logger, port io.ReadWriteCloser, settings Settings, cfg transport.Config) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{logger: logger, cfg: cfg, ObserverSet: transport.NewObserverSet(), settings: settings, port: port}
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	if t.opener == nil {
		return &common.TransportError{Cause: common.ErrNotImplemented}
	}
	port, err := t.opener()
	if err != nil {
		t.Notify(transport.Event{Kind: transport.EventError, Cause: err})
		return &common.TransportError{Cause: err}
	}
	t.port = port
	t.Notify(transport.Event{Kind: transport.EventOpened})
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()
	if port == nil {
		return nil
	}
	err := port.Close()
	t.Notify(transport.Event{Kind: transport.EventClosed, Cause: err})
	return err
}

func (t *Transport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return &common.TransportError{Cause: common.ErrNotImplemented}
	}
	n, err := port.Write(data)
	if err != nil {
		t.Notify(transport.Event{Kind: transport.EventError, Cause: err})
		return &common.TransportError{Cause: err}
	}
	if n < len(data) {
		return &common.TransportError{Cause: common.ErrShortWrite}
	}
	return nil
}

// ReceiveFrame accumulates bytes into a rolling buffer until the
// inter-byte timeout fires (silence marking end-of-frame) or the buffer
// reaches the fixed request length a known function code implies and its
// CRC checks out (a longer response with the same function code keeps
// reading), then runs the permissive RTU decode over whatever was
// collected.
func (t *Transport) ReceiveFrame(ctx context.Context, timeout time.Duration) (*transport.Frame, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return nil, &common.TransportError{Cause: common.ErrNotImplemented}
	}

	overall := t.cfg.TimeoutOrDefault(timeout)
	gap := t.settings.FrameGap()

	buf := make([]byte, 0, 256)
	deadline := time.Now().Add(overall)
	one := make([]byte, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		// The silence gap only delimits bytes within a frame; the first
		// byte may take the whole overall timeout to arrive.
		wait := gap
		if len(buf) == 0 {
			wait = remaining
		}
		n, err := readByteWithTimeout(port, one, wait)
		if err != nil {
			if len(buf) == 0 {
				return nil, &common.TimeoutError{AfterMS: overall.Milliseconds()}
			}
			// Silence after at least one byte: frame boundary.
			break
		}
		if n == 1 {
			buf = append(buf, one[0])
			if length, ok := frame.PredictRTULength(frame.FunctionCode(secondByteOr(buf, 0))); ok && len(buf) == length && frame.VerifyCRC(buf) {
				break
			}
		}
	}

	if len(buf) == 0 {
		return nil, &common.TimeoutError{AfterMS: overall.Milliseconds()}
	}

	decoded, _ := frame.DecodeRTU(buf)
	f := &transport.Frame{Raw: buf, Decoded: decoded, Valid: decoded.Valid}
	if !decoded.Valid {
		return f, &common.FrameError{Reason: decoded.Reason, RawBytes: buf}
	}
	return f, nil
}

func secondByteOr(buf []byte, def byte) byte {
	if len(buf) >= 2 {
		return buf[1]
	}
	return def
}

// readByteWithTimeout reads a single byte, giving up after gap elapses
// with nothing available. goburrow/serial ports are blocking, so the
// read runs on its own goroutine and is raced against a timer; a leaked
// goroutine on timeout is acceptable here because the next byte (if any)
// simply gets consumed and discarded by that stale read.
func readByteWithTimeout(r io.Reader, buf []byte, gap time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := r.Read(buf)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(gap):
		return 0, common.ErrTimeout
	}
}
