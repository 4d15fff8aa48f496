package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kbralten/umdt/bus"
	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
	"go.uber.org/zap"
)

// Mode selects the wire framing the client speaks over its transport.
type Mode int

const (
	ModeRTU Mode = iota
	ModeTCP
)

// Client is the Modbus client engine: it owns one transport plus the
// bus coordinator guarding it, and exposes read/write/monitor/scan/probe.
type Client struct {
	logger    *zap.Logger
	transport transport.Transport
	coord     *bus.Coordinator
	events    *eventbus.Bus
	mode      Mode
	timeout   time.Duration
	txnSeq    uint32
}

// New builds a client engine. coord may be nil, in which case a private
// coordinator is created (use a shared one when multiple clients share a
// physical serial bus).
func New(logger *zap.Logger, t transport.Transport, mode Mode, coord *bus.Coordinator, events *eventbus.Bus, timeout time.Duration) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if coord == nil {
		coord = bus.NewCoordinator()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{logger: logger, transport: t, coord: coord, events: events, mode: mode, timeout: timeout}
}

func (c *Client) publish(kind eventbus.Kind, payload any) {
	if c.events == nil {
		return
	}
	c.events.Publish(eventbus.Event{Kind: kind, Payload: payload})
}

// transact sends one request PDU and returns the response PDU, holding
// the bus coordinator at operator priority so foreground operations
// always win over scanners.
func (c *Client) transact(ctx context.Context, unit uint8, function frame.FunctionCode, payload []byte) (*frame.PDU, error) {
	guard, err := c.coord.Acquire(ctx, bus.PriorityOperator)
	if err != nil {
		return nil, common.ErrCancelled
	}
	defer guard.Release()

	raw := c.encodeRequest(unit, function, payload)
	c.publish(eventbus.KindRequest, map[string]any{"unit": unit, "function": function.String(), "bytes": raw})

	if err := c.transport.Send(ctx, raw); err != nil {
		c.publish(eventbus.KindError, err)
		return nil, &common.TransportError{Cause: err}
	}

	f, err := c.transport.ReceiveFrame(ctx, c.timeout)
	if err != nil {
		var ferr *common.FrameError
		if asFrameError(err, &ferr) {
			c.publish(eventbus.KindError, ferr)
			return nil, ferr
		}
		c.publish(eventbus.KindError, err)
		return nil, err
	}
	if f == nil || !f.Valid {
		if f != nil {
			return nil, &common.FrameError{Reason: common.FrameReasonCRC, RawBytes: f.Raw}
		}
		return nil, common.ErrInvalidPacket
	}

	pdu, err := c.pduOf(f)
	if err != nil {
		return nil, err
	}
	c.publish(eventbus.KindResponse, map[string]any{"unit": unit, "function": pdu.Function.String(), "bytes": f.Raw})

	if code, isExc := pdu.AsException(); isExc {
		return pdu, &common.ModbusException{Code: byte(code)}
	}
	return pdu, nil
}

func asFrameError(err error, out **common.FrameError) bool {
	fe, ok := err.(*common.FrameError)
	if ok {
		*out = fe
	}
	return ok
}

func (c *Client) encodeRequest(unit uint8, function frame.FunctionCode, payload []byte) []byte {
	if c.mode == ModeTCP {
		txn := uint16(atomic.AddUint32(&c.txnSeq, 1))
		return frame.EncodeTCP(txn, unit, function, payload)
	}
	return frame.EncodeRTU(unit, function, payload)
}

func (c *Client) pduOf(f *transport.Frame) (*frame.PDU, error) {
	switch d := f.Decoded.(type) {
	case *frame.RTUFrame:
		return d.PDU, nil
	case *frame.TCPFrame:
		return d.PDU, nil
	default:
		return nil, fmt.Errorf("client: unrecognized decoded frame type %T", f.Decoded)
	}
}
