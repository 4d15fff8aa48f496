package mockserver

import (
	"context"

	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
	"go.uber.org/zap"
)

// Session runs the request/response loop for one upstream connection —
// one accepted TCP socket, or the single serial port for an RTU server —
// reading frames off its transport and driving them through the shared
// Dispatcher.
type Session struct {
	logger     *zap.Logger
	transport  transport.Transport
	dispatcher *Dispatcher
	mode       sessionMode
	events     *eventbus.Bus
}

type sessionMode int

const (
	modeRTU sessionMode = iota
	modeTCP
)

// NewTCPSession wraps an accepted TCP transport.
func NewTCPSession(logger *zap.Logger, t transport.Transport, d *Dispatcher, events *eventbus.Bus) *Session {
	return newSession(logger, t, d, events, modeTCP)
}

// NewRTUSession wraps the server's single serial-port transport.
func NewRTUSession(logger *zap.Logger, t transport.Transport, d *Dispatcher, events *eventbus.Bus) *Session {
	return newSession(logger, t, d, events, modeRTU)
}

func newSession(logger *zap.Logger, t transport.Transport, d *Dispatcher, events *eventbus.Bus, mode sessionMode) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{logger: logger, transport: t, dispatcher: d, mode: mode, events: events}
}

// Run reads frames until ctx is cancelled or the transport closes.
func (s *Session) Run(ctx context.Context) {
	defer s.transport.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := s.transport.ReceiveFrame(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if f != nil && len(f.Raw) > 0 {
				// Malformed but captured: skip it and keep the session open.
				continue
			}
			s.logger.Debug("session receive error, closing", zap.Error(err))
			return
		}
		if f == nil || !f.Valid {
			continue // permissively-captured malformed frame: skip it
		}

		unit, reqPDU, txnID, ok := s.requestOf(f)
		if !ok {
			continue
		}
		if s.mode == modeRTU && unit != s.dispatcher.unit {
			// Another device on the shared bus is being addressed; stay
			// silent.
			continue
		}
		s.publish(eventbus.KindRequest, map[string]any{"unit": unit, "function": reqPDU.Function.String()})

		resp, respond := s.dispatcher.Dispatch(ctx, reqPDU)
		if !respond {
			continue
		}

		raw := s.encodeResponse(unit, txnID, resp)
		if err := s.transport.Send(ctx, raw); err != nil {
			s.logger.Debug("session send error, closing", zap.Error(err))
			return
		}
	}
}

func (s *Session) publish(kind eventbus.Kind, payload any) {
	if s.events == nil {
		return
	}
	s.events.Publish(eventbus.Event{Kind: kind, Payload: payload})
}

func (s *Session) requestOf(f *transport.Frame) (unit uint8, pdu *frame.PDU, txnID uint16, ok bool) {
	switch d := f.Decoded.(type) {
	case *frame.RTUFrame:
		return d.UnitID, d.PDU, 0, true
	case *frame.TCPFrame:
		return d.UnitID, d.PDU, d.TransactionID, true
	default:
		return 0, nil, 0, false
	}
}

func (s *Session) encodeResponse(unit uint8, txnID uint16, pdu *frame.PDU) []byte {
	if s.mode == modeTCP {
		return frame.EncodeTCP(txnID, unit, pdu.Function, pdu.Payload)
	}
	return frame.EncodeRTU(unit, pdu.Function, pdu.Payload)
}

