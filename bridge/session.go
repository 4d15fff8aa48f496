package bridge

import (
	"context"

	"github.com/google/uuid"
	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/pcap"
	"github.com/kbralten/umdt/transport"
	"go.uber.org/zap"
)

// session is one upstream connection: an accepted TCP socket or the
// bridge's single serial line. Requests are processed in arrival order
// and responses leave in the same order; the upstream transaction id of
// each in-flight request is held here and re-applied when the response
// is encoded, so a TCP master sees its own ids even across an RTU
// downstream.
type session struct {
	id       string
	b        *Bridge
	logger   *zap.Logger
	upstream transport.Transport
	framing  Framing
}

func newSession(b *Bridge, t transport.Transport, framing Framing) *session {
	id := uuid.NewString()
	return &session{
		id:       id,
		b:        b,
		logger:   b.logger.With(zap.String("session", id)),
		upstream: t,
		framing:  framing,
	}
}

func (s *session) run(ctx context.Context) {
	defer s.upstream.Close()
	s.b.publish(eventbus.KindConnection, map[string]any{"event": "session opened", "session": s.id})
	defer s.b.publish(eventbus.KindConnection, map[string]any{"event": "session closed", "session": s.id})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := s.upstream.ReceiveFrame(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if f != nil && len(f.Raw) > 0 {
				// Malformed frames are captured, published and skipped,
				// never silently discarded.
				s.b.captureUpstream(pcap.DirectionInbound, s.framing, f.Raw)
				s.b.publish(eventbus.KindError, map[string]any{"event": "malformed upstream frame", "session": s.id, "bytes": f.Raw})
				continue
			}
			s.logger.Debug("upstream receive failed, closing session", zap.Error(err))
			return
		}
		if f == nil {
			continue
		}

		s.b.captureUpstream(pcap.DirectionInbound, s.framing, f.Raw)

		unit, reqPDU, txnID, ok := decodeUpstream(f)
		if !ok {
			continue
		}
		s.b.publish(eventbus.KindRequest, map[string]any{
			"session":  s.id,
			"unit":     unit,
			"function": reqPDU.Function.String(),
		})

		resp, respond := s.b.relay(ctx, unit, reqPDU)
		if !respond {
			continue
		}

		var wire []byte
		if s.framing == FramingTCP {
			wire = frame.EncodeTCP(txnID, unit, resp.Function, resp.Payload)
		} else {
			wire = frame.EncodeRTU(unit, resp.Function, resp.Payload)
		}
		if err := s.upstream.Send(ctx, wire); err != nil {
			s.logger.Debug("upstream send failed, closing session", zap.Error(err))
			return
		}
		s.b.captureUpstream(pcap.DirectionOutbound, s.framing, wire)
		s.b.publish(eventbus.KindResponse, map[string]any{
			"session":  s.id,
			"unit":     unit,
			"function": resp.Function.String(),
		})
	}
}

func decodeUpstream(f *transport.Frame) (unit uint8, pdu *frame.PDU, txnID uint16, ok bool) {
	switch d := f.Decoded.(type) {
	case *frame.RTUFrame:
		if !d.Valid {
			return 0, nil, 0, false
		}
		return d.UnitID, d.PDU, 0, true
	case *frame.TCPFrame:
		if !d.Valid {
			return 0, nil, 0, false
		}
		return d.UnitID, d.PDU, d.TransactionID, true
	default:
		return 0, nil, 0, false
	}
}
