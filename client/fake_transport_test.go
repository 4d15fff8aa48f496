package client

import (
	"context"
	"time"

	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
)

// fakeTransport is an in-memory stand-in for a real Transport: Send
// records the outgoing frame, and each ReceiveFrame call pops the next
// queued response (built by the test via an encoder helper).
type fakeTransport struct {
	*transport.ObserverSet
	sent      [][]byte
	responses []*transport.Frame
	errs      []error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ObserverSet: transport.NewObserverSet()}
}

func (f *fakeTransport) Open(ctx context.Context) error { return nil }
func (f *fakeTransport) Close() error                   { return nil }

func (f *fakeTransport) Send(ctx context.Context, data []byte) error {
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) ReceiveFrame(ctx context.Context, timeout time.Duration) (*transport.Frame, error) {
	if len(f.errs) > 0 && f.errs[0] != nil {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.errs) > 0 {
		f.errs = f.errs[1:]
	}
	if len(f.responses) == 0 {
		return nil, context.DeadlineExceeded
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

// queueRTUResponse appends an RTU-framed response built from a raw PDU.
func (f *fakeTransport) queueRTUResponse(unit uint8, function frame.FunctionCode, payload []byte) {
	raw := frame.EncodeRTU(unit, function, payload)
	decoded, err := frame.DecodeRTU(raw)
	if err != nil {
		panic(err)
	}
	f.responses = append(f.responses, &transport.Frame{Raw: raw, Decoded: decoded, Valid: decoded.Valid})
}

// queueRTUExceptionResponse appends an RTU-framed exception reply.
func (f *fakeTransport) queueRTUExceptionResponse(unit uint8, pdu *frame.PDU) {
	raw := frame.EncodeRTU(unit, pdu.Function, pdu.Payload)
	decoded, err := frame.DecodeRTU(raw)
	if err != nil {
		panic(err)
	}
	f.responses = append(f.responses, &transport.Frame{Raw: raw, Decoded: decoded, Valid: decoded.Valid})
}
