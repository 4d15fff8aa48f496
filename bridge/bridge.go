// Package bridge implements the transparent Modbus relay: an upstream
// listener (TCP or serial) accepts master requests, a middleware pipeline
// of script hooks may inspect, transform, short-circuit or drop them, and
// a single downstream transport forwards whatever survives. The two sides
// may speak different framings; the bridge converts between MBAP and RTU
// on the fly and preserves the upstream transaction id end-to-end. Both
// directions can be captured to independent PCAP files.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbralten/umdt/bus"
	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/faults"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/pcap"
	"github.com/kbralten/umdt/script"
	"github.com/kbralten/umdt/transport"
	"github.com/kbralten/umdt/transport/serialport"
	"github.com/kbralten/umdt/transport/tcp"
	"go.uber.org/zap"
)

// Framing names the wire format one side of the bridge speaks.
type Framing int

const (
	FramingRTU Framing = iota
	FramingTCP
)

func (f Framing) protocolHint() pcap.ProtocolHint {
	if f == FramingTCP {
		return pcap.ProtocolModbusTCP
	}
	return pcap.ProtocolModbusRTU
}

// Config describes the two endpoints, the optional capture files and the
// per-request downstream timeout.
type Config struct {
	// UpstreamTCPAddr is the listen address for TCP masters. Leave empty
	// and set UpstreamSerial to bridge from a serial master instead.
	UpstreamTCPAddr string
	UpstreamSerial  *serialport.Settings

	// DownstreamTCPAddr is the dial address of the TCP slave. Leave empty
	// and set DownstreamSerial to forward onto a serial bus instead.
	DownstreamTCPAddr string
	DownstreamSerial  *serialport.Settings

	// RequestTimeout bounds the wait for each downstream response; on
	// expiry the master receives exception 0x0B (gateway target failed)
	// instead of hanging. Defaults to 1s.
	RequestTimeout time.Duration

	// UpstreamPCAPPath / DownstreamPCAPPath enable dual-stream capture
	// when non-empty. Both must be set or both empty.
	UpstreamPCAPPath   string
	DownstreamPCAPPath string
}

func (c Config) downstreamFraming() Framing {
	if c.DownstreamSerial != nil {
		return FramingRTU
	}
	return FramingTCP
}

// Bridge relays Modbus traffic between one upstream side (many TCP
// sessions, or one serial line) and one downstream transport serialized
// by its bus coordinator.
type Bridge struct {
	logger *zap.Logger
	cfg    Config
	events *eventbus.Bus
	engine *script.BridgeEngine
	faults *faults.Injector

	coord      *bus.Coordinator
	downstream transport.Transport
	captures   *pcap.DualStream

	mu       sync.Mutex
	listener *tcp.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool

	txnSeq uint32 // downstream MBAP transaction ids
}

// New builds an idle bridge. events and engine may be nil; an engine-less
// bridge is fully transparent (empty hook chain).
func New(logger *zap.Logger, cfg Config, events *eventbus.Bus, engine *script.BridgeEngine) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Second
	}
	if engine == nil {
		engine = script.NewBridgeEngine(logger, events)
	}
	return &Bridge{
		logger: logger,
		cfg:    cfg,
		events: events,
		engine: engine,
		faults: faults.NewInjector(time.Now().UnixNano()),
		coord:  bus.NewCoordinator(),
	}
}

// Engine returns the bridge's script engine for hook registration.
func (b *Bridge) Engine() *script.BridgeEngine { return b.engine }

// UpdateFaults installs a new fault profile for the relay path.
func (b *Bridge) UpdateFaults(p faults.Profile) { b.faults.Update(p) }

// Addr returns the upstream listener's bound address, or "" before Start
// or for a serial upstream. Useful when listening on port 0.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Start opens the downstream transport, the capture files and the
// upstream side, then begins relaying until Stop.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	fail := func(err error) error {
		cancel()
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return err
	}

	if b.cfg.UpstreamPCAPPath != "" {
		captures, err := pcap.CreateDualStream(b.cfg.UpstreamPCAPPath, b.cfg.DownstreamPCAPPath)
		if err != nil {
			return fail(err)
		}
		b.captures = captures
	}

	if err := b.openDownstream(runCtx); err != nil {
		b.closeCaptures()
		return fail(err)
	}

	b.engine.Start(runCtx)

	if b.cfg.UpstreamSerial != nil {
		t := serialport.New(b.logger, *b.cfg.UpstreamSerial, transport.Config{DefaultTimeout: 24 * time.Hour})
		if err := t.Open(runCtx); err != nil {
			b.teardown()
			return fail(err)
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			newSession(b, t, FramingRTU).run(runCtx)
		}()
	} else {
		l, err := tcp.Listen(b.logger, b.cfg.UpstreamTCPAddr, transport.Config{DefaultTimeout: 24 * time.Hour})
		if err != nil {
			b.teardown()
			return fail(err)
		}
		b.mu.Lock()
		b.listener = l
		b.mu.Unlock()
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				t, err := l.Accept(runCtx)
				if err != nil {
					return
				}
				b.wg.Add(1)
				go func() {
					defer b.wg.Done()
					newSession(b, t, FramingTCP).run(runCtx)
				}()
			}
		}()
	}

	b.publish(eventbus.KindLifecycle, map[string]any{"event": "started"})
	return nil
}

func (b *Bridge) openDownstream(ctx context.Context) error {
	var t transport.Transport
	if b.cfg.DownstreamSerial != nil {
		t = serialport.New(b.logger, *b.cfg.DownstreamSerial, transport.Config{DefaultTimeout: b.cfg.RequestTimeout})
	} else {
		t = tcp.NewClient(b.logger, b.cfg.DownstreamTCPAddr, transport.Config{DefaultTimeout: b.cfg.RequestTimeout})
	}
	if err := t.Open(ctx); err != nil {
		return err
	}
	b.downstream = t
	return nil
}

// Stop cancels every session, closes both transports and flushes the
// capture files. Scripts get their on_stop grace period before their
// background tasks are cancelled.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.engine.Stop(0)
	b.teardown()
	b.wg.Wait()
	b.publish(eventbus.KindLifecycle, map[string]any{"event": "stopped"})
}

func (b *Bridge) teardown() {
	b.mu.Lock()
	listener := b.listener
	b.listener = nil
	b.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if b.downstream != nil {
		b.downstream.Close()
	}
	b.closeCaptures()
}

func (b *Bridge) closeCaptures() {
	if b.captures != nil {
		b.captures.Close()
		b.captures = nil
	}
}

func (b *Bridge) publish(kind eventbus.Kind, payload any) {
	if b.events == nil {
		return
	}
	b.events.Publish(eventbus.Event{Kind: kind, Payload: payload})
}

func (b *Bridge) captureUpstream(dir pcap.Direction, framing Framing, raw []byte) {
	if b.captures == nil {
		return
	}
	b.captures.Upstream.WriteFrame(time.Now(), dir, framing.protocolHint(), raw)
}

func (b *Bridge) captureDownstream(dir pcap.Direction, raw []byte) {
	if b.captures == nil {
		return
	}
	b.captures.Downstream.WriteFrame(time.Now(), dir, b.cfg.downstreamFraming().protocolHint(), raw)
}

// relay runs one decoded upstream request through the hook pipeline and
// the downstream transport. respond is false when an ingress/egress hook
// dropped the request or the fault profile suppressed the reply.
func (b *Bridge) relay(ctx context.Context, unit uint8, reqPDU *frame.PDU) (resp *frame.PDU, respond bool) {
	if b.faults.ShouldDrop() {
		b.publish(eventbus.KindFaultInjected, map[string]any{"kind": "drop", "function": reqPDU.Function.String()})
		return nil, false
	}
	if lat := b.faults.Latency(); lat > 0 {
		select {
		case <-time.After(lat):
		case <-ctx.Done():
			return nil, false
		}
	}

	req := frame.ParseRequest(unit, reqPDU, nil)

	result := b.engine.Ingress(req)
	if pdu, done, drop := hookVerdict(reqPDU, result); done {
		return pdu, !drop
	}
	req = result.Request

	result = b.engine.Egress(req)
	if pdu, done, drop := hookVerdict(reqPDU, result); done {
		return pdu, !drop
	}
	req = result.Request

	respPDU, raw := b.forward(ctx, req)

	response := frame.ResponseFromPDU(req.UnitID, respPDU, raw)
	response = b.engine.Response(response)
	response = b.engine.UpstreamResponse(response)

	out := response.PDU()
	b.faults.BitFlip(out.Payload)
	return out, true
}

// hookVerdict translates a request-hook result into the pipeline's
// control flow: done=true short-circuits forwarding, drop=true means no
// upstream reply at all.
func hookVerdict(reqPDU *frame.PDU, r script.RequestHookResult) (pdu *frame.PDU, done, drop bool) {
	switch r.Outcome {
	case script.OutcomeDrop:
		return nil, true, true
	case script.OutcomeException:
		return frame.NewExceptionPDU(reqPDU.Function, r.Exception), true, false
	default:
		return nil, false, false
	}
}

// forward serializes on the downstream bus, converts framing, sends and
// awaits the reply. A timeout or transport failure becomes exception 0x0B
// so the master is never left hanging.
func (b *Bridge) forward(ctx context.Context, req *frame.Request) (*frame.PDU, []byte) {
	guard, err := b.coord.Acquire(ctx, bus.PriorityOperator)
	if err != nil {
		return frame.NewExceptionPDU(req.Function, frame.GatewayTargetDeviceFailedToRespond), nil
	}
	defer guard.Release()

	pdu := req.PDU()
	var wire []byte
	var downTxn uint16
	if b.cfg.downstreamFraming() == FramingTCP {
		downTxn = uint16(atomic.AddUint32(&b.txnSeq, 1))
		wire = frame.EncodeTCP(downTxn, req.UnitID, pdu.Function, pdu.Payload)
	} else {
		wire = frame.EncodeRTU(req.UnitID, pdu.Function, pdu.Payload)
	}

	if err := b.downstream.Send(ctx, wire); err != nil {
		b.publish(eventbus.KindError, &common.TransportError{Cause: err})
		return frame.NewExceptionPDU(req.Function, frame.GatewayTargetDeviceFailedToRespond), nil
	}
	b.captureDownstream(pcap.DirectionOutbound, wire)

	f, err := b.downstream.ReceiveFrame(ctx, b.cfg.RequestTimeout)
	if err != nil || f == nil || !f.Valid {
		if f != nil && len(f.Raw) > 0 {
			b.captureDownstream(pcap.DirectionInbound, f.Raw)
		}
		b.publish(eventbus.KindError, map[string]any{"event": "downstream timeout", "function": req.Function.String()})
		return frame.NewExceptionPDU(req.Function, frame.GatewayTargetDeviceFailedToRespond), nil
	}
	b.captureDownstream(pcap.DirectionInbound, f.Raw)

	switch d := f.Decoded.(type) {
	case *frame.RTUFrame:
		return d.PDU, f.Raw
	case *frame.TCPFrame:
		if d.TransactionID != downTxn {
			b.logger.Debug("downstream transaction id mismatch",
				zap.Uint16("sent", downTxn), zap.Uint16("received", d.TransactionID))
		}
		return d.PDU, f.Raw
	default:
		return frame.NewExceptionPDU(req.Function, frame.GatewayTargetDeviceFailedToRespond), nil
	}
}
