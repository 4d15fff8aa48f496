package mockserver

import (
	"context"
	"time"

	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/faults"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/script"
	"go.uber.org/zap"
)

// Dispatcher runs each decoded request through the server pipeline:
// fault drop, latency, rule lookup, store read/write, script hooks and
// payload bit-flipping, keyed on frame.DataType rather than one handler
// method per table.
type Dispatcher struct {
	logger *zap.Logger
	store  *Store
	rules  *RuleTable
	faults *faults.Injector
	events *eventbus.Bus
	hook   *script.ServerEngine
	unit   uint8
}

// NewDispatcher builds a dispatcher for one server unit id.
func NewDispatcher(logger *zap.Logger, unit uint8, store *Store, rules *RuleTable, faults *faults.Injector, events *eventbus.Bus) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger, unit: unit, store: store, rules: rules, faults: faults, events: events}
}

// SetScriptEngine installs or clears the script engine feeding the
// on_request/on_write/on_response hook points.
func (d *Dispatcher) SetScriptEngine(e *script.ServerEngine) { d.hook = e }

func (d *Dispatcher) publish(kind eventbus.Kind, payload any) {
	if d.events == nil {
		return
	}
	d.events.Publish(eventbus.Event{Kind: kind, Payload: payload})
}

// Dispatch runs one request through the pipeline. respond is false when
// the fault profile dropped the request (step 1): the caller must send
// nothing back.
func (d *Dispatcher) Dispatch(ctx context.Context, req *frame.PDU) (resp *frame.PDU, respond bool) {
	// Step 1: drop.
	if d.faults.ShouldDrop() {
		d.publish(eventbus.KindFaultInjected, map[string]any{"kind": "drop", "function": req.Function.String()})
		return nil, false
	}

	// Step 2: latency.
	if lat := d.faults.Latency(); lat > 0 {
		select {
		case <-time.After(lat):
		case <-ctx.Done():
			return nil, false
		}
	}

	dt, start, count, writeValues, writeBits, isWrite, err := decodeRequest(req)
	if err != nil {
		resp = frame.NewExceptionPDU(req.Function, frame.IllegalFunction)
		return d.finish(ctx, req, resp)
	}

	// on_request: a script may rewrite address/quantity/values before the
	// rule/store pipeline sees them.
	if d.hook != nil {
		genReq := &frame.Request{UnitID: d.unit, Function: req.Function, Address: start, Quantity: count, Values: writeValues, Bits: writeBits, Payload: req.Payload}
		genReq = d.hook.Request(genReq)
		start, count, writeValues, writeBits = genReq.Address, genReq.Quantity, genReq.Values, genReq.Bits
	}

	// Step 3: per-address rule. An exception rule skips the store, the
	// forced-exception fault and the response hook; only bit-flip applies.
	if code, ok := d.ruleException(dt, start, count); ok {
		resp = frame.NewExceptionPDU(req.Function, code)
		d.faults.BitFlip(resp.Payload)
		d.publish(eventbus.KindResponse, map[string]any{"unit": d.unit, "function": resp.Function.String()})
		return resp, true
	}

	if isWrite {
		resp = d.dispatchWrite(req, dt, start, writeValues, writeBits)
		d.notifyWrite(resp, dt, start, writeValues, writeBits)
	} else {
		resp = d.dispatchRead(req, dt, start, count)
	}

	if forced, ok := d.faults.ForcedException(); ok {
		resp = frame.NewExceptionPDU(req.Function, frame.ExceptionCode(forced))
	}

	return d.finish(ctx, req, resp)
}

func (d *Dispatcher) finish(ctx context.Context, req, resp *frame.PDU) (*frame.PDU, bool) {
	// Step 6: script hook may mutate or replace the response.
	if d.hook != nil {
		genResp := frame.ResponseFromPDU(d.unit, resp, nil)
		genResp = d.hook.Response(genResp)
		resp = genResp.PDU()
	}
	// Step 7: bit-flip the outgoing payload.
	d.faults.BitFlip(resp.Payload)
	d.publish(eventbus.KindResponse, map[string]any{"unit": d.unit, "function": resp.Function.String()})
	return resp, true
}

// notifyWrite fires on_write once per address of a write that did not
// come back as an exception (nothing was applied to the store in that
// case). It reports the requested value, also for addresses whose
// frozen-value or ignore-write rule kept the store unchanged.
func (d *Dispatcher) notifyWrite(resp *frame.PDU, dt frame.DataType, start uint16, values []uint16, bits []bool) {
	if d.hook == nil {
		return
	}
	if _, isExc := resp.AsException(); isExc {
		return
	}
	if dt.IsBit() {
		for i, v := range bits {
			val := uint16(0)
			if v {
				val = 1
			}
			d.hook.Write(d.unit, start+uint16(i), val)
		}
		return
	}
	for i, v := range values {
		d.hook.Write(d.unit, start+uint16(i), v)
	}
}

// ruleException reports whether any address in [start, start+count)
// carries an exception rule; the first one found wins.
func (d *Dispatcher) ruleException(dt frame.DataType, start, count uint16) (frame.ExceptionCode, bool) {
	for i := uint16(0); i < count; i++ {
		if r, ok := d.rules.Lookup(RuleKey{Type: dt, Address: start + i}); ok && r.Mode == RuleException {
			return r.ExceptionCode, true
		}
	}
	return 0, false
}

// dispatchRead implements step 4: serve from the store, honoring
// frozen-value overrides, or IllegalDataAddress if uncovered.
func (d *Dispatcher) dispatchRead(req *frame.PDU, dt frame.DataType, start, count uint16) *frame.PDU {
	if !d.store.Covered(dt, start, count) {
		return frame.NewExceptionPDU(req.Function, frame.IllegalDataAddress)
	}

	if dt.IsBit() {
		bits := d.store.ReadBits(dt, start, count)
		for i := range bits {
			if r, ok := d.rules.Lookup(RuleKey{Type: dt, Address: start + uint16(i)}); ok && r.Mode == RuleFrozenValue {
				bits[i] = r.ForcedBit
			}
		}
		return &frame.PDU{Function: req.Function, Payload: frame.EncodeBitsResponse(bits)}
	}

	regs := d.store.ReadRegisters(dt, start, count)
	for i := range regs {
		if r, ok := d.rules.Lookup(RuleKey{Type: dt, Address: start + uint16(i)}); ok && r.Mode == RuleFrozenValue {
			regs[i] = r.ForcedValue
		}
	}
	return &frame.PDU{Function: req.Function, Payload: frame.EncodeRegistersResponse(regs)}
}

// dispatchWrite implements step 5: apply frozen-value/ignore-write
// suppression, then a normal success response; out-of-group writes
// return IllegalDataAddress.
func (d *Dispatcher) dispatchWrite(req *frame.PDU, dt frame.DataType, start uint16, values []uint16, bits []bool) *frame.PDU {
	count := uint16(len(values))
	if dt.IsBit() {
		count = uint16(len(bits))
	}
	if !d.store.Writable(dt, start, count) {
		return frame.NewExceptionPDU(req.Function, frame.IllegalDataAddress)
	}

	if dt.IsBit() {
		filtered := make([]bool, len(bits))
		current := d.store.ReadBits(dt, start, count)
		for i, v := range bits {
			if r, ok := d.rules.Lookup(RuleKey{Type: dt, Address: start + uint16(i)}); ok && (r.Mode == RuleFrozenValue || r.Mode == RuleIgnoreWrite) {
				filtered[i] = current[i]
				continue
			}
			filtered[i] = v
		}
		d.store.WriteBits(dt, start, filtered)
	} else {
		filtered := make([]uint16, len(values))
		current := d.store.ReadRegisters(dt, start, count)
		for i, v := range values {
			if r, ok := d.rules.Lookup(RuleKey{Type: dt, Address: start + uint16(i)}); ok && (r.Mode == RuleFrozenValue || r.Mode == RuleIgnoreWrite) {
				filtered[i] = current[i]
				continue
			}
			filtered[i] = v
		}
		d.store.WriteRegisters(dt, start, filtered)
	}

	return writeSuccessResponse(req, start, count, values, bits)
}
