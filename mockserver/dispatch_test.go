package mockserver

import (
	"context"
	"testing"

	"github.com/kbralten/umdt/faults"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store := NewStore()
	require.NoError(t, store.AddGroup(RegisterGroup{Type: frame.HoldingRegister, Start: 0, Length: 20, Writable: true}, make([]uint16, 20), nil))
	rules := NewRuleTable()
	faults := faults.NewInjector(1)
	return NewDispatcher(nil, 1, store, rules, faults, nil)
}

func TestDispatchReadUncoveredAddressIsIllegalDataAddress(t *testing.T) {
	d := newTestDispatcher(t)
	req := &frame.PDU{Function: frame.ReadHoldingRegisters, Payload: frame.EncodeReadRequest(9999, 1)}
	resp, respond := d.Dispatch(context.Background(), req)
	require.True(t, respond)
	code, isExc := resp.AsException()
	require.True(t, isExc)
	assert.Equal(t, frame.IllegalDataAddress, code)
}

func TestDispatchFrozenValueRule(t *testing.T) {
	// frozen-value(1234) at holding register 10: a write of 9999
	// succeeds but a subsequent read still returns 1234.
	d := newTestDispatcher(t)
	d.rules.Add(RuleKey{Type: frame.HoldingRegister, Address: 10}, Rule{Mode: RuleFrozenValue, ForcedValue: 1234})

	writeReq := &frame.PDU{Function: frame.WriteSingleRegister, Payload: frame.EncodeWriteSingleRegister(10, 9999)}
	writeResp, respond := d.Dispatch(context.Background(), writeReq)
	require.True(t, respond)
	_, isExc := writeResp.AsException()
	assert.False(t, isExc)

	readReq := &frame.PDU{Function: frame.ReadHoldingRegisters, Payload: frame.EncodeReadRequest(10, 1)}
	readResp, respond := d.Dispatch(context.Background(), readReq)
	require.True(t, respond)
	values, err := frame.DecodeRegistersResponse(readResp.Payload)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1234}, values)
}

func TestDispatchDropSuppressesResponse(t *testing.T) {
	d := newTestDispatcher(t)
	d.faults.Update(faults.Profile{DropRate: 1.0})

	req := &frame.PDU{Function: frame.ReadHoldingRegisters, Payload: frame.EncodeReadRequest(0, 1)}
	resp, respond := d.Dispatch(context.Background(), req)
	assert.False(t, respond)
	assert.Nil(t, resp)
}

func TestDispatchScriptEngineRewritesRequestAddress(t *testing.T) {
	d := newTestDispatcher(t)
	e := script.NewServerEngine(nil, nil, nil)
	e.SetHooks(&script.ServerHooks{
		OnRequest: func(c *script.Context, req *frame.Request) *frame.Request {
			req.Address -= 1000
			return req
		},
	})
	d.SetScriptEngine(e)

	req := &frame.PDU{Function: frame.ReadHoldingRegisters, Payload: frame.EncodeReadRequest(1010, 1)}
	resp, respond := d.Dispatch(context.Background(), req)
	require.True(t, respond)
	_, isExc := resp.AsException()
	assert.False(t, isExc, "address 1010-1000=10 is covered by the test group")
}

func TestDispatchScriptEngineOnWriteObservesValue(t *testing.T) {
	d := newTestDispatcher(t)
	e := script.NewServerEngine(nil, nil, nil)
	var gotUnit uint8
	var gotAddr, gotVal uint16
	e.SetHooks(&script.ServerHooks{
		OnWrite: func(c *script.Context, unit uint8, address, value uint16) {
			gotUnit, gotAddr, gotVal = unit, address, value
		},
	})
	d.SetScriptEngine(e)

	req := &frame.PDU{Function: frame.WriteSingleRegister, Payload: frame.EncodeWriteSingleRegister(5, 42)}
	_, respond := d.Dispatch(context.Background(), req)
	require.True(t, respond)
	assert.Equal(t, uint8(1), gotUnit)
	assert.EqualValues(t, 5, gotAddr)
	assert.EqualValues(t, 42, gotVal)
}

func TestDispatchWriteOutsideWritableGroupIsIllegalDataAddress(t *testing.T) {
	d := newTestDispatcher(t)
	req := &frame.PDU{Function: frame.WriteSingleRegister, Payload: frame.EncodeWriteSingleRegister(9999, 1)}
	resp, respond := d.Dispatch(context.Background(), req)
	require.True(t, respond)
	code, isExc := resp.AsException()
	require.True(t, isExc)
	assert.Equal(t, frame.IllegalDataAddress, code)
}
