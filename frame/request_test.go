package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestAddressRemapRoundTrip(t *testing.T) {
	// An address-remap hook rewrites FC=03 address 41000 down to 40000.
	pdu := &PDU{Function: ReadHoldingRegisters, Payload: EncodeReadRequest(41000, 1)}
	req := ParseRequest(1, pdu, nil)
	assert.EqualValues(t, 41000, req.Address)
	assert.EqualValues(t, 1, req.Quantity)

	req.Address -= 1000
	rewritten := req.PDU()
	start, qty, err := DecodeReadRequest(rewritten.Payload)
	assert.NoError(t, err)
	assert.EqualValues(t, 40000, start)
	assert.EqualValues(t, 1, qty)
}

func TestRequestWriteSingleRegisterRoundTrip(t *testing.T) {
	pdu := &PDU{Function: WriteSingleRegister, Payload: EncodeWriteSingleRegister(10, 1234)}
	req := ParseRequest(1, pdu, nil)
	assert.EqualValues(t, 10, req.Address)
	assert.Equal(t, []uint16{1234}, req.Values)

	out := req.PDU()
	addr, v, err := DecodeWriteSingleRegister(out.Payload)
	assert.NoError(t, err)
	assert.EqualValues(t, 10, addr)
	assert.EqualValues(t, 1234, v)
}

func TestResponseExceptionRoundTrip(t *testing.T) {
	pdu := NewExceptionPDU(ReadHoldingRegisters, IllegalDataAddress)
	resp := ResponseFromPDU(1, pdu, nil)
	assert.True(t, resp.IsException)
	assert.Equal(t, IllegalDataAddress, resp.ExceptionCode)

	out := resp.PDU()
	code, ok := out.AsException()
	assert.True(t, ok)
	assert.Equal(t, IllegalDataAddress, code)
}

func TestUnparsedFunctionPassesThroughPayload(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	pdu := &PDU{Function: ReadWriteMultiple, Payload: payload}
	req := ParseRequest(1, pdu, nil)
	assert.Equal(t, payload, req.PDU().Payload)
}
