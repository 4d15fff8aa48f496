package client

import (
	"context"
	"testing"
	"time"

	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(ft *fakeTransport) *Client {
	return New(nil, ft, ModeRTU, nil, nil, 50*time.Millisecond)
}

func TestReadHoldingRegisters(t *testing.T) {
	ft := newFakeTransport()
	ft.queueRTUResponse(1, frame.ReadHoldingRegisters, frame.EncodeRegistersResponse([]uint16{0x1234, 0xABCD}))
	c := newTestClient(ft)

	res, err := c.Read(context.Background(), ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234, 0xABCD}, res.Registers)
	require.Len(t, ft.sent, 1)
}

func TestReadCoils(t *testing.T) {
	ft := newFakeTransport()
	ft.queueRTUResponse(1, frame.ReadCoils, frame.EncodeBitsResponse([]bool{true, false, true}))
	c := newTestClient(ft)

	res, err := c.Read(context.Background(), ReadParams{Unit: 1, Type: frame.Coil, Address: 0, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, res.Bits)
}

func TestReadLongEndianAll(t *testing.T) {
	ft := newFakeTransport()
	ft.queueRTUResponse(1, frame.ReadHoldingRegisters, frame.EncodeRegistersResponse([]uint16{0x4148, 0xF5C3}))
	c := newTestClient(ft)

	res, err := c.Read(context.Background(), ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 1, Long: true, Endian: All32})
	require.NoError(t, err)
	require.Len(t, res.Values32, 1)
	assert.Len(t, res.Values32[0], 4)
}

func TestReadRejectsOversizeRequest(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(ft)

	_, err := c.Read(context.Background(), ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 200})
	require.Error(t, err)
}

func TestReadSurfacesModbusException(t *testing.T) {
	ft := newFakeTransport()
	excPDU := frame.NewExceptionPDU(frame.ReadHoldingRegisters, frame.IllegalDataAddress)
	raw := frame.EncodeRTU(1, excPDU.Function, excPDU.Payload)
	decoded, err := frame.DecodeRTU(raw)
	require.NoError(t, err)
	ft.responses = append(ft.responses, &transport.Frame{Raw: raw, Decoded: decoded, Valid: decoded.Valid})

	c := newTestClient(ft)
	_, err = c.Read(context.Background(), ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 1})
	require.Error(t, err)
}
