package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTCP(t *testing.T) {
	raw := EncodeTCP(42, 1, ReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x0A})
	f, err := DecodeTCP(raw)
	require.NoError(t, err)
	assert.True(t, f.Valid)
	assert.Equal(t, uint16(42), f.TransactionID)
	assert.Equal(t, uint8(1), f.UnitID)
	assert.Equal(t, ReadHoldingRegisters, f.PDU.Function)
}

func TestExpectedBodyLength(t *testing.T) {
	raw := EncodeTCP(1, 1, ReadHoldingRegisters, []byte{0, 0, 0, 10})
	n, err := ExpectedBodyLength(raw[:MBAPHeaderLength])
	require.NoError(t, err)
	assert.Equal(t, len(raw)-MBAPHeaderLength, n)
}
