package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAll32Permutations(t *testing.T) {
	rows := DecodeAll32(0x3F80, 0x0000) // 1.0f in big-endian register order
	require.Len(t, rows, 4)

	var big Numeric32
	for _, r := range rows {
		if r.Mode == Big32 {
			big = r
		}
	}
	assert.InDelta(t, float32(1.0), big.Float32, 0.0001)
}

func TestPermute32Orderings(t *testing.T) {
	b := Permute32(0x4142, 0x4344, Big32)
	assert.Equal(t, [4]byte{'A', 'B', 'C', 'D'}, b)

	l := Permute32(0x4142, 0x4344, Little32)
	assert.Equal(t, [4]byte{'D', 'C', 'B', 'A'}, l)

	mb := Permute32(0x4142, 0x4344, MidBig32)
	assert.Equal(t, [4]byte{'C', 'D', 'A', 'B'}, mb)

	ml := Permute32(0x4142, 0x4344, MidLittle32)
	assert.Equal(t, [4]byte{'B', 'A', 'D', 'C'}, ml)
}

func TestDecodeRegistersSingleAndPair(t *testing.T) {
	table := DecodeRegisters(0x1234, nil)
	require.Len(t, table.Sixteen, 2)
	require.Empty(t, table.ThirtyTwo)

	second := uint16(0x5678)
	table = DecodeRegisters(0x1234, &second)
	require.Len(t, table.ThirtyTwo, 4)
}

func TestFloat16RoundTrip(t *testing.T) {
	bits := float32ToFloat16(2.5)
	back := float16ToFloat32(bits)
	assert.InDelta(t, float32(2.5), back, 0.001)
}
