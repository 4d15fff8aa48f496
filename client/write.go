package client

import (
	"context"
	"fmt"
	"math"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/frame"
)

// WriteParams bundles the write() operation's inputs.
type WriteParams struct {
	Unit    uint8
	Type    frame.DataType
	Address uint16
	// Exactly one of the following is populated depending on Type/Long/Float.
	Bools    []bool
	Uint16s  []uint16
	Long     bool
	Float    bool
	Signed   bool
	Endian   Endian32
	Endian16 Endian16
}

// PreflightSummary is emitted on the event bus before the frame is
// sent, so an operator can sanity-check the encoding a write is about to
// put on the wire.
type PreflightSummary struct {
	AddressIndex  uint16
	BytesPerValue int
	Interpretation string
}

// Write implements the client `write` operation.
func (c *Client) Write(ctx context.Context, p WriteParams) error {
	if p.Type.IsBit() {
		return c.writeBits(ctx, p)
	}
	return c.writeRegisters(ctx, p)
}

func (c *Client) writeBits(ctx context.Context, p WriteParams) error {
	if !p.Type.Writable() {
		return fmt.Errorf("%w: data type %s is read-only", common.ErrInvalidArgument, p.Type)
	}
	if len(p.Bools) == 0 {
		return fmt.Errorf("%w: no values supplied", common.ErrInvalidArgument)
	}
	c.publish(eventKindPreflight, PreflightSummary{AddressIndex: p.Address, BytesPerValue: 1, Interpretation: "bool"})

	if len(p.Bools) == 1 {
		_, err := c.transact(ctx, p.Unit, frame.WriteSingleCoil, frame.EncodeWriteSingleCoil(p.Address, p.Bools[0]))
		return err
	}
	_, err := c.transact(ctx, p.Unit, frame.WriteMultipleCoils, frame.EncodeWriteMultipleCoils(p.Address, p.Bools))
	return err
}

func (c *Client) writeRegisters(ctx context.Context, p WriteParams) error {
	if !p.Type.Writable() {
		return fmt.Errorf("%w: data type %s is read-only", common.ErrInvalidArgument, p.Type)
	}

	values := p.Uint16s
	interpretation := "uint16"
	bytesPer := 2

	if p.Signed {
		interpretation = "int16"
	}
	if p.Long {
		bytesPer = 4
		interpretation = "int32/uint32"
		if p.Float {
			interpretation = "float32"
		}
	} else if p.Float {
		interpretation = "float16"
	}

	if len(values) == 0 {
		return fmt.Errorf("%w: no values supplied", common.ErrInvalidArgument)
	}
	c.publish(eventKindPreflight, PreflightSummary{AddressIndex: p.Address, BytesPerValue: bytesPer, Interpretation: interpretation})

	if len(values) == 1 && !p.Long {
		_, err := c.transact(ctx, p.Unit, frame.WriteSingleRegister, frame.EncodeWriteSingleRegister(p.Address, values[0]))
		return err
	}
	_, err := c.transact(ctx, p.Unit, frame.WriteMultipleRegisters, frame.EncodeWriteMultipleRegisters(p.Address, values))
	return err
}

// NormalizeInteger validates v against the bounds of the target register
// width and packs it into wire values. A negative input implies signed;
// the returned signed flag reflects that. Out-of-range values fail with
// ErrInvalidArgument instead of silently wrapping into the registers.
func NormalizeInteger(v int64, long, signed bool) (values []uint16, signedOut bool, err error) {
	if v < 0 {
		signed = true
	}
	var lo, hi int64
	switch {
	case long && signed:
		lo, hi = math.MinInt32, math.MaxInt32
	case long:
		lo, hi = 0, math.MaxUint32
	case signed:
		lo, hi = math.MinInt16, math.MaxInt16
	default:
		lo, hi = 0, math.MaxUint16
	}
	if v < lo || v > hi {
		return nil, signed, fmt.Errorf("%w: value %d outside [%d, %d]", common.ErrInvalidArgument, v, lo, hi)
	}
	if long {
		u := uint32(v)
		return []uint16{uint16(u >> 16), uint16(u)}, signed, nil
	}
	return []uint16{uint16(v)}, signed, nil
}

// EncodeFloat32Registers packs a float32 into the two 16-bit registers
// ordered per endian, ready for a multi-register write.
func EncodeFloat32Registers(f float32, endian Endian32) [2]uint16 {
	bits := math.Float32bits(f)
	b := [4]byte{byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits)}
	// b is ABCD; reorder per endian, then split back into two registers.
	var out [4]byte
	switch endian {
	case Little32:
		out = [4]byte{b[3], b[2], b[1], b[0]}
	case MidBig32:
		out = [4]byte{b[2], b[3], b[0], b[1]}
	case MidLittle32:
		out = [4]byte{b[1], b[0], b[3], b[2]}
	default:
		out = b
	}
	return [2]uint16{uint16(out[0])<<8 | uint16(out[1]), uint16(out[2])<<8 | uint16(out[3])}
}

// EncodeFloat16Register packs a float32 into the single register a
// Float16 write occupies.
func EncodeFloat16Register(f float32) uint16 {
	return float32ToFloat16(f)
}

