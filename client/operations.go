package client

import (
	"context"
	"fmt"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/frame"
)

// MaxRegistersPerRequest is the Modbus protocol limit enforced on every
// read/write of registers.
const MaxRegistersPerRequest = 125

// ReadResult is the output of Read: the raw logical values plus, for
// registers, every numeric interpretation calls for.
type ReadResult struct {
	Bits      []bool
	Registers []uint16
	// Values32 is populated when long is requested, Values16 otherwise;
	// each gives the per-logical-value decode (endian=all yields 4 rows
	// per value in Values32).
	Values32 [][]Numeric32
	Values16 [][]Numeric16
	RawBytes []byte
}

// ReadParams bundles the read() operation's inputs.
type ReadParams struct {
	Unit    uint8
	Type    frame.DataType
	Address uint16
	Count   uint16 // logical value count
	Long    bool   // each logical value spans 2 registers
	Endian  Endian32
	Endian16 Endian16
}

// Read implements the client `read` operation.
func (c *Client) Read(ctx context.Context, p ReadParams) (*ReadResult, error) {
	regCount := p.Count
	if p.Long {
		regCount = p.Count * 2
	}
	if p.Type.IsBit() {
		regCount = p.Count
	}
	if regCount == 0 || regCount > MaxRegistersPerRequest {
		return nil, fmt.Errorf("%w: quantity %d exceeds %d register limit", common.ErrInvalidArgument, regCount, MaxRegistersPerRequest)
	}

	function := frame.FunctionForRead(p.Type)
	pdu, err := c.transact(ctx, p.Unit, function, frame.EncodeReadRequest(p.Address, regCount))
	if err != nil {
		return nil, err
	}

	if p.Type.IsBit() {
		bits, err := frame.DecodeBitsResponse(pdu.Payload, int(p.Count))
		if err != nil {
			return nil, &common.FrameError{Reason: common.FrameReasonTruncated, RawBytes: pdu.Payload, Cause: err}
		}
		return &ReadResult{Bits: bits, RawBytes: pdu.Payload}, nil
	}

	registers, err := frame.DecodeRegistersResponse(pdu.Payload)
	if err != nil {
		return nil, &common.FrameError{Reason: common.FrameReasonTruncated, RawBytes: pdu.Payload, Cause: err}
	}
	result := &ReadResult{Registers: registers, RawBytes: pdu.Payload}

	if p.Long {
		for i := 0; i+1 < len(registers); i += 2 {
			if p.Endian == All32 {
				result.Values32 = append(result.Values32, DecodeAll32(registers[i], registers[i+1]))
			} else {
				result.Values32 = append(result.Values32, []Numeric32{decode32(registers[i], registers[i+1], p.Endian)})
			}
		}
	} else {
		mode := p.Endian16
		if mode == "" {
			mode = Big16
		}
		for _, r := range registers {
			result.Values16 = append(result.Values16, []Numeric16{decode16(r, mode)})
		}
	}
	return result, nil
}
