package client

import (
	"context"
	"errors"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/frame"
)

// ScanResult is one observed address/value pair from Scan.
type ScanResult struct {
	Address uint16
	Bit     bool
	Value   uint16
	IsBit   bool
}

// Scan iterates [start, end) in batches of up to MaxRegistersPerRequest,
// logging successful reads and silently ignoring IllegalDataAddress
// exceptions; every other failure surfaces.
func (c *Client) Scan(ctx context.Context, unit uint8, dt frame.DataType, start, end uint16) ([]ScanResult, error) {
	var results []ScanResult
	addr := start
	for addr < end {
		batch := end - addr
		if batch > MaxRegistersPerRequest {
			batch = MaxRegistersPerRequest
		}
		res, err := c.Read(ctx, ReadParams{Unit: unit, Type: dt, Address: addr, Count: batch})
		if err != nil {
			var mex *common.ModbusException
			if errors.As(err, &mex) && frame.ExceptionCode(mex.Code) == frame.IllegalDataAddress {
				addr += batch
				continue
			}
			return results, err
		}
		if dt.IsBit() {
			for i, v := range res.Bits {
				results = append(results, ScanResult{Address: addr + uint16(i), Bit: v, IsBit: true})
			}
		} else {
			for i, v := range res.Registers {
				results = append(results, ScanResult{Address: addr + uint16(i), Value: v})
			}
		}
		addr += batch
	}
	return results, nil
}
