package mockserver

import "github.com/kbralten/umdt/frame"

// decodeRequest maps a request PDU onto the generic (data_type, address,
// count) shape the dispatcher's rule/store logic works with, plus the
// write payload when applicable. err is non-nil only for a function code
// or payload shape the server doesn't serve.
func decodeRequest(req *frame.PDU) (dt frame.DataType, start, count uint16, values []uint16, bits []bool, isWrite bool, err error) {
	switch req.Function {
	case frame.ReadCoils:
		start, count, err = frame.DecodeReadRequest(req.Payload)
		return frame.Coil, start, count, nil, nil, false, err
	case frame.ReadDiscreteInputs:
		start, count, err = frame.DecodeReadRequest(req.Payload)
		return frame.DiscreteInput, start, count, nil, nil, false, err
	case frame.ReadHoldingRegisters:
		start, count, err = frame.DecodeReadRequest(req.Payload)
		return frame.HoldingRegister, start, count, nil, nil, false, err
	case frame.ReadInputRegisters:
		start, count, err = frame.DecodeReadRequest(req.Payload)
		return frame.InputRegister, start, count, nil, nil, false, err
	case frame.WriteSingleCoil:
		var v bool
		start, v, err = frame.DecodeWriteSingleCoil(req.Payload)
		return frame.Coil, start, 1, nil, []bool{v}, true, err
	case frame.WriteSingleRegister:
		var v uint16
		start, v, err = frame.DecodeWriteSingleRegister(req.Payload)
		return frame.HoldingRegister, start, 1, []uint16{v}, nil, true, err
	case frame.WriteMultipleCoils:
		start, bits, err = frame.DecodeWriteMultipleCoils(req.Payload)
		return frame.Coil, start, uint16(len(bits)), nil, bits, true, err
	case frame.WriteMultipleRegisters:
		start, values, err = frame.DecodeWriteMultipleRegisters(req.Payload)
		return frame.HoldingRegister, start, uint16(len(values)), values, nil, true, err
	default:
		return 0, 0, 0, nil, nil, false, frame.ErrShortPDU
	}
}

// writeSuccessResponse builds the echo-back response a successful write
// returns: single-coil/register echo the request payload, multi-writes
// echo (start, count).
func writeSuccessResponse(req *frame.PDU, start, count uint16, values []uint16, bits []bool) *frame.PDU {
	switch req.Function {
	case frame.WriteSingleCoil:
		return &frame.PDU{Function: req.Function, Payload: frame.EncodeWriteSingleCoil(start, bits[0])}
	case frame.WriteSingleRegister:
		return &frame.PDU{Function: req.Function, Payload: frame.EncodeWriteSingleRegister(start, values[0])}
	default:
		return &frame.PDU{Function: req.Function, Payload: frame.EncodeWriteMultipleResponse(start, count)}
	}
}
