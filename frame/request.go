package frame

// Request is the medium-independent Modbus request entity:
// unit id, function code, start address and quantity (or a values
// payload for writes), plus the raw PDU bytes that produced it. It gives
// hooks (script engine, bridge pipeline) a structured view to inspect or
// rewrite (an address-remap hook, for instance) without
// forcing them to hand-roll PDU byte surgery.
type Request struct {
	UnitID   uint8
	Function FunctionCode
	Address  uint16
	Quantity uint16
	Values   []uint16
	Bits     []bool
	// Payload is the original PDU payload, kept as a fallback for
	// function codes this package doesn't decode structurally (23, 43):
	// hooks that don't touch Address/Quantity/Values/Bits get it back
	// unchanged via PDU().
	Payload []byte
	Raw     []byte
}

// ParseRequest decodes a PDU's payload into the structured Request
// fields for the function-code subset scopes in. Unrecognized
// function codes still produce a Request — Payload carries the raw bytes
// through untouched.
func ParseRequest(unit uint8, pdu *PDU, raw []byte) *Request {
	r := &Request{UnitID: unit, Function: pdu.Function, Payload: pdu.Payload, Raw: raw}
	switch pdu.Function {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		if start, qty, err := DecodeReadRequest(pdu.Payload); err == nil {
			r.Address, r.Quantity = start, qty
		}
	case WriteSingleCoil:
		if addr, v, err := DecodeWriteSingleCoil(pdu.Payload); err == nil {
			r.Address, r.Quantity = addr, 1
			r.Bits = []bool{v}
		}
	case WriteSingleRegister:
		if addr, v, err := DecodeWriteSingleRegister(pdu.Payload); err == nil {
			r.Address, r.Quantity = addr, 1
			r.Values = []uint16{v}
		}
	case WriteMultipleCoils:
		if start, bits, err := DecodeWriteMultipleCoils(pdu.Payload); err == nil {
			r.Address, r.Quantity = start, uint16(len(bits))
			r.Bits = bits
		}
	case WriteMultipleRegisters:
		if start, values, err := DecodeWriteMultipleRegisters(pdu.Payload); err == nil {
			r.Address, r.Quantity = start, uint16(len(values))
			r.Values = values
		}
	}
	return r
}

// PDU re-encodes the request's structured fields back into wire payload
// bytes. For function codes ParseRequest didn't structurally decode, the
// original Payload is returned unchanged.
func (r *Request) PDU() *PDU {
	switch r.Function {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		return &PDU{Function: r.Function, Payload: EncodeReadRequest(r.Address, r.Quantity)}
	case WriteSingleCoil:
		v := len(r.Bits) > 0 && r.Bits[0]
		return &PDU{Function: r.Function, Payload: EncodeWriteSingleCoil(r.Address, v)}
	case WriteSingleRegister:
		var v uint16
		if len(r.Values) > 0 {
			v = r.Values[0]
		}
		return &PDU{Function: r.Function, Payload: EncodeWriteSingleRegister(r.Address, v)}
	case WriteMultipleCoils:
		return &PDU{Function: r.Function, Payload: EncodeWriteMultipleCoils(r.Address, r.Bits)}
	case WriteMultipleRegisters:
		return &PDU{Function: r.Function, Payload: EncodeWriteMultipleRegisters(r.Address, r.Values)}
	default:
		return &PDU{Function: r.Function, Payload: r.Payload}
	}
}

// Response is the medium-independent Modbus response entity
type Response struct {
	UnitID        uint8
	Function      FunctionCode
	Payload       []byte
	IsException   bool
	ExceptionCode ExceptionCode
	Raw           []byte
}

// ResponseFromPDU builds a Response view over a decoded PDU.
func ResponseFromPDU(unit uint8, pdu *PDU, raw []byte) *Response {
	r := &Response{UnitID: unit, Function: pdu.Function, Payload: pdu.Payload, Raw: raw}
	if code, ok := pdu.AsException(); ok {
		r.IsException = true
		r.ExceptionCode = code
	}
	return r
}

// PDU re-encodes the response back into a wire PDU.
func (r *Response) PDU() *PDU {
	if r.IsException {
		return NewExceptionPDU(r.Function.Request(), r.ExceptionCode)
	}
	return &PDU{Function: r.Function, Payload: r.Payload}
}
