package frame

// NewExceptionPDU builds the PDU for an exception response to the given
// request function code: high bit set, single exception-code payload byte.
func NewExceptionPDU(requestFunction FunctionCode, code ExceptionCode) *PDU {
	return &PDU{
		Function: requestFunction.Exception(),
		Payload:  []byte{byte(code)},
	}
}

// AsException reports whether p is an exception response and, if so,
// its exception code.
func (p *PDU) AsException() (ExceptionCode, bool) {
	if !p.Function.IsException() || len(p.Payload) < 1 {
		return 0, false
	}
	return ExceptionCode(p.Payload[0]), true
}
