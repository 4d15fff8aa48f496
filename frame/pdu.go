package frame

import "go.uber.org/zap/zapcore"

// FunctionCode is a Modbus function code byte. The high bit set marks an
// exception response for the corresponding request function.
type FunctionCode byte

const (
	ReadCoils              FunctionCode = 0x01
	ReadDiscreteInputs     FunctionCode = 0x02
	ReadHoldingRegisters   FunctionCode = 0x03
	ReadInputRegisters     FunctionCode = 0x04
	WriteSingleCoil        FunctionCode = 0x05
	WriteSingleRegister    FunctionCode = 0x06
	WriteMultipleCoils     FunctionCode = 0x0F
	WriteMultipleRegisters FunctionCode = 0x10
	ReadWriteMultiple      FunctionCode = 0x17
	ReadDeviceIdentity     FunctionCode = 0x2B
)

// IsException reports whether the high bit is set, i.e. this function
// code byte was read off an exception response.
func (f FunctionCode) IsException() bool { return f&0x80 != 0 }

// Exception returns the exception-response function code for request
// function f (high bit set); Request does the reverse, clearing it.
func (f FunctionCode) Exception() FunctionCode { return f | 0x80 }
func (f FunctionCode) Request() FunctionCode   { return f &^ 0x80 }

func (f FunctionCode) String() string {
	switch f.Request() {
	case ReadCoils:
		return "ReadCoils"
	case ReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case ReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case ReadInputRegisters:
		return "ReadInputRegisters"
	case WriteSingleCoil:
		return "WriteSingleCoil"
	case WriteSingleRegister:
		return "WriteSingleRegister"
	case WriteMultipleCoils:
		return "WriteMultipleCoils"
	case WriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case ReadWriteMultiple:
		return "ReadWriteMultipleRegisters"
	case ReadDeviceIdentity:
		return "ReadDeviceIdentity"
	default:
		return "Unknown"
	}
}

// knownFixedRequestLength holds the ADU-independent PDU length (function byte +
// payload) for function codes whose request frame has a fixed size. Used
// by the RTU transport and the heuristic reassembler to predict a frame
// boundary without waiting on silence.
var knownFixedRequestLength = map[FunctionCode]int{
	ReadCoils:            5,
	ReadDiscreteInputs:   5,
	ReadHoldingRegisters: 5,
	ReadInputRegisters:   5,
	WriteSingleCoil:      5,
	WriteSingleRegister:  5,
}

// ExceptionCode is the single payload byte of an exception response.
type ExceptionCode byte

const (
	IllegalFunction                    ExceptionCode = 0x01
	IllegalDataAddress                 ExceptionCode = 0x02
	IllegalDataValue                   ExceptionCode = 0x03
	ServerDeviceFailure                ExceptionCode = 0x04
	Acknowledge                        ExceptionCode = 0x05
	ServerDeviceBusy                   ExceptionCode = 0x06
	MemoryParityError                  ExceptionCode = 0x08
	GatewayPathUnavailable             ExceptionCode = 0x0A
	GatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

func (e ExceptionCode) String() string {
	switch e {
	case IllegalFunction:
		return "IllegalFunction"
	case IllegalDataAddress:
		return "IllegalDataAddress"
	case IllegalDataValue:
		return "IllegalDataValue"
	case ServerDeviceFailure:
		return "ServerDeviceFailure"
	case Acknowledge:
		return "Acknowledge"
	case ServerDeviceBusy:
		return "ServerDeviceBusy"
	case MemoryParityError:
		return "MemoryParityError"
	case GatewayPathUnavailable:
		return "GatewayPathUnavailable"
	case GatewayTargetDeviceFailedToRespond:
		return "GatewayTargetDeviceFailedToRespond"
	default:
		return "Unknown"
	}
}

// PDU is the protocol data unit: function code plus payload, medium
// independent per the Modbus spec.
type PDU struct {
	Function FunctionCode
	Payload  []byte
}

func (p *PDU) Bytes() []byte {
	data := make([]byte, 1+len(p.Payload))
	data[0] = byte(p.Function)
	copy(data[1:], p.Payload)
	return data
}

func (p *PDU) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("function", p.Function.String())
	enc.AddInt("payloadLen", len(p.Payload))
	return nil
}

// PDUFromBytes parses function code + payload from a buffer. Requires at
// least a function byte; zero-length payloads (unusual but not invalid at
// this layer) are accepted.
func PDUFromBytes(data []byte) (*PDU, error) {
	if len(data) < 1 {
		return nil, ErrShortPDU
	}
	return &PDU{Function: FunctionCode(data[0]), Payload: append([]byte(nil), data[1:]...)}, nil
}
