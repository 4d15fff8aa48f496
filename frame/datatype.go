package frame

// DataType is one of the four Modbus addressable entities.
type DataType int

const (
	Coil DataType = iota
	DiscreteInput
	HoldingRegister
	InputRegister
)

func (d DataType) String() string {
	switch d {
	case Coil:
		return "coil"
	case DiscreteInput:
		return "discrete"
	case HoldingRegister:
		return "holding"
	case InputRegister:
		return "input"
	default:
		return "unknown"
	}
}

func (d DataType) Writable() bool { return d == Coil || d == HoldingRegister }
func (d DataType) IsBit() bool    { return d == Coil || d == DiscreteInput }

// FunctionForRead returns the read function code for dt.
func FunctionForRead(dt DataType) FunctionCode {
	switch dt {
	case Coil:
		return ReadCoils
	case DiscreteInput:
		return ReadDiscreteInputs
	case InputRegister:
		return ReadInputRegisters
	default:
		return ReadHoldingRegisters
	}
}
