package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/kbralten/umdt/common"
)

// MBAPHeaderLength is the fixed 7-byte prefix on every Modbus TCP frame.
const MBAPHeaderLength = 7

// TCPFrame is a Modbus TCP ADU: MBAP header fields plus the PDU.
type TCPFrame struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        uint8
	PDU           *PDU
	Valid         bool
	Reason        common.FrameReason
	Raw           []byte
}

// EncodeTCP builds `txn_hi txn_lo 00 00 len_hi len_lo unit function payload`.
func EncodeTCP(txnID uint16, unit uint8, function FunctionCode, payload []byte) []byte {
	length := uint16(1 + 1 + len(payload))
	out := make([]byte, MBAPHeaderLength+1+len(payload))
	binary.BigEndian.PutUint16(out[0:2], txnID)
	binary.BigEndian.PutUint16(out[2:4], 0)
	binary.BigEndian.PutUint16(out[4:6], length)
	out[6] = unit
	out[7] = byte(function)
	copy(out[8:], payload)
	return out
}

// DecodeTCP parses a complete MBAP frame (header already known to be
// exactly 7 bytes, with `length-1` further bytes appended by the
// caller's reader). TCP frames carry no CRC. Two failures are captured
// rather than discarded: a frame too short to hold a function byte
// (reason truncated) and a non-zero MBAP protocol id (Valid=false,
// reason unknown_function).
func DecodeTCP(raw []byte) (*TCPFrame, error) {
	if len(raw) < MBAPHeaderLength+1 {
		return &TCPFrame{
			Raw:    append([]byte(nil), raw...),
			Valid:  false,
			Reason: common.FrameReasonTruncated,
		}, nil
	}
	txn := binary.BigEndian.Uint16(raw[0:2])
	proto := binary.BigEndian.Uint16(raw[2:4])
	unit := raw[6]
	pdu, err := PDUFromBytes(raw[7:])
	if err != nil {
		return &TCPFrame{
			Raw:    append([]byte(nil), raw...),
			Valid:  false,
			Reason: common.FrameReasonTruncated,
		}, nil
	}
	f := &TCPFrame{
		TransactionID: txn,
		ProtocolID:    proto,
		UnitID:        unit,
		PDU:           pdu,
		Valid:         true,
		Raw:           append([]byte(nil), raw...),
	}
	if proto != 0 {
		// Still captured, not discarded; the metadata is wrong but the
		// frame shape is intact.
		f.Valid = false
		f.Reason = common.FrameReasonUnknownFunction
	}
	return f, nil
}

// ExpectedBodyLength reads the MBAP length field out of a 7-byte header
// and returns how many more bytes the reader must collect: length - 1,
// since length counts the unit id (already read as the header's last
// byte) plus the PDU.
func ExpectedBodyLength(header []byte) (int, error) {
	if len(header) < MBAPHeaderLength {
		return 0, ErrShortFrame
	}
	length := binary.BigEndian.Uint16(header[4:6])
	if length < 1 {
		return 0, fmt.Errorf("frame: mbap length field %d too small", length)
	}
	// length includes the unit id byte (already part of the 7-byte
	// header); the remaining bytes are the PDU.
	return int(length) - 1, nil
}

func (f *TCPFrame) String() string {
	return fmt.Sprintf("TCP(txn=%d unit=%d func=%s valid=%v)", f.TransactionID, f.UnitID, f.PDU.Function, f.Valid)
}
