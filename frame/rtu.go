package frame

import (
	"fmt"

	"github.com/kbralten/umdt/common"
)

// RTUFrame is a serial Modbus ADU: unit id, PDU and trailing CRC. Valid is
// false for frames the codec still captured despite a checksum mismatch
// or truncation — permissive decode never silently drops bytes.
type RTUFrame struct {
	UnitID uint8
	PDU    *PDU
	CRC    uint16
	Valid  bool
	Reason common.FrameReason
	Raw    []byte
}

// EncodeRTU builds `unit || function || payload || crc_lo || crc_hi`.
func EncodeRTU(unit uint8, function FunctionCode, payload []byte) []byte {
	body := make([]byte, 2+len(payload))
	body[0] = unit
	body[1] = byte(function)
	copy(body[2:], payload)
	return AppendCRC(body)
}

// DecodeRTU performs the permissive RTU decode: if
// the buffer is at least 4 bytes it always returns a frame, with Valid
// reflecting whether the trailing CRC matched.
func DecodeRTU(raw []byte) (*RTUFrame, error) {
	if len(raw) < 4 {
		return &RTUFrame{
			Raw:    append([]byte(nil), raw...),
			Valid:  false,
			Reason: common.FrameReasonTruncated,
		}, nil
	}

	ok := VerifyCRC(raw)
	body := raw[:len(raw)-2]
	pdu, err := PDUFromBytes(body[1:])
	if err != nil {
		return &RTUFrame{
			Raw:    append([]byte(nil), raw...),
			Valid:  false,
			Reason: common.FrameReasonTruncated,
		}, nil
	}

	f := &RTUFrame{
		UnitID: body[0],
		PDU:    pdu,
		CRC:    uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8,
		Raw:    append([]byte(nil), raw...),
		Valid:  ok,
	}
	if !ok {
		f.Reason = common.FrameReasonCRC
	}
	return f, nil
}

func (f *RTUFrame) String() string {
	return fmt.Sprintf("RTU(unit=%d func=%s valid=%v)", f.UnitID, f.PDU.Function, f.Valid)
}

// PredictRTULength returns the expected on-wire length of a request frame
// for function, when known statically, enabling the inter-byte-timeout
// transport to stop reading before the silence gap fires. ok is false for
// variable-length function codes (caller must fall back to the byte-count
// field or to the silence timeout).
func PredictRTULength(function FunctionCode) (length int, ok bool) {
	if n, known := knownFixedRequestLength[function]; known {
		// +1 unit id, +2 crc
		return n + 1 + 2, true
	}
	return 0, false
}
