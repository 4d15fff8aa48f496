package frame

import "encoding/binary"

// These helpers build/parse PDU payloads for the supported function
// codes (01-06, 15, 16, 23, 43). They live in the codec package because
// payload shape is part of the wire format, so the request/response byte
// layout stays next to the PDU type.

// EncodeReadRequest builds the 4-byte payload for FC 01/02/03/04.
func EncodeReadRequest(start, quantity uint16) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], start)
	binary.BigEndian.PutUint16(b[2:4], quantity)
	return b
}

// DecodeReadRequest parses the payload built by EncodeReadRequest.
func DecodeReadRequest(payload []byte) (start, quantity uint16, err error) {
	if len(payload) < 4 {
		return 0, 0, ErrShortPDU
	}
	return binary.BigEndian.Uint16(payload[0:2]), binary.BigEndian.Uint16(payload[2:4]), nil
}

// EncodeRegistersResponse builds a read-registers response payload:
// byte-count followed by big-endian 16-bit values.
func EncodeRegistersResponse(values []uint16) []byte {
	out := make([]byte, 1+2*len(values))
	out[0] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[1+2*i:3+2*i], v)
	}
	return out
}

// DecodeRegistersResponse parses a read-registers response payload back
// into 16-bit values.
func DecodeRegistersResponse(payload []byte) ([]uint16, error) {
	if len(payload) < 1 || len(payload) < 1+int(payload[0]) {
		return nil, ErrShortPDU
	}
	n := int(payload[0])
	values := make([]uint16, n/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(payload[1+2*i : 3+2*i])
	}
	return values, nil
}

// EncodeBitsResponse packs bools into the byte-count + bitmap layout FC
// 01/02 responses use.
func EncodeBitsResponse(values []bool) []byte {
	byteCount := (len(values) + 7) / 8
	out := make([]byte, 1+byteCount)
	out[0] = byte(byteCount)
	for i, v := range values {
		if v {
			out[1+i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// DecodeBitsResponse unpacks a FC 01/02 response payload into `count`
// bools.
func DecodeBitsResponse(payload []byte, count int) ([]bool, error) {
	byteCount := (count + 7) / 8
	if len(payload) < 1+byteCount {
		return nil, ErrShortPDU
	}
	out := make([]bool, count)
	for i := range out {
		out[i] = payload[1+i/8]&(1<<uint(i%8)) != 0
	}
	return out, nil
}

// EncodeWriteSingleCoil builds the FC05 request/response payload.
func EncodeWriteSingleCoil(address uint16, value bool) []byte {
	v := uint16(0x0000)
	if value {
		v = 0xFF00
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], address)
	binary.BigEndian.PutUint16(b[2:4], v)
	return b
}

// DecodeWriteSingleCoil parses the FC05 payload back to address/value.
func DecodeWriteSingleCoil(payload []byte) (address uint16, value bool, err error) {
	if len(payload) < 4 {
		return 0, false, ErrShortPDU
	}
	address = binary.BigEndian.Uint16(payload[0:2])
	value = binary.BigEndian.Uint16(payload[2:4]) == 0xFF00
	return address, value, nil
}

// EncodeWriteSingleRegister builds the FC06 request/response payload.
func EncodeWriteSingleRegister(address, value uint16) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], address)
	binary.BigEndian.PutUint16(b[2:4], value)
	return b
}

func DecodeWriteSingleRegister(payload []byte) (address, value uint16, err error) {
	if len(payload) < 4 {
		return 0, 0, ErrShortPDU
	}
	return binary.BigEndian.Uint16(payload[0:2]), binary.BigEndian.Uint16(payload[2:4]), nil
}

// DecodeWriteMultipleCoils parses a FC15 request payload back into a
// start address and bool values.
func DecodeWriteMultipleCoils(payload []byte) (start uint16, values []bool, err error) {
	if len(payload) < 5 {
		return 0, nil, ErrShortPDU
	}
	start = binary.BigEndian.Uint16(payload[0:2])
	count := binary.BigEndian.Uint16(payload[2:4])
	byteCount := int(payload[4])
	if len(payload) < 5+byteCount || byteCount*8 < int(count) {
		return 0, nil, ErrShortPDU
	}
	values = make([]bool, count)
	for i := range values {
		values[i] = payload[5+i/8]&(1<<uint(i%8)) != 0
	}
	return start, values, nil
}

// DecodeWriteMultipleRegisters parses a FC16 request payload back into a
// start address and register values.
func DecodeWriteMultipleRegisters(payload []byte) (start uint16, values []uint16, err error) {
	if len(payload) < 5 {
		return 0, nil, ErrShortPDU
	}
	start = binary.BigEndian.Uint16(payload[0:2])
	count := binary.BigEndian.Uint16(payload[2:4])
	byteCount := int(payload[4])
	if len(payload) < 5+byteCount || byteCount != int(count)*2 {
		return 0, nil, ErrShortPDU
	}
	values = make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(payload[5+2*i : 7+2*i])
	}
	return start, values, nil
}

// EncodeWriteMultipleCoils builds the FC15 request payload.
func EncodeWriteMultipleCoils(start uint16, values []bool) []byte {
	byteCount := (len(values) + 7) / 8
	out := make([]byte, 5+byteCount)
	binary.BigEndian.PutUint16(out[0:2], start)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(values)))
	out[4] = byte(byteCount)
	for i, v := range values {
		if v {
			out[5+i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// EncodeWriteMultipleRegisters builds the FC16 request payload.
func EncodeWriteMultipleRegisters(start uint16, values []uint16) []byte {
	out := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(out[0:2], start)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(values)))
	out[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[5+2*i:7+2*i], v)
	}
	return out
}

// EncodeWriteMultipleResponse builds the FC15/16 response payload
// (start address + count, both echoed back).
func EncodeWriteMultipleResponse(start, count uint16) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], start)
	binary.BigEndian.PutUint16(b[2:4], count)
	return b
}

func DecodeWriteMultipleResponse(payload []byte) (start, count uint16, err error) {
	if len(payload) < 4 {
		return 0, 0, ErrShortPDU
	}
	return binary.BigEndian.Uint16(payload[0:2]), binary.BigEndian.Uint16(payload[2:4]), nil
}
