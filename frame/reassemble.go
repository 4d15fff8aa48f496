package frame

// Reassembler is a sliding-window frame scanner, required only for a
// passive raw RS-485 listener: frame boundaries on
// the client/server happy path are well-defined by the transport, so this
// is purely for sniffing a bus UMDT doesn't otherwise control.
type Reassembler struct {
	buf []byte
}

// Feed appends newly observed bytes to the internal buffer.
func (r *Reassembler) Feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// Next attempts to extract one complete, CRC-valid frame starting at some
// offset in the buffer. On success it returns the frame and consumes the
// bytes up through its end. On failure to find any valid candidate it
// returns nil and leaves the buffer untouched so more bytes can arrive.
func (r *Reassembler) Next() *RTUFrame {
	for start := 0; start < len(r.buf); start++ {
		candidate := r.buf[start:]
		if len(candidate) < 4 {
			break
		}
		function := FunctionCode(candidate[1])
		length, ok := PredictRTULength(function)
		if !ok {
			length, ok = predictVariableLength(candidate)
		}
		if !ok || length > len(candidate) {
			continue
		}
		frameBytes := candidate[:length]
		if VerifyCRC(frameBytes) {
			r.buf = r.buf[start+length:]
			f, _ := DecodeRTU(frameBytes)
			return f
		}
		// CRC mismatch at this candidate start; advance by one and keep
		// scanning rather than giving up on the whole buffer.
	}
	return nil
}

// predictVariableLength handles WriteMultipleCoils/Registers, whose
// length depends on the byte-count field at offset 6.
func predictVariableLength(candidate []byte) (int, bool) {
	function := FunctionCode(candidate[1])
	if function != WriteMultipleCoils && function != WriteMultipleRegisters {
		return 0, false
	}
	if len(candidate) < 7 {
		return 0, false
	}
	byteCount := int(candidate[6])
	// unit + function + addr(2) + qty(2) + bytecount(1) + data + crc(2)
	return 1 + 1 + 2 + 2 + 1 + byteCount + 2, true
}
