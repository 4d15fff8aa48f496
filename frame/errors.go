package frame

import "errors"

var (
	ErrShortPDU        = errors.New("frame: pdu too short")
	ErrShortFrame      = errors.New("frame: frame too short")
	ErrBadMBAPProtocol = errors.New("frame: non-zero mbap protocol id")
)
