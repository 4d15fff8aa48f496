package common

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks a caller-supplied parameter as out of range
	// or malformed, e.g. a read spanning more than 125 registers.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCancelled marks work abandoned because its owning engine shut down.
	ErrCancelled = errors.New("cancelled")
	// ErrForbidden is returned by a passive transport's Send.
	ErrForbidden = errors.New("send forbidden on passive transport")

	ErrInvalidPacket  = errors.New("invalid packet")
	ErrShortWrite     = errors.New("short write")
	ErrTimeout        = errors.New("timeout")
	ErrNotImplemented = errors.New("not implemented")
)

// FrameReason discriminates why a frame was captured as malformed rather
// than discarded. Malformed frames are always surfaced to callers and the
// event bus per the permissive-decode contract.
type FrameReason string

const (
	FrameReasonCRC             FrameReason = "crc"
	FrameReasonTruncated       FrameReason = "truncated"
	FrameReasonOversize        FrameReason = "oversize"
	FrameReasonUnknownFunction FrameReason = "unknown_function"
)

// FrameError wraps a frame that failed to validate but was still
// captured, along with the raw bytes collected off the wire.
type FrameError struct {
	Reason    FrameReason
	RawBytes  []byte
	Cause     error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame error (%s): %d bytes captured", e.Reason, len(e.RawBytes))
}

func (e *FrameError) Unwrap() error { return e.Cause }

func NewFrameError(reason FrameReason, raw []byte, cause error) *FrameError {
	return &FrameError{Reason: reason, RawBytes: append([]byte(nil), raw...), Cause: cause}
}

// ModbusException is a valid Modbus reply carrying an exception code. It is
// returned data, not a transport failure: callers like probe/scan treat it
// differently than a TransportError or Timeout.
type ModbusException struct {
	Code byte
}

func (e *ModbusException) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X", e.Code)
}

// TransportError wraps a lower-level transport failure (refused
// connection, closed port, serial device unavailable).
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// TimeoutError reports that no frame boundary arrived within the deadline.
type TimeoutError struct {
	AfterMS int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %dms", e.AfterMS)
}

// ScriptError is raised inside a hook, caught by the script engine, logged
// and downgraded to a pass-through so a buggy script can't halt a pipeline.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string { return "script error: " + e.Message }

// ConfigError is a load-time-only error naming the offending file.
type ConfigError struct {
	Path   string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Path, e.Detail)
}
