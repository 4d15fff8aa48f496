// Package pcap writes Modbus traffic to libpcap-format capture files
// using the UMDT user-DLT encapsulation: DLT_USER0 link type plus a
// 4-byte metadata prefix (direction, protocol hint, two reserved bytes)
// ahead of each raw frame. Files are written with gopacket/pcapgo so any
// libpcap-compatible reader can open them.
package pcap

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Direction tags which way a captured frame travelled (metadata byte 0).
type Direction uint8

const (
	DirectionUnknown Direction = 0
	DirectionInbound Direction = 1
	DirectionOutbound Direction = 2
)

// ProtocolHint tags the wire format of the captured frame (metadata byte 1).
type ProtocolHint uint8

const (
	ProtocolUnknown  ProtocolHint = 0
	ProtocolModbusRTU ProtocolHint = 1
	ProtocolModbusTCP ProtocolHint = 2
)

// LinkType is DLT_USER0 (147), the libpcap user-defined link type UMDT
// repurposes to carry Modbus frames with its 4-byte metadata prefix.
const LinkType = layers.LinkType(147)

// Snaplen is the global header snapshot length.
const Snaplen = 65535

// Writer appends UMDT-encapsulated records to one capture file. One
// mutex per file bounds acquisition to a single write+flush.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	pcapw  *pcapgo.Writer
}

// Create opens path and writes the global header (magic 0xA1B2C3D4,
// version 2.4, snaplen 65535, linktype DLT_USER0).
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("pcap: create %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(Snaplen, LinkType); err != nil {
		f.Close()
		return nil, fmt.Errorf("pcap: write header %s: %w", path, err)
	}
	return &Writer{file: f, pcapw: w}, nil
}

// WriteFrame appends one record: UMDT metadata prefix followed by the raw
// frame bytes, flushing to disk immediately afterward so a crash loses at
// most the in-flight record.
func (w *Writer) WriteFrame(ts time.Time, dir Direction, proto ProtocolHint, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	body := make([]byte, 4+len(frame))
	body[0] = byte(dir)
	body[1] = byte(proto)
	// bytes 2-3 reserved, left zero.
	copy(body[4:], frame)

	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(body),
		Length:        len(body),
	}
	if err := w.pcapw.WritePacket(ci, body); err != nil {
		return fmt.Errorf("pcap: write packet: %w", err)
	}
	return w.file.Sync()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// DualStream bundles the upstream (master<->bridge) and downstream
// (bridge<->slave) writers requires for bridge captures. Each
// writer is independent and append-only.
type DualStream struct {
	Upstream   *Writer
	Downstream *Writer
}

// CreateDualStream opens both files, closing whichever succeeded if the
// other fails so a partially-opened pair never leaks an open fd.
func CreateDualStream(upstreamPath, downstreamPath string) (*DualStream, error) {
	up, err := Create(upstreamPath)
	if err != nil {
		return nil, err
	}
	down, err := Create(downstreamPath)
	if err != nil {
		up.Close()
		return nil, err
	}
	return &DualStream{Upstream: up, Downstream: down}, nil
}

func (d *DualStream) Close() error {
	var firstErr error
	if err := d.Upstream.Close(); err != nil {
		firstErr = err
	}
	if err := d.Downstream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

var _ io.Writer = (*os.File)(nil) // documents that pcapgo writes through a plain io.Writer
