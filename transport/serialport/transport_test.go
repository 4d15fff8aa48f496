package serialport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// pipePort glues an io.Pipe pair into the ReadWriteCloser a serial port
// presents, standing in for a physical line.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipePort) Close() error {
	p.r.Close()
	return p.w.Close()
}

// newLinkedPorts returns two ends of a simulated serial line.
func newLinkedPorts() (*pipePort, *pipePort) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &pipePort{r: ar, w: aw}, &pipePort{r: br, w: bw}
}

func testSettings() Settings {
	return Settings{Path: "sim", Baud: 9600, Parity: "N", DataBits: 8, StopBits: 1}
}

func TestFrameGapFromBaud(t *testing.T) {
	// 9600 baud: charTime = 11/9600 s, 3.5 chars ≈ 4ms, well above the
	// 1750us floor.
	gap := Settings{Baud: 9600}.FrameGap()
	assert.Greater(t, gap, 1750*time.Microsecond)

	// At high baud rates the floor takes over.
	assert.Equal(t, 1750*time.Microsecond, Settings{Baud: 115200}.FrameGap())

	// Explicit override wins.
	assert.Equal(t, 7*time.Millisecond, Settings{Baud: 9600, InterByteTimeout: 7 * time.Millisecond}.FrameGap())
}

func TestReceiveFrameBySilenceBoundary(t *testing.T) {
	local, remote := newLinkedPorts()
	tr := NewFromPort(zaptest.NewLogger(t), local, testSettings(), transport.Config{DefaultTimeout: time.Second})
	defer tr.Close()

	raw := frame.EncodeRTU(1, frame.ReadHoldingRegisters, frame.EncodeReadRequest(0, 10))
	go remote.Write(raw)

	f, err := tr.ReceiveFrame(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, f.Valid)

	decoded, ok := f.Decoded.(*frame.RTUFrame)
	require.True(t, ok)
	assert.EqualValues(t, 1, decoded.UnitID)
	assert.Equal(t, frame.ReadHoldingRegisters, decoded.PDU.Function)
	assert.True(t, decoded.Valid)
}

func TestReceiveFrameCapturesCRCError(t *testing.T) {
	local, remote := newLinkedPorts()
	tr := NewFromPort(zaptest.NewLogger(t), local, testSettings(), transport.Config{DefaultTimeout: time.Second})
	defer tr.Close()

	raw := frame.EncodeRTU(1, frame.ReadHoldingRegisters, frame.EncodeReadRequest(0, 10))
	raw[2] ^= 0x01 // corrupt one payload bit
	go remote.Write(raw)

	f, err := tr.ReceiveFrame(context.Background(), time.Second)
	require.Error(t, err)
	var ferr *common.FrameError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, common.FrameReasonCRC, ferr.Reason)
	assert.Equal(t, raw, ferr.RawBytes)
	require.NotNil(t, f)
	assert.False(t, f.Valid)
}

func TestReceiveFrameTimesOutOnSilence(t *testing.T) {
	local, _ := newLinkedPorts()
	tr := NewFromPort(zaptest.NewLogger(t), local, testSettings(), transport.Config{DefaultTimeout: 100 * time.Millisecond})
	defer tr.Close()

	start := time.Now()
	_, err := tr.ReceiveFrame(context.Background(), 100*time.Millisecond)
	require.Error(t, err)
	var terr *common.TimeoutError
	require.ErrorAs(t, err, &terr)
	// The overall timeout, not the (much shorter) inter-byte gap, bounds
	// the wait for the first byte.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestSendWritesThrough(t *testing.T) {
	local, remote := newLinkedPorts()
	tr := NewFromPort(zaptest.NewLogger(t), local, testSettings(), transport.Config{DefaultTimeout: time.Second})
	defer tr.Close()

	raw := frame.EncodeRTU(1, frame.WriteSingleRegister, frame.EncodeWriteSingleRegister(10, 42))
	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(raw))
		io.ReadFull(remote, buf)
		done <- buf
	}()

	require.NoError(t, tr.Send(context.Background(), raw))
	select {
	case got := <-done:
		assert.Equal(t, raw, got)
	case <-time.After(time.Second):
		t.Fatal("send never reached the far end")
	}
}
