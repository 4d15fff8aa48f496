package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func pairedTransports(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := transport.Config{DefaultTimeout: time.Second}

	l, err := Listen(logger, "127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	dialer := NewClient(logger, l.Addr().String(), cfg)
	require.NoError(t, dialer.Open(context.Background()))
	t.Cleanup(func() { dialer.Close() })

	accepted, err := l.Accept(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { accepted.Close() })

	return dialer, accepted
}

func TestSendReceiveFrame(t *testing.T) {
	dialer, accepted := pairedTransports(t)

	raw := frame.EncodeTCP(7, 1, frame.ReadHoldingRegisters, frame.EncodeReadRequest(0, 10))
	require.NoError(t, dialer.Send(context.Background(), raw))

	f, err := accepted.ReceiveFrame(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, f.Valid)

	decoded, ok := f.Decoded.(*frame.TCPFrame)
	require.True(t, ok)
	assert.EqualValues(t, 7, decoded.TransactionID)
	assert.EqualValues(t, 1, decoded.UnitID)
	assert.Equal(t, frame.ReadHoldingRegisters, decoded.PDU.Function)
}

func TestReceiveFrameTimesOut(t *testing.T) {
	dialer, _ := pairedTransports(t)

	_, err := dialer.ReceiveFrame(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
}

func TestTruncatedFrameIsCaptured(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := transport.Config{DefaultTimeout: 200 * time.Millisecond}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		// MBAP header promising a 4-byte body, then close after one byte.
		conn.Write([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03})
		conn.Close()
	}()

	dialer := NewClient(logger, l.Addr().String(), cfg)
	require.NoError(t, dialer.Open(context.Background()))
	defer dialer.Close()

	f, err := dialer.ReceiveFrame(context.Background(), 200*time.Millisecond)
	require.Error(t, err)
	var ferr *common.FrameError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, common.FrameReasonTruncated, ferr.Reason)
	require.NotNil(t, f)
	assert.False(t, f.Valid)
	assert.NotEmpty(t, f.Raw)
}

func TestSendOnPassiveWrapperForbidden(t *testing.T) {
	dialer, _ := pairedTransports(t)
	passive := transport.NewPassive(dialer)

	err := passive.Send(context.Background(), []byte{0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrForbidden)
}
