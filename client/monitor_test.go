package client

import (
	"context"
	"testing"
	"time"

	"github.com/kbralten/umdt/frame"
	"github.com/stretchr/testify/require"
)

func TestMonitorEmitsSamplesUntilCancelled(t *testing.T) {
	ft := newFakeTransport()
	for i := 0; i < 3; i++ {
		ft.queueRTUResponse(1, frame.ReadHoldingRegisters, frame.EncodeRegistersResponse([]uint16{uint16(i)}))
	}
	c := newTestClient(ft)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	samples := c.Monitor(ctx, ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 1}, time.Millisecond)

	got := 0
	for range samples {
		got++
		if got == 3 {
			cancel()
		}
	}
	require.GreaterOrEqual(t, got, 3)
}
