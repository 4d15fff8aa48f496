package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kbralten/umdt/client"
	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/faults"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/mockserver"
	"github.com/kbralten/umdt/script"
	"github.com/kbralten/umdt/transport"
	"github.com/kbralten/umdt/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startBackend runs a mock server with holding registers 0..99 so the
// bridge has something real to forward to.
func startBackend(t *testing.T, ctx context.Context) *mockserver.Server {
	t.Helper()
	srv := mockserver.NewServer(zaptest.NewLogger(t), 1, eventbus.New(0))
	require.NoError(t, srv.Store.AddGroup(
		mockserver.RegisterGroup{Name: "test", Type: frame.HoldingRegister, Start: 0, Length: 100, Writable: true},
		make([]uint16, 100), nil))
	require.NoError(t, srv.StartTCP(ctx, "127.0.0.1:0"))
	t.Cleanup(srv.Stop)
	return srv
}

func startBridge(t *testing.T, ctx context.Context, cfg Config, engine *script.BridgeEngine) *Bridge {
	t.Helper()
	b := New(zaptest.NewLogger(t), cfg, eventbus.New(0), engine)
	require.NoError(t, b.Start(ctx))
	t.Cleanup(b.Stop)
	return b
}

func dialClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	tr := tcp.NewClient(zaptest.NewLogger(t), addr, transport.Config{DefaultTimeout: time.Second})
	require.NoError(t, tr.Open(context.Background()))
	t.Cleanup(func() { tr.Close() })
	return client.New(nil, tr, client.ModeTCP, nil, nil, time.Second)
}

func TestBridgeTransparentRelay(t *testing.T) {
	ctx := context.Background()
	backend := startBackend(t, ctx)
	require.True(t, backend.Set(frame.HoldingRegister, 5, 4242))

	b := startBridge(t, ctx, Config{
		UpstreamTCPAddr:   "127.0.0.1:0",
		DownstreamTCPAddr: backend.Addr(),
		RequestTimeout:    time.Second,
	}, nil)

	c := dialClient(t, b.Addr())
	res, err := c.Read(ctx, client.ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 5, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint16{4242}, res.Registers)
}

func TestBridgeIngressHookRemapsAddress(t *testing.T) {
	ctx := context.Background()
	backend := startBackend(t, ctx)
	require.True(t, backend.Set(frame.HoldingRegister, 40, 77))

	engine := script.NewBridgeEngine(zaptest.NewLogger(t), nil)
	engine.SetHooks(&script.BridgeHooks{
		Ingress: func(_ *script.Context, req *frame.Request) script.RequestHookResult {
			if req.Function == frame.ReadHoldingRegisters {
				req.Address -= 1000
			}
			return script.RequestHookResult{Outcome: script.OutcomeContinue, Request: req}
		},
	})

	b := startBridge(t, ctx, Config{
		UpstreamTCPAddr:   "127.0.0.1:0",
		DownstreamTCPAddr: backend.Addr(),
		RequestTimeout:    time.Second,
	}, engine)

	c := dialClient(t, b.Addr())
	res, err := c.Read(ctx, client.ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 1040, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint16{77}, res.Registers)
}

func TestBridgeIngressHookShortCircuitsException(t *testing.T) {
	ctx := context.Background()
	backend := startBackend(t, ctx)

	engine := script.NewBridgeEngine(zaptest.NewLogger(t), nil)
	engine.SetHooks(&script.BridgeHooks{
		Ingress: func(_ *script.Context, req *frame.Request) script.RequestHookResult {
			return script.RequestHookResult{Outcome: script.OutcomeException, Exception: frame.IllegalFunction}
		},
	})

	b := startBridge(t, ctx, Config{
		UpstreamTCPAddr:   "127.0.0.1:0",
		DownstreamTCPAddr: backend.Addr(),
		RequestTimeout:    time.Second,
	}, engine)

	c := dialClient(t, b.Addr())
	_, err := c.Read(ctx, client.ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x01")
}

func TestBridgeDownstreamTimeoutBecomesGatewayException(t *testing.T) {
	ctx := context.Background()
	backend := startBackend(t, ctx)
	backend.UpdateFaults(faults.Profile{DropRate: 1.0})

	b := startBridge(t, ctx, Config{
		UpstreamTCPAddr:   "127.0.0.1:0",
		DownstreamTCPAddr: backend.Addr(),
		RequestTimeout:    200 * time.Millisecond,
	}, nil)

	c := dialClient(t, b.Addr())
	_, err := c.Read(ctx, client.ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x0B")
}

func TestBridgeDropHookSendsNothing(t *testing.T) {
	ctx := context.Background()
	backend := startBackend(t, ctx)

	engine := script.NewBridgeEngine(zaptest.NewLogger(t), nil)
	engine.SetHooks(&script.BridgeHooks{
		Ingress: func(_ *script.Context, req *frame.Request) script.RequestHookResult {
			return script.RequestHookResult{Outcome: script.OutcomeDrop}
		},
	})

	b := startBridge(t, ctx, Config{
		UpstreamTCPAddr:   "127.0.0.1:0",
		DownstreamTCPAddr: backend.Addr(),
		RequestTimeout:    time.Second,
	}, engine)

	c := dialClient(t, b.Addr())
	_, err := c.Read(ctx, client.ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 1})
	require.Error(t, err) // the client times out; no reply ever leaves the bridge
}

func TestBridgeDualStreamCapture(t *testing.T) {
	ctx := context.Background()
	backend := startBackend(t, ctx)

	dir := t.TempDir()
	upPath := filepath.Join(dir, "up.pcap")
	downPath := filepath.Join(dir, "down.pcap")

	b := startBridge(t, ctx, Config{
		UpstreamTCPAddr:    "127.0.0.1:0",
		DownstreamTCPAddr:  backend.Addr(),
		RequestTimeout:     time.Second,
		UpstreamPCAPPath:   upPath,
		DownstreamPCAPPath: downPath,
	}, nil)

	c := dialClient(t, b.Addr())
	_, err := c.Read(ctx, client.ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 1})
	require.NoError(t, err)

	for _, path := range []string{upPath, downPath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		// Global header (24 bytes) plus at least one record on each side.
		assert.Greater(t, info.Size(), int64(24))
	}
}

func TestBridgeResponseHookRewrites(t *testing.T) {
	ctx := context.Background()
	backend := startBackend(t, ctx)
	require.True(t, backend.Set(frame.HoldingRegister, 0, 1))

	engine := script.NewBridgeEngine(zaptest.NewLogger(t), nil)
	engine.SetHooks(&script.BridgeHooks{
		UpstreamResponse: func(_ *script.Context, resp *frame.Response) *frame.Response {
			if resp.Function == frame.ReadHoldingRegisters && !resp.IsException {
				resp.Payload = frame.EncodeRegistersResponse([]uint16{9999})
			}
			return resp
		},
	})

	b := startBridge(t, ctx, Config{
		UpstreamTCPAddr:   "127.0.0.1:0",
		DownstreamTCPAddr: backend.Addr(),
		RequestTimeout:    time.Second,
	}, engine)

	c := dialClient(t, b.Addr())
	res, err := c.Read(ctx, client.ReadParams{Unit: 1, Type: frame.HoldingRegister, Address: 0, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint16{9999}, res.Registers)
}
