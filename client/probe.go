package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
	"github.com/kbralten/umdt/transport/serialport"
	"github.com/kbralten/umdt/transport/tcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Endpoint is either a TCP or a serial endpoint descriptor.
type Endpoint struct {
	TCP    *TCPEndpoint
	Serial *SerialEndpoint
}

type TCPEndpoint struct {
	Host string
	Port int
}

type SerialEndpoint struct {
	Path     string
	Baud     int
	Parity   string
	DataBits int
	StopBits int
}

// ProbeTarget names the single register a probe reads to decide liveness.
type ProbeTarget struct {
	Type    frame.DataType
	Address uint16
}

// ProbeCombination is one point in the probe's Cartesian product.
type ProbeCombination struct {
	Endpoint Endpoint
	Unit     uint8
}

// ProbeResult reports whether a combination answered within the fast-fail
// timeout — alive iff a Modbus reply, data or exception, arrived.
type ProbeResult struct {
	Combination ProbeCombination
	Alive       bool
	Err         error
}

// ProbeOptions configures the sweep: fan-out bound and fast-fail timeout.
type ProbeOptions struct {
	FanOut  int
	Timeout time.Duration
	Target  ProbeTarget
}

// Probe sweeps the Cartesian product of endpoint combinations: each
// combination opens its own fast-fail transport and is alive iff a reply
// (data or exception) arrives within the timeout. Fan-out is bounded by
// opts.FanOut; a combination's transport gets a private bus coordinator
// since probing never overlaps with a live operator/scanner session on
// the same client engine.
func Probe(ctx context.Context, logger *zap.Logger, combinations []ProbeCombination, opts ProbeOptions) []ProbeResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FanOut <= 0 {
		opts.FanOut = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 100 * time.Millisecond
	}

	results := make([]ProbeResult, len(combinations))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, opts.FanOut)

	for i, combo := range combinations {
		i, combo := i, combo
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			results[i] = probeOne(gctx, logger, combo, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func probeOne(ctx context.Context, logger *zap.Logger, combo ProbeCombination, opts ProbeOptions) ProbeResult {
	t, mode, err := openFastFailTransport(logger, combo.Endpoint)
	if err != nil {
		return ProbeResult{Combination: combo, Alive: false, Err: err}
	}
	defer t.Close()

	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := t.Open(dialCtx); err != nil {
		return ProbeResult{Combination: combo, Alive: false, Err: err}
	}

	c := New(logger, t, mode, nil, nil, opts.Timeout)
	_, err = c.Read(ctx, ReadParams{Unit: combo.Unit, Type: opts.Target.Type, Address: opts.Target.Address, Count: 1})
	if err == nil {
		return ProbeResult{Combination: combo, Alive: true}
	}

	var mex *common.ModbusException
	if errors.As(err, &mex) {
		// A Modbus exception is still a reply: the endpoint is alive.
		return ProbeResult{Combination: combo, Alive: true}
	}
	return ProbeResult{Combination: combo, Alive: false, Err: err}
}

func openFastFailTransport(logger *zap.Logger, ep Endpoint) (transport.Transport, Mode, error) {
	cfg := transport.Config{FastFail: true, DefaultTimeout: 100 * time.Millisecond}
	if ep.TCP != nil {
		addr := ep.TCP.Host
		if ep.TCP.Port != 0 {
			addr = addrWithPort(ep.TCP.Host, ep.TCP.Port)
		}
		return tcp.NewClient(logger, addr, cfg), ModeTCP, nil
	}
	if ep.Serial != nil {
		settings := serialport.Settings{
			Path:     ep.Serial.Path,
			Baud:     ep.Serial.Baud,
			Parity:   ep.Serial.Parity,
			DataBits: ep.Serial.DataBits,
			StopBits: ep.Serial.StopBits,
		}
		return serialport.NewFastFail(logger, settings, cfg), ModeRTU, nil
	}
	return nil, ModeRTU, errInvalidEndpoint
}

var errInvalidEndpoint = errors.New("client: endpoint names neither a host nor a serial path")

func addrWithPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
