package client

import (
	"context"
	"testing"
	"time"

	"github.com/kbralten/umdt/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeRejectsEmptyEndpoint(t *testing.T) {
	results := Probe(context.Background(), nil, []ProbeCombination{{Unit: 1}}, ProbeOptions{
		Target: ProbeTarget{Type: frame.HoldingRegister, Address: 0},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Alive)
	assert.Error(t, results[0].Err)
}

func TestProbeUnreachableTCPIsNotAlive(t *testing.T) {
	results := Probe(context.Background(), nil, []ProbeCombination{
		{Endpoint: Endpoint{TCP: &TCPEndpoint{Host: "127.0.0.1", Port: 1}}, Unit: 1},
	}, ProbeOptions{
		Timeout: 50 * time.Millisecond,
		Target:  ProbeTarget{Type: frame.HoldingRegister, Address: 0},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Alive)
}

func TestAddrWithPort(t *testing.T) {
	assert.Equal(t, "10.0.0.1:502", addrWithPort("10.0.0.1", 502))
	assert.Equal(t, "host:0", addrWithPort("host", 0))
}
