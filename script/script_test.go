package script

import (
	"context"
	"testing"
	"time"

	"github.com/kbralten/umdt/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerEngineOnRequestRewrite(t *testing.T) {
	e := NewServerEngine(nil, nil, nil)
	e.SetHooks(&ServerHooks{
		OnRequest: func(c *Context, req *frame.Request) *frame.Request {
			req.Address -= 1000
			return req
		},
	})

	req := &frame.Request{UnitID: 1, Function: frame.ReadHoldingRegisters, Address: 41000, Quantity: 1}
	out := e.Request(req)
	assert.EqualValues(t, 40000, out.Address)
}

func TestServerEnginePanicDowngradesToPassThrough(t *testing.T) {
	e := NewServerEngine(nil, nil, nil)
	e.SetHooks(&ServerHooks{
		OnResponse: func(c *Context, resp *frame.Response) *frame.Response {
			panic("boom")
		},
	})

	resp := &frame.Response{UnitID: 1, Function: frame.ReadHoldingRegisters, Payload: []byte{0x02, 0x00, 0x01}}
	out := e.Response(resp)
	assert.Same(t, resp, out) // unchanged: the panicking hook never got to replace it
}

func TestServerEngineStateSurvivesAcrossCalls(t *testing.T) {
	e := NewServerEngine(nil, nil, nil)
	var seen []any
	e.SetHooks(&ServerHooks{
		OnRequest: func(c *Context, req *frame.Request) *frame.Request {
			n, _ := c.State("count")
			count, _ := n.(int)
			count++
			c.SetState("count", count)
			seen = append(seen, count)
			return req
		},
	})

	req := &frame.Request{Function: frame.ReadHoldingRegisters}
	e.Request(req)
	e.Request(req)
	e.Request(req)
	assert.Equal(t, []any{1, 2, 3}, seen)
}

func TestServerEngineHotReloadSwapsAtomically(t *testing.T) {
	e := NewServerEngine(nil, nil, nil)
	e.SetHooks(&ServerHooks{OnRequest: func(c *Context, req *frame.Request) *frame.Request {
		req.Quantity = 1
		return req
	}})
	e.SetHooks(&ServerHooks{OnRequest: func(c *Context, req *frame.Request) *frame.Request {
		req.Quantity = 2
		return req
	}})

	out := e.Request(&frame.Request{Function: frame.ReadHoldingRegisters, Quantity: 0})
	assert.EqualValues(t, 2, out.Quantity)
}

func TestBridgeEngineIngressOutcomes(t *testing.T) {
	e := NewBridgeEngine(nil, nil)
	e.SetHooks(&BridgeHooks{
		Ingress: func(c *Context, req *frame.Request) RequestHookResult {
			if req.Address == 0 {
				return RequestHookResult{Outcome: OutcomeDrop}
			}
			return RequestHookResult{Outcome: OutcomeContinue, Request: req}
		},
	})

	dropped := e.Ingress(&frame.Request{Address: 0})
	assert.Equal(t, OutcomeDrop, dropped.Outcome)

	passed := e.Ingress(&frame.Request{Address: 5})
	assert.Equal(t, OutcomeContinue, passed.Outcome)
	assert.EqualValues(t, 5, passed.Request.Address)
}

func TestScheduleTaskCancelledOnStop(t *testing.T) {
	e := NewServerEngine(nil, nil, nil)
	started := make(chan struct{})
	stopped := make(chan struct{})
	e.SetHooks(&ServerHooks{
		OnStart: func(c *Context) {
			c.ScheduleTask(func(ctx context.Context) {
				close(started)
				<-ctx.Done()
				close(stopped)
			})
		},
	})

	e.Start(context.Background())
	<-started
	e.Stop(500 * time.Millisecond)
	select {
	case <-stopped:
	default:
		t.Fatal("scheduled task was not cancelled on Stop")
	}
}

func TestMakeResponseExceptionMatchesRequest(t *testing.T) {
	ctx := NewContext(nil, nil, nil, NewTaskManager(context.Background()))
	req := &frame.Request{UnitID: 3, Function: frame.ReadHoldingRegisters}
	resp := ctx.MakeResponseException(req, frame.IllegalDataAddress)
	require.True(t, resp.IsException)
	assert.Equal(t, uint8(3), resp.UnitID)
	assert.Equal(t, frame.IllegalDataAddress, resp.ExceptionCode)
	assert.True(t, resp.Function.IsException())
}
