package script

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/frame"
	"go.uber.org/zap"
)

// HookOutcome tags what an ingress/egress/response/upstream-response hook
// decided: continue with a (possibly rewritten)
// value, short-circuit with an exception, or drop the request silently.
type HookOutcome int

const (
	OutcomeContinue HookOutcome = iota
	OutcomeException
	OutcomeDrop
)

// RequestHookResult is the return value of an ingress/egress hook.
type RequestHookResult struct {
	Outcome   HookOutcome
	Request   *frame.Request // valid when Outcome == OutcomeContinue
	Exception frame.ExceptionCode // valid when Outcome == OutcomeException
}

// BridgeHooks is the bridge side's hook registration table: the four
// pipeline stages plus lifecycle and the periodic callback.
type BridgeHooks struct {
	Ingress           func(c *Context, req *frame.Request) RequestHookResult
	Egress            func(c *Context, req *frame.Request) RequestHookResult
	Response          func(c *Context, resp *frame.Response) *frame.Response
	UpstreamResponse  func(c *Context, resp *frame.Response) *frame.Response
	OnStart           func(c *Context)
	OnStop            func(c *Context)
	OnPeriodic        func(c *Context)
}

// BridgeEngine hosts one bridge's script hooks, mirroring ServerEngine's
// shape (shared Context type, same hot-reload and panic-recovery rules)
// but over the relay pipeline's stages.
type BridgeEngine struct {
	logger *zap.Logger
	events *eventbus.Bus
	ctx    *Context
	tasks  *TaskManager

	hooks        atomic.Pointer[BridgeHooks]
	periodic     time.Duration
	stopPeriodic context.CancelFunc
}

// NewBridgeEngine builds an engine with no hooks attached. The bridge has
// no register store of its own, so ctx.read_register/write_register are
// unavailable (RegisterAccess is nil).
func NewBridgeEngine(logger *zap.Logger, events *eventbus.Bus) *BridgeEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	tasks := NewTaskManager(context.Background())
	return &BridgeEngine{
		logger: logger,
		events: events,
		tasks:  tasks,
		ctx:    NewContext(logger, events, nil, tasks),
	}
}

func (e *BridgeEngine) SetHooks(h *BridgeHooks) { e.hooks.Store(h) }
func (e *BridgeEngine) SetPeriodic(interval time.Duration) { e.periodic = interval }

func (e *BridgeEngine) Start(parent context.Context) {
	h := e.hooks.Load()
	if h != nil && h.OnStart != nil {
		recoverHook(e.logger, e.events, "on_start", func() { h.OnStart(e.ctx) })
	}
	if e.periodic <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	e.stopPeriodic = cancel
	e.tasks.Schedule(func(taskCtx context.Context) {
		t := time.NewTicker(e.periodic)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-taskCtx.Done():
				return
			case <-t.C:
				if h := e.hooks.Load(); h != nil && h.OnPeriodic != nil {
					recoverHook(e.logger, e.events, "on_periodic", func() { h.OnPeriodic(e.ctx) })
				}
			}
		}
	})
}

func (e *BridgeEngine) Stop(grace time.Duration) {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	if e.stopPeriodic != nil {
		e.stopPeriodic()
	}
	h := e.hooks.Load()
	if h != nil && h.OnStop != nil {
		done := make(chan struct{})
		go func() {
			recoverHook(e.logger, e.events, "on_stop", func() { h.OnStop(e.ctx) })
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			e.logger.Warn("on_stop hook exceeded grace period, forcibly cancelling")
		}
	}
	e.tasks.CancelAndWait()
}

// runRequestHook centralizes the ingress/egress outcome semantics step 2/3): nil hook means "continue unchanged".
func runRequestHook(e *BridgeEngine, name string, fn func(c *Context, req *frame.Request) RequestHookResult, req *frame.Request) RequestHookResult {
	if fn == nil {
		return RequestHookResult{Outcome: OutcomeContinue, Request: req}
	}
	result := RequestHookResult{Outcome: OutcomeContinue, Request: req}
	recoverHook(e.logger, e.events, name, func() { result = fn(e.ctx, req) })
	if result.Outcome == OutcomeContinue && result.Request == nil {
		result.Request = req
	}
	return result
}

// Ingress runs the ingress hook.
func (e *BridgeEngine) Ingress(req *frame.Request) RequestHookResult {
	h := e.hooks.Load()
	if h == nil {
		return RequestHookResult{Outcome: OutcomeContinue, Request: req}
	}
	return runRequestHook(e, "ingress_hook", h.Ingress, req)
}

// Egress runs the egress hook.
func (e *BridgeEngine) Egress(req *frame.Request) RequestHookResult {
	h := e.hooks.Load()
	if h == nil {
		return RequestHookResult{Outcome: OutcomeContinue, Request: req}
	}
	return runRequestHook(e, "egress_hook", h.Egress, req)
}

// Response runs the response hook (observes the raw downstream reply).
func (e *BridgeEngine) Response(resp *frame.Response) *frame.Response {
	h := e.hooks.Load()
	if h == nil || h.Response == nil {
		return resp
	}
	out := resp
	recoverHook(e.logger, e.events, "response_hook", func() {
		if rewritten := h.Response(e.ctx, resp); rewritten != nil {
			out = rewritten
		}
	})
	return out
}

// UpstreamResponse runs the upstream-response hook (the last chance to
// transform what the master actually sees). Kept distinct from Response
//// downstream reply before any upstream-facing transformation.
func (e *BridgeEngine) UpstreamResponse(resp *frame.Response) *frame.Response {
	h := e.hooks.Load()
	if h == nil || h.UpstreamResponse == nil {
		return resp
	}
	out := resp
	recoverHook(e.logger, e.events, "upstream_response_hook", func() {
		if rewritten := h.UpstreamResponse(e.ctx, resp); rewritten != nil {
			out = rewritten
		}
	})
	return out
}
