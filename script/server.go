package script

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/frame"
	"go.uber.org/zap"
)

// ServerHooks is the mock-server side's hook registration table. Any field left nil is a no-op for that hook point. A nil
// *ServerHooks installed on a ServerEngine means "no script attached".
type ServerHooks struct {
	OnRequest  func(c *Context, req *frame.Request) *frame.Request
	OnResponse func(c *Context, resp *frame.Response) *frame.Response
	OnWrite    func(c *Context, unit uint8, address uint16, value uint16)
	OnStart    func(c *Context)
	OnStop     func(c *Context)
	OnPeriodic func(c *Context)
}

// ServerEngine hosts one mock server's script hooks. Hot-reload
// (SetHooks) swaps the table in one atomic pointer store, and the
// dispatch path loads the pointer once per call, so a reload replaces
// the table between requests, never mid-request.
type ServerEngine struct {
	logger *zap.Logger
	events *eventbus.Bus
	ctx    *Context
	tasks  *TaskManager

	hooks    atomic.Pointer[ServerHooks]
	periodic time.Duration
	stopPeriodic context.CancelFunc
}

// NewServerEngine builds an engine with no hooks attached. registers
// wires ctx.read_register/write_register to the owning mock server.
func NewServerEngine(logger *zap.Logger, events *eventbus.Bus, registers RegisterAccess) *ServerEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	tasks := NewTaskManager(context.Background())
	return &ServerEngine{
		logger: logger,
		events: events,
		tasks:  tasks,
		ctx:    NewContext(logger, events, registers, tasks),
	}
}

// SetHooks installs h (or clears hooks with nil), replacing the previous
// table in one pointer write.
func (e *ServerEngine) SetHooks(h *ServerHooks) { e.hooks.Store(h) }

// SetPeriodic configures on_periodic's firing interval; zero disables it.
func (e *ServerEngine) SetPeriodic(interval time.Duration) { e.periodic = interval }

// Start fires on_start and, if a periodic interval is configured, begins
// the periodic ticker.
func (e *ServerEngine) Start(parent context.Context) {
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

// Stop fires on_stop with a bounded grace period, then cancels every
// scheduled task. Default grace is 2s; after it expires the tasks are
// forcibly cancelled.
func (e *ServerEngine) Stop(grace time.Duration) {
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

// Request runs the on_request hook (if any) and returns the
// possibly-rewritten request. A nil return from the hook itself means
// "no change" (the hook chose not to allocate a new Request).
func (e *ServerEngine) Request(req *frame.Request) *frame.Request {
	h := e.hooks.Load()
	if h == nil || h.OnRequest == nil {
		return req
	}
	out := req
	recoverHook(e.logger, e.events, "on_request", func() {
		if rewritten := h.OnRequest(e.ctx, req); rewritten != nil {
			out = rewritten
		}
	})
	return out
}

// Response runs the on_response hook (if any).
func (e *ServerEngine) Response(resp *frame.Response) *frame.Response {
	h := e.hooks.Load()
	if h == nil || h.OnResponse == nil {
		return resp
	}
	out := resp
	recoverHook(e.logger, e.events, "on_response", func() {
		if rewritten := h.OnResponse(e.ctx, resp); rewritten != nil {
			out = rewritten
		}
	})
	return out
}

// Write runs the on_write hook (if any); writes never short-circuit the
// pipeline, so this has no return value.
func (e *ServerEngine) Write(unit uint8, address uint16, value uint16) {
	h := e.hooks.Load()
	if h == nil || h.OnWrite == nil {
		return
	}
	recoverHook(e.logger, e.events, "on_write", func() { h.OnWrite(e.ctx, unit, address, value) })
}
