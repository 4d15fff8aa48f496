// Package script hosts user-supplied hooks behind a restricted `ctx`
// capability surface: a per-script state map, a structured logger,
// cooperative sleep, managed background tasks, and
// (server-side only) direct register access. Hooks run single-threaded
// and cooperative; a panicking hook is caught, logged and downgraded to
// pass-through so a buggy script can never halt the pipeline it's
// attached to.
package script

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/frame"
	"go.uber.org/zap"
)

// RegisterAccess is the server-only slice of ctx — read_register and
// write_register — implemented by mockserver.Server. Bridge
// contexts leave this nil; calling it there returns ErrNotImplemented.
type RegisterAccess interface {
	ReadRegister(unit uint8, address uint16, dt frame.DataType) (uint16, error)
	WriteRegister(unit uint8, address uint16, value uint16, dt frame.DataType) error
}

// Context is the `ctx` object passed to every hook. One Context is
// shared by every hook belonging to the same script instance so
// ctx.state persists across calls.
type Context struct {
	logger    *zap.Logger
	events    *eventbus.Bus
	registers RegisterAccess
	tasks     *TaskManager

	mu    sync.Mutex
	state map[string]any
}

// NewContext builds a context. registers may be nil (bridge side).
func NewContext(logger *zap.Logger, events *eventbus.Bus, registers RegisterAccess, tasks *TaskManager) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{logger: logger, events: events, registers: registers, tasks: tasks, state: make(map[string]any)}
}

// State returns the per-script scalar-typed value stored under key.
func (c *Context) State(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

// SetState stores a scalar-typed value under key.
func (c *Context) SetState(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

// Log levels mirroring ctx.log's debug/info/warning/error
func (c *Context) Debug(msg string, fields ...zap.Field)   { c.logger.Debug(msg, fields...) }
func (c *Context) Info(msg string, fields ...zap.Field)    { c.logger.Info(msg, fields...) }
func (c *Context) Warning(msg string, fields ...zap.Field) { c.logger.Warn(msg, fields...) }
func (c *Context) Error(msg string, fields ...zap.Field)   { c.logger.Error(msg, fields...) }

// Sleep is ctx.sleep(seconds): a cooperative suspension point that
// returns early with ctx's error if the caller's context is cancelled
// first. Holding nothing across this suspension is the hook's own
// responsibility, same as any other await.
func (c *Context) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduleTask is ctx.schedule_task(task): spawns a managed background
// goroutine that is cancelled when the owning engine stops.
func (c *Context) ScheduleTask(fn func(ctx context.Context)) {
	if c.tasks == nil {
		return
	}
	c.tasks.Schedule(fn)
}

// ReadRegister is ctx.read_register(unit, address, data_type), server
// hooks only.
func (c *Context) ReadRegister(unit uint8, address uint16, dt frame.DataType) (uint16, error) {
	if c.registers == nil {
		return 0, common.ErrNotImplemented
	}
	return c.registers.ReadRegister(unit, address, dt)
}

// WriteRegister is ctx.write_register(unit, address, value, data_type),
// server hooks only.
func (c *Context) WriteRegister(unit uint8, address uint16, value uint16, dt frame.DataType) error {
	if c.registers == nil {
		return common.ErrNotImplemented
	}
	return c.registers.WriteRegister(unit, address, value, dt)
}

// MakeResponseException is ctx.make_response_exception(request, code): it
// builds an exception response matching the request's unit and function.
func (c *Context) MakeResponseException(req *frame.Request, code frame.ExceptionCode) *frame.Response {
	return &frame.Response{
		UnitID:        req.UnitID,
		Function:      req.Function.Exception(),
		IsException:   true,
		ExceptionCode: code,
	}
}

// EmitEvent is ctx.emit_event(name, payload): publishes to the shared
// event bus tagged as a lifecycle event carrying the script's event name.
func (c *Context) EmitEvent(name string, payload any) {
	if c.events == nil {
		return
	}
	c.events.Publish(eventbus.Event{Kind: eventbus.KindLifecycle, Payload: map[string]any{"script_event": name, "payload": payload}})
}

// recoverHook runs fn, converting a panic into a logged ScriptError so
// the surrounding pipeline continues with the value it already had.
func recoverHook(logger *zap.Logger, events *eventbus.Bus, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := &common.ScriptError{Message: fmt.Sprintf("%v", r)}
			logger.Error("script hook panicked, passing through unchanged", zap.String("hook", name), zap.Error(err))
			if events != nil {
				events.Publish(eventbus.Event{Kind: eventbus.KindError, Payload: err})
			}
		}
	}()
	fn()
}
