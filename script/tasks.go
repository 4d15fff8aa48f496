package script

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
)

// TaskManager owns every background task a script has scheduled via
// ctx.schedule_task and cancels them all on shutdown.
type TaskManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	cron *cron.Cron
}

// NewTaskManager derives a cancellable child of parent; cancelling the
// manager cancels every task spawned through it.
func NewTaskManager(parent context.Context) *TaskManager {
	ctx, cancel := context.WithCancel(parent)
	return &TaskManager{ctx: ctx, cancel: cancel}
}

// Schedule runs fn in a managed goroutine. fn should itself loop/select
// on ctx.Done() for anything long-running (a plain ticker task, a
// one-shot poll, etc).
func (t *TaskManager) Schedule(fn func(ctx context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn(t.ctx)
	}()
}

// ScheduleCron runs fn on the given cron-style schedule (e.g. "*/5 * * *
// *") using github.com/robfig/cron/v3, for scripts that need calendar
// scheduling rather than a fixed interval — e.g. a bridge's periodic MQTT
// republish hook running only during a maintenance window.
func (t *TaskManager) ScheduleCron(spec string, fn func(ctx context.Context)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cron == nil {
		t.cron = cron.New()
		t.cron.Start()
	}
	_, err := t.cron.AddFunc(spec, func() { fn(t.ctx) })
	return err
}

// CancelAndWait cancels every scheduled task and blocks until they all
// exit. The wait has no deadline: a task that ignores ctx.Done() keeps it
// blocked. The engines' 2s grace period bounds only the on_stop hook.
func (t *TaskManager) CancelAndWait() {
	t.cancel()
	t.mu.Lock()
	c := t.cron
	t.mu.Unlock()
	if c != nil {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}
	t.wg.Wait()
}
