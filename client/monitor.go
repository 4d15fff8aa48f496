package client

import (
	"context"
	"sync"
	"time"

	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/transport"
)

// Sample is one value emitted by Monitor.
type Sample struct {
	Result *ReadResult
	Err    error
	At     time.Time
}

// Monitor repeats Read(params) every interval, compensating sleep drift
// against a wall-clock anchor so the mean cadence matches interval over
// time. Read failures are surfaced as error events/samples
// and do not stop the stream; only ctx cancellation or transport closure
// ends it.
func (c *Client) Monitor(ctx context.Context, params ReadParams, interval time.Duration) <-chan Sample {
	out := make(chan Sample, 1)
	closed := make(chan struct{})
	var closeOnce sync.Once
	unsubscribe := c.transport.Subscribe(func(e transport.Event) {
		if e.Kind == transport.EventClosed {
			closeOnce.Do(func() { close(closed) })
		}
	})
	go func() {
		defer close(out)
		defer unsubscribe()
		anchor := time.Now()
		tick := 0
		for {
			tick++
			next := anchor.Add(time.Duration(tick) * interval)

			result, err := c.Read(ctx, params)
			sample := Sample{Result: result, Err: err, At: time.Now()}
			if err != nil {
				c.publish(eventbus.KindError, err)
			}
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}

			sleep := time.Until(next)
			if sleep < 0 {
				sleep = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-closed:
				return
			case <-time.After(sleep):
			}
		}
	}()
	return out
}
