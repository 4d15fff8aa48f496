package transport

import (
	"context"
	"time"

	"github.com/kbralten/umdt/common"
)

// Passive decorates any Transport so Send always fails, guaranteeing
// electrical passivity for sniffer mode.
type Passive struct {
	inner Transport
}

func NewPassive(inner Transport) *Passive {
	return &Passive{inner: inner}
}

func (p *Passive) Open(ctx context.Context) error { return p.inner.Open(ctx) }
func (p *Passive) Close() error                   { return p.inner.Close() }

func (p *Passive) Send(ctx context.Context, data []byte) error {
	return &common.TransportError{Cause: common.ErrForbidden}
}

func (p *Passive) ReceiveFrame(ctx context.Context, timeout time.Duration) (*Frame, error) {
	return p.inner.ReceiveFrame(ctx, timeout)
}

func (p *Passive) Subscribe(o Observer) func() {
	return p.inner.Subscribe(o)
}
