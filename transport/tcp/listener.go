package tcp

import (
	"context"
	"net"

	"github.com/kbralten/umdt/transport"
	"go.uber.org/zap"
)

// Listener accepts many concurrent upstream TCP connections, one
// transport.Transport per socket, used by both the mock server and the
// bridge's upstream side.
type Listener struct {
	logger   *zap.Logger
	listener net.Listener
	cfg      transport.Config
}

func Listen(logger *zap.Logger, addr string, cfg transport.Config) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{logger: logger, listener: l, cfg: cfg}, nil
}

// Accept blocks for the next inbound connection and wraps it as a
// transport.Transport, or returns ctx.Err() if cancelled first.
func (l *Listener) Accept(ctx context.Context) (*Transport, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.listener.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		l.logger.Debug("accepted TCP connection", zap.String("remoteAddr", r.conn.RemoteAddr().String()))
		return NewFromConn(l.logger, r.conn, l.cfg), nil
	}
}

func (l *Listener) Close() error { return l.listener.Close() }

func (l *Listener) Addr() net.Addr { return l.listener.Addr() }
