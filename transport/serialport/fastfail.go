package serialport

import (
	"io"
	"time"

	bugst "go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/kbralten/umdt/transport"
)

// NewFastFail builds a serial transport for probing: it opens the port
// with go.bug.st/serial, whose native per-read timeouts let a dead
// combination fail in ~100ms instead of blocking a reader goroutine on a
// silent line. The regular transport keeps the goburrow backend; this
// constructor exists only for the probe sweep's aggressive-timeout path.
func NewFastFail(logger *zap.Logger, settings Settings, cfg transport.Config) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.FastFail = true
	t := &Transport{logger: logger, cfg: cfg, ObserverSet: transport.NewObserverSet(), settings: settings}
	t.opener = func() (io.ReadWriteCloser, error) {
		mode := &bugst.Mode{
			BaudRate: settings.Baud,
			DataBits: settings.DataBits,
			Parity:   bugstParity(settings.Parity),
			StopBits: bugstStopBits(settings.StopBits),
		}
		port, err := bugst.Open(settings.Path, mode)
		if err != nil {
			return nil, err
		}
		timeout := cfg.DefaultTimeout
		if timeout <= 0 {
			timeout = 100 * time.Millisecond
		}
		if err := port.SetReadTimeout(timeout); err != nil {
			port.Close()
			return nil, err
		}
		return port, nil
	}
	return t
}

func bugstParity(p string) bugst.Parity {
	switch p {
	case "E":
		return bugst.EvenParity
	case "O":
		return bugst.OddParity
	default:
		return bugst.NoParity
	}
}

func bugstStopBits(n int) bugst.StopBits {
	if n == 2 {
		return bugst.TwoStopBits
	}
	return bugst.OneStopBit
}
