package eventbus

import (
	"encoding/json"
	"io"
	"sync"
)

// TransactionLogger is an optional persistent sink that appends one
// JSON object per line for every request/response/error event it
// observes. It runs as an ordinary
// subscriber so it never blocks the publishing component.
type TransactionLogger struct {
	w    io.Writer
	mu   sync.Mutex
	stop func()
}

type logLine struct {
	Timestamp string `json:"timestamp"`
	Kind      Kind   `json:"kind"`
	Payload   any    `json:"payload"`
}

// NewTransactionLogger subscribes to bus and writes matching events to w
// until Close is called. Writes are serialized with a mutex but not
// flushed; crash durability, if it matters, is delegated to the caller's
// io.Writer (e.g. wrap w in a line-buffered file).
func NewTransactionLogger(bus *Bus, w io.Writer) *TransactionLogger {
	sub, unsubscribe := bus.Subscribe()
	t := &TransactionLogger{w: w, stop: unsubscribe}
	go func() {
		for e := range sub.Events() {
			t.write(e)
		}
	}()
	return t
}

func (t *TransactionLogger) write(e Event) {
	if e.Kind != KindRequest && e.Kind != KindResponse && e.Kind != KindError {
		return
	}
	line := logLine{Timestamp: e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), Kind: e.Kind, Payload: e.Payload}
	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	b = append(b, '\n')
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Write(b)
}

func (t *TransactionLogger) Close() { t.stop() }
