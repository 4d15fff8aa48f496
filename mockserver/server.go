package mockserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/config"
	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/faults"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/script"
	"github.com/kbralten/umdt/transport"
	"github.com/kbralten/umdt/transport/serialport"
	"github.com/kbralten/umdt/transport/tcp"
	"go.uber.org/zap"
)

// idleTimeout is the per-ReceiveFrame deadline sessions use while idle;
// long enough that a quiet connection never gets mistaken for a dead one.
const idleTimeout = 24 * time.Hour

// Server is the mock server engine: a listener plus the store, rule
// table and fault injector every session's dispatcher shares. One struct
// covers both wire formats since there is a single dispatch pipeline.
type Server struct {
	logger *zap.Logger
	unit   uint8

	Store  *Store
	Rules  *RuleTable
	Faults *faults.Injector
	Events *eventbus.Bus

	dispatcher *Dispatcher

	mu        sync.Mutex
	listener  *tcp.Listener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewServer builds an idle server for unit with empty store/rules/faults.
// Groups are added with AddGroup or LoadConfig before Start.
func NewServer(logger *zap.Logger, unit uint8, events *eventbus.Bus) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := NewStore()
	rules := NewRuleTable()
	faults := faults.NewInjector(1)
	return &Server{
		logger:     logger,
		unit:       unit,
		Store:      store,
		Rules:      rules,
		Faults:     faults,
		Events:     events,
		dispatcher: NewDispatcher(logger, unit, store, rules, faults, events),
	}
}

// SetScriptEngine installs the script engine into the dispatch
// pipeline. Passing nil detaches it.
func (s *Server) SetScriptEngine(e *script.ServerEngine) { s.dispatcher.SetScriptEngine(e) }

// ReadRegister implements script.RegisterAccess for ctx.read_register.
func (s *Server) ReadRegister(unit uint8, address uint16, dt frame.DataType) (uint16, error) {
	if unit != s.unit {
		return 0, common.ErrInvalidArgument
	}
	if dt.IsBit() {
		b, ok := s.GetBit(dt, address)
		if !ok {
			return 0, common.ErrInvalidArgument
		}
		if b {
			return 1, nil
		}
		return 0, nil
	}
	v, ok := s.Get(dt, address)
	if !ok {
		return 0, common.ErrInvalidArgument
	}
	return v, nil
}

// WriteRegister implements script.RegisterAccess for ctx.write_register.
func (s *Server) WriteRegister(unit uint8, address uint16, value uint16, dt frame.DataType) error {
	if unit != s.unit {
		return common.ErrInvalidArgument
	}
	ok := false
	if dt.IsBit() {
		ok = s.SetBit(dt, address, value != 0)
	} else {
		ok = s.Set(dt, address, value)
	}
	if !ok {
		return common.ErrInvalidArgument
	}
	return nil
}

// StartTCP begins accepting connections on addr; each accepted socket
// gets its own Session and frame-decoder state.
func (s *Server) StartTCP(ctx context.Context, addr string) error {
	l, err := tcp.Listen(s.logger, addr, transport.Config{DefaultTimeout: idleTimeout})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.publish(eventbus.KindLifecycle, map[string]any{"event": "started", "addr": l.Addr().String()})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			t, err := l.Accept(runCtx)
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				sess := NewTCPSession(s.logger, t, s.dispatcher, s.Events)
				sess.Run(runCtx)
			}()
		}
	}()
	return nil
}

// Addr returns the TCP listener's bound address, or "" before StartTCP.
// Useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// StartSerial runs a single RTU session over settings until ctx is
// cancelled.
func (s *Server) StartSerial(ctx context.Context, settings serialport.Settings) error {
	t := serialport.New(s.logger, settings, transport.Config{DefaultTimeout: idleTimeout})
	if err := t.Open(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.publish(eventbus.KindLifecycle, map[string]any{"event": "started", "addr": settings.Path})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess := NewRTUSession(s.logger, t, s.dispatcher, s.Events)
		sess.Run(runCtx)
	}()
	return nil
}

// Stop cancels every session and closes the listener, waiting for
// in-flight sessions to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	listener := s.listener
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if listener != nil {
		listener.Close()
	}
	s.wg.Wait()
	s.publish(eventbus.KindLifecycle, map[string]any{"event": "stopped"})
}

func (s *Server) publish(kind eventbus.Kind, payload any) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(eventbus.Event{Kind: kind, Payload: payload})
}

// --- State API ---

// Get implements the `get(data_type, address)` State API call for a
// register-typed data type.
func (s *Server) Get(dt frame.DataType, address uint16) (uint16, bool) {
	if dt.IsBit() {
		return 0, false
	}
	if !s.Store.Covered(dt, address, 1) {
		return 0, false
	}
	return s.Store.ReadRegisters(dt, address, 1)[0], true
}

// GetBit implements `get` for a bit-typed data type.
func (s *Server) GetBit(dt frame.DataType, address uint16) (bool, bool) {
	if !dt.IsBit() {
		return false, false
	}
	if !s.Store.Covered(dt, address, 1) {
		return false, false
	}
	return s.Store.ReadBits(dt, address, 1)[0], true
}

// Set implements `set(data_type, address, value)` for registers.
func (s *Server) Set(dt frame.DataType, address, value uint16) bool {
	if dt.IsBit() || !s.Store.Covered(dt, address, 1) {
		return false
	}
	s.Store.WriteRegisters(dt, address, []uint16{value})
	return true
}

// SetBit implements `set` for bits.
func (s *Server) SetBit(dt frame.DataType, address uint16, value bool) bool {
	if !dt.IsBit() || !s.Store.Covered(dt, address, 1) {
		return false
	}
	s.Store.WriteBits(dt, address, []bool{value})
	return true
}

// AddRule implements `add_rule(data_type, address, rule)`.
func (s *Server) AddRule(key RuleKey, rule Rule) {
	s.Rules.Add(key, rule)
}

// RemoveRule implements `remove_rule(data_type, address)`.
func (s *Server) RemoveRule(key RuleKey) {
	s.Rules.Remove(key)
}

// UpdateFaults implements `update_faults(profile)`.
func (s *Server) UpdateFaults(p faults.Profile) {
	s.Faults.Update(p)
}

// Snapshot implements `snapshot() -> full state dump`.
func (s *Server) Snapshot() Snapshot {
	return s.Store.Snapshot()
}

// Subscribe implements `subscribe(observer)`, returning an unsubscribe
// function, by delegating straight to the shared event bus.
func (s *Server) Subscribe() (*eventbus.Subscriber, func()) {
	return s.Events.Subscribe()
}

// LoadConfig implements `load_config(path)`: parses the file and installs
// its groups, rules and fault profile.
func (s *Server) LoadConfig(path string) error {
	doc, rules, err := config.Load(path)
	if err != nil {
		return err
	}

	for _, g := range doc.Groups {
		dt, err := dataTypeOf(g.Type)
		if err != nil {
			return fmt.Errorf("mockserver: group %q: %w", g.Name, err)
		}
		group := RegisterGroup{Name: g.Name, Type: dt, Start: g.Start, Length: g.Length, Writable: g.WritableOrDefault()}
		if dt.IsBit() {
			bits := make([]bool, 0, len(g.Initial))
			for _, v := range g.Initial {
				b, _ := v.(bool)
				bits = append(bits, b)
			}
			if err := s.Store.AddGroup(group, nil, bits); err != nil {
				return err
			}
		} else {
			regs := make([]uint16, 0, len(g.Initial))
			for _, v := range g.Initial {
				switch n := v.(type) {
				case int:
					regs = append(regs, uint16(n))
				case float64:
					regs = append(regs, uint16(n))
				}
			}
			if err := s.Store.AddGroup(group, regs, nil); err != nil {
				return err
			}
		}
	}

	for _, r := range rules {
		dt := frame.HoldingRegister // the string-keyed rules block addresses the holding namespace
		var rule Rule
		switch r.Mode {
		case config.RuleFrozenValue:
			rule = Rule{Mode: RuleFrozenValue, ForcedValue: r.ForcedValue}
		case config.RuleIgnoreWrite:
			rule = Rule{Mode: RuleIgnoreWrite}
		case config.RuleException:
			rule = Rule{Mode: RuleException, ExceptionCode: frame.ExceptionCode(r.ExceptionCode)}
		}
		s.Rules.Add(RuleKey{Type: dt, Address: r.Address}, rule)
	}

	s.Faults.Update(faults.Profile{
		LatencyMS:   doc.Faults.LatencyMS,
		DropRate:    doc.Faults.DropRate,
		BitFlipRate: doc.Faults.BitFlipRate,
	})
	return nil
}

func dataTypeOf(t config.GroupType) (frame.DataType, error) {
	switch t {
	case config.TypeHolding:
		return frame.HoldingRegister, nil
	case config.TypeInput:
		return frame.InputRegister, nil
	case config.TypeCoil:
		return frame.Coil, nil
	case config.TypeDiscrete:
		return frame.DiscreteInput, nil
	default:
		return 0, fmt.Errorf("unknown group type %q", t)
	}
}
