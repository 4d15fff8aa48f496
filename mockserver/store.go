// Package mockserver implements the mock Modbus server: a rule-driven,
// fault-injecting register/coil store reachable over TCP or serial, built
// around a generic data-type store rather than one handler per table.
package mockserver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/frame"
)

// RegisterGroup is one named, non-overlapping address range within a
// data-type namespace.
type RegisterGroup struct {
	Name        string
	Type        frame.DataType
	Start       uint16
	Length      uint16
	Writable    bool
	Description string
}

func (g RegisterGroup) contains(addr uint16) bool {
	return addr >= g.Start && addr < g.Start+g.Length
}

func (g RegisterGroup) overlaps(o RegisterGroup) bool {
	return g.Start < o.Start+o.Length && o.Start < g.Start+g.Length
}

// Store holds the register/coil values for every data type, grouped into
// RegisterGroups. Reads and writes are guarded so multi-register reads
// never observe a torn update.
type Store struct {
	mu       sync.RWMutex
	groups   map[frame.DataType][]RegisterGroup
	regs     map[frame.DataType]map[uint16]uint16
	bits     map[frame.DataType]map[uint16]bool
}

// NewStore builds an empty store; groups are added with AddGroup.
func NewStore() *Store {
	return &Store{
		groups: make(map[frame.DataType][]RegisterGroup),
		regs:   make(map[frame.DataType]map[uint16]uint16),
		bits:   make(map[frame.DataType]map[uint16]bool),
	}
}

// AddGroup registers a RegisterGroup, failing if it overlaps an existing
// group in the same data-type namespace.
func (s *Store) AddGroup(g RegisterGroup, initialRegs []uint16, initialBits []bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups[g.Type] {
		if g.overlaps(existing) {
			return fmt.Errorf("%w: group %q[%d,%d) overlaps %q[%d,%d) in %s namespace",
				common.ErrInvalidArgument, g.Name, g.Start, g.Start+g.Length,
				existing.Name, existing.Start, existing.Start+existing.Length, g.Type)
		}
	}

	s.groups[g.Type] = append(s.groups[g.Type], g)
	sort.Slice(s.groups[g.Type], func(i, j int) bool { return s.groups[g.Type][i].Start < s.groups[g.Type][j].Start })

	if g.Type.IsBit() {
		if s.bits[g.Type] == nil {
			s.bits[g.Type] = make(map[uint16]bool)
		}
		for i := uint16(0); i < g.Length; i++ {
			var v bool
			if int(i) < len(initialBits) {
				v = initialBits[i]
			}
			s.bits[g.Type][g.Start+i] = v
		}
	} else {
		if s.regs[g.Type] == nil {
			s.regs[g.Type] = make(map[uint16]uint16)
		}
		for i := uint16(0); i < g.Length; i++ {
			var v uint16
			if int(i) < len(initialRegs) {
				v = initialRegs[i]
			}
			s.regs[g.Type][g.Start+i] = v
		}
	}
	return nil
}

// groupAt returns the group covering addr in dt's namespace, if any.
// Caller holds s.mu.
func (s *Store) groupAt(dt frame.DataType, addr uint16) (RegisterGroup, bool) {
	for _, g := range s.groups[dt] {
		if g.contains(addr) {
			return g, true
		}
	}
	return RegisterGroup{}, false
}

// Covered reports whether every address in [start, start+count) falls
// inside a defined group for dt; uncovered reads answer with
// IllegalDataAddress.
func (s *Store) Covered(dt frame.DataType, start, count uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := uint16(0); i < count; i++ {
		if _, ok := s.groupAt(dt, start+i); !ok {
			return false
		}
	}
	return true
}

// Writable reports whether every address in the range belongs to a
// writable group.
func (s *Store) Writable(dt frame.DataType, start, count uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := uint16(0); i < count; i++ {
		g, ok := s.groupAt(dt, start+i)
		if !ok || !g.Writable {
			return false
		}
	}
	return true
}

// ReadRegisters returns count 16-bit values starting at start, taken
// under a single read lock so the range can't straddle a concurrent
// write (no torn 32-bit reads).
func (s *Store) ReadRegisters(dt frame.DataType, start, count uint16) []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint16, count)
	for i := range out {
		out[i] = s.regs[dt][start+uint16(i)]
	}
	return out
}

// ReadBits returns count bool values starting at start.
func (s *Store) ReadBits(dt frame.DataType, start, count uint16) []bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bool, count)
	for i := range out {
		out[i] = s.bits[dt][start+uint16(i)]
	}
	return out
}

// WriteRegisters stores values starting at start under a single write
// lock.
func (s *Store) WriteRegisters(dt frame.DataType, start uint16, values []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range values {
		s.regs[dt][start+uint16(i)] = v
	}
}

// WriteBits stores values starting at start under a single write lock.
func (s *Store) WriteBits(dt frame.DataType, start uint16, values []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range values {
		s.bits[dt][start+uint16(i)] = v
	}
}

// Snapshot is a point-in-time dump of every group and its current values,
// the `snapshot()` State API operation.
type Snapshot struct {
	Groups []GroupSnapshot
}

type GroupSnapshot struct {
	RegisterGroup
	Registers []uint16
	Bits      []bool
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out Snapshot
	for _, list := range s.groups {
		for _, g := range list {
			gs := GroupSnapshot{RegisterGroup: g}
			if g.Type.IsBit() {
				gs.Bits = make([]bool, g.Length)
				for i := range gs.Bits {
					gs.Bits[i] = s.bits[g.Type][g.Start+uint16(i)]
				}
			} else {
				gs.Registers = make([]uint16, g.Length)
				for i := range gs.Registers {
					gs.Registers[i] = s.regs[g.Type][g.Start+uint16(i)]
				}
			}
			out.Groups = append(out.Groups, gs)
		}
	}
	return out
}
