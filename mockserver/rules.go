package mockserver

import (
	"sync/atomic"

	"github.com/kbralten/umdt/frame"
)

// RuleMode is one of the three per-address rule behaviors.
type RuleMode int

const (
	RuleFrozenValue RuleMode = iota
	RuleIgnoreWrite
	RuleException
)

// Rule overrides normal store access for one (data_type, address).
type Rule struct {
	Mode          RuleMode
	ForcedValue   uint16
	ForcedBit     bool
	ExceptionCode frame.ExceptionCode
}

// RuleKey identifies the address a Rule applies to.
type RuleKey struct {
	Type    frame.DataType
	Address uint16
}

// RuleTable holds the active rule set behind an atomic pointer so
// updates are all-or-nothing with respect to an in-flight request: a
// request sees the old table entirely or the new one entirely.
type RuleTable struct {
	ptr atomic.Pointer[map[RuleKey]Rule]
}

// NewRuleTable returns an empty table.
func NewRuleTable() *RuleTable {
	t := &RuleTable{}
	empty := make(map[RuleKey]Rule)
	t.ptr.Store(&empty)
	return t
}

// Lookup returns the rule for key, if one is set. Safe to call
// concurrently with Add/Remove — it reads a single atomic snapshot.
func (t *RuleTable) Lookup(key RuleKey) (Rule, bool) {
	m := *t.ptr.Load()
	r, ok := m[key]
	return r, ok
}

// Add installs or replaces the rule for key via copy-on-write: the old
// map is never mutated in place, so a reader mid-lookup always sees a
// complete map, never a half-updated one.
func (t *RuleTable) Add(key RuleKey, rule Rule) {
	for {
		old := t.ptr.Load()
		next := make(map[RuleKey]Rule, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[key] = rule
		if t.ptr.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Remove deletes the rule for key, if any.
func (t *RuleTable) Remove(key RuleKey) {
	for {
		old := t.ptr.Load()
		if _, ok := (*old)[key]; !ok {
			return
		}
		next := make(map[RuleKey]Rule, len(*old))
		for k, v := range *old {
			if k != key {
				next[k] = v
			}
		}
		if t.ptr.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Snapshot returns a copy of every installed rule, for the State API's
// snapshot() operation.
func (t *RuleTable) Snapshot() map[RuleKey]Rule {
	old := *t.ptr.Load()
	out := make(map[RuleKey]Rule, len(old))
	for k, v := range old {
		out[k] = v
	}
	return out
}
