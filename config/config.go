// Package config loads mock-server configuration: register groups, rules,
// fault profiles and script registrations. The mock server's own
// load_config(path) operation consumes this package directly; front ends
// hand paths through without parsing anything themselves.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GroupType names the four addressable Modbus entities as they appear in
// a config file.
type GroupType string

const (
	TypeHolding  GroupType = "holding"
	TypeInput    GroupType = "input"
	TypeCoil     GroupType = "coil"
	TypeDiscrete GroupType = "discrete"
)

// GroupSpec is one `groups:` entry.
type GroupSpec struct {
	Name     string    `yaml:"name" json:"name"`
	Type     GroupType `yaml:"type" json:"type"`
	Start    uint16    `yaml:"start" json:"start"`
	Length   uint16    `yaml:"length" json:"length"`
	Writable *bool     `yaml:"writable,omitempty" json:"writable,omitempty"`
	Initial  []any     `yaml:"initial,omitempty" json:"initial,omitempty"`
}

// WritableOrDefault applies's default: holding/coil default true,
// input/discrete default false, unless the file overrides it.
func (g GroupSpec) WritableOrDefault() bool {
	if g.Writable != nil {
		return *g.Writable
	}
	return g.Type == TypeHolding || g.Type == TypeCoil
}

// RuleMode names a rule's behavior.
type RuleMode string

const (
	RuleFrozenValue RuleMode = "frozen-value"
	RuleIgnoreWrite RuleMode = "ignore-write"
	RuleException   RuleMode = "exception"
)

// RuleSpec is one `rules:` entry, string-keyed by decimal address in the
// raw file and expanded into Address by Load.
type RuleSpec struct {
	Address        uint16
	Mode           RuleMode `yaml:"mode" json:"mode"`
	ForcedValue    uint16   `yaml:"forced_value,omitempty" json:"forced_value,omitempty"`
	ExceptionCode  byte     `yaml:"exception_code,omitempty" json:"exception_code,omitempty"`
}

// FaultSpec is the `faults:` block.
type FaultSpec struct {
	LatencyMS    uint32  `yaml:"latency_ms" json:"latency_ms"`
	DropRate     float32 `yaml:"drop_rate" json:"drop_rate"`
	BitFlipRate  float32 `yaml:"bit_flip_rate" json:"bit_flip_rate"`
}

// ScriptSpec is one `scripts:` entry.
type ScriptSpec struct {
	Path    string `yaml:"path" json:"path"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// Document is the full config file shape.
type Document struct {
	DeviceName string       `yaml:"device_name" json:"device_name"`
	UnitID     uint8        `yaml:"unit_id" json:"unit_id"`
	Groups     []GroupSpec  `yaml:"groups" json:"groups"`
	Rules      rawRules     `yaml:"rules" json:"rules"`
	Faults     FaultSpec    `yaml:"faults" json:"faults"`
	Scripts    []ScriptSpec `yaml:"scripts" json:"scripts"`
}

// rawRules preserves the string-keyed-by-decimal-address shape the file
// uses on disk; Load expands it into []RuleSpec with a parsed Address.
type rawRules map[string]RuleSpec

// Load reads a YAML or JSON config file (detected by extension; `.json`
// decodes with encoding/json, anything else with yaml.v3) and returns the
// parsed document plus its rules expanded with numeric addresses.
func Load(path string) (*Document, []RuleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc Document
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	rules := make([]RuleSpec, 0, len(doc.Rules))
	for addrStr, r := range doc.Rules {
		addr, err := strconv.ParseUint(addrStr, 10, 16)
		if err != nil {
			return nil, nil, fmt.Errorf("config: rule key %q is not a decimal address: %w", addrStr, err)
		}
		r.Address = uint16(addr)
		rules = append(rules, r)
	}
	return &doc, rules, nil
}
