package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
device_name: boiler-sim
unit_id: 3
groups:
  - name: sensors
    type: input
    start: 0
    length: 8
  - name: setpoints
    type: holding
    start: 100
    length: 4
    writable: true
    initial: [10, 20, 30, 40]
rules:
  "100":
    mode: frozen-value
    forced_value: 1234
  "101":
    mode: exception
    exception_code: 2
faults:
  latency_ms: 50
  drop_rate: 0.1
  bit_flip_rate: 0
scripts:
  - path: hooks/watchdog.so
    enabled: true
`

const sampleJSON = `{
  "device_name": "boiler-sim",
  "unit_id": 3,
  "groups": [
    {"name": "sensors", "type": "input", "start": 0, "length": 8}
  ],
  "rules": {
    "5": {"mode": "ignore-write"}
  },
  "faults": {"latency_ms": 0, "drop_rate": 0, "bit_flip_rate": 0}
}`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	doc, rules, err := Load(writeTemp(t, "server.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "boiler-sim", doc.DeviceName)
	assert.Equal(t, uint8(3), doc.UnitID)
	require.Len(t, doc.Groups, 2)
	assert.Equal(t, TypeInput, doc.Groups[0].Type)
	assert.False(t, doc.Groups[0].WritableOrDefault())
	assert.True(t, doc.Groups[1].WritableOrDefault())
	assert.Equal(t, []any{10, 20, 30, 40}, doc.Groups[1].Initial)

	require.Len(t, rules, 2)
	byAddr := map[uint16]RuleSpec{}
	for _, r := range rules {
		byAddr[r.Address] = r
	}
	assert.Equal(t, RuleFrozenValue, byAddr[100].Mode)
	assert.Equal(t, uint16(1234), byAddr[100].ForcedValue)
	assert.Equal(t, RuleException, byAddr[101].Mode)
	assert.Equal(t, byte(2), byAddr[101].ExceptionCode)

	assert.Equal(t, uint32(50), doc.Faults.LatencyMS)
	require.Len(t, doc.Scripts, 1)
	assert.True(t, doc.Scripts[0].Enabled)
}

func TestLoadJSON(t *testing.T) {
	doc, rules, err := Load(writeTemp(t, "server.json", sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, "boiler-sim", doc.DeviceName)
	require.Len(t, rules, 1)
	assert.Equal(t, uint16(5), rules[0].Address)
	assert.Equal(t, RuleIgnoreWrite, rules[0].Mode)
}

func TestLoadIsIdempotent(t *testing.T) {
	path := writeTemp(t, "server.yaml", sampleYAML)
	doc1, rules1, err := Load(path)
	require.NoError(t, err)
	doc2, rules2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, doc1, doc2)
	assert.ElementsMatch(t, rules1, rules2)
}

func TestLoadRejectsBadRuleKey(t *testing.T) {
	bad := `
rules:
  "not-a-number":
    mode: ignore-write
`
	_, _, err := Load(writeTemp(t, "bad.yaml", bad))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestWritableDefaults(t *testing.T) {
	writable := true
	cases := []struct {
		g    GroupSpec
		want bool
	}{
		{GroupSpec{Type: TypeHolding}, true},
		{GroupSpec{Type: TypeCoil}, true},
		{GroupSpec{Type: TypeInput}, false},
		{GroupSpec{Type: TypeDiscrete}, false},
		{GroupSpec{Type: TypeInput, Writable: &writable}, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.g.WritableOrDefault(), "type %s", tc.g.Type)
	}
}
