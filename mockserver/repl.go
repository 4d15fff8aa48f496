package mockserver

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kbralten/umdt/frame"
)

// REPL is a line-oriented command processor over the State API, letting
// an operator mutate a running server from a terminal. Commands:
//
//	get <type> <addr>
//	set <type> <addr> <value>
//	rule <type> <addr> frozen-value <v> | ignore-write | exception <code>
//	unrule <type> <addr>
//	fault latency <ms> drop <rate> bitflip <rate>
//	load <path>
//	snapshot
type REPL struct {
	server *Server
	out    io.Writer
}

// NewREPL wires a REPL to server, writing command output to out.
func NewREPL(server *Server, out io.Writer) *REPL {
	return &REPL{server: server, out: out}
}

// Run processes lines from in until EOF or a "quit" command.
func (r *REPL) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := r.dispatch(line); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (r *REPL) dispatch(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "get":
		return r.cmdGet(fields[1:])
	case "set":
		return r.cmdSet(fields[1:])
	case "rule":
		return r.cmdRule(fields[1:])
	case "unrule":
		return r.cmdUnrule(fields[1:])
	case "fault":
		return r.cmdFault(fields[1:])
	case "load":
		return r.cmdLoad(fields[1:])
	case "snapshot":
		return r.cmdSnapshot()
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func (r *REPL) cmdGet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: get <type> <addr>")
	}
	dt, err := parseDataType(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	if dt.IsBit() {
		v, ok := r.server.GetBit(dt, addr)
		if !ok {
			return fmt.Errorf("address %d not covered", addr)
		}
		fmt.Fprintf(r.out, "%v\n", v)
		return nil
	}
	v, ok := r.server.Get(dt, addr)
	if !ok {
		return fmt.Errorf("address %d not covered", addr)
	}
	fmt.Fprintf(r.out, "%d\n", v)
	return nil
}

func (r *REPL) cmdSet(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: set <type> <addr> <value>")
	}
	dt, err := parseDataType(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	if dt.IsBit() {
		v := args[2] == "true" || args[2] == "1"
		if !r.server.SetBit(dt, addr, v) {
			return fmt.Errorf("address %d not writable", addr)
		}
		return nil
	}
	v, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return err
	}
	if !r.server.Set(dt, addr, uint16(v)) {
		return fmt.Errorf("address %d not writable", addr)
	}
	return nil
}

func (r *REPL) cmdRule(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: rule <type> <addr> <mode> [value]")
	}
	dt, err := parseDataType(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	key := RuleKey{Type: dt, Address: addr}
	switch args[2] {
	case "frozen-value":
		if len(args) != 4 {
			return fmt.Errorf("usage: rule <type> <addr> frozen-value <v>")
		}
		v, err := strconv.ParseUint(args[3], 10, 16)
		if err != nil {
			return err
		}
		r.server.AddRule(key, Rule{Mode: RuleFrozenValue, ForcedValue: uint16(v), ForcedBit: v != 0})
	case "ignore-write":
		r.server.AddRule(key, Rule{Mode: RuleIgnoreWrite})
	case "exception":
		if len(args) != 4 {
			return fmt.Errorf("usage: rule <type> <addr> exception <code>")
		}
		c, err := strconv.ParseUint(args[3], 10, 8)
		if err != nil {
			return err
		}
		r.server.AddRule(key, Rule{Mode: RuleException, ExceptionCode: frame.ExceptionCode(c)})
	default:
		return fmt.Errorf("unknown rule mode %q", args[2])
	}
	return nil
}

func (r *REPL) cmdUnrule(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: unrule <type> <addr>")
	}
	dt, err := parseDataType(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	r.server.RemoveRule(RuleKey{Type: dt, Address: addr})
	return nil
}

func (r *REPL) cmdFault(args []string) error {
	p := r.server.Faults.Profile()
	for i := 0; i+1 < len(args); i += 2 {
		key, val := args[i], args[i+1]
		switch key {
		case "latency":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return err
			}
			p.LatencyMS = uint32(v)
		case "drop":
			v, err := strconv.ParseFloat(val, 32)
			if err != nil {
				return err
			}
			p.DropRate = float32(v)
		case "bitflip":
			v, err := strconv.ParseFloat(val, 32)
			if err != nil {
				return err
			}
			p.BitFlipRate = float32(v)
		default:
			return fmt.Errorf("unknown fault key %q", key)
		}
	}
	r.server.UpdateFaults(p)
	return nil
}

func (r *REPL) cmdLoad(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: load <path>")
	}
	return r.server.LoadConfig(args[0])
}

func (r *REPL) cmdSnapshot() error {
	snap := r.server.Snapshot()
	for _, g := range snap.Groups {
		if g.Type.IsBit() {
			fmt.Fprintf(r.out, "%s %s [%d,%d) = %v\n", g.Name, g.Type, g.Start, g.Start+g.Length, g.Bits)
		} else {
			fmt.Fprintf(r.out, "%s %s [%d,%d) = %v\n", g.Name, g.Type, g.Start, g.Start+g.Length, g.Registers)
		}
	}
	return nil
}

func parseDataType(s string) (frame.DataType, error) {
	switch s {
	case "holding":
		return frame.HoldingRegister, nil
	case "input":
		return frame.InputRegister, nil
	case "coil":
		return frame.Coil, nil
	case "discrete":
		return frame.DiscreteInput, nil
	default:
		return 0, fmt.Errorf("unknown data type %q", s)
	}
}

func parseAddr(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
