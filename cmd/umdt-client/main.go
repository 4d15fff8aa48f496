// Command umdt-client drives the client engine from the shell:
// read/write/monitor/scan/probe/decode against a TCP or serial endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kbralten/umdt/client"
	"github.com/kbralten/umdt/common"
	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/transport"
	"github.com/kbralten/umdt/transport/serialport"
	"github.com/kbralten/umdt/transport/tcp"
	"go.uber.org/zap"
)

const (
	exitOK = iota
	exitFailure
	exitInvalidArgs
	exitTransport
	exitException
	exitTimeout
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitInvalidArgs
	}
	cmd, rest := args[0], args[1:]

	logger, err := zap.NewDevelopment()
	if err != nil {
		return exitFailure
	}
	defer logger.Sync()

	switch cmd {
	case "read":
		return cmdRead(logger, rest)
	case "write":
		return cmdWrite(logger, rest)
	case "monitor":
		return cmdMonitor(logger, rest)
	case "scan":
		return cmdScan(logger, rest)
	case "probe":
		return cmdProbe(logger, rest)
	case "decode":
		return cmdDecode(rest)
	default:
		usage()
		return exitInvalidArgs
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: umdt-client read|write|monitor|scan|probe|decode [flags]")
}

type connFlags struct {
	addr   string
	serial string
	baud   int
	parity string
	unit   uint
}

func (c *connFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.addr, "addr", "", "TCP endpoint host:port")
	fs.StringVar(&c.serial, "serial", "", "serial device path")
	fs.IntVar(&c.baud, "baud", 9600, "serial baud rate")
	fs.StringVar(&c.parity, "parity", "N", "serial parity (N, E, O)")
	fs.UintVar(&c.unit, "unit", 1, "unit id")
}

func (c *connFlags) connect(logger *zap.Logger, events *eventbus.Bus) (*client.Client, func(), int) {
	var t transport.Transport
	mode := client.ModeTCP
	switch {
	case c.addr != "":
		t = tcp.NewClient(logger, c.addr, transport.Config{DefaultTimeout: 3 * time.Second})
	case c.serial != "":
		t = serialport.New(logger, serialport.Settings{
			Path: c.serial, Baud: c.baud, Parity: c.parity, DataBits: 8, StopBits: 1,
		}, transport.Config{DefaultTimeout: 3 * time.Second})
		mode = client.ModeRTU
	default:
		fmt.Fprintln(os.Stderr, "one of -addr or -serial is required")
		return nil, nil, exitInvalidArgs
	}
	if err := t.Open(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, exitTransport
	}
	return client.New(logger, t, mode, nil, events, 0), func() { t.Close() }, exitOK
}

func exitCodeFor(err error) int {
	var mex *common.ModbusException
	var tex *common.TimeoutError
	var trx *common.TransportError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &mex):
		return exitException
	case errors.As(err, &tex), errors.Is(err, common.ErrTimeout):
		return exitTimeout
	case errors.As(err, &trx):
		return exitTransport
	case errors.Is(err, common.ErrInvalidArgument):
		return exitInvalidArgs
	default:
		return exitFailure
	}
}

func dataTypeFlag(fs *flag.FlagSet) *string {
	return fs.String("type", "holding", "data type: holding|input|coil|discrete")
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

func cmdRead(logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	var conn connFlags
	conn.register(fs)
	dtName := dataTypeFlag(fs)
	address := fs.Uint("address", 0, "start address")
	count := fs.Uint("count", 1, "logical value count")
	long := fs.Bool("long", false, "each value spans 2 registers")
	endian := fs.String("endian", "big", "endian: big|little|mid-big|mid-little|all")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	dt, err := parseDataType(*dtName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidArgs
	}

	c, closeFn, code := conn.connect(logger, nil)
	if code != exitOK {
		return code
	}
	defer closeFn()

	res, err := c.Read(context.Background(), client.ReadParams{
		Unit: uint8(conn.unit), Type: dt, Address: uint16(*address),
		Count: uint16(*count), Long: *long, Endian: client.Endian32(*endian),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	printReadResult(res)
	return exitOK
}

func printReadResult(res *client.ReadResult) {
	if res.Bits != nil {
		fmt.Println(res.Bits)
		return
	}
	fmt.Printf("registers: %v\n", res.Registers)
	for i, rows := range res.Values32 {
		for _, n := range rows {
			fmt.Printf("value[%d] %-10s hex=%s uint32=%d int32=%d float32=%g\n",
				i, n.Mode, n.Hex, n.Uint32, n.Int32, n.Float32)
		}
	}
	for i, rows := range res.Values16 {
		for _, n := range rows {
			fmt.Printf("value[%d] %-6s hex=%s uint16=%d int16=%d float16=%g\n",
				i, n.Mode, n.Hex, n.Uint16, n.Int16, n.Float16)
		}
	}
}

func cmdWrite(logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	var conn connFlags
	conn.register(fs)
	dtName := dataTypeFlag(fs)
	address := fs.Uint("address", 0, "start address")
	value := fs.String("value", "", "value to write (decimal, 0x hex, or float with -float)")
	long := fs.Bool("long", false, "write as a 32-bit value spanning 2 registers")
	isFloat := fs.Bool("float", false, "value is a float")
	signed := fs.Bool("signed", false, "value is signed")
	endian := fs.String("endian", "big", "endian for 32-bit values")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	dt, err := parseDataType(*dtName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidArgs
	}

	params := client.WriteParams{
		Unit: uint8(conn.unit), Type: dt, Address: uint16(*address),
		Long: *long, Float: *isFloat, Signed: *signed, Endian: client.Endian32(*endian),
	}
	if code := parseWriteValue(&params, dt, *value, *isFloat, *long); code != exitOK {
		return code
	}

	c, closeFn, code := conn.connect(logger, nil)
	if code != exitOK {
		return code
	}
	defer closeFn()

	if err := c.Write(context.Background(), params); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	fmt.Println("ok")
	return exitOK
}

func parseWriteValue(params *client.WriteParams, dt frame.DataType, raw string, isFloat, long bool) int {
	if raw == "" {
		fmt.Fprintln(os.Stderr, "-value is required")
		return exitInvalidArgs
	}
	if dt.IsBit() {
		on := raw == "1" || strings.EqualFold(raw, "true") || strings.EqualFold(raw, "on")
		params.Bools = []bool{on}
		return exitOK
	}
	if isFloat {
		if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
			fmt.Fprintln(os.Stderr, "float values must be decimal")
			return exitInvalidArgs
		}
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitInvalidArgs
		}
		if long {
			pair := client.EncodeFloat32Registers(float32(f), params.Endian)
			params.Uint16s = pair[:]
		} else {
			params.Uint16s = []uint16{client.EncodeFloat16Register(float32(f))}
		}
		return exitOK
	}
	v, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidArgs
	}
	values, signed, err := client.NormalizeInteger(v, long, params.Signed)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidArgs
	}
	params.Signed = signed
	params.Uint16s = values
	return exitOK
}

func cmdMonitor(logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	var conn connFlags
	conn.register(fs)
	dtName := dataTypeFlag(fs)
	address := fs.Uint("address", 0, "start address")
	count := fs.Uint("count", 1, "logical value count")
	interval := fs.Duration("interval", time.Second, "sample interval")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	dt, err := parseDataType(*dtName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidArgs
	}

	c, closeFn, code := conn.connect(logger, nil)
	if code != exitOK {
		return code
	}
	defer closeFn()

	samples := c.Monitor(context.Background(), client.ReadParams{
		Unit: uint8(conn.unit), Type: dt, Address: uint16(*address), Count: uint16(*count),
	}, *interval)
	for s := range samples {
		if s.Err != nil {
			fmt.Fprintf(os.Stderr, "%s error: %v\n", s.At.Format(time.TimeOnly), s.Err)
			continue
		}
		if s.Result.Bits != nil {
			fmt.Printf("%s %v\n", s.At.Format(time.TimeOnly), s.Result.Bits)
		} else {
			fmt.Printf("%s %v\n", s.At.Format(time.TimeOnly), s.Result.Registers)
		}
	}
	return exitOK
}

func cmdScan(logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	var conn connFlags
	conn.register(fs)
	dtName := dataTypeFlag(fs)
	start := fs.Uint("start", 0, "first address")
	end := fs.Uint("end", 100, "one past the last address")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	dt, err := parseDataType(*dtName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidArgs
	}

	c, closeFn, code := conn.connect(logger, nil)
	if code != exitOK {
		return code
	}
	defer closeFn()

	results, err := c.Scan(context.Background(), uint8(conn.unit), dt, uint16(*start), uint16(*end))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	for _, r := range results {
		if r.IsBit {
			fmt.Printf("%5d %v\n", r.Address, r.Bit)
		} else {
			fmt.Printf("%5d %d\n", r.Address, r.Value)
		}
	}
	return exitOK
}

func cmdProbe(logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	hosts := fs.String("hosts", "", "comma-separated hosts to try")
	ports := fs.String("ports", "502", "comma-separated ports to try")
	units := fs.String("units", "1", "comma-separated unit ids to try")
	target := fs.Uint("target", 0, "register address the probe reads")
	timeout := fs.Duration("timeout", 100*time.Millisecond, "fast-fail timeout per combination")
	fanout := fs.Int("fanout", 8, "concurrent probe bound")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	if *hosts == "" {
		fmt.Fprintln(os.Stderr, "-hosts is required")
		return exitInvalidArgs
	}

	var combos []client.ProbeCombination
	for _, host := range strings.Split(*hosts, ",") {
		for _, portStr := range strings.Split(*ports, ",") {
			port, err := strconv.Atoi(strings.TrimSpace(portStr))
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return exitInvalidArgs
			}
			for _, unitStr := range strings.Split(*units, ",") {
				unit, err := strconv.ParseUint(strings.TrimSpace(unitStr), 10, 8)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					return exitInvalidArgs
				}
				combos = append(combos, client.ProbeCombination{
					Endpoint: client.Endpoint{TCP: &client.TCPEndpoint{Host: strings.TrimSpace(host), Port: port}},
					Unit:     uint8(unit),
				})
			}
		}
	}

	results := client.Probe(context.Background(), logger, combos, client.ProbeOptions{
		FanOut:  *fanout,
		Timeout: *timeout,
		Target:  client.ProbeTarget{Type: frame.HoldingRegister, Address: uint16(*target)},
	})
	alive := 0
	for _, r := range results {
		if !r.Alive {
			continue
		}
		alive++
		fmt.Printf("alive: %s:%d unit %d\n", r.Combination.Endpoint.TCP.Host, r.Combination.Endpoint.TCP.Port, r.Combination.Unit)
	}
	if alive == 0 {
		fmt.Println("no endpoints alive")
	}
	return exitOK
}

func cmdDecode(args []string) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: umdt-client decode <reg1> [reg2]")
		return exitInvalidArgs
	}
	r1, err := parseRegister(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidArgs
	}
	var r2 *uint16
	if len(args) == 2 {
		v, err := parseRegister(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitInvalidArgs
		}
		r2 = &v
	}

	table := client.DecodeRegisters(r1, r2)
	for _, n := range table.Sixteen {
		fmt.Printf("%-10s hex=%s uint16=%d int16=%d float16=%g\n", n.Mode, n.Hex, n.Uint16, n.Int16, n.Float16)
	}
	for _, n := range table.ThirtyTwo {
		fmt.Printf("%-10s hex=%s uint32=%d int32=%d float32=%g\n", n.Mode, n.Hex, n.Uint32, n.Int32, n.Float32)
	}
	return exitOK
}

func parseRegister(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("register %q: %w", s, err)
	}
	return uint16(v), nil
}
