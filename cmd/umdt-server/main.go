// Command umdt-server runs the mock Modbus server: a rule-driven register
// store behind a TCP listener or a serial line, with an interactive
// line-oriented console for live state mutation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/frame"
	"github.com/kbralten/umdt/mockserver"
	"github.com/kbralten/umdt/transport/serialport"
	"go.uber.org/zap"
)

const (
	exitOK = iota
	exitFailure
	exitInvalidArgs
	exitTransport
)

func main() {
	os.Exit(run())
}

func run() int {
	listen := flag.String("listen", "", "TCP listen address, e.g. :5020")
	serialPath := flag.String("serial", "", "serial device path (instead of -listen)")
	baud := flag.Int("baud", 9600, "serial baud rate")
	configPath := flag.String("config", "", "YAML/JSON config file")
	unit := flag.Uint("unit", 1, "unit id")
	repl := flag.Bool("repl", false, "read state commands from stdin")
	flag.Parse()

	if *listen == "" && *serialPath == "" {
		fmt.Fprintln(os.Stderr, "one of -listen or -serial is required")
		return exitInvalidArgs
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return exitFailure
	}
	defer logger.Sync()

	events := eventbus.New(0)
	srv := mockserver.NewServer(logger, uint8(*unit), events)

	if *configPath != "" {
		if err := srv.LoadConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitInvalidArgs
		}
	} else {
		// A bare server with nothing mapped answers every request with
		// IllegalDataAddress; give it a small default block instead.
		if err := srv.Store.AddGroup(mockserver.RegisterGroup{
			Name: "default", Type: frame.HoldingRegister, Start: 0, Length: 100, Writable: true,
		}, make([]uint16, 100), nil); err != nil {
			return exitFailure
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listen != "" {
		if err := srv.StartTCP(ctx, *listen); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitTransport
		}
		logger.Info("mock server listening", zap.String("addr", srv.Addr()))
	} else {
		settings := serialport.Settings{Path: *serialPath, Baud: *baud, Parity: "N", DataBits: 8, StopBits: 1}
		if err := srv.StartSerial(ctx, settings); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitTransport
		}
		logger.Info("mock server on serial line", zap.String("path", *serialPath))
	}

	if *repl {
		go mockserver.NewREPL(srv, os.Stdout).Run(os.Stdin)
	}

	<-ctx.Done()
	srv.Stop()
	return exitOK
}
