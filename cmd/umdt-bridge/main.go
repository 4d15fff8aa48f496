// Command umdt-bridge relays Modbus traffic between an upstream listener
// and a downstream endpoint, optionally capturing both directions to
// PCAP files and republishing observed holding-register values over MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbralten/umdt/bridge"
	"github.com/kbralten/umdt/eventbus"
	"github.com/kbralten/umdt/script"
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
	listen := flag.String("listen", "", "upstream TCP listen address")
	upSerial := flag.String("upstream-serial", "", "upstream serial device path (instead of -listen)")
	downAddr := flag.String("downstream", "", "downstream TCP endpoint host:port")
	downSerial := flag.String("downstream-serial", "", "downstream serial device path")
	baud := flag.Int("baud", 9600, "serial baud rate (both sides)")
	timeout := flag.Duration("timeout", time.Second, "per-request downstream timeout")
	pcapUp := flag.String("pcap-upstream", "", "upstream capture file")
	pcapDown := flag.String("pcap-downstream", "", "downstream capture file")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL for telemetry snooping")
	mqttTopic := flag.String("mqtt-topic", "umdt/bridge/registers", "MQTT telemetry topic")
	mqttEvery := flag.Duration("mqtt-interval", 10*time.Second, "MQTT snapshot interval")
	flag.Parse()

	if (*listen == "") == (*upSerial == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -listen or -upstream-serial is required")
		return exitInvalidArgs
	}
	if (*downAddr == "") == (*downSerial == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -downstream or -downstream-serial is required")
		return exitInvalidArgs
	}
	if (*pcapUp == "") != (*pcapDown == "") {
		fmt.Fprintln(os.Stderr, "-pcap-upstream and -pcap-downstream must be given together")
		return exitInvalidArgs
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return exitFailure
	}
	defer logger.Sync()

	cfg := bridge.Config{
		UpstreamTCPAddr:    *listen,
		DownstreamTCPAddr:  *downAddr,
		RequestTimeout:     *timeout,
		UpstreamPCAPPath:   *pcapUp,
		DownstreamPCAPPath: *pcapDown,
	}
	if *upSerial != "" {
		cfg.UpstreamSerial = &serialport.Settings{Path: *upSerial, Baud: *baud, Parity: "N", DataBits: 8, StopBits: 1}
	}
	if *downSerial != "" {
		cfg.DownstreamSerial = &serialport.Settings{Path: *downSerial, Baud: *baud, Parity: "N", DataBits: 8, StopBits: 1}
	}

	events := eventbus.New(0)
	engine := script.NewBridgeEngine(logger, events)

	var telemetry *bridge.MQTTTelemetry
	if *mqttBroker != "" {
		telemetry, err = bridge.NewMQTTTelemetry(logger, bridge.MQTTTelemetryConfig{
			Broker: *mqttBroker,
			Topic:  *mqttTopic,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitTransport
		}
		defer telemetry.Close()
		engine.SetHooks(&script.BridgeHooks{
			Ingress:    telemetry.ObserveRequest,
			Response:   telemetry.ObserveResponse,
			OnPeriodic: telemetry.PublishSnapshot,
		})
		engine.SetPeriodic(*mqttEvery)
	}

	b := bridge.New(logger, cfg, events, engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTransport
	}
	if addr := b.Addr(); addr != "" {
		logger.Info("bridge listening", zap.String("addr", addr))
	}

	<-ctx.Done()
	b.Stop()
	return exitOK
}
