// Command gateway runs the battery string gateway: it polls BMUs over
// CAN-FD, decodes their telemetry into a Modbus register file, serves that
// register file over Modbus/TCP, and optionally mirrors decoded snapshots
// to an MQTT broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/fleetops/bms-gateway/balancing"
	"github.com/fleetops/bms-gateway/cantransport"
	"github.com/fleetops/bms-gateway/cantransport/slcan"
	"github.com/fleetops/bms-gateway/cantransport/socketcan"
	"github.com/fleetops/bms-gateway/gatewayconfig"
	"github.com/fleetops/bms-gateway/modbus"
	"github.com/fleetops/bms-gateway/querycycle"
	"github.com/fleetops/bms-gateway/registerfile"
	"github.com/fleetops/bms-gateway/telemetry/mqttpublish"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath     = flag.String("config", "", "path to the gateway YAML config file")
		canInterface   = flag.String("can-interface", "", "override can_interface")
		modbusBindHost = flag.String("modbus-bind-host", "", "override modbus_bind_host")
		modbusBindPort = flag.Int("modbus-bind-port", 0, "override modbus_bind_port")
	)
	flag.Parse()

	log := slog.Default()

	cfg := gatewayconfig.Defaults()
	if *configPath != "" {
		loaded, err := gatewayconfig.Load(*configPath)
		if err != nil {
			log.Error("loading config failed", "error", err)
			return 1
		}
		cfg = loaded
	}
	if *canInterface != "" {
		cfg.CANInterface = *canInterface
	}
	if *modbusBindHost != "" {
		cfg.ModbusBindHost = *modbusBindHost
	}
	if *modbusBindPort != 0 {
		cfg.ModbusBindPort = *modbusBindPort
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		return 1
	}

	transport, err := buildCANTransport(cfg, log)
	if err != nil {
		log.Error("building CAN transport failed", "error", err)
		return 1
	}

	regs := registerfile.New(registerfile.DefaultWordCount, registerfile.DefaultBitCount)
	if err := regs.SeedDefaults(); err != nil {
		log.Error("seeding register file failed", "error", err)
		return 1
	}
	intents := balancing.NewIntentLatch()

	var publisher querycycle.SnapshotPublisher
	if cfg.MQTTBroker != "" {
		mp := mqttpublish.New(mqttpublish.Config{
			Broker:      cfg.MQTTBroker,
			TopicPrefix: cfg.MQTTTopic,
			Logger:      log,
		})
		if err := mp.Start(context.Background()); err != nil {
			log.Error("connecting to MQTT broker failed", "error", err)
			return 1
		}
		defer mp.Stop()
		publisher = mp
	}

	cycle := querycycle.New(querycycle.Config{
		QueryPeriod:     secondsToDuration(cfg.QueryPeriodSec),
		CollectDeadline: secondsToDuration(cfg.CollectTimeoutSec),
		StringID:        cfg.StringID,
		Publisher:       publisher,
		Logger:          log,
	}, transport, regs, intents)

	server := modbus.NewServer(modbus.Config{
		BindHost: cfg.ModbusBindHost,
		BindPort: strconv.Itoa(cfg.ModbusBindPort),
		Logger:   log,
	}, regs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := transport.Start(ctx); err != nil {
		log.Error("starting CAN transport failed", "error", err)
		return 1
	}
	defer func() {
		if err := transport.Stop(); err != nil {
			log.Error("stopping CAN transport failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		log.Error("starting Modbus server failed", "error", err)
		return 1
	}
	defer server.Stop()

	cycle.Start(ctx)
	defer cycle.Stop()

	log.Info("gateway running",
		"can_interface", cfg.CANInterface,
		"modbus_addr", fmt.Sprintf("%s:%d", cfg.ModbusBindHost, cfg.ModbusBindPort),
		"string_id", cfg.StringID,
	)

	<-ctx.Done()
	log.Info("shutting down")
	return 0
}

func buildCANTransport(cfg gatewayconfig.Config, log *slog.Logger) (cantransport.Transport, error) {
	switch cfg.CANTransport {
	case "socketcan":
		return socketcan.New(socketcan.Config{
			Interface: cfg.CANInterface,
			Logger:    log,
		}), nil
	case "slcan":
		return slcan.New(slcan.Config{
			Port:     cfg.SerialPort,
			BaudRate: cfg.SerialBaudRate,
			Logger:   log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown can_transport %q", cfg.CANTransport)
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
