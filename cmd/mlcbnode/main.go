package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aldas/go-mlcb"
	"github.com/aldas/go-mlcb/addressmapper"
	"github.com/aldas/go-mlcb/gridconnect"
	"github.com/aldas/go-mlcb/internal/config"
	"github.com/aldas/go-mlcb/monitor"
	"github.com/aldas/go-mlcb/socketcan"
	"github.com/aldas/go-mlcb/store"
	"github.com/aldas/go-mlcb/ui"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const snapshotInterval = 1 * time.Second

type nodeStore interface {
	mlcb.Store
	io.Closer
}

type memoryStore struct {
	*store.Memory
}

func (memoryStore) Close() error { return nil }

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	withShell := flag.Bool("shell", false, "starts interactive operator shell")
	flimOnStart := flag.Bool("flim", false, "requests node number on start when node is in SLiM mode")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	logger.SetLevel(level)

	transport, err := openTransport(cfg.Transport, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer transport.Close()

	st, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	params, err := mlcb.NewParams(paramsConfig(cfg))
	if err != nil {
		log.Fatal(err)
	}

	node, err := mlcb.NewNode(transport, st, mlcb.Config{
		Params:            params,
		Name:              cfg.Node.Name,
		MessagesPerPoll:   cfg.Node.MessagesPerPoll,
		HeartbeatInterval: time.Duration(cfg.Node.HeartbeatIntervalMs) * time.Millisecond,
		DisableHeartbeat:  cfg.Node.DisableHeartbeat,
		Logger:            logger,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("# Node started: NN %v, CANID %v, mode %v\n", node.NodeNumber(), node.CANID(), node.Mode())

	mapper := addressmapper.NewAddressMapper()
	node.SetFrameHandler(func(frame mlcb.Frame) {
		if mapper.Process(frame) {
			logger.WithField("canid", frame.CANID()).Debug("bus node mapping changed")
		}
	})
	node.SetEventHandlerEx(func(index uint8, frame mlcb.Frame, isOn bool, firstEV uint8) {
		logger.WithFields(logrus.Fields{
			"index":  index,
			"opcode": frame.OpCode(),
			"on":     isOn,
			"ev1":    firstEV,
		}).Info("event received")
	})

	pool := mlcb.NewMultipartPool(node, mlcb.MultipartConfig{
		FragmentDelay:   time.Duration(cfg.Multipart.FragmentDelayMs) * time.Millisecond,
		ReceiveTimeout:  time.Duration(cfg.Multipart.TimeoutMs) * time.Millisecond,
		DisableCRC:      cfg.Multipart.DisableCRC,
		ReceiveContexts: cfg.Multipart.ReceiveContexts,
		SendContexts:    cfg.Multipart.SendContexts,
		BufferSize:      cfg.Multipart.BufferSize,
		Logger:          logger,
	})
	if len(cfg.Multipart.StreamIDs) > 0 {
		pool.Subscribe(cfg.Multipart.StreamIDs, func(data []byte, streamID uint8, status mlcb.MultipartStatus) {
			logger.WithFields(logrus.Fields{
				"stream": streamID,
				"status": status,
				"length": len(data),
			}).Info("multipart message received")
		})
	}
	node.SetMultipartProcessor(pool)

	button := &panel{}
	node.SetIndicators(
		ui.NewLED(ledWriter(logger, "green")),
		ui.NewLED(ledWriter(logger, "yellow")),
	)
	node.SetSwitch(ui.NewSwitch(button.read))

	if *flimOnStart && node.Mode() == mlcb.ModeSLiM {
		node.InitFLiM()
	}

	var mon *monitor.Monitor
	if cfg.Monitor.Address != "" {
		mon = monitor.New()
		server := &http.Server{Addr: cfg.Monitor.Address, Handler: mon.Router()}
		go func() {
			fmt.Printf("# Starting monitor on %v\n", cfg.Monitor.Address)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("monitor server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	commands := make(chan func())
	if *withShell {
		shell := newShell(commands, node, pool, mapper, button)
		go func() {
			shell.Start()
			cancel() // exit command stops the node
		}()
		defer shell.Stop()
	}

	runLoop(ctx, node, mon, commands, time.Duration(cfg.Node.PollIntervalMs)*time.Millisecond)
	fmt.Printf("# Node stopped\n")
}

// runLoop calls node Process periodically. All node access happens in this goroutine.
func runLoop(ctx context.Context, node *mlcb.Node, mon *monitor.Monitor, commands <-chan func(), interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSnapshot := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands:
			cmd()
		case now := <-ticker.C:
			node.Process()
			if mon != nil && now.Sub(lastSnapshot) >= snapshotInterval {
				lastSnapshot = now
				events, err := node.Events()
				if err != nil {
					fmt.Printf("# Error reading events: %v\n", err)
				}
				mon.Publish(node.Status(), events)
			}
		}
	}
}

// ledWriter logs LED state changes. There is no physical LED attached to the host.
func ledWriter(logger logrus.FieldLogger, name string) func(on bool) {
	last := false
	return func(on bool) {
		if on == last {
			return
		}
		last = on
		logger.WithFields(logrus.Fields{"led": name, "on": on}).Trace("LED changed")
	}
}

func openTransport(c config.TransportConfig, logger logrus.FieldLogger) (mlcb.Transport, error) {
	switch c.Type {
	case config.TransportGridConnect:
		port, err := serial.OpenPort(&serial.Config{
			Name: c.SerialPort,
			Baud: c.Baud,
			// ReadTimeout is duration that Read call is allowed to block so reader goroutine can notice Close
			ReadTimeout: 100 * time.Millisecond,
			Size:        8,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}
		device := gridconnect.NewDevice(port, gridconnect.Config{
			DebugLogRawMessageBytes: c.DebugLogRawMessageBytes,
			Logger:                  logger,
		})
		fmt.Printf("# Initializing GridConnect device: %v\n", c.SerialPort)
		if err := device.Initialize(); err != nil {
			_ = port.Close()
			return nil, err
		}
		return device, nil
	default:
		device := socketcan.NewDevice(socketcan.DeviceConfig{InterfaceName: c.Interface, Logger: logger})
		fmt.Printf("# Initializing SocketCAN device: %v\n", c.Interface)
		if err := device.Initialize(); err != nil {
			return nil, err
		}
		return device, nil
	}
}

func openStore(c config.StoreConfig) (nodeStore, error) {
	layout := store.Layout{MaxEvents: c.MaxEvents, NumEVs: c.EVsPerEvent, NumNVs: c.NVs}
	if c.Path == "" {
		if err := layout.Validate(); err != nil {
			return nil, err
		}
		fmt.Printf("# Using in-memory store, configuration is lost on exit\n")
		return memoryStore{store.NewMemory(layout)}, nil
	}
	fmt.Printf("# Opening store: %v\n", c.Path)
	s, err := store.OpenStorm(c.Path, layout)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func paramsConfig(cfg *config.Config) mlcb.ParamsConfig {
	flags := mlcb.FlagBootable
	if cfg.Node.Consumer {
		flags |= mlcb.FlagConsumer
	}
	if cfg.Node.Producer {
		flags |= mlcb.FlagProducer
	}
	manufacturer := cfg.Node.Manufacturer
	if manufacturer == 0 {
		manufacturer = mlcb.ManufacturerDev
	}
	moduleID := cfg.Node.ModuleID
	if moduleID == 0 {
		moduleID = mlcb.ModuleTypeMLCB
	}
	return mlcb.ParamsConfig{
		Manufacturer: manufacturer,
		ModuleID:     moduleID,
		Version:      cfg.Node.Version,
		MaxEvents:    cfg.Store.MaxEvents,
		EVsPerEvent:  cfg.Store.EVsPerEvent,
		NVs:          cfg.Store.NVs,
		Flags:        flags,
		CPUName:      cfg.Node.CPUName,
	}
}
