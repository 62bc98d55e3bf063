// Command lagan-server runs a synchronization server speaking both
// wire protocols: the binary TCP protocol on port 1735 and the
// WebSocket protocol on port 5810.
//
// Usage:
//
//	lagan-server [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-identity string    Server identity reported in handshakes
//	-tcp string         TCP listen address (empty disables v3)
//	-ws string          WebSocket listen address (empty disables v4)
//	-advertise          Advertise the server over mDNS
//	-log-level string   Log level: debug, info, warn, error
//	-capture string     Write a CBOR protocol capture to this file
//
// Examples:
//
//	# Serve both protocols on the well-known ports
//	lagan-server
//
//	# Serve v4 only, advertised over mDNS, with a protocol capture
//	lagan-server -tcp "" -advertise -capture /tmp/session.cbor
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/lagan-protocol/lagan-go/pkg/config"
	"github.com/lagan-protocol/lagan-go/pkg/discovery"
	"github.com/lagan-protocol/lagan-go/pkg/log"
	"github.com/lagan-protocol/lagan-go/pkg/server"
)

func main() {
	var (
		configFile string
		identity   string
		tcpAddr    string
		wsAddr     string
		advertise  bool
		logLevel   string
		capture    string
	)
	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&identity, "identity", "", "Server identity reported in handshakes")
	flag.StringVar(&tcpAddr, "tcp", "", "TCP listen address (empty disables v3)")
	flag.StringVar(&wsAddr, "ws", "", "WebSocket listen address (empty disables v4)")
	flag.BoolVar(&advertise, "advertise", false, "Advertise the server over mDNS")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&capture, "capture", "", "Write a CBOR protocol capture to this file")
	flag.Parse()

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lagan-server: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file.
	if identity != "" {
		cfg.Server.Identity = identity
	}
	if flagSet("tcp") {
		cfg.Server.TCPAddress = tcpAddr
	}
	if flagSet("ws") {
		cfg.Server.WSAddress = wsAddr
	}
	if advertise {
		cfg.Server.Advertise = true
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if capture != "" {
		cfg.Logging.CaptureFile = capture
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "lagan-server: %v\n", err)
		os.Exit(1)
	}

	slogger := newSlog(cfg.Logging.Level)
	logger, closeCapture, err := buildLogger(slogger, cfg.Logging.CaptureFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lagan-server: %v\n", err)
		os.Exit(1)
	}
	defer closeCapture()

	engineCfg := server.Config{
		Identity:      cfg.Server.Identity,
		TCPAddress:    cfg.Server.TCPAddress,
		WSAddress:     cfg.Server.WSAddress,
		QueueSize:     cfg.Server.QueueSize,
		FlushInterval: server.DefaultFlushInterval,
		Logger:        logger,
	}
	engineCfg.Heartbeat.Interval = cfg.Server.HeartbeatInterval
	engineCfg.Heartbeat.MissLimit = cfg.Server.HeartbeatMisses

	engine := server.NewEngine(engineCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		slogger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	slogger.Info("server started", "identity", cfg.Server.Identity)
	if addr := engine.TCPAddr(); addr != nil {
		slogger.Info("serving v3", "address", addr.String())
	}
	if addr := engine.WSAddr(); addr != nil {
		slogger.Info("serving v4", "address", addr.String())
	}

	var advertiser *discovery.Advertiser
	if cfg.Server.Advertise {
		advertiser = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Server.AdvertiseInterface,
		})
		info := discovery.ServerInfo{
			Name:    cfg.Server.Identity,
			TCPPort: uint16(listenPort(engine.TCPAddr())),
			WSPort:  uint16(listenPort(engine.WSAddr())),
		}
		if err := advertiser.Advertise(info); err != nil {
			slogger.Warn("mdns advertisement failed", "error", err)
			advertiser = nil
		} else {
			slogger.Info("advertising over mdns", "name", info.Name)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slogger.Info("shutting down", "signal", sig.String())

	if advertiser != nil {
		if err := advertiser.Stop(); err != nil {
			slogger.Warn("failed to stop advertiser", "error", err)
		}
	}
	if err := engine.Stop(); err != nil {
		slogger.Error("failed to stop engine", "error", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// flagSet reports whether the named flag was given explicitly, so an
// empty value can disable a listener.
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func newSlog(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// buildLogger assembles the protocol event sink: always the slog
// adapter, plus a CBOR capture file when configured.
func buildLogger(slogger *slog.Logger, captureFile string) (log.Logger, func(), error) {
	adapter := log.NewSlogAdapter(slogger)
	if captureFile == "" {
		return adapter, func() {}, nil
	}

	f, err := os.Create(captureFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	sink := log.NewMultiLogger(adapter, log.NewCaptureWriter(f))
	return sink, func() { _ = f.Close() }, nil
}

func listenPort(addr net.Addr) int {
	if addr == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
