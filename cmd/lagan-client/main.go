// Command lagan-client is an interactive client for inspecting and
// manipulating a synchronization server.
//
// Usage:
//
//	lagan-client [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-identity string    Client identity presented to the server
//	-server string      Server host:port (empty discovers over mDNS)
//	-protocol int       Wire protocol version, 3 or 4 (default 4)
//	-log-level string   Log level: debug, info, warn, error
//	-capture string     Write a CBOR protocol capture to this file
//
// Examples:
//
//	# Connect to a local server over the WebSocket protocol
//	lagan-client -server 127.0.0.1:5810
//
//	# Connect over the binary TCP protocol
//	lagan-client -server 127.0.0.1:1735 -protocol 3
//
//	# Discover the server over mDNS
//	lagan-client
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lagan-protocol/lagan-go/cmd/lagan-client/interactive"
	"github.com/lagan-protocol/lagan-go/pkg/client"
	"github.com/lagan-protocol/lagan-go/pkg/config"
	"github.com/lagan-protocol/lagan-go/pkg/discovery"
	"github.com/lagan-protocol/lagan-go/pkg/log"
	"github.com/lagan-protocol/lagan-go/pkg/session"
)

func main() {
	var (
		configFile string
		identity   string
		server     string
		protocol   int
		logLevel   string
		capture    string
	)
	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&identity, "identity", "", "Client identity presented to the server")
	flag.StringVar(&server, "server", "", "Server host:port (empty discovers over mDNS)")
	flag.IntVar(&protocol, "protocol", 0, "Wire protocol version, 3 or 4")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&capture, "capture", "", "Write a CBOR protocol capture to this file")
	flag.Parse()

	cfg, err := loadConfig(configFile)
	if err != nil {
		fatal(err)
	}
	if identity != "" {
		cfg.Client.Identity = identity
	}
	if server != "" {
		cfg.Client.Server = server
	}
	if protocol != 0 {
		cfg.Client.Protocol = protocol
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if capture != "" {
		cfg.Logging.CaptureFile = capture
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	slogger := newSlog(cfg.Logging.Level)
	logger, closeCapture, err := buildLogger(slogger, cfg.Logging.CaptureFile)
	if err != nil {
		fatal(err)
	}
	defer closeCapture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	address := cfg.Client.Server
	if address == "" {
		address, err = discoverServer(ctx, cfg, slogger)
		if err != nil {
			fatal(err)
		}
	}

	version := session.Version4
	if cfg.Client.Protocol == 3 {
		version = session.Version3
	}

	c, err := client.New(client.Config{
		Identity:  cfg.Client.Identity,
		Server:    address,
		Version:   version,
		Reconnect: cfg.Client.Reconnect,
		Logger:    logger,
	})
	if err != nil {
		fatal(err)
	}

	slogger.Info("connecting", "server", address, "protocol", cfg.Client.Protocol)
	if err := c.Connect(ctx); err != nil {
		if !cfg.Client.Reconnect {
			fatal(err)
		}
		slogger.Warn("initial connect failed, retrying", "error", err)
	}

	repl, err := interactive.New(c)
	if err != nil {
		fatal(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	repl.Run(ctx, cancel)

	c.Close()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "lagan-client: %v\n", err)
	os.Exit(1)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// discoverServer finds a server over mDNS and picks the address for
// the configured protocol version.
func discoverServer(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (string, error) {
	slogger.Info("discovering server over mdns", "timeout", cfg.Client.DiscoveryTimeout)

	browser := discovery.NewBrowser(discovery.BrowserConfig{})
	svc, err := browser.Find(ctx, cfg.Client.DiscoveryTimeout)
	if err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}
	if len(svc.Addresses) == 0 {
		return "", fmt.Errorf("discovered %q but it has no addresses", svc.Name)
	}

	port := svc.WSPort
	if cfg.Client.Protocol == 3 {
		port = svc.TCPPort
	}
	if port == 0 {
		return "", fmt.Errorf("server %q does not serve protocol v%d", svc.Name, cfg.Client.Protocol)
	}

	address := fmt.Sprintf("%s:%d", svc.Addresses[0], port)
	slogger.Info("discovered server", "name", svc.Name, "address", address)
	return address, nil
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
