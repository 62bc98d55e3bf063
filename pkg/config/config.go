package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the server binary.
type ServerConfig struct {
	// Identity is the name the server reports during handshakes and
	// advertises over mDNS.
	Identity string `yaml:"identity"`

	// TCPAddress is the v3 listen address. Empty disables v3.
	TCPAddress string `yaml:"tcp_address"`

	// WSAddress is the v4 WebSocket listen address. Empty disables v4.
	WSAddress string `yaml:"ws_address"`

	// Advertise enables mDNS advertisement.
	Advertise bool `yaml:"advertise"`

	// AdvertiseInterface restricts mDNS to one interface by name.
	AdvertiseInterface string `yaml:"advertise_interface"`

	// QueueSize is the per-session outbound queue depth.
	QueueSize int `yaml:"queue_size"`

	// HeartbeatInterval is cadence of keep-alive probes.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// HeartbeatMisses is how many silent intervals disconnect a session.
	HeartbeatMisses int `yaml:"heartbeat_misses"`
}

// ClientConfig configures the client binary.
type ClientConfig struct {
	// Identity is the name the client presents to the server.
	Identity string `yaml:"identity"`

	// Server is the host:port to connect to. Empty triggers mDNS
	// discovery.
	Server string `yaml:"server"`

	// Protocol selects the wire protocol version, 3 or 4.
	Protocol int `yaml:"protocol"`

	// Reconnect enables automatic reconnection with backoff.
	Reconnect bool `yaml:"reconnect"`

	// DiscoveryTimeout bounds the mDNS search when Server is empty.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

// LoggingConfig configures protocol logging.
type LoggingConfig struct {
	// Level is the slog level name: debug, info, warn, error.
	Level string `yaml:"level"`

	// CaptureFile, when set, records all protocol events to a CBOR
	// capture file for offline analysis.
	CaptureFile string `yaml:"capture_file"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Identity:          "lagan-server",
			TCPAddress:        ":1735",
			WSAddress:         ":5810",
			Advertise:         false,
			QueueSize:         1024,
			HeartbeatInterval: 1500 * time.Millisecond,
			HeartbeatMisses:   3,
		},
		Client: ClientConfig{
			Identity:         "lagan-client",
			Protocol:         4,
			Reconnect:        true,
			DiscoveryTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file layered over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.TCPAddress == "" && c.Server.WSAddress == "" {
		return fmt.Errorf("server: at least one of tcp_address and ws_address is required")
	}
	if c.Server.QueueSize <= 0 {
		return fmt.Errorf("server: queue_size must be positive")
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("server: heartbeat_interval must be positive")
	}
	if c.Server.HeartbeatMisses <= 0 {
		return fmt.Errorf("server: heartbeat_misses must be positive")
	}
	if c.Client.Protocol != 3 && c.Client.Protocol != 4 {
		return fmt.Errorf("client: protocol must be 3 or 4, got %d", c.Client.Protocol)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	return nil
}
