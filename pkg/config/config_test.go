package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":1735", cfg.Server.TCPAddress)
	assert.Equal(t, ":5810", cfg.Server.WSAddress)
	assert.Equal(t, 4, cfg.Client.Protocol)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  identity: test-server
  tcp_address: ""
  heartbeat_interval: 2s
client:
  protocol: 3
logging:
  level: debug
  capture_file: /tmp/capture.cbor
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-server", cfg.Server.Identity)
	assert.Equal(t, "", cfg.Server.TCPAddress)
	// Untouched fields keep their defaults.
	assert.Equal(t, ":5810", cfg.Server.WSAddress)
	assert.Equal(t, 1024, cfg.Server.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 3, cfg.Client.Protocol)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/capture.cbor", cfg.Logging.CaptureFile)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listeners", func(c *Config) { c.Server.TCPAddress = ""; c.Server.WSAddress = "" }},
		{"zero queue", func(c *Config) { c.Server.QueueSize = 0 }},
		{"zero heartbeat", func(c *Config) { c.Server.HeartbeatInterval = 0 }},
		{"zero misses", func(c *Config) { c.Server.HeartbeatMisses = 0 }},
		{"bad protocol", func(c *Config) { c.Client.Protocol = 2 }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
