package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webudp.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if cfg.UDP.Port != 9555 || cfg.UDP.MaxClients != 256 {
		t.Errorf("udp defaults = %+v", cfg.UDP)
	}
	if cfg.Engine.ClientTTL != 9*time.Second || cfg.Engine.HeartbeatInterval != 4*time.Second {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if len(cfg.StunServers) != len(DefaultStunServers) {
		t.Errorf("got %d STUN servers", len(cfg.StunServers))
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
public_ip: 203.0.113.7
udp:
  port: 7000
  packet_size: 1000
engine:
  client_ttl: 15s
signaling:
  path: offer
metrics:
  enabled: false
log:
  debug: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PublicIP != "203.0.113.7" {
		t.Errorf("PublicIP = %q", cfg.PublicIP)
	}
	if cfg.UDP.Port != 7000 || cfg.UDP.PacketSize != 1000 {
		t.Errorf("udp = %+v", cfg.UDP)
	}
	if cfg.UDP.Listen != "0.0.0.0" {
		t.Errorf("unset udp.listen lost its default: %q", cfg.UDP.Listen)
	}
	if cfg.Engine.ClientTTL != 15*time.Second {
		t.Errorf("ClientTTL = %v", cfg.Engine.ClientTTL)
	}
	if cfg.Engine.HeartbeatInterval != 4*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.Engine.HeartbeatInterval)
	}
	if cfg.Signaling.Path != "/offer" {
		t.Errorf("Signaling.Path = %q", cfg.Signaling.Path)
	}
	if cfg.Metrics.Enabled || !cfg.Log.Debug {
		t.Errorf("metrics/log = %+v / %+v", cfg.Metrics, cfg.Log)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"port zero", func(c *Config) { c.UDP.Port = 0 }, ErrInvalidPort},
		{"port too large", func(c *Config) { c.UDP.Port = 70000 }, ErrInvalidPort},
		{"packet too small", func(c *Config) { c.UDP.PacketSize = 100 }, ErrInvalidPacketSize},
		{"packet too large", func(c *Config) { c.UDP.PacketSize = 1500 }, ErrInvalidPacketSize},
		{"ttl", func(c *Config) { c.Engine.ClientTTL = 0 }, ErrInvalidDuration},
		{"heartbeat", func(c *Config) { c.Engine.HeartbeatInterval = -time.Second }, ErrInvalidDuration},
		{"listen host", func(c *Config) { c.UDP.Listen = "not-an-ip" }, ErrInvalidAddress},
		{"public ip", func(c *Config) { c.PublicIP = "example" }, ErrInvalidAddress},
		{"signaling listen", func(c *Config) { c.Signaling.Listen = "9556" }, ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateNormalizesMaxClients(t *testing.T) {
	cfg := Default()
	cfg.UDP.MaxClients = -1
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.UDP.MaxClients != 256 {
		t.Errorf("MaxClients = %d, want 256", cfg.UDP.MaxClients)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
	if _, err := Load(writeConfig(t, "udp: [1, 2")); err == nil {
		t.Error("Load of malformed YAML succeeded")
	}
	if _, err := Load(writeConfig(t, "udp:\n  port: 0\n")); !errors.Is(err, ErrInvalidPort) {
		t.Errorf("Load with port 0 = %v", err)
	}
}
