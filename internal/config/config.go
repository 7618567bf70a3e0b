// Package config holds the server configuration: defaults, YAML loading and
// validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete webudpd configuration.
type Config struct {
	// PublicIP is advertised in SDP answers. Empty means discover it via
	// STUN and fall back to the listen host.
	PublicIP    string   `yaml:"public_ip"`
	StunServers []string `yaml:"stun_servers"`

	UDP       UDPConfig       `yaml:"udp"`
	Engine    EngineConfig    `yaml:"engine"`
	Signaling SignalingConfig `yaml:"signaling"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// UDPConfig is the data-channel socket.
type UDPConfig struct {
	Listen     string `yaml:"listen"`
	Port       int    `yaml:"port"`
	MaxClients int    `yaml:"max_clients"`
	PacketSize int    `yaml:"packet_size"`
}

// EngineConfig tunes the engine. Durations accept Go syntax ("9s").
type EngineConfig struct {
	ClientTTL         time.Duration `yaml:"client_ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MTU               int           `yaml:"mtu"`
	ArenaSize         int           `yaml:"arena_size"`
	QueueCapacity     int           `yaml:"queue_capacity"`
}

// SignalingConfig is the HTTP/WebSocket offer endpoint.
type SignalingConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// MetricsConfig is the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LogConfig controls log output.
type LogConfig struct {
	Debug bool `yaml:"debug"`
}

const (
	MinPacketSize = 500
	MaxPacketSize = 1400
)

// DefaultStunServers is used for public IP discovery.
var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun2.l.google.com:19302",
	"stun3.l.google.com:19302",
	"stun4.l.google.com:19302",
	"stun.voipbuster.com:3478",
	"stun.voipstunt.com:3478",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StunServers: append([]string(nil), DefaultStunServers...),
		UDP: UDPConfig{
			Listen:     "0.0.0.0",
			Port:       9555,
			MaxClients: 256,
			PacketSize: 1296,
		},
		Engine: EngineConfig{
			ClientTTL:         9 * time.Second,
			HeartbeatInterval: 4 * time.Second,
			MTU:               1400,
			ArenaSize:         1 << 20,
			QueueCapacity:     1024,
		},
		Signaling: SignalingConfig{
			Listen: ":9556",
			Path:   "/webrtc",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9557",
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	ErrInvalidPort       = errors.New("config: port out of range")
	ErrInvalidPacketSize = errors.New("config: packet size out of range")
	ErrInvalidDuration   = errors.New("config: duration must be positive")
	ErrInvalidAddress    = errors.New("config: invalid address")
)

// Validate normalizes soft fields and rejects values the server cannot run
// with.
func (c *Config) Validate() error {
	if c.UDP.Port < 1 || c.UDP.Port > 65535 {
		return fmt.Errorf("%w: udp.port %d", ErrInvalidPort, c.UDP.Port)
	}
	if c.UDP.MaxClients <= 0 {
		c.UDP.MaxClients = 256
	}
	if c.UDP.PacketSize < MinPacketSize || c.UDP.PacketSize > MaxPacketSize {
		return fmt.Errorf("%w: udp.packet_size %d not in [%d, %d]",
			ErrInvalidPacketSize, c.UDP.PacketSize, MinPacketSize, MaxPacketSize)
	}
	if net.ParseIP(c.UDP.Listen) == nil {
		return fmt.Errorf("%w: udp.listen %q", ErrInvalidAddress, c.UDP.Listen)
	}
	if c.PublicIP != "" && net.ParseIP(c.PublicIP) == nil {
		return fmt.Errorf("%w: public_ip %q", ErrInvalidAddress, c.PublicIP)
	}

	if c.Engine.ClientTTL <= 0 {
		return fmt.Errorf("%w: engine.client_ttl", ErrInvalidDuration)
	}
	if c.Engine.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: engine.heartbeat_interval", ErrInvalidDuration)
	}

	if err := checkListen("signaling.listen", c.Signaling.Listen); err != nil {
		return err
	}
	if c.Signaling.Path == "" || c.Signaling.Path[0] != '/' {
		c.Signaling.Path = "/" + c.Signaling.Path
	}
	if c.Metrics.Enabled {
		if err := checkListen("metrics.listen", c.Metrics.Listen); err != nil {
			return err
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}
	return nil
}

func checkListen(field, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidAddress, field, addr, err)
	}
	p, err := net.LookupPort("tcp", port)
	if err != nil || p < 1 {
		return fmt.Errorf("%w: %s %q", ErrInvalidPort, field, addr)
	}
	return nil
}
