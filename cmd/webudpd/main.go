// Webudpd serves unreliable, unordered WebRTC data channels to browsers
// over a single UDP port.
//
// Offers arrive over HTTP or WebSocket signaling. Every client whose data
// channel opens gets a frame stream; with -pattern the server pushes
// synthetic frames through those streams.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/webudp/internal/config"
	"github.com/1ureka/webudp/internal/engine"
	"github.com/1ureka/webudp/internal/host"
	"github.com/1ureka/webudp/internal/iceip"
	"github.com/1ureka/webudp/internal/metrics"
	"github.com/1ureka/webudp/internal/signaling"
	"github.com/1ureka/webudp/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := flag.String("c", "", "Path to a YAML config file")
	port := flag.Int("port", 0, "UDP port, overrides udp.port")
	publicIP := flag.String("public-ip", "", "Address advertised to browsers, overrides public_ip")
	maxClients := flag.Int("max-clients", 0, "Client capacity, overrides udp.max_clients")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	pattern := flag.Bool("pattern", false, "Push synthetic frames to every connected client")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath, *port, *publicIP, *maxClients, *debugMode)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if cfg.Log.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("webudpd v%s", version))
	pterm.Println()

	if err := run(ctx, cfg, *pattern); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("server stopped")
}

func loadConfig(path string, port int, publicIP string, maxClients int, debug bool) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if port != 0 {
		cfg.UDP.Port = port
	}
	if publicIP != "" {
		cfg.PublicIP = publicIP
	}
	if maxClients != 0 {
		cfg.UDP.MaxClients = maxClients
	}
	if debug {
		cfg.Log.Debug = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, pattern bool) error {
	listen, err := netip.ParseAddr(cfg.UDP.Listen)
	if err != nil {
		return fmt.Errorf("invalid udp.listen: %w", err)
	}

	h, err := host.New(host.Config{
		Bind:       netip.AddrPortFrom(listen, uint16(cfg.UDP.Port)),
		PublicHost: publicHost(ctx, cfg),
		Engine: engine.Options{
			MaxClients:        cfg.UDP.MaxClients,
			ClientTTL:         cfg.Engine.ClientTTL,
			HeartbeatInterval: cfg.Engine.HeartbeatInterval,
			MTU:               cfg.Engine.MTU,
			ArenaSize:         cfg.Engine.ArenaSize,
			QueueCapacity:     cfg.Engine.QueueCapacity,
			LoggerFactory:     util.NewLoggerFactory(cfg.Log.Debug),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create WebUDP host: %w", err)
	}
	defer h.Close()

	h.SetErrorCallback(func(msg string) { util.LogError("%s", msg) })
	h.SetDebugCallback(func(msg string) { util.LogDebug("%s", msg) })

	util.LogSuccess("UDP listening on %s (fingerprint %s)", h.LocalAddr(), h.Fingerprint())
	util.StartStatsReporter(ctx)

	g, gctx := errgroup.WithContext(ctx)

	sig := signaling.NewServer(h, cfg.Signaling.Path)
	g.Go(func() error { return sig.Serve(gctx, cfg.Signaling.Listen) })
	util.LogInfo("signaling on %s (POST %s, WebSocket %s)", cfg.Signaling.Listen, cfg.Signaling.Path, signaling.WSPath)

	if cfg.Metrics.Enabled {
		reg, err := metrics.NewRegistry(h)
		if err != nil {
			return err
		}
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Listen, cfg.Metrics.Path, reg) })
		util.LogInfo("metrics on %s%s", cfg.Metrics.Listen, cfg.Metrics.Path)
	}

	srv := newServer(h, cfg.UDP.PacketSize)
	g.Go(func() error { return srv.serve(gctx) })
	if pattern {
		g.Go(func() error { return srv.pushPattern(gctx, patternInterval) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// publicHost picks the address advertised in SDP answers: the configured
// one, else what STUN reports, else the listen address.
func publicHost(ctx context.Context, cfg *config.Config) string {
	if cfg.PublicIP != "" {
		return cfg.PublicIP
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	addr, err := iceip.Discover(ctx, cfg.StunServers)
	if err == nil {
		util.LogInfo("discovered public IP %s", addr)
		return addr.String()
	}
	util.LogWarning("public IP discovery failed, advertising the listen address: %v", err)

	if listen, err := netip.ParseAddr(cfg.UDP.Listen); err == nil && !listen.IsUnspecified() {
		return listen.String()
	}
	return ""
}
