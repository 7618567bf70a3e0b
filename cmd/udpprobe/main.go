// Udpprobe connects to a webudpd server the way a browser does and reports
// the frames it receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/webudp/internal/probe"
	"github.com/1ureka/webudp/internal/udpstream"
	"github.com/1ureka/webudp/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	wsURLFlag := flag.String("url", "ws://127.0.0.1:9556/ws", "Signaling WebSocket URL")
	duration := flag.Duration("duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	interval := flag.Duration("interval", 5*time.Second, "Report interval")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("udpprobe v%s", version))
	pterm.Println()

	wsURL, err := normalizeWSURL(*wsURLFlag)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := run(ctx, wsURL, *interval, *debugMode); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, wsURL string, interval time.Duration, debug bool) error {
	p, err := probe.New(ctx, probe.Options{
		URL:           wsURL,
		LoggerFactory: util.NewLoggerFactory(debug),
	})
	if err != nil {
		return err
	}
	defer p.Close()

	var lastNumber atomic.Uint32
	p.OnFrame(func(f udpstream.Frame) { lastNumber.Store(f.Number) })
	p.OnText(func(s string) { util.LogInfo("text: %s", s) })

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = p.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	util.LogSuccess("data channel open via %s", wsURL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev probe.Stats
	for {
		select {
		case <-ctx.Done():
			report(p.Stats(), prev, interval)
			return nil
		case <-p.Done():
			if ctx.Err() != nil {
				continue
			}
			return probe.ErrClosed
		case <-ticker.C:
			cur := p.Stats()
			report(cur, prev, interval)
			util.LogDebug("last frame number %d", lastNumber.Load())
			prev = cur
		}
	}
}

func report(cur, prev probe.Stats, interval time.Duration) {
	secs := interval.Seconds()
	util.LogInfo("frames: %.1f/s | %.1f KiB/s | dropped %d | corrupt %d | rejected %d",
		float64(cur.Frames-prev.Frames)/secs,
		float64(cur.FrameBytes-prev.FrameBytes)/secs/1024,
		cur.Dropped, cur.Corrupt, cur.Rejected,
	)
}

// normalizeWSURL validates a signaling URL and points it at /ws.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "ws"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
