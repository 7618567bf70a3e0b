// Package host owns the UDP socket and the readiness loop around an engine.
// Every engine call happens under one mutex, so a receive loop and any
// number of sending goroutines can share a Host.
package host

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/1ureka/webudp/internal/engine"
	"github.com/1ureka/webudp/internal/util"
)

// ErrClosed is returned by Poll after Close.
var ErrClosed = errors.New("host: closed")

// Config configures a Host.
type Config struct {
	// Bind is the local address to listen on. An unspecified address binds
	// every interface.
	Bind netip.AddrPort

	// PublicHost is the address advertised in SDP answers. It defaults to
	// the bind address.
	PublicHost string

	// Engine carries the engine tuning. Host, Port, Write and Wake are
	// filled in by New.
	Engine engine.Options
}

// Event is an engine event whose payload has been copied out of the
// engine's arena, so it stays valid after the next Poll.
type Event = engine.Event

// Host is a bound UDP socket driving one engine.
type Host struct {
	mu     sync.Mutex
	engine *engine.Engine
	poller *poller
	closed atomic.Bool

	sendErrors atomic.Uint64
}

// New binds the socket, creates the readiness mechanism and the engine.
// Failures here are the only fatal errors a Host reports.
func New(cfg Config) (*Host, error) {
	p, err := newPoller(cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", cfg.Bind, err)
	}

	h := &Host{poller: p}

	opts := cfg.Engine
	opts.Port = p.localAddr().Port()
	opts.Host = cfg.PublicHost
	if opts.Host == "" {
		opts.Host = p.localAddr().Addr().String()
	}
	opts.Write = h.write
	opts.Wake = p.wake

	e, err := engine.New(opts)
	if err != nil {
		p.close()
		return nil, err
	}
	h.engine = e
	return h, nil
}

func (h *Host) write(b []byte, addr netip.AddrPort) {
	if err := h.poller.send(b, addr); err != nil {
		h.sendErrors.Add(1)
		return
	}
	util.Stats.AddOut(len(b))
}

// Poll returns the next engine event. It ticks the engine first and returns
// at once if that produced an event; otherwise it waits up to timeout for
// datagrams or session activity. A negative timeout blocks until something
// happens, zero never blocks.
func (h *Host) Poll(timeout time.Duration) (Event, bool, error) {
	if h.closed.Load() {
		return Event{}, false, ErrClosed
	}

	if ev, ok := h.next(true); ok {
		return ev, true, nil
	}

	err := h.poller.wait(timeout, h.handleDatagram, h.flush)
	if h.closed.Load() {
		return Event{}, false, ErrClosed
	}
	if err != nil {
		return Event{}, false, err
	}

	ev, ok := h.next(false)
	return ev, ok, nil
}

// next pops one event, running a tick first when the queue is empty and
// tick is set. The payload is copied before the lock is released.
func (h *Host) next(tick bool) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev, ok := h.engine.NextEvent()
	if !ok && tick {
		h.engine.Tick()
		ev, ok = h.engine.NextEvent()
	}
	if !ok {
		return ev, false
	}
	switch ev.Type {
	case engine.EventClientJoin:
		util.Stats.AddJoin()
	case engine.EventClientLeave:
		util.Stats.AddLeave()
	}
	if ev.Data != nil {
		ev.Data = append([]byte(nil), ev.Data...)
	}
	return ev, true
}

func (h *Host) handleDatagram(addr netip.AddrPort, b []byte) {
	util.Stats.AddIn(len(b))
	h.mu.Lock()
	h.engine.HandleDatagram(addr, b)
	h.mu.Unlock()
}

func (h *Host) flush() {
	h.mu.Lock()
	h.engine.Flush()
	h.mu.Unlock()
}

// ExchangeSDP answers a browser offer. The answer is copied out of the
// engine's arena.
func (h *Host) ExchangeSDP(offer []byte) engine.SDPResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	res := h.engine.ExchangeSDP(offer)
	if res.Answer != nil {
		res.Answer = append([]byte(nil), res.Answer...)
	}
	return res
}

// SendText sends a text message to a client.
func (h *Host) SendText(id engine.ClientID, text []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.SendText(id, text)
}

// SendBinary sends a binary message to a client.
func (h *Host) SendBinary(id engine.ClientID, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.SendBinary(id, data)
}

// RemoveClient shuts a client down. Its leave event arrives on a later Poll.
func (h *Host) RemoveClient(id engine.ClientID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.RemoveClient(id)
}

// FindClient looks a client up by its bound address.
func (h *Host) FindClient(addr netip.AddrPort) (engine.ClientID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.FindClient(addr)
}

// ClientAddress returns the address bound to a client.
func (h *Host) ClientAddress(id engine.ClientID) (netip.AddrPort, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.ClientAddress(id)
}

// SetUserData attaches an opaque value to a client.
func (h *Host) SetUserData(id engine.ClientID, v any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.SetUserData(id, v)
}

// SetErrorCallback installs the session error sink. fn runs with the host
// lock held and must not call back into the Host.
func (h *Host) SetErrorCallback(fn func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine.SetErrorCallback(fn)
}

// SetDebugCallback installs the diagnostics sink. fn runs with the host
// lock held and must not call back into the Host.
func (h *Host) SetDebugCallback(fn func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine.SetDebugCallback(fn)
}

// Stats returns the engine counters.
func (h *Host) Stats() engine.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.Stats()
}

// SendErrors returns how many datagrams the socket refused.
func (h *Host) SendErrors() uint64 { return h.sendErrors.Load() }

// ClientCount returns the number of live clients.
func (h *Host) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.ClientCount()
}

// Fingerprint returns the DTLS certificate fingerprint.
func (h *Host) Fingerprint() string { return h.engine.Fingerprint() }

// LocalAddr returns the bound socket address.
func (h *Host) LocalAddr() netip.AddrPort { return h.poller.localAddr() }

// Close tears down every client and releases the socket. A Poll blocked in
// another goroutine returns ErrClosed.
func (h *Host) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.poller.wake()

	var result *multierror.Error

	h.mu.Lock()
	if err := h.engine.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	h.mu.Unlock()

	if err := h.poller.close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// ClientState returns the client's lifecycle state.
func (h *Host) ClientState(id engine.ClientID) engine.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.ClientState(id)
}
