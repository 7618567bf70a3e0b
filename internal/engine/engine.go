// Package engine is the WebRTC-subset datagram engine: it answers SDP
// offers, completes ICE-lite connectivity checks, pumps each client's DTLS
// session and runs the reduced SCTP association and data channel handshake
// on top of it.
//
// The engine performs no locking. Every method must be called from one
// goroutine at a time; internal/host serializes access behind a mutex.
package engine

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pion/logging"

	"github.com/1ureka/webudp/internal/handshake"
	"github.com/1ureka/webudp/internal/mem"
	"github.com/1ureka/webudp/internal/sdp"
	"github.com/1ureka/webudp/internal/stun"
	"github.com/1ureka/webudp/internal/util"
)

// Defaults for Options fields left zero.
const (
	DefaultMaxClients        = 256
	DefaultClientTTL         = 9 * time.Second
	DefaultHeartbeatInterval = 4 * time.Second
	DefaultMTU               = 1400
	DefaultArenaSize         = 1 << 20
	DefaultQueueCapacity     = 1024

	ufragLength    = 4
	passwordLength = 24
	scratchSize    = 2048
)

// Options configures an Engine.
type Options struct {
	// Host and Port are advertised in SDP answers. Port is also the local
	// SCTP port.
	Host string
	Port uint16

	MaxClients        int
	ClientTTL         time.Duration
	HeartbeatInterval time.Duration
	MTU               int
	ArenaSize         int
	QueueCapacity     int

	// Certificate is generated when nil.
	Certificate   *handshake.Certificate
	LoggerFactory logging.LoggerFactory

	// Write sends one datagram. The slice is only valid during the call.
	Write func(data []byte, addr netip.AddrPort)

	// Wake is called from session goroutines when a client has output ready.
	// The host uses it to interrupt its poll wait and call Flush.
	Wake func()

	// Now and Seed exist for tests. Zero values mean time.Now and a
	// time-derived seed.
	Now  func() time.Time
	Seed uint64

	// NewSession overrides the DTLS session factory.
	NewSession func(remote netip.AddrPort) Session
}

func (o *Options) applyDefaults() {
	if o.MaxClients <= 0 {
		o.MaxClients = DefaultMaxClients
	}
	if o.ClientTTL <= 0 {
		o.ClientTTL = DefaultClientTTL
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.MTU <= 0 {
		o.MTU = DefaultMTU
	}
	if o.ArenaSize <= 0 {
		o.ArenaSize = DefaultArenaSize
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine owns every client plus the arena, event queue and certificate they
// share.
type Engine struct {
	opts Options
	cert *handshake.Certificate
	rng  *util.Rng

	arena   *mem.Arena
	pool    *mem.Pool[client]
	clients []ClientID
	queue   *mem.RingQueue[Event]

	started   time.Time
	lastTick  time.Time
	scratch   []byte
	localAddr net.Addr
	stats     Stats

	onError func(string)
	onDebug func(string)
}

// New creates an engine. It fails if the writer is missing, the capacity
// limits are out of range or the certificate cannot be generated.
func New(opts Options) (*Engine, error) {
	opts.applyDefaults()
	if opts.Write == nil {
		return nil, ErrNoWriter
	}
	if opts.MaxClients > 1<<16 || opts.ArenaSize > 1<<30 {
		return nil, fmt.Errorf("%w: %d clients, %d byte arena", ErrOutOfMemory, opts.MaxClients, opts.ArenaSize)
	}

	cert := opts.Certificate
	if cert == nil {
		var err error
		if cert, err = handshake.GenerateCertificate(); err != nil {
			return nil, err
		}
	}

	var rng *util.Rng
	if opts.Seed != 0 {
		rng = util.NewRng(opts.Seed)
	} else {
		rng = util.NewTimeSeededRng()
	}

	e := &Engine{
		opts:      opts,
		cert:      cert,
		rng:       rng,
		arena:     mem.NewArena(opts.ArenaSize),
		pool:      mem.NewPool[client](opts.MaxClients),
		clients:   make([]ClientID, 0, opts.MaxClients),
		queue:     mem.NewRingQueue[Event](opts.QueueCapacity),
		started:   opts.Now(),
		scratch:   make([]byte, 0, scratchSize),
		localAddr: &net.UDPAddr{Port: int(opts.Port)},
	}
	e.lastTick = e.started
	return e, nil
}

// SetErrorCallback installs the sink for session errors.
func (e *Engine) SetErrorCallback(fn func(string)) { e.onError = fn }

// SetDebugCallback installs the sink for dropped-packet diagnostics.
func (e *Engine) SetDebugCallback(fn func(string)) { e.onDebug = fn }

// Fingerprint returns the certificate fingerprint advertised in answers.
func (e *Engine) Fingerprint() string { return e.cert.Fingerprint }

func (e *Engine) errorf(format string, args ...interface{}) {
	if e.onError != nil {
		e.onError(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.onDebug != nil {
		e.onDebug(fmt.Sprintf(format, args...))
	}
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// ExchangeSDP validates an offer, allocates a client in the handshake state
// and renders the answer document.
func (e *Engine) ExchangeSDP(offer []byte) SDPResult {
	parsed, err := sdp.Parse(offer)
	if err != nil {
		e.stats.SDPInvalid++
		return SDPResult{Status: SDPInvalid, Err: err}
	}

	id, c, ok := e.pool.Acquire()
	if !ok {
		e.stats.SDPMaxClients++
		return SDPResult{Status: SDPMaxClients, Err: fmt.Errorf("all %d client slots in use", e.pool.Cap())}
	}

	*c = client{
		id:             id,
		serverUser:     e.rng.Letters(ufragLength),
		serverPassword: e.rng.Letters(passwordLength),
		remoteUser:     parsed.Ufrag,
		remotePassword: parsed.Password,
		state:          StateHandshake,
		localPort:      e.opts.Port,
		tsn:            1,
		ttl:            e.opts.ClientTTL,
		nextHeartbeat:  e.opts.HeartbeatInterval,
	}

	answer, err := sdp.Generate(e.arena, &sdp.Answer{
		SessionID:   e.rng.Uint32(),
		Host:        e.opts.Host,
		Port:        e.opts.Port,
		Ufrag:       c.serverUser,
		Password:    c.serverPassword,
		Fingerprint: e.cert.Fingerprint,
		Mid:         parsed.Mid,
		Priority:    e.rng.Uint32(),
	})
	if err != nil {
		e.pool.Release(id)
		e.stats.SDPErrors++
		return SDPResult{Status: SDPError, Err: fmt.Errorf("failed to render answer: %w", err)}
	}

	e.clients = append(e.clients, id)
	e.stats.SDPAccepted++
	return SDPResult{Status: SDPSuccess, Client: id, Answer: answer}
}

// ---------------------------------------------------------------------------
// Datagrams
// ---------------------------------------------------------------------------

// HandleDatagram routes one inbound UDP datagram. Datagrams in the STUN
// range are answered directly when they are binding requests; everything
// else is fed to the DTLS session of the client bound to addr. Nothing here
// fails hard: bad input is dropped and reported through the debug callback.
func (e *Engine) HandleDatagram(addr netip.AddrPort, data []byte) {
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	e.stats.DatagramsIn++
	e.stats.BytesIn += uint64(len(data))

	if stun.IsLikelyStun(data) {
		pkt, err := stun.Parse(data)
		if err != nil {
			e.drop("STUN from %s: %v", addr, err)
			return
		}
		e.handleStun(addr, pkt)
		return
	}

	c := e.clientByAddress(addr)
	if c == nil {
		e.drop("datagram from unknown address %s", addr)
		return
	}
	if c.state == StatePendingRemoval || c.session == nil {
		e.drop("datagram for client %s in state %s", c.id, c.state)
		return
	}

	if err := c.session.Feed(data); err != nil {
		e.drop("client %s: %v", c.id, err)
		return
	}
	e.flushClient(c)
}

func (e *Engine) handleStun(addr netip.AddrPort, pkt *stun.Packet) {
	c := e.clientByCredentials(pkt.ServerUser, pkt.RemoteUser)
	if c == nil {
		e.drop("binding request from %s matches no client", addr)
		return
	}

	if !c.bound || c.address != addr {
		e.bind(c, addr)
	}
	if c.session == nil {
		c.session = e.newSession(addr)
	}

	resp := stun.AppendSuccessResponse(e.scratch[:0], pkt.TransactionID, addr, []byte(c.serverPassword))
	e.write(resp, addr)
}

// bind attaches addr to c, detaching it from any other client so addresses
// stay unique among live clients.
func (e *Engine) bind(c *client, addr netip.AddrPort) {
	for _, id := range e.clients {
		other, ok := e.pool.Get(id)
		if ok && other != c && other.bound && other.address == addr {
			other.bound = false
			e.debugf("address %s moved from client %s to %s", addr, other.id, c.id)
		}
	}
	c.address = addr
	c.bound = true
}

func (e *Engine) newSession(remote netip.AddrPort) Session {
	if e.opts.NewSession != nil {
		return e.opts.NewSession(remote)
	}
	return handshake.NewPump(e.localAddr, net.UDPAddrFromAddrPort(remote), handshake.Config{
		Certificate:   e.cert.TLS,
		MTU:           e.opts.MTU,
		LoggerFactory: e.opts.LoggerFactory,
		OnActivity:    e.opts.Wake,
	})
}

// flushClient drains everything a session has ready: errors, ciphertext and
// decrypted SCTP packets.
func (e *Engine) flushClient(c *client) {
	e.flushOutgoing(c)
	e.flushApplication(c)
}

func (e *Engine) flushOutgoing(c *client) {
	if c.session == nil {
		return
	}
	c.session.DrainErrors(func(err error) {
		e.errorf("client %s: %v", c.id, err)
	})
	c.session.DrainOutgoing(func(b []byte) {
		if c.bound {
			e.write(b, c.address)
		}
	})
}

func (e *Engine) flushApplication(c *client) {
	if c.session == nil {
		return
	}
	c.session.DrainApplication(func(record []byte) {
		if c.state == StatePendingRemoval {
			return
		}
		block := e.arena.Acquire(len(record))
		if block == nil {
			e.drop("arena exhausted, dropping %d byte record from client %s", len(record), c.id)
			return
		}
		copy(block, record)
		e.handleSctp(c, block)
	})
}

func (e *Engine) write(b []byte, addr netip.AddrPort) {
	e.stats.DatagramsOut++
	e.stats.BytesOut += uint64(len(b))
	e.opts.Write(b, addr)
}

func (e *Engine) drop(format string, args ...interface{}) {
	e.stats.Dropped++
	e.debugf(format, args...)
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Update returns the oldest pending event. When none is pending it runs one
// Tick instead and reports false; events produced by that tick are returned
// by later calls.
func (e *Engine) Update() (Event, bool) {
	if ev, ok := e.queue.Pop(); ok {
		return ev, true
	}
	e.Tick()
	return Event{}, false
}

// NextEvent pops a pending event without ticking.
func (e *Engine) NextEvent() (Event, bool) {
	return e.queue.Pop()
}

// Tick advances the clock, ages every client, sends due heartbeats, flushes
// session output, resets the arena and sweeps expired or removed clients.
// It must only run when the caller holds no arena-backed data.
func (e *Engine) Tick() {
	now := e.opts.Now()
	dt := now.Sub(e.lastTick)
	if dt < 0 {
		dt = 0
	}
	e.lastTick = now

	for _, id := range e.clients {
		c, ok := e.pool.Get(id)
		if !ok {
			continue
		}
		c.ttl -= dt

		if c.state == StateDataChannelOpen {
			c.nextHeartbeat -= dt
			if c.nextHeartbeat <= 0 {
				c.nextHeartbeat = e.opts.HeartbeatInterval
				e.sendHeartbeat(c)
			}
		}
		e.flushOutgoing(c)
	}

	e.arena.Reset()

	for _, id := range e.clients {
		if c, ok := e.pool.Get(id); ok {
			e.flushApplication(c)
		}
	}

	e.sweep()
}

// Flush drains every session without aging clients. The host calls it when
// a session signals activity between datagrams.
func (e *Engine) Flush() {
	for _, id := range e.clients {
		if c, ok := e.pool.Get(id); ok {
			e.flushClient(c)
		}
	}
}

func (e *Engine) sweep() {
	kept := e.clients[:0]
	for _, id := range e.clients {
		c, ok := e.pool.Get(id)
		if !ok {
			continue
		}
		if c.ttl > 0 && c.state != StatePendingRemoval {
			kept = append(kept, id)
			continue
		}

		e.queue.Push(Event{Type: EventClientLeave, Client: id, Address: c.address, User: c.user})
		e.stats.Leaves++
		if err := e.teardown(c); err != nil {
			e.debugf("client %s teardown: %v", id, err)
		}
		e.pool.Release(id)
	}
	clear(e.clients[len(kept):])
	e.clients = kept
}

// teardown sends SHUTDOWN if the association is still up and closes the
// session.
func (e *Engine) teardown(c *client) error {
	if !c.stopped && c.state >= StateTransportEstablished {
		e.sendShutdown(c)
	}
	c.state = StateDead

	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// Close tears down every client. The engine must not be used afterwards.
func (e *Engine) Close() error {
	var result *multierror.Error
	for _, id := range e.clients {
		c, ok := e.pool.Get(id)
		if !ok {
			continue
		}
		if err := e.teardown(c); err != nil {
			result = multierror.Append(result, fmt.Errorf("client %s: %w", id, err))
		}
		e.pool.Release(id)
	}
	e.clients = e.clients[:0]
	return result.ErrorOrNil()
}

// ---------------------------------------------------------------------------
// Client management
// ---------------------------------------------------------------------------

// RemoveClient sends SHUTDOWN and marks the client for removal. The
// ClientLeave event and slot release happen on the next Tick.
func (e *Engine) RemoveClient(id ClientID) bool {
	c, ok := e.pool.Get(id)
	if !ok {
		return false
	}
	if c.state == StatePendingRemoval {
		return true
	}
	if !c.stopped && c.state >= StateTransportEstablished {
		e.sendShutdown(c)
	}
	c.stopped = true
	c.state = StatePendingRemoval
	return true
}

// FindClient returns the client bound to addr.
func (e *Engine) FindClient(addr netip.AddrPort) (ClientID, bool) {
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	if c := e.clientByAddress(addr); c != nil {
		return c.id, true
	}
	return ClientID{}, false
}

// Client returns a snapshot of the client.
func (e *Engine) Client(id ClientID) (ClientInfo, bool) {
	c, ok := e.pool.Get(id)
	if !ok {
		return ClientInfo{}, false
	}
	return c.info(), true
}

// ClientAddress returns the address bound to the client, if any.
func (e *Engine) ClientAddress(id ClientID) (netip.AddrPort, bool) {
	c, ok := e.pool.Get(id)
	if !ok || !c.bound {
		return netip.AddrPort{}, false
	}
	return c.address, true
}

// SetUserData attaches an opaque value to the client. The engine never
// inspects it; it is returned in the client's ClientLeave event.
func (e *Engine) SetUserData(id ClientID, v any) bool {
	c, ok := e.pool.Get(id)
	if !ok {
		return false
	}
	c.user = v
	return true
}

// UserData returns the value attached with SetUserData.
func (e *Engine) UserData(id ClientID) (any, bool) {
	c, ok := e.pool.Get(id)
	if !ok {
		return nil, false
	}
	return c.user, true
}

// ClientCount returns the number of live clients.
func (e *Engine) ClientCount() int { return len(e.clients) }

func (e *Engine) clientByAddress(addr netip.AddrPort) *client {
	for _, id := range e.clients {
		if c, ok := e.pool.Get(id); ok && c.bound && c.address == addr {
			return c
		}
	}
	return nil
}

func (e *Engine) clientByCredentials(serverUser, remoteUser []byte) *client {
	for _, id := range e.clients {
		c, ok := e.pool.Get(id)
		if !ok || c.state == StatePendingRemoval {
			continue
		}
		if c.serverUser == string(serverUser) && c.remoteUser == string(remoteUser) {
			return c
		}
	}
	return nil
}

// ClientState returns the client's lifecycle state, or StateDead for a stale
// handle.
func (e *Engine) ClientState(id ClientID) State {
	c, ok := e.pool.Get(id)
	if !ok {
		return StateDead
	}
	return c.state
}
