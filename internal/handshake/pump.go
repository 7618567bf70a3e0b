package handshake

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
)

// Tuning constants.
const (
	DefaultMTU              = 1400
	DefaultHandshakeTimeout = 30 * time.Second
	receiveBufferSize       = 1 << 16
	closeTimeout            = 2 * time.Second
)

// SRTPProfiles are accepted in the use_srtp extension. Browsers always offer
// it and the handshake is refused without a match; no SRTP keys are derived.
var SRTPProfiles = []dtls.SRTPProtectionProfile{
	dtls.SRTP_AEAD_AES_128_GCM,
	dtls.SRTP_AES128_CM_HMAC_SHA1_80,
}

// ErrNotEstablished is returned by Send before the handshake completes.
var ErrNotEstablished = errors.New("handshake: session not established")

var errCloseTimeout = errors.New("handshake: session goroutine did not exit")

// State is the pump's session state.
type State int32

const (
	StateHandshaking State = iota
	StateEstablished
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config configures a Pump.
type Config struct {
	Certificate      tls.Certificate
	MTU              int
	HandshakeTimeout time.Duration
	LoggerFactory    logging.LoggerFactory

	// OnActivity is invoked from the session goroutine whenever ciphertext,
	// decrypted data or an error becomes ready to drain. It must not block.
	OnActivity func()
}

// Pump owns one DTLS server session wired to in-memory buffers.
//
// The session itself runs in its own goroutine, but everything the engine
// consumes (outgoing ciphertext, decrypted records, errors) is queued here and
// only drained by the engine's thread. The pump never calls back into the
// engine except through OnActivity.
type Pump struct {
	conn       *memConn
	state      atomic.Int32
	onActivity func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	session  *dtls.Conn
	closed   bool
	outgoing [][]byte
	app      [][]byte
	errs     []error
}

// NewPump starts a DTLS server session for the peer at remote.
func NewPump(local, remote net.Addr, cfg Config) *Pump {
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pump{
		onActivity: cfg.OnActivity,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	p.conn = newMemConn(local, remote, p.pushOutgoing)

	dcfg := &dtls.Config{
		Certificates:           []tls.Certificate{cfg.Certificate},
		ExtendedMasterSecret:   dtls.RequestExtendedMasterSecret,
		InsecureSkipVerify:     true,
		MTU:                    cfg.MTU,
		LoggerFactory:          cfg.LoggerFactory,
		SRTPProtectionProfiles: SRTPProfiles,
	}
	go p.run(dcfg, remote, cfg.HandshakeTimeout)

	return p
}

// ---------------------------------------------------------------------------
// Session goroutine
// ---------------------------------------------------------------------------

func (p *Pump) run(cfg *dtls.Config, remote net.Addr, timeout time.Duration) {
	defer close(p.done)

	conn, err := dtls.Server(p.conn, remote, cfg)
	if err != nil {
		p.fail(fmt.Errorf("failed to start DTLS session: %w", err))
		return
	}

	hsCtx, hsCancel := context.WithTimeout(p.ctx, timeout)
	err = conn.HandshakeContext(hsCtx)
	hsCancel()
	if err != nil {
		conn.Close()
		p.fail(fmt.Errorf("DTLS handshake failed: %w", err))
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.session = conn
	p.mu.Unlock()

	p.state.Store(int32(StateEstablished))
	p.notify()

	buf := make([]byte, receiveBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && p.ctx.Err() == nil {
				p.fail(fmt.Errorf("DTLS read failed: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}

		record := append([]byte(nil), buf[:n]...)
		p.mu.Lock()
		p.app = append(p.app, record)
		p.mu.Unlock()
		p.notify()
	}
}

func (p *Pump) pushOutgoing(b []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.outgoing = append(p.outgoing, b)
	p.mu.Unlock()
	p.notify()
}

func (p *Pump) fail(err error) {
	p.mu.Lock()
	closed := p.closed
	if !closed {
		p.errs = append(p.errs, err)
	}
	p.mu.Unlock()

	if closed {
		return
	}
	p.state.CompareAndSwap(int32(StateHandshaking), int32(StateFailed))
	p.notify()
}

func (p *Pump) notify() {
	if p.onActivity != nil {
		p.onActivity()
	}
}

// ---------------------------------------------------------------------------
// Engine side
// ---------------------------------------------------------------------------

// Feed hands one inbound ciphertext datagram to the session.
func (p *Pump) Feed(datagram []byte) error {
	if _, err := p.conn.in.Write(datagram); err != nil {
		return fmt.Errorf("failed to buffer DTLS datagram: %w", err)
	}
	return nil
}

// Send encrypts plaintext as one DTLS record. The resulting ciphertext is
// queued for DrainOutgoing before Send returns.
func (p *Pump) Send(plaintext []byte) error {
	if p.State() != StateEstablished {
		return ErrNotEstablished
	}
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	if session == nil {
		return ErrNotEstablished
	}

	if _, err := session.Write(plaintext); err != nil {
		return fmt.Errorf("failed to encrypt record: %w", err)
	}
	return nil
}

// DrainOutgoing passes every queued ciphertext datagram to fn, oldest first.
func (p *Pump) DrainOutgoing(fn func([]byte)) {
	for _, b := range p.take(&p.outgoing) {
		fn(b)
	}
}

// DrainApplication passes every decrypted record to fn, oldest first.
// Records only exist once the handshake has completed.
func (p *Pump) DrainApplication(fn func([]byte)) {
	for _, b := range p.take(&p.app) {
		fn(b)
	}
}

// DrainErrors passes every session error raised since the last call to fn.
func (p *Pump) DrainErrors(fn func(error)) {
	p.mu.Lock()
	errs := p.errs
	p.errs = nil
	p.mu.Unlock()

	for _, err := range errs {
		fn(err)
	}
}

func (p *Pump) take(q *[][]byte) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := *q
	*q = nil
	return items
}

// State returns the current session state.
func (p *Pump) State() State {
	return State(p.state.Load())
}

// Established reports whether the handshake has completed.
func (p *Pump) Established() bool {
	return p.State() == StateEstablished
}

// Close tears the session down and waits for its goroutine to exit.
// Pending output is discarded.
func (p *Pump) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	session := p.session
	p.outgoing, p.app, p.errs = nil, nil, nil
	p.mu.Unlock()

	p.state.Store(int32(StateClosed))
	p.cancel()

	// Closing the buffer first unblocks any read the session is parked in.
	err := p.conn.Close()
	if session != nil {
		_ = session.Close()
	}

	select {
	case <-p.done:
	case <-time.After(closeTimeout):
		return errors.Join(err, errCloseTimeout)
	}
	return err
}
