// Package probe is a pion/webrtc peer that connects to the server the way a
// browser would and reassembles the frame stream it receives.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/webudp/internal/signaling"
	"github.com/1ureka/webudp/internal/udpstream"
	"github.com/1ureka/webudp/internal/util"
)

// ErrClosed is returned when the data channel closes before opening.
var ErrClosed = errors.New("probe: data channel closed")

// Options configures a Probe.
type Options struct {
	// URL is the signaling WebSocket endpoint, e.g. ws://host:9556/ws.
	URL string
	// MaxPending bounds incomplete frames held by the reassembler.
	MaxPending    int
	LoggerFactory logging.LoggerFactory
}

// Stats is a snapshot of what the probe has received.
type Stats struct {
	Messages   uint64
	Texts      uint64
	Frames     uint64
	FrameBytes uint64
	Dropped    uint64
	Corrupt    uint64
	Rejected   uint64
}

// Probe wraps one PeerConnection and its unreliable data channel.
type Probe struct {
	opts Options
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel

	openSignal chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc

	mu      sync.Mutex
	reasm   *udpstream.Reassembler
	onFrame func(udpstream.Frame)
	onText  func(string)

	messages   atomic.Uint64
	texts      atomic.Uint64
	frames     atomic.Uint64
	frameBytes atomic.Uint64
	rejected   atomic.Uint64
}

// New creates the PeerConnection and an unordered, zero-retransmit data
// channel. Call Connect to signal it.
func New(ctx context.Context, opts Options) (*Probe, error) {
	se := webrtc.SettingEngine{}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ordered := false
	retransmits := uint16(0)
	dc, err := pc.CreateDataChannel("webudp", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	pCtx, pCancel := context.WithCancel(ctx)
	p := &Probe{
		opts:       opts,
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		ctx:        pCtx,
		cancel:     pCancel,
		reasm:      udpstream.NewReassembler(opts.MaxPending),
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(p.openSignal) })
	})
	dc.OnClose(func() {
		util.LogDebug("data channel closed")
		pCancel()
	})
	dc.OnMessage(p.handleMessage)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("peer connection state: %s", state)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			pCancel()
		}
	})

	return p, nil
}

// Connect exchanges SDP over the signaling WebSocket, applies the server's
// host candidate and waits for the data channel to open.
func (p *Probe) Connect(ctx context.Context) error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}

	conn, err := signaling.Dial(ctx, p.opts.URL)
	if err != nil {
		return err
	}
	answer, err := signaling.Exchange(conn, offer.SDP)
	conn.Close()
	if err != nil {
		return err
	}

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.Answer.SDP,
	}); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}

	mid := answer.Candidate.SDPMid
	index := answer.Candidate.SDPMLineIndex
	if err := p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     answer.Candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}); err != nil {
		return fmt.Errorf("AddICECandidate: %w", err)
	}

	select {
	case <-p.openSignal:
		return nil
	case <-p.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnFrame registers a callback for every reassembled frame.
func (p *Probe) OnFrame(fn func(udpstream.Frame)) {
	p.mu.Lock()
	p.onFrame = fn
	p.mu.Unlock()
}

// OnText registers a callback for text messages.
func (p *Probe) OnText(fn func(string)) {
	p.mu.Lock()
	p.onText = fn
	p.mu.Unlock()
}

func (p *Probe) handleMessage(msg webrtc.DataChannelMessage) {
	p.messages.Add(1)

	p.mu.Lock()
	if msg.IsString {
		fn := p.onText
		p.mu.Unlock()
		p.texts.Add(1)
		if fn != nil {
			fn(string(msg.Data))
		}
		return
	}

	f, ok, err := p.reasm.Feed(msg.Data)
	fn := p.onFrame
	p.mu.Unlock()

	if err != nil {
		p.rejected.Add(1)
		util.LogDebug("dropped piece: %v", err)
		return
	}
	if !ok {
		return
	}
	p.frames.Add(1)
	p.frameBytes.Add(uint64(len(f.Payload)))
	if fn != nil {
		fn(f)
	}
}

// SendText sends a text message to the server.
func (p *Probe) SendText(s string) error { return p.dc.SendText(s) }

// Send sends a binary message to the server.
func (p *Probe) Send(b []byte) error { return p.dc.Send(b) }

// Stats returns a snapshot of the receive counters.
func (p *Probe) Stats() Stats {
	p.mu.Lock()
	dropped, corrupt := p.reasm.Dropped, p.reasm.Corrupt
	p.mu.Unlock()
	return Stats{
		Messages:   p.messages.Load(),
		Texts:      p.texts.Load(),
		Frames:     p.frames.Load(),
		FrameBytes: p.frameBytes.Load(),
		Dropped:    dropped,
		Corrupt:    corrupt,
		Rejected:   p.rejected.Load(),
	}
}

// Ready is closed when the data channel opens.
func (p *Probe) Ready() <-chan struct{} { return p.openSignal }

// Done is closed when the connection goes away.
func (p *Probe) Done() <-chan struct{} { return p.ctx.Done() }

// Close shuts down the data channel and the peer connection.
func (p *Probe) Close() error {
	p.cancel()
	return errors.Join(p.dc.Close(), p.pc.Close())
}
