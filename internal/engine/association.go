package engine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/1ureka/webudp/internal/handshake"
	"github.com/1ureka/webudp/internal/protocol"
	"github.com/1ureka/webudp/internal/sctp"
)

const (
	receiveWindow = 1 << 18
	stateCookie   = 0xB00B1E5

	// flagAbortT marks an ABORT that carries the receiver's own tag.
	flagAbortT uint8 = 0x01

	maxReplies = sctp.MaxChunks + 1
)

// ErrMessageTooLarge is returned when a message does not fit one DATA chunk
// within the configured MTU.
var ErrMessageTooLarge = errors.New("engine: message exceeds MTU")

// dataOverhead is everything around the payload of a single-chunk packet.
const dataOverhead = sctp.HeaderLength + sctp.DataHeaderLength

// handleSctp processes one decrypted SCTP packet. The packet lives in the
// arena, so DATA payloads can be queued as event data without copying.
// Replies are bundled into a single packet with at most one SACK.
func (e *Engine) handleSctp(c *client, b []byte) {
	h, err := sctp.ParseHeader(b)
	if err != nil {
		e.drop("client %s: %v", c.id, err)
		return
	}

	var replies [maxReplies]sctp.Chunk
	out := replies[:0]
	sack := false

	_, err = sctp.Walk(b, func(ch *sctp.Chunk) bool {
		if !e.acceptTag(c, h, ch) {
			e.drop("client %s: %s with verification tag %#x", c.id, ch.Type, h.VerificationTag)
			return false
		}

		switch ch.Type {
		case sctp.ChunkInit:
			if c.remoteTag != 0 && c.remoteTag != ch.Init.InitiateTag {
				e.drop("client %s: INIT with new initiate tag", c.id)
				return false
			}
			c.remoteTag = ch.Init.InitiateTag
			c.remotePort = h.SourcePort
			c.localPort = h.DestinationPort
			c.remoteTSN = ch.Init.InitialTSN - 1
			for c.localTag == 0 {
				c.localTag = e.rng.Uint32()
			}
			out = append(out, sctp.Chunk{
				Type: sctp.ChunkInitAck,
				Init: sctp.InitChunk{
					InitiateTag:        c.localTag,
					AdvRecvWindow:      receiveWindow,
					NumOutboundStreams: ch.Init.NumInboundStreams,
					NumInboundStreams:  ch.Init.NumOutboundStreams,
					InitialTSN:         c.tsn,
					Params:             sctp.InitAckParams(stateCookie),
				},
			})
			// INIT must be the only chunk in its packet.
			return false

		case sctp.ChunkCookieEcho:
			if c.state == StateHandshake {
				c.state = StateTransportEstablished
			}
			c.ttl = e.opts.ClientTTL
			out = append(out, sctp.Chunk{Type: sctp.ChunkCookieAck})

		case sctp.ChunkData:
			if tsnAfter(ch.Data.TSN, c.remoteTSN) {
				c.remoteTSN = ch.Data.TSN
			}
			c.ttl = e.opts.ClientTTL
			sack = true
			if ack, ok := e.handleData(c, h, &ch.Data); ok {
				out = append(out, ack)
			}

		case sctp.ChunkHeartbeat:
			c.ttl = e.opts.ClientTTL
			out = append(out, sctp.Chunk{
				Type:      sctp.ChunkHeartbeatAck,
				Heartbeat: ch.Heartbeat,
			})

		case sctp.ChunkHeartbeatAck:
			c.ttl = e.opts.ClientTTL

		case sctp.ChunkSack:
			c.ttl = e.opts.ClientTTL
			if len(ch.Sack.GapBlocks) > 0 {
				// Nothing is retransmitted; move the peer past the holes.
				out = append(out, sctp.Chunk{
					Type:       sctp.ChunkForwardTSN,
					ForwardTSN: sctp.ForwardTSNChunk{NewCumulativeTSN: c.tsn - 1},
				})
			}

		case sctp.ChunkForwardTSN:
			if tsnAfter(ch.ForwardTSN.NewCumulativeTSN, c.remoteTSN) {
				c.remoteTSN = ch.ForwardTSN.NewCumulativeTSN
			}
			sack = true

		case sctp.ChunkShutdown:
			c.stopped = true
			c.state = StatePendingRemoval
			out = append(out, sctp.Chunk{Type: sctp.ChunkShutdownAck})
			return false

		case sctp.ChunkAbort:
			c.stopped = true
			c.state = StatePendingRemoval
			out = out[:0]
			sack = false
			return false
		}
		return len(out) < sctp.MaxChunks
	})
	if err != nil {
		e.drop("client %s: %v", c.id, err)
	}

	if sack {
		out = append(out, sctp.Chunk{
			Type: sctp.ChunkSack,
			Sack: sctp.SackChunk{CumulativeTSNAck: c.remoteTSN, AdvRecvWindow: receiveWindow},
		})
	}
	if len(out) > 0 {
		if err := e.sendPacket(c, out...); err != nil {
			e.errorf("client %s: %v", c.id, err)
		}
	}
}

// acceptTag checks the verification tag for one chunk: INIT carries zero,
// everything else carries our tag, and an ABORT with the T bit may carry the
// peer's.
func (e *Engine) acceptTag(c *client, h sctp.Header, ch *sctp.Chunk) bool {
	switch {
	case ch.Type == sctp.ChunkInit:
		return h.VerificationTag == 0
	case c.localTag == 0:
		return false
	case h.VerificationTag == c.localTag:
		return true
	case ch.Type == sctp.ChunkAbort && ch.Flags&flagAbortT != 0:
		return h.VerificationTag == c.remoteTag
	default:
		return false
	}
}

// handleData routes one DATA chunk. It returns the DCEP ack to send when the
// chunk opened the data channel.
func (e *Engine) handleData(c *client, h sctp.Header, d *sctp.DataChunk) (sctp.Chunk, bool) {
	switch d.PPID {
	case protocol.PPIDControl:
		msg, err := protocol.Decode(d.UserData)
		if err != nil {
			e.drop("client %s: %v", c.id, err)
			return sctp.Chunk{}, false
		}
		if msg.Type != protocol.TypeOpen {
			return sctp.Chunk{}, false
		}
		if c.state < StateTransportEstablished {
			e.drop("client %s: DATA_CHANNEL_OPEN in state %s", c.id, c.state)
			return sctp.Chunk{}, false
		}

		c.remotePort = h.SourcePort
		c.streamID = d.StreamID
		if c.state == StateTransportEstablished {
			c.state = StateDataChannelOpen
			c.nextHeartbeat = e.opts.HeartbeatInterval
			e.queue.Push(Event{Type: EventClientJoin, Client: c.id, Address: c.address, User: c.user})
			e.stats.Joins++
		}
		return e.dataChunk(c, protocol.PPIDControl, protocol.Encode(&protocol.Message{Type: protocol.TypeAck})), true

	case protocol.PPIDString, protocol.PPIDStringEmpty:
		e.pushData(c, EventTextData, d)
	case protocol.PPIDBinary, protocol.PPIDBinaryEmpty:
		e.pushData(c, EventBinaryData, d)
	default:
		e.drop("client %s: unknown payload protocol %d", c.id, d.PPID)
	}
	return sctp.Chunk{}, false
}

func (e *Engine) pushData(c *client, typ EventType, d *sctp.DataChunk) {
	if c.state != StateDataChannelOpen {
		e.drop("client %s: data before channel open", c.id)
		return
	}
	data := d.UserData
	if d.PPID == protocol.PPIDStringEmpty || d.PPID == protocol.PPIDBinaryEmpty {
		data = data[:0]
	}
	e.queue.Push(Event{Type: typ, Client: c.id, Address: c.address, User: c.user, Data: data})
}

func (e *Engine) dataChunk(c *client, ppid uint32, payload []byte) sctp.Chunk {
	return sctp.Chunk{
		Type:  sctp.ChunkData,
		Flags: sctp.FlagsCompleteUnordered,
		Data: sctp.DataChunk{
			TSN:      c.nextTSN(),
			StreamID: c.streamID,
			PPID:     ppid,
			UserData: payload,
		},
	}
}

// sendPacket serializes chunks into one packet, encrypts it and writes the
// resulting ciphertext.
func (e *Engine) sendPacket(c *client, chunks ...sctp.Chunk) error {
	if c.session == nil {
		return ErrChannelNotOpen
	}
	if !c.session.Established() {
		return handshake.ErrNotEstablished
	}
	h := sctp.Header{
		SourcePort:      c.localPort,
		DestinationPort: c.remotePort,
		VerificationTag: c.remoteTag,
	}
	e.scratch = sctp.AppendPacket(e.scratch[:0], h, chunks...)
	if err := c.session.Send(e.scratch); err != nil {
		return fmt.Errorf("failed to send %s: %w", chunks[0].Type, err)
	}
	e.flushOutgoing(c)
	return nil
}

func (e *Engine) sendHeartbeat(c *client) {
	var info [8]byte
	binary.BigEndian.PutUint64(info[:], uint64(e.lastTick.Sub(e.started).Milliseconds()))
	err := e.sendPacket(c, sctp.Chunk{
		Type:      sctp.ChunkHeartbeat,
		Heartbeat: sctp.HeartbeatChunk{Info: info[:]},
	})
	if err != nil {
		e.errorf("client %s heartbeat: %v", c.id, err)
	}
}

func (e *Engine) sendShutdown(c *client) {
	c.stopped = true
	err := e.sendPacket(c, sctp.Chunk{
		Type:     sctp.ChunkShutdown,
		Shutdown: sctp.ShutdownChunk{CumulativeTSNAck: c.remoteTSN},
	})
	if err != nil {
		e.debugf("client %s shutdown: %v", c.id, err)
	}
}

// SendText sends a UTF-8 message on the client's data channel.
func (e *Engine) SendText(id ClientID, text []byte) error {
	return e.send(id, text, protocol.PPIDString, protocol.PPIDStringEmpty)
}

// SendBinary sends a binary message on the client's data channel.
func (e *Engine) SendBinary(id ClientID, data []byte) error {
	return e.send(id, data, protocol.PPIDBinary, protocol.PPIDBinaryEmpty)
}

func (e *Engine) send(id ClientID, data []byte, ppid, emptyPPID uint32) error {
	c, ok := e.pool.Get(id)
	if !ok {
		return ErrUnknownClient
	}
	if c.state != StateDataChannelOpen {
		return ErrChannelNotOpen
	}
	if len(data)+dataOverhead > e.opts.MTU {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	if len(data) == 0 {
		data, ppid = []byte{0}, emptyPPID
	}
	return e.sendPacket(c, e.dataChunk(c, ppid, data))
}
