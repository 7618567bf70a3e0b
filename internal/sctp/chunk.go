// Package sctp implements the reduced SCTP codec a WebRTC data channel needs:
// the common header plus the chunk types used to establish, keep alive and
// tear down one unreliable association.
package sctp

import (
	"encoding/binary"
	"fmt"
)

// ChunkType is the SCTP chunk type code.
type ChunkType uint8

const (
	ChunkData             ChunkType = 0x00
	ChunkInit             ChunkType = 0x01
	ChunkInitAck          ChunkType = 0x02
	ChunkSack             ChunkType = 0x03
	ChunkHeartbeat        ChunkType = 0x04
	ChunkHeartbeatAck     ChunkType = 0x05
	ChunkAbort            ChunkType = 0x06
	ChunkShutdown         ChunkType = 0x07
	ChunkShutdownAck      ChunkType = 0x08
	ChunkCookieEcho       ChunkType = 0x0A
	ChunkCookieAck        ChunkType = 0x0B
	ChunkShutdownComplete ChunkType = 0x0E
	ChunkForwardTSN       ChunkType = 0xC0
)

func (t ChunkType) String() string {
	switch t {
	case ChunkData:
		return "DATA"
	case ChunkInit:
		return "INIT"
	case ChunkInitAck:
		return "INIT-ACK"
	case ChunkSack:
		return "SACK"
	case ChunkHeartbeat:
		return "HEARTBEAT"
	case ChunkHeartbeatAck:
		return "HEARTBEAT-ACK"
	case ChunkAbort:
		return "ABORT"
	case ChunkShutdown:
		return "SHUTDOWN"
	case ChunkShutdownAck:
		return "SHUTDOWN-ACK"
	case ChunkCookieEcho:
		return "COOKIE-ECHO"
	case ChunkCookieAck:
		return "COOKIE-ACK"
	case ChunkShutdownComplete:
		return "SHUTDOWN-COMPLETE"
	case ChunkForwardTSN:
		return "FORWARD-TSN"
	default:
		return fmt.Sprintf("chunk(%#02x)", uint8(t))
	}
}

// DATA chunk flags.
const (
	FlagEnd       uint8 = 0x01
	FlagBegin     uint8 = 0x02
	FlagUnordered uint8 = 0x04

	// FlagsCompleteUnordered marks an unfragmented, unordered message.
	FlagsCompleteUnordered = FlagEnd | FlagBegin | FlagUnordered
)

// INIT / INIT-ACK parameter types.
const (
	ParamHeartbeatInfo       uint16 = 0x0001
	ParamStateCookie         uint16 = 0x0007
	ParamForwardTSNSupported uint16 = 0xC000
)

const (
	// HeaderLength is the size of the SCTP common header.
	HeaderLength = 12
	// ChunkHeaderLength is the type/flags/length prefix of every chunk.
	ChunkHeaderLength = 4
	// DataHeaderLength is the chunk header plus the fixed DATA fields.
	DataHeaderLength = 16
	// MaxChunks bounds how many chunks Parse collects from one packet.
	MaxChunks = 8
)

// Header is the SCTP common header.
type Header struct {
	SourcePort      uint16
	DestinationPort uint16
	VerificationTag uint32
	Checksum        uint32
}

// Chunk is a tagged union over the chunk kinds the engine understands. Only
// the field matching Type is meaningful. Byte slices alias the parsed buffer.
type Chunk struct {
	Type  ChunkType
	Flags uint8
	// Length is the declared length as parsed. Serialization recomputes it.
	Length uint16

	Data       DataChunk
	Init       InitChunk // INIT and INIT-ACK
	Sack       SackChunk
	Heartbeat  HeartbeatChunk // HEARTBEAT and HEARTBEAT-ACK
	Shutdown   ShutdownChunk
	ForwardTSN ForwardTSNChunk

	// Value holds the raw chunk value for ABORT, COOKIE-ECHO, COOKIE-ACK,
	// SHUTDOWN-ACK, SHUTDOWN-COMPLETE and unknown chunk types.
	Value []byte
}

// DataChunk carries one user message.
type DataChunk struct {
	TSN       uint32
	StreamID  uint16
	StreamSeq uint16
	PPID      uint32
	UserData  []byte
}

// InitChunk holds the fixed INIT / INIT-ACK fields. Params is the raw
// variable-length parameter area.
type InitChunk struct {
	InitiateTag        uint32
	AdvRecvWindow      uint32
	NumOutboundStreams uint16
	NumInboundStreams  uint16
	InitialTSN         uint32
	Params             []byte
}

// GapBlock is one SACK gap acknowledgement block, as offsets from the
// cumulative TSN.
type GapBlock struct {
	Start uint16
	End   uint16
}

// SackChunk is a selective acknowledgement.
type SackChunk struct {
	CumulativeTSNAck uint32
	AdvRecvWindow    uint32
	GapBlocks        []GapBlock
	DupTSNs          []uint32
}

// HeartbeatChunk carries the opaque heartbeat info, echoed by the peer.
type HeartbeatChunk struct {
	Info []byte
	// Params is the raw chunk value when parsed from the wire. When set it
	// is serialized verbatim, so an echo keeps every parameter.
	Params []byte
}

// ShutdownChunk carries the sender's cumulative TSN ack.
type ShutdownChunk struct {
	CumulativeTSNAck uint32
}

// ForwardTSNChunk advances the peer's cumulative TSN. Streams holds the raw
// stream/sequence pairs that follow.
type ForwardTSNChunk struct {
	NewCumulativeTSN uint32
	Streams          []byte
}

// ChunkLength returns the unpadded length of c as it will be serialized.
func ChunkLength(c *Chunk) int {
	switch c.Type {
	case ChunkData:
		return DataHeaderLength + len(c.Data.UserData)
	case ChunkInit, ChunkInitAck:
		return ChunkHeaderLength + 16 + len(c.Init.Params)
	case ChunkSack:
		return ChunkHeaderLength + 12 + 4*len(c.Sack.GapBlocks) + 4*len(c.Sack.DupTSNs)
	case ChunkHeartbeat, ChunkHeartbeatAck:
		if c.Heartbeat.Params != nil {
			return ChunkHeaderLength + len(c.Heartbeat.Params)
		}
		return ChunkHeaderLength + 4 + len(c.Heartbeat.Info)
	case ChunkShutdown:
		return ChunkHeaderLength + 4
	case ChunkForwardTSN:
		return ChunkHeaderLength + 4 + len(c.ForwardTSN.Streams)
	default:
		return ChunkHeaderLength + len(c.Value)
	}
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

// InitAckParams builds the INIT-ACK parameter area: a state cookie followed
// by the forward-TSN-supported marker.
func InitAckParams(cookie uint32) []byte {
	b := make([]byte, 0, 12)
	b = binary.BigEndian.AppendUint16(b, ParamStateCookie)
	b = binary.BigEndian.AppendUint16(b, 8)
	b = binary.BigEndian.AppendUint32(b, cookie)
	b = binary.BigEndian.AppendUint16(b, ParamForwardTSNSupported)
	return binary.BigEndian.AppendUint16(b, 4)
}
