package sctp

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

var (
	ErrShortPacket    = errors.New("sctp: packet shorter than header and one chunk")
	ErrMalformedChunk = errors.New("sctp: malformed chunk")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ParseHeader decodes the common header. It requires room for at least one
// chunk header after it.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength+ChunkHeaderLength {
		return Header{}, ErrShortPacket
	}
	return Header{
		SourcePort:      binary.BigEndian.Uint16(b[0:2]),
		DestinationPort: binary.BigEndian.Uint16(b[2:4]),
		VerificationTag: binary.BigEndian.Uint32(b[4:8]),
		Checksum:        binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// Walk decodes the header and hands each chunk to fn in wire order. Walking
// stops early when fn returns false, after MaxChunks chunks, or at the first
// malformed chunk; chunks already handed to fn stay handled.
func Walk(b []byte, fn func(c *Chunk) bool) (Header, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return h, err
	}

	rest := b[HeaderLength:]
	for n := 0; len(rest) >= ChunkHeaderLength && n < MaxChunks; n++ {
		var c Chunk
		consumed, err := parseChunk(rest, &c)
		if err != nil {
			return h, err
		}
		if !fn(&c) {
			return h, nil
		}
		if consumed >= len(rest) {
			break
		}
		rest = rest[consumed:]
	}
	return h, nil
}

// Parse collects up to MaxChunks chunks. On a malformed chunk the chunks
// decoded before it are returned together with the error.
func Parse(b []byte) (Header, []Chunk, error) {
	var chunks []Chunk
	h, err := Walk(b, func(c *Chunk) bool {
		chunks = append(chunks, *c)
		return true
	})
	return h, chunks, err
}

// parseChunk decodes one chunk from b and returns the padded number of bytes
// it occupies. A final chunk whose padding is missing is accepted.
func parseChunk(b []byte, c *Chunk) (int, error) {
	c.Type = ChunkType(b[0])
	c.Flags = b[1]
	c.Length = binary.BigEndian.Uint16(b[2:4])

	length := int(c.Length)
	if length < ChunkHeaderLength || length > len(b) {
		return 0, ErrMalformedChunk
	}
	v := b[ChunkHeaderLength:length]

	switch c.Type {
	case ChunkData:
		if len(v) < DataHeaderLength-ChunkHeaderLength {
			return 0, ErrMalformedChunk
		}
		c.Data = DataChunk{
			TSN:       binary.BigEndian.Uint32(v[0:4]),
			StreamID:  binary.BigEndian.Uint16(v[4:6]),
			StreamSeq: binary.BigEndian.Uint16(v[6:8]),
			PPID:      binary.BigEndian.Uint32(v[8:12]),
			UserData:  v[12:],
		}

	case ChunkInit, ChunkInitAck:
		if len(v) < 16 {
			return 0, ErrMalformedChunk
		}
		c.Init = InitChunk{
			InitiateTag:        binary.BigEndian.Uint32(v[0:4]),
			AdvRecvWindow:      binary.BigEndian.Uint32(v[4:8]),
			NumOutboundStreams: binary.BigEndian.Uint16(v[8:10]),
			NumInboundStreams:  binary.BigEndian.Uint16(v[10:12]),
			InitialTSN:         binary.BigEndian.Uint32(v[12:16]),
			Params:             v[16:],
		}

	case ChunkSack:
		if len(v) < 12 {
			return 0, ErrMalformedChunk
		}
		numGaps := int(binary.BigEndian.Uint16(v[8:10]))
		numDups := int(binary.BigEndian.Uint16(v[10:12]))
		if len(v) != 12+4*numGaps+4*numDups {
			return 0, ErrMalformedChunk
		}
		c.Sack = SackChunk{
			CumulativeTSNAck: binary.BigEndian.Uint32(v[0:4]),
			AdvRecvWindow:    binary.BigEndian.Uint32(v[4:8]),
		}
		off := 12
		if numGaps > 0 {
			c.Sack.GapBlocks = make([]GapBlock, numGaps)
			for i := range c.Sack.GapBlocks {
				c.Sack.GapBlocks[i] = GapBlock{
					Start: binary.BigEndian.Uint16(v[off : off+2]),
					End:   binary.BigEndian.Uint16(v[off+2 : off+4]),
				}
				off += 4
			}
		}
		if numDups > 0 {
			c.Sack.DupTSNs = make([]uint32, numDups)
			for i := range c.Sack.DupTSNs {
				c.Sack.DupTSNs[i] = binary.BigEndian.Uint32(v[off : off+4])
				off += 4
			}
		}

	case ChunkHeartbeat, ChunkHeartbeatAck:
		if len(v) < 4 {
			return 0, ErrMalformedChunk
		}
		infoLen := int(binary.BigEndian.Uint16(v[2:4]))
		if infoLen < 4 || infoLen > len(v) {
			return 0, ErrMalformedChunk
		}
		c.Heartbeat = HeartbeatChunk{Info: v[4:infoLen], Params: v}

	case ChunkShutdown:
		if len(v) < 4 {
			return 0, ErrMalformedChunk
		}
		c.Shutdown = ShutdownChunk{CumulativeTSNAck: binary.BigEndian.Uint32(v[0:4])}

	case ChunkForwardTSN:
		if len(v) < 4 {
			return 0, ErrMalformedChunk
		}
		c.ForwardTSN = ForwardTSNChunk{
			NewCumulativeTSN: binary.BigEndian.Uint32(v[0:4]),
			Streams:          v[4:],
		}

	default:
		c.Value = v
	}

	return min(pad4(length), len(b)), nil
}

// AppendPacket appends a complete SCTP packet to dst: the header with a
// zeroed checksum, each chunk padded to 4 bytes, then the CRC32c checksum
// patched into the header.
func AppendPacket(dst []byte, h Header, chunks ...Chunk) []byte {
	start := len(dst)

	dst = binary.BigEndian.AppendUint16(dst, h.SourcePort)
	dst = binary.BigEndian.AppendUint16(dst, h.DestinationPort)
	dst = binary.BigEndian.AppendUint32(dst, h.VerificationTag)
	dst = append(dst, 0, 0, 0, 0)

	for i := range chunks {
		dst = appendChunk(dst, &chunks[i])
	}

	sum := crc32.Checksum(dst[start:], castagnoli)
	binary.LittleEndian.PutUint32(dst[start+8:start+12], sum)
	return dst
}

func appendChunk(dst []byte, c *Chunk) []byte {
	length := ChunkLength(c)

	dst = append(dst, byte(c.Type), c.Flags)
	dst = binary.BigEndian.AppendUint16(dst, uint16(length))

	switch c.Type {
	case ChunkData:
		d := &c.Data
		dst = binary.BigEndian.AppendUint32(dst, d.TSN)
		dst = binary.BigEndian.AppendUint16(dst, d.StreamID)
		dst = binary.BigEndian.AppendUint16(dst, d.StreamSeq)
		dst = binary.BigEndian.AppendUint32(dst, d.PPID)
		dst = append(dst, d.UserData...)

	case ChunkInit, ChunkInitAck:
		in := &c.Init
		dst = binary.BigEndian.AppendUint32(dst, in.InitiateTag)
		dst = binary.BigEndian.AppendUint32(dst, in.AdvRecvWindow)
		dst = binary.BigEndian.AppendUint16(dst, in.NumOutboundStreams)
		dst = binary.BigEndian.AppendUint16(dst, in.NumInboundStreams)
		dst = binary.BigEndian.AppendUint32(dst, in.InitialTSN)
		dst = append(dst, in.Params...)

	case ChunkSack:
		s := &c.Sack
		dst = binary.BigEndian.AppendUint32(dst, s.CumulativeTSNAck)
		dst = binary.BigEndian.AppendUint32(dst, s.AdvRecvWindow)
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(s.GapBlocks)))
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(s.DupTSNs)))
		for _, g := range s.GapBlocks {
			dst = binary.BigEndian.AppendUint16(dst, g.Start)
			dst = binary.BigEndian.AppendUint16(dst, g.End)
		}
		for _, tsn := range s.DupTSNs {
			dst = binary.BigEndian.AppendUint32(dst, tsn)
		}

	case ChunkHeartbeat, ChunkHeartbeatAck:
		if c.Heartbeat.Params != nil {
			dst = append(dst, c.Heartbeat.Params...)
			break
		}
		dst = binary.BigEndian.AppendUint16(dst, ParamHeartbeatInfo)
		dst = binary.BigEndian.AppendUint16(dst, uint16(4+len(c.Heartbeat.Info)))
		dst = append(dst, c.Heartbeat.Info...)

	case ChunkShutdown:
		dst = binary.BigEndian.AppendUint32(dst, c.Shutdown.CumulativeTSNAck)

	case ChunkForwardTSN:
		dst = binary.BigEndian.AppendUint32(dst, c.ForwardTSN.NewCumulativeTSN)
		dst = append(dst, c.ForwardTSN.Streams...)

	default:
		dst = append(dst, c.Value...)
	}

	for i := length; i < pad4(length); i++ {
		dst = append(dst, 0)
	}
	return dst
}

// Checksum computes the CRC32c of a serialized packet with its checksum
// field treated as zero.
func Checksum(b []byte) uint32 {
	if len(b) < HeaderLength {
		return 0
	}
	var zero [4]byte
	sum := crc32.Update(0, castagnoli, b[:8])
	sum = crc32.Update(sum, castagnoli, zero[:])
	return crc32.Update(sum, castagnoli, b[HeaderLength:])
}
