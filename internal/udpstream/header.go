// Package udpstream splits framebuffer updates into data-channel sized
// pieces and puts them back together on the receiving side.
//
// Every piece starts with a 20-byte little-endian header:
//
//	id     u32  per-stream frame counter
//	index  u32  piece index within the frame
//	pieces u32  number of pieces in the frame
//	hash   u32  low 32 bits of XXH64(piece payload)
//	frame  u32  caller-supplied frame number
package udpstream

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// HeaderSize is the length of the per-piece header.
const HeaderSize = 20

var (
	ErrShortPiece  = errors.New("udpstream: piece shorter than header")
	ErrBadHash     = errors.New("udpstream: piece hash mismatch")
	ErrBadIndex    = errors.New("udpstream: piece index out of range")
	ErrBadPieces   = errors.New("udpstream: inconsistent piece count")
	ErrOverrun     = errors.New("udpstream: frame buffer overrun")
	ErrNoClient    = errors.New("udpstream: stream has no client")
	ErrPieceLength = errors.New("udpstream: invalid piece size")
)

// Header is the decoded piece header.
type Header struct {
	ID     uint32
	Index  uint32
	Pieces uint32
	Hash   uint32
	Frame  uint32
}

// Hash returns the piece checksum carried in the header.
func Hash(payload []byte) uint32 {
	return uint32(xxhash.Sum64(payload))
}

// AppendPiece appends a header followed by payload to dst.
func AppendPiece(dst []byte, h Header, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, h.ID)
	dst = binary.LittleEndian.AppendUint32(dst, h.Index)
	dst = binary.LittleEndian.AppendUint32(dst, h.Pieces)
	dst = binary.LittleEndian.AppendUint32(dst, h.Hash)
	dst = binary.LittleEndian.AppendUint32(dst, h.Frame)
	return append(dst, payload...)
}

// ParsePiece splits a piece into its header and payload. The payload
// aliases b.
func ParsePiece(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, ErrShortPiece
	}
	h := Header{
		ID:     binary.LittleEndian.Uint32(b[0:4]),
		Index:  binary.LittleEndian.Uint32(b[4:8]),
		Pieces: binary.LittleEndian.Uint32(b[8:12]),
		Hash:   binary.LittleEndian.Uint32(b[12:16]),
		Frame:  binary.LittleEndian.Uint32(b[16:20]),
	}
	return h, b[HeaderSize:], nil
}
