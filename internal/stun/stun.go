// Package stun implements the subset of STUN an ICE-lite peer needs: parsing
// binding requests that carry a USERNAME attribute and building signed,
// fingerprinted binding success responses.
package stun

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"net/netip"
)

// Message types.
const (
	TypeBindingRequest  uint16 = 0x0001
	TypeSuccessResponse uint16 = 0x0101
)

// Attribute types.
const (
	AttrUsername         uint16 = 0x0006
	AttrMessageIntegrity uint16 = 0x0008
	AttrXorMappedAddress uint16 = 0x0020
	AttrFingerprint      uint16 = 0x8028
)

const (
	// HeaderLength is the fixed STUN header size.
	HeaderLength = 20
	// TransactionIDLength is the size of the transaction id.
	TransactionIDLength = 12
	// MaxIdentifierLength bounds each half of the USERNAME attribute.
	MaxIdentifierLength = 128

	// MagicCookie is the fixed value at bytes 4..8 of every message.
	MagicCookie uint32 = 0x2112a442

	fingerprintXor uint32 = 0x5354554e
	integrityLen          = 20
	attrHeaderLen         = 4
	familyIPv4            = 0x01
	familyIPv6            = 0x02

	// minUsernameLength and minServerUserLength come from ICE: both ufrags
	// are at least 4 characters, so "abcd:efgh" is the shortest legal value.
	minUsernameLength   = 9
	minServerUserLength = 4
)

var (
	ErrShort              = errors.New("stun: datagram shorter than header")
	ErrNotBindingRequest  = errors.New("stun: not a binding request")
	ErrBadLength          = errors.New("stun: declared length does not fit datagram")
	ErrMalformedAttribute = errors.New("stun: malformed attribute")
	ErrMalformedUsername  = errors.New("stun: malformed USERNAME")
)

// Packet is a parsed binding request.
type Packet struct {
	Type          uint16
	Length        uint16
	Cookie        uint32
	TransactionID [TransactionIDLength]byte

	// ServerUser is the part of USERNAME before the colon (our ufrag), and
	// RemoteUser the part after it. Both alias the parsed datagram.
	ServerUser []byte
	RemoteUser []byte
}

// IsLikelyStun reports whether b starts like a STUN message per the
// RFC 7983 demultiplexing rule (first byte 0..3).
func IsLikelyStun(b []byte) bool {
	return len(b) > 0 && b[0] < 4
}

// Parse decodes a binding request. The identifier slices in the returned
// packet alias b.
func Parse(b []byte) (*Packet, error) {
	if len(b) < HeaderLength {
		return nil, ErrShort
	}
	if b[0] != 0 || b[1] != 1 {
		return nil, ErrNotBindingRequest
	}

	p := &Packet{
		Type:   binary.BigEndian.Uint16(b[0:2]),
		Length: binary.BigEndian.Uint16(b[2:4]),
		Cookie: binary.BigEndian.Uint32(b[4:8]),
	}
	copy(p.TransactionID[:], b[8:HeaderLength])

	if p.Length < attrHeaderLen || int(p.Length) > len(b)-HeaderLength {
		return nil, ErrBadLength
	}

	body := b[HeaderLength : HeaderLength+int(p.Length)]
	for len(body) > 0 {
		if len(body) < attrHeaderLen {
			return nil, ErrMalformedAttribute
		}
		attrType := binary.BigEndian.Uint16(body[0:2])
		attrLen := int(binary.BigEndian.Uint16(body[2:4]))
		padded := (attrLen + 3) &^ 3
		body = body[attrHeaderLen:]

		if attrType == AttrUsername {
			if attrLen < minUsernameLength || attrLen > len(body) {
				return nil, ErrMalformedUsername
			}
			if err := p.setUsername(body[:attrLen]); err != nil {
				return nil, err
			}
			return p, nil
		}

		if padded > len(body) {
			return nil, ErrMalformedAttribute
		}
		body = body[padded:]
	}

	return p, nil
}

func (p *Packet) setUsername(v []byte) error {
	colon := bytes.IndexByte(v, ':')
	if colon < minServerUserLength {
		return ErrMalformedUsername
	}
	server, remote := v[:colon], v[colon+1:]
	if len(server) > MaxIdentifierLength || len(remote) > MaxIdentifierLength {
		return ErrMalformedUsername
	}
	p.ServerUser = server
	p.RemoteUser = remote
	return nil
}

// SuccessResponseLength returns the encoded size of a success response for
// the given mapped address.
func SuccessResponseLength(addr netip.AddrPort) int {
	return HeaderLength + contentLength(addr) + attrHeaderLen + 4
}

// contentLength is the body length covered by MESSAGE-INTEGRITY.
func contentLength(addr netip.AddrPort) int {
	return attrHeaderLen + xorAddressLength(addr) + attrHeaderLen + integrityLen
}

func xorAddressLength(addr netip.AddrPort) int {
	if addr.Addr().Unmap().Is4() {
		return 8
	}
	return 20
}

// AppendSuccessResponse appends a binding success response to dst.
//
// The response echoes txID, carries XOR-MAPPED-ADDRESS for addr, then
// MESSAGE-INTEGRITY keyed with password, then FINGERPRINT.
func AppendSuccessResponse(dst []byte, txID [TransactionIDLength]byte, addr netip.AddrPort, password []byte) []byte {
	start := len(dst)
	integrityCovered := contentLength(addr)

	dst = binary.BigEndian.AppendUint16(dst, TypeSuccessResponse)
	dst = binary.BigEndian.AppendUint16(dst, uint16(integrityCovered))
	dst = binary.BigEndian.AppendUint32(dst, MagicCookie)
	dst = append(dst, txID[:]...)

	dst = appendXorMappedAddress(dst, txID, addr)

	mac := hmac.New(sha1.New, password)
	mac.Write(dst[start:])
	dst = binary.BigEndian.AppendUint16(dst, AttrMessageIntegrity)
	dst = binary.BigEndian.AppendUint16(dst, integrityLen)
	dst = mac.Sum(dst)

	// FINGERPRINT covers the header with the final length.
	binary.BigEndian.PutUint16(dst[start+2:start+4], uint16(integrityCovered+attrHeaderLen+4))
	crc := crc32.ChecksumIEEE(dst[start:]) ^ fingerprintXor
	dst = binary.BigEndian.AppendUint16(dst, AttrFingerprint)
	dst = binary.BigEndian.AppendUint16(dst, 4)
	dst = binary.BigEndian.AppendUint32(dst, crc)
	return dst
}

func appendXorMappedAddress(dst []byte, txID [TransactionIDLength]byte, addr netip.AddrPort) []byte {
	ip := addr.Addr().Unmap()
	port := addr.Port() ^ uint16(MagicCookie>>16)

	dst = binary.BigEndian.AppendUint16(dst, AttrXorMappedAddress)
	if ip.Is4() {
		a := ip.As4()
		dst = binary.BigEndian.AppendUint16(dst, 8)
		dst = append(dst, 0, familyIPv4)
		dst = binary.BigEndian.AppendUint16(dst, port)
		return binary.BigEndian.AppendUint32(dst, binary.BigEndian.Uint32(a[:])^MagicCookie)
	}

	a := ip.As16()
	var key [16]byte
	binary.BigEndian.PutUint32(key[0:4], MagicCookie)
	copy(key[4:], txID[:])
	dst = binary.BigEndian.AppendUint16(dst, 20)
	dst = append(dst, 0, familyIPv6)
	dst = binary.BigEndian.AppendUint16(dst, port)
	for i := range a {
		dst = append(dst, a[i]^key[i])
	}
	return dst
}
