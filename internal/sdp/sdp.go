// Package sdp extracts the ICE credentials and media id from a browser's SDP
// offer and renders the JSON-wrapped ICE-lite answer the browser expects.
package sdp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/1ureka/webudp/internal/mem"
)

// MaxAnswerLength bounds the rendered answer document.
const MaxAnswerLength = 4096

const (
	maxUfragLength    = 128
	maxPasswordLength = 256
	maxMidLength      = 64
)

var (
	ErrMissingField   = errors.New("sdp: required attribute missing")
	ErrInvalidField   = errors.New("sdp: attribute value has invalid characters or length")
	ErrAnswerTooLarge = errors.New("sdp: rendered answer exceeds buffer")
	ErrArenaExhausted = errors.New("sdp: arena exhausted")
)

// Offer holds the fields the engine needs from a remote offer.
type Offer struct {
	Ufrag    string
	Password string
	Mid      string
}

type attribute struct {
	prefix string
	dst    func(*Offer) *string
	max    int
	valid  func(byte) bool
}

var attributes = []attribute{
	{"ice-ufrag:", func(o *Offer) *string { return &o.Ufrag }, maxUfragLength, isIceChar},
	{"ice-pwd:", func(o *Offer) *string { return &o.Password }, maxPasswordLength, isIceChar},
	{"mid:", func(o *Offer) *string { return &o.Mid }, maxMidLength, isTokenChar},
}

// Parse scans the offer line by line and records the value after the colon
// of the first non-empty a=ice-ufrag, a=ice-pwd and a=mid lines. Every other
// line is ignored. All three fields must be present.
func Parse(body []byte) (Offer, error) {
	var offer Offer

	for len(body) > 0 {
		var line []byte
		if i := bytes.IndexByte(body, '\n'); i >= 0 {
			line, body = body[:i], body[i+1:]
		} else {
			line, body = body, nil
		}
		line = bytes.TrimRight(line, "\r")

		if !bytes.HasPrefix(line, []byte("a=")) {
			continue
		}
		line = line[2:]

		for _, attr := range attributes {
			if !bytes.HasPrefix(line, []byte(attr.prefix)) {
				continue
			}
			dst := attr.dst(&offer)
			value := line[len(attr.prefix):]
			if *dst != "" || len(value) == 0 {
				break
			}
			if len(value) > attr.max || !allBytes(value, attr.valid) {
				return Offer{}, fmt.Errorf("%w: %s", ErrInvalidField, strings.TrimSuffix(attr.prefix, ":"))
			}
			*dst = string(value)
			break
		}
	}

	switch {
	case offer.Ufrag == "":
		return Offer{}, fmt.Errorf("%w: ice-ufrag", ErrMissingField)
	case offer.Password == "":
		return Offer{}, fmt.Errorf("%w: ice-pwd", ErrMissingField)
	case offer.Mid == "":
		return Offer{}, fmt.Errorf("%w: mid", ErrMissingField)
	}
	return offer, nil
}

// Answer carries everything rendered into the answer document.
type Answer struct {
	SessionID   uint32
	Host        string
	Port        uint16
	Ufrag       string
	Password    string
	Fingerprint string
	Mid         string
	Priority    uint32
}

const answerTemplate = `{"answer":{"sdp":"v=0\r\n` +
	`o=- %d 1 IN %s %s\r\n` +
	`s=-\r\n` +
	`t=0 0\r\n` +
	`m=application %d UDP/DTLS/SCTP webrtc-datachannel\r\n` +
	`c=IN %s %s\r\n` +
	`a=ice-lite\r\n` +
	`a=ice-ufrag:%s\r\n` +
	`a=ice-pwd:%s\r\n` +
	`a=fingerprint:sha-256 %s\r\n` +
	`a=ice-options:trickle\r\n` +
	`a=setup:passive\r\n` +
	`a=mid:%s\r\n` +
	`a=sctp-port:%d\r\n",` +
	`"type":"answer"},` +
	`"candidate":{"sdpMLineIndex":0,"sdpMid":"%s",` +
	`"candidate":"candidate:1 1 UDP %d %s %d typ host"}}`

// Generate renders the answer into an arena block. The block is valid until
// the arena is next reset.
func Generate(arena *mem.Arena, a *Answer) ([]byte, error) {
	var scratch [MaxAnswerLength]byte
	ipVersion := "IP4"
	if strings.Contains(a.Host, ":") {
		ipVersion = "IP6"
	}

	out := fmt.Appendf(scratch[:0], answerTemplate,
		a.SessionID, ipVersion, a.Host,
		a.Port,
		ipVersion, a.Host,
		a.Ufrag,
		a.Password,
		a.Fingerprint,
		a.Mid,
		a.Port,
		a.Mid,
		a.Priority, a.Host, a.Port,
	)
	if len(out) > MaxAnswerLength {
		return nil, ErrAnswerTooLarge
	}

	block := arena.Acquire(len(out))
	if block == nil {
		return nil, ErrArenaExhausted
	}
	copy(block, out)
	return block, nil
}

func allBytes(b []byte, ok func(byte) bool) bool {
	for _, c := range b {
		if !ok(c) {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// isIceChar matches the ice-char production of RFC 8839.
func isIceChar(c byte) bool {
	return isAlnum(c) || c == '+' || c == '/'
}

// isTokenChar matches the SDP token production minus characters that would
// need escaping inside the JSON answer.
func isTokenChar(c byte) bool {
	return isAlnum(c) || strings.IndexByte("!#$%&'*+-.^_`{|}~", c) >= 0
}
