package engine

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/1ureka/webudp/internal/mem"
)

// ClientID is a generation-checked handle to a client slot. It goes stale
// as soon as the client is swept.
type ClientID = mem.Handle

// State is a client's lifecycle state. States only move forward, except
// that any live state may drop to StatePendingRemoval.
type State int

const (
	StateDead State = iota
	StatePendingRemoval
	StateHandshake
	StateTransportEstablished
	StateDataChannelOpen
)

func (s State) String() string {
	switch s {
	case StateDead:
		return "dead"
	case StatePendingRemoval:
		return "pending-removal"
	case StateHandshake:
		return "handshake"
	case StateTransportEstablished:
		return "transport-established"
	case StateDataChannelOpen:
		return "data-channel-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the per-client security layer. *handshake.Pump implements it.
type Session interface {
	Feed(datagram []byte) error
	Send(plaintext []byte) error
	Established() bool
	DrainOutgoing(fn func([]byte))
	DrainApplication(fn func([]byte))
	DrainErrors(fn func(error))
	Close() error
}

// client is one peer's state. It lives in a pool slot and is only touched
// by the engine's caller thread.
type client struct {
	id ClientID

	serverUser     string
	serverPassword string
	remoteUser     string
	remotePassword string

	address netip.AddrPort
	bound   bool

	state      State
	localPort  uint16
	remotePort uint16
	streamID   uint16
	localTag   uint32
	remoteTag  uint32
	tsn        uint32
	remoteTSN  uint32

	ttl           time.Duration
	nextHeartbeat time.Duration

	// stopped is set once the association has been shut down or aborted by
	// either side, so teardown does not send another SHUTDOWN.
	stopped bool

	session Session
	user    any
}

// nextTSN returns the TSN for the next outgoing DATA chunk.
func (c *client) nextTSN() uint32 {
	tsn := c.tsn
	c.tsn++
	return tsn
}

// ClientInfo is a read-only snapshot of a client.
type ClientInfo struct {
	ID         ClientID
	State      State
	Address    netip.AddrPort
	Bound      bool
	ServerUser string
	RemoteUser string
	TTL        time.Duration
	User       any
}

func (c *client) info() ClientInfo {
	return ClientInfo{
		ID:         c.id,
		State:      c.state,
		Address:    c.address,
		Bound:      c.bound,
		ServerUser: c.serverUser,
		RemoteUser: c.remoteUser,
		TTL:        c.ttl,
		User:       c.user,
	}
}

// tsnAfter reports whether a is later than b in serial number arithmetic.
func tsnAfter(a, b uint32) bool {
	return int32(a-b) > 0
}
