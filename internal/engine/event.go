package engine

import (
	"errors"
	"fmt"
	"net/netip"
)

// EventType identifies what happened to a client.
type EventType int

const (
	EventClientJoin EventType = iota
	EventClientLeave
	EventTextData
	EventBinaryData
)

func (t EventType) String() string {
	switch t {
	case EventClientJoin:
		return "join"
	case EventClientLeave:
		return "leave"
	case EventTextData:
		return "text"
	case EventBinaryData:
		return "binary"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is handed to the consumer by Update.
//
// Data points into the engine's arena and is only valid until the next
// Update call that finds the queue empty. Copy it if it must live longer.
// For EventClientLeave the Client handle is already stale; Address and User
// carry what the consumer needs to clean up.
type Event struct {
	Type    EventType
	Client  ClientID
	Address netip.AddrPort
	User    any
	Data    []byte
}

// SDPStatus is the outcome of ExchangeSDP.
type SDPStatus int

const (
	SDPSuccess SDPStatus = iota
	SDPInvalid
	SDPMaxClients
	SDPError
)

func (s SDPStatus) String() string {
	switch s {
	case SDPSuccess:
		return "success"
	case SDPInvalid:
		return "invalid"
	case SDPMaxClients:
		return "max-clients"
	case SDPError:
		return "error"
	default:
		return fmt.Sprintf("sdp-status(%d)", int(s))
	}
}

// SDPResult is returned by ExchangeSDP. Answer lives in the arena, like
// event data.
type SDPResult struct {
	Status SDPStatus
	Client ClientID
	Answer []byte
	Err    error
}

// Status is the coarse creation result exposed to hosts that want a code
// rather than an error value.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusOutOfMemory
)

var (
	ErrOutOfMemory    = errors.New("engine: capacity limits cannot be allocated")
	ErrUnknownClient  = errors.New("engine: unknown or departed client")
	ErrChannelNotOpen = errors.New("engine: data channel not open")
	ErrNoWriter       = errors.New("engine: no datagram writer configured")
)

// StatusOf maps an error from New to a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrOutOfMemory):
		return StatusOutOfMemory
	default:
		return StatusError
	}
}
