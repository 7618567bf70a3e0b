// Package protocol defines the data channel establishment protocol (DCEP)
// messages and the SCTP payload protocol identifiers used by WebRTC data
// channels.
package protocol

// Payload protocol identifiers carried in SCTP DATA chunks.
const (
	PPIDControl     uint32 = 50 // DCEP control message
	PPIDString      uint32 = 51 // UTF-8 text message
	PPIDBinary      uint32 = 53 // Binary message
	PPIDStringEmpty uint32 = 56 // Empty text message (one ignored byte)
	PPIDBinaryEmpty uint32 = 57 // Empty binary message (one ignored byte)
)

// DCEP message types.
const (
	TypeAck  uint8 = 0x02
	TypeOpen uint8 = 0x03
)

// Channel types carried in DATA_CHANNEL_OPEN.
const (
	ChannelReliable                       uint8 = 0x00
	ChannelPartialReliableRexmit          uint8 = 0x01
	ChannelPartialReliableTimed           uint8 = 0x02
	ChannelReliableUnordered              uint8 = 0x80
	ChannelPartialReliableRexmitUnordered uint8 = 0x81
	ChannelPartialReliableTimedUnordered  uint8 = 0x82
)

// OpenHeaderSize is the fixed part of DATA_CHANNEL_OPEN: Type(1) +
// ChannelType(1) + Priority(2) + Reliability(4) + LabelLength(2) +
// ProtocolLength(2).
const OpenHeaderSize = 12

// Message is a DCEP control message. Only Type is meaningful for Ack.
type Message struct {
	Type        uint8
	ChannelType uint8
	Priority    uint16
	Reliability uint32
	Label       string
	Protocol    string
}
