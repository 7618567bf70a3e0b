package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a control message for transmission with PPIDControl.
func Encode(msg *Message) []byte {
	if msg.Type != TypeOpen {
		return []byte{msg.Type}
	}

	buf := make([]byte, OpenHeaderSize+len(msg.Label)+len(msg.Protocol))
	buf[0] = msg.Type
	buf[1] = msg.ChannelType
	binary.BigEndian.PutUint16(buf[2:4], msg.Priority)
	binary.BigEndian.PutUint32(buf[4:8], msg.Reliability)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(msg.Label)))
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(msg.Protocol)))
	copy(buf[OpenHeaderSize:], msg.Label)
	copy(buf[OpenHeaderSize+len(msg.Label):], msg.Protocol)
	return buf
}

// Decode parses a control message. Open must carry its full fixed header and
// the label and protocol it declares; Ack is a single byte.
func Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty control message")
	}

	msg := &Message{Type: data[0]}
	switch msg.Type {
	case TypeAck:
		return msg, nil

	case TypeOpen:
		if len(data) < OpenHeaderSize {
			return nil, fmt.Errorf("open message too short: %d bytes (need at least %d)", len(data), OpenHeaderSize)
		}
		msg.ChannelType = data[1]
		msg.Priority = binary.BigEndian.Uint16(data[2:4])
		msg.Reliability = binary.BigEndian.Uint32(data[4:8])
		labelLen := int(binary.BigEndian.Uint16(data[8:10]))
		protoLen := int(binary.BigEndian.Uint16(data[10:12]))
		if OpenHeaderSize+labelLen+protoLen > len(data) {
			return nil, fmt.Errorf("open message label/protocol exceed payload: %d+%d bytes in %d",
				labelLen, protoLen, len(data)-OpenHeaderSize)
		}
		msg.Label = string(data[OpenHeaderSize : OpenHeaderSize+labelLen])
		msg.Protocol = string(data[OpenHeaderSize+labelLen : OpenHeaderSize+labelLen+protoLen])
		return msg, nil

	default:
		return nil, fmt.Errorf("unknown control message type: %#02x", msg.Type)
	}
}
