// Package signaling exposes the engine's offer/answer exchange over HTTP and
// WebSocket.
package signaling

import "encoding/json"

// MessageType identifies the kind of WebSocket signaling message.
type MessageType string

const (
	MsgTypeOffer  MessageType = "offer"
	MsgTypeAnswer MessageType = "answer"
	MsgTypeError  MessageType = "error"
)

// Message is the JSON structure exchanged over the WebSocket.
type Message struct {
	Type   MessageType     `json:"type"`
	SDP    string          `json:"sdp,omitempty"`
	Answer json.RawMessage `json:"answer,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   int             `json:"code,omitempty"`
}

// Answer is the document the engine renders for an accepted offer.
type Answer struct {
	Answer struct {
		SDP  string `json:"sdp"`
		Type string `json:"type"`
	} `json:"answer"`
	Candidate Candidate `json:"candidate"`
}

// Candidate is the server's single host candidate.
type Candidate struct {
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	SDPMid        string `json:"sdpMid"`
	Candidate     string `json:"candidate"`
}
