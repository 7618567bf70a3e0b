package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// RejectedError is returned by Exchange when the server refuses the offer.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("offer rejected (%d): %s", e.Code, e.Reason)
}

// Dial connects to the WebSocket endpoint, e.g. ws://host:9556/ws.
func Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// Exchange sends offer over conn and waits for the answer.
func Exchange(conn *websocket.Conn, offer string) (Answer, error) {
	if err := conn.WriteJSON(Message{Type: MsgTypeOffer, SDP: offer}); err != nil {
		return Answer{}, fmt.Errorf("failed to send offer: %w", err)
	}

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return Answer{}, fmt.Errorf("failed to read answer: %w", err)
	}
	switch msg.Type {
	case MsgTypeAnswer:
		var a Answer
		if err := json.Unmarshal(msg.Answer, &a); err != nil {
			return Answer{}, fmt.Errorf("malformed answer: %w", err)
		}
		return a, nil
	case MsgTypeError:
		return Answer{}, &RejectedError{Code: msg.Code, Reason: msg.Error}
	default:
		return Answer{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
}
