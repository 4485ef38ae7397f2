package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType tags a wire envelope. The set is closed; anything else is
// answered with an error envelope by the router.
type MessageType string

const (
	MessageJoin    MessageType = "join"
	MessageLeave   MessageType = "leave"
	MessagePublish MessageType = "publish"
	MessagePing    MessageType = "ping"
	MessagePong    MessageType = "pong"
	MessageError   MessageType = "error"
	MessageAck     MessageType = "ack"
)

// Valid reports whether t belongs to the recognized type set.
func (t MessageType) Valid() bool {
	switch t {
	case MessageJoin, MessageLeave, MessagePublish, MessagePing, MessagePong, MessageError, MessageAck:
		return true
	}
	return false
}

// Envelope is the frame exchanged on every connection.
//
// Envelopes are immutable once constructed. Routing and fan-out never
// mutate Payload; it is carried as raw bytes end to end.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ErrorPayload is the payload of MessageError envelopes.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckPayload is the payload of MessageAck envelopes, confirming a join or leave.
type AckPayload struct {
	Op     string `json:"op"`
	RoomID string `json:"roomId"`
}

// EncodeEnvelope serializes an envelope for the wire.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire frame. Malformed JSON or a missing type tag
// yields ErrDecode; an unrecognized type decodes fine and is left for
// dispatch to answer, so the error envelope can name it.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrDecode)
	}
	return env, nil
}

// NewErrorEnvelope builds an error envelope for one connection.
func NewErrorEnvelope(code, message string, timestamp int64) Envelope {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return Envelope{Type: MessageError, Payload: payload, Timestamp: timestamp}
}

// NewAckEnvelope builds an acknowledgement for a join or leave.
func NewAckEnvelope(op, roomID string, timestamp int64) Envelope {
	payload, _ := json.Marshal(AckPayload{Op: op, RoomID: roomID})
	return Envelope{Type: MessageAck, RoomID: roomID, Payload: payload, Timestamp: timestamp}
}
