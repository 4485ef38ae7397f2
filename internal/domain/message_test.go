package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payloads := map[MessageType]string{
		MessageJoin:    `null`,
		MessageLeave:   `null`,
		MessagePublish: `{"text":"hello","n":42,"nested":{"a":[1,2,3]}}`,
		MessagePing:    `null`,
		MessagePong:    `null`,
		MessageError:   `{"code":"internal","message":"boom"}`,
		MessageAck:     `{"op":"join","roomId":"lobby"}`,
	}

	for msgType, payload := range payloads {
		original := Envelope{
			Type:      msgType,
			RoomID:    "lobby",
			Payload:   json.RawMessage(payload),
			Timestamp: 1700000000123,
		}

		data, err := EncodeEnvelope(original)
		require.NoError(t, err, "encode %s", msgType)

		decoded, err := DecodeEnvelope(data)
		require.NoError(t, err, "decode %s", msgType)
		assert.Equal(t, original, decoded, "round trip %s", msgType)
	}
}

func TestDecodeEnvelope_MalformedJSON(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type": "join", "roomId":`))

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeEnvelope_NotAnObject(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`"just a string"`))

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeEnvelope_MissingType(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"roomId":"lobby","timestamp":123}`))

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeEnvelope_UnknownTypePassesThrough(t *testing.T) {
	// Unknown types must reach dispatch so the error reply can name them.
	env, err := DecodeEnvelope([]byte(`{"type":"subscribe","roomId":"lobby","timestamp":1}`))

	require.NoError(t, err)
	assert.Equal(t, MessageType("subscribe"), env.Type)
	assert.False(t, env.Type.Valid())
}

func TestMessageTypeValid(t *testing.T) {
	for _, valid := range []MessageType{MessageJoin, MessageLeave, MessagePublish, MessagePing, MessagePong, MessageError, MessageAck} {
		assert.True(t, valid.Valid(), "expected %q to be valid", valid)
	}

	assert.False(t, MessageType("").Valid())
	assert.False(t, MessageType("subscribe").Valid())
}

func TestNewErrorEnvelope(t *testing.T) {
	env := NewErrorEnvelope(CodeRateLimited, "slow down", 42)

	assert.Equal(t, MessageError, env.Type)
	assert.Equal(t, int64(42), env.Timestamp)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, CodeRateLimited, payload.Code)
	assert.Equal(t, "slow down", payload.Message)
}

func TestNewAckEnvelope(t *testing.T) {
	env := NewAckEnvelope("leave", "lobby", 7)

	assert.Equal(t, MessageAck, env.Type)
	assert.Equal(t, "lobby", env.RoomID)

	var payload AckPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "leave", payload.Op)
	assert.Equal(t, "lobby", payload.RoomID)
}

func TestWireErrorCode(t *testing.T) {
	assert.Equal(t, CodeDecodeError, WireErrorCode(ErrDecode))
	assert.Equal(t, CodeRateLimited, WireErrorCode(ErrRateLimited))
	assert.Equal(t, CodeRoomFull, WireErrorCode(ErrRoomFull))
	assert.Equal(t, CodeInternal, WireErrorCode(ErrTransportFailure))
}
