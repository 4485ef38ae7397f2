package domain

import "errors"

var (
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrDuplicateConnection = errors.New("transport already registered")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrRateLimited         = errors.New("rate limited")
	ErrDecode              = errors.New("malformed envelope")
	ErrTransportFailure    = errors.New("transport failure")
	ErrTimeoutExceeded     = errors.New("heartbeat timeout exceeded")
	ErrRoomFull            = errors.New("room is full")
	ErrPolicyNotFound      = errors.New("room policy not found")
	ErrClientClosed        = errors.New("client closed")
	ErrReconnectGivenUp    = errors.New("reconnect attempts exhausted")
)

// Wire error codes carried in ErrorPayload.Code.
const (
	CodeDecodeError = "decode_error"
	CodeRateLimited = "rate_limited"
	CodeUnknownType = "unknown_type"
	CodeUnknownRoom = "unknown_room"
	CodeRoomFull    = "room_full"
	CodeInternal    = "internal"
)

// WireErrorCode maps a routing failure to the code sent back to the peer.
func WireErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDecode):
		return CodeDecodeError
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrRoomNotFound):
		return CodeUnknownRoom
	case errors.Is(err, ErrRoomFull):
		return CodeRoomFull
	default:
		return CodeInternal
	}
}
