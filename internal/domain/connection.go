package domain

// ConnState tracks the lifecycle of a registered connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason explains why a connection was removed from the registry.
// Carried on removal notifications and the connections_removed_total metric.
type CloseReason string

const (
	ClosePeer         CloseReason = "peer_closed"
	CloseTransport    CloseReason = "transport_failure"
	CloseHeartbeat    CloseReason = "heartbeat_timeout"
	CloseSlowConsumer CloseReason = "slow_consumer"
	CloseShutdown     CloseReason = "shutdown"
)

// Transport is the send half of one peer connection. The registry entry
// owns the handle exclusively; everything else goes through registry and
// room manager methods.
//
// Send must be safe for concurrent use and must fail fast once the peer
// is gone rather than blocking on a dead socket.
type Transport interface {
	Send(env Envelope) error
	Close() error
}
