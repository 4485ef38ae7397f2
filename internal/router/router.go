// Package router runs the inbound frame pipeline: decode, rate-limit gate,
// activity touch, dispatch by envelope type.
//
// Every failure stays local to the frame: malformed frames and rate-limit
// denials are answered with an error envelope to the sender, unknown types
// get an error naming the type, and nothing routed here can crash the
// process. Delivery failures during fan-out are the room manager's concern.
package router

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/metrics"
)

// Registry is the slice of the connection registry the router needs.
type Registry interface {
	Touch(connID uuid.UUID)
	Send(connID uuid.UUID, env domain.Envelope) error
}

// Rooms is the slice of the room manager the router needs.
type Rooms interface {
	Join(ctx context.Context, roomID string, connID uuid.UUID) error
	Leave(roomID string, connID uuid.UUID)
	Broadcast(ctx context.Context, roomID string, env domain.Envelope, exclude uuid.UUID) (int, error)
}

// Limiter gates inbound frames per key.
type Limiter interface {
	Allow(key string) bool
}

// Router dispatches inbound frames for all connections. Stateless apart
// from its collaborators, so one instance serves every connection worker.
type Router struct {
	clock    clockwork.Clock
	registry Registry
	rooms    Rooms
	limiter  Limiter

	// Optional cross-instance bridge; nil keeps publishes local.
	bridge domain.EventPublisher
}

// New creates a router over the given collaborators.
func New(clock clockwork.Clock, registry Registry, rooms Rooms, limiter Limiter) *Router {
	return &Router{
		clock:    clock,
		registry: registry,
		rooms:    rooms,
		limiter:  limiter,
	}
}

// SetBridge wires the cross-instance publisher into local publishes.
func (r *Router) SetBridge(bridge domain.EventPublisher) {
	r.bridge = bridge
}

// HandleFrame processes one raw inbound frame from connID. Frames of one
// connection are handled in arrival order by that connection's dispatch
// goroutine; HandleFrame itself never blocks on anything but the peer
// transports it writes to.
func (r *Router) HandleFrame(ctx context.Context, connID uuid.UUID, frame []byte) {
	env, err := domain.DecodeEnvelope(frame)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		slog.DebugContext(ctx, "frame rejected", "connection_id", connID, "error", err)
		r.replyError(connID, domain.CodeDecodeError, "malformed envelope")
		return
	}

	if !r.limiter.Allow(connID.String()) {
		r.replyError(connID, domain.CodeRateLimited, "rate limit exceeded")
		return
	}

	r.registry.Touch(connID)

	typeLabel := string(env.Type)
	if !env.Type.Valid() {
		typeLabel = "unknown"
	}
	metrics.MessagesInTotal.WithLabelValues(typeLabel).Inc()

	switch env.Type {
	case domain.MessageJoin:
		r.handleJoin(ctx, connID, env)
	case domain.MessageLeave:
		r.handleLeave(connID, env)
	case domain.MessagePublish:
		r.handlePublish(ctx, connID, env)
	case domain.MessagePing:
		r.reply(connID, domain.Envelope{Type: domain.MessagePong, Payload: env.Payload, Timestamp: r.now()})
	case domain.MessagePong:
		// Pure activity signal; the touch above already accounted for it.
	case domain.MessageError, domain.MessageAck:
		slog.DebugContext(ctx, "ignoring server-bound envelope", "connection_id", connID, "type", env.Type)
	default:
		r.replyError(connID, domain.CodeUnknownType, "unknown message type: "+string(env.Type))
	}
}

func (r *Router) handleJoin(ctx context.Context, connID uuid.UUID, env domain.Envelope) {
	if env.RoomID == "" {
		r.replyError(connID, domain.CodeDecodeError, "join requires roomId")
		return
	}

	if err := r.rooms.Join(ctx, env.RoomID, connID); err != nil {
		slog.InfoContext(ctx, "join rejected", "room_id", env.RoomID, "connection_id", connID, "error", err)
		r.replyError(connID, domain.WireErrorCode(err), err.Error())
		return
	}

	r.reply(connID, domain.NewAckEnvelope("join", env.RoomID, r.now()))
}

func (r *Router) handleLeave(connID uuid.UUID, env domain.Envelope) {
	if env.RoomID == "" {
		r.replyError(connID, domain.CodeDecodeError, "leave requires roomId")
		return
	}

	r.rooms.Leave(env.RoomID, connID)
	r.reply(connID, domain.NewAckEnvelope("leave", env.RoomID, r.now()))
}

func (r *Router) handlePublish(ctx context.Context, connID uuid.UUID, env domain.Envelope) {
	if env.RoomID == "" {
		r.replyError(connID, domain.CodeDecodeError, "publish requires roomId")
		return
	}

	// Outbound copy carries a server-assigned timestamp; the inbound
	// envelope itself stays untouched.
	out := env
	out.Timestamp = r.now()

	if _, err := r.rooms.Broadcast(ctx, env.RoomID, out, connID); err != nil {
		// Publishing into a room the sender never joined (or one that
		// emptied underneath it) is caller misuse, answered not dropped.
		r.replyError(connID, domain.CodeUnknownRoom, "no such room: "+env.RoomID)
		return
	}

	if r.bridge != nil {
		if err := r.bridge.PublishRoomMessage(ctx, env.RoomID, out); err != nil {
			slog.WarnContext(ctx, "bridge publish failed", "room_id", env.RoomID, "error", err)
		}
	}
}

func (r *Router) reply(connID uuid.UUID, env domain.Envelope) {
	if err := r.registry.Send(connID, env); err != nil {
		// The read pump notices a dead transport on its own; a failed
		// reply is not worth more than a debug line.
		slog.Debug("reply failed", "connection_id", connID, "type", env.Type, "error", err)
	}
}

func (r *Router) replyError(connID uuid.UUID, code, message string) {
	r.reply(connID, domain.NewErrorEnvelope(code, message, r.now()))
}

func (r *Router) now() int64 {
	return r.clock.Now().UnixMilli()
}
