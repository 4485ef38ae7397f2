package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/metrics"
)

// bridgeChannel is the pub/sub channel shared by all instances.
const bridgeChannel = "roomcast:rooms"

const bridgeBufferSize = 64

// bridgeMessage is the wire format on the bridge channel. Origin carries
// the publishing instance's ID so an instance can ignore its own echo.
type bridgeMessage struct {
	Origin   string          `json:"origin"`
	RoomID   string          `json:"roomId"`
	Envelope domain.Envelope `json:"envelope"`
}

// LocalBroadcaster replays remote publishes into the local room manager.
type LocalBroadcaster interface {
	Broadcast(ctx context.Context, roomID string, env domain.Envelope, exclude uuid.UUID) (int, error)
}

// Bridge relays room publishes between instances over Redis pub/sub.
// Outbound: the router hands local publishes to PublishRoomMessage.
// Inbound: Run subscribes to the shared channel and replays every remote
// instance's publishes into the local room manager. Implements
// domain.EventPublisher.
type Bridge struct {
	rdb        *goredis.Client
	instanceID string
	local      LocalBroadcaster
}

// NewBridge creates a bridge identified by instanceID.
func NewBridge(rdb *goredis.Client, instanceID string, local LocalBroadcaster) *Bridge {
	return &Bridge{rdb: rdb, instanceID: instanceID, local: local}
}

// PublishRoomMessage sends a locally published envelope to every other
// instance.
func (b *Bridge) PublishRoomMessage(ctx context.Context, roomID string, env domain.Envelope) error {
	msg := bridgeMessage{Origin: b.instanceID, RoomID: roomID, Envelope: env}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge message: %w", err)
	}

	if err := b.rdb.Publish(ctx, bridgeChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to bridge: %w", err)
	}

	metrics.BridgePublishesTotal.Inc()
	return nil
}

// Run subscribes to the bridge channel and replays remote publishes until
// ctx is cancelled. Messages are pumped through a buffered channel and
// dropped when the replay side falls behind; the bridge carries live
// traffic only.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, bridgeChannel)
	defer func() { _ = sub.Close() }()

	// Force the subscription before declaring readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to bridge channel: %w", err)
	}

	slog.Info("bridge subscribed", "channel", bridgeChannel, "instance_id", b.instanceID)

	buffered := make(chan *goredis.Message, bridgeBufferSize)
	go func() {
		defer close(buffered)
		for msg := range sub.Channel() {
			select {
			case buffered <- msg:
			default:
				metrics.BridgeDroppedTotal.Inc()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-buffered:
			if !ok {
				return nil
			}
			b.replay(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Bridge) replay(ctx context.Context, payload []byte) {
	var msg bridgeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Warn("malformed bridge message", "error", err)
		return
	}

	// Our own publishes already fanned out locally.
	if msg.Origin == b.instanceID {
		return
	}

	metrics.BridgeReceivesTotal.Inc()

	if _, err := b.local.Broadcast(ctx, msg.RoomID, msg.Envelope, uuid.Nil); err != nil {
		// No local members for that room; nothing to replay into.
		slog.Debug("bridge replay skipped", "room_id", msg.RoomID, "error", err)
	}
}
