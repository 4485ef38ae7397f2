package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection Metrics
var (
	// ConnectionsCurrent tracks current registered connections
	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomcast_connections_current",
			Help: "Current number of registered connections",
		},
	)

	// ConnectionsOpenedTotal tracks total accepted connections
	ConnectionsOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_connections_opened_total",
			Help: "Total connections registered since start",
		},
	)

	// ConnectionsRemovedTotal tracks removals by reason
	ConnectionsRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_connections_removed_total",
			Help: "Total connections removed by reason (peer_closed/transport_failure/heartbeat_timeout/slow_consumer/shutdown)",
		},
		[]string{"reason"},
	)

	// ConnectionsRejectedTotal tracks rejected connection attempts by reason
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_connections_rejected_total",
			Help: "Total connection attempts rejected by reason (global_limit/ip_rate/duplicate)",
		},
		[]string{"reason"},
	)

	// ConnectionDuration tracks connection lifetime
	ConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomcast_connection_duration_seconds",
			Help:    "Connection lifetime from register to remove in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)
)

// Room Metrics
var (
	// RoomsCurrent tracks current non-empty rooms
	RoomsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomcast_rooms_current",
			Help: "Current number of non-empty rooms",
		},
	)

	// RoomJoinsTotal tracks join operations by result
	RoomJoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_room_joins_total",
			Help: "Total room joins by result (joined/already_member/room_full)",
		},
		[]string{"result"},
	)

	// RoomLeavesTotal tracks leave operations
	RoomLeavesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_room_leaves_total",
			Help: "Total room leaves including detach on removal",
		},
	)

	// RoomsDeletedTotal tracks lazy room deletions on empty membership
	RoomsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_rooms_deleted_total",
			Help: "Total rooms deleted after the last member left",
		},
	)
)

// Message Metrics
var (
	// MessagesInTotal tracks inbound frames by type
	MessagesInTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_messages_in_total",
			Help: "Total inbound frames by envelope type (unknown for unrecognized)",
		},
		[]string{"type"},
	)

	// MessagesOutTotal tracks outbound envelopes by type
	MessagesOutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomcast_messages_out_total",
			Help: "Total outbound envelopes by type",
		},
		[]string{"type"},
	)

	// BroadcastsTotal tracks room broadcasts
	BroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_broadcasts_total",
			Help: "Total room broadcasts",
		},
	)

	// BroadcastDeliveryFailures tracks per-member delivery failures during fan-out
	BroadcastDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_broadcast_delivery_failures_total",
			Help: "Total per-member delivery failures during room fan-out",
		},
	)

	// DecodeErrorsTotal tracks malformed inbound frames
	DecodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_decode_errors_total",
			Help: "Total inbound frames rejected as malformed",
		},
	)
)

// Rate Limit Metrics
var (
	// RateLimitDenialsTotal tracks frames denied by the per-connection window
	RateLimitDenialsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_rate_limit_denials_total",
			Help: "Total inbound frames denied by the per-connection rate window",
		},
	)

	// RateLimitTrackedKeys tracks rate windows currently held
	RateLimitTrackedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomcast_rate_limit_tracked_keys",
			Help: "Current number of per-connection rate windows held",
		},
	)
)

// Heartbeat Metrics
var (
	// HeartbeatRemovalsTotal tracks connections removed for staleness
	HeartbeatRemovalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_heartbeat_removals_total",
			Help: "Total connections removed after exceeding the heartbeat timeout",
		},
	)

	// HeartbeatProbesTotal tracks ping probes sent to quiet connections
	HeartbeatProbesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_heartbeat_probes_total",
			Help: "Total ping probes sent to connections quiet past the timeout",
		},
	)
)

// Bridge Metrics
var (
	// BridgePublishesTotal tracks envelopes published to the cross-instance channel
	BridgePublishesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_bridge_publishes_total",
			Help: "Total envelopes published to the cross-instance bridge",
		},
	)

	// BridgeReceivesTotal tracks envelopes replayed from other instances
	BridgeReceivesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_bridge_receives_total",
			Help: "Total envelopes received from other instances and replayed locally",
		},
	)

	// BridgeDroppedTotal tracks bridge messages dropped by slow consumers
	BridgeDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_bridge_dropped_total",
			Help: "Total bridge messages dropped because the subscriber channel was full",
		},
	)

	// BridgeBreakerState tracks current Redis circuit breaker state (0=closed, 1=half-open, 2=open)
	BridgeBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomcast_bridge_breaker_state",
			Help: "Current Redis circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Policy Cache Metrics
var (
	// PolicyCacheHits tracks lookups served from the in-memory cache
	PolicyCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_policy_cache_hits_total",
			Help: "Total room policy lookups served from the in-memory cache",
		},
	)

	// PolicyCacheRedisHits tracks lookups served from the Redis cache
	PolicyCacheRedisHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_policy_cache_redis_hits_total",
			Help: "Total room policy lookups served from the Redis cache",
		},
	)

	// PolicyCachePostgresHits tracks lookups that fell through to PostgreSQL
	PolicyCachePostgresHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomcast_policy_cache_postgres_hits_total",
			Help: "Total room policy lookups that fell through to PostgreSQL",
		},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roomcast_build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)

// HTTP Request Metrics
// Note: request counts and durations on the HTTP surface come from the
// echo middleware wiring in internal/adapter/httpserver.
