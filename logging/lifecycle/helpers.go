package lifecycle

import (
	"context"

	"ticksync/logging"
)

const (
	// EventPeerConnected is emitted when a transport is attached to the authority.
	EventPeerConnected logging.EventType = "lifecycle.peer_connected"
	// EventPeerDisconnected is emitted when a peer is torn down.
	EventPeerDisconnected logging.EventType = "lifecycle.peer_disconnected"
	// EventEntitySpawned is emitted when an entity joins a world.
	EventEntitySpawned logging.EventType = "lifecycle.entity_spawned"
	// EventEntityDespawned is emitted when an entity leaves a world.
	EventEntityDespawned logging.EventType = "lifecycle.entity_despawned"
	// EventEntityFrozen is emitted when an entity leaves a peer's relevance.
	EventEntityFrozen logging.EventType = "lifecycle.entity_frozen"
	// EventEntityUnfrozen is emitted when an entity re-enters a peer's relevance.
	EventEntityUnfrozen logging.EventType = "lifecycle.entity_unfrozen"
)

// PeerConnectedPayload identifies the link a peer arrived on.
type PeerConnectedPayload struct {
	Link string `json:"link"`
}

// PeerDisconnectedPayload captures why a peer left and what it released.
type PeerDisconnectedPayload struct {
	Reason           string `json:"reason"`
	ReleasedCommands int    `json:"releasedCommands"`
}

// EntitySpawnedPayload describes a new entity.
type EntitySpawnedPayload struct {
	Type       string `json:"type"`
	Controller uint32 `json:"controller,omitempty"`
}

// PeerConnected publishes a connection event.
func PeerConnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerConnectedPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerConnected, logging.SeverityInfo, tick, actor, nil, payload, extra)
}

// PeerDisconnected publishes a disconnect event.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerDisconnectedPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerDisconnected, logging.SeverityInfo, tick, actor, nil, payload, extra)
}

// EntitySpawned publishes an entity creation event.
func EntitySpawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntitySpawnedPayload, extra map[string]any) {
	publish(ctx, pub, EventEntitySpawned, logging.SeverityDebug, tick, actor, nil, payload, extra)
}

// EntityDespawnedPayload counts the peers that still hold a replica.
type EntityDespawnedPayload struct {
	NotifiedPeers int `json:"notifiedPeers"`
}

// EntityDespawned publishes an entity removal event.
func EntityDespawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityDespawnedPayload, extra map[string]any) {
	publish(ctx, pub, EventEntityDespawned, logging.SeverityDebug, tick, actor, nil, payload, extra)
}

// EntityFrozen publishes a debug event when an entity stops updating for a peer.
func EntityFrozen(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, peer logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, EventEntityFrozen, logging.SeverityDebug, tick, actor, []logging.EntityRef{peer}, nil, extra)
}

// EntityUnfrozen publishes a debug event when an entity resumes updating for a peer.
func EntityUnfrozen(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, peer logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, EventEntityUnfrozen, logging.SeverityDebug, tick, actor, []logging.EntityRef{peer}, nil, extra)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, targets []logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    actor,
		Targets:  targets,
		Severity: severity,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
