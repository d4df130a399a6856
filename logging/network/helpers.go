package network

import (
	"context"

	"ticksync/logging"
)

const (
	// EventAckAdvanced is emitted when a peer acknowledges a newer tick.
	EventAckAdvanced logging.EventType = "network.ack_advanced"
	// EventAckRegression is emitted when a peer reports an older acknowledgement than previously recorded.
	EventAckRegression logging.EventType = "network.ack_regression"
	// EventCommandDropped is emitted when a full command queue rejects input.
	EventCommandDropped logging.EventType = "network.command_dropped"
	// EventBasisFallback is emitted when a delta degrades to a full snapshot.
	EventBasisFallback logging.EventType = "network.basis_fallback"
	// EventPacketRejected is emitted when an inbound packet fails to decode.
	EventPacketRejected logging.EventType = "network.packet_rejected"
)

// AckPayload captures acknowledgement progression details.
type AckPayload struct {
	Previous uint64 `json:"previous"`
	Ack      uint64 `json:"ack"`
}

// CommandDroppedPayload captures queue pressure when a command is dropped.
type CommandDroppedPayload struct {
	CommandTick uint64 `json:"commandTick"`
	Capacity    int    `json:"capacity"`
}

// BasisFallbackPayload explains why a peer received a full snapshot.
type BasisFallbackPayload struct {
	ViewTick uint64 `json:"viewTick"`
	Reason   string `json:"reason"`
}

// PacketRejectedPayload captures a decode failure.
type PacketRejectedPayload struct {
	Bytes int    `json:"bytes"`
	Error string `json:"error"`
}

// AckAdvanced publishes a debug event when a peer acknowledgement advances.
func AckAdvanced(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	publish(ctx, pub, EventAckAdvanced, logging.SeverityDebug, tick, actor, nil, payload, extra)
}

// AckRegression publishes a warning event when a peer acknowledgement regresses.
func AckRegression(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	publish(ctx, pub, EventAckRegression, logging.SeverityWarn, tick, actor, nil, payload, extra)
}

// CommandDropped publishes a warning when a command queue overflows.
func CommandDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CommandDroppedPayload, extra map[string]any) {
	publish(ctx, pub, EventCommandDropped, logging.SeverityWarn, tick, actor, nil, payload, extra)
}

// BasisFallback publishes a debug event when a peer's basis is unusable.
func BasisFallback(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload BasisFallbackPayload, extra map[string]any) {
	publish(ctx, pub, EventBasisFallback, logging.SeverityDebug, tick, actor, []logging.EntityRef{target}, payload, extra)
}

// PacketRejected publishes a warning when an inbound packet is discarded.
func PacketRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PacketRejectedPayload, extra map[string]any) {
	publish(ctx, pub, EventPacketRejected, logging.SeverityWarn, tick, actor, nil, payload, extra)
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
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}
