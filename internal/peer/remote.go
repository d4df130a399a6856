package peer

import (
	"context"

	"ticksync/internal/clock"
	"ticksync/internal/proto"
	"ticksync/internal/state"
	"ticksync/internal/telemetry"
	"ticksync/internal/tick"
	"ticksync/logging"
	"ticksync/logging/network"
	"ticksync/logging/simulation"
)

// RemoteClient is the authority's bookkeeping for one connected client.
type RemoteClient struct {
	id         ID
	cfg        Config
	controller *Controller
	view       *View
	clock      *clock.Clock
	events     *EventQueue
	lastAcked  tick.Tick
	publisher  logging.Publisher
	metrics    telemetry.Metrics
}

// NewRemoteClient constructs the record for peer id.
func NewRemoteClient(id ID, cfg Config, pub logging.Publisher, metrics telemetry.Metrics) *RemoteClient {
	cfg = cfg.withDefaults()
	if pub == nil {
		pub = logging.NopPublisher()
	}
	metrics = telemetry.OrNop(metrics)
	return &RemoteClient{
		id:         id,
		cfg:        cfg,
		controller: NewController(cfg.Horizon, metrics),
		view:       NewView(),
		clock:      clock.New(cfg.clock()),
		events:     NewEventQueue(cfg.EventCapacity, metrics),
		publisher:  pub,
		metrics:    metrics,
	}
}

// ID returns the peer id.
func (r *RemoteClient) ID() ID { return r.id }

// Controller returns the client's input record.
func (r *RemoteClient) Controller() *Controller { return r.controller }

// View returns the newest tick the client reports per entity.
func (r *RemoteClient) View() *View { return r.view }

// Events returns the outgoing event queue.
func (r *RemoteClient) Events() *EventQueue { return r.events }

// EstimatedClientTick returns the believed current client tick.
func (r *RemoteClient) EstimatedClientTick() tick.Tick { return r.clock.Estimated() }

// LastAckedServerTick returns the newest server tick the client reported.
func (r *RemoteClient) LastAckedServerTick() tick.Tick { return r.lastAcked }

// ProcessPacket folds a decoded client packet into the record.
func (r *RemoteClient) ProcessPacket(ctx context.Context, serverTick tick.Tick, p *proto.ClientPacket) {
	if r == nil || p == nil {
		return
	}
	r.recordAck(ctx, serverTick, p.LastReceivedServerTick)
	r.clock.Observe(p.SenderTick)
	r.controller.StoreIncoming(p.Commands)
	r.events.CleanReliable(p.LastReceivedEventID)
	for _, entry := range p.View {
		r.view.RecordUpdate(entry.EntityID, entry.Tick)
	}
}

func (r *RemoteClient) recordAck(ctx context.Context, serverTick, ack tick.Tick) {
	if !ack.IsValid() {
		return
	}
	payload := network.AckPayload{Previous: rawTick(r.lastAcked), Ack: rawTick(ack)}
	switch {
	case ack > r.lastAcked:
		r.lastAcked = ack
		network.AckAdvanced(ctx, r.publisher, rawTick(serverTick), logging.PeerRef(uint32(r.id)), payload, nil)
	case ack < r.lastAcked:
		network.AckRegression(ctx, r.publisher, rawTick(serverTick), logging.PeerRef(uint32(r.id)), payload, nil)
	}
}

// Update advances the client clock by one server tick and selects the
// command to simulate.
func (r *RemoteClient) Update(ctx context.Context, serverTick tick.Tick) {
	if r == nil {
		return
	}
	if r.clock.Step() {
		simulation.ClockSnap(ctx, r.publisher, rawTick(serverTick), logging.PeerRef(uint32(r.id)), simulation.ClockSnapPayload{
			Estimated: rawTick(r.clock.Estimated()),
			Watermark: rawTick(r.clock.Latest()),
			Snaps:     r.clock.Snaps(),
		}, nil)
	}
	r.controller.Update(r.clock.Estimated())
}

// BuildPacket wraps deltas with the acknowledgement and pending events.
// Unreliable events are consumed by this call.
func (r *RemoteClient) BuildPacket(serverTick tick.Tick, deltas []*state.Delta) *proto.ServerPacket {
	p := &proto.ServerPacket{
		SenderTick:               serverTick,
		LastProcessedCommandTick: r.controller.LastProcessedCommandTick(),
		Deltas:                   deltas,
		Events:                   r.events.Pending(r.cfg.MaxEvents),
	}
	r.events.CleanUnreliable()
	return p
}

// Close releases every retained command, view entry and event and returns
// the number of commands released.
func (r *RemoteClient) Close() int {
	if r == nil {
		return 0
	}
	released := r.controller.Clear()
	r.view.Clear()
	r.events.Clear()
	r.clock.Reset()
	return released
}

func rawTick(t tick.Tick) uint64 {
	if !t.IsValid() {
		return 0
	}
	return uint64(t.Raw())
}
