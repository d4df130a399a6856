package host

import (
	"context"
	"fmt"

	"ticksync/internal/entity"
	tsnet "ticksync/internal/net"
	"ticksync/internal/peer"
	"ticksync/internal/proto"
	"ticksync/internal/state"
	"ticksync/internal/telemetry"
	"ticksync/internal/tick"
	"ticksync/logging"
	"ticksync/logging/network"
)

// Client is the observing/controlling end of a link.
type Client struct {
	cfg       Config
	deps      Deps
	layout    proto.Layout
	arena     *state.Arena
	world     *entity.World
	peer      *peer.ClientPeer
	transport tsnet.Transport
	actor     logging.EntityRef

	tick tick.Tick
	// retired maps released replicas to their newest removal notice.
	retired  map[state.EntityID]tick.Tick
	onEvent  []func(proto.Event)
	onAdopt  []func(*entity.Entity)
	onRemove []func(*entity.Entity)
	closed   bool
}

// NewClient constructs a client sending over t.
func NewClient(reg *state.Registry, t tsnet.Transport, cfg Config, deps Deps) (*Client, error) {
	cfg = cfg.normalized()
	layout := cfg.Layout()
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("client layout: %w", err)
	}
	deps = deps.normalized()
	arena := state.NewArena(reg, deps.CheckedPools)
	return &Client{
		cfg:       cfg,
		deps:      deps,
		layout:    layout,
		arena:     arena,
		world:     entity.NewWorld(arena, entity.Config{Horizon: cfg.Horizon}),
		peer:      peer.NewClientPeer(cfg.peer(), deps.Publisher, deps.Metrics),
		transport: t,
		actor:     logging.HostRef("client"),
		retired:   make(map[state.EntityID]tick.Tick),
	}, nil
}

// World returns the replicas.
func (c *Client) World() *entity.World { return c.world }

// Peer returns the link bookkeeping.
func (c *Client) Peer() *peer.ClientPeer { return c.peer }

// LocalTick returns the last local tick.
func (c *Client) LocalTick() tick.Tick { return c.tick }

// RenderTick returns the server tick replicas are smoothed at.
func (c *Client) RenderTick() tick.Tick { return c.world.Tick() }

// OnEvent registers fn to receive delivered server events.
func (c *Client) OnEvent(fn func(proto.Event)) {
	if fn != nil {
		c.onEvent = append(c.onEvent, fn)
	}
}

// OnAdopt registers fn to run when a replica is created.
func (c *Client) OnAdopt(fn func(*entity.Entity)) {
	if fn != nil {
		c.onAdopt = append(c.onAdopt, fn)
	}
}

// OnRemove registers fn to run just before the replica of a despawned entity
// is released.
func (c *Client) OnRemove(fn func(*entity.Entity)) {
	if fn != nil {
		c.onRemove = append(c.onRemove, fn)
	}
}

// QueueCommand stamps payload with the current local tick and stages it
// for sending. It reports false when the command queue is full.
func (c *Client) QueueCommand(ctx context.Context, payload []byte) bool {
	at := c.tick
	if !at.IsValid() {
		at = tick.Start
	}
	return c.peer.QueueCommand(ctx, &proto.Command{Tick: at, Payload: append([]byte(nil), payload...)})
}

// Tick advances the client by one local tick: it files received packets,
// steps the server clock estimate, refreshes every replica's smoothing at
// the render tick, and sends on send ticks.
func (c *Client) Tick(ctx context.Context) error {
	if c.closed {
		return tsnet.ErrClosed
	}
	if c.tick.IsValid() {
		c.tick = c.tick.Next()
	} else {
		c.tick = tick.Start
	}

	c.ingest(ctx)
	c.pruneRetired()
	c.peer.Step(ctx, c.tick)

	render := c.renderTick()
	c.world.SetTick(render)
	if render.IsValid() {
		c.world.Each(func(e *entity.Entity) bool {
			e.UpdateSmoothing(render)
			return true
		})
	}

	select {
	case <-c.transport.Done():
		return tsnet.ErrClosed
	default:
	}
	if !sendDue(c.tick, c.cfg.SendRate) {
		return nil
	}
	data, err := c.peer.BuildPacket(c.tick).Encode(c.layout)
	if err != nil {
		return fmt.Errorf("encode client packet: %w", err)
	}
	if err := c.transport.Send(data); err != nil {
		return fmt.Errorf("send client packet: %w", err)
	}
	c.deps.Metrics.Add(packetsSentMetricKey, 1)
	c.deps.Metrics.Add(bytesSentMetricKey, uint64(len(data)))
	telemetry.ObservePacket(c.deps.Metrics, "out", len(data))
	return nil
}

// Smoothed returns the blended state of replica id at fraction of a tick
// past the render tick. The state is reused by the next call for the same
// replica.
func (c *Client) Smoothed(id state.EntityID, fraction float64) (state.State, bool) {
	e, ok := c.world.Get(id)
	if !ok {
		return nil, false
	}
	s := e.Smoothed(c.world.Tick(), fraction)
	return s, s != nil
}

// Close releases every replica and pending command and closes the
// transport.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	clear(c.retired)
	c.peer.Close()
	c.world.Clear()
	return c.transport.Close()
}

func (c *Client) renderTick() tick.Tick {
	est := c.peer.EstimatedServerTick()
	if !est.IsValid() {
		return tick.Invalid
	}
	if est.Sub(tick.Start) < c.cfg.InterpolationDelay {
		return tick.Start
	}
	return est.Add(-c.cfg.InterpolationDelay)
}

func (c *Client) ingest(ctx context.Context) {
	for {
		data, ok := c.transport.Receive()
		if !ok {
			return
		}
		c.deps.Metrics.Add(packetsReceivedMetricKey, 1)
		telemetry.ObservePacket(c.deps.Metrics, "in", len(data))
		packet, err := proto.DecodeServerPacket(c.layout, c.arena, c.world.TypeOf, data)
		if err != nil {
			c.deps.Metrics.Add(packetsRejectedMetricKey, 1)
			network.PacketRejected(ctx, c.deps.Publisher, rawTick(c.tick), c.actor, network.PacketRejectedPayload{
				Bytes: len(data),
				Error: err.Error(),
			}, nil)
			continue
		}
		events := c.peer.ProcessPacket(ctx, packet)
		for i, d := range packet.Deltas {
			packet.Deltas[i] = nil
			c.file(d)
		}
		for _, ev := range events {
			for _, fn := range c.onEvent {
				fn(ev)
			}
		}
	}
}

// file hands a received delta to its replica, creating the replica from a
// full snapshot. Deltas nobody takes are returned to the arena.
func (c *Client) file(d *state.Delta) {
	if d.IsRemoved {
		c.release(d.EntityID, d.Tick)
		c.arena.FreeDelta(d)
		return
	}
	if _, gone := c.retired[d.EntityID]; gone {
		c.arena.FreeDelta(d)
		return
	}
	if e, ok := c.world.Get(d.EntityID); ok {
		if !e.StoreDelta(d) {
			c.arena.FreeDelta(d)
		}
		return
	}
	e, err := c.world.Adopt(d)
	if err != nil {
		c.arena.FreeDelta(d)
		return
	}
	for _, fn := range c.onAdopt {
		fn(e)
	}
}

// release drops the replica of a despawned entity. Its view entry stays so
// the removal is acknowledged to the server.
func (c *Client) release(id state.EntityID, at tick.Tick) {
	if prev, ok := c.retired[id]; !ok || at > prev {
		c.retired[id] = at
	}
	e, ok := c.world.Get(id)
	if !ok {
		return
	}
	for _, fn := range c.onRemove {
		fn(e)
	}
	c.world.Remove(id)
}

// pruneRetired forgets the view entries of released replicas once their
// removal trails the newest server tick by a horizon.
func (c *Client) pruneRetired() {
	newest := c.peer.LastReceivedServerTick()
	if !newest.IsValid() {
		return
	}
	for id, at := range c.retired {
		if newest.Sub(at) >= c.cfg.Horizon {
			c.peer.View().Forget(id)
			delete(c.retired, id)
		}
	}
}
