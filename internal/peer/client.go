package peer

import (
	"context"

	"ticksync/internal/clock"
	"ticksync/internal/proto"
	"ticksync/internal/telemetry"
	"ticksync/internal/tick"
	"ticksync/logging"
	"ticksync/logging/network"
	"ticksync/logging/simulation"
)

// ClientPeer is a client's bookkeeping for its link to the authority.
type ClientPeer struct {
	cfg        Config
	commands   *CommandQueue
	view       *View
	clock      *clock.Clock
	events     EventReceiver
	lastServer tick.Tick
	publisher  logging.Publisher
	actor      logging.EntityRef
}

// NewClientPeer constructs the client side of a link.
func NewClientPeer(cfg Config, pub logging.Publisher, metrics telemetry.Metrics) *ClientPeer {
	cfg = cfg.withDefaults()
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &ClientPeer{
		cfg:       cfg,
		commands:  NewCommandQueue(cfg.CommandCapacity, metrics),
		view:      NewView(),
		clock:     clock.New(cfg.clock()),
		publisher: pub,
		actor:     logging.HostRef("client"),
	}
}

// Commands returns the pending command queue.
func (c *ClientPeer) Commands() *CommandQueue { return c.commands }

// View returns the newest server tick received per entity.
func (c *ClientPeer) View() *View { return c.view }

// EstimatedServerTick returns the believed current server tick.
func (c *ClientPeer) EstimatedServerTick() tick.Tick { return c.clock.Estimated() }

// LastReceivedServerTick returns the newest server packet tick received.
func (c *ClientPeer) LastReceivedServerTick() tick.Tick { return c.lastServer }

// QueueCommand stages a command for sending. A full queue drops it.
func (c *ClientPeer) QueueCommand(ctx context.Context, cmd *proto.Command) bool {
	if cmd == nil {
		return false
	}
	if c.commands.Push(cmd) {
		return true
	}
	network.CommandDropped(ctx, c.publisher, rawTick(cmd.Tick), c.actor, network.CommandDroppedPayload{
		CommandTick: rawTick(cmd.Tick),
		Capacity:    c.commands.Capacity(),
	}, nil)
	return false
}

// Step advances the server clock estimate by one local tick.
func (c *ClientPeer) Step(ctx context.Context, localTick tick.Tick) {
	if c.clock.Step() {
		simulation.ClockSnap(ctx, c.publisher, rawTick(localTick), c.actor, simulation.ClockSnapPayload{
			Estimated: rawTick(c.clock.Estimated()),
			Watermark: rawTick(c.clock.Latest()),
			Snaps:     c.clock.Snaps(),
		}, nil)
	}
}

// ProcessPacket folds a decoded server packet into the bookkeeping and
// returns the events to deliver. The packet's deltas are left for the host
// to store.
func (c *ClientPeer) ProcessPacket(ctx context.Context, p *proto.ServerPacket) []proto.Event {
	if p == nil {
		return nil
	}
	c.clock.Observe(p.SenderTick)
	if p.SenderTick > c.lastServer {
		c.lastServer = p.SenderTick
	}
	c.commands.Ack(p.LastProcessedCommandTick)
	for _, d := range p.Deltas {
		c.view.RecordUpdate(d.EntityID, d.Tick)
	}
	return c.events.Receive(p.Events)
}

// BuildPacket assembles the next client packet. Commands a horizon or more
// behind localTick are expired first so a stalled link cannot pin the
// queue full.
func (c *ClientPeer) BuildPacket(localTick tick.Tick) *proto.ClientPacket {
	if localTick.IsValid() && localTick.Sub(tick.Start) >= c.cfg.Horizon {
		c.commands.Expire(localTick.Add(-c.cfg.Horizon))
	}
	return &proto.ClientPacket{
		SenderTick:             localTick,
		LastReceivedServerTick: c.lastServer,
		LastReceivedEventID:    c.events.LastReceivedID(),
		Commands:               c.commands.Pending(),
		View:                   c.view.Entries(c.cfg.ViewEntryLimit),
	}
}

// Close drops all pending commands and view entries.
func (c *ClientPeer) Close() int {
	released := c.commands.Clear()
	c.view.Clear()
	c.clock.Reset()
	return released
}
