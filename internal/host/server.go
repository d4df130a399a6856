package host

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ticksync/internal/entity"
	tsnet "ticksync/internal/net"
	"ticksync/internal/peer"
	"ticksync/internal/proto"
	"ticksync/internal/state"
	"ticksync/internal/telemetry"
	"ticksync/internal/tick"
	"ticksync/logging"
	"ticksync/logging/lifecycle"
	"ticksync/logging/network"
)

var (
	// ErrUnknownPeer reports a peer id with no connection.
	ErrUnknownPeer = errors.New("host: unknown peer")
	// ErrUnknownEntity reports an entity id not present in the world.
	ErrUnknownEntity = errors.New("host: unknown entity")
)

// connection is the server's state for one attached transport.
type connection struct {
	remote    *peer.RemoteClient
	transport tsnet.Transport
	// hidden lists entities taken out of this peer's relevance.
	hidden map[state.EntityID]bool
	// frozen maps hidden entities to the tick their freeze notice was first
	// sent. The notice repeats until the peer's view reaches that tick.
	frozen map[state.EntityID]tick.Tick
	// departed holds despawned entities the peer still has a replica of.
	departed map[state.EntityID]*removal
	// seen lists entities sent to this peer at least once.
	seen   map[state.EntityID]bool
	cursor int
}

// removal is a pending removal notice. sent stays invalid until the first
// notice goes out.
type removal struct {
	typ  state.Type
	sent tick.Tick
}

// Server is the authoritative host.
type Server struct {
	cfg    Config
	deps   Deps
	layout proto.Layout
	arena  *state.Arena
	world  *entity.World

	conns    map[peer.ID]*connection
	order    []peer.ID
	nextPeer peer.ID
	tick     tick.Tick
	scratch  []*state.Delta
}

// NewServer constructs a server over the codecs in reg.
func NewServer(reg *state.Registry, cfg Config, deps Deps) (*Server, error) {
	cfg = cfg.normalized()
	layout := cfg.Layout()
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("server layout: %w", err)
	}
	deps = deps.normalized()
	arena := state.NewArena(reg, deps.CheckedPools)
	return &Server{
		cfg:    cfg,
		deps:   deps,
		layout: layout,
		arena:  arena,
		world:  entity.NewWorld(arena, entity.Config{Horizon: cfg.Horizon}),
		conns:  make(map[peer.ID]*connection),
	}, nil
}

// World returns the authority entities.
func (s *Server) World() *entity.World { return s.world }

// CurrentTick returns the last simulated tick.
func (s *Server) CurrentTick() tick.Tick { return s.tick }

// Peers returns the connected peer ids in connection order.
func (s *Server) Peers() []peer.ID {
	return append([]peer.ID(nil), s.order...)
}

// Remote returns the bookkeeping for peer id.
func (s *Server) Remote(id peer.ID) (*peer.RemoteClient, bool) {
	c, ok := s.conns[id]
	if !ok {
		return nil, false
	}
	return c.remote, true
}

// Connect attaches a transport and returns the new peer id.
func (s *Server) Connect(ctx context.Context, t tsnet.Transport) peer.ID {
	s.nextPeer++
	id := s.nextPeer
	s.conns[id] = &connection{
		remote:    peer.NewRemoteClient(id, s.cfg.peer(), s.deps.Publisher, s.deps.Metrics),
		transport: t,
		hidden:    make(map[state.EntityID]bool),
		frozen:    make(map[state.EntityID]tick.Tick),
		departed:  make(map[state.EntityID]*removal),
		seen:      make(map[state.EntityID]bool),
	}
	s.order = append(s.order, id)
	s.deps.Metrics.Store(peersMetricKey, uint64(len(s.order)))
	lifecycle.PeerConnected(ctx, s.deps.Publisher, rawTick(s.tick), logging.PeerRef(uint32(id)), lifecycle.PeerConnectedPayload{Link: t.ID()}, nil)
	return id
}

// Disconnect tears down peer id synchronously: its commands, view and events
// are released, it loses control of its entities and its transport is
// closed.
func (s *Server) Disconnect(ctx context.Context, id peer.ID, reason string) error {
	c, ok := s.conns[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, id)
	}
	delete(s.conns, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	released := c.remote.Close()
	s.world.Each(func(e *entity.Entity) bool {
		if e.Controller() == id {
			e.SetController(0)
		}
		return true
	})
	if err := c.transport.Close(); err != nil {
		s.deps.Logger.Printf("closing %s: %v", c.transport.ID(), err)
	}
	s.deps.Metrics.Store(peersMetricKey, uint64(len(s.order)))
	lifecycle.PeerDisconnected(ctx, s.deps.Publisher, rawTick(s.tick), logging.PeerRef(uint32(id)), lifecycle.PeerDisconnectedPayload{
		Reason:           reason,
		ReleasedCommands: released,
	}, nil)
	return nil
}

// Spawn adds an authority entity. init writes the initial state.
func (s *Server) Spawn(ctx context.Context, typ state.Type, behavior entity.Behavior, init func(state.State)) (*entity.Entity, error) {
	e, err := s.world.Spawn(typ, behavior, init)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.Store(entitiesMetricKey, uint64(s.world.Len()))
	lifecycle.EntitySpawned(ctx, s.deps.Publisher, rawTick(s.tick), logging.EntityRefOf(uint32(e.ID())), lifecycle.EntitySpawnedPayload{
		Type: e.Codec().Name,
	}, nil)
	return e, nil
}

// Despawn removes entity id from the world and from every peer's
// bookkeeping. Peers that were sent the entity get a removal notice on each
// send until they acknowledge it.
func (s *Server) Despawn(ctx context.Context, id state.EntityID) bool {
	e, ok := s.world.Get(id)
	if !ok {
		return false
	}
	typ := e.Type()
	s.world.Remove(id)
	notified := 0
	for _, c := range s.conns {
		if c.seen[id] {
			c.departed[id] = &removal{typ: typ}
			notified++
		}
		delete(c.hidden, id)
		delete(c.frozen, id)
		delete(c.seen, id)
		c.remote.View().Forget(id)
	}
	s.deps.Metrics.Store(entitiesMetricKey, uint64(s.world.Len()))
	lifecycle.EntityDespawned(ctx, s.deps.Publisher, rawTick(s.tick), logging.EntityRefOf(uint32(id)), lifecycle.EntityDespawnedPayload{
		NotifiedPeers: notified,
	}, nil)
	return true
}

// AssignController routes the commands of peer p to entity id. Zero
// removes the controller.
func (s *Server) AssignController(id state.EntityID, p peer.ID) error {
	e, ok := s.world.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	if p != 0 {
		if _, ok := s.conns[p]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownPeer, p)
		}
	}
	e.SetController(p)
	return nil
}

// SetRelevance shows or hides entity id from peer p. Hidden entities stop
// updating and the peer receives a freeze notice, repeated until its view
// acknowledges it.
func (s *Server) SetRelevance(p peer.ID, id state.EntityID, relevant bool) error {
	c, ok := s.conns[p]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, p)
	}
	if _, ok := s.world.Get(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	if relevant {
		delete(c.hidden, id)
	} else {
		c.hidden[id] = true
	}
	return nil
}

// QueueEvent stages an event for peer p and returns its reliable id.
func (s *Server) QueueEvent(p peer.ID, kind uint8, payload []byte, reliable bool) (uint32, error) {
	c, ok := s.conns[p]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownPeer, p)
	}
	id, ok := c.remote.Events().Queue(kind, payload, reliable)
	if !ok {
		return 0, fmt.Errorf("host: event queue for peer %d is full", p)
	}
	return id, nil
}

// Tick advances the simulation by one tick: it ingests client packets,
// updates the per-client clocks and controllers, simulates and captures
// every entity, and on send ticks transmits a packet to every client.
func (s *Server) Tick(ctx context.Context) error {
	if s.tick.IsValid() {
		s.tick = s.tick.Next()
	} else {
		s.tick = tick.Start
	}
	t := s.tick
	s.world.SetTick(t)

	s.ingest(ctx, t)
	for _, id := range s.order {
		s.conns[id].remote.Update(ctx, t)
	}
	s.world.Each(func(e *entity.Entity) bool {
		e.Simulate(t, s.commandFor(e))
		e.Capture(t)
		return true
	})
	if !sendDue(t, s.cfg.SendRate) {
		return nil
	}
	var errs []error
	for _, id := range s.order {
		if err := s.send(ctx, t, id, s.conns[id]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects every peer and releases every entity.
func (s *Server) Close(ctx context.Context) {
	for len(s.order) > 0 {
		s.Disconnect(ctx, s.order[0], "shutdown")
	}
	s.world.Clear()
}

func (s *Server) commandFor(e *entity.Entity) *proto.Command {
	if e.Controller() == 0 {
		return nil
	}
	c, ok := s.conns[e.Controller()]
	if !ok {
		return nil
	}
	return c.remote.Controller().LatestCommand()
}

func (s *Server) ingest(ctx context.Context, t tick.Tick) {
	var closed []peer.ID
	for _, id := range s.order {
		c := s.conns[id]
		for {
			data, ok := c.transport.Receive()
			if !ok {
				break
			}
			s.deps.Metrics.Add(packetsReceivedMetricKey, 1)
			telemetry.ObservePacket(s.deps.Metrics, "in", len(data))
			packet, err := proto.DecodeClientPacket(s.layout, data)
			if err != nil {
				s.deps.Metrics.Add(packetsRejectedMetricKey, 1)
				network.PacketRejected(ctx, s.deps.Publisher, rawTick(t), logging.PeerRef(uint32(id)), network.PacketRejectedPayload{
					Bytes: len(data),
					Error: err.Error(),
				}, nil)
				continue
			}
			c.remote.ProcessPacket(ctx, t, packet)
		}
		select {
		case <-c.transport.Done():
			closed = append(closed, id)
		default:
		}
	}
	for _, id := range closed {
		s.Disconnect(ctx, id, "transport closed")
	}
}

func (s *Server) send(ctx context.Context, t tick.Tick, id peer.ID, c *connection) error {
	deltas := s.collect(ctx, t, id, c)
	c.remote.View().Retain(func(eid state.EntityID) bool {
		if _, ok := s.world.Get(eid); ok {
			return true
		}
		_, pending := c.departed[eid]
		return pending
	})
	packet := c.remote.BuildPacket(t, deltas)
	data, err := packet.Encode(s.layout, s.arena.Registry())
	for i, d := range deltas {
		s.arena.FreeDelta(d)
		deltas[i] = nil
	}
	s.scratch = deltas[:0]
	if err != nil {
		return fmt.Errorf("encode packet for peer %d: %w", id, err)
	}
	if err := c.transport.Send(data); err != nil {
		return fmt.Errorf("send to peer %d: %w", id, err)
	}
	s.deps.Metrics.Add(packetsSentMetricKey, 1)
	s.deps.Metrics.Add(bytesSentMetricKey, uint64(len(data)))
	telemetry.ObservePacket(s.deps.Metrics, "out", len(data))
	return nil
}

// collect builds this send's deltas for one peer, rotating through the
// world when it holds more entities than fit in a packet.
func (s *Server) collect(ctx context.Context, t tick.Tick, id peer.ID, c *connection) []*state.Delta {
	deltas := s.removals(t, c, s.scratch[:0])
	entities := make([]*entity.Entity, 0, s.world.Len())
	s.world.Each(func(e *entity.Entity) bool {
		entities = append(entities, e)
		return true
	})
	n := len(entities)
	if n == 0 {
		return deltas
	}
	start := c.cursor % n
	visited := 0
	for ; visited < n && len(deltas) < s.cfg.MaxDeltas; visited++ {
		e := entities[(start+visited)%n]
		if d := s.deltaFor(ctx, t, id, c, e); d != nil {
			deltas = append(deltas, d)
		}
	}
	c.cursor = (start + visited) % n
	return deltas
}

func (s *Server) deltaFor(ctx context.Context, t tick.Tick, id peer.ID, c *connection, e *entity.Entity) *state.Delta {
	eid := e.ID()
	actor := logging.EntityRefOf(uint32(eid))
	target := logging.PeerRef(uint32(id))
	if c.hidden[eid] {
		if !c.seen[eid] {
			return nil
		}
		sent, notified := c.frozen[eid]
		if notified && acked(c, eid, sent) {
			return nil
		}
		if !notified {
			c.frozen[eid] = t
			lifecycle.EntityFrozen(ctx, s.deps.Publisher, rawTick(t), actor, target, nil)
		}
		return state.FreezeNotice(s.arena, t, eid, e.Type())
	}
	// The replica missed every change made while hidden, so resuming starts
	// from a full snapshot.
	_, resumed := c.frozen[eid]
	if resumed {
		delete(c.frozen, eid)
		lifecycle.EntityUnfrozen(ctx, s.deps.Publisher, rawTick(t), actor, target, nil)
	}

	basis := s.basisFor(ctx, t, id, c, e)
	first := !c.seen[eid] || resumed
	c.seen[eid] = true
	return state.CreateDelta(s.arena, state.DeltaInput{
		Tick:          t,
		EntityID:      eid,
		Type:          e.Type(),
		Current:       e.State(),
		Basis:         basis,
		ForController: e.Controller() == id,
		FirstUpdate:   first,
		ForceUpdates:  e.ForceUpdates,
	})
}

// removals appends a removal notice for every despawned entity the peer has
// not acknowledged yet, lowest id first.
func (s *Server) removals(t tick.Tick, c *connection, deltas []*state.Delta) []*state.Delta {
	if len(c.departed) == 0 {
		return deltas
	}
	ids := make([]state.EntityID, 0, len(c.departed))
	for id, r := range c.departed {
		if r.sent.IsValid() && acked(c, id, r.sent) {
			delete(c.departed, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if len(deltas) >= s.cfg.MaxDeltas {
			break
		}
		r := c.departed[id]
		if !r.sent.IsValid() {
			r.sent = t
		}
		deltas = append(deltas, state.RemovalNotice(s.arena, t, id, r.typ))
	}
	return deltas
}

// acked reports whether the peer's view has reached a notice first sent at
// sent.
func acked(c *connection, id state.EntityID, sent tick.Tick) bool {
	viewTick, ok := c.remote.View().LatestFor(id)
	return ok && viewTick >= sent
}

// basisFor picks the record the peer last acknowledged. A missing,
// out-of-range or evicted basis falls back to a full snapshot.
func (s *Server) basisFor(ctx context.Context, t tick.Tick, id peer.ID, c *connection, e *entity.Entity) *state.Record {
	viewTick, ok := c.remote.View().LatestFor(e.ID())
	if !ok {
		return nil
	}
	reason := ""
	var basis *state.Record
	switch {
	case viewTick > t || t.Sub(viewTick) >= s.cfg.Horizon:
		reason = "out_of_range"
	default:
		basis = e.BasisAt(viewTick)
		if basis == nil {
			reason = "evicted"
		}
	}
	if basis == nil {
		s.deps.Metrics.Add(basisFallbackMetricKey, 1)
		network.BasisFallback(ctx, s.deps.Publisher, rawTick(t), logging.EntityRefOf(uint32(e.ID())), logging.PeerRef(uint32(id)), network.BasisFallbackPayload{
			ViewTick: rawTick(viewTick),
			Reason:   reason,
		}, nil)
	}
	return basis
}
