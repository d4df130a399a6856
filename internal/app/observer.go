package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"ticksync/internal/config"
	"ticksync/internal/entity"
	"ticksync/internal/host"
	"ticksync/internal/kinematic"
	tsnet "ticksync/internal/net"
	"ticksync/internal/net/ws"
	"ticksync/internal/proto"
	"ticksync/internal/state"
	"ticksync/internal/telemetry"
	"ticksync/logging"
)

// reportEvery is the number of ticks between position reports.
const reportEvery = 50

// Position is a smoothed replica position.
type Position struct {
	ID   state.EntityID
	X, Y float32
}

// Observer follows a server and steers the entity it is granted.
type Observer struct {
	cfg      *config.Config
	deps     Deps
	client   *host.Client
	counters *telemetry.Counters

	controlled state.EntityID
	steps      uint64
}

// NewObserver builds a client host over t.
func NewObserver(cfg *config.Config, t tsnet.Transport, publisher logging.Publisher, deps Deps) (*Observer, error) {
	deps = deps.normalized()
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	reg := state.NewRegistry()
	if err := kinematic.Register(reg); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	counters := &telemetry.Counters{}
	client, err := host.NewClient(reg, t, cfg.Host(), host.Deps{
		Publisher:    publisher,
		Metrics:      counters,
		Logger:       deps.Logger,
		CheckedPools: cfg.Debug.CheckedPool,
	})
	if err != nil {
		return nil, err
	}
	o := &Observer{
		cfg:      cfg,
		deps:     deps,
		client:   client,
		counters: counters,
	}
	client.OnEvent(o.handleEvent)
	return o, nil
}

func (o *Observer) handleEvent(ev proto.Event) {
	if ev.Kind != EventControlGranted || len(ev.Payload) < 4 {
		return
	}
	o.controlled = state.EntityID(binary.BigEndian.Uint32(ev.Payload))
	o.deps.Logger.Printf("controlling entity %d", o.controlled)
}

// Controlled returns the entity this observer steers, or zero.
func (o *Observer) Controlled() state.EntityID { return o.controlled }

// Client exposes the underlying host.
func (o *Observer) Client() *host.Client { return o.client }

// Step runs one client tick. A closed link ends the observer with
// net.ErrClosed.
func (o *Observer) Step(ctx context.Context) (uint64, error) {
	if o.controlled != 0 {
		o.client.QueueCommand(ctx, kinematic.EncodeInput(kinematic.Input{Turn: 1}))
	}
	if err := o.client.Tick(ctx); err != nil {
		if errors.Is(err, tsnet.ErrClosed) {
			return rawOf(o.client.LocalTick()), err
		}
		o.deps.Logger.Printf("client tick: %v", err)
	}
	o.steps++
	if o.steps%reportEvery == 0 {
		o.deps.Logger.Printf("received %d packets, rejected %d", o.counters.Get("host_packets_received_total"), o.counters.Get("host_packets_rejected_total"))
		for _, p := range o.Positions() {
			o.deps.Logger.Printf("render %s entity %d at (%.1f, %.1f)", o.client.RenderTick(), p.ID, p.X, p.Y)
		}
	}
	return rawOf(o.client.LocalTick()), nil
}

// Positions returns the smoothed position of every ready replica ordered by
// id.
func (o *Observer) Positions() []Position {
	var out []Position
	o.client.World().Each(func(e *entity.Entity) bool {
		s, ok := o.client.Smoothed(e.ID(), 0)
		if !ok {
			return true
		}
		k := kinematic.From(s)
		out = append(out, Position{ID: e.ID(), X: k.X, Y: k.Y})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close releases the client and its link.
func (o *Observer) Close() error {
	return o.client.Close()
}

// RunObserver dials url and follows the server until ctx is done or the
// link closes.
func RunObserver(ctx context.Context, cfg *config.Config, url string, deps Deps) error {
	deps = deps.normalized()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	router, err := newRouter(cfg.Logging, deps.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			deps.Logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	conn, err := ws.Dial(ctx, url, ws.Config{Logger: deps.Logger})
	if err != nil {
		return err
	}
	obs, err := NewObserver(cfg, conn, router, deps)
	if err != nil {
		conn.Close()
		return err
	}
	defer obs.Close()

	l := &loop{
		name:      "observer.tick",
		interval:  cfg.Sync.TickDuration,
		tracer:    newTracer(cfg.Debug.EnableTracing),
		publisher: router,
	}
	err = l.run(ctx, obs.Step)
	if errors.Is(err, tsnet.ErrClosed) {
		deps.Logger.Printf("server closed the link")
		return nil
	}
	return err
}
