// Package host runs the fixed-tick loops on both ends of a link. The server
// simulates authority entities, captures their history and sends each
// client deltas against the newest state that client acknowledged. The
// client files received deltas, tracks the server clock and smooths
// replicas for display.
//
// A host is driven by a single goroutine calling Tick. Transports feed
// packets in from their own goroutines through bounded inboxes that are
// drained at the start of each tick.
package host

import (
	"ticksync/internal/peer"
	"ticksync/internal/proto"
	"ticksync/internal/telemetry"
	"ticksync/internal/tick"
	"ticksync/logging"
)

// Config holds the settings both ends of a link must agree on, plus local
// queue sizes.
type Config struct {
	Horizon         int
	SendRate        int
	CatchupStep     int
	CommandCapacity int
	EntityIDBits    uint8
	TypeBits        uint8
	MaxDeltas       int
	MaxEvents       int
	ViewEntryLimit  int
	// InterpolationDelay holds client smoothing this many ticks behind the
	// estimated server tick so a next update is usually available.
	InterpolationDelay int
}

// DefaultConfig returns settings for a 50 Hz simulation.
func DefaultConfig() Config {
	return Config{
		Horizon:         50,
		SendRate:        2,
		CatchupStep:     3,
		CommandCapacity: 32,
		EntityIDBits:    16,
		TypeBits:        8,
		MaxDeltas:       256,
		MaxEvents:       16,
		ViewEntryLimit:  256,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Horizon < 1 {
		c.Horizon = def.Horizon
	}
	if c.SendRate < 1 {
		c.SendRate = def.SendRate
	}
	if c.CatchupStep < 1 {
		c.CatchupStep = def.CatchupStep
	}
	if c.CommandCapacity < 1 {
		c.CommandCapacity = def.CommandCapacity
	}
	if c.EntityIDBits == 0 {
		c.EntityIDBits = def.EntityIDBits
	}
	if c.TypeBits == 0 {
		c.TypeBits = def.TypeBits
	}
	if c.MaxDeltas < 1 {
		c.MaxDeltas = def.MaxDeltas
	}
	if c.MaxEvents < 1 {
		c.MaxEvents = def.MaxEvents
	}
	if c.ViewEntryLimit < 1 {
		c.ViewEntryLimit = def.ViewEntryLimit
	}
	if c.InterpolationDelay < 0 {
		c.InterpolationDelay = 0
	}
	return c
}

// Layout derives the wire layout.
func (c Config) Layout() proto.Layout {
	c = c.normalized()
	l := proto.NewLayout(c.Horizon, c.EntityIDBits, c.TypeBits)
	l.MaxCommands = c.CommandCapacity
	l.MaxDeltas = c.MaxDeltas
	l.MaxEvents = c.MaxEvents
	l.MaxViewEntries = c.ViewEntryLimit
	return l
}

func (c Config) peer() peer.Config {
	return peer.Config{
		Horizon:         c.Horizon,
		SendRate:        c.SendRate,
		CatchupStep:     c.CatchupStep,
		CommandCapacity: c.CommandCapacity,
		MaxEvents:       c.MaxEvents,
		ViewEntryLimit:  c.ViewEntryLimit,
	}
}

// Deps bundles the collaborators a host reports through.
type Deps struct {
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Logger    telemetry.Logger
	// CheckedPools verifies on every return that no buffer still holds the
	// returned object.
	CheckedPools bool
}

func (d Deps) normalized() Deps {
	if d.Publisher == nil {
		d.Publisher = logging.NopPublisher()
	}
	d.Metrics = telemetry.OrNop(d.Metrics)
	if d.Logger == nil {
		d.Logger = telemetry.WrapLogger(nil)
	}
	return d
}

const (
	packetsSentMetricKey     = "host_packets_sent_total"
	packetsReceivedMetricKey = "host_packets_received_total"
	packetsRejectedMetricKey = "host_packets_rejected_total"
	bytesSentMetricKey       = "host_bytes_sent_total"
	basisFallbackMetricKey   = "host_basis_fallback_total"
	entitiesMetricKey        = "host_entities"
	peersMetricKey           = "host_peers"
)

func sendDue(t tick.Tick, rate int) bool {
	return t.IsValid() && int(t.Raw())%rate == 0
}

func rawTick(t tick.Tick) uint64 {
	if !t.IsValid() {
		return 0
	}
	return uint64(t.Raw())
}
