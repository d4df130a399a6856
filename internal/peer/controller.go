package peer

import (
	"ticksync/internal/buffer"
	"ticksync/internal/proto"
	"ticksync/internal/telemetry"
	"ticksync/internal/tick"
)

// Controller is the authority's record of one client's input. Received
// commands are kept per client tick; the first copy of a tick wins.
type Controller struct {
	commands      *buffer.Dejitter[*proto.Command]
	latest        *proto.Command
	lastProcessed tick.Tick
	metrics       telemetry.Metrics
}

// NewController keeps commands for horizon client ticks.
func NewController(horizon int, metrics telemetry.Metrics) *Controller {
	return &Controller{
		commands: buffer.NewDejitter[*proto.Command](horizon, buffer.KeepExisting, nil),
		metrics:  telemetry.OrNop(metrics),
	}
}

// StoreIncoming files a batch of commands and returns how many were new.
func (c *Controller) StoreIncoming(cmds []*proto.Command) int {
	if c == nil {
		return 0
	}
	stored := 0
	for _, cmd := range cmds {
		if cmd == nil || !cmd.Tick.IsValid() {
			continue
		}
		if c.lastProcessed.IsValid() && cmd.Tick <= c.lastProcessed {
			c.metrics.Add(commandStaleMetricKey, 1)
			continue
		}
		if !c.commands.Store(cmd) {
			c.metrics.Add(commandDuplicateMetricKey, 1)
			continue
		}
		stored++
	}
	return stored
}

// Update selects the newest command at or before the estimated client tick
// as the simulation input for this tick.
func (c *Controller) Update(estimated tick.Tick) {
	if c == nil || !estimated.IsValid() {
		return
	}
	cmd, ok := c.commands.LatestAt(estimated)
	if !ok {
		return
	}
	c.latest = cmd
	if cmd.Tick > c.lastProcessed {
		c.lastProcessed = cmd.Tick
	}
}

// LatestCommand returns the current simulation input, nil before any
// command has been selected.
func (c *Controller) LatestCommand() *proto.Command {
	if c == nil {
		return nil
	}
	return c.latest
}

// LastProcessedCommandTick is acknowledged back to the client so it can
// release superseded commands.
func (c *Controller) LastProcessedCommandTick() tick.Tick {
	if c == nil {
		return tick.Invalid
	}
	return c.lastProcessed
}

// Pending returns the number of retained commands.
func (c *Controller) Pending() int {
	if c == nil {
		return 0
	}
	return c.commands.Len()
}

// Clear drops every retained command and returns how many there were.
func (c *Controller) Clear() int {
	if c == nil {
		return 0
	}
	n := c.commands.Len()
	c.commands.Clear()
	c.latest = nil
	return n
}
