// Package clock estimates the current tick of a remote simulation from the
// sparse tick stamps it sends.
package clock

import "ticksync/internal/tick"

// Config bounds the estimator.
type Config struct {
	// SendRate is the expected number of remote ticks between observations.
	SendRate int
	// Horizon is the lag beyond which the estimate snaps to the watermark.
	Horizon int
	// CatchupStep caps how far a lagging estimate moves per local step.
	CatchupStep int
}

// Clock tracks the latest observed remote tick and a monotonic estimate of
// the remote's present tick.
type Clock struct {
	cfg       Config
	latest    tick.Tick
	estimated tick.Tick
	snaps     uint64
}

// New constructs a clock. Non-positive settings fall back to one tick.
func New(cfg Config) *Clock {
	if cfg.SendRate < 1 {
		cfg.SendRate = 1
	}
	if cfg.Horizon < 1 {
		cfg.Horizon = 1
	}
	if cfg.CatchupStep < 2 {
		cfg.CatchupStep = 2
	}
	return &Clock{cfg: cfg}
}

// Latest returns the highest remote tick observed so far.
func (c *Clock) Latest() tick.Tick {
	if c == nil {
		return tick.Invalid
	}
	return c.latest
}

// Estimated returns the believed current remote tick.
func (c *Clock) Estimated() tick.Tick {
	if c == nil {
		return tick.Invalid
	}
	return c.estimated
}

// Snaps reports how many times the estimate jumped to the watermark.
func (c *Clock) Snaps() uint64 {
	if c == nil {
		return 0
	}
	return c.snaps
}

// Observe records a remote tick stamp. Older or invalid stamps are ignored.
func (c *Clock) Observe(remote tick.Tick) {
	if c == nil || !remote.IsValid() {
		return
	}
	if remote > c.latest {
		c.latest = remote
	}
	if !c.estimated.IsValid() {
		c.estimated = remote
	}
}

// Step advances the estimate by one local tick and reports whether it snapped.
func (c *Clock) Step() bool {
	if c == nil || !c.estimated.IsValid() {
		return false
	}
	lag := c.latest.Sub(c.estimated)
	switch {
	case lag > c.cfg.Horizon:
		c.estimated = c.latest
		c.snaps++
		return true
	case lag > 0:
		step := lag
		if step > c.cfg.CatchupStep {
			step = c.cfg.CatchupStep
		}
		c.estimated = c.estimated.Add(step)
	case -lag < c.cfg.SendRate:
		c.estimated = c.estimated.Next()
	}
	return false
}

// Reset forgets all observations.
func (c *Clock) Reset() {
	if c == nil {
		return
	}
	c.latest = tick.Invalid
	c.estimated = tick.Invalid
}
