// Package peer keeps the per-connection bookkeeping on both ends of a link:
// pending commands and their acknowledgement, the view of the newest tick
// received per entity, remote clock estimation, and event queues.
//
// Nothing here locks. Every value is owned by the goroutine driving the
// host's tick loop.
package peer

import (
	"ticksync/internal/clock"
)

// ID identifies a connection on the authority. Zero is invalid.
type ID uint32

// Config sizes the per-connection structures.
type Config struct {
	Horizon         int
	SendRate        int
	CatchupStep     int
	CommandCapacity int
	EventCapacity   int
	MaxEvents       int
	ViewEntryLimit  int
}

func (c Config) clock() clock.Config {
	return clock.Config{
		SendRate:    c.SendRate,
		Horizon:     c.Horizon,
		CatchupStep: c.CatchupStep,
	}
}

func (c Config) withDefaults() Config {
	if c.Horizon < 1 {
		c.Horizon = 1
	}
	if c.CommandCapacity < 1 {
		c.CommandCapacity = 1
	}
	if c.EventCapacity < 1 {
		c.EventCapacity = 256
	}
	if c.MaxEvents < 1 {
		c.MaxEvents = 16
	}
	if c.ViewEntryLimit < 1 {
		c.ViewEntryLimit = 256
	}
	return c
}

const (
	commandQueueOccupancyMetricKey = "peer_command_queue_occupancy"
	commandQueueOverflowMetricKey  = "peer_command_queue_overflow_total"
	commandQueueExpiredMetricKey   = "peer_command_queue_expired_total"
	commandDuplicateMetricKey      = "peer_command_duplicate_total"
	commandStaleMetricKey          = "peer_command_stale_total"
	eventQueueOverflowMetricKey    = "peer_event_queue_overflow_total"
	eventPendingMetricKey          = "peer_event_reliable_pending"
)
