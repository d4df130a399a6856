package net

import (
	"sync/atomic"

	"ticksync/internal/telemetry"
)

const inboxDroppedMetricKey = "net_inbox_dropped_total"

// Inbox is the single ingestion point between a reader goroutine and the
// tick loop. It is bounded; when full the newest packet is dropped so a
// stalled tick loop cannot grow memory without limit.
type Inbox struct {
	packets chan []byte
	dropped atomic.Uint64
	metrics telemetry.Metrics
}

// NewInbox allocates an inbox holding up to capacity packets.
func NewInbox(capacity int, metrics telemetry.Metrics) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Inbox{
		packets: make(chan []byte, capacity),
		metrics: telemetry.OrNop(metrics),
	}
}

// Push queues data and reports whether it was accepted.
func (in *Inbox) Push(data []byte) bool {
	if in == nil {
		return false
	}
	select {
	case in.packets <- data:
		return true
	default:
		in.dropped.Add(1)
		in.metrics.Add(inboxDroppedMetricKey, 1)
		return false
	}
}

// Pop returns the oldest queued packet without blocking.
func (in *Inbox) Pop() ([]byte, bool) {
	if in == nil {
		return nil, false
	}
	select {
	case data := <-in.packets:
		return data, true
	default:
		return nil, false
	}
}

// Len returns the number of queued packets.
func (in *Inbox) Len() int {
	if in == nil {
		return 0
	}
	return len(in.packets)
}

// Dropped reports how many packets were refused because the inbox was full.
func (in *Inbox) Dropped() uint64 {
	if in == nil {
		return 0
	}
	return in.dropped.Load()
}
