package peer

import (
	"ticksync/internal/proto"
	"ticksync/internal/telemetry"
	"ticksync/internal/tick"
)

// CommandQueue holds commands awaiting acknowledgement in a fixed-size ring.
// When the ring is full new commands are dropped rather than blocking the
// producer.
type CommandQueue struct {
	data    []*proto.Command
	head    int
	tail    int
	count   int
	metrics telemetry.Metrics
}

// NewCommandQueue constructs a queue with the provided capacity.
func NewCommandQueue(capacity int, metrics telemetry.Metrics) *CommandQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &CommandQueue{
		data:    make([]*proto.Command, capacity),
		metrics: telemetry.OrNop(metrics),
	}
}

// Capacity reports the maximum number of queued commands.
func (q *CommandQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return len(q.data)
}

// Len reports the number of queued commands.
func (q *CommandQueue) Len() int {
	if q == nil {
		return 0
	}
	return q.count
}

// Push appends cmd, returning false if the queue is full.
func (q *CommandQueue) Push(cmd *proto.Command) bool {
	if q == nil || cmd == nil {
		return false
	}
	if q.count == len(q.data) {
		q.metrics.Add(commandQueueOverflowMetricKey, 1)
		return false
	}
	q.data[q.tail] = cmd
	q.tail = (q.tail + 1) % len(q.data)
	q.count++
	q.storeOccupancy()
	return true
}

// Ack releases every command at the front of the queue stamped at or before
// t and returns how many were released.
func (q *CommandQueue) Ack(t tick.Tick) int {
	return q.releaseThrough(t)
}

// Expire drops every command at the front of the queue stamped at or before
// cutoff. Such commands no longer fit a packet span, so the authority can
// never acknowledge them.
func (q *CommandQueue) Expire(cutoff tick.Tick) int {
	expired := q.releaseThrough(cutoff)
	if expired > 0 {
		q.metrics.Add(commandQueueExpiredMetricKey, uint64(expired))
	}
	return expired
}

func (q *CommandQueue) releaseThrough(t tick.Tick) int {
	if q == nil || !t.IsValid() {
		return 0
	}
	released := 0
	for q.count > 0 && q.data[q.head].Tick <= t {
		q.popFront()
		released++
	}
	if released > 0 {
		q.storeOccupancy()
	}
	return released
}

// Each visits queued commands oldest first until fn returns false.
func (q *CommandQueue) Each(fn func(*proto.Command) bool) {
	if q == nil || fn == nil {
		return
	}
	for i := 0; i < q.count; i++ {
		if !fn(q.data[(q.head+i)%len(q.data)]) {
			return
		}
	}
}

// Pending returns the queued commands oldest first.
func (q *CommandQueue) Pending() []*proto.Command {
	if q == nil || q.count == 0 {
		return nil
	}
	out := make([]*proto.Command, 0, q.count)
	q.Each(func(cmd *proto.Command) bool {
		out = append(out, cmd)
		return true
	})
	return out
}

// Clear drops every command and returns how many were released.
func (q *CommandQueue) Clear() int {
	if q == nil {
		return 0
	}
	released := q.count
	for q.count > 0 {
		q.popFront()
	}
	q.head, q.tail = 0, 0
	q.storeOccupancy()
	return released
}

func (q *CommandQueue) popFront() {
	q.data[q.head] = nil
	q.head = (q.head + 1) % len(q.data)
	q.count--
}

func (q *CommandQueue) storeOccupancy() {
	q.metrics.Store(commandQueueOccupancyMetricKey, uint64(q.count))
}
