package peer

import (
	"ticksync/internal/proto"
	"ticksync/internal/telemetry"
)

// EventQueue holds outgoing events for one client. Reliable events keep a
// sequence id and are resent until the client acknowledges them; unreliable
// events go out with the next packet only.
type EventQueue struct {
	nextID     uint32
	capacity   int
	reliable   []proto.Event
	unreliable []proto.Event
	metrics    telemetry.Metrics
}

// NewEventQueue bounds the number of unacknowledged reliable events.
func NewEventQueue(capacity int, metrics telemetry.Metrics) *EventQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &EventQueue{
		nextID:   1,
		capacity: capacity,
		metrics:  telemetry.OrNop(metrics),
	}
}

// Queue stages an event. Reliable events are assigned the next sequence id,
// which is returned; unreliable events return zero. A full reliable backlog
// rejects the event.
func (q *EventQueue) Queue(kind uint8, payload []byte, reliable bool) (uint32, bool) {
	if q == nil {
		return 0, false
	}
	event := proto.Event{Kind: kind, Payload: append([]byte(nil), payload...)}
	if !reliable {
		q.unreliable = append(q.unreliable, event)
		return 0, true
	}
	if len(q.reliable) >= q.capacity {
		q.metrics.Add(eventQueueOverflowMetricKey, 1)
		return 0, false
	}
	event.ID = q.nextID
	q.nextID++
	if q.nextID == 0 {
		q.nextID = 1
	}
	q.reliable = append(q.reliable, event)
	q.metrics.Store(eventPendingMetricKey, uint64(len(q.reliable)))
	return event.ID, true
}

// Pending returns up to limit events, oldest reliable events first.
func (q *EventQueue) Pending(limit int) []proto.Event {
	if q == nil {
		return nil
	}
	total := len(q.reliable) + len(q.unreliable)
	if limit <= 0 || limit > total {
		limit = total
	}
	if limit == 0 {
		return nil
	}
	out := make([]proto.Event, 0, limit)
	out = append(out, q.reliable[:min(limit, len(q.reliable))]...)
	if rest := limit - len(out); rest > 0 {
		out = append(out, q.unreliable[:rest]...)
	}
	return out
}

// CleanReliable drops reliable events with ids at or before ack.
func (q *EventQueue) CleanReliable(ack uint32) int {
	if q == nil || ack == 0 {
		return 0
	}
	n := 0
	for n < len(q.reliable) && q.reliable[n].ID <= ack {
		n++
	}
	if n > 0 {
		q.reliable = append(q.reliable[:0], q.reliable[n:]...)
		q.metrics.Store(eventPendingMetricKey, uint64(len(q.reliable)))
	}
	return n
}

// CleanUnreliable drops every unreliable event.
func (q *EventQueue) CleanUnreliable() {
	if q == nil {
		return
	}
	q.unreliable = q.unreliable[:0]
}

// Len returns the number of staged events.
func (q *EventQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.reliable) + len(q.unreliable)
}

// Clear drops everything.
func (q *EventQueue) Clear() {
	if q == nil {
		return
	}
	q.reliable = nil
	q.unreliable = nil
}

// EventReceiver delivers reliable events to the application exactly once
// and in id order.
type EventReceiver struct {
	lastID uint32
}

// LastReceivedID is the acknowledgement sent back to the authority.
func (r *EventReceiver) LastReceivedID() uint32 {
	if r == nil {
		return 0
	}
	return r.lastID
}

// Receive filters a packet's events down to the ones to deliver now.
// Reliable duplicates and events past a gap are withheld; the authority
// resends them.
func (r *EventReceiver) Receive(events []proto.Event) []proto.Event {
	if r == nil || len(events) == 0 {
		return nil
	}
	var out []proto.Event
	for _, e := range events {
		if !e.Reliable() {
			out = append(out, e)
			continue
		}
		if e.ID != r.lastID+1 {
			continue
		}
		r.lastID = e.ID
		out = append(out, e)
	}
	return out
}
