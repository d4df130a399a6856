// Package buffer holds the tick-indexed retention structures shared by both
// ends of a connection: the receive-side dejitter window and the send-side
// history of captured records.
package buffer

import "ticksync/internal/tick"

// Item is a pooled, tick-stamped value a buffer can retain.
type Item interface {
	comparable
	StampedTick() tick.Tick
	References(obj any) bool
}

// Release hands an evicted item back to its owner, usually an arena.
type Release[T Item] func(T)

// DuplicatePolicy decides what happens when a tick is stored twice.
type DuplicatePolicy uint8

const (
	// ReplaceExisting keeps the latest arrival for a tick.
	ReplaceExisting DuplicatePolicy = iota
	// KeepExisting ignores later arrivals for a tick.
	KeepExisting
)

func (p DuplicatePolicy) String() string {
	switch p {
	case ReplaceExisting:
		return "replace"
	case KeepExisting:
		return "keep"
	default:
		return "unknown"
	}
}
