// Package net defines the datagram boundary the hosts run over. Delivery is
// unreliable and unordered; the tick protocol above it tolerates loss,
// duplication and reordering.
package net

import "errors"

// ErrClosed is returned by Send after the link is closed.
var ErrClosed = errors.New("net: link closed")

// Transport moves whole packets between two hosts. Send may be called from
// the tick goroutine only; Receive never blocks.
type Transport interface {
	// ID labels the link in logs.
	ID() string
	Send(data []byte) error
	// Receive pops the next queued inbound packet.
	Receive() ([]byte, bool)
	// Done is closed once the link can no longer carry traffic.
	Done() <-chan struct{}
	Close() error
}
