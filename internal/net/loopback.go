package net

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"ticksync/internal/telemetry"
)

// LoopbackConfig shapes the impairments of an in-memory link. Probabilities
// are in [0, 1] and apply per packet in each direction.
type LoopbackConfig struct {
	Loss      float64
	Duplicate float64
	Reorder   float64
	Seed      int64
	// InboxCapacity bounds each direction. Zero means 256.
	InboxCapacity int
	Metrics       telemetry.Metrics
}

type loopbackLink struct {
	mu     sync.Mutex
	rng    *rand.Rand
	cfg    LoopbackConfig
	done   chan struct{}
	closed bool
}

// Loopback is one end of an in-memory link. Impairments are drawn from a
// seeded source so runs are reproducible.
type Loopback struct {
	id    string
	link  *loopbackLink
	inbox *Inbox
	peer  *Loopback
	held  []byte
}

// NewLoopbackPair returns two connected ends.
func NewLoopbackPair(cfg LoopbackConfig) (*Loopback, *Loopback) {
	if cfg.InboxCapacity < 1 {
		cfg.InboxCapacity = 256
	}
	link := &loopbackLink{
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		cfg:  cfg,
		done: make(chan struct{}),
	}
	label := uuid.NewString()
	a := &Loopback{id: label + "/a", link: link, inbox: NewInbox(cfg.InboxCapacity, cfg.Metrics)}
	b := &Loopback{id: label + "/b", link: link, inbox: NewInbox(cfg.InboxCapacity, cfg.Metrics)}
	a.peer, b.peer = b, a
	return a, b
}

// ID implements Transport.
func (l *Loopback) ID() string { return l.id }

// Send delivers a copy of data to the other end, subject to the configured
// impairments. A reordered packet is held back until the next send.
func (l *Loopback) Send(data []byte) error {
	link := l.link
	link.mu.Lock()
	defer link.mu.Unlock()
	if link.closed {
		return ErrClosed
	}
	if link.roll(link.cfg.Loss) {
		return nil
	}
	packet := append([]byte(nil), data...)
	if l.held == nil && link.roll(link.cfg.Reorder) {
		l.held = packet
		return nil
	}
	l.peer.inbox.Push(packet)
	if link.roll(link.cfg.Duplicate) {
		l.peer.inbox.Push(append([]byte(nil), packet...))
	}
	if l.held != nil {
		l.peer.inbox.Push(l.held)
		l.held = nil
	}
	return nil
}

// Receive implements Transport.
func (l *Loopback) Receive() ([]byte, bool) {
	return l.inbox.Pop()
}

// Done implements Transport. Closing either end closes both.
func (l *Loopback) Done() <-chan struct{} {
	return l.link.done
}

// Close implements Transport.
func (l *Loopback) Close() error {
	link := l.link
	link.mu.Lock()
	defer link.mu.Unlock()
	if !link.closed {
		link.closed = true
		close(link.done)
	}
	return nil
}

// Inbox exposes the receive queue for inspection.
func (l *Loopback) Inbox() *Inbox { return l.inbox }

func (link *loopbackLink) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	return link.rng.Float64() < p
}
