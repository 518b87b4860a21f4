package transport

import (
	"sync"
	"time"
)

// Bus is an in-process stand-in for the three UDP multicast groups,
// shared by every MemoryTransport bound to it. It exists so the paxos
// package's role event loops can be exercised deterministically in
// tests without opening real sockets (adapted from the teacher's
// channel-based transport, generalized from point-to-point delivery to
// one-channel-per-group fan-out).
type Bus struct {
	mu     sync.Mutex
	groups map[Group][]chan string
	closed bool
}

// NewBus creates an empty message bus.
func NewBus() *Bus {
	return &Bus{groups: make(map[Group][]chan string)}
}

// Bind registers a new subscriber to group and returns a MemoryTransport
// whose home group is that one; Broadcast on the returned transport may
// still target any group on the same bus.
func (b *Bus) Bind(home Group) *MemoryTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan string, 4096)
	b.groups[home] = append(b.groups[home], ch)
	return &MemoryTransport{bus: b, home: home, inbox: ch}
}

func (b *Bus) broadcast(group Group, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.groups[group] {
		select {
		case ch <- payload:
		default:
			// A full inbox means a slow/stopped subscriber; the real
			// transport is equally lossy under backpressure, so drop
			// rather than block the sender.
		}
	}
}

// Close marks the bus closed; further broadcasts are silently dropped
// and pending ReceiveTimeout calls keep returning ErrTimeout.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// MemoryTransport implements Transport against a shared Bus.
type MemoryTransport struct {
	bus   *Bus
	home  Group
	inbox chan string
}

func (t *MemoryTransport) Broadcast(group Group, payload string) error {
	t.bus.broadcast(group, payload)
	return nil
}

func (t *MemoryTransport) ReceiveTimeout(timeout time.Duration) (string, error) {
	select {
	case payload := <-t.inbox:
		return payload, nil
	case <-time.After(timeout):
		return "", ErrTimeout
	}
}

func (t *MemoryTransport) Close() error { return nil }
