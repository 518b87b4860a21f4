// Package transport implements the UDP-multicast group transport that
// carries the Synod protocol's ASCII, whitespace-tokenized datagrams
// (spec §4.1), plus an in-memory stand-in used by tests.
package transport

import (
	"errors"
	"time"
)

// Group names one of the three multicast groups the protocol uses.
type Group string

const (
	Proposers Group = "proposers"
	Acceptors Group = "acceptors"
	Learners  Group = "learners"
)

// ErrTimeout is returned by ReceiveTimeout when no datagram arrives
// within the requested window. It is not a transport failure — callers
// use it to drive their timer logic (spec §4.2/§4.3/§4.4: "a receive
// timeout is not an error").
var ErrTimeout = errors.New("transport: receive timeout")

// ErrClosed is reserved for a Transport implementation to return from
// Broadcast/ReceiveTimeout once closed, for callers that want to
// distinguish "closed" from a bare ErrTimeout; neither implementation in
// this package currently needs the distinction (UDPTransport's Close
// simply releases the sockets, and MemoryTransport's Bus.Close leaves
// ReceiveTimeout returning ErrTimeout forever).
var ErrClosed = errors.New("transport: closed")

// Transport is what a role needs from the network: broadcast a payload
// to a named group, and poll its own inbound socket with a short
// timeout. One Transport is bound to exactly one "home" group (the one
// the role receives on); Broadcast may target any group, including ones
// the role does not receive on (e.g. a proposer broadcasting to
// Learners).
type Transport interface {
	// Broadcast sends payload as a single datagram to every member of
	// group. Delivery is best-effort; no error return implies the
	// datagram reached anyone.
	Broadcast(group Group, payload string) error

	// ReceiveTimeout blocks for up to timeout waiting for the next
	// datagram addressed to this transport's home group. It returns
	// ErrTimeout, not an error condition, when nothing arrives in time.
	ReceiveTimeout(timeout time.Duration) (string, error)

	// Close releases the underlying sockets/resources.
	Close() error
}

// GroupAddrs maps each of the three groups to its multicast endpoint,
// as parsed out of the configuration file (spec §6).
type GroupAddrs map[Group]Addr

// Addr is an IPv4 multicast group address and UDP port.
type Addr struct {
	IP   string
	Port int
}
