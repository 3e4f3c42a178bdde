// Package transport moves opaque frames between wallet devices. The node
// only depends on the Transport contract; the concrete implementations are a
// websocket signaling client for online sessions and an in-memory network for
// tests.
package transport

import (
	"context"
	"errors"

	"github.com/vaultmesh/frost-wallet/pkg/party"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
	// ErrUnknownDevice is returned when the destination is not reachable.
	ErrUnknownDevice = errors.New("transport: unknown device")
)

// Envelope is one inbound frame together with its authenticated sender.
type Envelope struct {
	From party.ID
	Data []byte
}

// EventKind classifies connectivity events.
type EventKind uint8

const (
	// PeerUp means a device became reachable.
	PeerUp EventKind = iota
	// PeerDown means a device stopped being reachable.
	PeerDown
)

// Event reports a change in a peer's reachability.
type Event struct {
	Kind EventKind
	Peer party.ID
}

// Transport is a duplex frame conduit between this device and its peers.
//
// Frames from the same peer arrive in order; cross-peer ordering is not
// guaranteed. Both channels are closed when the transport closes.
type Transport interface {
	// Send delivers data to one peer.
	Send(ctx context.Context, to party.ID, data []byte) error
	// Inbox yields inbound frames.
	Inbox() <-chan Envelope
	// Events yields peer reachability changes.
	Events() <-chan Event
	// Close tears the transport down. Idempotent.
	Close() error
}
