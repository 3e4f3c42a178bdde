package transport

import (
	"context"
	"sync"

	"github.com/vaultmesh/frost-wallet/pkg/party"
)

// Network is an in-process hub connecting any number of memory transports.
// Frames are delivered in send order per sender; there is no shared clock.
type Network struct {
	mtx   sync.Mutex
	nodes map[party.ID]*Memory
}

// NewNetwork returns an empty hub.
func NewNetwork() *Network {
	return &Network{nodes: make(map[party.ID]*Memory)}
}

// Join attaches a new device to the network and announces it to the others.
func (n *Network) Join(id party.ID) *Memory {
	m := &Memory{
		id:     id,
		net:    n,
		inbox:  make(chan Envelope, 256),
		events: make(chan Event, 64),
	}

	n.mtx.Lock()
	for other, node := range n.nodes {
		node.notify(Event{Kind: PeerUp, Peer: id})
		m.notify(Event{Kind: PeerUp, Peer: other})
	}
	n.nodes[id] = m
	n.mtx.Unlock()
	return m
}

// Disconnect removes a device, announcing the loss to the rest.
func (n *Network) Disconnect(id party.ID) {
	n.mtx.Lock()
	m, ok := n.nodes[id]
	if ok {
		delete(n.nodes, id)
	}
	others := make([]*Memory, 0, len(n.nodes))
	for _, node := range n.nodes {
		others = append(others, node)
	}
	n.mtx.Unlock()

	if !ok {
		return
	}
	m.shutdown()
	for _, node := range others {
		node.notify(Event{Kind: PeerDown, Peer: id})
	}
}

func (n *Network) deliver(from, to party.ID, data []byte) error {
	n.mtx.Lock()
	node, ok := n.nodes[to]
	n.mtx.Unlock()
	if !ok {
		return ErrUnknownDevice
	}
	// copy so the sender cannot mutate a frame after delivery
	frame := make([]byte, len(data))
	copy(frame, data)
	return node.receive(Envelope{From: from, Data: frame})
}

// Memory is one device's endpoint on an in-process Network.
type Memory struct {
	id     party.ID
	net    *Network
	inbox  chan Envelope
	events chan Event

	// state guards closed against concurrent deliveries so the channels are
	// never written after being closed.
	state  sync.RWMutex
	closed bool
}

var _ Transport = (*Memory)(nil)

// Send implements Transport.
func (m *Memory) Send(ctx context.Context, to party.ID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state.RLock()
	closed := m.closed
	m.state.RUnlock()
	if closed {
		return ErrClosed
	}
	return m.net.deliver(m.id, to, data)
}

// Inbox implements Transport.
func (m *Memory) Inbox() <-chan Envelope { return m.inbox }

// Events implements Transport.
func (m *Memory) Events() <-chan Event { return m.events }

// Close implements Transport.
func (m *Memory) Close() error {
	m.net.Disconnect(m.id)
	return nil
}

func (m *Memory) receive(env Envelope) error {
	m.state.RLock()
	defer m.state.RUnlock()
	if m.closed {
		return ErrUnknownDevice
	}
	m.inbox <- env
	return nil
}

func (m *Memory) notify(e Event) {
	m.state.RLock()
	defer m.state.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.events <- e:
	default:
		// a slow consumer loses connectivity events rather than blocking the hub
	}
}

func (m *Memory) shutdown() {
	m.state.Lock()
	defer m.state.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.inbox)
	close(m.events)
}
