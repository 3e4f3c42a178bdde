// Package test provides in-memory plumbing for exercising protocol executions
// across several simulated parties.
package test

import (
	"sync"

	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/protocol"
)

// Network fans handler messages out between a fixed set of in-process
// parties. Each party owns one buffered inbox; a broadcast lands in every
// inbox but the sender's.
type Network struct {
	mtx       sync.Mutex
	inboxes   map[party.ID]chan *protocol.Message
	remaining int
	done      chan struct{}
	drained   chan *protocol.Message
}

// NewNetwork wires up an inbox for each of the given parties. Inboxes are
// buffered generously so a full protocol round never blocks a sender.
func NewNetwork(parties party.IDSlice) *Network {
	drained := make(chan *protocol.Message)
	close(drained)

	n := &Network{
		inboxes:   make(map[party.ID]chan *protocol.Message, len(parties)),
		remaining: len(parties),
		done:      make(chan struct{}),
		drained:   drained,
	}
	size := 2 * len(parties) * len(parties)
	for _, id := range parties {
		n.inboxes[id] = make(chan *protocol.Message, size)
	}
	return n
}

// Next returns the inbox of the given party. A party that already left gets a
// closed channel, so receiving never blocks.
func (n *Network) Next(id party.ID) <-chan *protocol.Message {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	inbox, ok := n.inboxes[id]
	if !ok {
		return n.drained
	}
	return inbox
}

// Send queues the message in the inbox of every party it is addressed to.
func (n *Network) Send(msg *protocol.Message) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	for id, inbox := range n.inboxes {
		if msg.IsFor(id) {
			inbox <- msg
		}
	}
}

// Done retires the party's inbox and returns a channel that closes once every
// party has finished.
func (n *Network) Done(id party.ID) chan struct{} {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if inbox, ok := n.inboxes[id]; ok {
		close(inbox)
		delete(n.inboxes, id)
		n.remaining--
		if n.remaining == 0 {
			close(n.done)
		}
	}
	return n.done
}
