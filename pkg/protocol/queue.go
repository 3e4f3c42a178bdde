package protocol

import (
	"sync"

	"github.com/vaultmesh/frost-wallet/internal/round"
)

// queue holds messages that arrived before their round became current.
type queue struct {
	messages []*Message
	mtx      sync.Mutex
}

func (q *queue) Store(msg *Message) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	for _, existing := range q.messages {
		if existing.From == msg.From && existing.RoundNumber == msg.RoundNumber {
			return ErrMessageDuplicate
		}
	}

	q.messages = append(q.messages, msg)
	return nil
}

func (q *queue) Get(roundNumber round.Number) []*Message {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	ready := make([]*Message, 0, len(q.messages))
	remaining := q.messages[:0]
	for _, msg := range q.messages {
		if msg.RoundNumber == roundNumber {
			ready = append(ready, msg)
		} else {
			remaining = append(remaining, msg)
		}
	}
	q.messages = remaining
	return ready
}
