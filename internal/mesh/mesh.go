// Package mesh tracks the pairwise channels of a session's participants and
// decides when the full mesh is ready for protocol traffic.
package mesh

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
)

// ChannelState is the lifecycle of one peer channel.
type ChannelState uint8

const (
	Connecting ChannelState = iota
	Open
	Closed
)

func (s ChannelState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// State summarizes mesh readiness.
type State string

const (
	Incomplete     State = "incomplete"
	PartiallyReady State = "partially_ready"
	Ready          State = "ready"
)

// Status is a point-in-time view of the mesh.
type Status struct {
	State State
	// Ready lists the peers whose channel is open and whose readiness signal
	// has been seen.
	Ready party.IDSlice
	// Total is the number of other participants.
	Total int
}

// SendFunc delivers a wire message to one peer.
type SendFunc func(to party.ID, msg wire.PeerMessage) error

// DefaultHeartbeatInterval is how often peers are pinged. A peer silent for
// three intervals is considered lost.
const DefaultHeartbeatInterval = 5 * time.Second

type peerState struct {
	channel       ChannelState
	peerReadySeen bool
	lastSeen      time.Time
}

// Buffered is a protocol message that arrived before the mesh was ready.
type Buffered struct {
	From  party.ID
	Round uint16
	Data  []byte
}

type bufferKey struct {
	from  party.ID
	round uint16
}

// Coordinator drives the readiness protocol for one session.
//
// MeshReady is sent exactly once, when the session is fully accepted and every
// peer channel is open. The Ready callback fires exactly once, when every peer
// is open, our readiness has been sent, and every peer's readiness has been
// seen.
type Coordinator struct {
	mtx sync.Mutex

	self      party.ID
	sessionID string
	others    party.IDSlice
	peers     map[party.ID]*peerState

	fullyAccepted bool
	readySent     bool
	readyFired    bool

	buffer map[bufferKey]Buffered

	send       SendFunc
	onReady    func()
	onPeerLost func(party.ID)

	clock    clock.Clock
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once

	log zerolog.Logger
}

// Config carries the collaborators of a Coordinator.
type Config struct {
	Self         party.ID
	SessionID    string
	Participants party.IDSlice
	Send         SendFunc
	// OnReady fires once, when the local mesh becomes Ready.
	OnReady func()
	// OnPeerLost fires when an open channel closes or a peer stops answering
	// heartbeats.
	OnPeerLost func(party.ID)
	Clock      clock.Clock
	// HeartbeatInterval of 0 disables liveness probing (offline sessions).
	HeartbeatInterval time.Duration
	Logger            zerolog.Logger
}

// NewCoordinator builds a coordinator for the session's participant set.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	others := cfg.Participants.Remove(cfg.Self)
	peers := make(map[party.ID]*peerState, len(others))
	for _, id := range others {
		peers[id] = &peerState{channel: Connecting}
	}
	return &Coordinator{
		self:       cfg.Self,
		sessionID:  cfg.SessionID,
		others:     others,
		peers:      peers,
		buffer:     make(map[bufferKey]Buffered),
		send:       cfg.Send,
		onReady:    cfg.OnReady,
		onPeerLost: cfg.OnPeerLost,
		clock:      cfg.Clock,
		interval:   cfg.HeartbeatInterval,
		stop:       make(chan struct{}),
		log: cfg.Logger.With().Str("component", "mesh").
			Str("session", cfg.SessionID).Logger(),
	}
}

// SetFullyAccepted tells the coordinator the session's accepted set covers
// every participant. Readiness is never announced before this.
func (c *Coordinator) SetFullyAccepted() {
	c.mtx.Lock()
	c.fullyAccepted = true
	c.mtx.Unlock()
	c.advance()
}

// ChannelOpened records that the duplex channel to peer is up.
func (c *Coordinator) ChannelOpened(peer party.ID) {
	c.mtx.Lock()
	if p, ok := c.peers[peer]; ok {
		p.channel = Open
		p.lastSeen = c.clock.Now()
	}
	c.mtx.Unlock()
	c.advance()
}

// ChannelClosed records a closed channel and reports the loss.
func (c *Coordinator) ChannelClosed(peer party.ID) {
	c.mtx.Lock()
	p, ok := c.peers[peer]
	wasOpen := ok && p.channel == Open
	if ok {
		p.channel = Closed
		p.peerReadySeen = false
	}
	c.mtx.Unlock()
	if wasOpen && c.onPeerLost != nil {
		c.onPeerLost(peer)
	}
}

// HandleMeshReady records a peer's readiness signal. Duplicates are dropped
// without any state change or response.
func (c *Coordinator) HandleMeshReady(msg wire.MeshReady) {
	from := party.ID(msg.DeviceID)
	c.mtx.Lock()
	p, ok := c.peers[from]
	if !ok || msg.SessionID != c.sessionID {
		c.mtx.Unlock()
		c.log.Warn().Str("from", msg.DeviceID).Str("session", msg.SessionID).
			Msg("dropping mesh ready for unknown peer or session")
		return
	}
	if p.peerReadySeen {
		c.mtx.Unlock()
		c.log.Debug().Str("from", msg.DeviceID).Msg("duplicate mesh ready dropped")
		return
	}
	p.peerReadySeen = true
	c.mtx.Unlock()
	c.advance()
}

// HandlePong refreshes a peer's liveness deadline.
func (c *Coordinator) HandlePong(from party.ID) {
	c.mtx.Lock()
	if p, ok := c.peers[from]; ok {
		p.lastSeen = c.clock.Now()
	}
	c.mtx.Unlock()
}

// advance sends MeshReady when the conditions are first met and fires the
// ready callback when the whole mesh is ready. Both happen at most once.
func (c *Coordinator) advance() {
	c.mtx.Lock()
	var sendReadyTo party.IDSlice
	if c.fullyAccepted && !c.readySent && c.allOpen() {
		c.readySent = true
		sendReadyTo = c.others.Copy()
	}
	fireReady := false
	if c.readySent && !c.readyFired && c.allPeersReady() {
		c.readyFired = true
		fireReady = true
	}
	c.mtx.Unlock()

	for _, id := range sendReadyTo {
		msg := &wire.MeshReady{SessionID: c.sessionID, DeviceID: string(c.self)}
		if err := c.send(id, msg); err != nil {
			c.log.Warn().Err(err).Str("to", string(id)).Msg("mesh ready send failed")
		}
	}
	if len(sendReadyTo) > 0 {
		c.log.Info().Msg("mesh ready announced")
	}
	if fireReady {
		c.log.Info().Msg("mesh ready")
		if c.onReady != nil {
			c.onReady()
		}
	}
}

func (c *Coordinator) allOpen() bool {
	for _, p := range c.peers {
		if p.channel != Open {
			return false
		}
	}
	return true
}

func (c *Coordinator) allPeersReady() bool {
	for _, p := range c.peers {
		if p.channel != Open || !p.peerReadySeen {
			return false
		}
	}
	return true
}

// Status reports the current mesh state.
func (c *Coordinator) Status() Status {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	ready := make(party.IDSlice, 0, len(c.others))
	for _, id := range c.others {
		p := c.peers[id]
		if p.channel == Open && p.peerReadySeen {
			ready = append(ready, id)
		}
	}
	st := Status{Ready: ready, Total: len(c.others)}
	switch {
	case c.readyFired:
		st.State = Ready
	case len(ready) > 0:
		st.State = PartiallyReady
	default:
		st.State = Incomplete
	}
	return st
}

// BufferEarly stores a protocol message that arrived before the mesh was
// ready, keeping at most one message per peer and round. A newer message for
// the same slot replaces the older one.
func (c *Coordinator) BufferEarly(from party.ID, round uint16, data []byte) {
	c.mtx.Lock()
	key := bufferKey{from: from, round: round}
	_, replaced := c.buffer[key]
	c.buffer[key] = Buffered{From: from, Round: round, Data: data}
	c.mtx.Unlock()
	if replaced {
		c.log.Warn().Str("from", string(from)).Uint16("round", round).
			Msg("early message buffer slot replaced")
	}
}

// DrainEarly returns and clears every buffered message for the given round,
// in sorted peer order.
func (c *Coordinator) DrainEarly(round uint16) []Buffered {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	out := make([]Buffered, 0, len(c.buffer))
	for _, id := range c.others {
		key := bufferKey{from: id, round: round}
		if msg, ok := c.buffer[key]; ok {
			out = append(out, msg)
			delete(c.buffer, key)
		}
	}
	return out
}

// StartHeartbeat launches the liveness loop: ping every interval, declare a
// peer lost after three silent intervals. It is a no-op when the interval is
// zero. Stop terminates the loop.
func (c *Coordinator) StartHeartbeat() {
	if c.interval <= 0 {
		return
	}
	go c.heartbeatLoop()
}

// Stop terminates the heartbeat loop.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Coordinator) heartbeatLoop() {
	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.heartbeatTick()
		}
	}
}

func (c *Coordinator) heartbeatTick() {
	now := c.clock.Now()
	deadline := 3 * c.interval

	c.mtx.Lock()
	var ping, lost party.IDSlice
	for _, id := range c.others {
		p := c.peers[id]
		if p.channel != Open {
			continue
		}
		if now.Sub(p.lastSeen) > deadline {
			p.channel = Closed
			p.peerReadySeen = false
			lost = append(lost, id)
			continue
		}
		ping = append(ping, id)
	}
	c.mtx.Unlock()

	for _, id := range ping {
		if err := c.send(id, &wire.Ping{DeviceID: string(c.self)}); err != nil {
			c.log.Warn().Err(err).Str("to", string(id)).Msg("ping send failed")
		}
	}
	for _, id := range lost {
		c.log.Warn().Str("peer", string(id)).Msg("peer missed heartbeat deadline")
		if c.onPeerLost != nil {
			c.onPeerLost(id)
		}
	}
}
