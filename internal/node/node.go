// Package node is the application shell of a wallet device: a single command
// loop that owns all mutable state and connects the session registry, the
// mesh coordinator, the protocol engine, the keystore and the transport.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vaultmesh/frost-wallet/internal/keystore"
	"github.com/vaultmesh/frost-wallet/internal/mesh"
	"github.com/vaultmesh/frost-wallet/internal/session"
	"github.com/vaultmesh/frost-wallet/internal/transport"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
	"github.com/vaultmesh/frost-wallet/protocols/frost/keygen"
)

var (
	// ErrStopped is returned by operations on a stopped node.
	ErrStopped = errors.New("node: stopped")
	// ErrWrongState is returned when a command arrives in a state that cannot
	// handle it. The state is never mutated in that case.
	ErrWrongState = errors.New("node: command refused in current state")
	// ErrNoWallet is returned when signing is requested without a loaded wallet.
	ErrNoWallet = errors.New("node: no wallet loaded")
)

// DefaultAcceptanceTimeout bounds how long a signing initiator waits for
// acceptances.
const DefaultAcceptanceTimeout = 30 * time.Second

// Config carries a node's collaborators.
type Config struct {
	Self      party.ID
	Transport transport.Transport
	Keystore  *keystore.Keystore
	Clock     clock.Clock
	Logger    zerolog.Logger
	// HeartbeatInterval for mesh liveness; 0 disables it.
	HeartbeatInterval time.Duration
	// AcceptanceTimeout for signing requests; 0 means the default.
	AcceptanceTimeout time.Duration
	// Observer, if set, is pushed a state snapshot after every mutation.
	// It is called on the command loop and must not call back into the node.
	Observer func(AppState)
}

// loadedWallet is decrypted key material held in memory for signing.
type loadedWallet struct {
	id     string
	suite  string
	result *keygen.Result
}

// Node is one wallet device. All state mutations run on the loop goroutine
// started by Run; the exported methods are safe to call from anywhere.
type Node struct {
	self     party.ID
	tr       transport.Transport
	store    *keystore.Keystore
	registry *session.Registry
	clk      clock.Clock
	log      zerolog.Logger
	observer func(AppState)

	heartbeat  time.Duration
	acceptWait time.Duration

	commands chan func()
	stopped  chan struct{}
	stopOnce sync.Once

	// everything below is owned by the run loop
	state    AppState
	meshC    *mesh.Coordinator
	sentOpen map[party.ID]bool
	dkg      *dkgRun
	signing  *signingRun
	wallet   *loadedWallet
}

// New builds a node. Run must be called before the node does anything.
func New(cfg Config) (*Node, error) {
	if cfg.Self == "" {
		return nil, fmt.Errorf("node: empty device name")
	}
	if cfg.Transport == nil || cfg.Keystore == nil {
		return nil, fmt.Errorf("node: transport and keystore are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.AcceptanceTimeout <= 0 {
		cfg.AcceptanceTimeout = DefaultAcceptanceTimeout
	}
	log := cfg.Logger.With().Str("component", "node").Str("device", string(cfg.Self)).Logger()
	n := &Node{
		self:       cfg.Self,
		tr:         cfg.Transport,
		store:      cfg.Keystore,
		registry:   session.NewRegistry(cfg.Self, cfg.Clock, log),
		clk:        cfg.Clock,
		log:        log,
		observer:   cfg.Observer,
		heartbeat:  cfg.HeartbeatInterval,
		acceptWait: cfg.AcceptanceTimeout,
		commands:   make(chan func(), 256),
		stopped:    make(chan struct{}),
		sentOpen:   make(map[party.ID]bool),
	}
	n.state = AppState{
		DeviceID: string(cfg.Self),
		Dkg:      DkgStatus{State: DkgIdle},
		Signing:  SigningStatus{State: SigningIdle},
	}
	return n, nil
}

// Run drives the command loop until ctx is cancelled or the transport closes.
func (n *Node) Run(ctx context.Context) error {
	defer n.shutdown()

	inbox := n.tr.Inbox()
	events := n.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-n.commands:
			f()
		case env, ok := <-inbox:
			if !ok {
				return nil
			}
			n.handleInbound(env)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			n.handlePeerEvent(ev)
		}
	}
}

func (n *Node) shutdown() {
	n.stopOnce.Do(func() { close(n.stopped) })
	if n.meshC != nil {
		n.meshC.Stop()
	}
	if n.dkg != nil && n.dkg.handler != nil {
		n.dkg.handler.Stop()
	}
	if n.signing != nil && n.signing.handler != nil {
		n.signing.handler.Stop()
	}
}

// post enqueues work for the loop without blocking the caller.
func (n *Node) post(f func()) {
	select {
	case n.commands <- f:
	case <-n.stopped:
	default:
		go func() {
			select {
			case n.commands <- f:
			case <-n.stopped:
			}
		}()
	}
}

// call runs f on the loop and waits for its result.
func (n *Node) call(ctx context.Context, f func() error) error {
	errC := make(chan error, 1)
	select {
	case n.commands <- func() { errC <- f() }:
	case <-n.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errC:
		return err
	case <-n.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the observable state.
func (n *Node) State(ctx context.Context) (AppState, error) {
	var out AppState
	err := n.call(ctx, func() error {
		out = n.state
		return nil
	})
	return out, err
}

// notify pushes the current state to the observer. Loop only.
func (n *Node) notify() {
	if n.observer != nil {
		n.observer(n.state)
	}
}

func (n *Node) notifyLine(format string, args ...interface{}) {
	n.state.Notification = fmt.Sprintf(format, args...)
	n.notify()
}

// sendPeer encodes and delivers one wire message.
func (n *Node) sendPeer(to party.ID, msg wire.PeerMessage) error {
	data, err := wire.EncodePeer(msg)
	if err != nil {
		return err
	}
	return n.tr.Send(context.Background(), to, data)
}

func (n *Node) broadcastPeer(targets party.IDSlice, msg wire.PeerMessage) {
	for _, id := range targets {
		if id == n.self {
			continue
		}
		if err := n.sendPeer(id, msg); err != nil {
			n.log.Warn().Err(err).Str("to", string(id)).
				Str("type", string(msg.MsgType())).Msg("send failed")
		}
	}
}

// ProposeSession creates a new ceremony and invites its participants.
func (n *Node) ProposeSession(ctx context.Context, kind session.Kind, threshold int, participants []party.ID, suite string) (string, error) {
	var sessionID string
	err := n.call(ctx, func() error {
		if n.dkg != nil || n.signing != nil {
			return fmt.Errorf("%w: ceremony in progress", ErrWrongState)
		}
		if _, err := curve.FromName(suite); err != nil {
			return err
		}
		s, err := n.registry.Propose(kind, session.CoordinationOnline, threshold, participants, suite)
		if err != nil {
			return err
		}
		sessionID = s.ID
		n.adoptSession(s)

		names := make([]string, len(s.Participants))
		for i, id := range s.Participants {
			names[i] = string(id)
		}
		n.broadcastPeer(s.Participants, &wire.SessionProposal{
			SessionID:      s.ID,
			Proposer:       string(n.self),
			Threshold:      threshold,
			Total:          s.N(),
			Participants:   names,
			Kind:           string(kind),
			CiphersuiteTag: suite,
		})
		n.openChannels(s)
		n.maybeFullyAccepted()
		n.notify()
		return nil
	})
	return sessionID, err
}

// AcceptSession accepts an invitation previously delivered by a proposal.
func (n *Node) AcceptSession(ctx context.Context, sessionID string) error {
	return n.call(ctx, func() error {
		if n.state.Session == nil || n.state.Session.ID != sessionID {
			return fmt.Errorf("%w: no pending session %s", ErrWrongState, sessionID)
		}
		if err := n.registry.Accept(sessionID, n.self); err != nil {
			return err
		}
		n.refreshSession()
		if n.self != n.state.Session.Proposer {
			if err := n.sendPeer(n.state.Session.Proposer, &wire.SessionResponse{
				SessionID: sessionID,
				DeviceID:  string(n.self),
				Accepted:  true,
			}); err != nil {
				return err
			}
		}
		n.maybeFullyAccepted()
		n.notify()
		return nil
	})
}

// RejectSession declines an invitation.
func (n *Node) RejectSession(ctx context.Context, sessionID, reason string) error {
	return n.call(ctx, func() error {
		if n.state.Session == nil || n.state.Session.ID != sessionID {
			return fmt.Errorf("%w: no pending session %s", ErrWrongState, sessionID)
		}
		if err := n.registry.Reject(sessionID, n.self); err != nil {
			return err
		}
		proposer := n.state.Session.Proposer
		if n.self != proposer {
			_ = n.sendPeer(proposer, &wire.SessionResponse{
				SessionID: sessionID,
				DeviceID:  string(n.self),
				Accepted:  false,
				Reason:    reason,
			})
		}
		n.clearSession()
		n.notify()
		return nil
	})
}

// LoadWallet decrypts a stored wallet into memory for signing.
func (n *Node) LoadWallet(ctx context.Context, suite, walletID string, password []byte) error {
	return n.call(ctx, func() error {
		rec, err := n.store.Load(suite, walletID, password)
		if err != nil {
			return err
		}
		result, err := keygen.UnmarshalResult(rec.Plaintext)
		if err != nil {
			return fmt.Errorf("node: decode wallet share: %w", err)
		}
		n.wallet = &loadedWallet{id: walletID, suite: suite, result: result}
		n.notifyLine("wallet %s loaded", walletID)
		return nil
	})
}

// Wallets lists stored wallet metadata.
func (n *Node) Wallets(ctx context.Context) ([]keystore.WalletInfo, error) {
	var out []keystore.WalletInfo
	err := n.call(ctx, func() error {
		infos, err := n.store.List()
		if err != nil {
			return err
		}
		out = infos
		n.state.Wallets = infos
		return nil
	})
	return out, err
}

// adoptSession wires up the mesh coordinator for a fresh session. Loop only.
func (n *Node) adoptSession(s *session.Session) {
	if n.meshC != nil {
		n.meshC.Stop()
	}
	n.state.Session = s
	n.state.SessionID = s.ID
	n.state.Dkg = DkgStatus{State: DkgIdle}
	n.sentOpen = make(map[party.ID]bool)
	n.meshC = mesh.NewCoordinator(mesh.Config{
		Self:         n.self,
		SessionID:    s.ID,
		Participants: s.Participants,
		Send:         n.sendPeer,
		OnReady: func() {
			n.post(n.onMeshReady)
		},
		OnPeerLost: func(peer party.ID) {
			n.post(func() { n.onPeerLost(peer) })
		},
		Clock:             n.clk,
		HeartbeatInterval: n.heartbeat,
		Logger:            n.log,
	})
	n.meshC.StartHeartbeat()
	n.state.Mesh = n.meshC.Status()
}

func (n *Node) clearSession() {
	if n.meshC != nil {
		n.meshC.Stop()
		n.meshC = nil
	}
	if n.state.SessionID != "" {
		n.registry.Remove(n.state.SessionID)
	}
	n.state.Session = nil
	n.state.SessionID = ""
	n.state.Mesh = mesh.Status{}
}

// openChannels announces our side of every peer channel once.
func (n *Node) openChannels(s *session.Session) {
	for _, id := range s.Participants {
		if id == n.self || n.sentOpen[id] {
			continue
		}
		n.sentOpen[id] = true
		if err := n.sendPeer(id, &wire.ChannelOpen{DeviceID: string(n.self)}); err != nil {
			n.log.Warn().Err(err).Str("to", string(id)).Msg("channel open failed")
		}
	}
}

func (n *Node) refreshSession() {
	if n.state.SessionID == "" {
		return
	}
	if snap, err := n.registry.Snapshot(n.state.SessionID); err == nil {
		n.state.Session = snap
	}
}

func (n *Node) maybeFullyAccepted() {
	if n.state.Session != nil && n.state.Session.FullyAccepted() && n.meshC != nil {
		n.meshC.SetFullyAccepted()
	}
}

func (n *Node) onMeshReady() {
	if n.meshC == nil {
		return
	}
	n.state.Mesh = n.meshC.Status()
	n.refreshSession()
	n.notifyLine("mesh ready")
}

func (n *Node) onPeerLost(peer party.ID) {
	if n.meshC != nil {
		n.state.Mesh = n.meshC.Status()
	}
	n.dkgPeerLost(peer)
	n.signingPeerLost(peer)
	n.notify()
}

func (n *Node) handlePeerEvent(ev transport.Event) {
	if n.meshC == nil {
		return
	}
	switch ev.Kind {
	case transport.PeerDown:
		n.meshC.ChannelClosed(ev.Peer)
		n.state.Mesh = n.meshC.Status()
	case transport.PeerUp:
		if s := n.state.Session; s != nil && s.Participants.Contains(ev.Peer) && !n.sentOpen[ev.Peer] {
			n.sentOpen[ev.Peer] = true
			if err := n.sendPeer(ev.Peer, &wire.ChannelOpen{DeviceID: string(n.self)}); err != nil {
				n.log.Warn().Err(err).Str("to", string(ev.Peer)).Msg("channel open failed")
			}
		}
	}
}
