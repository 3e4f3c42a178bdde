package node

import (
	"github.com/vaultmesh/frost-wallet/internal/transport"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
)

// handleInbound decodes and dispatches one transport frame. Loop only.
func (n *Node) handleInbound(env transport.Envelope) {
	msg, err := wire.DecodePeer(env.Data)
	if err != nil {
		n.log.Warn().Err(err).Str("from", string(env.From)).Msg("undecodable frame")
		return
	}
	from := env.From

	switch m := msg.(type) {
	case *wire.ChannelOpen:
		n.handleChannelOpen(from)
	case *wire.MeshReady:
		if n.meshC != nil {
			n.meshC.HandleMeshReady(*m)
			n.state.Mesh = n.meshC.Status()
		}
	case *wire.Ping:
		if err := n.sendPeer(from, &wire.Pong{DeviceID: string(n.self)}); err != nil {
			n.log.Warn().Err(err).Str("to", string(from)).Msg("pong failed")
		}
	case *wire.Pong:
		if n.meshC != nil {
			n.meshC.HandlePong(from)
		}

	case *wire.SessionProposal:
		n.handleSessionProposal(m)
	case *wire.SessionResponse:
		n.handleSessionResponse(from, m)
	case *wire.SessionUpdate:
		n.handleSessionUpdate(m)
	case *wire.SessionJoinRequest:
		n.handleSessionJoinRequest(from, m)

	case *wire.DkgRound1Package:
		n.handleDkgPackage(from, 2, m.Package, m.SessionID)
	case *wire.DkgRound2Package:
		n.handleDkgPackage(from, 3, m.Package, m.SessionID)

	case *wire.SigningRequest:
		n.handleSigningRequest(from, m)
	case *wire.SigningAcceptance:
		n.handleSigningAcceptance(from, m)
	case *wire.SignerSelection:
		n.handleSignerSelection(m)
	case *wire.SigningCommitment:
		n.handleSigningPackage(m.SigningID, m.Commitments)
	case *wire.SignatureShare:
		n.handleSigningPackage(m.SigningID, m.Share)
	case *wire.AggregatedSignature:
		n.handleAggregatedSignature(m)

	default:
		n.log.Warn().Str("type", string(msg.MsgType())).Msg("unhandled message type")
	}
}

// handleChannelOpen marks the peer's side up and answers once with our own
// announcement so both sides converge on Open.
func (n *Node) handleChannelOpen(from party.ID) {
	if n.meshC == nil {
		return
	}
	if !n.sentOpen[from] {
		n.sentOpen[from] = true
		if err := n.sendPeer(from, &wire.ChannelOpen{DeviceID: string(n.self)}); err != nil {
			n.log.Warn().Err(err).Str("to", string(from)).Msg("channel open reply failed")
		}
	}
	n.meshC.ChannelOpened(from)
	n.state.Mesh = n.meshC.Status()
	n.notify()
}

// handleSessionProposal admits a remote invitation into the registry and
// surfaces it for user approval.
func (n *Node) handleSessionProposal(m *wire.SessionProposal) {
	if n.dkg != nil || n.signing != nil {
		n.log.Warn().Str("session", m.SessionID).Msg("proposal refused, ceremony in progress")
		return
	}
	s, err := n.registry.Admit(*m)
	if err != nil {
		n.log.Warn().Err(err).Str("session", m.SessionID).Msg("proposal refused")
		return
	}
	n.adoptSession(s)
	n.openChannels(s)
	n.notifyLine("session %s proposed by %s", s.ID, s.Proposer)
}

// handleSessionResponse tallies accept and reject answers on the proposer and
// fans the new accepted set out to the group.
func (n *Node) handleSessionResponse(from party.ID, m *wire.SessionResponse) {
	if n.state.Session == nil || n.state.Session.ID != m.SessionID ||
		n.state.Session.Proposer != n.self {
		return
	}
	device := party.ID(m.DeviceID)
	if device == "" {
		device = from
	}
	if m.Accepted {
		if err := n.registry.Accept(m.SessionID, device); err != nil {
			n.log.Warn().Err(err).Str("device", string(device)).Msg("acceptance refused")
			return
		}
	} else {
		if err := n.registry.Reject(m.SessionID, device); err != nil {
			n.log.Warn().Err(err).Str("device", string(device)).Msg("rejection refused")
			return
		}
		n.notifyLine("%s declined session %s: %s", device, m.SessionID, m.Reason)
	}
	n.refreshSession()
	update, err := n.registry.UpdateFor(m.SessionID, wire.UpdateFullSync)
	if err == nil {
		n.broadcastPeer(n.state.Session.Participants, &update)
	}
	n.maybeFullyAccepted()
	n.notify()
}

// handleSessionUpdate applies a membership change broadcast by the proposer.
func (n *Node) handleSessionUpdate(m *wire.SessionUpdate) {
	if n.state.Session == nil || n.state.Session.ID != m.SessionID {
		return
	}
	if err := n.registry.ApplyUpdate(*m); err != nil {
		n.log.Warn().Err(err).Str("session", m.SessionID).
			Str("update", string(m.UpdateType)).Msg("session update refused")
		return
	}
	n.refreshSession()
	n.maybeFullyAccepted()
	n.notify()
}

// handleSessionJoinRequest lets a disconnected device back in, except while a
// protocol round is running.
func (n *Node) handleSessionJoinRequest(from party.ID, m *wire.SessionJoinRequest) {
	if n.state.Session == nil || n.state.Session.ID != m.SessionID ||
		n.state.Session.Proposer != n.self {
		return
	}
	device := m.DeviceID
	if device == "" {
		device = string(from)
	}
	updateType := wire.UpdateJoined
	if m.IsRejoin {
		updateType = wire.UpdateRejoined
	}
	update := wire.SessionUpdate{
		SessionID:       m.SessionID,
		AcceptedDevices: []string{device},
		UpdateType:      updateType,
		Timestamp:       n.clk.Now().UTC(),
	}
	if err := n.registry.ApplyUpdate(update); err != nil {
		n.log.Warn().Err(err).Str("device", device).Msg("join request refused")
		return
	}
	n.refreshSession()
	full, err := n.registry.UpdateFor(m.SessionID, wire.UpdateFullSync)
	if err == nil {
		n.broadcastPeer(n.state.Session.Participants, &full)
	}
	n.maybeFullyAccepted()
	n.notify()
}
