package node

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/vaultmesh/frost-wallet/internal/keystore"
	"github.com/vaultmesh/frost-wallet/internal/session"
	"github.com/vaultmesh/frost-wallet/pkg/chains"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/polynomial"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/protocol"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
	"github.com/vaultmesh/frost-wallet/protocols/frost"
	"github.com/vaultmesh/frost-wallet/protocols/frost/keygen"
)

// dkgRun is the loop-owned state of one key generation ceremony.
type dkgRun struct {
	sessionID string
	suite     string
	group     curve.Curve
	password  []byte
	handler   *protocol.Handler

	// commitments collects every participant's round 1 polynomial commitment,
	// our own included, for the final group key cross-check.
	commitments map[party.ID]*polynomial.Exponent
	recv1       map[party.ID]bool
	recv2       map[party.ID]bool
}

// StartDKG begins distributed key generation on the active session. The
// password encrypts the resulting wallet share at rest.
func (n *Node) StartDKG(ctx context.Context, password []byte) error {
	return n.call(ctx, func() error {
		s := n.state.Session
		if s == nil || s.Kind != session.KindDKG {
			return fmt.Errorf("%w: no active dkg session", ErrWrongState)
		}
		if n.state.Dkg.State != DkgIdle && n.state.Dkg.State != DkgFailed {
			return fmt.Errorf("%w: dkg already %s", ErrWrongState, n.state.Dkg.State)
		}
		if err := n.state.validateDkgTransition(DkgRound1InProgress); err != nil {
			return err
		}
		group, err := curve.FromName(s.CiphersuiteTag)
		if err != nil {
			return err
		}

		// the protocol takes the number of tolerated corruptions, one less
		// than the minimum signer count
		handler, err := protocol.NewHandler(
			frost.Keygen(group, n.self, s.Participants, s.Threshold-1),
			[]byte(s.ID))
		if err != nil {
			return fmt.Errorf("node: start keygen: %w", err)
		}

		pw := make([]byte, len(password))
		copy(pw, password)
		n.dkg = &dkgRun{
			sessionID:   s.ID,
			suite:       s.CiphersuiteTag,
			group:       group,
			password:    pw,
			handler:     handler,
			commitments: make(map[party.ID]*polynomial.Exponent, s.N()),
			recv1:       make(map[party.ID]bool, s.N()),
			recv2:       make(map[party.ID]bool, s.N()),
		}
		if err := n.registry.SetPhase(s.ID, session.PhaseRoundActive); err != nil {
			return err
		}
		n.refreshSession()
		n.setDkgState(DkgRound1InProgress, "")
		run := n.dkg
		go n.pumpProtocol(handler, func(msg *protocol.Message) { n.dkgOutgoing(run, msg) })

		// protocol messages may have raced ahead of our own start
		for _, b := range n.meshC.DrainEarly(2) {
			n.handleDkgPackage(b.From, 2, b.Data, s.ID)
		}
		for _, b := range n.meshC.DrainEarly(3) {
			n.handleDkgPackage(b.From, 3, b.Data, s.ID)
		}
		return nil
	})
}

// pumpProtocol forwards a handler's outgoing messages onto the command loop
// and posts the finalizer when the handler is done. Runs on its own goroutine.
func (n *Node) pumpProtocol(h *protocol.Handler, deliver func(*protocol.Message)) {
	for msg := range h.Listen() {
		m := msg
		n.post(func() { deliver(m) })
	}
	n.post(func() { deliver(nil) })
}

// dkgOutgoing ships one outgoing keygen message, or finalizes on nil. Loop only.
func (n *Node) dkgOutgoing(run *dkgRun, msg *protocol.Message) {
	if n.dkg != run {
		return
	}
	if msg == nil {
		n.finalizeDKG(run)
		return
	}

	data, err := cbor.Marshal(msg)
	if err != nil {
		n.failDKG(run, fmt.Sprintf("encode round %d package: %v", msg.RoundNumber, err))
		return
	}
	var out wire.PeerMessage
	switch msg.RoundNumber {
	case 2:
		// the commitment broadcast; ours enters the cross-check set too
		phi, err := keygen.CommitmentFromMessage(run.group, msg.Data)
		if err != nil {
			n.failDKG(run, fmt.Sprintf("decode own commitment: %v", err))
			return
		}
		run.commitments[n.self] = phi
		out = &wire.DkgRound1Package{SessionID: run.sessionID, Package: data}
	case 3:
		out = &wire.DkgRound2Package{SessionID: run.sessionID, Package: data}
		if n.state.Dkg.State == DkgRound1Complete || n.state.Dkg.State == DkgRound1InProgress {
			n.setDkgState(DkgRound2InProgress, "")
		}
	default:
		n.log.Warn().Uint16("round", uint16(msg.RoundNumber)).Msg("unexpected keygen round")
		return
	}

	if msg.Broadcast() {
		n.broadcastPeer(n.sessionParticipants(), out)
		return
	}
	if err := n.sendPeer(msg.To, out); err != nil {
		n.failDKG(run, fmt.Sprintf("peer disconnected during round %d", dkgSpecRound(n.state.Dkg.State)))
	}
}

// handleDkgPackage feeds an inbound keygen package to the running handler.
// Loop only.
func (n *Node) handleDkgPackage(from party.ID, wireRound uint16, pkg []byte, sessionID string) {
	run := n.dkg
	if run == nil || run.sessionID != sessionID {
		if n.meshC != nil && n.state.SessionID == sessionID {
			n.meshC.BufferEarly(from, wireRound, pkg)
		}
		return
	}

	msg := &protocol.Message{}
	if err := cbor.Unmarshal(pkg, msg); err != nil {
		n.failDKG(run, fmt.Sprintf("bad share from %s", from))
		return
	}
	if msg.RoundNumber == 2 {
		phi, err := keygen.CommitmentFromMessage(run.group, msg.Data)
		if err != nil {
			n.failDKG(run, fmt.Sprintf("bad share from %s", from))
			return
		}
		run.commitments[msg.From] = phi
	}

	if err := run.handler.Update(msg); err != nil {
		// duplicates and other header rejections are dropped; only a round
		// abort kills the ceremony
		var perr protocol.Error
		if !errors.As(err, &perr) {
			n.log.Debug().Err(err).Str("from", string(from)).Msg("keygen package dropped")
			return
		}
		n.failProtocol(run, err)
		return
	}

	switch msg.RoundNumber {
	case 2:
		run.recv1[msg.From] = true
		if len(run.recv1) == len(n.sessionParticipants())-1 &&
			n.state.Dkg.State == DkgRound1InProgress {
			n.setDkgState(DkgRound1Complete, "")
		}
	case 3:
		run.recv2[msg.From] = true
		if len(run.recv2) == len(n.sessionParticipants())-1 {
			n.setDkgState(DkgRound2Complete, "")
		}
	}
}

// finalizeDKG runs once the handler's output channel closes. Loop only.
func (n *Node) finalizeDKG(run *dkgRun) {
	n.setDkgState(DkgFinalizing, "")

	res, err := run.handler.Result()
	if err != nil {
		n.failProtocol(run, err)
		return
	}
	result, ok := res.(*frost.Config)
	if !ok {
		n.failDKG(run, fmt.Sprintf("unexpected keygen result %T", res))
		return
	}

	// recompute the group key from the summed round 1 commitments; a mismatch
	// means the ceremony produced an inconsistent key and must not be stored
	commitments := make([]*polynomial.Exponent, 0, len(run.commitments))
	for _, phi := range run.commitments {
		commitments = append(commitments, phi)
	}
	groupKey, err := keygen.GroupKeyFromCommitments(commitments)
	if err != nil {
		n.failDKG(run, err.Error())
		return
	}
	if !groupKey.Equal(result.PublicKey) {
		n.failDKG(run, "aggregate verification failed")
		return
	}

	walletID, err := n.persistWallet(run, result)
	if err != nil {
		n.failDKG(run, err.Error())
		return
	}
	zero(run.password)

	n.wallet = &loadedWallet{id: walletID, suite: run.suite, result: result}
	n.dkg = nil
	_ = n.registry.SetPhase(run.sessionID, session.PhaseCompleted)
	n.refreshSession()
	n.state.Dkg = DkgStatus{State: DkgComplete, WalletID: walletID}
	n.notifyLine("wallet %s created", walletID)
}

func (n *Node) persistWallet(run *dkgRun, result *frost.Config) (string, error) {
	plaintext, err := result.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("node: serialize wallet share: %w", err)
	}
	pubBytes, err := result.PublicKey.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("node: serialize group key: %w", err)
	}

	var blockchains []keystore.BlockchainInfo
	for _, e := range chains.Derive(result.PublicKey) {
		blockchains = append(blockchains, keystore.BlockchainInfo{
			Blockchain: e.Blockchain,
			Address:    e.Address,
			ChainID:    e.ChainID,
		})
	}

	s := n.state.Session
	rank := 0
	if ids := s.Identifiers(); ids != nil {
		rank = ids[n.self]
	}
	// every participant derives the same wallet id from the ceremony
	record := &keystore.WalletRecord{
		WalletID:       run.sessionID,
		CiphersuiteTag: run.suite,
		Metadata: keystore.Metadata{
			SessionID:         run.sessionID,
			CurveType:         run.suite,
			Blockchains:       blockchains,
			Threshold:         s.Threshold,
			TotalParticipants: s.N(),
			ParticipantIndex:  rank,
			GroupPublicKey:    hex.EncodeToString(pubBytes),
		},
		Plaintext: plaintext,
	}
	return n.store.Save(record, run.password)
}

// failProtocol translates a handler error into a user-facing failure reason.
func (n *Node) failProtocol(run *dkgRun, err error) {
	var perr protocol.Error
	if errors.As(err, &perr) && perr.Culprit != "" {
		n.failDKG(run, fmt.Sprintf("bad share from %s", perr.Culprit))
		return
	}
	n.failDKG(run, err.Error())
}

// failDKG abandons the ceremony without touching the keystore. Loop only.
func (n *Node) failDKG(run *dkgRun, reason string) {
	if n.dkg != run || run == nil {
		return
	}
	run.handler.Stop()
	zero(run.password)
	n.dkg = nil
	_ = n.registry.SetPhase(run.sessionID, session.PhaseForming)
	n.refreshSession()
	n.state.Dkg = DkgStatus{State: DkgFailed, Reason: reason}
	n.notifyLine("key generation failed: %s", reason)
}

func (n *Node) dkgPeerLost(peer party.ID) {
	if n.dkg == nil {
		return
	}
	n.log.Warn().Str("peer", string(peer)).Msg("participant lost during key generation")
	n.failDKG(n.dkg, fmt.Sprintf("peer disconnected during round %d", dkgSpecRound(n.state.Dkg.State)))
}

func (n *Node) setDkgState(next DkgState, reason string) {
	n.state.Dkg.State = next
	n.state.Dkg.Reason = reason
	n.notify()
}

func (n *Node) sessionParticipants() party.IDSlice {
	if n.state.Session == nil {
		return nil
	}
	return n.state.Session.Participants
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
