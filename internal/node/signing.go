package node

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/protocol"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
	"github.com/vaultmesh/frost-wallet/protocols/frost"
	"github.com/vaultmesh/frost-wallet/protocols/frost/sign"
)

// signingRun is the loop-owned state of one signing ceremony.
type signingRun struct {
	signingID string
	initiator party.ID
	payload   []byte
	required  int

	accepted map[party.ID]bool
	declined map[party.ID]bool

	// chosen is nil until the initiator announces the signer set.
	chosen  party.IDSlice
	handler *protocol.Handler
	timer   *clock.Timer

	// pending holds protocol packages that arrived before the local handler
	// existed, keyed away until signer selection lands.
	pending []*protocol.Message
}

// InitiateSigning proposes a signature over payload, which must already be
// the 32 byte message hash. The loaded wallet determines the signer group.
func (n *Node) InitiateSigning(ctx context.Context, payload []byte, blockchain, chainID string) (string, error) {
	var signingID string
	err := n.call(ctx, func() error {
		if n.wallet == nil {
			return ErrNoWallet
		}
		if n.signing != nil {
			return fmt.Errorf("%w: signing %s in progress", ErrWrongState, n.signing.signingID)
		}
		signingID = uuid.NewString()
		required := n.wallet.result.Threshold + 1

		run := &signingRun{
			signingID: signingID,
			initiator: n.self,
			payload:   append([]byte(nil), payload...),
			required:  required,
			accepted:  map[party.ID]bool{n.self: true},
			declined:  map[party.ID]bool{},
		}
		n.signing = run
		n.setSigningState(SigningAwaitingAcceptance, signingID, "")

		n.broadcastPeer(n.wallet.result.Participants, &wire.SigningRequest{
			SigningID:       signingID,
			Payload:         run.payload,
			RequiredSigners: required,
			Blockchain:      blockchain,
			ChainID:         chainID,
		})
		run.timer = n.clk.AfterFunc(n.acceptWait, func() {
			n.post(func() { n.acceptanceTimeout(run) })
		})
		if len(run.accepted) >= run.required {
			n.selectSigners(run)
		}
		return nil
	})
	return signingID, err
}

// AcceptSigning approves a signing request received from another device.
func (n *Node) AcceptSigning(ctx context.Context, signingID string) error {
	return n.call(ctx, func() error {
		run := n.signing
		if run == nil || run.signingID != signingID {
			return fmt.Errorf("%w: no pending signing %s", ErrWrongState, signingID)
		}
		if run.initiator == n.self {
			return fmt.Errorf("%w: initiator is already committed", ErrWrongState)
		}
		return n.sendPeer(run.initiator, &wire.SigningAcceptance{
			SigningID: signingID,
			Accepted:  true,
		})
	})
}

// RejectSigning declines a signing request.
func (n *Node) RejectSigning(ctx context.Context, signingID string) error {
	return n.call(ctx, func() error {
		run := n.signing
		if run == nil || run.signingID != signingID {
			return fmt.Errorf("%w: no pending signing %s", ErrWrongState, signingID)
		}
		if run.initiator == n.self {
			return fmt.Errorf("%w: initiator is already committed", ErrWrongState)
		}
		initiator := run.initiator
		n.signing = nil
		n.setSigningState(SigningIdle, "", "")
		return n.sendPeer(initiator, &wire.SigningAcceptance{
			SigningID: signingID,
			Accepted:  false,
		})
	})
}

// handleSigningRequest records a remote signing proposal for user approval.
// Loop only.
func (n *Node) handleSigningRequest(from party.ID, msg *wire.SigningRequest) {
	if n.wallet == nil {
		n.log.Warn().Str("signing", msg.SigningID).Msg("signing request without a loaded wallet")
		return
	}
	if n.signing != nil {
		n.log.Warn().Str("signing", msg.SigningID).Msg("signing request while busy")
		return
	}
	n.signing = &signingRun{
		signingID: msg.SigningID,
		initiator: from,
		payload:   append([]byte(nil), msg.Payload...),
		required:  msg.RequiredSigners,
		accepted:  map[party.ID]bool{},
		declined:  map[party.ID]bool{},
	}
	n.setSigningState(SigningAwaitingAcceptance, msg.SigningID, "")
	n.notifyLine("signing requested by %s", from)
}

// handleSigningAcceptance tallies answers on the initiator. Loop only.
func (n *Node) handleSigningAcceptance(from party.ID, msg *wire.SigningAcceptance) {
	run := n.signing
	if run == nil || run.signingID != msg.SigningID || run.initiator != n.self {
		return
	}
	if run.chosen != nil {
		return
	}
	if !msg.Accepted {
		run.declined[from] = true
		if len(run.declined) > len(n.wallet.result.Participants)-run.required {
			n.failSigning(run, "insufficient acceptances")
		}
		return
	}
	run.accepted[from] = true
	if len(run.accepted) >= run.required {
		n.selectSigners(run)
	}
}

func (n *Node) acceptanceTimeout(run *signingRun) {
	if n.signing != run || run.chosen != nil {
		return
	}
	n.failSigning(run, "insufficient acceptances")
}

// selectSigners picks the accepted devices with the lowest identifiers and
// announces them to the whole group. Initiator loop only.
func (n *Node) selectSigners(run *signingRun) {
	if run.timer != nil {
		run.timer.Stop()
	}
	participants := n.wallet.result.Participants

	var ranks []uint16
	for rank, id := range participants {
		if run.accepted[id] {
			ranks = append(ranks, uint16(rank+1))
		}
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
	ranks = ranks[:run.required]

	n.broadcastPeer(participants, &wire.SignerSelection{
		SigningID: run.signingID,
		Chosen:    ranks,
	})
	n.applySignerSelection(run, ranks)
}

// handleSignerSelection reacts to the initiator's announcement. Loop only.
func (n *Node) handleSignerSelection(msg *wire.SignerSelection) {
	run := n.signing
	if run == nil || run.signingID != msg.SigningID || run.chosen != nil {
		return
	}
	n.applySignerSelection(run, msg.Chosen)
}

func (n *Node) applySignerSelection(run *signingRun, ranks []uint16) {
	participants := n.wallet.result.Participants
	chosen := make(party.IDSlice, 0, len(ranks))
	for _, rank := range ranks {
		if rank < 1 || int(rank) > len(participants) {
			n.failSigning(run, fmt.Sprintf("unknown signer identifier %d", rank))
			return
		}
		chosen = append(chosen, participants[rank-1])
	}
	run.chosen = party.NewIDSlice(chosen)
	n.setSigningState(SigningSignerSelection, run.signingID, "")

	if !run.chosen.Contains(n.self) {
		// wait for the aggregated signature
		return
	}

	handler, err := protocol.NewHandler(
		frost.Sign(n.wallet.result, run.chosen, run.payload),
		[]byte(run.signingID))
	if err != nil {
		n.failSigning(run, fmt.Sprintf("start signing: %v", err))
		return
	}
	run.handler = handler
	n.setSigningState(SigningCommitmentPhase, run.signingID, "")
	go n.pumpProtocol(handler, func(msg *protocol.Message) { n.signingOutgoing(run, msg) })

	pending := run.pending
	run.pending = nil
	for _, msg := range pending {
		n.updateSigning(run, msg)
	}
}

// signingOutgoing ships one outgoing signing message, or finalizes on nil.
// Loop only.
func (n *Node) signingOutgoing(run *signingRun, msg *protocol.Message) {
	if n.signing != run {
		return
	}
	if msg == nil {
		n.finalizeSigning(run)
		return
	}

	data, err := cbor.Marshal(msg)
	if err != nil {
		n.failSigning(run, fmt.Sprintf("encode signing package: %v", err))
		return
	}
	rank := n.selfRank()
	var out wire.PeerMessage
	switch msg.RoundNumber {
	case 2:
		out = &wire.SigningCommitment{SigningID: run.signingID, Sender: rank, Commitments: data}
	case 3:
		out = &wire.SignatureShare{SigningID: run.signingID, Sender: rank, Share: data}
		if n.state.Signing.State == SigningCommitmentPhase {
			n.setSigningState(SigningSharePhase, run.signingID, "")
		}
	default:
		n.log.Warn().Uint16("round", uint16(msg.RoundNumber)).Msg("unexpected signing round")
		return
	}

	if msg.Broadcast() {
		n.broadcastPeer(run.chosen, out)
		return
	}
	if err := n.sendPeer(msg.To, out); err != nil {
		n.failSigning(run, "signer disconnected")
	}
}

// handleSigningPackage feeds an inbound commitment or share to the handler,
// parking it when signer selection has not landed yet. Loop only.
func (n *Node) handleSigningPackage(signingID string, pkg []byte) {
	run := n.signing
	if run == nil || run.signingID != signingID {
		return
	}
	msg := &protocol.Message{}
	if err := cbor.Unmarshal(pkg, msg); err != nil {
		n.failSigning(run, fmt.Sprintf("bad share from unknown sender: %v", err))
		return
	}
	if run.handler == nil {
		if run.chosen == nil {
			run.pending = append(run.pending, msg)
		}
		return
	}
	n.updateSigning(run, msg)
}

func (n *Node) updateSigning(run *signingRun, msg *protocol.Message) {
	if err := run.handler.Update(msg); err != nil {
		var perr protocol.Error
		if !errors.As(err, &perr) {
			n.log.Debug().Err(err).Msg("signing package dropped")
			return
		}
		if perr.Culprit != "" {
			n.failSigning(run, fmt.Sprintf("bad share from %s", perr.Culprit))
			return
		}
		n.failSigning(run, err.Error())
	}
}

// finalizeSigning collects the handler result, verifies it and lets the
// lowest chosen identifier distribute it to non-signers. Loop only.
func (n *Node) finalizeSigning(run *signingRun) {
	res, err := run.handler.Result()
	if err != nil {
		var perr protocol.Error
		if errors.As(err, &perr) && perr.Culprit != "" {
			n.failSigning(run, fmt.Sprintf("bad share from %s", perr.Culprit))
			return
		}
		n.failSigning(run, err.Error())
		return
	}
	sig, ok := res.(frost.Signature)
	if !ok {
		n.failSigning(run, fmt.Sprintf("unexpected signing result %T", res))
		return
	}
	if !sig.Verify(n.wallet.result.PublicKey, run.payload) {
		n.failSigning(run, "aggregate verification failed")
		return
	}
	sigBytes, err := sig.MarshalBinary()
	if err != nil {
		n.failSigning(run, fmt.Sprintf("serialize signature: %v", err))
		return
	}

	if run.chosen[0] == n.self {
		// lowest chosen identifier tells the rest of the group
		n.broadcastPeer(n.wallet.result.Participants, &wire.AggregatedSignature{
			SigningID: run.signingID,
			Signature: sigBytes,
		})
	}
	n.completeSigning(run, sigBytes)
}

// handleAggregatedSignature verifies and adopts the distributed signature on
// devices that did not sign. Loop only.
func (n *Node) handleAggregatedSignature(msg *wire.AggregatedSignature) {
	run := n.signing
	if run == nil || run.signingID != msg.SigningID {
		return
	}
	sig := sign.EmptySignature(n.wallet.result.Group)
	if err := sig.UnmarshalBinary(msg.Signature); err != nil {
		n.failSigning(run, "aggregate verification failed")
		return
	}
	if !sig.Verify(n.wallet.result.PublicKey, run.payload) {
		n.failSigning(run, "aggregate verification failed")
		return
	}
	n.completeSigning(run, msg.Signature)
}

func (n *Node) completeSigning(run *signingRun, sigBytes []byte) {
	if run.handler != nil {
		run.handler.Stop()
	}
	n.signing = nil
	n.state.Signing = SigningStatus{
		State:     SigningComplete,
		SigningID: run.signingID,
		Signature: sigBytes,
	}
	n.notifyLine("signature produced for %s", run.signingID)
}

func (n *Node) failSigning(run *signingRun, reason string) {
	if n.signing != run || run == nil {
		return
	}
	if run.timer != nil {
		run.timer.Stop()
	}
	if run.handler != nil {
		run.handler.Stop()
	}
	n.signing = nil
	n.state.Signing = SigningStatus{
		State:     SigningFailed,
		SigningID: run.signingID,
		Reason:    reason,
	}
	n.notifyLine("signing failed: %s", reason)
}

func (n *Node) signingPeerLost(peer party.ID) {
	run := n.signing
	if run == nil {
		return
	}
	if run.chosen != nil {
		if run.chosen.Contains(peer) {
			n.failSigning(run, "signer disconnected")
		}
		return
	}
	if run.initiator == n.self {
		// treat a vanished peer as a decline while gathering acceptances
		n.handleSigningAcceptance(peer, &wire.SigningAcceptance{
			SigningID: run.signingID,
			Accepted:  false,
		})
	} else if peer == run.initiator {
		n.failSigning(run, "signer disconnected")
	}
}

// selfRank is this device's 1-based position in the wallet's participant set.
func (n *Node) selfRank() uint16 {
	return uint16(n.wallet.result.Participants.Rank(n.self))
}

func (n *Node) setSigningState(next SigningState, signingID, reason string) {
	n.state.Signing.State = next
	n.state.Signing.SigningID = signingID
	n.state.Signing.Reason = reason
	n.notify()
}
