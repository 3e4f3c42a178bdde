package keygen

import (
	"errors"
	"fmt"

	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/internal/types"
	"github.com/vaultmesh/frost-wallet/pkg/hash"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/polynomial"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	zksch "github.com/vaultmesh/frost-wallet/pkg/zk/sch"
)

// ErrInvalidProofOfKnowledge is returned when a participant's Schnorr proof
// for their secret polynomial constant fails to verify.
var ErrInvalidProofOfKnowledge = errors.New("keygen: invalid proof of knowledge")

// This round corresponds to step 5 of Round 1, and step 1 of Round 2, Figure 1
// in the Frost paper:
//
//	https://eprint.iacr.org/2020/852.pdf
type round2 struct {
	*round1
	// f_i is the polynomial this participant uses to share their contribution
	// to the secret.
	f_i *polynomial.Polynomial
	// Phi contains the polynomial commitment for each participant, ourselves included.
	//
	// Phi[l][k] corresponds to ϕₗₖ in the Frost paper.
	Phi map[party.ID]*polynomial.Exponent
	// ChainKeyDecommitment will be used to decommit our contribution to the chain key.
	ChainKeyDecommitment hash.Decommitment
	// ChainKeys holds the chain key contribution of each participant.
	//
	// This is an addition to FROST, which we include for key derivation.
	ChainKeys map[party.ID]types.RID
	// ChainKeyCommitments holds the commitments for the chain key contributions.
	ChainKeyCommitments map[party.ID]hash.Commitment
}

type broadcast2 struct {
	// Phi_i is the commitment to the polynomial that this participant generated.
	Phi_i *polynomial.Exponent `cbor:"phi"`
	// Sigma_i is the Schnorr proof of knowledge of the participant's secret.
	Sigma_i *zksch.Proof `cbor:"sigma"`
	// Commitment = H(cᵢ, uᵢ).
	Commitment hash.Commitment `cbor:"commitment"`
}

// VerifyMessage implements round.Round.
//
// These steps come from Figure 1, Round 1 of the Frost paper.
//
//  5. "Upon receiving ϕₗ, σₗ from participants 1 ⩽ l ⩽ n, participant Pᵢ
//     verifies σₗ = (Rₗ, μₗ), aborting on failure, by checking
//     Rₗ = μₗ * G - cₗ * ϕₗ₀, where cₗ = H(l, ctx, ϕₗ₀, Rₗ).
//
//     Upon success, participants delete { σₗ | 1 ⩽ l ⩽ n }"
func (r *round2) VerifyMessage(msg round.Message) error {
	from := msg.From
	body, ok := msg.Content.(*broadcast2)
	if !ok || body == nil {
		return round.ErrInvalidContent
	}

	if body.Phi_i == nil || body.Sigma_i == nil {
		return round.ErrNilFields
	}

	if err := body.Commitment.Validate(); err != nil {
		return fmt.Errorf("commitment: %w", err)
	}

	if body.Phi_i.Degree() != uint32(r.threshold) {
		return fmt.Errorf("party %s sent a polynomial commitment of the wrong degree", from)
	}

	// To see why the check below is correct, compare it with the proof we
	// produced in the previous round. Note how we do the same hash cloning,
	// but this time with the ID of the message sender.
	if !body.Sigma_i.Verify(r.HashForID(from), body.Phi_i.Constant()) {
		return fmt.Errorf("%w: party %s", ErrInvalidProofOfKnowledge, from)
	}

	return nil
}

// StoreMessage implements round.Round.
func (r *round2) StoreMessage(msg round.Message) error {
	from := msg.From
	body := msg.Content.(*broadcast2)
	r.Phi[from] = body.Phi_i
	r.ChainKeyCommitments[from] = body.Commitment
	return nil
}

// Finalize implements round.Round.
//
// These steps come from Figure 1, Round 2 of the Frost paper.
//
//  1. "Each Pᵢ securely sends to each other participant Pₗ a secret share
//     (l, fᵢ(l)), deleting fᵢ and each share afterward except for (i, fᵢ(i)),
//     which they keep for themselves."
//
// We piggyback the chain key decommitment onto the share messages, since both
// are revealed at the same point of the protocol.
func (r *round2) Finalize(out chan<- *round.Message) (round.Session, error) {
	for _, l := range r.OtherPartyIDs() {
		if err := r.SendMessage(out, &message3{
			F_li:         r.f_i.Evaluate(r.PartyIDs().Identifier(r.Group(), l)),
			C_l:          r.ChainKeys[r.SelfID()],
			Decommitment: r.ChainKeyDecommitment,
		}, l); err != nil {
			return r, err
		}
	}

	selfShare := r.f_i.Evaluate(r.PartyIDs().Identifier(r.Group(), r.SelfID()))
	return &round3{
		round2:    r,
		shareFrom: map[party.ID]curve.Scalar{r.SelfID(): selfShare},
	}, nil
}

// MessageContent implements round.Round.
func (r *round2) MessageContent() round.Content {
	return &broadcast2{
		Phi_i:   polynomial.EmptyExponent(r.Group()),
		Sigma_i: zksch.EmptyProof(r.Group()),
	}
}

// RoundNumber implements round.Content.
func (broadcast2) RoundNumber() round.Number { return 2 }

// Number implements round.Round.
func (round2) Number() round.Number { return 2 }
