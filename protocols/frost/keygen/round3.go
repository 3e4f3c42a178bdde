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
	"github.com/vaultmesh/frost-wallet/pkg/taproot"
)

var (
	// ErrInvalidShare is returned when a received secret share does not match
	// the sender's committed polynomial.
	ErrInvalidShare = errors.New("keygen: invalid secret share")
	// ErrInvalidChainKey is returned when a chain key contribution does not
	// match its commitment from the first round.
	ErrInvalidChainKey = errors.New("keygen: failed to decommit chain key contribution")
)

// This round corresponds to steps 2-4 of Round 2, Figure 1 in the Frost paper:
//
//	https://eprint.iacr.org/2020/852.pdf
type round3 struct {
	*round2
	// shareFrom is the secret share sent to us by a given party, including ourselves.
	//
	// shareFrom[l] corresponds to fₗ(i) in the Frost paper, with i our own identifier.
	shareFrom map[party.ID]curve.Scalar
}

type message3 struct {
	// F_li is the secret share fₗ(i) sent to us by the sender of this message.
	F_li curve.Scalar `cbor:"f_li"`
	// C_l is the sender's chain key contribution.
	C_l types.RID `cbor:"c"`
	// Decommitment opens the sender's chain key commitment from the first round.
	Decommitment hash.Decommitment `cbor:"decommitment"`
}

// VerifyMessage implements round.Round.
//
//  2. "Each Pᵢ verifies their shares by calculating
//     fₗ(i) * G =? ∑ₖ₌₀ᵗ (iᵏ mod q) * ϕₗₖ, aborting if the check fails."
func (r *round3) VerifyMessage(msg round.Message) error {
	from := msg.From
	body, ok := msg.Content.(*message3)
	if !ok || body == nil {
		return round.ErrInvalidContent
	}

	if body.F_li == nil {
		return round.ErrNilFields
	}
	if err := body.C_l.Validate(); err != nil {
		return fmt.Errorf("chain key: %w", err)
	}
	if err := body.Decommitment.Validate(); err != nil {
		return fmt.Errorf("decommitment: %w", err)
	}

	selfScalar := r.PartyIDs().Identifier(r.Group(), r.SelfID())
	expected := r.Phi[from].Evaluate(selfScalar)
	actual := body.F_li.ActOnBase()
	if !actual.Equal(expected) {
		return fmt.Errorf("%w: from party %s", ErrInvalidShare, from)
	}

	if !r.HashForID(from).Decommit(r.ChainKeyCommitments[from], body.Decommitment, body.C_l) {
		return fmt.Errorf("%w: from party %s", ErrInvalidChainKey, from)
	}

	return nil
}

// StoreMessage implements round.Round.
func (r *round3) StoreMessage(msg round.Message) error {
	from := msg.From
	body := msg.Content.(*message3)
	r.shareFrom[from] = body.F_li
	r.ChainKeys[from] = body.C_l
	return nil
}

// Finalize implements round.Round.
//
//  3. "Each Pᵢ calculates their long-lived private signing share by computing
//     sᵢ = ∑ₗ₌₁ⁿ fₗ(i), stores sᵢ securely, and deletes each fₗ(i)."
//
//  4. "Each Pᵢ calculates their public verification share Yᵢ = sᵢ * G,
//     and the group's public key Y = ∑ₗ₌₁ⁿ ϕₗ₀."
func (r *round3) Finalize(chan<- *round.Message) (round.Session, error) {
	group := r.Group()

	s_i := group.NewScalar()
	for _, l := range r.PartyIDs() {
		s_i.Add(r.shareFrom[l])
	}

	Phi, err := polynomial.Sum(allPhi(r.Phi, r.PartyIDs()))
	if err != nil {
		return r.AbortRound(err), nil
	}

	publicKey := Phi.Constant()

	// This accomplishes step 4 for everybody, by evaluating the summed
	// polynomial commitment at each party's identifier.
	verificationShares := make(map[party.ID]curve.Point, r.N())
	for _, l := range r.PartyIDs() {
		verificationShares[l] = Phi.Evaluate(r.PartyIDs().Identifier(group, l))
	}

	chainKey := types.EmptyRID()
	for _, l := range r.PartyIDs() {
		chainKey.XOR(r.ChainKeys[l])
	}

	if r.taproot {
		// BIP-340 adjustment: our public key must have an even y coordinate.
		// If not, we negate the secret, which means negating our share, the
		// public key, and all verification shares.
		YSecp := publicKey.(*curve.Secp256k1Point)
		if !YSecp.HasEvenY() {
			s_i.Negate()
			publicKey = publicKey.Negate()
			for l, y := range verificationShares {
				verificationShares[l] = y.Negate()
			}
		}
		secpVerificationShares := make(map[party.ID]*curve.Secp256k1Point, len(verificationShares))
		for l, y := range verificationShares {
			secpVerificationShares[l] = y.(*curve.Secp256k1Point)
		}
		return r.ResultRound(&TaprootResult{
			ID:                 r.SelfID(),
			Threshold:          r.threshold,
			Participants:       r.PartyIDs(),
			PrivateShare:       s_i.(*curve.Secp256k1Scalar),
			PublicKey:          taproot.PublicKey(publicKey.(*curve.Secp256k1Point).XBytes()),
			ChainKey:           chainKey,
			VerificationShares: secpVerificationShares,
		}), nil
	}

	return r.ResultRound(&Result{
		Group:              group,
		ID:                 r.SelfID(),
		Threshold:          r.threshold,
		Participants:       r.PartyIDs(),
		PrivateShare:       s_i,
		PublicKey:          publicKey,
		ChainKey:           chainKey,
		VerificationShares: verificationShares,
	}), nil
}

// MessageContent implements round.Round.
func (r *round3) MessageContent() round.Content {
	return &message3{
		F_li: r.Group().NewScalar(),
	}
}

// RoundNumber implements round.Content.
func (message3) RoundNumber() round.Number { return 3 }

// Number implements round.Round.
func (round3) Number() round.Number { return 3 }

func allPhi(phi map[party.ID]*polynomial.Exponent, ids party.IDSlice) []*polynomial.Exponent {
	out := make([]*polynomial.Exponent, 0, len(ids))
	for _, id := range ids {
		out = append(out, phi[id])
	}
	return out
}
