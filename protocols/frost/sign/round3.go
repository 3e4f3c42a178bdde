package sign

import (
	"errors"
	"fmt"

	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/taproot"
)

var (
	// ErrInvalidSignatureShare is returned when a party's response scalar does
	// not match their nonce commitments and verification share.
	ErrInvalidSignatureShare = errors.New("sign: invalid signature share")
	// ErrInvalidAggregate is returned when the aggregated signature fails to
	// verify against the group public key.
	ErrInvalidAggregate = errors.New("sign: aggregate signature failed to verify")
)

// This round roughly corresponds to steps 7-10 of Figure 3 in the Frost paper:
//
//	https://eprint.iacr.org/2020/852.pdf
//
// Instead of a signature authority calculating these steps, each participant
// verifies and aggregates the responses themselves.
type round3 struct {
	*round2
	// R is the group commitment for the signature.
	R curve.Point
	// RShares[l] is the commitment share Dₗ + ρₗ * Eₗ for party l, adjusted
	// for parity when generating BIP-340 signatures.
	RShares map[party.ID]curve.Point
	// c is the challenge scalar.
	c curve.Scalar
	// z contains the response scalar of each party, ourselves included.
	z map[party.ID]curve.Scalar
	// Lambda contains the Lagrange coefficient of each signer.
	Lambda map[party.ID]curve.Scalar
}

type broadcast3 struct {
	// Z_i is the response scalar of the sender of this message.
	Z_i curve.Scalar `cbor:"z"`
}

// VerifyMessage implements round.Round.
//
//  7. "Each Pᵢ verifies the validity of each response by checking
//     zₗ * G = Rₗ + cₗ * λₗ * Yₗ for each signing share zₗ."
func (r *round3) VerifyMessage(msg round.Message) error {
	from := msg.From
	body, ok := msg.Content.(*broadcast3)
	if !ok || body == nil {
		return round.ErrInvalidContent
	}

	if body.Z_i == nil {
		return round.ErrNilFields
	}

	expected := r.Group().NewScalar().Set(r.c).Mul(r.Lambda[from]).Act(r.YShares[from]).Add(r.RShares[from])
	actual := body.Z_i.ActOnBase()
	if !actual.Equal(expected) {
		return fmt.Errorf("%w: from party %s", ErrInvalidSignatureShare, from)
	}

	return nil
}

// StoreMessage implements round.Round.
func (r *round3) StoreMessage(msg round.Message) error {
	body := msg.Content.(*broadcast3)
	r.z[msg.From] = body.Z_i
	return nil
}

// Finalize implements round.Round.
//
//  8. "The aggregate response is z = ∑ₗ zₗ; the signature is σ = (R, z)."
//
// The aggregated signature is verified against the group key before being
// returned, so a bad signature is never emitted.
func (r *round3) Finalize(chan<- *round.Message) (round.Session, error) {
	z := r.Group().NewScalar()
	for _, l := range r.PartyIDs() {
		z.Add(r.z[l])
	}

	if r.taproot {
		sig := make([]byte, 0, taproot.SignatureLen)
		sig = append(sig, r.R.(*curve.Secp256k1Point).XBytes()...)
		zBytes, err := z.MarshalBinary()
		if err != nil {
			return r, err
		}
		sig = append(sig, zBytes...)

		taprootPub := taproot.PublicKey(r.Y.(*curve.Secp256k1Point).XBytes())
		if !taprootPub.Verify(taproot.Signature(sig), r.M) {
			return r.AbortRound(ErrInvalidAggregate, r.PartyIDs()...), nil
		}
		return r.ResultRound(taproot.Signature(sig)), nil
	}

	sig := Signature{
		R: r.R,
		Z: z,
	}
	if !sig.Verify(r.Y, r.M) {
		return r.AbortRound(ErrInvalidAggregate, r.PartyIDs()...), nil
	}
	return r.ResultRound(sig), nil
}

// MessageContent implements round.Round.
func (r *round3) MessageContent() round.Content {
	return &broadcast3{
		Z_i: r.Group().NewScalar(),
	}
}

// RoundNumber implements round.Content.
func (broadcast3) RoundNumber() round.Number { return 3 }

// Number implements round.Round.
func (round3) Number() round.Number { return 3 }
