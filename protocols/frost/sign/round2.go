package sign

import (
	"fmt"

	"github.com/cronokirby/saferith"
	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/pkg/hash"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/polynomial"
	"github.com/vaultmesh/frost-wallet/pkg/math/sample"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/taproot"
)

// This round roughly corresponds to steps 3-6 of Figure 3 in the Frost paper:
//
//	https://eprint.iacr.org/2020/852.pdf
//
// The main differences stem from the lack of a signature authority.
//
// This means that instead of receiving a bundle of all the commitments, each
// participant sends us their commitment directly.
//
// Then, instead of sending our scalar response to the authority, we broadcast
// it to everyone instead.
type round2 struct {
	*round1
	// d_i = dᵢ is the first nonce we've created.
	d_i curve.Scalar
	// e_i = eᵢ is the second nonce we've created.
	e_i curve.Scalar
	// D[i] = Dᵢ contains the first commitment created by each party, ourselves included.
	D map[party.ID]curve.Point
	// E[i] = Eᵢ contains the second commitment created by each party, ourselves included.
	E map[party.ID]curve.Point
}

type broadcast2 struct {
	// D_i is the first commitment produced by the sender of this message.
	D_i curve.Point `cbor:"d"`
	// E_i is the second commitment produced by the sender of this message.
	E_i curve.Point `cbor:"e"`
}

// VerifyMessage implements round.Round.
//
//  3. "After receiving (m, B), each Pᵢ first validates the message m,
//     and then checks Dₗ, Eₗ in Gˣ for each commitment in B, aborting if
//     either check fails."
//
// We make a few departures.
//
// We implicitly assume that the message validation has happened before calling
// this protocol. We also receive each Dₗ, Eₗ from the participant l directly,
// instead of an entire bundle from a signing authority.
func (r *round2) VerifyMessage(msg round.Message) error {
	body, ok := msg.Content.(*broadcast2)
	if !ok || body == nil {
		return round.ErrInvalidContent
	}

	if body.D_i == nil || body.E_i == nil {
		return round.ErrNilFields
	}
	if body.D_i.IsIdentity() || body.E_i.IsIdentity() {
		return fmt.Errorf("sign: nonce commitment from %s is the identity point", msg.From)
	}

	return nil
}

// StoreMessage implements round.Round.
func (r *round2) StoreMessage(msg round.Message) error {
	body := msg.Content.(*broadcast2)
	r.D[msg.From] = body.D_i
	r.E[msg.From] = body.E_i
	return nil
}

// Finalize implements round.Round.
//
// This essentially follows parts of Figure 3.
func (r *round2) Finalize(out chan<- *round.Message) (round.Session, error) {
	group := r.Group()

	// 4. "Each Pᵢ then computes the set of binding values ρₗ = H₁(l, m, B).
	// Each Pᵢ then derives the group commitment R = ∑ₗ Dₗ + ρₗ * Eₗ and
	// the challenge c = H₂(R, Y, m)."
	//
	// It's easier to calculate H(m, B, l), that way we can simply clone the hash
	// state after H(m, B), instead of rehashing them each time.
	rho := make(map[party.ID]curve.Scalar)
	rhoPreHash := hash.New()
	_ = rhoPreHash.WriteAny(r.M)
	for _, l := range r.PartyIDs() {
		_ = rhoPreHash.WriteAny(r.D[l], r.E[l])
	}
	for _, l := range r.PartyIDs() {
		rhoHash := rhoPreHash.Clone()
		_ = rhoHash.WriteAny(l)
		rho[l] = sample.Scalar(rhoHash.Digest(), group)
	}

	R := group.NewPoint()
	RShares := make(map[party.ID]curve.Point)
	for _, l := range r.PartyIDs() {
		RShares[l] = rho[l].Act(r.E[l]).Add(r.D[l])
		R = R.Add(RShares[l])
	}
	var c curve.Scalar
	switch {
	case r.taproot:
		// BIP-340 adjustment: We need R to have an even y coordinate. This means
		// conditionally negating k = ∑ᵢ (dᵢ + (eᵢ ρᵢ)), which we can accomplish
		// by negating our dᵢ, eᵢ, if necessary. This entails negating the RShares
		// as well.
		RSecp := R.(*curve.Secp256k1Point)
		if !RSecp.HasEvenY() {
			r.d_i.Negate()
			r.e_i.Negate()
			for _, l := range r.PartyIDs() {
				RShares[l] = RShares[l].Negate()
			}
		}

		// BIP-340 adjustment: we need to calculate our hash as specified in:
		// https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#default-signing
		RBytes := RSecp.XBytes()
		PBytes := r.Y.(*curve.Secp256k1Point).XBytes()
		cHash := taproot.TaggedHash("BIP0340/challenge", RBytes, PBytes, r.M)
		c = group.NewScalar().SetNat(new(saferith.Nat).SetBytes(cHash))
	case isEdwards(group):
		// RFC 8032 challenge, so the aggregate verifies under any standard
		// ed25519 verifier.
		c = curve.Edwards25519Challenge(R, r.Y, r.M)
	default:
		cHash := hash.New()
		_ = cHash.WriteAny(R, r.Y, r.M)
		c = curve.FromHash(group, cHash.Sum())
	}

	// Lambdas[i] = λᵢ, each party's Lagrange coefficient over the signer set,
	// with identifiers assigned by the key's full participant set.
	Lambdas := polynomial.Lagrange(group, r.config.Participants, r.PartyIDs())

	// 5. "Each Pᵢ computes their response using their long-lived secret share sᵢ
	// by computing zᵢ = dᵢ + (eᵢ ρᵢ) + λᵢ sᵢ c, using S to determine
	// the ith Lagrange coefficient λᵢ."
	z_i := group.NewScalar().Set(Lambdas[r.SelfID()]).Mul(r.s_i).Mul(c)
	z_i.Add(r.d_i)
	ed := group.NewScalar().Set(rho[r.SelfID()]).Mul(r.e_i)
	z_i.Add(ed)

	// 6. "Each Pᵢ securely deletes ((dᵢ, Dᵢ), (eᵢ, Eᵢ)) from their local storage,
	// and returns zᵢ to SA."
	//
	// Since we don't have a signing authority, we instead broadcast zᵢ.
	err := r.BroadcastMessage(out, &broadcast3{Z_i: z_i})
	if err != nil {
		return r, err
	}

	return &round3{
		round2:  r,
		R:       R,
		RShares: RShares,
		c:       c,
		z:       map[party.ID]curve.Scalar{r.SelfID(): z_i},
		Lambda:  Lambdas,
	}, nil
}

// MessageContent implements round.Round.
func (r *round2) MessageContent() round.Content {
	return &broadcast2{
		D_i: r.Group().NewPoint(),
		E_i: r.Group().NewPoint(),
	}
}

// RoundNumber implements round.Content.
func (broadcast2) RoundNumber() round.Number { return 2 }

// Number implements round.Round.
func (round2) Number() round.Number { return 2 }
