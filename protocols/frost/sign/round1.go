package sign

import (
	"crypto/rand"

	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/sample"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/protocols/frost/keygen"
)

// This round corresponds to the pre-processing phase, Figure 2 in the Frost paper:
//
//	https://eprint.iacr.org/2020/852.pdf
//
// We merge the pre-processing and signing protocols into a single signing
// protocol which doesn't require any pre-processing: a fresh pair of nonces is
// created for every signature.
type round1 struct {
	*round.Helper
	// taproot indicates whether or not we generate BIP-340 compatible signatures.
	taproot bool
	// M is the hash of the message we're signing.
	M messageHash
	// Y is the group's public key.
	Y curve.Point
	// YShares are verification shares for each party's fraction of the secret.
	//
	// YShares[i] corresponds to Yᵢ in the Frost paper.
	YShares map[party.ID]curve.Point
	// s_i = sᵢ is our fraction of the secret key.
	s_i curve.Scalar
	// config is the key material this signature is created with.
	config *keygen.Result
}

// VerifyMessage implements round.Round.
func (round1) VerifyMessage(round.Message) error { return nil }

// StoreMessage implements round.Round.
func (round1) StoreMessage(round.Message) error { return nil }

// Finalize implements round.Round.
//
// This corresponds to steps 1-4 of Figure 2.
//
//  1. "Each Pᵢ samples single-use nonces (dᵢ, eᵢ) <-$ Z/(q)*"
//  2. "Each Pᵢ derives commitment shares (Dᵢ, Eᵢ) = (dᵢ * G, eᵢ * G)."
//
// Instead of publishing a bundle of commitments to a signing authority, each
// participant broadcasts their single commitment pair directly.
func (r *round1) Finalize(out chan<- *round.Message) (round.Session, error) {
	d_i := sample.ScalarUnit(rand.Reader, r.Group())
	e_i := sample.ScalarUnit(rand.Reader, r.Group())

	D_i := d_i.ActOnBase()
	E_i := e_i.ActOnBase()

	err := r.BroadcastMessage(out, &broadcast2{
		D_i: D_i,
		E_i: E_i,
	})
	if err != nil {
		return r, err
	}

	return &round2{
		round1: r,
		d_i:    d_i,
		e_i:    e_i,
		D:      map[party.ID]curve.Point{r.SelfID(): D_i},
		E:      map[party.ID]curve.Point{r.SelfID(): E_i},
	}, nil
}

// MessageContent implements round.Round.
func (round1) MessageContent() round.Content { return nil }

// Number implements round.Round.
func (round1) Number() round.Number { return 1 }
