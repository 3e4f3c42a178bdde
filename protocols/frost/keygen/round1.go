package keygen

import (
	"crypto/rand"
	"fmt"

	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/internal/types"
	"github.com/vaultmesh/frost-wallet/pkg/hash"
	"github.com/vaultmesh/frost-wallet/pkg/math/polynomial"
	"github.com/vaultmesh/frost-wallet/pkg/math/sample"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	zksch "github.com/vaultmesh/frost-wallet/pkg/zk/sch"
)

// This round corresponds to steps 1-4 of Round 1, Figure 1 in the Frost paper:
//
//	https://eprint.iacr.org/2020/852.pdf
type round1 struct {
	*round.Helper
	// taproot indicates whether or not to make taproot compatible keys.
	//
	// This means taking the necessary steps to ensure that the shared secret
	// generates a public key with even y coordinate.
	taproot bool
	// threshold is the integer t which defines the maximum number of corruptions
	// tolerated for this session.
	//
	// Alternatively, the degree of the polynomial used to share the secret.
	//
	// Alternatively, t + 1 participants are needed to make a signature.
	threshold int
}

// VerifyMessage implements round.Round.
//
// Since this is the start of the protocol, we aren't expecting to have received
// any messages yet, so we do nothing.
func (r *round1) VerifyMessage(round.Message) error { return nil }

// StoreMessage implements round.Round.
func (r *round1) StoreMessage(round.Message) error { return nil }

// Finalize implements round.Round.
//
// The overall goal of this round is to generate a secret value, create a
// polynomial sharing of that value, and then send commitments to these values.
func (r *round1) Finalize(out chan<- *round.Message) (round.Session, error) {
	group := r.Group()
	// These steps come from Figure 1, Round 1 of the Frost paper.

	// 1. "Every participant Pᵢ samples t + 1 random values (aᵢ₀, ..., aᵢₜ) <-$ Z/(q)
	// and uses these values as coefficients to define a degree t polynomial
	// fᵢ(x) = ∑ⱼ₌₀ᵗ aᵢⱼ xʲ"
	a_i0 := sample.Scalar(rand.Reader, group)
	f_i := polynomial.NewPolynomial(group, r.threshold, a_i0)

	// 2. "Every Pᵢ computes a proof of knowledge of the corresponding secret aᵢ₀
	// by calculating σᵢ = (Rᵢ, μᵢ), such that:
	//
	//   k <-$ Z/(q)
	//   Rᵢ = k * G
	//   cᵢ = H(i, ctx, aᵢ₀ • G, Rᵢ)
	//   μᵢ = k + aᵢ₀ cᵢ
	//
	// with ctx being a context string to prevent replay attacks"
	//
	// At this point, we've already hashed the context inside of the helper, so
	// we just add in our own ID, and then we're good to go.
	Sigma_i := zksch.NewProof(r.HashForID(r.SelfID()), a_i0.ActOnBase(), a_i0)

	// 3. "Every participant Pᵢ computes a public commitment Φᵢ = <ϕᵢ₀, ..., ϕᵢₜ>
	// where ϕᵢⱼ = aᵢⱼ * G."
	Phi_i := polynomial.NewPolynomialExponent(f_i)

	// c_i is our contribution to the chaining key.
	c_i, err := types.NewRID(rand.Reader)
	if err != nil {
		return r, fmt.Errorf("failed to sample chain key contribution")
	}
	commitment, decommitment, err := r.HashForID(r.SelfID()).Commit(c_i)
	if err != nil {
		return r, fmt.Errorf("failed to commit to chain key")
	}

	// 4. "Every Pᵢ broadcasts Φᵢ, σᵢ to all other participants."
	err = r.BroadcastMessage(out, &broadcast2{
		Phi_i:      Phi_i,
		Sigma_i:    Sigma_i,
		Commitment: commitment,
	})
	if err != nil {
		return r, err
	}

	return &round2{
		round1:               r,
		f_i:                  f_i,
		Phi:                  map[party.ID]*polynomial.Exponent{r.SelfID(): Phi_i},
		ChainKeys:            map[party.ID]types.RID{r.SelfID(): c_i},
		ChainKeyDecommitment: decommitment,
		ChainKeyCommitments:  map[party.ID]hash.Commitment{r.SelfID(): commitment},
	}, nil
}

// MessageContent implements round.Round.
func (round1) MessageContent() round.Content { return nil }

// Number implements round.Round.
func (round1) Number() round.Number { return 1 }
