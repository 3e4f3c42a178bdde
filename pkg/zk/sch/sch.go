// Package sch implements a Schnorr proof of knowledge of the discrete log of
// a public point, made non-interactive over a transcript hash.
package sch

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/vaultmesh/frost-wallet/pkg/hash"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/sample"
)

// Randomness is the prover's ephemeral scalar k together with its public
// commitment [k]•G.
type Randomness struct {
	a          curve.Scalar
	commitment curve.Point
}

// Proof is the commitment R = [k]•G and the response μ = k + x⋅c, where
// c is derived from the transcript, the commitment and the public point.
type Proof struct {
	group curve.Curve
	R     curve.Point
	Mu    curve.Scalar
}

// NewProof samples fresh randomness and proves knowledge of secret, where
// public = [secret]•G.
func NewProof(h *hash.Hash, public curve.Point, secret curve.Scalar) *Proof {
	r := NewRandomness(rand.Reader, secret.Curve())
	return r.Prove(h, public, secret)
}

// NewRandomness samples fresh prover randomness.
func NewRandomness(rand io.Reader, group curve.Curve) *Randomness {
	a := sample.ScalarUnit(rand, group)
	return &Randomness{
		a:          a,
		commitment: a.ActOnBase(),
	}
}

// Commitment returns [k]•G for the sampled randomness.
func (r *Randomness) Commitment() curve.Point {
	return r.commitment
}

// Prove returns a proof of knowledge of secret, where public = [secret]•G.
// The hash must already be keyed with the transcript both parties agree on.
func (r *Randomness) Prove(h *hash.Hash, public curve.Point, secret curve.Scalar) *Proof {
	group := secret.Curve()
	c := challenge(h, group, r.commitment, public)
	mu := group.NewScalar().Set(secret).Mul(c).Add(r.a)
	return &Proof{
		group: group,
		R:     r.commitment,
		Mu:    mu,
	}
}

// Verify checks that the proof is valid for public against the transcript in h.
func (p *Proof) Verify(h *hash.Hash, public curve.Point) bool {
	if p == nil || p.R == nil || p.Mu == nil {
		return false
	}
	if p.R.IsIdentity() || p.Mu.IsZero() {
		return false
	}

	c := challenge(h, p.group, p.R, public)

	// [μ]•G = R + [c]•X
	lhs := p.Mu.ActOnBase()
	rhs := c.Act(public).Add(p.R)
	return lhs.Equal(rhs)
}

func challenge(h *hash.Hash, group curve.Curve, commitment, public curve.Point) curve.Scalar {
	cloned := h.Clone()
	commitmentBytes, _ := commitment.MarshalBinary()
	publicBytes, _ := public.MarshalBinary()
	_ = cloned.WriteAny(
		hash.BytesWithDomain{TheDomain: "Schnorr Commitment", Bytes: commitmentBytes},
		hash.BytesWithDomain{TheDomain: "Schnorr Public", Bytes: publicBytes},
	)
	return curve.FromHash(group, cloned.Sum())
}

// EmptyProof returns a zero-valued proof over the given group, ready for
// UnmarshalBinary.
func EmptyProof(group curve.Curve) *Proof {
	return &Proof{
		group: group,
		R:     group.NewPoint(),
		Mu:    group.NewScalar(),
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p *Proof) MarshalBinary() ([]byte, error) {
	rBytes, err := p.R.MarshalBinary()
	if err != nil {
		return nil, err
	}
	muBytes, err := p.Mu.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(rBytes, muBytes...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// The receiver must have been created with EmptyProof.
func (p *Proof) UnmarshalBinary(data []byte) error {
	if p.group == nil {
		return errors.New("sch: unmarshal into proof with no group")
	}
	pointBytes, _ := p.group.NewBasePoint().MarshalBinary()
	if len(data) <= len(pointBytes) {
		return io.ErrUnexpectedEOF
	}
	if err := p.R.UnmarshalBinary(data[:len(pointBytes)]); err != nil {
		return err
	}
	return p.Mu.UnmarshalBinary(data[len(pointBytes):])
}
