package sch

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultmesh/frost-wallet/pkg/hash"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/sample"
)

func TestSchProof(t *testing.T) {
	for _, group := range []curve.Curve{curve.Secp256k1{}, curve.Edwards25519{}} {
		h := hash.New(hash.BytesWithDomain{TheDomain: "Test", Bytes: []byte("session")})

		secret := sample.Scalar(rand.Reader, group)
		public := secret.ActOnBase()

		r := NewRandomness(rand.Reader, group)
		proof := r.Prove(h, public, secret)
		assert.True(t, proof.Verify(h, public), "proof should verify")

		// A different transcript must fail.
		other := hash.New(hash.BytesWithDomain{TheDomain: "Test", Bytes: []byte("other-session")})
		assert.False(t, proof.Verify(other, public), "proof over wrong transcript should fail")

		// A different public point must fail.
		wrong := sample.Scalar(rand.Reader, group).ActOnBase()
		assert.False(t, proof.Verify(h, wrong), "proof for wrong public should fail")
	}
}

func TestSchProofMarshal(t *testing.T) {
	for _, group := range []curve.Curve{curve.Secp256k1{}, curve.Edwards25519{}} {
		h := hash.New(hash.BytesWithDomain{TheDomain: "Test", Bytes: []byte("session")})

		secret := sample.Scalar(rand.Reader, group)
		public := secret.ActOnBase()
		proof := NewRandomness(rand.Reader, group).Prove(h, public, secret)

		data, err := proof.MarshalBinary()
		require.NoError(t, err)

		decoded := EmptyProof(group)
		require.NoError(t, decoded.UnmarshalBinary(data))
		assert.True(t, decoded.Verify(h, public), "decoded proof should verify")
	}
}
