package polynomial

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/sample"
	"github.com/vaultmesh/frost-wallet/pkg/party"
)

var testGroups = []curve.Curve{curve.Secp256k1{}, curve.Edwards25519{}}

func TestPolynomial_Constant(t *testing.T) {
	for _, group := range testGroups {
		deg := 10
		secret := sample.Scalar(rand.Reader, group)
		poly := NewPolynomial(group, deg, secret)
		require.True(t, poly.Constant().Equal(secret))
	}
}

func TestPolynomial_Evaluate(t *testing.T) {
	for _, group := range testGroups {
		polynomial := &Polynomial{group: group}
		polynomial.coefficients = []curve.Scalar{
			group.NewScalar().SetUInt32(1),
			group.NewScalar(),
			group.NewScalar().SetUInt32(1),
		}
		// f(x) = 1 + x², so f(2) = 5
		five := group.NewScalar().SetUInt32(5)
		two := group.NewScalar().SetUInt32(2)
		assert.True(t, five.Equal(polynomial.Evaluate(two)), "should be 5")

		assert.Panics(t, func() {
			polynomial.Evaluate(group.NewScalar())
		}, "attempt to leak secret should panic")
	}
}

func TestExponent_Evaluate(t *testing.T) {
	for _, group := range testGroups {
		for _, constant := range []curve.Scalar{nil, sample.Scalar(rand.Reader, group)} {
			poly := NewPolynomial(group, 5, constant)
			polyExp := NewPolynomialExponent(poly)

			x := sample.Scalar(rand.Reader, group)
			shouldBe := poly.Evaluate(x).ActOnBase()
			require.True(t, shouldBe.Equal(polyExp.Evaluate(x)))
			require.True(t, poly.Constant().ActOnBase().Equal(polyExp.Constant()))
		}
	}
}

func TestExponent_Sum(t *testing.T) {
	for _, group := range testGroups {
		N := 4
		polys := make([]*Polynomial, N)
		polyExps := make([]*Exponent, N)
		summed := NewPolynomial(group, 3, nil)
		for i := range polys {
			sec := sample.Scalar(rand.Reader, group)
			polys[i] = NewPolynomial(group, 3, sec)
			polyExps[i] = NewPolynomialExponent(polys[i])
			for j := range summed.coefficients {
				summed.coefficients[j].Add(polys[i].coefficients[j])
			}
		}

		summedExp, err := Sum(polyExps)
		require.NoError(t, err)

		x := sample.Scalar(rand.Reader, group)
		assert.True(t, summed.Evaluate(x).ActOnBase().Equal(summedExp.Evaluate(x)))
	}
}

func TestExponent_MarshalBinary(t *testing.T) {
	for _, group := range testGroups {
		poly := NewPolynomial(group, 4, sample.Scalar(rand.Reader, group))
		polyExp := NewPolynomialExponent(poly)

		data, err := polyExp.MarshalBinary()
		require.NoError(t, err)

		decoded := EmptyExponent(group)
		require.NoError(t, decoded.UnmarshalBinary(data))
		assert.True(t, polyExp.Equal(decoded))
	}
}

func TestLagrange(t *testing.T) {
	for _, group := range testGroups {
		participants := party.NewIDSlice([]party.ID{"alice", "bob", "carol", "dave", "eve"})

		// Interpolating the full set at 0 must recover the constant.
		secret := sample.Scalar(rand.Reader, group)
		poly := NewPolynomial(group, 2, secret)

		for _, signers := range []party.IDSlice{
			party.NewIDSlice([]party.ID{"alice", "bob", "carol"}),
			party.NewIDSlice([]party.ID{"bob", "dave", "eve"}),
			participants,
		} {
			coefs := Lagrange(group, participants, signers)
			reconstructed := group.NewScalar()
			for _, id := range signers {
				share := poly.Evaluate(participants.Identifier(group, id))
				reconstructed.Add(group.NewScalar().Set(coefs[id]).Mul(share))
			}
			require.True(t, secret.Equal(reconstructed))
		}
	}
}
