package polynomial

import (
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/party"
)

// Lagrange returns the Lagrange coefficients at 0 for all parties in the
// signer set, interpolating over the identifiers assigned by the full
// participant set.
//
//	lⱼ(0) = Π_{m ∈ signers, m ≠ j} xₘ / (xₘ - xⱼ)
func Lagrange(group curve.Curve, participants party.IDSlice, signers party.IDSlice) map[party.ID]curve.Scalar {
	return LagrangeFor(group, participants, signers, signers...)
}

// LagrangeFor returns the Lagrange coefficients at 0 for the listed subset of
// the signer set.
func LagrangeFor(group curve.Curve, participants party.IDSlice, signers party.IDSlice, subset ...party.ID) map[party.ID]curve.Scalar {
	// numerator = x₀ ⋅ x₁ ⋅ … ⋅ xₖ
	scalars := make(map[party.ID]curve.Scalar, len(signers))
	numerator := group.NewScalar().SetUInt32(1)
	for _, id := range signers {
		xi := participants.Identifier(group, id)
		scalars[id] = xi
		numerator.Mul(xi)
	}

	coefficients := make(map[party.ID]curve.Scalar, len(subset))
	for _, j := range subset {
		xj := scalars[j]

		// denominator = xⱼ ⋅ Π_{m ≠ j} (xₘ - xⱼ)
		denominator := group.NewScalar().Set(xj)
		for _, m := range signers {
			if m == j {
				continue
			}
			xm := scalars[m]
			denominator.Mul(group.NewScalar().Set(xm).Sub(xj))
		}

		// lⱼ = numerator ÷ denominator
		coefficients[j] = group.NewScalar().Set(numerator).Mul(denominator.Invert())
	}
	return coefficients
}
