package polynomial

import (
	"crypto/rand"

	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/sample"
)

// Polynomial represents f(X) = a₀ + a₁⋅X + … + aₜ⋅Xᵗ with coefficients in the
// scalar field of a group.
type Polynomial struct {
	group        curve.Curve
	coefficients []curve.Scalar
}

// NewPolynomial generates a Polynomial f(X) = constant + a₁⋅X + … + aₜ⋅Xᵗ,
// with random coefficients and degree t.
//
// If constant is nil, it is interpreted as 0.
func NewPolynomial(group curve.Curve, degree int, constant curve.Scalar) *Polynomial {
	polynomial := &Polynomial{
		group:        group,
		coefficients: make([]curve.Scalar, degree+1),
	}

	if constant == nil {
		constant = group.NewScalar()
	}
	polynomial.coefficients[0] = constant

	for i := 1; i <= degree; i++ {
		polynomial.coefficients[i] = sample.Scalar(rand.Reader, group)
	}

	return polynomial
}

// Evaluate evaluates the polynomial at a given index using Horner's method.
//
// Evaluating at 0 would return the secret constant, so we refuse it.
func (p *Polynomial) Evaluate(index curve.Scalar) curve.Scalar {
	if index.IsZero() {
		panic("polynomial: attempt to leak secret")
	}

	result := p.group.NewScalar()
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		// bₙ₋₁ = bₙ * x + aₙ₋₁
		result.Mul(index).Add(p.coefficients[i])
	}
	return result
}

// Constant returns a copy of the constant coefficient of the polynomial.
func (p *Polynomial) Constant() curve.Scalar {
	return p.group.NewScalar().Set(p.coefficients[0])
}

// Degree is the highest power of the Polynomial.
func (p *Polynomial) Degree() uint32 {
	return uint32(len(p.coefficients)) - 1
}
