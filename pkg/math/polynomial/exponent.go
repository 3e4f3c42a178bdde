package polynomial

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
)

// Exponent represents F(X) = [f(X)]•G, the image of a polynomial over the
// group generated by G. It is used as a Feldman VSS commitment to f.
type Exponent struct {
	group curve.Curve
	// isConstant indicates that the constant coefficient of f is 0,
	// in which case it is omitted from coefficients.
	isConstant   bool
	coefficients []curve.Point
}

// NewPolynomialExponent generates F(X) = [f(X)]•G from the coefficients of f.
func NewPolynomialExponent(polynomial *Polynomial) *Exponent {
	p := &Exponent{
		group:        polynomial.group,
		isConstant:   polynomial.coefficients[0].IsZero(),
		coefficients: make([]curve.Point, 0, len(polynomial.coefficients)),
	}

	for i, c := range polynomial.coefficients {
		if i == 0 && p.isConstant {
			continue
		}
		p.coefficients = append(p.coefficients, c.ActOnBase())
	}

	return p
}

// Evaluate returns F(x) = [f(x)]•G using Horner's method over points.
func (p *Exponent) Evaluate(x curve.Scalar) curve.Point {
	result := p.group.NewPoint()
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		// Bₙ₋₁ = [x]Bₙ + Aₙ₋₁
		result = x.Act(result).Add(p.coefficients[i])
	}

	if p.isConstant {
		// The constant coefficient was 0, so we simply multiply by x
		// to walk the degrees up by one.
		result = x.Act(result)
	}

	return result
}

// Degree returns the degree t of the polynomial.
func (p *Exponent) Degree() uint32 {
	if p.isConstant {
		return uint32(len(p.coefficients))
	}
	return uint32(len(p.coefficients)) - 1
}

// Add sets p to p + q, and returns p.
func (p *Exponent) Add(q *Exponent) error {
	if len(p.coefficients) != len(q.coefficients) {
		return errors.New("polynomial: exponents have different degrees")
	}
	if p.isConstant != q.isConstant {
		return errors.New("polynomial: exponents differ in constant coefficient")
	}

	for i := range p.coefficients {
		p.coefficients[i] = p.coefficients[i].Add(q.coefficients[i])
	}
	return nil
}

// Sum returns the sum of all polynomials in the slice.
func Sum(polynomials []*Exponent) (*Exponent, error) {
	if len(polynomials) == 0 {
		return nil, errors.New("polynomial: empty sum")
	}

	summed := polynomials[0].copy()
	for _, q := range polynomials[1:] {
		if err := summed.Add(q); err != nil {
			return nil, err
		}
	}
	return summed, nil
}

// Constant returns a copy of the constant coefficient A₀ = [a₀]•G.
func (p *Exponent) Constant() curve.Point {
	c := p.group.NewPoint()
	if p.isConstant {
		return c
	}
	return c.Set(p.coefficients[0])
}

// Equal returns true if p and q commit to the same polynomial.
func (p *Exponent) Equal(q *Exponent) bool {
	if p.isConstant != q.isConstant {
		return false
	}
	if len(p.coefficients) != len(q.coefficients) {
		return false
	}
	for i := range p.coefficients {
		if !p.coefficients[i].Equal(q.coefficients[i]) {
			return false
		}
	}
	return true
}

func (p *Exponent) copy() *Exponent {
	q := &Exponent{
		group:        p.group,
		isConstant:   p.isConstant,
		coefficients: make([]curve.Point, len(p.coefficients)),
	}
	for i := range p.coefficients {
		q.coefficients[i] = p.group.NewPoint().Set(p.coefficients[i])
	}
	return q
}

// EmptyExponent returns a zero-valued Exponent over the given group, ready
// for UnmarshalBinary.
func EmptyExponent(group curve.Curve) *Exponent {
	return &Exponent{group: group}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p *Exponent) MarshalBinary() ([]byte, error) {
	var out []byte
	header := make([]byte, 5)
	if p.isConstant {
		header[0] = 1
	}
	binary.BigEndian.PutUint32(header[1:], uint32(len(p.coefficients)))
	out = append(out, header...)

	for _, c := range p.coefficients {
		data, err := c.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// The receiver must have been created with EmptyExponent.
func (p *Exponent) UnmarshalBinary(data []byte) error {
	if p.group == nil {
		return errors.New("polynomial: unmarshal into exponent with no group")
	}
	if len(data) < 5 {
		return io.ErrUnexpectedEOF
	}
	p.isConstant = data[0] == 1
	count := binary.BigEndian.Uint32(data[1:5])
	if count > curve.MaxParticipants {
		return errors.New("polynomial: too many coefficients")
	}
	data = data[5:]

	p.coefficients = make([]curve.Point, count)
	for i := range p.coefficients {
		point := p.group.NewPoint()
		size := pointSize(p.group)
		if len(data) < size {
			return io.ErrUnexpectedEOF
		}
		if err := point.UnmarshalBinary(data[:size]); err != nil {
			return err
		}
		p.coefficients[i] = point
		data = data[size:]
	}
	if len(data) != 0 {
		return errors.New("polynomial: trailing data after exponent")
	}
	return nil
}

func pointSize(group curve.Curve) int {
	data, _ := group.NewBasePoint().MarshalBinary()
	return len(data)
}
