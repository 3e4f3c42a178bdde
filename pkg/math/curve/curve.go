package curve

import (
	"encoding"
	"fmt"

	"github.com/cronokirby/saferith"
)

// MinIdentifier is the smallest participant identifier handed out by a session.
const MinIdentifier = 1

// MaxParticipants bounds the number of participants in a single wallet.
const MaxParticipants = 1<<16 - 1

// Curve represents the starting point for working with an Elliptic Curve group.
//
// The expectation is that this interface will be implemented by a small wrapper
// struct, often with no data inside.
type Curve interface {
	NewPoint() Point
	NewBasePoint() Point
	NewScalar() Scalar
	Name() string
	SafeScalarBytes() int
	Order() *saferith.Modulus
}

// Scalar represents an element of the field of scalars for our curve's group.
//
// All arithmetic operations mutate the receiver, returning it afterwards.
type Scalar interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Curve() Curve
	Add(Scalar) Scalar
	Sub(Scalar) Scalar
	Negate() Scalar
	Mul(Scalar) Scalar
	Invert() Scalar
	Equal(Scalar) bool
	IsZero() bool
	Set(Scalar) Scalar
	SetNat(*saferith.Nat) Scalar
	SetUInt32(uint32) Scalar
	// Act acts on a point with this scalar, returning a new point.
	Act(Point) Point
	// ActOnBase acts on the base point with this scalar, returning a new point.
	ActOnBase() Point
}

// Point represents an element of our curve's group.
type Point interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Curve() Curve
	Add(Point) Point
	Sub(Point) Point
	Negate() Point
	Set(Point) Point
	Equal(Point) bool
	IsIdentity() bool
}

// FromHash converts a wide hash digest to a Scalar, reducing modulo the group order.
//
// The digest should be at least SafeScalarBytes long, so that the resulting
// scalar is statistically indistinguishable from uniform.
func FromHash(group Curve, h []byte) Scalar {
	n := new(saferith.Nat).SetBytes(h)
	return group.NewScalar().SetNat(n)
}

// FromName returns the Curve registered under a ciphersuite tag.
//
// Tags are stable identifiers used on disk and on the wire.
func FromName(name string) (Curve, error) {
	switch name {
	case "secp256k1":
		return Secp256k1{}, nil
	case "ed25519":
		return Edwards25519{}, nil
	default:
		return nil, fmt.Errorf("curve: unknown ciphersuite %q", name)
	}
}
