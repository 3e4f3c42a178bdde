package curve

import (
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/cronokirby/saferith"
)

var (
	edwards25519OrderNat, _ = new(saferith.Nat).SetHex("1000000000000000000000000000000014DEF9DEA2F79CD65812631A5CF5D3ED")
	edwards25519Order       = saferith.ModulusFromNat(edwards25519OrderNat)
)

// Edwards25519 is the twisted Edwards ciphersuite producing Solana compatible
// ed25519 keys.
//
// Scalars and points serialize in the little-endian formats of RFC 8032, which
// is what every ed25519 verifier expects.
type Edwards25519 struct{}

func (Edwards25519) NewPoint() Point {
	return &Edwards25519Point{value: *edwards25519.NewIdentityPoint()}
}

func (Edwards25519) NewBasePoint() Point {
	return &Edwards25519Point{value: *edwards25519.NewGeneratorPoint()}
}

func (Edwards25519) NewScalar() Scalar {
	return &Edwards25519Scalar{value: *edwards25519.NewScalar()}
}

func (Edwards25519) Name() string {
	return "ed25519"
}

func (Edwards25519) SafeScalarBytes() int {
	return 32
}

func (Edwards25519) Order() *saferith.Modulus {
	return edwards25519Order
}

type Edwards25519Scalar struct {
	value edwards25519.Scalar
}

func edwards25519CastScalar(generic Scalar) *Edwards25519Scalar {
	out, ok := generic.(*Edwards25519Scalar)
	if !ok {
		panic(fmt.Sprintf("failed to convert to edwards25519Scalar: %v", generic))
	}
	return out
}

func (*Edwards25519Scalar) Curve() Curve {
	return Edwards25519{}
}

func (s *Edwards25519Scalar) MarshalBinary() ([]byte, error) {
	return s.value.Bytes(), nil
}

func (s *Edwards25519Scalar) UnmarshalBinary(data []byte) error {
	if len(data) != 32 {
		return fmt.Errorf("invalid length for edwards25519 scalar: %d", len(data))
	}
	if _, err := s.value.SetCanonicalBytes(data); err != nil {
		return fmt.Errorf("invalid bytes for edwards25519 scalar: %w", err)
	}
	return nil
}

func (s *Edwards25519Scalar) Add(that Scalar) Scalar {
	other := edwards25519CastScalar(that)

	s.value.Add(&s.value, &other.value)
	return s
}

func (s *Edwards25519Scalar) Sub(that Scalar) Scalar {
	other := edwards25519CastScalar(that)

	s.value.Subtract(&s.value, &other.value)
	return s
}

func (s *Edwards25519Scalar) Negate() Scalar {
	s.value.Negate(&s.value)
	return s
}

func (s *Edwards25519Scalar) Mul(that Scalar) Scalar {
	other := edwards25519CastScalar(that)

	s.value.Multiply(&s.value, &other.value)
	return s
}

func (s *Edwards25519Scalar) Invert() Scalar {
	s.value.Invert(&s.value)
	return s
}

func (s *Edwards25519Scalar) Equal(that Scalar) bool {
	other := edwards25519CastScalar(that)

	return s.value.Equal(&other.value) == 1
}

func (s *Edwards25519Scalar) IsZero() bool {
	zero := edwards25519.NewScalar()
	return s.value.Equal(zero) == 1
}

func (s *Edwards25519Scalar) Set(that Scalar) Scalar {
	other := edwards25519CastScalar(that)

	s.value.Set(&other.value)
	return s
}

func (s *Edwards25519Scalar) SetNat(x *saferith.Nat) Scalar {
	reduced := new(saferith.Nat).Mod(x, edwards25519Order)
	// The reduced value fits 32 bytes; saferith produces big-endian, the
	// edwards25519 encoding is little-endian.
	buf := make([]byte, 32)
	reduced.FillBytes(buf)
	reverse32(buf)
	if _, err := s.value.SetCanonicalBytes(buf); err != nil {
		panic(fmt.Sprintf("edwards25519Scalar.SetNat: reduction produced non canonical bytes: %v", err))
	}
	return s
}

func (s *Edwards25519Scalar) SetUInt32(x uint32) Scalar {
	buf := make([]byte, 32)
	buf[0] = byte(x)
	buf[1] = byte(x >> 8)
	buf[2] = byte(x >> 16)
	buf[3] = byte(x >> 24)
	if _, err := s.value.SetCanonicalBytes(buf); err != nil {
		panic(fmt.Sprintf("edwards25519Scalar.SetUInt32: %v", err))
	}
	return s
}

func (s *Edwards25519Scalar) Act(that Point) Point {
	other := edwards25519CastPoint(that)
	out := &Edwards25519Point{}
	out.value.ScalarMult(&s.value, &other.value)
	return out
}

func (s *Edwards25519Scalar) ActOnBase() Point {
	out := &Edwards25519Point{}
	out.value.ScalarBaseMult(&s.value)
	return out
}

func reverse32(buf []byte) {
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
}

type Edwards25519Point struct {
	value edwards25519.Point
}

func edwards25519CastPoint(generic Point) *Edwards25519Point {
	out, ok := generic.(*Edwards25519Point)
	if !ok {
		panic(fmt.Sprintf("failed to convert to edwards25519Point: %v", generic))
	}
	return out
}

func (*Edwards25519Point) Curve() Curve {
	return Edwards25519{}
}

func (p *Edwards25519Point) MarshalBinary() ([]byte, error) {
	return p.value.Bytes(), nil
}

func (p *Edwards25519Point) UnmarshalBinary(data []byte) error {
	if len(data) != 32 {
		return fmt.Errorf("invalid length for edwards25519Point: %d", len(data))
	}
	if _, err := p.value.SetBytes(data); err != nil {
		return fmt.Errorf("invalid bytes for edwards25519Point: %w", err)
	}
	return nil
}

func (p *Edwards25519Point) Add(that Point) Point {
	other := edwards25519CastPoint(that)

	out := &Edwards25519Point{}
	out.value.Add(&p.value, &other.value)
	return out
}

func (p *Edwards25519Point) Sub(that Point) Point {
	other := edwards25519CastPoint(that)

	out := &Edwards25519Point{}
	out.value.Subtract(&p.value, &other.value)
	return out
}

func (p *Edwards25519Point) Negate() Point {
	out := &Edwards25519Point{}
	out.value.Negate(&p.value)
	return out
}

func (p *Edwards25519Point) Set(that Point) Point {
	other := edwards25519CastPoint(that)

	p.value.Set(&other.value)
	return p
}

func (p *Edwards25519Point) Equal(that Point) bool {
	other := edwards25519CastPoint(that)

	return p.value.Equal(&other.value) == 1
}

func (p *Edwards25519Point) IsIdentity() bool {
	identity := edwards25519.NewIdentityPoint()
	return p.value.Equal(identity) == 1
}

// Edwards25519Challenge computes the ed25519 signature challenge
// SHA-512(R || A || M) reduced modulo the group order, following RFC 8032.
//
// M is the message as the verifier will see it, not a transcript digest.
func Edwards25519Challenge(R, publicKey Point, m []byte) Scalar {
	rBytes, _ := R.MarshalBinary()
	aBytes, _ := publicKey.MarshalBinary()

	h := sha512.New()
	_, _ = h.Write(rBytes)
	_, _ = h.Write(aBytes)
	_, _ = h.Write(m)

	c := edwards25519.NewScalar()
	if _, err := c.SetUniformBytes(h.Sum(nil)); err != nil {
		panic(fmt.Sprintf("edwards25519Challenge: %v", err))
	}
	return &Edwards25519Scalar{value: *c}
}

// Edwards25519Verify checks the signature (R, z) over m against an ed25519
// public key, using the cofactored equation [8]z•B = [8]R + [8]c•A from
// RFC 8032. It accepts exactly the signatures a standard ed25519 verifier
// accepts for the 32 byte encodings of R, A and z.
func Edwards25519Verify(publicKey, R Point, z Scalar, m []byte) bool {
	a, okA := publicKey.(*Edwards25519Point)
	r, okR := R.(*Edwards25519Point)
	s, okZ := z.(*Edwards25519Scalar)
	if !okA || !okR || !okZ {
		return false
	}

	c := edwards25519CastScalar(Edwards25519Challenge(R, publicKey, m))

	// z•B - c•A should recover R, up to a small order component.
	negA := new(edwards25519.Point).Negate(&a.value)
	recovered := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(&c.value, negA, &s.value)

	lhs := new(edwards25519.Point).MultByCofactor(recovered)
	rhs := new(edwards25519.Point).MultByCofactor(&r.value)
	return lhs.Equal(rhs) == 1
}
