package sign

import (
	"io"

	"github.com/vaultmesh/frost-wallet/pkg/hash"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
)

// messageHash is a wrapper around bytes to provide some domain separation.
type messageHash []byte

// WriteTo makes messageHash implement the io.WriterTo interface.
func (m messageHash) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m)
	return int64(n), err
}

// Domain implements hash.WriterToWithDomain, and separates this type within hash.Hash.
func (messageHash) Domain() string {
	return "messageHash"
}

// Signature represents the result of a Schnorr signature.
//
// This signature claims to satisfy:
//
//	z • G = R + H(R, Y, m) • Y
//
// for a public key Y.
type Signature struct {
	// R is the commitment point.
	R curve.Point
	// Z is the response scalar.
	Z curve.Scalar
}

// Verify checks if the signature equation actually holds.
//
// Note that m is the hash of a message, and not the message itself.
//
// For the ed25519 suite the check is the cofactored RFC 8032 equation, so
// that a signature accepted here is exactly a signature a standard ed25519
// verifier accepts.
func (sig Signature) Verify(public curve.Point, m []byte) bool {
	if sig.R == nil || sig.Z == nil || sig.R.IsIdentity() || sig.Z.IsZero() {
		return false
	}
	group := public.Curve()

	if isEdwards(group) {
		return curve.Edwards25519Verify(public, sig.R, sig.Z, m)
	}

	challengeHash := hash.New()
	_ = challengeHash.WriteAny(sig.R, public, messageHash(m))
	challenge := curve.FromHash(group, challengeHash.Sum())

	expected := challenge.Act(public).Add(sig.R)
	actual := sig.Z.ActOnBase()

	return actual.Equal(expected)
}

func isEdwards(group curve.Curve) bool {
	_, ok := group.(curve.Edwards25519)
	return ok
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (sig Signature) MarshalBinary() ([]byte, error) {
	rBytes, err := sig.R.MarshalBinary()
	if err != nil {
		return nil, err
	}
	zBytes, err := sig.Z.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(rBytes, zBytes...), nil
}

// EmptySignature returns a zero-valued signature over the given group, ready
// for UnmarshalBinary.
func EmptySignature(group curve.Curve) Signature {
	return Signature{
		R: group.NewPoint(),
		Z: group.NewScalar(),
	}
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// The receiver must have been created with EmptySignature.
func (sig *Signature) UnmarshalBinary(data []byte) error {
	pointBytes, err := sig.R.MarshalBinary()
	if err != nil {
		return err
	}
	if len(data) <= len(pointBytes) {
		return io.ErrUnexpectedEOF
	}
	if err := sig.R.UnmarshalBinary(data[:len(pointBytes)]); err != nil {
		return err
	}
	return sig.Z.UnmarshalBinary(data[len(pointBytes):])
}
