// Package taproot implements BIP-340 Schnorr signatures over secp256k1.
//
// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki
package taproot

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
)

// TaggedHash adds some domain separation to SHA-256.
//
// This is the hash_tag function mentioned in BIP-340.
func TaggedHash(tag string, datas ...[]byte) []byte {
	tagSum := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagSum[:])
	h.Write(tagSum[:])
	for _, data := range datas {
		h.Write(data)
	}
	return h.Sum(nil)
}

// SecretKeyLength is the number of bytes in a SecretKey.
const SecretKeyLength = 32

// SecretKey represents a secret key for BIP-340 signatures.
type SecretKey []byte

// PublicKey represents an x-only public key for BIP-340 signatures.
//
// This is simply an array of 32 bytes.
type PublicKey []byte

// Public calculates the public key corresponding to a given secret key.
//
// This will return an error if the secret key is invalid.
func (s SecretKey) Public() (PublicKey, error) {
	scalar := new(curve.Secp256k1Scalar)
	if err := scalar.UnmarshalBinary(s); err != nil || scalar.IsZero() {
		return nil, fmt.Errorf("taproot: invalid secret key")
	}
	point := scalar.ActOnBase().(*curve.Secp256k1Point)
	return PublicKey(point.XBytes()), nil
}

// GenKey generates a new key-pair from a source of randomness.
func GenKey(rand io.Reader) (SecretKey, PublicKey, error) {
	for {
		secret := SecretKey(make([]byte, SecretKeyLength))
		if _, err := io.ReadFull(rand, secret); err != nil {
			return nil, nil, err
		}
		if public, err := secret.Public(); err == nil {
			return secret, public, nil
		}
	}
}

// SignatureLen is the number of bytes in a Signature.
const SignatureLen = 64

// Signature represents a 64 byte signature according to BIP-340.
type Signature []byte

// Verify checks the integrity of a signature, using an x-only public key.
//
// Note that m is the hash of a message, and not the message itself.
func (pk PublicKey) Verify(sig Signature, m []byte) bool {
	if len(sig) != SignatureLen {
		return false
	}

	P, err := curve.Secp256k1{}.LiftX(pk)
	if err != nil {
		return false
	}
	s := new(curve.Secp256k1Scalar)
	if err := s.UnmarshalBinary(sig[32:]); err != nil {
		return false
	}
	eHash := TaggedHash("BIP0340/challenge", sig[:32], pk, m)
	e := new(curve.Secp256k1Scalar)
	_ = e.UnmarshalBinary(eHash)

	R := s.ActOnBase()
	check := R.Sub(e.Act(P)).(*curve.Secp256k1Point)
	if check.IsIdentity() {
		return false
	}
	if !check.HasEvenY() {
		return false
	}
	return bytes.Equal(check.XBytes(), sig[:32])
}
