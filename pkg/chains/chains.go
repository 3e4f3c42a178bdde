// Package chains derives blockchain addresses from group public keys.
package chains

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"

	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
)

// Entry names one chain a key can receive funds on.
type Entry struct {
	Blockchain string
	Address    string
	ChainID    string
}

// EthereumAddress returns the 0x-prefixed address for a secp256k1 group key:
// the last 20 bytes of keccak256 over the uncompressed point body.
func EthereumAddress(pk curve.Point) (string, error) {
	p, ok := pk.(*curve.Secp256k1Point)
	if !ok {
		return "", fmt.Errorf("chains: ethereum requires a secp256k1 key, got %T", pk)
	}
	compressed, err := p.MarshalBinary()
	if err != nil {
		return "", err
	}
	parsed, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return "", fmt.Errorf("chains: parse public key: %w", err)
	}
	uncompressed := parsed.SerializeUncompressed()

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(uncompressed[1:])
	sum := hasher.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:]), nil
}

// BitcoinTaprootKey returns the hex x-only taproot output key for a secp256k1
// group key. Encoding it as a bech32m address is left to wallet frontends.
func BitcoinTaprootKey(pk curve.Point) (string, error) {
	p, ok := pk.(*curve.Secp256k1Point)
	if !ok {
		return "", fmt.Errorf("chains: bitcoin requires a secp256k1 key, got %T", pk)
	}
	return hex.EncodeToString(p.XBytes()), nil
}

// SolanaAddress returns the base58 encoding of a compressed ed25519 group key.
func SolanaAddress(pk curve.Point) (string, error) {
	if _, ok := pk.(*curve.Edwards25519Point); !ok {
		return "", fmt.Errorf("chains: solana requires an ed25519 key, got %T", pk)
	}
	data, err := pk.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base58.Encode(data), nil
}

// Derive returns every address the given group key supports. Unknown curves
// yield an empty list.
func Derive(pk curve.Point) []Entry {
	var out []Entry
	switch pk.(type) {
	case *curve.Secp256k1Point:
		if addr, err := EthereumAddress(pk); err == nil {
			out = append(out, Entry{Blockchain: "ethereum", Address: addr, ChainID: "1"})
		}
		if key, err := BitcoinTaprootKey(pk); err == nil {
			out = append(out, Entry{Blockchain: "bitcoin", Address: key})
		}
	case *curve.Edwards25519Point:
		if addr, err := SolanaAddress(pk); err == nil {
			out = append(out, Entry{Blockchain: "solana", Address: addr})
		}
	}
	return out
}
