package chains

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/sample"
)

func TestEthereumAddress(t *testing.T) {
	pk := sample.Scalar(rand.Reader, curve.Secp256k1{}).ActOnBase()

	addr, err := EthereumAddress(pk)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 42)
	_, err = hex.DecodeString(addr[2:])
	require.NoError(t, err)

	// deterministic for the same key
	again, err := EthereumAddress(pk)
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	_, err = EthereumAddress(sample.Scalar(rand.Reader, curve.Edwards25519{}).ActOnBase())
	require.Error(t, err)
}

func TestBitcoinTaprootKey(t *testing.T) {
	pk := sample.Scalar(rand.Reader, curve.Secp256k1{}).ActOnBase()

	key, err := BitcoinTaprootKey(pk)
	require.NoError(t, err)
	assert.Len(t, key, 64, "32-byte x-only key in hex")

	raw, err := hex.DecodeString(key)
	require.NoError(t, err)
	assert.Equal(t, pk.(*curve.Secp256k1Point).XBytes(), raw)
}

func TestSolanaAddress(t *testing.T) {
	pk := sample.Scalar(rand.Reader, curve.Edwards25519{}).ActOnBase()

	addr, err := SolanaAddress(pk)
	require.NoError(t, err)

	decoded, err := base58.Decode(addr)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	_, err = SolanaAddress(sample.Scalar(rand.Reader, curve.Secp256k1{}).ActOnBase())
	require.Error(t, err)
}

func TestDerive(t *testing.T) {
	secp := sample.Scalar(rand.Reader, curve.Secp256k1{}).ActOnBase()
	entries := Derive(secp)
	require.Len(t, entries, 2)
	assert.Equal(t, "ethereum", entries[0].Blockchain)
	assert.Equal(t, "1", entries[0].ChainID)
	assert.Equal(t, "bitcoin", entries[1].Blockchain)

	ed := sample.Scalar(rand.Reader, curve.Edwards25519{}).ActOnBase()
	entries = Derive(ed)
	require.Len(t, entries, 1)
	assert.Equal(t, "solana", entries[0].Blockchain)
}
