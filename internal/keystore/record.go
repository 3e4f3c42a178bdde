package keystore

import (
	"time"
)

// Current on-disk schema version.
const schemaVersion = "1.0"

// Encryption algorithm tags. Readers detect the tag; writers default to Argon2id.
const (
	AlgorithmArgon2id = "AES-256-GCM-Argon2id"
	AlgorithmPBKDF2   = "AES-256-GCM-PBKDF2"
)

// BlockchainInfo records a chain this wallet can derive addresses for.
type BlockchainInfo struct {
	Blockchain string `json:"blockchain"`
	Address    string `json:"address"`
	ChainID    string `json:"chain_id,omitempty"`
}

// Metadata is the unencrypted descriptive portion of a wallet file.
// It never contains key material and is safe to list without a password.
type Metadata struct {
	SessionID         string           `json:"session_id"`
	DeviceID          string           `json:"device_id"`
	CurveType         string           `json:"curve_type"`
	Blockchains       []BlockchainInfo `json:"blockchains"`
	Threshold         int              `json:"threshold"`
	TotalParticipants int              `json:"total_participants"`
	ParticipantIndex  int              `json:"participant_index"`
	GroupPublicKey    string           `json:"group_public_key"`
	CreatedAt         time.Time        `json:"created_at"`
	LastModified      time.Time        `json:"last_modified"`
}

// walletFile is the JSON schema of a single wallet on disk.
type walletFile struct {
	Version   string   `json:"version"`
	Encrypted bool     `json:"encrypted"`
	Algorithm string   `json:"algorithm"`
	Data      []byte   `json:"data"`
	Metadata  Metadata `json:"metadata"`
}

// WalletRecord is a wallet as handled in memory: metadata plus the serialized
// key material to protect.
type WalletRecord struct {
	WalletID string
	// CiphersuiteTag selects the per-suite subdirectory, e.g. "secp256k1".
	CiphersuiteTag string
	Metadata       Metadata
	// Plaintext is the serialized KeyPackage, PublicKeyPackage and session
	// metadata. It is what gets encrypted on disk.
	Plaintext []byte
}

// WalletInfo is the result of a listing: identity plus metadata, no secrets.
type WalletInfo struct {
	WalletID       string
	CiphersuiteTag string
	Metadata       Metadata
}
