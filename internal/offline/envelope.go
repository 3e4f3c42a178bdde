// Package offline moves protocol packages between air-gapped devices as
// self-contained file envelopes on removable media.
package offline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/vaultmesh/frost-wallet/pkg/party"
)

// Version of the envelope schema.
const Version = "1"

// Broadcast is the wildcard recipient.
const Broadcast party.ID = "*"

// Kind names the protocol package an envelope carries.
type Kind string

const (
	KindDkgRound1           Kind = "dkg_round1"
	KindDkgRound2           Kind = "dkg_round2"
	KindSignRequest         Kind = "sign_request"
	KindSignCommit          Kind = "sign_commit"
	KindSignShare           Kind = "sign_share"
	KindAggregatedSignature Kind = "aggregated_signature"
)

var validKinds = map[Kind]struct{}{
	KindDkgRound1:           {},
	KindDkgRound2:           {},
	KindSignRequest:         {},
	KindSignCommit:          {},
	KindSignShare:           {},
	KindAggregatedSignature: {},
}

var (
	// ErrChecksumMismatch is returned when the payload hash does not match.
	ErrChecksumMismatch = errors.New("offline: checksum mismatch")
	// ErrExpired is returned for an envelope past its expiry.
	ErrExpired = errors.New("offline: envelope expired")
	// ErrMalformed is returned when required fields are missing or invalid.
	ErrMalformed = errors.New("offline: malformed envelope")
)

// Envelope is the on-disk JSON frame. Payload is base64 on the wire through
// the standard JSON encoding of byte slices; ExpiresAt is RFC 3339.
//
// From and To carry the same party identifiers the online transport uses, so
// an envelope addresses exactly one protocol participant or everyone.
type Envelope struct {
	Version   string    `json:"version"`
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	From      party.ID  `json:"from"`
	To        party.ID  `json:"to"`
	Payload   []byte    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
	Checksum  string    `json:"checksum"`
}

// NewEnvelope seals a payload, computing its checksum.
func NewEnvelope(sessionID string, kind Kind, from, to party.ID, payload []byte, expiresAt time.Time) *Envelope {
	return &Envelope{
		Version:   Version,
		SessionID: sessionID,
		Kind:      kind,
		From:      from,
		To:        to,
		Payload:   payload,
		ExpiresAt: expiresAt,
		Checksum:  checksum(payload),
	}
}

// Validate checks the schema and the payload integrity. Expiry is checked
// separately because it depends on the reader's clock.
func (e *Envelope) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("%w: unsupported version %q", ErrMalformed, e.Version)
	}
	if e.SessionID == "" || e.From == "" || e.To == "" {
		return fmt.Errorf("%w: missing session or addressing fields", ErrMalformed)
	}
	if _, ok := validKinds[e.Kind]; !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, e.Kind)
	}
	if e.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expiry", ErrMalformed)
	}
	if e.Checksum != checksum(e.Payload) {
		return ErrChecksumMismatch
	}
	return nil
}

// IsFor reports whether the envelope addresses the given device, directly or
// by broadcast. Own envelopes coming back from a shared directory do not
// count.
func (e *Envelope) IsFor(device party.ID) bool {
	if e.From == device {
		return false
	}
	return e.To == Broadcast || e.To == device
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
