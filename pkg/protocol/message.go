package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/pkg/hash"
	"github.com/vaultmesh/frost-wallet/pkg/party"
)

var (
	ErrMessageNilContent         = errors.New("message: content is nil")
	ErrMessageWrongSSID          = errors.New("message: SSID mismatch")
	ErrMessageWrongProtocolID    = errors.New("message: wrong protocol ID")
	ErrMessageUnknownSender      = errors.New("message: unknown sender")
	ErrMessageWrongDestination   = errors.New("message: message is not intended for selfID")
	ErrMessageInvalidRoundNumber = errors.New("message: round number is invalid for this protocol")
	ErrMessageDuplicate          = errors.New("message: message was already handled")
)

// Message is the serialized envelope for a single round message, as it travels
// between parties.
type Message struct {
	// SSID is a byte string which uniquely identifies the session this message belongs to.
	SSID []byte `cbor:"ssid" json:"ssid"`
	// From is the party.ID of the sender.
	From party.ID `cbor:"from" json:"from"`
	// To is the intended recipient for this message.
	// If To == "", then the message should be interpreted as a broadcast message.
	To party.ID `cbor:"to" json:"to"`
	// Protocol identifies the protocol this message belongs to.
	Protocol string `cbor:"protocol" json:"protocol"`
	// RoundNumber is the index of the round this message belongs to.
	RoundNumber round.Number `cbor:"round_number" json:"round_number"`
	// Data is the serialized content consumed by the round.
	Data []byte `cbor:"data" json:"data"`
}

// String implements fmt.Stringer.
func (m Message) String() string {
	return fmt.Sprintf("message: round %d, from: %s, to: %v, protocol: %s", m.RoundNumber, m.From, m.To, m.Protocol)
}

// Broadcast returns true if the message should be reliably broadcast to all
// participants in the protocol.
func (m Message) Broadcast() bool {
	return m.To == ""
}

// IsFor returns true if the message is intended for the designated party.
func (m Message) IsFor(id party.ID) bool {
	if m.From == id {
		return false
	}
	return m.To == "" || m.To == id
}

// Validate performs basic sanity checks on the header.
func (m *Message) Validate() error {
	if m == nil || len(m.Data) == 0 {
		return ErrMessageNilContent
	}
	if err := m.From.Validate(); err != nil {
		return fmt.Errorf("message: from: %w", err)
	}
	return nil
}

// UnmarshalContent expects a non-nil content, and attempts to decode the
// message's data into it. The content's round number must match the header.
func (m *Message) UnmarshalContent(content round.Content) error {
	if err := cbor.Unmarshal(m.Data, content); err != nil {
		return fmt.Errorf("message: %w", err)
	}
	if m.RoundNumber != content.RoundNumber() {
		return ErrMessageInvalidRoundNumber
	}
	return nil
}

// Hash returns a 64 byte digest of the message, including the headers.
func (m Message) Hash() []byte {
	h := hash.New(
		hash.BytesWithDomain{TheDomain: "SSID", Bytes: m.SSID},
		m.From,
		m.To,
		hash.BytesWithDomain{TheDomain: "Protocol", Bytes: []byte(m.Protocol)},
		m.RoundNumber,
		hash.BytesWithDomain{TheDomain: "Content", Bytes: m.Data},
	)
	return h.Sum()
}
