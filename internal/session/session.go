// Package session models group ceremonies: who proposed them, who is in
// them, who has accepted, and the frozen device → identifier mapping every
// node must agree on before a protocol round may start.
package session

import (
	"github.com/vaultmesh/frost-wallet/pkg/party"
)

// Kind distinguishes key generation ceremonies from signing ceremonies.
type Kind string

const (
	KindDKG     Kind = "dkg"
	KindSigning Kind = "signing"
)

// Coordination selects how protocol packages travel between participants.
type Coordination string

const (
	// CoordinationOnline exchanges packages over the live peer mesh.
	CoordinationOnline Coordination = "online"
	// CoordinationOffline exchanges packages as file envelopes on removable media.
	CoordinationOffline Coordination = "offline"
)

// Phase tracks where a session is in its lifecycle. The registry uses it to
// decide whether a rejoin is permissible.
type Phase string

const (
	// PhaseForming covers proposal, acceptance gathering and mesh formation.
	PhaseForming Phase = "forming"
	// PhaseRoundActive means a DKG or signing round is in flight.
	PhaseRoundActive Phase = "round_active"
	// PhaseCompleted means the ceremony finished, successfully or not.
	PhaseCompleted Phase = "completed"
)

// MaxParticipants bounds the size of a single session.
const MaxParticipants = 255

// Session is the in-memory model of one ceremony.
//
// Participants is sorted, so each device's protocol identifier is its 1-based
// rank within it. The mapping is not handed out until the session has been
// fully accepted once, after which it never changes.
type Session struct {
	ID           string
	Proposer     party.ID
	Threshold    int
	Participants party.IDSlice
	Accepted     party.IDSlice
	Rejected     party.IDSlice

	Kind           Kind
	CiphersuiteTag string
	Coordination   Coordination
	Phase          Phase

	// Signing sessions carry the wallet they sign for.
	WalletID       string
	GroupPublicKey []byte

	frozen      bool
	identifiers map[party.ID]int
}

// N returns the total number of participants.
func (s *Session) N() int { return len(s.Participants) }

// FullyAccepted reports whether every participant has accepted.
func (s *Session) FullyAccepted() bool {
	return len(s.Accepted) == len(s.Participants)
}

// Identifiers returns the frozen device → identifier map, or nil if the
// session has never been fully accepted.
func (s *Session) Identifiers() map[party.ID]int {
	if !s.frozen {
		return nil
	}
	out := make(map[party.ID]int, len(s.identifiers))
	for id, rank := range s.identifiers {
		out[id] = rank
	}
	return out
}

// freeze computes the identifier map from the sorted participant set.
// It runs at most once per session.
func (s *Session) freeze() {
	if s.frozen {
		return
	}
	s.identifiers = make(map[party.ID]int, len(s.Participants))
	for _, id := range s.Participants {
		s.identifiers[id] = s.Participants.Rank(id)
	}
	s.frozen = true
}

// clone returns a deep copy safe to hand outside the registry lock.
func (s *Session) clone() *Session {
	out := &Session{
		ID:             s.ID,
		Proposer:       s.Proposer,
		Threshold:      s.Threshold,
		Participants:   s.Participants.Copy(),
		Accepted:       s.Accepted.Copy(),
		Rejected:       s.Rejected.Copy(),
		Kind:           s.Kind,
		CiphersuiteTag: s.CiphersuiteTag,
		Coordination:   s.Coordination,
		Phase:          s.Phase,
		WalletID:       s.WalletID,
		frozen:         s.frozen,
	}
	if s.GroupPublicKey != nil {
		out.GroupPublicKey = append([]byte{}, s.GroupPublicKey...)
	}
	if s.identifiers != nil {
		out.identifiers = make(map[party.ID]int, len(s.identifiers))
		for id, rank := range s.identifiers {
			out.identifiers[id] = rank
		}
	}
	return out
}
