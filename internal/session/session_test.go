package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
)

func newTestRegistry(self party.ID) *Registry {
	return NewRegistry(self, clock.NewMock(), zerolog.Nop())
}

func proposeThree(t *testing.T, r *Registry) *Session {
	t.Helper()
	s, err := r.Propose(KindDKG, CoordinationOnline, 2,
		[]party.ID{"alice", "bob", "carol"}, "ed25519")
	require.NoError(t, err)
	return s
}

func TestProposeValidation(t *testing.T) {
	r := newTestRegistry("alice")

	_, err := r.Propose(KindDKG, CoordinationOnline, 0, []party.ID{"alice", "bob"}, "ed25519")
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = r.Propose(KindDKG, CoordinationOnline, 3, []party.ID{"alice", "bob"}, "ed25519")
	require.ErrorIs(t, err, ErrInvalidConfig)

	// proposer must be a participant
	_, err = r.Propose(KindDKG, CoordinationOnline, 1, []party.ID{"bob", "carol"}, "ed25519")
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = r.Propose(KindDKG, CoordinationOnline, 1, []party.ID{"alice", "alice"}, "ed25519")
	require.ErrorIs(t, err, ErrInvalidConfig)

	s, err := r.Propose(KindDKG, CoordinationOnline, 2, []party.ID{"alice", "bob", "carol"}, "ed25519")
	require.NoError(t, err)
	assert.Equal(t, party.ID("alice"), s.Proposer)
	assert.Equal(t, 3, s.N())
	assert.True(t, s.Accepted.Contains("alice"), "proposer counts as accepted")
	assert.Equal(t, PhaseForming, s.Phase)
}

func TestProposeParticipantBounds(t *testing.T) {
	r := newTestRegistry("d000")

	makeParties := func(n int) []party.ID {
		out := make([]party.ID, n)
		for i := range out {
			out[i] = party.ID(fmt.Sprintf("d%03d", i))
		}
		return out
	}

	_, err := r.Propose(KindDKG, CoordinationOnline, 2, makeParties(255), "secp256k1")
	require.NoError(t, err, "255 participants is the maximum, not beyond it")

	_, err = r.Propose(KindDKG, CoordinationOnline, 2, makeParties(256), "secp256k1")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAcceptFreezesIdentifiers(t *testing.T) {
	r := newTestRegistry("alice")
	s := proposeThree(t, r)

	snap, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.Identifiers(), "no identifiers before full acceptance")

	require.NoError(t, r.Accept(s.ID, "bob"))
	require.NoError(t, r.Accept(s.ID, "bob"), "accepting twice is a no-op")
	require.NoError(t, r.Accept(s.ID, "carol"))

	snap, err = r.Snapshot(s.ID)
	require.NoError(t, err)
	require.True(t, snap.FullyAccepted())
	ids := snap.Identifiers()
	require.NotNil(t, ids)
	assert.Equal(t, map[party.ID]int{"alice": 1, "bob": 2, "carol": 3}, ids)
}

func TestAcceptUnknownDevice(t *testing.T) {
	r := newTestRegistry("alice")
	s := proposeThree(t, r)

	require.ErrorIs(t, r.Accept(s.ID, "mallory"), ErrUnknownDevice)
	require.ErrorIs(t, r.Accept("no-such-session", "bob"), ErrUnknownSession)
}

func TestSecondFullAcceptanceRefused(t *testing.T) {
	r := newTestRegistry("alice")
	s := proposeThree(t, r)
	require.NoError(t, r.Accept(s.ID, "bob"))
	require.NoError(t, r.Accept(s.ID, "carol"))

	// bob drops out after the freeze
	require.NoError(t, r.ApplyUpdate(wire.SessionUpdate{
		SessionID:       s.ID,
		AcceptedDevices: []string{"bob"},
		UpdateType:      wire.UpdateLeft,
	}))

	// a plain accept cannot restore full acceptance
	require.ErrorIs(t, r.Accept(s.ID, "bob"), ErrAlreadyComplete)

	// a rejoin update can, and the identifier map is unchanged
	require.NoError(t, r.ApplyUpdate(wire.SessionUpdate{
		SessionID:       s.ID,
		AcceptedDevices: []string{"bob"},
		UpdateType:      wire.UpdateRejoined,
	}))
	snap, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	assert.True(t, snap.FullyAccepted())
	assert.Equal(t, map[party.ID]int{"alice": 1, "bob": 2, "carol": 3}, snap.Identifiers())
}

func TestRejoinForbiddenDuringActiveRound(t *testing.T) {
	r := newTestRegistry("alice")
	s := proposeThree(t, r)
	require.NoError(t, r.Accept(s.ID, "bob"))
	require.NoError(t, r.Accept(s.ID, "carol"))
	require.NoError(t, r.SetPhase(s.ID, PhaseRoundActive))

	require.NoError(t, r.ApplyUpdate(wire.SessionUpdate{
		SessionID:       s.ID,
		AcceptedDevices: []string{"carol"},
		UpdateType:      wire.UpdateLeft,
	}))
	err := r.ApplyUpdate(wire.SessionUpdate{
		SessionID:       s.ID,
		AcceptedDevices: []string{"carol"},
		UpdateType:      wire.UpdateRejoined,
	})
	require.ErrorIs(t, err, ErrRejoinForbidden)

	// after the round completes the rejoin goes through
	require.NoError(t, r.SetPhase(s.ID, PhaseCompleted))
	require.NoError(t, r.ApplyUpdate(wire.SessionUpdate{
		SessionID:       s.ID,
		AcceptedDevices: []string{"carol"},
		UpdateType:      wire.UpdateRejoined,
	}))
}

func TestRejectRemovesAcceptance(t *testing.T) {
	r := newTestRegistry("alice")
	s := proposeThree(t, r)
	require.NoError(t, r.Accept(s.ID, "bob"))
	require.NoError(t, r.Reject(s.ID, "bob"))

	snap, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	assert.False(t, snap.Accepted.Contains("bob"))
	assert.True(t, snap.Rejected.Contains("bob"))
}

func TestAdmitRemoteProposal(t *testing.T) {
	r := newTestRegistry("bob")

	p := wire.SessionProposal{
		SessionID:      "s-1",
		Proposer:       "alice",
		Threshold:      2,
		Total:          3,
		Participants:   []string{"alice", "bob", "carol"},
		Kind:           string(KindDKG),
		CiphersuiteTag: "secp256k1",
	}
	s, err := r.Admit(p)
	require.NoError(t, err)
	assert.Equal(t, "s-1", s.ID)
	assert.True(t, s.Accepted.Contains("alice"), "remote proposer counts as accepted")

	_, err = r.Admit(p)
	require.ErrorIs(t, err, ErrDuplicateSession)

	p.SessionID = "s-2"
	p.Participants = []string{"alice", "carol", "dave"}
	_, err = r.Admit(p)
	require.ErrorIs(t, err, ErrUnknownDevice, "proposals not naming this device are refused")

	p.SessionID = "s-3"
	p.Participants = []string{"alice", "bob", "carol"}
	p.Total = 4
	_, err = r.Admit(p)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFullSyncUpdate(t *testing.T) {
	r := newTestRegistry("alice")
	s := proposeThree(t, r)

	require.NoError(t, r.ApplyUpdate(wire.SessionUpdate{
		SessionID:       s.ID,
		AcceptedDevices: []string{"alice", "bob"},
		UpdateType:      wire.UpdateFullSync,
	}))
	snap, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, party.NewIDSlice([]party.ID{"alice", "bob"}), snap.Accepted)

	err = r.ApplyUpdate(wire.SessionUpdate{
		SessionID:       s.ID,
		AcceptedDevices: []string{"alice", "mallory"},
		UpdateType:      wire.UpdateFullSync,
	})
	require.ErrorIs(t, err, ErrUnknownDevice)
}

func TestUpdateFor(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	r := NewRegistry("alice", clk, zerolog.Nop())

	s, err := r.Propose(KindDKG, CoordinationOnline, 2, []party.ID{"alice", "bob", "carol"}, "ed25519")
	require.NoError(t, err)
	require.NoError(t, r.Accept(s.ID, "bob"))

	u, err := r.UpdateFor(s.ID, wire.UpdateJoined)
	require.NoError(t, err)
	assert.Equal(t, s.ID, u.SessionID)
	assert.Equal(t, []string{"alice", "bob"}, u.AcceptedDevices)
	assert.Equal(t, clk.Now().UTC(), u.Timestamp)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	r := newTestRegistry("alice")
	s := proposeThree(t, r)

	snap, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	snap.Accepted = append(snap.Accepted, "mallory")

	again, err := r.Snapshot(s.ID)
	require.NoError(t, err)
	assert.False(t, again.Accepted.Contains("mallory"))
}
