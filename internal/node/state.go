package node

import (
	"fmt"

	"github.com/vaultmesh/frost-wallet/internal/keystore"
	"github.com/vaultmesh/frost-wallet/internal/mesh"
	"github.com/vaultmesh/frost-wallet/internal/session"
)

// DkgState is the lifecycle of one key generation ceremony.
type DkgState string

const (
	DkgIdle             DkgState = "idle"
	DkgRound1InProgress DkgState = "round1_in_progress"
	DkgRound1Complete   DkgState = "round1_complete"
	DkgRound2InProgress DkgState = "round2_in_progress"
	DkgRound2Complete   DkgState = "round2_complete"
	DkgFinalizing       DkgState = "finalizing"
	DkgComplete         DkgState = "complete"
	DkgFailed           DkgState = "failed"
)

// SigningState is the lifecycle of one signing ceremony.
type SigningState string

const (
	SigningIdle               SigningState = "idle"
	SigningAwaitingAcceptance SigningState = "awaiting_acceptance"
	SigningSignerSelection    SigningState = "signer_selection"
	SigningCommitmentPhase    SigningState = "commitment_phase"
	SigningSharePhase         SigningState = "share_phase"
	SigningComplete           SigningState = "complete"
	SigningFailed             SigningState = "failed"
)

// DkgStatus is the observable DKG state.
type DkgStatus struct {
	State    DkgState
	Reason   string
	WalletID string
}

// SigningStatus is the observable signing state.
type SigningStatus struct {
	State     SigningState
	SigningID string
	Reason    string
	Signature []byte
}

// AppState is the observable view of one node, pushed to the UI collaborator
// after every mutation. It is a value: observers may retain it.
type AppState struct {
	DeviceID  string
	SessionID string
	Session   *session.Session
	Mesh      mesh.Status
	Dkg       DkgStatus
	Signing   SigningStatus
	Wallets   []keystore.WalletInfo
	// Notification is the most recent single-line, user-facing message.
	Notification string
}

// validateDkgTransition enforces the composite invariant: a DKG state other
// than Idle requires an active session with a ready mesh. Commands that would
// violate it are refused before any mutation.
func (s *AppState) validateDkgTransition(next DkgState) error {
	if next == DkgIdle {
		return nil
	}
	if s.Session == nil {
		return fmt.Errorf("node: dkg state %s requires an active session", next)
	}
	if next == DkgRound1InProgress && s.Mesh.State != mesh.Ready {
		return fmt.Errorf("node: dkg cannot start before the mesh is ready")
	}
	return nil
}

// dkgSpecRound maps the internal state to the user-facing round number used
// in failure reasons.
func dkgSpecRound(s DkgState) int {
	switch s {
	case DkgRound2InProgress, DkgRound2Complete, DkgFinalizing:
		return 2
	default:
		return 1
	}
}
