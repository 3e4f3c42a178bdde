package protocol

import (
	"fmt"

	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/pkg/party"
)

// Error is returned when a protocol run fails. It carries the round in which
// the failure occurred and, when it can be identified, the responsible party.
type Error struct {
	// RoundNumber where the error occurred.
	RoundNumber round.Number
	// Culprit is empty if the identity of the misbehaving party cannot be known.
	Culprit party.ID
	// Err is the underlying error.
	Err error
}

func (e Error) Error() string {
	if e.Culprit == "" {
		return fmt.Sprintf("round %d: %s", e.RoundNumber, e.Err)
	}
	return fmt.Sprintf("round %d: party: %s: %s", e.RoundNumber, e.Culprit, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}
