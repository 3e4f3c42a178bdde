package round

import (
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/party"
)

// Info contains static configuration for a protocol execution.
type Info struct {
	// ProtocolID is an identifier for this protocol.
	ProtocolID string
	// FinalRoundNumber is the number of rounds before the output round.
	FinalRoundNumber Number
	// SelfID is this party's ID.
	SelfID party.ID
	// PartyIDs is a sorted slice of participating parties in this protocol.
	PartyIDs []party.ID
	// Threshold is the maximum number of parties that are assumed to be corrupted
	// during the execution of this protocol.
	Threshold int
	// Group is the group used for this protocol execution.
	Group curve.Curve
}
