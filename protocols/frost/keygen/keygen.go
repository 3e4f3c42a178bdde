package keygen

import (
	"fmt"

	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/protocol"
)

const (
	// Frost KeyGen with Threshold.
	protocolID = "frost/keygen-threshold"
	// This protocol has 3 concrete rounds.
	protocolRounds round.Number = 3
)

// These assert that our rounds implement the round.Round interface.
var (
	_ round.Round = (*round1)(nil)
	_ round.Round = (*round2)(nil)
	_ round.Round = (*round3)(nil)
)

// StartKeygenCommon initiates the distributed key generation.
//
// Negative thresholds obviously make no sense. We need threshold + 1
// participants to sign, so if this number is larger than the set of all
// participants, we can't ever generate signatures, so the threshold makes no
// sense either.
func StartKeygenCommon(taproot bool, group curve.Curve, participants []party.ID, threshold int, selfID party.ID) protocol.StartFunc {
	return func(sessionID []byte) (round.Session, error) {
		if threshold < 0 || threshold >= len(participants) {
			return nil, fmt.Errorf("keygen.StartKeygen: invalid threshold: %d", threshold)
		}

		protocolString := protocolID
		if taproot {
			protocolString += "-taproot"
		}

		info := round.Info{
			ProtocolID:       protocolString,
			FinalRoundNumber: protocolRounds,
			SelfID:           selfID,
			PartyIDs:         participants,
			Threshold:        threshold,
			Group:            group,
		}
		helper, err := round.NewSession(info, sessionID)
		if err != nil {
			return nil, fmt.Errorf("keygen.StartKeygen: %w", err)
		}

		return &round1{
			Helper:    helper,
			taproot:   taproot,
			threshold: threshold,
		}, nil
	}
}
