package sign

import (
	"fmt"

	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/protocol"
	"github.com/vaultmesh/frost-wallet/protocols/frost/keygen"
)

const (
	// Frost Sign with Threshold.
	protocolID = "frost/sign-threshold"
	// This protocol has 3 concrete rounds.
	protocolRounds round.Number = 3
)

// These assert that our rounds implement the round.Round interface.
var (
	_ round.Round = (*round1)(nil)
	_ round.Round = (*round2)(nil)
	_ round.Round = (*round3)(nil)
)

// StartSignCommon initiates the signing protocol.
//
// result is the result of the key generation phase for this participant.
//
// signers is the list of parties generating the signature together, ourselves
// included. Every signer must be a member of the key's participant set, and at
// least threshold + 1 signers are required.
//
// messageHash is the hash of the message a signature should be generated for.
func StartSignCommon(taproot bool, result *keygen.Result, signers []party.ID, messageHash []byte) protocol.StartFunc {
	return func(sessionID []byte) (round.Session, error) {
		signerIDs := party.NewIDSlice(signers)
		if len(signerIDs) < result.Threshold+1 {
			return nil, fmt.Errorf("sign.StartSign: %d signers is less than threshold plus one %d", len(signerIDs), result.Threshold+1)
		}
		for _, id := range signerIDs {
			if !result.Participants.Contains(id) {
				return nil, fmt.Errorf("sign.StartSign: signer %s is not a key participant", id)
			}
		}

		info := round.Info{
			ProtocolID:       protocolID,
			FinalRoundNumber: protocolRounds,
			SelfID:           result.ID,
			PartyIDs:         signerIDs,
			Threshold:        result.Threshold,
			Group:            result.Group,
		}
		helper, err := round.NewSession(info, sessionID)
		if err != nil {
			return nil, fmt.Errorf("sign.StartSign: %w", err)
		}

		return &round1{
			Helper:  helper,
			taproot: taproot,
			M:       messageHash,
			Y:       result.PublicKey,
			YShares: result.VerificationShares,
			s_i:     result.PrivateShare,
			config:  result,
		}, nil
	}
}
