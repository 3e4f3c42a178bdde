// Package frost implements the FROST threshold signature protocol:
//
//	https://eprint.iacr.org/2020/852.pdf
//
// Key generation establishes shares of a joint secret key among a set of
// participants; signing lets any subset of threshold + 1 of them produce a
// Schnorr signature without ever reconstructing the key.
package frost

import (
	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/protocol"
	"github.com/vaultmesh/frost-wallet/protocols/frost/keygen"
	"github.com/vaultmesh/frost-wallet/protocols/frost/sign"
)

type (
	Config        = keygen.Result
	TaprootConfig = keygen.TaprootResult
	Signature     = sign.Signature
)

// Keygen initiates the Frost key generation protocol.
//
// This protocol establishes a new threshold signature key among a set of
// participants. Later, a subset of these participants can create signatures
// for this public key, using the private shares created in this protocol.
//
// participants is a complete set of parties that will hold a share of the
// secret key. Future signers must come from this set.
//
// threshold is the number of participants that can be corrupted without
// breaking the security of the protocol. In the future, threshold + 1
// participants will need to cooperate to produce signatures.
//
// selfID is the identifier for the local party calling this function.
//
// This protocol corresponds to Figure 1 of the Frost paper:
//
//	https://eprint.iacr.org/2020/852.pdf
func Keygen(group curve.Curve, selfID party.ID, participants []party.ID, threshold int) protocol.StartFunc {
	return keygen.StartKeygenCommon(false, group, participants, threshold, selfID)
}

// KeygenTaproot is like Keygen, but will make Taproot / BIP-340 compatible keys.
//
// This will also return TaprootConfig instead of Config, at the end of the protocol.
//
// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki#specification
func KeygenTaproot(selfID party.ID, participants []party.ID, threshold int) protocol.StartFunc {
	return keygen.StartKeygenCommon(true, curve.Secp256k1{}, participants, threshold, selfID)
}

// Sign initiates the protocol for producing a threshold signature, with Frost.
//
// config is the result of the key generation phase, for this participant.
//
// signers is the list of all participants generating a signature together,
// including this participant.
//
// messageHash is the hash of the message a signature should be generated for.
//
// This protocol merges Figures 2 and 3 from the Frost paper. We merge the
// pre-processing and signing protocols into a single signing protocol which
// doesn't require any pre-processing.
//
// Another major difference is that there's no central "Signing Authority".
// Instead, each participant independently verifies and broadcasts items as
// necessary.
func Sign(config *Config, signers []party.ID, messageHash []byte) protocol.StartFunc {
	return sign.StartSignCommon(false, config, signers, messageHash)
}

// SignTaproot is like Sign, but will generate a Taproot / BIP-340 compatible signature.
//
// This needs the result of a Taproot compatible key generation phase, naturally.
//
// See: https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki
func SignTaproot(config *TaprootConfig, signers []party.ID, messageHash []byte) protocol.StartFunc {
	publicKey, err := curve.Secp256k1{}.LiftX(config.PublicKey)
	if err != nil {
		return func([]byte) (round.Session, error) {
			return nil, err
		}
	}
	genericVerificationShares := make(map[party.ID]curve.Point, len(config.VerificationShares))
	for k, v := range config.VerificationShares {
		genericVerificationShares[k] = v
	}
	normalConfig := &keygen.Result{
		Group:              curve.Secp256k1{},
		ID:                 config.ID,
		Threshold:          config.Threshold,
		Participants:       config.Participants,
		PrivateShare:       config.PrivateShare,
		PublicKey:          publicKey,
		ChainKey:           config.ChainKey,
		VerificationShares: genericVerificationShares,
	}
	return sign.StartSignCommon(true, normalConfig, signers, messageHash)
}
