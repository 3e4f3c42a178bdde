package keygen

import (
	"errors"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/vaultmesh/frost-wallet/internal/types"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/taproot"
)

// Result contains all the information produced after key generation, from the
// perspective of a single participant.
type Result struct {
	// Group is the elliptic curve group this key lives in.
	Group curve.Curve
	// ID is the identifier for this participant.
	ID party.ID
	// Threshold is the number of accepted corruptions while still being able to sign.
	Threshold int
	// Participants is the full set of parties holding a share of the secret key.
	// Future signers must come from this set, and identifiers are assigned by
	// rank within it.
	Participants party.IDSlice
	// PrivateShare is the fraction of the secret key owned by this participant.
	PrivateShare curve.Scalar
	// PublicKey is the shared public key for this consortium of signers.
	//
	// This key can be used to verify signatures produced by the consortium.
	PublicKey curve.Point
	// ChainKey is the additional randomness we've agreed upon.
	//
	// This is only ever useful if you do BIP-32 key derivation, or something similar.
	ChainKey types.RID
	// VerificationShares is a map between parties and a commitment to their private share.
	//
	// This will later be used to verify the integrity of the signing protocol.
	VerificationShares map[party.ID]curve.Point
}

// Curve returns the elliptic curve group associated with this result.
func (r *Result) Curve() curve.Curve {
	return r.Group
}

// Clone creates a deep clone of this struct and all the values contained inside.
func (r *Result) Clone() *Result {
	verificationSharesCopy := make(map[party.ID]curve.Point, len(r.VerificationShares))
	for k, v := range r.VerificationShares {
		verificationSharesCopy[k] = v
	}
	return &Result{
		Group:              r.Group,
		ID:                 r.ID,
		Threshold:          r.Threshold,
		Participants:       r.Participants.Copy(),
		PrivateShare:       r.Group.NewScalar().Set(r.PrivateShare),
		PublicKey:          r.PublicKey,
		ChainKey:           r.ChainKey.Copy(),
		VerificationShares: verificationSharesCopy,
	}
}

// PublicKeyPackage is the public portion of a Result. It is identical across
// all honest participants after a successful key generation.
type PublicKeyPackage struct {
	// PublicKey is the group's shared public key.
	PublicKey curve.Point
	// VerificationShares maps each participant to the commitment to their share.
	VerificationShares map[party.ID]curve.Point
}

// PublicKeyPackage extracts the public portion of the result.
func (r *Result) PublicKeyPackage() *PublicKeyPackage {
	shares := make(map[party.ID]curve.Point, len(r.VerificationShares))
	for k, v := range r.VerificationShares {
		shares[k] = v
	}
	return &PublicKeyPackage{
		PublicKey:          r.PublicKey,
		VerificationShares: shares,
	}
}

// Equal returns true if both packages commit to the same group key and the
// same verification shares.
func (p *PublicKeyPackage) Equal(other *PublicKeyPackage) bool {
	if other == nil || !p.PublicKey.Equal(other.PublicKey) {
		return false
	}
	if len(p.VerificationShares) != len(other.VerificationShares) {
		return false
	}
	for id, share := range p.VerificationShares {
		otherShare, ok := other.VerificationShares[id]
		if !ok || !share.Equal(otherShare) {
			return false
		}
	}
	return true
}

// MarshalBinary returns a stable serialization of the package: parties in
// sorted order, points compressed. Two equal packages marshal to identical bytes.
func (p *PublicKeyPackage) MarshalBinary() ([]byte, error) {
	ids := make([]party.ID, 0, len(p.VerificationShares))
	for id := range p.VerificationShares {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	publicKey, err := p.PublicKey.MarshalBinary()
	if err != nil {
		return nil, err
	}
	serialized := serializedPublicKeyPackage{
		PublicKey: publicKey,
	}
	for _, id := range ids {
		share, err := p.VerificationShares[id].MarshalBinary()
		if err != nil {
			return nil, err
		}
		serialized.Shares = append(serialized.Shares, serializedShare{ID: id, Share: share})
	}
	return cbor.Marshal(serialized)
}

// UnmarshalPublicKeyPackage decodes a stable serialization produced by
// MarshalBinary, for the given group.
func UnmarshalPublicKeyPackage(group curve.Curve, data []byte) (*PublicKeyPackage, error) {
	var serialized serializedPublicKeyPackage
	if err := cbor.Unmarshal(data, &serialized); err != nil {
		return nil, err
	}
	publicKey := group.NewPoint()
	if err := publicKey.UnmarshalBinary(serialized.PublicKey); err != nil {
		return nil, err
	}
	p := &PublicKeyPackage{
		PublicKey:          publicKey,
		VerificationShares: make(map[party.ID]curve.Point, len(serialized.Shares)),
	}
	for _, s := range serialized.Shares {
		point := group.NewPoint()
		if err := point.UnmarshalBinary(s.Share); err != nil {
			return nil, err
		}
		p.VerificationShares[s.ID] = point
	}
	return p, nil
}

type serializedShare struct {
	ID    party.ID `cbor:"id"`
	Share []byte   `cbor:"share"`
}

type serializedPublicKeyPackage struct {
	PublicKey []byte            `cbor:"public_key"`
	Shares    []serializedShare `cbor:"shares"`
}

type serializedResult struct {
	Group              string            `cbor:"group"`
	ID                 party.ID          `cbor:"id"`
	Threshold          int               `cbor:"threshold"`
	Participants       []party.ID        `cbor:"participants"`
	PrivateShare       []byte            `cbor:"private_share"`
	PublicKey          []byte            `cbor:"public_key"`
	ChainKey           []byte            `cbor:"chain_key"`
	VerificationShares []serializedShare `cbor:"verification_shares"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Result) MarshalBinary() ([]byte, error) {
	privateShare, err := r.PrivateShare.MarshalBinary()
	if err != nil {
		return nil, err
	}
	publicKey, err := r.PublicKey.MarshalBinary()
	if err != nil {
		return nil, err
	}
	serialized := serializedResult{
		Group:        r.Group.Name(),
		ID:           r.ID,
		Threshold:    r.Threshold,
		Participants: r.Participants,
		PrivateShare: privateShare,
		PublicKey:    publicKey,
		ChainKey:     r.ChainKey,
	}
	for _, id := range r.Participants {
		share, err := r.VerificationShares[id].MarshalBinary()
		if err != nil {
			return nil, err
		}
		serialized.VerificationShares = append(serialized.VerificationShares, serializedShare{ID: id, Share: share})
	}
	return cbor.Marshal(serialized)
}

// UnmarshalResult decodes a Result produced by MarshalBinary.
func UnmarshalResult(data []byte) (*Result, error) {
	var serialized serializedResult
	if err := cbor.Unmarshal(data, &serialized); err != nil {
		return nil, err
	}
	group, err := curve.FromName(serialized.Group)
	if err != nil {
		return nil, err
	}
	privateShare := group.NewScalar()
	if err := privateShare.UnmarshalBinary(serialized.PrivateShare); err != nil {
		return nil, err
	}
	publicKey := group.NewPoint()
	if err := publicKey.UnmarshalBinary(serialized.PublicKey); err != nil {
		return nil, err
	}
	chainKey := types.RID(serialized.ChainKey)
	if err := chainKey.Validate(); err != nil {
		return nil, err
	}
	r := &Result{
		Group:              group,
		ID:                 serialized.ID,
		Threshold:          serialized.Threshold,
		Participants:       party.NewIDSlice(serialized.Participants),
		PrivateShare:       privateShare,
		PublicKey:          publicKey,
		ChainKey:           chainKey,
		VerificationShares: make(map[party.ID]curve.Point, len(serialized.VerificationShares)),
	}
	for _, s := range serialized.VerificationShares {
		point := group.NewPoint()
		if err := point.UnmarshalBinary(s.Share); err != nil {
			return nil, err
		}
		r.VerificationShares[s.ID] = point
	}
	if len(r.VerificationShares) != len(r.Participants) {
		return nil, errors.New("keygen: result verification shares do not match participants")
	}
	return r, nil
}

// TaprootResult is like Result, but for Taproot / BIP-340 keys.
//
// The main difference is that our public key is an actual taproot public key.
type TaprootResult struct {
	// ID is the identifier for this participant.
	ID party.ID
	// Threshold is the number of accepted corruptions while still being able to sign.
	Threshold int
	// Participants is the full set of parties holding a share of the secret key.
	Participants party.IDSlice
	// PrivateShare is the fraction of the secret key owned by this participant.
	PrivateShare *curve.Secp256k1Scalar
	// PublicKey is the shared x-only public key for this consortium of signers.
	PublicKey taproot.PublicKey
	// ChainKey is the additional randomness we've agreed upon.
	ChainKey types.RID
	// VerificationShares is a map between parties and a commitment to their private share.
	VerificationShares map[party.ID]*curve.Secp256k1Point
}

// Clone creates a deep clone of this struct and all the values contained inside.
func (r *TaprootResult) Clone() *TaprootResult {
	publicKeyCopy := make(taproot.PublicKey, len(r.PublicKey))
	copy(publicKeyCopy, r.PublicKey)
	verificationSharesCopy := make(map[party.ID]*curve.Secp256k1Point, len(r.VerificationShares))
	for k, v := range r.VerificationShares {
		verificationSharesCopy[k] = v
	}
	return &TaprootResult{
		ID:                 r.ID,
		Threshold:          r.Threshold,
		Participants:       r.Participants.Copy(),
		PrivateShare:       curve.Secp256k1{}.NewScalar().Set(r.PrivateShare).(*curve.Secp256k1Scalar),
		PublicKey:          publicKeyCopy,
		ChainKey:           r.ChainKey.Copy(),
		VerificationShares: verificationSharesCopy,
	}
}
