// Package wire defines the framed JSON messages exchanged between wallet
// nodes, both over peer channels and over the signaling relay.
//
// Every peer message carries a webrtc_msg_type discriminator. Encoding is
// canonical: identical inputs from any honest sender produce identical bytes.
package wire

import (
	"encoding/json"
	"fmt"
)

// Type discriminates peer messages on the wire.
type Type string

const (
	TypeChannelOpen         Type = "channel_open"
	TypeMeshReady           Type = "mesh_ready"
	TypeDkgRound1Package    Type = "dkg_round1_package"
	TypeDkgRound2Package    Type = "dkg_round2_package"
	TypeSigningRequest      Type = "signing_request"
	TypeSigningAcceptance   Type = "signing_acceptance"
	TypeSignerSelection     Type = "signer_selection"
	TypeSigningCommitment   Type = "signing_commitment"
	TypeSignatureShare      Type = "signature_share"
	TypeAggregatedSignature Type = "aggregated_signature"
	TypePing                Type = "ping"
	TypePong                Type = "pong"
)

// PeerMessage is implemented by every peer wire variant.
type PeerMessage interface {
	MsgType() Type
}

// ChannelOpen announces that the sender's side of the duplex channel is up.
type ChannelOpen struct {
	Type     Type   `json:"webrtc_msg_type"`
	DeviceID string `json:"device_id"`
}

func (ChannelOpen) MsgType() Type { return TypeChannelOpen }

// MeshReady signals that the sender observes a complete mesh for the session.
type MeshReady struct {
	Type      Type   `json:"webrtc_msg_type"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
}

func (MeshReady) MsgType() Type { return TypeMeshReady }

// DkgRound1Package carries a serialized round 1 key generation package.
type DkgRound1Package struct {
	Type      Type   `json:"webrtc_msg_type"`
	SessionID string `json:"session_id"`
	Package   []byte `json:"package"`
}

func (DkgRound1Package) MsgType() Type { return TypeDkgRound1Package }

// DkgRound2Package carries a serialized round 2 key generation package.
type DkgRound2Package struct {
	Type      Type   `json:"webrtc_msg_type"`
	SessionID string `json:"session_id"`
	Package   []byte `json:"package"`
}

func (DkgRound2Package) MsgType() Type { return TypeDkgRound2Package }

// SigningRequest asks the group to produce a signature over a payload.
type SigningRequest struct {
	Type            Type   `json:"webrtc_msg_type"`
	SigningID       string `json:"signing_id"`
	Payload         []byte `json:"payload"`
	RequiredSigners int    `json:"required_signers"`
	Blockchain      string `json:"blockchain"`
	ChainID         string `json:"chain_id,omitempty"`
}

func (SigningRequest) MsgType() Type { return TypeSigningRequest }

// SigningAcceptance is a participant's answer to a SigningRequest.
type SigningAcceptance struct {
	Type      Type   `json:"webrtc_msg_type"`
	SigningID string `json:"signing_id"`
	Accepted  bool   `json:"accepted"`
}

func (SigningAcceptance) MsgType() Type { return TypeSigningAcceptance }

// SignerSelection announces the deterministic signer set chosen by the initiator.
type SignerSelection struct {
	Type      Type     `json:"webrtc_msg_type"`
	SigningID string   `json:"signing_id"`
	Chosen    []uint16 `json:"chosen"`
}

func (SignerSelection) MsgType() Type { return TypeSignerSelection }

// SigningCommitment carries a signer's round 1 nonce commitments.
type SigningCommitment struct {
	Type        Type   `json:"webrtc_msg_type"`
	SigningID   string `json:"signing_id"`
	Sender      uint16 `json:"sender"`
	Commitments []byte `json:"commitments"`
}

func (SigningCommitment) MsgType() Type { return TypeSigningCommitment }

// SignatureShare carries a signer's round 2 partial signature.
type SignatureShare struct {
	Type      Type   `json:"webrtc_msg_type"`
	SigningID string `json:"signing_id"`
	Sender    uint16 `json:"sender"`
	Share     []byte `json:"share"`
}

func (SignatureShare) MsgType() Type { return TypeSignatureShare }

// AggregatedSignature carries the verified group signature.
type AggregatedSignature struct {
	Type      Type   `json:"webrtc_msg_type"`
	SigningID string `json:"signing_id"`
	Signature []byte `json:"signature"`
}

func (AggregatedSignature) MsgType() Type { return TypeAggregatedSignature }

// Ping is a liveness probe; the receiver answers with a Pong.
type Ping struct {
	Type     Type   `json:"webrtc_msg_type"`
	DeviceID string `json:"device_id"`
}

func (Ping) MsgType() Type { return TypePing }

// Pong answers a Ping.
type Pong struct {
	Type     Type   `json:"webrtc_msg_type"`
	DeviceID string `json:"device_id"`
}

func (Pong) MsgType() Type { return TypePong }

// EncodePeer frames a peer message, stamping the discriminator.
func EncodePeer(msg PeerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case *ChannelOpen:
		m.Type = m.MsgType()
	case *MeshReady:
		m.Type = m.MsgType()
	case *DkgRound1Package:
		m.Type = m.MsgType()
	case *DkgRound2Package:
		m.Type = m.MsgType()
	case *SigningRequest:
		m.Type = m.MsgType()
	case *SigningAcceptance:
		m.Type = m.MsgType()
	case *SignerSelection:
		m.Type = m.MsgType()
	case *SigningCommitment:
		m.Type = m.MsgType()
	case *SignatureShare:
		m.Type = m.MsgType()
	case *AggregatedSignature:
		m.Type = m.MsgType()
	case *SessionProposal:
		m.Type = m.MsgType()
	case *SessionResponse:
		m.Type = m.MsgType()
	case *SessionUpdate:
		m.Type = m.MsgType()
	case *SessionJoinRequest:
		m.Type = m.MsgType()
	case *Signal:
		m.Type = m.MsgType()
	case *Ping:
		m.Type = m.MsgType()
	case *Pong:
		m.Type = m.MsgType()
	default:
		return nil, fmt.Errorf("wire: unknown peer message %T", msg)
	}
	return json.Marshal(msg)
}

// DecodePeer parses a framed peer message according to its discriminator.
func DecodePeer(data []byte) (PeerMessage, error) {
	var probe struct {
		Type Type `json:"webrtc_msg_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("wire: invalid frame: %w", err)
	}

	var msg PeerMessage
	switch probe.Type {
	case TypeChannelOpen:
		msg = &ChannelOpen{}
	case TypeMeshReady:
		msg = &MeshReady{}
	case TypeDkgRound1Package:
		msg = &DkgRound1Package{}
	case TypeDkgRound2Package:
		msg = &DkgRound2Package{}
	case TypeSigningRequest:
		msg = &SigningRequest{}
	case TypeSigningAcceptance:
		msg = &SigningAcceptance{}
	case TypeSignerSelection:
		msg = &SignerSelection{}
	case TypeSigningCommitment:
		msg = &SigningCommitment{}
	case TypeSignatureShare:
		msg = &SignatureShare{}
	case TypeAggregatedSignature:
		msg = &AggregatedSignature{}
	case TypeSessionProposal:
		msg = &SessionProposal{}
	case TypeSessionResponse:
		msg = &SessionResponse{}
	case TypeSessionUpdate:
		msg = &SessionUpdate{}
	case TypeSessionJoinRequest:
		msg = &SessionJoinRequest{}
	case TypeSignal:
		msg = &Signal{}
	case TypePing:
		msg = &Ping{}
	case TypePong:
		msg = &Pong{}
	default:
		return nil, fmt.Errorf("wire: unknown webrtc_msg_type %q", probe.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("wire: decode %q: %w", probe.Type, err)
	}
	return msg, nil
}
