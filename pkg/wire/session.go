package wire

import "time"

// Session control messages are transported over the signaling relay, framed
// like peer messages with their own discriminators.

const (
	TypeSessionProposal    Type = "session_proposal"
	TypeSessionResponse    Type = "session_response"
	TypeSessionUpdate      Type = "session_update"
	TypeSessionJoinRequest Type = "session_join_request"
	TypeSignal             Type = "signal"
)

// UpdateType describes what changed in a session's accepted set.
type UpdateType string

const (
	UpdateJoined   UpdateType = "joined"
	UpdateLeft     UpdateType = "left"
	UpdateRejoined UpdateType = "rejoined"
	UpdateFullSync UpdateType = "full_sync"
)

// SessionProposal invites a set of devices into a new ceremony.
type SessionProposal struct {
	Type           Type     `json:"webrtc_msg_type"`
	SessionID      string   `json:"session_id"`
	Proposer       string   `json:"proposer"`
	Threshold      int      `json:"threshold"`
	Total          int      `json:"total"`
	Participants   []string `json:"participants"`
	Kind           string   `json:"kind"`
	CiphersuiteTag string   `json:"ciphersuite_tag"`
	WalletID       string   `json:"wallet_id,omitempty"`
	GroupPublicKey []byte   `json:"group_public_key,omitempty"`
}

func (SessionProposal) MsgType() Type { return TypeSessionProposal }

// SessionResponse accepts or rejects a proposal.
type SessionResponse struct {
	Type      Type   `json:"webrtc_msg_type"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

func (SessionResponse) MsgType() Type { return TypeSessionResponse }

// SessionUpdate propagates membership changes to all participants.
type SessionUpdate struct {
	Type            Type       `json:"webrtc_msg_type"`
	SessionID       string     `json:"session_id"`
	AcceptedDevices []string   `json:"accepted_devices"`
	UpdateType      UpdateType `json:"update_type"`
	Timestamp       time.Time  `json:"timestamp"`
}

func (SessionUpdate) MsgType() Type { return TypeSessionUpdate }

// SessionJoinRequest asks to enter (or re-enter) an existing session.
type SessionJoinRequest struct {
	Type      Type   `json:"webrtc_msg_type"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	IsRejoin  bool   `json:"is_rejoin"`
}

func (SessionJoinRequest) MsgType() Type { return TypeSessionJoinRequest }

// Signal wraps an SDP offer/answer or ICE candidate for channel establishment.
type Signal struct {
	Type      Type   `json:"webrtc_msg_type"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	Kind      string `json:"kind"`
	Payload   []byte `json:"payload"`
}

func (Signal) MsgType() Type { return TypeSignal }
