package wire

import (
	"encoding/json"
	"fmt"
)

// Signaling message types, client to server.
const (
	SignalRegister    = "register"
	SignalListDevices = "list_devices"
	SignalRelay       = "relay"
)

// Signaling message types, server to client.
const (
	SignalDevices = "devices"
	SignalError   = "error"
)

// SignalingMessage is the single frame format on the signaling connection.
// The relay is transparent: the server never inspects Data.
type SignalingMessage struct {
	Kind string `json:"type"`
	// DeviceID identifies the sender on register.
	DeviceID string `json:"device_id,omitempty"`
	// To is the relay destination.
	To string `json:"to,omitempty"`
	// From is filled in by the server when relaying.
	From string `json:"from,omitempty"`
	// Data is the opaque relayed payload.
	Data []byte `json:"data,omitempty"`
	// Devices is the server's answer to a list request.
	Devices []string `json:"devices,omitempty"`
	// Error carries a server-side failure, such as "unknown device".
	Error string `json:"error,omitempty"`
}

// EncodeSignaling frames a signaling message.
func EncodeSignaling(msg *SignalingMessage) ([]byte, error) {
	if msg.Kind == "" {
		return nil, fmt.Errorf("wire: signaling message without type")
	}
	return json.Marshal(msg)
}

// DecodeSignaling parses a signaling frame.
func DecodeSignaling(data []byte) (*SignalingMessage, error) {
	msg := &SignalingMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("wire: invalid signaling frame: %w", err)
	}
	if msg.Kind == "" {
		return nil, fmt.Errorf("wire: signaling frame without type")
	}
	return msg, nil
}
