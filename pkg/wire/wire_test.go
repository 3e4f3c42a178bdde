package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerRoundTrip(t *testing.T) {
	messages := []PeerMessage{
		&ChannelOpen{DeviceID: "alice"},
		&MeshReady{SessionID: "s1", DeviceID: "bob"},
		&DkgRound1Package{SessionID: "s1", Package: []byte{1, 2, 3}},
		&DkgRound2Package{SessionID: "s1", Package: []byte{4, 5}},
		&SigningRequest{SigningID: "sig1", Payload: make([]byte, 32), RequiredSigners: 2, Blockchain: "ethereum", ChainID: "1"},
		&SigningAcceptance{SigningID: "sig1", Accepted: true},
		&SignerSelection{SigningID: "sig1", Chosen: []uint16{1, 2}},
		&SigningCommitment{SigningID: "sig1", Sender: 1, Commitments: []byte{9}},
		&SignatureShare{SigningID: "sig1", Sender: 2, Share: []byte{8}},
		&AggregatedSignature{SigningID: "sig1", Signature: make([]byte, 64)},
		&SessionProposal{SessionID: "s1", Proposer: "alice", Threshold: 2, Total: 3, Participants: []string{"alice", "bob", "carol"}, Kind: "dkg", CiphersuiteTag: "ed25519"},
		&SessionResponse{SessionID: "s1", DeviceID: "bob", Accepted: false, Reason: "busy"},
		&SessionUpdate{SessionID: "s1", AcceptedDevices: []string{"alice"}, UpdateType: UpdateJoined, Timestamp: time.Unix(1700000000, 0).UTC()},
		&SessionJoinRequest{SessionID: "s1", DeviceID: "carol", IsRejoin: true},
		&Signal{SessionID: "s1", DeviceID: "alice", Kind: "offer", Payload: []byte("sdp")},
	}

	for _, original := range messages {
		data, err := EncodePeer(original)
		require.NoError(t, err)

		decoded, err := DecodePeer(data)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)

		// Canonical: re-encoding the decoded message yields identical bytes.
		again, err := EncodePeer(decoded)
		require.NoError(t, err)
		assert.Equal(t, data, again)
	}
}

func TestDecodePeerUnknownType(t *testing.T) {
	_, err := DecodePeer([]byte(`{"webrtc_msg_type":"bogus"}`))
	assert.Error(t, err)

	_, err = DecodePeer([]byte(`not json`))
	assert.Error(t, err)
}

func TestSignalingRoundTrip(t *testing.T) {
	messages := []*SignalingMessage{
		{Kind: SignalRegister, DeviceID: "alice"},
		{Kind: SignalListDevices},
		{Kind: SignalRelay, To: "bob", Data: []byte("hello")},
		{Kind: SignalDevices, Devices: []string{"alice", "bob"}},
		{Kind: SignalRelay, From: "alice", Data: []byte("hello")},
		{Kind: SignalError, Error: "unknown device"},
	}
	for _, original := range messages {
		data, err := EncodeSignaling(original)
		require.NoError(t, err)
		decoded, err := DecodeSignaling(data)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	}
}
