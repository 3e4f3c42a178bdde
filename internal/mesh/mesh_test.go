package mesh

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
)

type sentMessage struct {
	to  party.ID
	msg wire.PeerMessage
}

type recorder struct {
	mtx  sync.Mutex
	sent []sentMessage
}

func (r *recorder) send(to party.ID, msg wire.PeerMessage) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.sent = append(r.sent, sentMessage{to: to, msg: msg})
	return nil
}

func (r *recorder) byType(t wire.Type) []sentMessage {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var out []sentMessage
	for _, m := range r.sent {
		if m.msg.MsgType() == t {
			out = append(out, m)
		}
	}
	return out
}

func newTestCoordinator(rec *recorder, ready *int, lost *[]party.ID) *Coordinator {
	return NewCoordinator(Config{
		Self:         "alice",
		SessionID:    "s-1",
		Participants: party.NewIDSlice([]party.ID{"alice", "bob", "carol"}),
		Send:         rec.send,
		OnReady: func() {
			if ready != nil {
				*ready++
			}
		},
		OnPeerLost: func(id party.ID) {
			if lost != nil {
				*lost = append(*lost, id)
			}
		},
		Logger: zerolog.Nop(),
	})
}

func TestReadinessProtocol(t *testing.T) {
	rec := &recorder{}
	var readyCount int
	c := newTestCoordinator(rec, &readyCount, nil)

	// channels alone do not trigger readiness
	c.ChannelOpened("bob")
	c.ChannelOpened("carol")
	assert.Empty(t, rec.byType(wire.TypeMeshReady))
	assert.Equal(t, Incomplete, c.Status().State)

	// full acceptance with all channels open announces readiness once
	c.SetFullyAccepted()
	readies := rec.byType(wire.TypeMeshReady)
	require.Len(t, readies, 2)
	for _, m := range readies {
		ready := m.msg.(*wire.MeshReady)
		assert.Equal(t, "s-1", ready.SessionID)
		assert.Equal(t, "alice", ready.DeviceID)
	}

	c.HandleMeshReady(wire.MeshReady{SessionID: "s-1", DeviceID: "bob"})
	assert.Equal(t, PartiallyReady, c.Status().State)
	assert.Equal(t, 0, readyCount)

	c.HandleMeshReady(wire.MeshReady{SessionID: "s-1", DeviceID: "carol"})
	assert.Equal(t, Ready, c.Status().State)
	assert.Equal(t, 1, readyCount)
}

func TestDuplicateMeshReadyIdempotent(t *testing.T) {
	rec := &recorder{}
	var readyCount int
	c := newTestCoordinator(rec, &readyCount, nil)

	c.ChannelOpened("bob")
	c.ChannelOpened("carol")
	c.SetFullyAccepted()
	sentBefore := len(rec.byType(wire.TypeMeshReady))

	c.HandleMeshReady(wire.MeshReady{SessionID: "s-1", DeviceID: "bob"})
	c.HandleMeshReady(wire.MeshReady{SessionID: "s-1", DeviceID: "bob"})
	c.HandleMeshReady(wire.MeshReady{SessionID: "s-1", DeviceID: "carol"})
	c.HandleMeshReady(wire.MeshReady{SessionID: "s-1", DeviceID: "carol"})

	assert.Equal(t, 1, readyCount, "mesh state advances at most once")
	assert.Len(t, rec.byType(wire.TypeMeshReady), sentBefore, "no message is sent twice in response")
}

func TestMeshReadyWrongSessionDropped(t *testing.T) {
	rec := &recorder{}
	var readyCount int
	c := newTestCoordinator(rec, &readyCount, nil)
	c.ChannelOpened("bob")
	c.ChannelOpened("carol")
	c.SetFullyAccepted()

	c.HandleMeshReady(wire.MeshReady{SessionID: "other", DeviceID: "bob"})
	c.HandleMeshReady(wire.MeshReady{SessionID: "s-1", DeviceID: "mallory"})
	assert.Equal(t, Incomplete, c.Status().State)
}

func TestReadinessWaitsForAllChannels(t *testing.T) {
	rec := &recorder{}
	c := newTestCoordinator(rec, nil, nil)

	c.SetFullyAccepted()
	c.ChannelOpened("bob")
	assert.Empty(t, rec.byType(wire.TypeMeshReady), "one channel still connecting")

	c.ChannelOpened("carol")
	assert.Len(t, rec.byType(wire.TypeMeshReady), 2)
}

func TestChannelClosedReportsLoss(t *testing.T) {
	rec := &recorder{}
	var lost []party.ID
	c := newTestCoordinator(rec, nil, &lost)

	c.ChannelOpened("bob")
	c.ChannelClosed("bob")
	c.ChannelClosed("bob")
	assert.Equal(t, []party.ID{"bob"}, lost, "loss reported once per open channel")

	// closing a channel that never opened is not a loss
	c.ChannelClosed("carol")
	assert.Len(t, lost, 1)
}

func TestEarlyBufferCap(t *testing.T) {
	rec := &recorder{}
	c := newTestCoordinator(rec, nil, nil)

	c.BufferEarly("bob", 1, []byte("first"))
	c.BufferEarly("bob", 1, []byte("second"))
	c.BufferEarly("carol", 1, []byte("third"))
	c.BufferEarly("bob", 2, []byte("future"))

	round1 := c.DrainEarly(1)
	require.Len(t, round1, 2)
	assert.Equal(t, party.ID("bob"), round1[0].From)
	assert.Equal(t, []byte("second"), round1[0].Data, "newer message replaces older")
	assert.Equal(t, party.ID("carol"), round1[1].From)

	assert.Empty(t, c.DrainEarly(1), "drained slots are cleared")

	round2 := c.DrainEarly(2)
	require.Len(t, round2, 1)
	assert.Equal(t, []byte("future"), round2[0].Data)
}

func TestHeartbeatMarksSilentPeerClosed(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewMock()
	var lost []party.ID
	var mtx sync.Mutex

	c := NewCoordinator(Config{
		Self:         "alice",
		SessionID:    "s-1",
		Participants: party.NewIDSlice([]party.ID{"alice", "bob"}),
		Send:         rec.send,
		OnPeerLost: func(id party.ID) {
			mtx.Lock()
			lost = append(lost, id)
			mtx.Unlock()
		},
		Clock:             clk,
		HeartbeatInterval: time.Second,
		Logger:            zerolog.Nop(),
	})
	c.ChannelOpened("bob")
	c.StartHeartbeat()
	defer c.Stop()

	// bob answers the first two pings
	for i := 0; i < 2; i++ {
		clk.Add(time.Second)
		time.Sleep(10 * time.Millisecond)
		c.HandlePong("bob")
	}
	require.NotEmpty(t, rec.byType(wire.TypePing))
	mtx.Lock()
	require.Empty(t, lost)
	mtx.Unlock()

	// then goes silent past the three-interval deadline
	clk.Add(4 * time.Second)
	time.Sleep(10 * time.Millisecond)
	mtx.Lock()
	assert.Equal(t, []party.ID{"bob"}, lost)
	mtx.Unlock()
	assert.Equal(t, Closed, c.peerChannel("bob"))
}

// peerChannel exposes a peer's channel state to tests.
func (c *Coordinator) peerChannel(id party.ID) ChannelState {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if p, ok := c.peers[id]; ok {
		return p.channel
	}
	return Closed
}
