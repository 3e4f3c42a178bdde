package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
)

func TestMemoryRoundTrip(t *testing.T) {
	net := NewNetwork()
	alice := net.Join("alice")
	bob := net.Join("bob")
	defer alice.Close()
	defer bob.Close()

	require.NoError(t, alice.Send(context.Background(), "bob", []byte("hello")))
	env := <-bob.Inbox()
	assert.Equal(t, party.ID("alice"), env.From)
	assert.Equal(t, []byte("hello"), env.Data)

	require.ErrorIs(t, alice.Send(context.Background(), "mallory", nil), ErrUnknownDevice)
}

func TestMemoryFramesAreCopied(t *testing.T) {
	net := NewNetwork()
	alice := net.Join("alice")
	bob := net.Join("bob")
	defer alice.Close()
	defer bob.Close()

	data := []byte("original")
	require.NoError(t, alice.Send(context.Background(), "bob", data))
	data[0] = 'X'

	env := <-bob.Inbox()
	assert.Equal(t, []byte("original"), env.Data)
}

func TestMemoryEvents(t *testing.T) {
	net := NewNetwork()
	alice := net.Join("alice")
	defer alice.Close()

	bob := net.Join("bob")
	e := <-alice.Events()
	assert.Equal(t, Event{Kind: PeerUp, Peer: "bob"}, e)

	bob.Close()
	e = <-alice.Events()
	assert.Equal(t, Event{Kind: PeerDown, Peer: "bob"}, e)
}

func TestMemoryClosedSend(t *testing.T) {
	net := NewNetwork()
	alice := net.Join("alice")
	require.NoError(t, alice.Close())
	require.ErrorIs(t, alice.Send(context.Background(), "bob", nil), ErrClosed)

	// inbox is closed, a range over it terminates
	_, ok := <-alice.Inbox()
	assert.False(t, ok)
}

// relayServer is a minimal in-test rendezvous: it registers devices and
// forwards relay frames verbatim, stamping the sender.
type relayServer struct {
	mtx   sync.Mutex
	conns map[string]*websocket.Conn
}

func newRelayServer() *relayServer {
	return &relayServer{conns: make(map[string]*websocket.Conn)}
}

func (rs *relayServer) handler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	var device string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.DecodeSignaling(data)
		if err != nil {
			continue
		}
		switch msg.Kind {
		case wire.SignalRegister:
			device = msg.DeviceID
			rs.mtx.Lock()
			rs.conns[device] = conn
			rs.mtx.Unlock()
		case wire.SignalListDevices:
			rs.mtx.Lock()
			devices := make([]string, 0, len(rs.conns))
			for d := range rs.conns {
				devices = append(devices, d)
			}
			rs.mtx.Unlock()
			out, _ := wire.EncodeSignaling(&wire.SignalingMessage{Kind: wire.SignalDevices, Devices: devices})
			_ = conn.WriteMessage(websocket.TextMessage, out)
		case wire.SignalRelay:
			rs.mtx.Lock()
			dest, ok := rs.conns[msg.To]
			rs.mtx.Unlock()
			if !ok {
				out, _ := wire.EncodeSignaling(&wire.SignalingMessage{Kind: wire.SignalError, Error: "unknown device"})
				_ = conn.WriteMessage(websocket.TextMessage, out)
				continue
			}
			out, _ := wire.EncodeSignaling(&wire.SignalingMessage{
				Kind: wire.SignalRelay, From: device, Data: msg.Data,
			})
			_ = dest.WriteMessage(websocket.TextMessage, out)
		}
	}
}

func TestSignalingRelay(t *testing.T) {
	rs := newRelayServer()
	srv := httptest.NewServer(http.HandlerFunc(rs.handler))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx := context.Background()
	alice, err := DialSignaling(ctx, url, "alice", zerolog.Nop())
	require.NoError(t, err)
	defer alice.Close()
	bob, err := DialSignaling(ctx, url, "bob", zerolog.Nop())
	require.NoError(t, err)
	defer bob.Close()

	// registration is async from the server's point of view; retry the send
	// until bob is registered
	require.Eventually(t, func() bool {
		rs.mtx.Lock()
		defer rs.mtx.Unlock()
		return len(rs.conns) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Send(ctx, "bob", []byte("over the relay")))
	select {
	case env := <-bob.Inbox():
		assert.Equal(t, party.ID("alice"), env.From)
		assert.Equal(t, []byte("over the relay"), env.Data)
	case <-time.After(time.Second):
		t.Fatal("relay frame never arrived")
	}
}

func TestSignalingDeviceListEvents(t *testing.T) {
	rs := newRelayServer()
	srv := httptest.NewServer(http.HandlerFunc(rs.handler))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx := context.Background()
	alice, err := DialSignaling(ctx, url, "alice", zerolog.Nop())
	require.NoError(t, err)
	defer alice.Close()
	bob, err := DialSignaling(ctx, url, "bob", zerolog.Nop())
	require.NoError(t, err)
	defer bob.Close()

	require.Eventually(t, func() bool {
		rs.mtx.Lock()
		defer rs.mtx.Unlock()
		return len(rs.conns) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.ListDevices())
	select {
	case e := <-alice.Events():
		assert.Equal(t, Event{Kind: PeerUp, Peer: "bob"}, e, "own device filtered out of the list")
	case <-time.After(time.Second):
		t.Fatal("device event never arrived")
	}
}
