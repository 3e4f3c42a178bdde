package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
)

// Signaling is a Transport over a websocket rendezvous server. Frames travel
// as transparent relay payloads; the server never inspects them.
type Signaling struct {
	self party.ID
	conn *websocket.Conn
	log  zerolog.Logger

	writeMtx sync.Mutex

	inbox  chan Envelope
	events chan Event

	// state guards closed so the read loop never writes a closed channel.
	state  sync.RWMutex
	closed bool

	known map[party.ID]struct{}
}

var _ Transport = (*Signaling)(nil)

// DialSignaling connects to the rendezvous server at url and registers this
// device. The returned transport is live: its read loop is already running.
func DialSignaling(ctx context.Context, url string, self party.ID, log zerolog.Logger) (*Signaling, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}

	s := &Signaling{
		self:   self,
		conn:   conn,
		log:    log.With().Str("component", "signaling").Str("device", string(self)).Logger(),
		inbox:  make(chan Envelope, 256),
		events: make(chan Event, 64),
		known:  make(map[party.ID]struct{}),
	}
	if err := s.write(&wire.SignalingMessage{Kind: wire.SignalRegister, DeviceID: string(self)}); err != nil {
		conn.Close()
		return nil, err
	}
	go s.readLoop()
	return s, nil
}

// Send implements Transport: the frame is wrapped in a relay message.
func (s *Signaling) Send(ctx context.Context, to party.ID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state.RLock()
	closed := s.closed
	s.state.RUnlock()
	if closed {
		return ErrClosed
	}
	return s.write(&wire.SignalingMessage{Kind: wire.SignalRelay, To: string(to), Data: data})
}

// ListDevices asks the server for the currently registered devices. The
// answer arrives asynchronously as PeerUp/PeerDown events.
func (s *Signaling) ListDevices() error {
	return s.write(&wire.SignalingMessage{Kind: wire.SignalListDevices})
}

// Inbox implements Transport.
func (s *Signaling) Inbox() <-chan Envelope { return s.inbox }

// Events implements Transport.
func (s *Signaling) Events() <-chan Event { return s.events }

// Close implements Transport.
func (s *Signaling) Close() error {
	s.state.Lock()
	if s.closed {
		s.state.Unlock()
		return nil
	}
	s.closed = true
	s.state.Unlock()

	s.writeMtx.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMtx.Unlock()
	return s.conn.Close()
}

func (s *Signaling) write(msg *wire.SignalingMessage) error {
	data, err := wire.EncodeSignaling(msg)
	if err != nil {
		return err
	}
	s.writeMtx.Lock()
	defer s.writeMtx.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (s *Signaling) readLoop() {
	defer func() {
		s.state.Lock()
		if !s.closed {
			s.closed = true
			s.conn.Close()
		}
		close(s.inbox)
		close(s.events)
		s.state.Unlock()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.state.RLock()
			closed := s.closed
			s.state.RUnlock()
			if !closed {
				s.log.Warn().Err(err).Msg("signaling connection lost")
			}
			return
		}
		msg, err := wire.DecodeSignaling(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed signaling frame")
			continue
		}
		s.handle(msg)
	}
}

func (s *Signaling) handle(msg *wire.SignalingMessage) {
	switch msg.Kind {
	case wire.SignalRelay:
		s.inbox <- Envelope{From: party.ID(msg.From), Data: msg.Data}
	case wire.SignalDevices:
		s.applyDeviceList(msg.Devices)
	case wire.SignalError:
		s.log.Warn().Str("error", msg.Error).Msg("signaling server error")
	default:
		s.log.Warn().Str("type", msg.Kind).Msg("dropping unknown signaling frame")
	}
}

// applyDeviceList diffs the server's device list against the known set and
// emits up/down events for the changes.
func (s *Signaling) applyDeviceList(devices []string) {
	next := make(map[party.ID]struct{}, len(devices))
	for _, d := range devices {
		id := party.ID(d)
		if id == s.self {
			continue
		}
		next[id] = struct{}{}
		if _, ok := s.known[id]; !ok {
			s.events <- Event{Kind: PeerUp, Peer: id}
		}
	}
	for id := range s.known {
		if _, ok := next[id]; !ok {
			s.events <- Event{Kind: PeerDown, Peer: id}
		}
	}
	s.known = next
}
