// Package protocol drives the execution of round-based threshold protocols.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/vaultmesh/frost-wallet/internal/round"
	"github.com/vaultmesh/frost-wallet/pkg/party"
)

// StartFunc is a function that creates the first round of a protocol.
// If the creation fails (likely due to misconfiguration), an error is returned.
type StartFunc func(sessionID []byte) (round.Session, error)

// Handler represents an execution of a given protocol.
// It provides a simple interface for the user to receive/deliver protocol messages.
type Handler struct {
	queue queue
	mtx   sync.Mutex

	Log zerolog.Logger

	done bool

	outChan  chan *Message
	r        round.Session
	result   interface{}
	err      error
	received map[party.ID]bool
}

// NewHandler expects a StartFunc for the desired protocol.
// It returns a handler that the user can interact with.
func NewHandler(create StartFunc, sessionID []byte) (*Handler, error) {
	r, err := create(sessionID)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to create round: %w", err)
	}
	received := make(map[party.ID]bool, r.N())
	for _, id := range r.OtherPartyIDs() {
		received[id] = false
	}
	h := &Handler{
		outChan:  make(chan *Message, 2*r.N()),
		r:        r,
		received: received,
	}
	h.Log = zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.InfoLevel).With().
		Str("protocol", r.ProtocolID()).
		Str("party", string(r.SelfID())).
		Int("round", int(r.Number())).
		Stack().
		Logger()
	h.Log.Info().Msg("start")

	if err = h.finishRound(); err != nil {
		return nil, err
	}
	return h, nil
}

// Listen returns a channel with outgoing messages that must be sent to other parties.
// The message received should be reliably broadcast if msg.Broadcast() is true.
// The channel is closed when either an error occurs or the protocol finishes.
func (h *Handler) Listen() <-chan *Message {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.outChan
}

// Result returns the protocol result if the protocol completed successfully.
// Otherwise an error is returned.
func (h *Handler) Result() (interface{}, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.result != nil {
		return h.result, nil
	}
	if h.err != nil {
		return nil, h.err
	}
	return nil, errors.New("protocol: not finished")
}

// Stop cancels the current execution of the protocol and closes the outgoing
// message channel, if the protocol was not already done.
func (h *Handler) Stop() {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.err != nil || h.result != nil {
		return
	}
	h.err = Error{
		RoundNumber: h.roundNumber(),
		Err:         errors.New("protocol: aborted by caller"),
	}
	h.stop()
}

// Update performs the following:
//   - Check header information about msg and make sure we can accept it in this
//     protocol execution.
//   - If the message is for a later round, store it in a queue for later.
//   - Validate the contents of the message for this round.
//   - If all messages for this round have been received, proceed to the next round.
//   - Retrieve from the queue any message intended for the new round.
//
// This function may be called concurrently from different threads but may block
// until all previous calls have finished.
func (h *Handler) Update(msg *Message) error {
	h.mtx.Lock()
	defer func() {
		if h.err != nil {
			h.stop()
		}
		h.mtx.Unlock()
	}()

	// return early if we are already finished
	if h.result != nil || h.err != nil {
		return h.err
	}

	if msg != nil {
		h.Log.Debug().Stringer("msg", msg).Msg("got new message")
		if err := h.validate(msg); err != nil {
			h.Log.Warn().Err(err).Stringer("msg", msg).Msg("failed to validate")
			return err
		}
		if err := h.handleMessage(msg); err != nil {
			h.Log.Error().Err(err).Stringer("msg", msg).Msg("failed to handle")
			return err
		}
	}

	if h.receivedAll() {
		if err := h.finishRound(); err != nil {
			h.Log.Error().Err(err).Msg("failed to finish round")
			return err
		}
	}

	return nil
}

func (h *Handler) validate(msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if !msg.IsFor(h.r.SelfID()) {
		return ErrMessageWrongDestination
	}

	if !bytes.Equal(h.r.SSID(), msg.SSID) {
		return ErrMessageWrongSSID
	}

	if msg.Protocol != h.r.ProtocolID() {
		return ErrMessageWrongProtocolID
	}

	if msg.RoundNumber > h.r.FinalRoundNumber() {
		return ErrMessageInvalidRoundNumber
	}

	// do we know the sender
	if _, ok := h.received[msg.From]; !ok {
		return ErrMessageUnknownSender
	}

	// messages from an earlier round were already consumed
	if msg.RoundNumber < h.roundNumber() {
		return ErrMessageDuplicate
	}

	return nil
}

func (h *Handler) handleMessage(msg *Message) error {
	if msg.RoundNumber != h.roundNumber() {
		h.Log.Debug().Str("from", string(msg.From)).Int("roundNumber", int(msg.RoundNumber)).Msg("storing message")
		return h.queue.Store(msg)
	}
	if h.received[msg.From] {
		return ErrMessageDuplicate
	}

	content := h.r.MessageContent()
	if err := msg.UnmarshalContent(content); err != nil {
		return h.abort(err, msg.From)
	}

	roundMsg := round.Message{
		From:      msg.From,
		To:        msg.To,
		Broadcast: msg.Broadcast(),
		Content:   content,
	}

	if err := h.r.VerifyMessage(roundMsg); err != nil {
		return h.abort(err, msg.From)
	}
	if err := h.r.StoreMessage(roundMsg); err != nil {
		return h.abort(err, msg.From)
	}

	h.received[msg.From] = true
	return nil
}

func (h *Handler) finishRound() error {
	roundOut := make(chan *round.Message, h.r.N()+1)
	nextRound, err := h.r.Finalize(roundOut)
	close(roundOut)
	if err != nil {
		return h.abort(err, "")
	}

	for msg := range roundOut {
		if err := h.forward(msg); err != nil {
			return h.abort(err, "")
		}
	}

	switch r := nextRound.(type) {
	case *round.Output:
		h.result = r.Result
		h.r = nil
		if h.result == nil && h.err == nil {
			h.err = Error{
				RoundNumber: 0,
				Err:         errors.New("failed without error before reaching the final round"),
			}
		}
		h.stop()
		return h.err
	case *round.Abort:
		var culprit party.ID
		if len(r.Culprits) > 0 {
			culprit = r.Culprits[0]
		}
		h.err = Error{
			RoundNumber: h.roundNumber(),
			Culprit:     culprit,
			Err:         r.Err,
		}
		h.r = nil
		h.stop()
		return h.err
	case nil:
		return h.abort(errors.New("protocol: round returned nil"), "")
	}

	h.r = nextRound
	h.Log.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Int("round", int(h.roundNumber()))
	})
	h.Log.Info().Msg("round advanced")

	// reset received state
	for id := range h.received {
		h.received[id] = false
	}

	for _, msg := range h.queue.Get(h.roundNumber()) {
		if err := h.handleMessage(msg); err != nil {
			return err
		}
	}

	if h.receivedAll() {
		return h.finishRound()
	}

	return nil
}

// forward serializes a round message and delivers it on the outgoing channel.
func (h *Handler) forward(msg *round.Message) error {
	data, err := cbor.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("protocol: failed to marshal content: %w", err)
	}
	out := &Message{
		SSID:        h.r.SSID(),
		From:        msg.From,
		To:          msg.To,
		Protocol:    h.r.ProtocolID(),
		RoundNumber: msg.Content.RoundNumber(),
		Data:        data,
	}
	select {
	case h.outChan <- out:
		return nil
	default:
		return errors.New("protocol: out channel is full")
	}
}

func (h *Handler) receivedAll() bool {
	for _, received := range h.received {
		if !received {
			return false
		}
	}
	return true
}

// abort wraps a Round error with information about the current round and a
// possible culprit.
func (h *Handler) abort(err error, culprit party.ID) error {
	roundErr := Error{
		RoundNumber: h.roundNumber(),
		Culprit:     culprit,
		Err:         err,
	}
	if h.err == nil {
		h.err = roundErr
	}

	return roundErr
}

func (h *Handler) roundNumber() round.Number {
	if h.r == nil {
		return 0
	}
	return h.r.Number()
}

func (h *Handler) stop() {
	if !h.done {
		h.done = true
		close(h.outChan)
	}
}
