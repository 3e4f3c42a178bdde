package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/wire"
)

var (
	// ErrInvalidConfig is returned for a proposal whose threshold or
	// participant set violates the session invariants.
	ErrInvalidConfig = errors.New("session: invalid config")
	// ErrUnknownSession is returned when the session id is not registered.
	ErrUnknownSession = errors.New("session: unknown session")
	// ErrUnknownDevice is returned when a device is not a session participant.
	ErrUnknownDevice = errors.New("session: device not in session")
	// ErrDuplicateSession is returned when a session id is proposed twice.
	ErrDuplicateSession = errors.New("session: duplicate session id")
	// ErrAlreadyComplete is returned when a session that was fully accepted
	// once would transition to fully accepted a second time.
	ErrAlreadyComplete = errors.New("session: already fully accepted once")
	// ErrRejoinForbidden is returned for a rejoin attempt while a protocol
	// round is in flight.
	ErrRejoinForbidden = errors.New("session: rejoin forbidden during active round")
)

// Registry owns every session this node knows about. All methods are safe for
// concurrent use; snapshots are deep copies.
type Registry struct {
	mtx      sync.Mutex
	self     party.ID
	sessions map[string]*Session
	clock    clock.Clock
	log      zerolog.Logger
}

// NewRegistry returns an empty registry for the given device.
func NewRegistry(self party.ID, clk clock.Clock, log zerolog.Logger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		self:     self,
		sessions: make(map[string]*Session),
		clock:    clk,
		log:      log.With().Str("component", "session").Logger(),
	}
}

func validateConfig(proposer party.ID, threshold int, participants party.IDSlice) error {
	n := len(participants)
	if n == 0 || !participants.Valid() {
		return fmt.Errorf("%w: participants must be distinct non-empty device names", ErrInvalidConfig)
	}
	if n > MaxParticipants {
		return fmt.Errorf("%w: %d participants exceeds the maximum of %d", ErrInvalidConfig, n, MaxParticipants)
	}
	if threshold < 1 || threshold > n {
		return fmt.Errorf("%w: threshold %d outside [1, %d]", ErrInvalidConfig, threshold, n)
	}
	if !participants.Contains(proposer) {
		return fmt.Errorf("%w: proposer %q not among participants", ErrInvalidConfig, proposer)
	}
	return nil
}

// Propose creates a new session proposed by this device. The proposer counts
// as accepted immediately. The session id is freshly minted.
func (r *Registry) Propose(kind Kind, coordination Coordination, threshold int, participants []party.ID, suite string) (*Session, error) {
	ids := party.NewIDSlice(participants)
	if len(ids) != len(participants) {
		return nil, fmt.Errorf("%w: duplicate device names", ErrInvalidConfig)
	}
	if err := validateConfig(r.self, threshold, ids); err != nil {
		return nil, err
	}

	s := &Session{
		ID:             uuid.NewString(),
		Proposer:       r.self,
		Threshold:      threshold,
		Participants:   ids,
		Accepted:       party.NewIDSlice([]party.ID{r.self}),
		Kind:           kind,
		CiphersuiteTag: suite,
		Coordination:   coordination,
		Phase:          PhaseForming,
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.sessions[s.ID] = s
	r.log.Info().Str("session", s.ID).Int("threshold", threshold).Int("n", s.N()).
		Str("kind", string(kind)).Msg("session proposed")
	if s.FullyAccepted() {
		s.freeze()
	}
	return s.clone(), nil
}

// Admit registers a proposal received from another device. The remote
// proposer counts as accepted.
func (r *Registry) Admit(p wire.SessionProposal) (*Session, error) {
	if p.SessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidConfig)
	}
	participants := make([]party.ID, len(p.Participants))
	for i, d := range p.Participants {
		participants[i] = party.ID(d)
	}
	ids := party.NewIDSlice(participants)
	if len(ids) != len(participants) {
		return nil, fmt.Errorf("%w: duplicate device names", ErrInvalidConfig)
	}
	if p.Total != len(ids) {
		return nil, fmt.Errorf("%w: total %d does not match %d participants", ErrInvalidConfig, p.Total, len(ids))
	}
	if err := validateConfig(party.ID(p.Proposer), p.Threshold, ids); err != nil {
		return nil, err
	}
	if !ids.Contains(r.self) {
		return nil, fmt.Errorf("%w: this device is not invited", ErrUnknownDevice)
	}

	s := &Session{
		ID:             p.SessionID,
		Proposer:       party.ID(p.Proposer),
		Threshold:      p.Threshold,
		Participants:   ids,
		Accepted:       party.NewIDSlice([]party.ID{party.ID(p.Proposer)}),
		Kind:           Kind(p.Kind),
		CiphersuiteTag: p.CiphersuiteTag,
		Coordination:   CoordinationOnline,
		Phase:          PhaseForming,
		WalletID:       p.WalletID,
		GroupPublicKey: p.GroupPublicKey,
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return nil, ErrDuplicateSession
	}
	r.sessions[s.ID] = s
	r.log.Info().Str("session", s.ID).Str("proposer", p.Proposer).Msg("session admitted")
	if s.FullyAccepted() {
		s.freeze()
	}
	return s.clone(), nil
}

// Accept records a device's acceptance. Accepting twice is a no-op. The first
// time the accepted set covers all participants, the identifier map is
// computed and frozen; once broken, full acceptance cannot be restored this
// way (a rejoin update is the sanctioned path).
func (r *Registry) Accept(sessionID string, device party.ID) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if !s.Participants.Contains(device) {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	if s.Accepted.Contains(device) {
		return nil
	}
	if s.frozen {
		return ErrAlreadyComplete
	}
	s.Accepted = party.NewIDSlice(append(s.Accepted.Copy(), device))
	s.Rejected = s.Rejected.Remove(device)
	r.log.Info().Str("session", sessionID).Str("device", string(device)).
		Int("accepted", len(s.Accepted)).Int("n", s.N()).Msg("acceptance recorded")
	if s.FullyAccepted() {
		s.freeze()
		r.log.Info().Str("session", sessionID).Msg("session fully accepted, identifiers frozen")
	}
	return nil
}

// Reject records a declined invitation and removes the device from the
// accepted set.
func (r *Registry) Reject(sessionID string, device party.ID) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if !s.Participants.Contains(device) {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	s.Accepted = s.Accepted.Remove(device)
	if !s.Rejected.Contains(device) {
		s.Rejected = party.NewIDSlice(append(s.Rejected.Copy(), device))
	}
	r.log.Info().Str("session", sessionID).Str("device", string(device)).Msg("rejection recorded")
	return nil
}

// ApplyUpdate ingests a membership update received from the wire.
func (r *Registry) ApplyUpdate(u wire.SessionUpdate) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	s, ok := r.sessions[u.SessionID]
	if !ok {
		return ErrUnknownSession
	}

	devices := make(party.IDSlice, 0, len(u.AcceptedDevices))
	for _, d := range u.AcceptedDevices {
		id := party.ID(d)
		if !s.Participants.Contains(id) {
			return fmt.Errorf("%w: %q", ErrUnknownDevice, id)
		}
		devices = append(devices, id)
	}
	devices = party.NewIDSlice(devices)

	switch u.UpdateType {
	case wire.UpdateJoined:
		if s.frozen && !s.FullyAccepted() {
			return ErrAlreadyComplete
		}
		s.Accepted = merge(s.Accepted, devices)
	case wire.UpdateLeft:
		for _, id := range devices {
			s.Accepted = s.Accepted.Remove(id)
		}
	case wire.UpdateRejoined:
		if s.Phase == PhaseRoundActive {
			return ErrRejoinForbidden
		}
		s.Accepted = merge(s.Accepted, devices)
	case wire.UpdateFullSync:
		if s.frozen && !s.FullyAccepted() && len(devices) == s.N() {
			return ErrAlreadyComplete
		}
		s.Accepted = devices
	default:
		return fmt.Errorf("session: unknown update type %q", u.UpdateType)
	}

	if !s.frozen && s.FullyAccepted() {
		s.freeze()
		r.log.Info().Str("session", u.SessionID).Msg("session fully accepted, identifiers frozen")
	}
	return nil
}

// SetPhase moves a session through its lifecycle. The orchestrators call it
// when a round starts or the ceremony ends.
func (r *Registry) SetPhase(sessionID string, phase Phase) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	s.Phase = phase
	return nil
}

// Snapshot returns a deep copy of the session's current state.
func (r *Registry) Snapshot(sessionID string) (*Session, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s.clone(), nil
}

// Remove drops a session from the registry.
func (r *Registry) Remove(sessionID string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	delete(r.sessions, sessionID)
}

// UpdateFor builds the wire update announcing this session's accepted set.
func (r *Registry) UpdateFor(sessionID string, updateType wire.UpdateType) (wire.SessionUpdate, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return wire.SessionUpdate{}, ErrUnknownSession
	}
	devices := make([]string, len(s.Accepted))
	for i, id := range s.Accepted {
		devices[i] = string(id)
	}
	return wire.SessionUpdate{
		SessionID:       sessionID,
		AcceptedDevices: devices,
		UpdateType:      updateType,
		Timestamp:       r.clock.Now().UTC(),
	}, nil
}

func merge(a, b party.IDSlice) party.IDSlice {
	return party.NewIDSlice(append(a.Copy(), b...))
}
