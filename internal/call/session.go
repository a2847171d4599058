package call

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rlacerda/vigia/internal/realtime"
)

// validEdges defines the forward transitions of the session state machine.
// Closed is additionally reachable from any non-terminal state (Stop), and
// Failed from any non-terminal state (error paths); both are handled in
// transitionLocked rather than listed per state.
var validEdges = map[State][]State{
	StateIdle:      {StateRequested, StateAccepted},
	StateRequested: {StateAccepted, StateRejected},
	StateAccepted:  {StateOffering, StateAnswering},
	StateRejected:  {StateClosed},
	StateOffering:  {StateAnswering, StateConnected},
	StateAnswering: {StateConnected},
}

// Event reports a session state change to the host application. Err is
// non-nil only for StateFailed.
type Event struct {
	SessionID string
	RemoteID  string
	State     State
	Err       error
}

// Session is one live camera negotiation between two parties.
type Session struct {
	ID       string
	Role     Role
	RemoteID string

	mu        sync.Mutex
	state     State
	peer      Peer
	media     MediaSource
	pending   []realtime.ICECandidateInit
	remoteSet bool
	timer     *time.Timer

	notify func(Event)
}

func newSession(id string, role Role, remoteID string, notify func(Event)) *Session {
	if notify == nil {
		notify = func(Event) {}
	}
	return &Session{
		ID:       id,
		Role:     role,
		RemoteID: remoteID,
		state:    StateIdle,
		notify:   notify,
	}
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session along a defined edge and notifies.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	err := s.transitionLocked(to)
	s.mu.Unlock()
	if err == nil {
		s.notify(Event{SessionID: s.ID, RemoteID: s.RemoteID, State: to})
	}
	return err
}

func (s *Session) transitionLocked(to State) error {
	if s.state.Terminal() {
		return ErrSessionClosed
	}
	if to == StateClosed || to == StateFailed {
		s.state = to
		return nil
	}
	for _, next := range validEdges[s.state] {
		if next == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrBadSignal, s.state, to)
}

func (s *Session) attachPeer(p Peer) {
	s.mu.Lock()
	s.peer = p
	s.mu.Unlock()
}

func (s *Session) attachMedia(m MediaSource) {
	s.mu.Lock()
	s.media = m
	s.mu.Unlock()
}

// setRemoteDescription applies the remote half of the exchange and flushes
// any ICE candidates that outraced it, in their original arrival order.
func (s *Session) setRemoteDescription(d Description) error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return fmt.Errorf("%w: description before peer exists", ErrBadSignal)
	}
	if err := peer.SetRemoteDescription(d); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	s.mu.Lock()
	s.remoteSet = true
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range queued {
		if err := peer.AddICECandidate(c); err != nil {
			log.Printf("CALL [%s]: flushing buffered candidate: %v", s.ID, err)
		}
	}
	if len(queued) > 0 {
		log.Printf("CALL [%s]: flushed %d buffered ICE candidate(s)", s.ID, len(queued))
	}
	return nil
}

// addRemoteCandidate applies a trickled candidate, buffering it when the
// remote description has not arrived yet.
func (s *Session) addRemoteCandidate(c realtime.ICECandidateInit) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	peer := s.peer
	s.mu.Unlock()
	return peer.AddICECandidate(c)
}

// armTimeout fails the session if it has not reached Connected (or a
// terminal state) within d.
func (s *Session) armTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() {
		if st := s.State(); !st.Terminal() && st != StateConnected {
			s.fail(ErrNegotiationTimeout)
		}
	})
}

func (s *Session) stopTimeout() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

// close tears the session down, releasing media and the peer connection
// synchronously. Idempotent.
func (s *Session) close() {
	s.stopTimeout()
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	media, peer := s.media, s.peer
	s.media, s.peer = nil, nil
	s.mu.Unlock()

	releaseResources(s.ID, media, peer)
	s.notify(Event{SessionID: s.ID, RemoteID: s.RemoteID, State: StateClosed})
}

// fail moves the session to Failed and releases resources. The failure is
// reported through the event callback, never silently dropped.
func (s *Session) fail(cause error) {
	s.stopTimeout()
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	media, peer := s.media, s.peer
	s.media, s.peer = nil, nil
	s.mu.Unlock()

	releaseResources(s.ID, media, peer)
	log.Printf("CALL [%s]: failed: %v", s.ID, cause)
	s.notify(Event{SessionID: s.ID, RemoteID: s.RemoteID, State: StateFailed, Err: cause})
}

func releaseResources(id string, media MediaSource, peer Peer) {
	if media != nil {
		if err := media.Close(); err != nil {
			log.Printf("CALL [%s]: media release: %v", id, err)
		}
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			log.Printf("CALL [%s]: peer close: %v", id, err)
		}
	}
}
