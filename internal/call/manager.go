package call

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rlacerda/vigia/internal/realtime"
)

// Decision is the outcome of the responder-side consent check.
type Decision int

const (
	Reject Decision = iota
	Accept
)

// IncomingRequest describes a camera request awaiting a consent decision.
type IncomingRequest struct {
	SessionID     string
	RequesterID   string
	RequesterName string
}

// Policy decides whether an incoming camera request is accepted. The host
// application owns consent semantics; the default denies everything, so a
// deployment that forgets to wire a policy never streams silently.
type Policy interface {
	Decide(req IncomingRequest) Decision
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(req IncomingRequest) Decision

func (f PolicyFunc) Decide(req IncomingRequest) Decision { return f(req) }

// DenyAll is the default consent policy.
var DenyAll = PolicyFunc(func(IncomingRequest) Decision { return Reject })

// Config carries the manager knobs.
type Config struct {
	SelfID             string
	SelfName           string
	Policy             Policy
	NewPeer            PeerFactory
	NewMedia           MediaFactory
	NegotiationTimeout time.Duration
}

// Manager owns the active camera sessions of one device and bridges relay
// signaling to them.
type Manager struct {
	ch  realtime.Channel
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session

	listenerMu sync.RWMutex
	listeners  []func(Event)

	cancels []func()
	ctx     context.Context
}

// NewManager creates a manager attached to ch and subscribes to the camera
// signaling topics immediately.
func NewManager(ctx context.Context, ch realtime.Channel, cfg Config) *Manager {
	if cfg.Policy == nil {
		cfg.Policy = DenyAll
	}
	if cfg.NewMedia == nil {
		cfg.NewMedia = NewSampleMedia
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 30 * time.Second
	}
	m := &Manager{
		ch:       ch,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		ctx:      ctx,
	}
	m.subscribe()
	return m
}

// OnEvent registers a callback fired on every session state change.
func (m *Manager) OnEvent(fn func(Event)) {
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenerMu.Unlock()
}

func (m *Manager) emit(ev Event) {
	if ev.State.Terminal() {
		m.mu.Lock()
		delete(m.sessions, ev.SessionID)
		m.mu.Unlock()
	}
	m.listenerMu.RLock()
	listeners := make([]func(Event), len(m.listeners))
	copy(listeners, m.listeners)
	m.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// RequestSession starts an outbound camera session toward targetID. Any
// prior session is torn down first: the device's media stream has exactly
// one owner.
func (m *Manager) RequestSession(targetID string) (*Session, error) {
	m.teardownActive()

	sess := newSession(uuid.NewString(), Requester, targetID, m.emit)

	// Register before the first transition so listeners can look the
	// session up from inside their callback.
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	if err := sess.transition(StateRequested); err != nil {
		m.mu.Lock()
		delete(m.sessions, sess.ID)
		m.mu.Unlock()
		return nil, err
	}

	err := m.ch.Send(realtime.TopicCameraRequest, realtime.CameraRequestPayload{
		SessionID:     sess.ID,
		TargetUserID:  targetID,
		RequesterID:   m.cfg.SelfID,
		RequesterName: m.cfg.SelfName,
	})
	if err != nil {
		sess.fail(fmt.Errorf("send request: %w", err))
		return nil, err
	}

	sess.armTimeout(m.cfg.NegotiationTimeout)
	log.Printf("CALL [%s]: requested camera of %s", sess.ID, targetID)
	return sess, nil
}

// Stop ends a session from either side: signal the remote party, then tear
// down locally. No automatic re-request follows.
func (m *Manager) Stop(sessionID string) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	_ = m.ch.Send(realtime.TopicCameraStopped, realtime.CameraAnswerPayload{
		SessionID:    sess.ID,
		TargetUserID: sess.RemoteID,
		UserID:       m.cfg.SelfID,
	})
	sess.close()
	log.Printf("CALL [%s]: stopped", sessionID)
}

// Session returns the live session with the given ID, if any.
func (m *Manager) Session(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Close unsubscribes from the relay and tears down all sessions.
func (m *Manager) Close() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
	m.teardownActive()
}

// teardownActive closes every non-terminal session, signaling the remote
// party so it does not sit waiting for the negotiation timeout.
func (m *Manager) teardownActive() {
	m.mu.RLock()
	active := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		active = append(active, s)
	}
	m.mu.RUnlock()
	for _, s := range active {
		if !s.State().Terminal() {
			_ = m.ch.Send(realtime.TopicCameraStopped, realtime.CameraAnswerPayload{
				SessionID:    s.ID,
				TargetUserID: s.RemoteID,
				UserID:       m.cfg.SelfID,
			})
		}
		s.close()
	}
}

func (m *Manager) subscribe() {
	sub := func(topic string, h realtime.Handler) {
		m.cancels = append(m.cancels, m.ch.OnMessage(topic, h))
	}
	sub(realtime.TopicCameraRequest, m.handleRequest)
	sub(realtime.TopicCameraAccepted, m.handleAccepted)
	sub(realtime.TopicCameraRejected, m.handleRejected)
	sub(realtime.TopicCameraStopped, m.handleStopped)
	sub(realtime.TopicWebRTCOffer, m.handleOffer)
	sub(realtime.TopicWebRTCAnswer, m.handleAnswer)
	sub(realtime.TopicWebRTCICE, m.handleICE)
}

// lookup finds a live session by ID. Messages for unknown (already closed)
// sessions are ignored by design.
func (m *Manager) lookup(topic, sessionID string) (*Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		log.Printf("CALL: ignoring %s for unknown session %s", topic, sessionID)
	}
	return sess, ok
}

// handleRequest runs the responder side: consent check, then media + offer.
func (m *Manager) handleRequest(env realtime.Envelope) {
	var p realtime.CameraRequestPayload
	if err := env.Decode(&p); err != nil {
		log.Printf("CALL: bad camera_request payload: %v", err)
		return
	}
	if p.TargetUserID != m.cfg.SelfID {
		return
	}

	req := IncomingRequest{
		SessionID:     p.SessionID,
		RequesterID:   p.RequesterID,
		RequesterName: p.RequesterName,
	}
	if m.cfg.Policy.Decide(req) != Accept {
		log.Printf("CALL [%s]: rejected request from %s", p.SessionID, p.RequesterID)
		_ = m.ch.Send(realtime.TopicCameraRejected, realtime.CameraAnswerPayload{
			SessionID:    p.SessionID,
			TargetUserID: p.RequesterID,
			UserID:       m.cfg.SelfID,
		})
		return
	}

	// Accepting: the media stream gets a new owner, so any prior session
	// must release it first.
	m.teardownActive()

	sess := newSession(p.SessionID, Responder, p.RequesterID, m.emit)
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	if err := sess.transition(StateAccepted); err != nil {
		m.mu.Lock()
		delete(m.sessions, sess.ID)
		m.mu.Unlock()
		return
	}

	if err := m.ch.Send(realtime.TopicCameraAccepted, realtime.CameraAnswerPayload{
		SessionID:    sess.ID,
		TargetUserID: p.RequesterID,
		UserID:       m.cfg.SelfID,
	}); err != nil {
		sess.fail(fmt.Errorf("send accept: %w", err))
		return
	}

	if err := m.startOffering(sess); err != nil {
		sess.fail(err)
	}
}

// startOffering acquires local media, builds the peer connection and sends
// the SDP offer. Runs on the responder.
func (m *Manager) startOffering(sess *Session) error {
	media, err := m.cfg.NewMedia(m.ctx)
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}
	sess.attachMedia(media)

	peer, err := m.cfg.NewPeer()
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	sess.attachPeer(peer)
	m.wirePeer(sess, peer)

	tracks, err := media.Tracks()
	if err != nil {
		return fmt.Errorf("media tracks: %w", err)
	}
	for _, t := range tracks {
		if err := peer.AddTrack(t); err != nil {
			return err
		}
	}

	offer, err := peer.CreateOffer(m.ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := m.ch.Send(realtime.TopicWebRTCOffer, realtime.SDPPayload{
		SessionID:    sess.ID,
		TargetUserID: sess.RemoteID,
		SDP:          offer.SDP,
	}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	if err := sess.transition(StateOffering); err != nil {
		return err
	}
	sess.armTimeout(m.cfg.NegotiationTimeout)
	log.Printf("CALL [%s]: offering media to %s", sess.ID, sess.RemoteID)
	return nil
}

func (m *Manager) handleAccepted(env realtime.Envelope) {
	var p realtime.CameraAnswerPayload
	if err := env.Decode(&p); err != nil || p.TargetUserID != m.cfg.SelfID {
		return
	}
	sess, ok := m.lookup(env.Topic, p.SessionID)
	if !ok {
		return
	}
	if err := sess.transition(StateAccepted); err != nil {
		log.Printf("CALL [%s]: unexpected accept: %v", sess.ID, err)
	}
}

func (m *Manager) handleRejected(env realtime.Envelope) {
	var p realtime.CameraAnswerPayload
	if err := env.Decode(&p); err != nil || p.TargetUserID != m.cfg.SelfID {
		return
	}
	sess, ok := m.lookup(env.Topic, p.SessionID)
	if !ok {
		return
	}
	log.Printf("CALL [%s]: request rejected by %s", sess.ID, sess.RemoteID)
	_ = sess.transition(StateRejected)
	sess.close()
}

func (m *Manager) handleStopped(env realtime.Envelope) {
	var p realtime.CameraAnswerPayload
	if err := env.Decode(&p); err != nil || p.TargetUserID != m.cfg.SelfID {
		return
	}
	sess, ok := m.lookup(env.Topic, p.SessionID)
	if !ok {
		return
	}
	log.Printf("CALL [%s]: remote party stopped", sess.ID)
	sess.close()
}

// handleOffer runs the requester side of the SDP exchange: apply the remote
// offer, answer it, and wait for the negotiation layer to connect.
func (m *Manager) handleOffer(env realtime.Envelope) {
	var p realtime.SDPPayload
	if err := env.Decode(&p); err != nil || p.TargetUserID != m.cfg.SelfID {
		return
	}
	sess, ok := m.lookup(env.Topic, p.SessionID)
	if !ok {
		return
	}
	if sess.Role != Requester {
		sess.fail(fmt.Errorf("%w: offer received by responder", ErrBadSignal))
		return
	}

	// The accept message and the offer race through the relay; an offer
	// arriving first implies the accept.
	if sess.State() == StateRequested {
		_ = sess.transition(StateAccepted)
	}

	if err := m.answerOffer(sess, p.SDP); err != nil {
		sess.fail(err)
	}
}

func (m *Manager) answerOffer(sess *Session, sdp string) error {
	peer, err := m.cfg.NewPeer()
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	sess.attachPeer(peer)
	m.wirePeer(sess, peer)

	if err := sess.setRemoteDescription(Description{Type: "offer", SDP: sdp}); err != nil {
		return err
	}
	answer, err := peer.CreateAnswer(m.ctx)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	if err := m.ch.Send(realtime.TopicWebRTCAnswer, realtime.SDPPayload{
		SessionID:    sess.ID,
		TargetUserID: sess.RemoteID,
		SDP:          answer.SDP,
	}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return sess.transition(StateAnswering)
}

func (m *Manager) handleAnswer(env realtime.Envelope) {
	var p realtime.SDPPayload
	if err := env.Decode(&p); err != nil || p.TargetUserID != m.cfg.SelfID {
		return
	}
	sess, ok := m.lookup(env.Topic, p.SessionID)
	if !ok {
		return
	}
	if sess.Role != Responder {
		sess.fail(fmt.Errorf("%w: answer received by requester", ErrBadSignal))
		return
	}
	if err := sess.setRemoteDescription(Description{Type: "answer", SDP: p.SDP}); err != nil {
		sess.fail(err)
	}
}

func (m *Manager) handleICE(env realtime.Envelope) {
	var p realtime.ICEPayload
	if err := env.Decode(&p); err != nil || p.TargetUserID != m.cfg.SelfID {
		return
	}
	sess, ok := m.lookup(env.Topic, p.SessionID)
	if !ok {
		return
	}
	if err := sess.addRemoteCandidate(p.Candidate); err != nil {
		log.Printf("CALL [%s]: add candidate: %v", sess.ID, err)
	}
}

// wirePeer connects peer callbacks to session transitions and outbound
// trickle ICE.
func (m *Manager) wirePeer(sess *Session, peer Peer) {
	peer.OnICECandidate(func(c realtime.ICECandidateInit) {
		if sess.State().Terminal() {
			return
		}
		if err := m.ch.Send(realtime.TopicWebRTCICE, realtime.ICEPayload{
			SessionID:    sess.ID,
			TargetUserID: sess.RemoteID,
			Candidate:    c,
		}); err != nil {
			log.Printf("CALL [%s]: send candidate: %v", sess.ID, err)
		}
	})
	peer.OnConnected(func() {
		sess.stopTimeout()
		if err := sess.transition(StateConnected); err == nil {
			log.Printf("CALL [%s]: connected", sess.ID)
		}
	})
	peer.OnFailed(func() {
		sess.fail(fmt.Errorf("call: negotiation failed"))
	})
}
