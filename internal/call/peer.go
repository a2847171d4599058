package call

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/rlacerda/vigia/internal/realtime"
)

// Description is one half of an offer/answer exchange.
type Description struct {
	Type string // "offer" or "answer"
	SDP  string
}

// Peer is the media-negotiation primitive a session orchestrates. The
// default implementation wraps a Pion peer connection; tests substitute a
// scripted fake.
type Peer interface {
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetLocalDescription(d Description) error
	SetRemoteDescription(d Description) error
	AddICECandidate(c realtime.ICECandidateInit) error
	OnICECandidate(fn func(realtime.ICECandidateInit))
	OnConnected(fn func())
	OnFailed(fn func())
	AddTrack(t webrtc.TrackLocal) error
	Close() error
}

// MediaSource provides the responder's local capture tracks. Close must
// release the underlying devices synchronously.
type MediaSource interface {
	Tracks() ([]webrtc.TrackLocal, error)
	Close() error
}

// PeerFactory builds a fresh Peer per session.
type PeerFactory func() (Peer, error)

// MediaFactory acquires local media for a responder session.
type MediaFactory func(ctx context.Context) (MediaSource, error)

// NewPionFactory returns a PeerFactory backed by pion/webrtc with the given
// STUN/TURN servers.
func NewPionFactory(iceServers []string) PeerFactory {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return func() (Peer, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("call: new peer connection: %w", err)
		}
		return &pionPeer{pc: pc}, nil
	}
}

// pionPeer adapts *webrtc.PeerConnection to the Peer interface.
//
// Pion keeps a single OnConnectionStateChange callback, so the connected and
// failed hooks share one registration.
type pionPeer struct {
	pc *webrtc.PeerConnection

	stateMu     sync.Mutex
	stateWired  bool
	onConnected func()
	onFailed    func()
}

func (p *pionPeer) wireState() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.stateWired {
		return
	}
	p.stateWired = true
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.stateMu.Lock()
		connected, failed := p.onConnected, p.onFailed
		p.stateMu.Unlock()
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if connected != nil {
				connected()
			}
		case webrtc.PeerConnectionStateFailed:
			if failed != nil {
				failed()
			}
		}
	})
}

func (p *pionPeer) CreateOffer(ctx context.Context) (Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("create offer: %w", err)
	}
	return Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *pionPeer) CreateAnswer(ctx context.Context) (Description, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("create answer: %w", err)
	}
	return Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *pionPeer) SetLocalDescription(d Description) error {
	return p.pc.SetLocalDescription(toSessionDescription(d))
}

func (p *pionPeer) SetRemoteDescription(d Description) error {
	return p.pc.SetRemoteDescription(toSessionDescription(d))
}

func (p *pionPeer) AddICECandidate(c realtime.ICECandidateInit) error {
	mid := c.SDPMid
	idx := c.SDPMLineIndex
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
}

func (p *pionPeer) OnICECandidate(fn func(realtime.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end-of-candidates marker
		}
		init := c.ToJSON()
		out := realtime.ICECandidateInit{Candidate: init.Candidate}
		if init.SDPMid != nil {
			out.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			out.SDPMLineIndex = *init.SDPMLineIndex
		}
		fn(out)
	})
}

func (p *pionPeer) OnConnected(fn func()) {
	p.stateMu.Lock()
	p.onConnected = fn
	p.stateMu.Unlock()
	p.wireState()
}

func (p *pionPeer) OnFailed(fn func()) {
	p.stateMu.Lock()
	p.onFailed = fn
	p.stateMu.Unlock()
	p.wireState()
}

func (p *pionPeer) AddTrack(t webrtc.TrackLocal) error {
	if _, err := p.pc.AddTrack(t); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	return nil
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

func toSessionDescription(d Description) webrtc.SessionDescription {
	t := webrtc.SDPTypeOffer
	if d.Type == "answer" {
		t = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}
}

// NewSampleMedia is the default MediaFactory: it exposes camera and mic as
// static sample tracks fed by the platform capture layer. On hosts without
// capture devices the tracks stay silent but negotiation still succeeds,
// which keeps headless deployments working.
func NewSampleMedia(ctx context.Context) (MediaSource, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "vigia-camera")
	if err != nil {
		return nil, fmt.Errorf("call: video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "vigia-mic")
	if err != nil {
		return nil, fmt.Errorf("call: audio track: %w", err)
	}
	return &sampleMedia{tracks: []webrtc.TrackLocal{video, audio}}, nil
}

type sampleMedia struct {
	tracks []webrtc.TrackLocal
}

func (m *sampleMedia) Tracks() ([]webrtc.TrackLocal, error) {
	return m.tracks, nil
}

func (m *sampleMedia) Close() error {
	log.Printf("CALL: released %d local track(s)", len(m.tracks))
	m.tracks = nil
	return nil
}
