package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// PionEngine implements Engine over pion/webrtc. Local media is a pair of
// static sample tracks the application can feed; actual device capture is
// the application's business.
type PionEngine struct {
	stunServers []string
}

// Compile-time interface checks.
var (
	_ Engine  = (*PionEngine)(nil)
	_ Capture = (*PionCapture)(nil)
	_ Link    = (*pionLink)(nil)
)

// NewPionEngine creates an engine gathering candidates via the given STUN
// servers.
func NewPionEngine(stunServers []string) *PionEngine {
	return &PionEngine{stunServers: stunServers}
}

// PionCapture holds the local sample tracks attached to every link.
type PionCapture struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
}

// Capture allocates the local audio/video tracks.
func (e *PionEngine) Capture(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "roomcast")
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "roomcast")
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	return &PionCapture{audio: audio, video: video}, nil
}

// AudioTrack exposes the local audio track for the application to feed.
func (c *PionCapture) AudioTrack() *webrtc.TrackLocalStaticSample { return c.audio }

// VideoTrack exposes the local video track for the application to feed.
func (c *PionCapture) VideoTrack() *webrtc.TrackLocalStaticSample { return c.video }

// Close releases the capture handle. Static sample tracks hold no device
// resources, so there is nothing to tear down beyond the links themselves.
func (c *PionCapture) Close() error { return nil }

// NewLink creates a PeerConnection carrying the captured tracks.
func (e *PionEngine) NewLink(cap Capture) (Link, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: e.stunServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	if pcap, ok := cap.(*PionCapture); ok {
		if _, err := pc.AddTrack(pcap.audio); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add audio track: %w", err)
		}
		if _, err := pc.AddTrack(pcap.video); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add video track: %w", err)
		}
	}

	return newPionLink(pc), nil
}

// pionLink adapts a pion PeerConnection to the Link interface.
type pionLink struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onCandidate func(Candidate)
	onConnected func()
	onFailed    func()
	onTrack     func(string)

	connectedOnce sync.Once
	failedOnce    sync.Once
}

func newPionLink(pc *webrtc.PeerConnection) *pionLink {
	l := &pionLink{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		init := c.ToJSON()
		cand := Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		l.mu.Lock()
		fn := l.onCandidate
		l.mu.Unlock()
		if fn != nil {
			fn(cand)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			l.connectedOnce.Do(func() {
				if fn := l.callback(&l.onConnected); fn != nil {
					fn()
				}
			})
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.failedOnce.Do(func() {
				if fn := l.callback(&l.onFailed); fn != nil {
					fn()
				}
			})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.mu.Lock()
		fn := l.onTrack
		l.mu.Unlock()
		if fn != nil {
			fn(track.ID())
		}
	})

	return l
}

// callback reads one of the func() fields under the lock.
func (l *pionLink) callback(slot *func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *slot
}

func (l *pionLink) OnICECandidate(fn func(Candidate)) {
	l.mu.Lock()
	l.onCandidate = fn
	l.mu.Unlock()
}

func (l *pionLink) OnConnected(fn func()) {
	l.mu.Lock()
	l.onConnected = fn
	l.mu.Unlock()
}

func (l *pionLink) OnFailed(fn func()) {
	l.mu.Lock()
	l.onFailed = fn
	l.mu.Unlock()
}

func (l *pionLink) OnRemoteTrack(fn func(string)) {
	l.mu.Lock()
	l.onTrack = fn
	l.mu.Unlock()
}

func (l *pionLink) CreateOffer() (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateOffer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}
	return offer.SDP, nil
}

func (l *pionLink) CreateAnswer() (string, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}
	return answer.SDP, nil
}

func (l *pionLink) SetRemoteDescription(kind, sdp string) error {
	var sdpType webrtc.SDPType
	switch kind {
	case KindOffer:
		sdpType = webrtc.SDPTypeOffer
	case KindAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("unknown description kind %q", kind)
	}
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp})
}

func (l *pionLink) AddICECandidate(c Candidate) error {
	mid := c.SDPMid
	idx := c.SDPMLineIndex
	return l.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}
