package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/roomcast/internal/media"
	"github.com/1ureka/roomcast/internal/protocol"
	"github.com/1ureka/roomcast/internal/util"
)

// PeerState is the negotiation state of one remote participant.
type PeerState int

const (
	StateIdle PeerState = iota
	StateOffering
	StateAnswering
	StateNegotiating
	StateConnected
	StateClosed
)

// String returns the state name for logs.
func (s PeerState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOffering:
		return "Offering"
	case StateAnswering:
		return "Answering"
	case StateNegotiating:
		return "Negotiating"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

// Peer drives the offer/answer/candidate negotiation for one remote
// participant. Each instance is single-use: Closed is terminal, and a
// re-appearing remote identifier gets a fresh Peer.
//
// Media operations (CreateOffer, SetRemoteDescription, …) can be slow, so
// the facade invokes the handle* methods on per-peer goroutines. The mutex
// guards the state word and the candidate buffer; media calls happen with
// the lock released and their results are discarded if the peer closed in
// the meantime.
type Peer struct {
	remoteID string
	localID  string

	link media.Link
	send func(*protocol.Envelope) error

	mu        sync.Mutex
	state     PeerState
	remoteSet bool
	pending   []media.Candidate

	deadline  *time.Timer
	closeOnce sync.Once

	onError       func(remoteID string, err error)
	onClosed      func(remoteID string)
	onConnected   func(remoteID string)
	onRemoteTrack func(remoteID, trackID string)
}

// newPeer wires a coordinator around a media link. The link's callbacks are
// registered here, before any signaling can arrive for this peer.
func newPeer(localID, remoteID string, link media.Link, send func(*protocol.Envelope) error,
	negotiationTimeout time.Duration, onError func(string, error), onClosed func(string)) *Peer {

	p := &Peer{
		remoteID: remoteID,
		localID:  localID,
		link:     link,
		send:     send,
		state:    StateIdle,
		onError:  onError,
		onClosed: onClosed,
	}

	// Trickle locally gathered candidates to the remote. Best effort: the
	// relay drops them anyway if the remote already left.
	link.OnICECandidate(func(c media.Candidate) {
		idx := c.SDPMLineIndex
		_ = p.send(&protocol.Envelope{
			Event:         protocol.EventIceCandidate,
			Target:        remoteID,
			Candidate:     c.Candidate,
			SDPMid:        c.SDPMid,
			SDPMLineIndex: &idx,
		})
	})

	link.OnConnected(func() { p.setConnected() })
	link.OnFailed(func() { p.Close() })
	link.OnRemoteTrack(func(trackID string) { p.remoteTrack(trackID) })

	if negotiationTimeout > 0 {
		p.deadline = time.AfterFunc(negotiationTimeout, p.expire)
	}

	return p
}

// RemoteID returns the remote participant's identifier.
func (p *Peer) RemoteID() string { return p.remoteID }

// State returns the current negotiation state.
func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Caller reports whether the local side initiates the offer for this pair.
// The lexicographically smaller identifier calls, so exactly one side offers
// and glare cannot occur.
func (p *Peer) Caller() bool {
	return p.localID < p.remoteID
}

// startOffer runs the caller side: Idle → Offering, build and send the offer.
func (p *Peer) startOffer() {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return
	}
	p.state = StateOffering
	p.mu.Unlock()

	sdp, err := p.link.CreateOffer()
	if err != nil {
		p.fail(fmt.Errorf("CreateOffer: %w", err))
		return
	}
	if p.closed() {
		return
	}
	if err := p.send(&protocol.Envelope{Event: protocol.EventOffer, Target: p.remoteID, SDP: sdp}); err != nil {
		p.fail(fmt.Errorf("send offer: %w", err))
	}
}

// handleOffer runs the callee side: Idle → Answering, apply the remote
// offer, reply with an answer, → Negotiating.
func (p *Peer) handleOffer(sdp string) {
	p.mu.Lock()
	if p.state != StateIdle {
		// Glare would show up here; the caller election rules it out, so
		// anything else is a stale or duplicate offer.
		p.mu.Unlock()
		util.LogDebug("peer %s: dropping offer in state %s", p.remoteID, p.state)
		return
	}
	p.state = StateAnswering
	p.mu.Unlock()

	if err := p.link.SetRemoteDescription(media.KindOffer, sdp); err != nil {
		p.fail(fmt.Errorf("SetRemoteDescription(offer): %w", err))
		return
	}
	p.flushCandidates()

	answer, err := p.link.CreateAnswer()
	if err != nil {
		p.fail(fmt.Errorf("CreateAnswer: %w", err))
		return
	}
	if p.closed() {
		return
	}
	if err := p.send(&protocol.Envelope{Event: protocol.EventAnswer, Target: p.remoteID, SDP: answer}); err != nil {
		p.fail(fmt.Errorf("send answer: %w", err))
		return
	}

	p.transition(StateAnswering, StateNegotiating)
}

// handleAnswer completes the caller side: Offering → Negotiating. The state
// flips before the lock is released, so a duplicate answer finds the gate
// closed and is dropped instead of applied twice.
func (p *Peer) handleAnswer(sdp string) {
	p.mu.Lock()
	if p.state != StateOffering {
		p.mu.Unlock()
		util.LogDebug("peer %s: dropping answer in state %s", p.remoteID, p.state)
		return
	}
	p.state = StateNegotiating
	p.mu.Unlock()

	if err := p.link.SetRemoteDescription(media.KindAnswer, sdp); err != nil {
		p.fail(fmt.Errorf("SetRemoteDescription(answer): %w", err))
		return
	}
	p.flushCandidates()
}

// handleCandidate applies a remote candidate, or buffers it while no remote
// description is set yet. Buffered candidates are flushed in arrival order.
func (p *Peer) handleCandidate(c media.Candidate) {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.link.AddICECandidate(c); err != nil {
		util.LogWarning("peer %s: AddICECandidate: %v", p.remoteID, err)
	}
}

// flushCandidates marks the remote description applied and drains the
// buffer in order. Candidates arriving mid-drain land in pending and are
// picked up under the same lock, preserving arrival order.
func (p *Peer) flushCandidates() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return
	}
	p.remoteSet = true
	for _, c := range p.pending {
		if err := p.link.AddICECandidate(c); err != nil {
			util.LogWarning("peer %s: AddICECandidate (buffered): %v", p.remoteID, err)
		}
	}
	p.pending = nil
}

// setConnected records the link carrying media.
func (p *Peer) setConnected() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateConnected
	if p.deadline != nil {
		p.deadline.Stop()
	}
	p.mu.Unlock()
	util.LogInfo("peer %s: media link established", p.remoteID)
	if p.onConnected != nil {
		p.onConnected(p.remoteID)
	}
}

// remoteTrack surfaces an inbound media track, attributed to this peer.
func (p *Peer) remoteTrack(trackID string) {
	if p.closed() {
		return
	}
	util.LogDebug("peer %s: remote track %s", p.remoteID, trackID)
	if p.onRemoteTrack != nil {
		p.onRemoteTrack(p.remoteID, trackID)
	}
}

// transition moves from an expected state, and is a no-op from any other
// (a close may have intervened).
func (p *Peer) transition(from, to PeerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == from {
		p.state = to
	}
}

// expire fires when negotiation overran its deadline without connecting.
func (p *Peer) expire() {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state == StateConnected || state == StateClosed {
		return
	}
	util.LogWarning("peer %s: negotiation timed out in state %s", p.remoteID, state)
	p.Close()
}

// fail reports a negotiation error upward and closes the peer. The failure
// stays local to this pair; other peers and the relay connection are
// untouched.
func (p *Peer) fail(err error) {
	if p.closed() {
		return
	}
	util.LogWarning("peer %s: %v", p.remoteID, err)
	if p.onError != nil {
		p.onError(p.remoteID, err)
	}
	p.Close()
}

// closed reports whether the peer reached the terminal state.
func (p *Peer) closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateClosed
}

// Close releases the media link and discards buffered candidates. Terminal
// and idempotent.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = StateClosed
		p.pending = nil
		if p.deadline != nil {
			p.deadline.Stop()
		}
		p.mu.Unlock()

		if err := p.link.Close(); err != nil {
			util.LogDebug("peer %s: link close: %v", p.remoteID, err)
		}
		if p.onClosed != nil {
			p.onClosed(p.remoteID)
		}
	})
}
