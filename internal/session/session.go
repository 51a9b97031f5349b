package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/roomcast/internal/config"
	"github.com/1ureka/roomcast/internal/media"
	"github.com/1ureka/roomcast/internal/protocol"
	"github.com/1ureka/roomcast/internal/util"
)

// errDisconnected is returned by the peer send path after teardown.
var errDisconnected = errors.New("session disconnected")

// ChatEntry is one immutable line of room chat. Entries are appended to the
// history and never mutated.
type ChatEntry struct {
	Author    string
	Content   string
	Timestamp int64
}

// Session owns one relay connection, one local capture handle, and one Peer
// per remote participant in the room. It is the only component the UI layer
// talks to.
//
// The relay connection delivers envelopes in order through a single read
// loop; per-peer negotiation runs on its own goroutines so one slow peer
// never stalls the others.
type Session struct {
	cfg    config.Session
	engine media.Engine
	dial   Dialer

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	conn      Conn
	capture   media.Capture
	peers     map[string]*Peer
	selfID    string
	name      string
	room      string
	users     []string
	messages  []ChatEntry

	// Optional callbacks, set before Initialize. Invoked from the read
	// loop (or a peer goroutine), never while the session mutex is held.
	OnRoster        func(users []string)
	OnChat          func(entry ChatEntry)
	OnPeerConnected func(remoteID string)
	OnPeerClosed    func(remoteID string)
	OnPeerError     func(remoteID string, err error)
	OnRemoteTrack   func(remoteID, trackID string)
	OnDisconnected  func(err error)
}

// New creates a session over the given media engine, dialing the relay with
// the production dialer.
func New(cfg config.Session, engine media.Engine) *Session {
	return &Session{
		cfg:    cfg,
		engine: engine,
		dial:   DialRelay,
		peers:  make(map[string]*Peer),
	}
}

// Initialize acquires local media, opens the relay connection, and sends
// Join. It reports success only once the connection is open. On any failure
// every partially acquired resource is released and no peers exist.
func (s *Session) Initialize(ctx context.Context, name, room string) bool {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return false
	}
	sessCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	capture, err := s.engine.Capture(sessCtx)
	if err != nil {
		util.LogError("failed to acquire local media: %v", err)
		cancel()
		return false
	}

	conn, err := s.dial(sessCtx, s.cfg.RelayURL)
	if err != nil {
		util.LogError("failed to open relay connection: %v", err)
		capture.Close()
		cancel()
		return false
	}

	if err := conn.Send(&protocol.Envelope{Event: protocol.EventJoin, Name: name, Room: room}); err != nil {
		util.LogError("failed to send Join: %v", err)
		conn.Close()
		capture.Close()
		cancel()
		return false
	}

	s.mu.Lock()
	if sessCtx.Err() != nil {
		// Disconnect raced the initialization; undo everything.
		s.mu.Unlock()
		conn.Close()
		capture.Close()
		return false
	}
	s.conn = conn
	s.capture = capture
	s.name = name
	s.room = room
	s.peers = make(map[string]*Peer)
	s.connected = true
	s.mu.Unlock()

	go s.readLoop(sessCtx, conn)

	util.LogInfo("joined room %q as %s", room, name)
	return true
}

// Connected reports whether the session currently holds an open relay
// connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SelfID returns the identifier the relay assigned to this session.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Users returns the latest room membership.
func (s *Session) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.users))
	copy(out, s.users)
	return out
}

// Messages returns the chat history.
func (s *Session) Messages() []ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatEntry, len(s.messages))
	copy(out, s.messages)
	return out
}

// SendChat sends a chat envelope and appends the local copy immediately —
// the relay never echoes chat back to its sender.
func (s *Session) SendChat(text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	conn := s.conn
	author := s.name
	s.mu.Unlock()
	if conn == nil {
		return
	}

	if err := conn.Send(&protocol.Envelope{Event: protocol.EventChat, Content: text}); err != nil {
		util.LogWarning("failed to send chat: %v", err)
		return
	}

	entry := ChatEntry{Author: author, Content: text, Timestamp: time.Now().UnixMilli()}
	s.mu.Lock()
	s.messages = append(s.messages, entry)
	cb := s.OnChat
	s.mu.Unlock()
	if cb != nil {
		cb(entry)
	}
}

// Disconnect tears the session down: closes every peer, stops capture,
// sends Leave while the connection is still open, closes it, and resets all
// visible state. Safe to call repeatedly and concurrently with an in-flight
// Initialize.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	capture := s.capture
	peers := s.peers
	// Cancel while still holding the lock, so an Initialize that already
	// dialed cannot pass its context check and commit after we return.
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.conn = nil
	s.capture = nil
	s.peers = make(map[string]*Peer)
	s.connected = false
	s.selfID = ""
	s.users = nil
	s.messages = nil
	s.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	if capture != nil {
		capture.Close()
	}
	if conn != nil {
		// Best effort; the relay also handles abrupt closure.
		_ = conn.Send(&protocol.Envelope{Event: protocol.EventLeave})
		conn.Close()
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Envelope processing
// ─────────────────────────────────────────────────────────────────────────────

// readLoop processes relay envelopes one at a time. Codec-level failures
// are dropped and the loop keeps going; a transport failure ends the whole
// session.
func (s *Session) readLoop(ctx context.Context, conn Conn) {
	for {
		env, err := conn.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) ||
				errors.Is(err, protocol.ErrUnknownType) ||
				errors.Is(err, protocol.ErrTooLarge) {
				util.LogWarning("dropping relay envelope: %v", err)
				continue
			}
			if ctx.Err() == nil {
				util.LogError("relay connection lost: %v", err)
				s.Disconnect()
				if s.OnDisconnected != nil {
					s.OnDisconnected(err)
				}
			}
			return
		}
		s.handleEnvelope(env)
	}
}

func (s *Session) handleEnvelope(env *protocol.Envelope) {
	switch env.Event {
	case protocol.EventWelcome:
		s.mu.Lock()
		s.selfID = env.ID
		s.mu.Unlock()
		util.LogDebug("assigned identifier %s", env.ID)

	case protocol.EventRoomUsers:
		s.applyRoster(env.Users)

	case protocol.EventOffer:
		if p := s.peerFor(env.Sender, true); p != nil {
			go p.handleOffer(env.SDP)
		}

	case protocol.EventAnswer:
		if p := s.peerFor(env.Sender, false); p != nil {
			go p.handleAnswer(env.SDP)
		}

	case protocol.EventIceCandidate:
		if p := s.peerFor(env.Sender, false); p != nil {
			c := media.Candidate{Candidate: env.Candidate, SDPMid: env.SDPMid}
			if env.SDPMLineIndex != nil {
				c.SDPMLineIndex = *env.SDPMLineIndex
			}
			p.handleCandidate(c)
		}

	case protocol.EventChat:
		entry := ChatEntry{Author: env.Sender, Content: env.Content, Timestamp: env.Timestamp}
		s.mu.Lock()
		s.messages = append(s.messages, entry)
		cb := s.OnChat
		s.mu.Unlock()
		if cb != nil {
			cb(entry)
		}

	case protocol.EventError:
		util.LogWarning("relay error: %s", env.Message)

	default:
		util.LogDebug("ignoring %s envelope from relay", env.Event)
	}
}

// applyRoster diffs the broadcast membership against the live peer map:
// new identifiers get a coordinator (and an offer, when we are the elected
// caller), departed identifiers get closed.
func (s *Session) applyRoster(users []string) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	selfID := s.selfID
	present := make(map[string]bool, len(users))
	for _, id := range users {
		present[id] = true
	}

	var closing []*Peer
	for id, p := range s.peers {
		if !present[id] {
			delete(s.peers, id)
			closing = append(closing, p)
		}
	}

	var starting []*Peer
	failures := make(map[string]error)
	for _, id := range users {
		if id == selfID || id == "" || selfID == "" {
			continue
		}
		if _, ok := s.peers[id]; ok {
			continue
		}
		p, err := s.newPeerLocked(selfID, id)
		if err != nil {
			failures[id] = err
			continue
		}
		s.peers[id] = p
		starting = append(starting, p)
	}

	s.users = append([]string(nil), users...)
	cb := s.OnRoster
	s.mu.Unlock()

	for id, err := range failures {
		util.LogError("failed to create media link for %s: %v", id, err)
	}

	for _, p := range closing {
		p.Close()
	}
	for _, p := range starting {
		if p.Caller() {
			go p.startOffer()
		}
	}
	if cb != nil {
		cb(s.Users())
	}
}

// peerFor finds the coordinator for a sender, optionally creating one for
// an inbound offer that outran its RoomUsers broadcast. A Closed peer is
// never reused; a stale sender simply gets nothing.
func (s *Session) peerFor(sender string, create bool) *Peer {
	if sender == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	if p, ok := s.peers[sender]; ok {
		return p
	}
	if !create {
		return nil
	}

	p, err := s.newPeerLocked(s.selfID, sender)
	if err != nil {
		util.LogError("failed to create media link for %s: %v", sender, err)
		return nil
	}
	s.peers[sender] = p
	return p
}

// newPeerLocked mints a coordinator over a fresh media link. Caller holds
// the session mutex.
func (s *Session) newPeerLocked(selfID, remoteID string) (*Peer, error) {
	link, err := s.engine.NewLink(s.capture)
	if err != nil {
		return nil, err
	}

	send := func(env *protocol.Envelope) error {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return errDisconnected
		}
		return conn.Send(env)
	}

	onError := func(id string, err error) {
		if s.OnPeerError != nil {
			s.OnPeerError(id, err)
		}
	}

	onClosed := func(id string) {
		s.mu.Lock()
		if cur, ok := s.peers[id]; ok && cur.closed() {
			delete(s.peers, id)
		}
		s.mu.Unlock()
		if s.OnPeerClosed != nil {
			s.OnPeerClosed(id)
		}
	}

	p := newPeer(selfID, remoteID, link, send, s.cfg.NegotiationDeadline(), onError, onClosed)
	p.onConnected = func(id string) {
		if s.OnPeerConnected != nil {
			s.OnPeerConnected(id)
		}
	}
	p.onRemoteTrack = func(id, trackID string) {
		if s.OnRemoteTrack != nil {
			s.OnRemoteTrack(id, trackID)
		}
	}

	return p, nil
}
