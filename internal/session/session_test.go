package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/roomcast/internal/config"
	"github.com/1ureka/roomcast/internal/protocol"
)

// Compile-time interface check.
var _ Conn = (*fakeConn)(nil)

// fakeConn is an in-process relay connection. The test pushes envelopes the
// "relay" sends and inspects what the session sent back.
type fakeConn struct {
	mu   sync.Mutex
	sent []*protocol.Envelope

	in        chan *protocol.Envelope
	failure   chan error
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan *protocol.Envelope, 16),
		failure: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(env *protocol.Envelope) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Read() (*protocol.Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case err := <-c.failure:
		return nil, err
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// push delivers an envelope as if the relay had sent it.
func (c *fakeConn) push(env *protocol.Envelope) { c.in <- env }

// fail makes the next Read return a transport error.
func (c *fakeConn) fail(err error) { c.failure <- err }

func (c *fakeConn) sentByEvent(ev protocol.Event) []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range c.sent {
		if env.Event == ev {
			out = append(out, env)
		}
	}
	return out
}

// newTestSession wires a session to a fakeConn and fakeEngine.
func newTestSession(t *testing.T) (*Session, *fakeConn, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{}
	conn := newFakeConn()

	cfg := config.DefaultSession()
	cfg.RelayURL = "ws://test/ws"

	s := New(cfg, engine)
	s.dial = func(ctx context.Context, url string) (Conn, error) { return conn, nil }
	t.Cleanup(s.Disconnect)
	return s, conn, engine
}

// join initializes the session and completes the Welcome handshake.
func join(t *testing.T, s *Session, conn *fakeConn, selfID string) {
	t.Helper()
	if !s.Initialize(context.Background(), "alice", "42") {
		t.Fatal("Initialize failed")
	}
	conn.push(&protocol.Envelope{Event: protocol.EventWelcome, ID: selfID})
	waitFor(t, "welcome", func() bool { return s.SelfID() == selfID })
}

// TestInitializeSendsJoin verifies the startup sequence: capture, dial,
// Join envelope, connected state.
func TestInitializeSendsJoin(t *testing.T) {
	s, conn, engine := newTestSession(t)
	join(t, s, conn, "me")

	joins := conn.sentByEvent(protocol.EventJoin)
	if len(joins) != 1 || joins[0].Name != "alice" || joins[0].Room != "42" {
		t.Fatalf("join envelopes = %+v", joins)
	}
	if !s.Connected() {
		t.Fatal("session not connected after Initialize")
	}
	if engine.capture == nil {
		t.Fatal("local media never acquired")
	}

	// A second Initialize on a live session is refused.
	if s.Initialize(context.Background(), "alice", "42") {
		t.Fatal("second Initialize succeeded")
	}
}

// TestInitializeCaptureFailure verifies media acquisition failure aborts
// cleanly: no connection, no peers, failure result.
func TestInitializeCaptureFailure(t *testing.T) {
	engine := &fakeEngine{captureErr: errors.New("no camera")}
	cfg := config.DefaultSession()
	s := New(cfg, engine)

	dialed := false
	s.dial = func(ctx context.Context, url string) (Conn, error) {
		dialed = true
		return nil, errors.New("unreachable")
	}

	if s.Initialize(context.Background(), "alice", "42") {
		t.Fatal("Initialize succeeded without media")
	}
	if dialed {
		t.Fatal("dialed the relay despite capture failure")
	}
}

// TestInitializeDialFailure verifies the capture handle is released when
// the relay is unreachable.
func TestInitializeDialFailure(t *testing.T) {
	engine := &fakeEngine{}
	cfg := config.DefaultSession()
	s := New(cfg, engine)
	s.dial = func(ctx context.Context, url string) (Conn, error) {
		return nil, errors.New("connection refused")
	}

	if s.Initialize(context.Background(), "alice", "42") {
		t.Fatal("Initialize succeeded without a relay")
	}
	if engine.capture == nil || engine.capture.closed == 0 {
		t.Fatal("capture not released after dial failure")
	}
}

// TestRosterDiff verifies RoomUsers drives coordinator lifecycle: new
// identifiers get peers (with an offer only when we are the caller),
// departed identifiers get closed.
func TestRosterDiff(t *testing.T) {
	s, conn, engine := newTestSession(t)
	join(t, s, conn, "bbb")

	// "aaa" sorts before us: they call, we stay idle. "zzz" sorts after:
	// we call.
	conn.push(&protocol.Envelope{Event: protocol.EventRoomUsers, Users: []string{"aaa", "bbb", "zzz"}})

	waitFor(t, "peers created", func() bool { return engine.linkCount() == 2 })
	waitFor(t, "offer to zzz", func() bool {
		offers := conn.sentByEvent(protocol.EventOffer)
		return len(offers) == 1 && offers[0].Target == "zzz"
	})

	// No offer toward aaa, ever.
	time.Sleep(20 * time.Millisecond)
	for _, offer := range conn.sentByEvent(protocol.EventOffer) {
		if offer.Target == "aaa" {
			t.Fatal("offered toward the elected caller")
		}
	}

	// aaa leaves: its coordinator closes, zzz's survives.
	conn.push(&protocol.Envelope{Event: protocol.EventRoomUsers, Users: []string{"bbb", "zzz"}})
	waitFor(t, "aaa closed", func() bool { return engine.link(0).isClosed() != engine.link(1).isClosed() })

	users := s.Users()
	if len(users) != 2 {
		t.Fatalf("users = %v", users)
	}
}

// TestInboundOfferBeforeRoster verifies an Offer that outruns its RoomUsers
// broadcast still gets a coordinator and an answer.
func TestInboundOfferBeforeRoster(t *testing.T) {
	s, conn, engine := newTestSession(t)
	join(t, s, conn, "zzz")

	conn.push(&protocol.Envelope{Event: protocol.EventOffer, Sender: "aaa", SDP: "offer-sdp"})

	waitFor(t, "answer", func() bool {
		answers := conn.sentByEvent(protocol.EventAnswer)
		return len(answers) == 1 && answers[0].Target == "aaa"
	})
	if engine.linkCount() != 1 {
		t.Fatalf("links = %d, want 1", engine.linkCount())
	}
}

// TestCandidateRoutedToPeer verifies inbound candidates reach the right
// coordinator.
func TestCandidateRoutedToPeer(t *testing.T) {
	s, conn, engine := newTestSession(t)
	join(t, s, conn, "zzz")

	conn.push(&protocol.Envelope{Event: protocol.EventOffer, Sender: "aaa", SDP: "offer-sdp"})
	waitFor(t, "peer", func() bool { return engine.linkCount() == 1 })

	idx := uint16(0)
	conn.push(&protocol.Envelope{
		Event: protocol.EventIceCandidate, Sender: "aaa",
		Candidate: "candidate:1", SDPMid: "0", SDPMLineIndex: &idx,
	})
	waitFor(t, "candidate applied", func() bool {
		applied := engine.link(0).applied()
		return len(applied) == 1 && applied[0].Candidate == "candidate:1"
	})
}

// TestChatLocalEchoAndHistory verifies outbound chat is appended locally
// (the relay never echoes) and inbound chat lands in the history.
func TestChatLocalEchoAndHistory(t *testing.T) {
	s, conn, _ := newTestSession(t)
	join(t, s, conn, "me")

	s.SendChat("hello")
	sent := conn.sentByEvent(protocol.EventChat)
	if len(sent) != 1 || sent[0].Content != "hello" {
		t.Fatalf("sent chat = %+v", sent)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Author != "alice" || msgs[0].Content != "hello" {
		t.Fatalf("local history = %+v", msgs)
	}

	conn.push(&protocol.Envelope{Event: protocol.EventChat, Sender: "peer-1", Content: "hi", Timestamp: 123})
	waitFor(t, "inbound chat", func() bool { return len(s.Messages()) == 2 })
	if got := s.Messages()[1]; got.Author != "peer-1" || got.Timestamp != 123 {
		t.Fatalf("inbound entry = %+v", got)
	}
}

// TestDisconnectIdempotent verifies repeated disconnects land in the same
// terminal state with everything released.
func TestDisconnectIdempotent(t *testing.T) {
	s, conn, engine := newTestSession(t)
	join(t, s, conn, "bbb")

	conn.push(&protocol.Envelope{Event: protocol.EventRoomUsers, Users: []string{"bbb", "zzz"}})
	waitFor(t, "peer", func() bool { return engine.linkCount() == 1 })

	s.Disconnect()
	s.Disconnect()

	if s.Connected() || s.SelfID() != "" || len(s.Users()) != 0 || len(s.Messages()) != 0 {
		t.Fatal("session state not reset")
	}
	if !engine.link(0).isClosed() {
		t.Fatal("peer link leaked")
	}
	if engine.capture.closed == 0 {
		t.Fatal("capture leaked")
	}
}

// TestDisconnectRacesInitialize verifies a disconnect landing mid-initialize
// leaves no session behind.
func TestDisconnectRacesInitialize(t *testing.T) {
	engine := &fakeEngine{}
	cfg := config.DefaultSession()
	s := New(cfg, engine)

	dialing := make(chan struct{})
	s.dial = func(ctx context.Context, url string) (Conn, error) {
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	done := make(chan bool, 1)
	go func() { done <- s.Initialize(context.Background(), "alice", "42") }()

	<-dialing
	s.Disconnect()

	if ok := <-done; ok {
		t.Fatal("Initialize succeeded after Disconnect")
	}
	if s.Connected() {
		t.Fatal("session connected after racing Disconnect")
	}
	if engine.capture.closed == 0 {
		t.Fatal("capture leaked in the race")
	}
}

// TestDisconnectAfterDialLeavesNoSession verifies that once Disconnect
// returns, an Initialize past its dial cannot commit a live session behind
// it. The interleaving is timing-dependent, hence the iterations.
func TestDisconnectAfterDialLeavesNoSession(t *testing.T) {
	for i := 0; i < 200; i++ {
		engine := &fakeEngine{}
		cfg := config.DefaultSession()
		cfg.RelayURL = "ws://test/ws"
		s := New(cfg, engine)

		conn := newFakeConn()
		dialed := make(chan struct{})
		s.dial = func(ctx context.Context, url string) (Conn, error) {
			close(dialed)
			return conn, nil
		}

		done := make(chan bool, 1)
		go func() { done <- s.Initialize(context.Background(), "alice", "42") }()

		<-dialed
		s.Disconnect()
		<-done

		if s.Connected() {
			t.Fatalf("iteration %d: session still connected after Disconnect", i)
		}
		if engine.capture.closed == 0 {
			t.Fatalf("iteration %d: capture leaked", i)
		}
	}
}

// TestRemoteTrackReachesFacade verifies an inbound track on a peer's media
// link surfaces through the session callback, keyed by the peer identifier.
func TestRemoteTrackReachesFacade(t *testing.T) {
	s, conn, engine := newTestSession(t)

	var mu sync.Mutex
	tracks := make(map[string]string)
	s.OnRemoteTrack = func(remoteID, trackID string) {
		mu.Lock()
		tracks[remoteID] = trackID
		mu.Unlock()
	}

	join(t, s, conn, "bbb")
	conn.push(&protocol.Envelope{Event: protocol.EventRoomUsers, Users: []string{"bbb", "zzz"}})
	waitFor(t, "peer", func() bool { return engine.linkCount() == 1 })

	engine.link(0).onTrack("track-7")
	waitFor(t, "track surfaced", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return tracks["zzz"] == "track-7"
	})
}

// TestRosterLinkFailureSkipsPeer verifies a media-link failure during a
// roster diff leaves no half-made coordinator behind and the identifier is
// retried on the next broadcast.
func TestRosterLinkFailureSkipsPeer(t *testing.T) {
	s, conn, engine := newTestSession(t)
	join(t, s, conn, "bbb")

	engine.setLinkErr(errors.New("no transport"))
	conn.push(&protocol.Envelope{Event: protocol.EventRoomUsers, Users: []string{"bbb", "zzz"}})
	waitFor(t, "roster applied", func() bool { return len(s.Users()) == 2 })

	if engine.linkCount() != 0 {
		t.Fatalf("links = %d, want 0 after failure", engine.linkCount())
	}
	if offers := conn.sentByEvent(protocol.EventOffer); len(offers) != 0 {
		t.Fatalf("offers sent despite link failure: %+v", offers)
	}

	engine.setLinkErr(nil)
	conn.push(&protocol.Envelope{Event: protocol.EventRoomUsers, Users: []string{"bbb", "zzz"}})
	waitFor(t, "peer retried", func() bool { return engine.linkCount() == 1 })
}

// TestRelayLossTearsDownSession verifies a transport failure closes every
// peer and surfaces a disconnection event.
func TestRelayLossTearsDownSession(t *testing.T) {
	s, conn, engine := newTestSession(t)

	var lostMu sync.Mutex
	var lost error
	s.OnDisconnected = func(err error) {
		lostMu.Lock()
		lost = err
		lostMu.Unlock()
	}

	join(t, s, conn, "bbb")
	conn.push(&protocol.Envelope{Event: protocol.EventRoomUsers, Users: []string{"bbb", "zzz"}})
	waitFor(t, "peer", func() bool { return engine.linkCount() == 1 })

	conn.fail(errors.New("connection reset"))

	waitFor(t, "teardown", func() bool { return !s.Connected() })
	waitFor(t, "peer closed", func() bool { return engine.link(0).isClosed() })
	waitFor(t, "disconnect callback", func() bool {
		lostMu.Lock()
		defer lostMu.Unlock()
		return lost != nil
	})
}
