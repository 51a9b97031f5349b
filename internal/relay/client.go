package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/roomcast/internal/protocol"
	"github.com/1ureka/roomcast/internal/util"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// client wraps a single websocket connection. It owns the bounded outbox
// that decouples the engine from the socket: the engine enqueues, writePump
// drains, and overflow kicks the connection instead of blocking the engine.
type client struct {
	engine *Engine
	conn   *websocket.Conn

	outbox   chan []byte
	kickOnce sync.Once
	kicked   chan struct{}

	maxBytes int

	// participant is set once a Join is accepted; only the readPump
	// goroutine touches it.
	participant *Participant
}

// Compile-time interface check.
var _ Sink = (*client)(nil)

func newClient(engine *Engine, conn *websocket.Conn, sendBuffer, maxBytes int) *client {
	return &client{
		engine:   engine,
		conn:     conn,
		outbox:   make(chan []byte, sendBuffer),
		kicked:   make(chan struct{}),
		maxBytes: maxBytes,
	}
}

// Enqueue queues an encoded envelope for delivery. Returns false when the
// outbox is full.
func (c *client) Enqueue(data []byte) bool {
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

// Kick forces the connection closed. Safe to call multiple times and from
// any goroutine.
func (c *client) Kick() {
	c.kickOnce.Do(func() { close(c.kicked) })
}

// run starts the write pump and blocks in the read pump until the
// connection dies. Roster cleanup happens exactly once, on exit.
func (c *client) run() {
	go c.writePump()
	c.readPump()
}

// readPump reads envelopes off the wire and hands them to the engine.
// Malformed, oversized, or unknown input is answered with an Error envelope
// and the connection stays open; one participant's garbage must not affect
// others. All reads happen on this goroutine.
func (c *client) readPump() {
	defer func() {
		if c.participant != nil {
			c.engine.HandleLeave(c.participant)
		}
		c.Kick()
		c.conn.Close()
	}()

	// Leave headroom over the envelope budget so the limit error we report
	// is the codec's, not a websocket close.
	c.conn.SetReadLimit(int64(c.maxBytes) + 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("connection closed: %v", err)
			}
			return
		}

		env, err := protocol.DecodeLimit(data, c.maxBytes)
		if err != nil {
			util.Stats.AddDropped()
			util.LogWarning("dropping envelope: %v", err)
			c.reply(&protocol.Envelope{Event: protocol.EventError, Message: errorMessage(err)})
			continue
		}

		switch {
		case env.Event == protocol.EventJoin && c.participant == nil:
			c.participant = c.engine.HandleJoin(c, env.Name, env.Room)

		case env.Event == protocol.EventJoin:
			util.LogWarning("participant %s sent Join twice", c.participant.ID)
			c.reply(&protocol.Envelope{Event: protocol.EventError, Message: "already joined"})

		case c.participant == nil:
			c.reply(&protocol.Envelope{Event: protocol.EventError, Message: "you must join a room first"})

		case env.Event == protocol.EventLeave:
			// The connection survives a Leave; the client may Join again.
			c.engine.HandleLeave(c.participant)
			c.participant = nil

		default:
			c.engine.HandleEnvelope(c.participant, env)
		}
	}
}

// writePump drains the outbox to the websocket and keeps the connection
// alive with pings. All writes happen on this goroutine.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.kicked:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
			return
		}
	}
}

// reply enqueues an envelope straight back to this connection.
func (c *client) reply(env *protocol.Envelope) {
	if !c.Enqueue(protocol.Encode(env)) {
		c.Kick()
	}
}

// errorMessage maps a codec failure to the wire-level error text.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTooLarge):
		return "envelope too large"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown event type"
	default:
		return "invalid message format"
	}
}
