// Package session implements the client side of roomcast: the relay
// connection, the per-peer negotiation coordinators, and the facade that
// owns them.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/roomcast/internal/protocol"
)

// Conn is the session's view of the relay connection: ordered reads, safe
// concurrent writes. Tests substitute their own implementation.
type Conn interface {
	Send(env *protocol.Envelope) error
	Read() (*protocol.Envelope, error)
	Close() error
}

// Dialer opens a relay connection. DialRelay is the production dialer.
type Dialer func(ctx context.Context, url string) (Conn, error)

// relayConn wraps a websocket connection. Writes are serialized by a mutex;
// reads are expected from a single goroutine (the session's read loop).
type relayConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Compile-time interface check.
var _ Conn = (*relayConn)(nil)

// DialRelay dials the relay's WebSocket URL, e.g. ws://example:3030/ws.
// A successful return means the connection is open.
func DialRelay(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return &relayConn{conn: conn}, nil
}

// Send writes one encoded envelope, guarded by a mutex.
func (c *relayConn) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, protocol.Encode(env))
}

// Read blocks for the next envelope. Envelopes the codec rejects are
// surfaced as errors; the caller decides whether to keep reading.
func (c *relayConn) Read() (*protocol.Envelope, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("relay read: %w", err)
	}
	return protocol.Decode(data)
}

// Close shuts the websocket down.
func (c *relayConn) Close() error {
	return c.conn.Close()
}
