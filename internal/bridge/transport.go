package bridge

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// MessageHandler consumes one raw inbound message from the channel.
type MessageHandler func(data []byte)

// WebSocketChannel adapts a websocket connection to the Channel interface.
// Writes are serialized with a mutex because gorilla/websocket allows at
// most one concurrent writer per connection.
type WebSocketChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Compile-time interface satisfaction check.
var _ Channel = (*WebSocketChannel)(nil)

// NewWebSocketChannel wraps an established websocket connection. The caller
// retains responsibility for dialing or upgrading the connection.
func NewWebSocketChannel(conn *websocket.Conn) *WebSocketChannel {
	return &WebSocketChannel{conn: conn}
}

// Send writes one text frame to the display surface.
func (c *WebSocketChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write display channel: %w", err)
	}
	return nil
}

// ReadLoop delivers inbound frames to handler until the connection fails or
// closes. It is meant to run on its own goroutine; the returned error is the
// read failure that ended the loop.
func (c *WebSocketChannel) ReadLoop(handler MessageHandler) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read display channel: %w", err)
		}
		handler(data)
	}
}

// Close closes the underlying connection, unblocking ReadLoop.
func (c *WebSocketChannel) Close() error {
	return c.conn.Close()
}
