// Package transport provides the printer socket.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open printer connection. ReadMessage may run concurrently
// with the other methods; writes are serialized internally.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}

// Dialer opens printer connections.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// URL returns the SDCP endpoint for host:port.
func URL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/websocket"
}

// WebSocketDialer dials the printer with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	// PongWait bounds the silence between inbound frames or pongs. A
	// printer that stops answering pings fails ReadMessage after PongWait.
	// Zero disables the deadline.
	PongWait time.Duration
}

// NewWebSocketDialer returns a dialer with stock timeouts.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
		PongWait:         75 * time.Second,
	}
}

// Dial implements Dialer
func (d *WebSocketDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}

	url := URL(host, port)
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	c := &wsConn{conn: conn, writeTimeout: d.WriteTimeout, pongWait: d.PongWait}
	if c.pongWait > 0 {
		c.extendDeadline()
		conn.SetPongHandler(func(string) error {
			c.extendDeadline()
			return nil
		})
	}
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pongWait     time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err == nil && c.pongWait > 0 {
		c.extendDeadline()
	}
	return data, err
}

// extendDeadline runs on the reading goroutine only, from ReadMessage or
// the pong handler it invokes.
func (c *wsConn) extendDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.deadline()))
}

// Close sends a close frame when possible and closes the socket. Calling
// Close more than once returns the first result.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) deadline() time.Duration {
	if c.writeTimeout > 0 {
		return c.writeTimeout
	}
	return 5 * time.Second
}
