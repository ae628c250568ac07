package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 1 << 20
)

// WSDialer dials the relay directly; every frame is one envelope.
type WSDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWSDialer returns a WSDialer using gorilla's default dialer settings.
func NewWSDialer() *WSDialer {
	return &WSDialer{Dialer: websocket.DefaultDialer}
}

// Dial connects to url and returns the connection as a Conn.
func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, err := d.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

func (d *WSDialer) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// wsConn serializes writes; gorilla allows one concurrent reader and one
// concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.conn.Close()
}
