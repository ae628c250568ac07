// Package transport defines the duplex message pipe the reconnecting socket
// runs on, with a plain relay WebSocket implementation and a WebRTC
// DataChannel implementation that signals through the same relay.
package transport

import (
	"context"
	"errors"

	"github.com/1ureka/phonelink/internal/iceconfig"
)

// ErrClosed is returned by Conn methods after the connection is torn down.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one established, message-oriented leg. ReadMessage blocks until a
// whole message arrives or the leg dies. WriteMessage may be called
// concurrently with ReadMessage; Close unblocks both.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to a relay URL. Dial must give up when ctx is done.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// ICEConfigurable is implemented by dialers that need STUN/TURN servers.
type ICEConfigurable interface {
	SetICEServers(servers []iceconfig.Server)
}
