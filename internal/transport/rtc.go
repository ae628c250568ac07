package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/phonelink/internal/iceconfig"
	"github.com/1ureka/phonelink/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause writes when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume writes when bufferedAmount drops below this
	inboxSize     = 64
)

// RTCDialer establishes a DataChannel to the peer at the other role of a
// relay channel. The relay URL is dialed as a WebSocket and used only for
// the SDP/ICE exchange; it is closed once the DataChannel opens.
//
// Exactly one side of a channel must be the offerer.
type RTCDialer struct {
	Signal  *WSDialer
	Offerer bool

	mu      sync.RWMutex
	servers []iceconfig.Server
}

// NewRTCDialer returns an RTCDialer using the fallback ICE servers until
// SetICEServers is called.
func NewRTCDialer(offerer bool) *RTCDialer {
	return &RTCDialer{Signal: NewWSDialer(), Offerer: offerer}
}

// SetICEServers replaces the servers used for subsequent dials.
func (d *RTCDialer) SetICEServers(servers []iceconfig.Server) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.servers = append([]iceconfig.Server(nil), servers...)
}

func (d *RTCDialer) iceServers() []iceconfig.Server {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.servers
}

// Dial performs the signaling exchange over url and blocks until the
// DataChannel is open, signaling fails, or ctx is done.
func (d *RTCDialer) Dial(ctx context.Context, url string) (Conn, error) {
	signal := d.Signal
	if signal == nil {
		signal = NewWSDialer()
	}

	ws, err := signal.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	pc, err := newPeerConnection(d.iceServers())
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	c := newRTCConn(pc, dc)
	ex := newExchange(pc, ws, d.Offerer)

	if err := ex.run(ctx, c.ready); err != nil {
		c.Close()
		return nil, err
	}

	util.LogDebug("DataChannel established, closing signaling leg")
	return c, nil
}

// rtcConn adapts a DataChannel to Conn.
type rtcConn struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	inbox chan []byte
	drain chan struct{}
	ready chan struct{}
	done  chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once
}

func newRTCConn(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *rtcConn {
	c := &rtcConn{
		pc:    pc,
		dc:    dc,
		inbox: make(chan []byte, inboxSize),
		drain: make(chan struct{}, 1),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}

	dc.OnOpen(func() {
		c.readyOnce.Do(func() { close(c.ready) })
	})

	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		c.shutdown()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := append([]byte(nil), msg.Data...)
		select {
		case c.inbox <- data:
		case <-c.done:
		}
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drain <- struct{}{}:
		default:
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			c.shutdown()
		}
	})

	return c
}

func (c *rtcConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *rtcConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *rtcConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if c.dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-c.drain:
		case <-c.done:
			return ErrClosed
		}
	}
	return c.dc.Send(data)
}

func (c *rtcConn) Close() error {
	c.shutdown()
	return errors.Join(c.dc.Close(), c.pc.Close())
}
