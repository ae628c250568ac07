// Package transporttest provides an in-memory relay for exercising the
// socket, channel and manager packages without a network.
package transporttest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/1ureka/phonelink/internal/transport"
)

// ErrInjected is returned by Dial while failures are being injected.
var ErrInjected = errors.New("transporttest: injected dial failure")

// Hub routes messages between connections dialed at .../{channel}/{role}:
// a write on one role is delivered to every connection of any other role
// in the same channel, like the relay.
type Hub struct {
	mu       sync.Mutex
	rooms    map[string][]*Conn
	failNext int
	failAll  bool
	hang     bool
	dials    int
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string][]*Conn)}
}

// Dial implements transport.Dialer.
func (h *Hub) Dial(ctx context.Context, url string) (transport.Conn, error) {
	channel, role := splitURL(url)

	h.mu.Lock()
	h.dials++
	hang := h.hang
	fail := h.failAll || h.failNext > 0
	if h.failNext > 0 {
		h.failNext--
	}
	h.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, ErrInjected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Conn{
		hub:     h,
		URL:     url,
		channel: channel,
		role:    role,
		inbox:   make(chan []byte, 256),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.rooms[channel] = append(h.rooms[channel], c)
	h.mu.Unlock()
	return c, nil
}

// FailNext makes the next n dials fail.
func (h *Hub) FailNext(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failNext = n
}

// FailAll makes every dial fail until called with false.
func (h *Hub) FailAll(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failAll = on
}

// Hang makes dials block until their context is done.
func (h *Hub) Hang(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hang = on
}

// Dials is the number of Dial calls so far.
func (h *Hub) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// Conns returns the live connections of a role in a channel.
func (h *Hub) Conns(channel, role string) []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*Conn
	for _, c := range h.rooms[channel] {
		if c.role == role {
			out = append(out, c)
		}
	}
	return out
}

// Drop kills every live connection as if the relay went away.
func (h *Hub) Drop() {
	h.mu.Lock()
	var all []*Conn
	for _, conns := range h.rooms {
		all = append(all, conns...)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

// Inject delivers data to every connection of role in channel, as if a
// peer had written it.
func (h *Hub) Inject(channel, role string, data []byte) {
	for _, c := range h.Conns(channel, role) {
		c.deliver(data)
	}
}

func (h *Hub) route(from *Conn, data []byte) {
	h.mu.Lock()
	var targets []*Conn
	for _, c := range h.rooms[from.channel] {
		if c.role != from.role {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.deliver(append([]byte(nil), data...))
	}
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.rooms[c.channel]
	for i, other := range conns {
		if other == c {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(h.rooms, c.channel)
	} else {
		h.rooms[c.channel] = conns
	}
}

// Conn is one in-memory leg.
type Conn struct {
	hub     *Hub
	URL     string
	channel string
	role    string

	inbox  chan []byte
	done   chan struct{}
	once   sync.Once
	writes atomic.Int64
}

func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.done:
		return nil, transport.ErrClosed
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	c.writes.Add(1)
	c.hub.route(c, data)
	return nil
}

func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.hub.remove(c)
	})
	return nil
}

// Writes is the number of successful WriteMessage calls.
func (c *Conn) Writes() int { return int(c.writes.Load()) }

// Closed reports whether the leg has been torn down.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) deliver(data []byte) {
	select {
	case c.inbox <- data:
	case <-c.done:
	}
}

func splitURL(url string) (channel, role string) {
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	if len(parts) < 2 {
		return url, ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}
