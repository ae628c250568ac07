// Package relay is the dumb pipe between the two ends of a channel. It
// forwards opaque frames between the extension and browser connections of a
// channel and never looks inside them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/util"
)

// Options tunes a Server. Zero fields take the Default value.
type Options struct {
	PingInterval   time.Duration // keepalive ping period
	IdleTimeout    time.Duration // close a connection with no payload traffic for this long
	MaxMessageSize int64         // largest accepted frame or POST body
	SendBuffer     int           // frames queued per connection before dropping
	RateLimit      rate.Limit    // inbound frames per second per connection
	RateBurst      int
}

var Default = Options{
	PingInterval:   20 * time.Second,
	IdleTimeout:    30 * time.Minute,
	MaxMessageSize: 1 << 20,
	SendBuffer:     16,
	RateLimit:      50,
	RateBurst:      100,
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = Default.PingInterval
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = Default.IdleTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = Default.MaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = Default.SendBuffer
	}
	if o.RateLimit <= 0 {
		o.RateLimit = Default.RateLimit
	}
	if o.RateBurst <= 0 {
		o.RateBurst = Default.RateBurst
	}
	return o
}

// Server holds the open channels. Create one with New.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	stats    *util.Stats

	mu    sync.Mutex
	rooms map[string]*room
}

func New(opts Options) *Server {
	return &Server{
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		stats: &util.Stats{},
		rooms: make(map[string]*room),
	}
}

// Stats exposes the traffic counters.
func (s *Server) Stats() *util.Stats { return s.stats }

// Rooms is the number of channels with at least one connection.
func (s *Server) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Handler routes both the short /c/ prefix and the /api/channels/ prefix.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	for _, prefix := range []string{"/c", "/api/channels"} {
		mux.HandleFunc("GET "+prefix+"/{channel}/{role}", s.handleWS)
		mux.HandleFunc("POST "+prefix+"/{channel}/{role}", s.handlePost)
		mux.HandleFunc("DELETE "+prefix+"/{channel}", s.handleDelete)
	}
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs on ln until ctx is cancelled, then closes every channel.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	util.LogInfo("relay listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeAll()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// pathRole accepts only the wire names.
func pathRole(r *http.Request) (channel.Role, bool) {
	seg := r.PathValue("role")
	role, err := channel.ParseRole(seg)
	if err != nil || role.String() != seg {
		return 0, false
	}
	return role, true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("channel")
	role, ok := pathRole(r)
	if !ok || id == "" {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("relay upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(s.opts.MaxMessageSize)

	p := newPeer(conn, id, role, s.opts)
	s.join(p)
	s.stats.AddConn()
	p.log.Debug("%s joined", role)

	go p.writePump(s.stats)
	p.readPump(s)

	s.leave(p)
	s.stats.RemoveConn()
	p.log.Debug("%s left", role)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("channel")
	role, ok := pathRole(r)
	if !ok {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	body, err := readBody(w, r, s.opts.MaxMessageSize)
	if err != nil {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	s.mu.Lock()
	rm := s.rooms[id]
	s.mu.Unlock()
	if rm == nil {
		http.Error(w, "Channel does not exist or has been closed", http.StatusNotFound)
		return
	}
	s.stats.AddIn(len(body))
	if rm.forward(role, nil, body, s.stats) == 0 {
		http.Error(w, "Unable to send message to peer", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("channel")
	s.mu.Lock()
	rm := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()

	if rm != nil {
		rm.closeAll()
		util.Tag(id).Debug("channel deleted")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) join(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[p.channel]
	if !ok {
		rm = &room{peers: make(map[*peer]struct{})}
		s.rooms[p.channel] = rm
	}
	rm.add(p)
	p.room = rm
}

// leave drops p and removes its room once empty. A deleted room may already
// be gone or replaced.
func (s *Server) leave(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.room.remove(p) == 0 && s.rooms[p.channel] == p.room {
		delete(s.rooms, p.channel)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	rooms := s.rooms
	s.rooms = make(map[string]*room)
	s.mu.Unlock()
	for _, rm := range rooms {
		rm.closeAll()
	}
}
