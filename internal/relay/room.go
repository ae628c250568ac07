package relay

import (
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/util"
)

const writeWait = 10 * time.Second

// room is one channel: every connection of both roles.
type room struct {
	mu    sync.Mutex
	peers map[*peer]struct{}
}

func (rm *room) add(p *peer) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.peers[p] = struct{}{}
}

func (rm *room) remove(p *peer) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.peers, p)
	return len(rm.peers)
}

// forward queues data for every peer whose role differs from `from`, and
// returns how many accepted it. A full send buffer drops the frame for that
// peer only.
func (rm *room) forward(from channel.Role, src *peer, data []byte, stats *util.Stats) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	n := 0
	for p := range rm.peers {
		if p == src || p.role == from {
			continue
		}
		select {
		case p.send <- data:
			n++
		default:
			stats.AddDropped()
			p.log.Debug("%s send buffer full, frame dropped", p.role)
		}
	}
	return n
}

func (rm *room) closeAll() {
	rm.mu.Lock()
	peers := make([]*peer, 0, len(rm.peers))
	for p := range rm.peers {
		peers = append(peers, p)
	}
	rm.mu.Unlock()
	for _, p := range peers {
		p.close(websocket.CloseGoingAway, "channel closed")
	}
}

// peer is one relay connection.
type peer struct {
	conn    *websocket.Conn
	channel string
	role    channel.Role
	room    *room
	opts    Options
	limiter *rate.Limiter
	log     util.Tagged

	send       chan []byte
	done       chan struct{}
	once       sync.Once
	lastActive atomic.Int64 // unix nanos of the last payload frame either way
}

func newPeer(conn *websocket.Conn, id string, role channel.Role, opts Options) *peer {
	p := &peer{
		conn:    conn,
		channel: id,
		role:    role,
		opts:    opts,
		limiter: rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		log:     util.Tag(id),
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
	}
	p.touch()
	return p
}

func (p *peer) touch() { p.lastActive.Store(time.Now().UnixNano()) }

func (p *peer) idle() time.Duration {
	return time.Since(time.Unix(0, p.lastActive.Load()))
}

func (p *peer) pongWait() time.Duration { return p.opts.PingInterval * 5 / 2 }

// readPump forwards frames until the connection fails or is closed.
func (p *peer) readPump(s *Server) {
	defer p.close(websocket.CloseNormalClosure, "")

	p.conn.SetReadDeadline(time.Now().Add(p.pongWait()))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.pongWait()))
	})

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Debug("%s read: %v", p.role, err)
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(p.pongWait()))
		if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
			continue
		}
		if !p.limiter.Allow() {
			s.stats.AddDropped()
			p.log.Debug("%s over rate limit, frame dropped", p.role)
			continue
		}
		p.touch()
		s.stats.AddIn(len(data))
		p.room.forward(p.role, p, data, s.stats)
	}
}

// writePump owns every data write. Text frames arrive here as bytes and
// leave as binary.
func (p *peer) writePump(stats *util.Stats) {
	ticker := time.NewTicker(p.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.close(websocket.CloseAbnormalClosure, "")
				return
			}
			p.touch()
			stats.AddOut(len(data))

		case <-ticker.C:
			if p.idle() >= p.opts.IdleTimeout {
				p.log.Debug("%s idle for %s, closing", p.role, p.opts.IdleTimeout)
				p.close(websocket.CloseGoingAway, "inactive")
				return
			}
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-p.done:
			return
		}
	}
}

// close sends a close frame when it can and tears the connection down once.
func (p *peer) close(code int, reason string) {
	p.once.Do(func() {
		close(p.done)
		if code != websocket.CloseAbnormalClosure {
			p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		}
		p.conn.Close()
	})
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
}
