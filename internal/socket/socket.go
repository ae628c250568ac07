// Package socket implements a duplex message socket that re-dials its
// transport with exponential backoff until it is closed.
package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/phonelink/internal/retry"
	"github.com/1ureka/phonelink/internal/transport"
	"github.com/1ureka/phonelink/internal/util"
)

// DefaultDialTimeout bounds one connection attempt.
const DefaultDialTimeout = 10 * time.Second

var (
	ErrNotOpen           = errors.New("socket: not open")
	ErrAttemptsExhausted = errors.New("socket: reconnect attempts exhausted")
)

// State is the socket's position in its lifecycle.
type State int

const (
	Closed State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options tunes reconnect behaviour. Zero values select retry.Socket and
// DefaultDialTimeout.
type Options struct {
	Policy      retry.Policy
	DialTimeout time.Duration
}

// Handlers are registered once at construction. All are optional and are
// called without the socket's lock held, so they may call back into it.
type Handlers struct {
	OnConnecting func()
	OnOpen       func()
	OnMessage    func(data []byte)
	OnError      func(err error)
	OnClose      func()
}

// Socket keeps one transport.Conn to a URL alive. Every dial attempt is
// tagged with a generation; results and reads from an abandoned generation
// are dropped.
type Socket struct {
	url    string
	dialer transport.Dialer
	opts   Options
	h      Handlers
	log    util.Tagged

	mu      sync.Mutex
	state   State
	gen     uint64
	conn    transport.Conn
	cancel  context.CancelFunc
	timer   *time.Timer
	backoff *retry.Backoff
}

// New returns a closed socket. Call Open to start connecting.
func New(url string, dialer transport.Dialer, opts Options, h Handlers) *Socket {
	if opts.Policy == (retry.Policy{}) {
		opts.Policy = retry.Socket
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	return &Socket{
		url:     url,
		dialer:  dialer,
		opts:    opts,
		h:       h,
		log:     util.Tag(url),
		backoff: retry.NewBackoff(opts.Policy),
	}
}

// URL is the address the socket dials.
func (s *Socket) URL() string { return s.url }

// State returns the current state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsOpen reports whether Send would reach the transport.
func (s *Socket) IsOpen() bool { return s.State() == Open }

// Open starts connecting. It is a no-op while connecting or open. Opening a
// closed socket starts over with a fresh backoff.
func (s *Socket) Open() {
	s.mu.Lock()
	if s.state != Closed {
		s.mu.Unlock()
		return
	}
	s.backoff.Reset()
	s.state = Connecting
	s.startLocked()
	s.mu.Unlock()

	s.emitConnecting()
}

// Send writes one message. There is no queue: while the socket is not open
// the message is rejected with ErrNotOpen.
func (s *Socket) Send(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == Open
	s.mu.Unlock()

	if !open || conn == nil {
		return ErrNotOpen
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("socket send: %w", err)
	}
	return nil
}

// Close tears the socket down for good: the in-flight dial is cancelled, the
// pending retry timer is stopped and the transport is closed. OnClose fires
// once, and only if the socket was not already closed.
func (s *Socket) Close() {
	s.mu.Lock()
	wasClosed := s.state == Closed
	s.gen++
	s.state = Closed
	s.stopLocked()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if !wasClosed {
		s.log.Debug("socket closed")
		if s.h.OnClose != nil {
			s.h.OnClose()
		}
	}
}

func (s *Socket) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// startLocked launches a dial for a new generation.
func (s *Socket) startLocked() {
	s.gen++
	gen := s.gen

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	s.cancel = cancel

	go s.dial(ctx, cancel, gen)
}

func (s *Socket) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	conn, err := s.dialer.Dial(ctx, s.url)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.cancel = nil

	if err != nil {
		emit := s.retryLocked(fmt.Errorf("dial %s: %w", s.url, err))
		s.mu.Unlock()
		emit()
		return
	}

	s.conn = conn
	s.state = Open
	s.backoff.Reset()
	s.mu.Unlock()

	s.log.Debug("socket open: %s", s.url)
	if s.h.OnOpen != nil {
		s.h.OnOpen()
	}

	s.read(conn, gen)
}

func (s *Socket) read(conn transport.Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.lost(conn, gen, err)
			return
		}

		s.mu.Lock()
		current := gen == s.gen
		s.mu.Unlock()
		if !current {
			return
		}

		if s.h.OnMessage != nil {
			s.h.OnMessage(data)
		}
	}
}

// lost handles an open transport going away without Close being called.
func (s *Socket) lost(conn transport.Conn, gen uint64, cause error) {
	conn.Close()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.log.Debug("transport lost: %v", cause)
	emit := s.retryLocked(nil)
	s.mu.Unlock()

	s.emitConnecting()
	emit()
}

// retryLocked records a failure and either schedules the next attempt or
// gives up. It returns the events to emit once the lock is released.
func (s *Socket) retryLocked(cause error) func() {
	delay, ok := s.backoff.Next()
	if !ok {
		attempts := s.backoff.Attempts()
		s.gen++
		s.state = Closed
		s.stopLocked()

		err := fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, attempts)
		if cause != nil {
			err = fmt.Errorf("%w: %w", err, cause)
		}
		s.log.Warning("%v", err)
		return func() {
			if s.h.OnError != nil {
				s.h.OnError(err)
			}
			if s.h.OnClose != nil {
				s.h.OnClose()
			}
		}
	}

	s.state = Connecting
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.retry(gen) })
	s.log.Debug("retrying in %s (attempt %d)", delay, s.backoff.Attempts()+1)

	return func() {
		if cause != nil && s.h.OnError != nil {
			s.h.OnError(cause)
		}
	}
}

func (s *Socket) retry(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != Connecting {
		return
	}
	s.timer = nil
	s.startLocked()
}

func (s *Socket) emitConnecting() {
	if s.h.OnConnecting != nil {
		s.h.OnConnecting()
	}
}
