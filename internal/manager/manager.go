// Package manager keeps a logical, end-to-end verified connection to the
// remote party alive: it fetches ICE configuration, replaces dead channel
// generations under a bounded backoff, and fans messages out to every
// connection attached to the local identity.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/iceconfig"
	"github.com/1ureka/phonelink/internal/protocol"
	"github.com/1ureka/phonelink/internal/retry"
	"github.com/1ureka/phonelink/internal/socket"
	"github.com/1ureka/phonelink/internal/transport"
	"github.com/1ureka/phonelink/internal/util"
)

// Config is injected at construction and not changed afterwards.
type Config struct {
	Role      channel.Role
	Identity  *channel.Identity // required for Responder; generated for Initiator when nil
	RelayBase string
	Dialer    transport.Dialer
	ICE       *iceconfig.Fetcher

	SocketRetry retry.Policy // zero selects retry.Socket
	Retry       retry.Policy // zero selects retry.Manager
	DialTimeout time.Duration

	// ConnectTimeout, when positive, replaces a channel generation whose
	// remote party has not spoken within it. Zero waits indefinitely.
	ConnectTimeout time.Duration
}

// Handlers are registered once. None fire after Stop returns, apart from
// the OnStatusChange(Closed) that Stop itself reports.
type Handlers struct {
	OnConnect      func()
	OnReconnecting func(stage Stage)
	OnError        func(err error)
	OnWarning      func(err error)
	OnMessage      func(channelID string, m protocol.Message)
	OnStatusChange func(s State)
}

// Manager owns the primary channel and any extra channels added with
// AddChannel. Each primary generation is tagged; events from replaced
// generations are ignored.
type Manager struct {
	cfg      Config
	h        Handlers
	identity channel.Identity
	set      *ActiveSet
	log      util.Tagged
	stopped  atomic.Bool

	mu       sync.Mutex
	state    State
	active   bool
	gen      uint64
	primary  *channel.Channel
	entryID  uint64
	proven   bool
	backoff  *retry.Backoff
	timer    *time.Timer
	timerSeq uint64
	watchdog *time.Timer
	iceReady bool
}

// New validates cfg and returns an idle manager.
func New(cfg Config, h Handlers) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("manager: nil dialer")
	}
	if cfg.Role != channel.Initiator && cfg.Role != channel.Responder {
		return nil, fmt.Errorf("manager: invalid role %v", cfg.Role)
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.Manager
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if cfg.SocketRetry == (retry.Policy{}) {
		cfg.SocketRetry = retry.Socket
	}
	if err := cfg.SocketRetry.Validate(); err != nil {
		return nil, err
	}

	var id channel.Identity
	switch {
	case cfg.Identity != nil:
		id = *cfg.Identity
	case cfg.Role == channel.Initiator:
		fresh, err := channel.NewIdentity()
		if err != nil {
			return nil, err
		}
		id = fresh
	default:
		return nil, channel.ErrMissingIdentity
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		h:        h,
		identity: id,
		set:      NewActiveSet(),
		log:      util.Tag(id.ChannelID),
		backoff:  retry.NewBackoff(cfg.Retry),
	}, nil
}

// Identity is the primary channel's identity, for the invite URL or for
// persisting across restarts.
func (m *Manager) Identity() channel.Identity { return m.identity }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts is the number of failed attempts since the last success.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff.Attempts()
}

// Connections lists the channel ids whose relay leg is currently open.
func (m *Manager) Connections() []string { return m.set.OpenIDs() }

// Connect fetches ICE configuration once, then starts the first attempt.
// It returns as soon as the attempt is underway; OnConnect reports success.
// Calling it while already connecting or connected does nothing.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.state == Closed:
		m.mu.Unlock()
		return ErrStopped
	case m.state != Idle || m.active:
		m.mu.Unlock()
		return nil
	}
	m.active = true
	m.mu.Unlock()

	m.configureICE(ctx)
	m.attempt(false, StageServer, 0)
	return nil
}

// Retry is the manual reset after a terminal failure: the attempt counter
// and delay go back to their initial values and a fresh attempt starts.
// It does nothing while a connection is live or being retried.
func (m *Manager) Retry(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Closed:
		m.mu.Unlock()
		return ErrStopped
	case Failed, Idle:
	default:
		m.mu.Unlock()
		return nil
	}
	m.active = true
	m.backoff.Reset()
	m.stopTimersLocked()
	m.mu.Unlock()

	m.configureICE(ctx)
	m.attempt(false, StageServer, 0)
	return nil
}

// Stop closes every channel and cancels pending timers. Later transport
// events are ignored; Stop is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return
	}
	m.stopped.Store(true)
	m.active = false
	m.gen++
	m.stopTimersLocked()
	m.primary = nil
	m.state = Closed
	conns := m.set.Clear()
	m.mu.Unlock()

	for _, c := range conns {
		if ch, ok := c.(*channel.Channel); ok {
			ch.Close()
		}
	}
	m.log.Info("connection manager stopped")
	if m.h.OnStatusChange != nil {
		m.h.OnStatusChange(Closed)
	}
}

// Send writes m to the primary channel.
func (m *Manager) Send(msg protocol.Message) error {
	m.mu.Lock()
	ch := m.primary
	closed := m.state == Closed
	m.mu.Unlock()

	if closed {
		return ErrStopped
	}
	if ch == nil {
		return ErrNotConnected
	}
	return ch.Send(msg)
}

// Broadcast sends msg to every open connection and holds it for those that
// are not open yet.
func (m *Manager) Broadcast(msg protocol.Message) error {
	if m.stopped.Load() {
		return ErrStopped
	}
	sent, deferred, err := m.set.Broadcast(msg)
	m.log.Debug("broadcast %s: %d sent, %d deferred", msg.Type(), sent, deferred)
	return err
}

// AddChannel opens an extra initiator channel with its own identity, for
// one more remote tab. It is removed again when it fails; the remote side
// re-initiates if it wants back in.
func (m *Manager) AddChannel() (channel.Identity, error) {
	if m.cfg.Role != channel.Initiator {
		return channel.Identity{}, errors.New("manager: only the initiator can add channels")
	}
	if m.stopped.Load() {
		return channel.Identity{}, ErrStopped
	}

	var (
		ch *channel.Channel
		id uint64
	)
	ready := make(chan struct{})
	ch, err := channel.New(channel.Initiator, nil, m.channelOptions(), channel.Handlers{
		OnOpen: func() {
			<-ready
			if err := m.set.Opened(id); err != nil {
				m.warn(err)
			}
		},
		OnConnecting: func() {
			<-ready
			m.set.Pending(id)
		},
		OnMessage: func(msg protocol.Message) {
			<-ready
			m.deliver(ch.ID(), msg)
		},
		OnError: func(err error) {
			<-ready
			m.secondaryError(id, ch, err)
		},
		OnClose: func() {
			<-ready
			m.set.Remove(id)
		},
	})
	if err != nil {
		return channel.Identity{}, err
	}
	id = m.set.Add(ch)
	close(ready)

	m.log.Debug("added channel %s", ch.ID())
	ch.Connect()
	return ch.ExportIdentity(), nil
}

func (m *Manager) secondaryError(id uint64, ch *channel.Channel, err error) {
	if errors.Is(err, ErrDecryptionFailed) {
		m.warn(err)
		return
	}
	if _, ok := m.set.Remove(id); !ok {
		return
	}
	m.log.Warning("dropping channel %s: %v", ch.ID(), err)
	ch.Close()
	m.warn(err)
}

func (m *Manager) configureICE(ctx context.Context) {
	m.mu.Lock()
	done := m.iceReady
	m.iceReady = true
	m.mu.Unlock()
	if done {
		return
	}

	target, ok := m.cfg.Dialer.(transport.ICEConfigurable)
	if !ok && m.cfg.ICE == nil {
		return
	}

	servers, err := m.cfg.ICE.Fetch(ctx)
	if err != nil {
		m.log.Warning("using fallback ICE servers: %v", err)
		m.warn(fmt.Errorf("%w: %v", ErrConfigFetchFailed, err))
	}
	if ok {
		target.SetICEServers(servers)
	}
}

func (m *Manager) channelOptions() channel.Options {
	return channel.Options{
		RelayBase: m.cfg.RelayBase,
		Dialer:    m.cfg.Dialer,
		Socket: socket.Options{
			Policy:      m.cfg.SocketRetry,
			DialTimeout: m.cfg.DialTimeout,
		},
	}
}

// attempt replaces the primary channel with a new generation. A non-zero
// timerSeq means the reconnect timer fired; it is honoured only if that
// timer is still the pending one.
func (m *Manager) attempt(replacing bool, stage Stage, timerSeq uint64) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	if timerSeq != 0 {
		if m.timer == nil || timerSeq != m.timerSeq {
			m.mu.Unlock()
			return
		}
	}
	m.timer = nil
	old := m.primary
	m.primary = nil
	if m.entryID != 0 {
		m.set.Remove(m.entryID)
		m.entryID = 0
	}

	m.gen++
	gen := m.gen
	m.proven = false
	changed := m.transitionLocked(ConnectingToServer)

	ch, err := channel.New(m.cfg.Role, &m.identity, m.channelOptions(), m.primaryHandlers(gen))
	if err != nil {
		emit := m.terminalLocked(err)
		m.mu.Unlock()
		if old != nil {
			old.Close()
		}
		m.emitStatus(changed, ConnectingToServer)
		emit()
		return
	}
	m.primary = ch
	m.entryID = m.set.Add(ch)
	m.armWatchdogLocked(gen)
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if replacing {
		m.emit(func() {
			if m.h.OnReconnecting != nil {
				m.h.OnReconnecting(stage)
			}
		})
	}
	m.emitStatus(changed, ConnectingToServer)

	m.log.Debug("attempt %d (generation %d)", m.Attempts()+1, gen)
	ch.Connect()
}

func (m *Manager) primaryHandlers(gen uint64) channel.Handlers {
	return channel.Handlers{
		OnConnecting: func() { m.primaryConnecting(gen) },
		OnOpen:       func() { m.primaryOpen(gen) },
		OnMessage:    func(msg protocol.Message) { m.primaryMessage(gen, msg) },
		OnError:      func(err error) { m.primaryError(gen, err) },
		OnClose: func() {
			m.fail(gen, fmt.Errorf("%w: channel closed", ErrTransport))
		},
	}
}

// primaryConnecting handles the socket losing an open leg.
func (m *Manager) primaryConnecting(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.active {
		m.mu.Unlock()
		return
	}
	m.set.Pending(m.entryID)
	if m.state != Open {
		m.mu.Unlock()
		return
	}
	m.proven = false
	changed := m.transitionLocked(Reconnecting)
	m.armWatchdogLocked(gen)
	m.mu.Unlock()

	m.log.Info("connection lost, reconnecting")
	m.emit(func() {
		if m.h.OnReconnecting != nil {
			m.h.OnReconnecting(StageServer)
		}
	})
	m.emitStatus(changed, Reconnecting)
}

func (m *Manager) primaryOpen(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.active {
		m.mu.Unlock()
		return
	}
	entry := m.entryID
	changed := false
	if !m.proven {
		changed = m.transitionLocked(Connecting)
	}
	m.mu.Unlock()

	if err := m.set.Opened(entry); err != nil {
		m.warn(err)
	}
	m.emitStatus(changed, Connecting)
}

// primaryMessage treats the first authentic message of a generation as the
// end-to-end proof.
func (m *Manager) primaryMessage(gen uint64, msg protocol.Message) {
	m.mu.Lock()
	if gen != m.gen || !m.active {
		m.mu.Unlock()
		return
	}
	first := !m.proven
	changed := false
	if first {
		m.proven = true
		m.stopWatchdogLocked()
		m.backoff.Reset()
		changed = m.transitionLocked(Open)
	}
	id := m.primary.ID()
	m.mu.Unlock()

	if first {
		m.log.Info("connected to remote party")
		m.emitStatus(changed, Open)
		m.emit(func() {
			if m.h.OnConnect != nil {
				m.h.OnConnect()
			}
		})
	}
	m.deliver(id, msg)
}

func (m *Manager) primaryError(gen uint64, err error) {
	switch {
	case errors.Is(err, ErrDecryptionFailed):
		if m.current(gen) {
			m.warn(err)
		}
	case errors.Is(err, ErrInvalidRemoteSerialization):
		m.mu.Lock()
		if gen != m.gen || !m.active {
			m.mu.Unlock()
			return
		}
		ch := m.primary
		m.primary = nil
		m.set.Remove(m.entryID)
		m.entryID = 0
		m.gen++
		emit := m.terminalLocked(err)
		m.mu.Unlock()

		if ch != nil {
			ch.Close()
		}
		emit()
	case errors.Is(err, socket.ErrAttemptsExhausted):
		m.fail(gen, fmt.Errorf("%w: %w", ErrTransport, err))
	default:
		// The socket is still redialing on its own schedule.
		if m.current(gen) {
			m.warn(fmt.Errorf("%w: %w", ErrTransport, err))
		}
	}
}

// fail abandons generation gen and schedules its replacement.
func (m *Manager) fail(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || !m.active || m.state == Failed {
		m.mu.Unlock()
		return
	}

	stage := StageServer
	if m.state == Connecting {
		stage = StageRemote
	}

	ch := m.primary
	m.primary = nil
	if m.entryID != 0 {
		m.set.Remove(m.entryID)
		m.entryID = 0
	}
	m.gen++
	m.stopWatchdogLocked()

	emit, scheduled := m.scheduleLocked(cause, stage)
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if scheduled {
		m.log.Warning("attempt failed: %v", cause)
	}
	emit()
}

// scheduleLocked arms the single reconnect timer. While a timer is pending
// a new failure schedules nothing. Exhausting the policy is terminal.
func (m *Manager) scheduleLocked(cause error, stage Stage) (emit func(), scheduled bool) {
	if m.timer != nil {
		return func() {}, false
	}

	delay, ok := m.backoff.Next()
	if !ok {
		err := fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, m.backoff.Attempts(), cause)
		return m.terminalLocked(err), false
	}

	changed := m.transitionLocked(Reconnecting)
	m.timerSeq++
	seq := m.timerSeq
	m.timer = time.AfterFunc(delay, func() { m.attempt(true, stage, seq) })
	m.log.Debug("next attempt in %s", delay)
	return func() { m.emitStatus(changed, Reconnecting) }, true
}

// terminalLocked moves to Failed and returns the single OnError report.
func (m *Manager) terminalLocked(err error) func() {
	m.stopTimersLocked()
	if !m.transitionLocked(Failed) {
		return func() {}
	}
	m.log.Error("giving up: %v", err)
	return func() {
		m.emitStatus(true, Failed)
		m.emit(func() {
			if m.h.OnError != nil {
				m.h.OnError(err)
			}
		})
	}
}

func (m *Manager) armWatchdogLocked(gen uint64) {
	m.stopWatchdogLocked()
	if m.cfg.ConnectTimeout <= 0 {
		return
	}
	m.watchdog = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.fail(gen, ErrConnectTimeout)
	})
}

func (m *Manager) stopWatchdogLocked() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

func (m *Manager) stopTimersLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.stopWatchdogLocked()
}

// transitionLocked applies the move if the table allows it. It reports
// whether the state actually changed.
func (m *Manager) transitionLocked(to State) bool {
	from := m.state
	if from == to {
		return false
	}
	if !CanTransition(from, to) {
		m.log.Warning("refusing state change %s -> %s", from, to)
		return false
	}
	m.state = to
	m.log.Debug("state %s -> %s", from, to)
	return true
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && m.active
}

func (m *Manager) deliver(channelID string, msg protocol.Message) {
	m.emit(func() {
		if m.h.OnMessage != nil {
			m.h.OnMessage(channelID, msg)
		}
	})
}

func (m *Manager) warn(err error) {
	m.emit(func() {
		if m.h.OnWarning != nil {
			m.h.OnWarning(err)
		}
	})
}

func (m *Manager) emitStatus(changed bool, s State) {
	if !changed {
		return
	}
	m.emit(func() {
		if m.h.OnStatusChange != nil {
			m.h.OnStatusChange(s)
		}
	})
}

// emit runs a handler unless the manager has been stopped.
func (m *Manager) emit(fn func()) {
	if m.stopped.Load() {
		return
	}
	fn()
}
