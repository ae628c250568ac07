package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/config"
	"github.com/1ureka/phonelink/internal/invite"
	"github.com/1ureka/phonelink/internal/manager"
	"github.com/1ureka/phonelink/internal/protocol"
	"github.com/1ureka/phonelink/internal/store"
	"github.com/1ureka/phonelink/internal/transport"
	"github.com/1ureka/phonelink/internal/util"
)

// ShareOptions configures the desktop side.
type ShareOptions struct {
	Config      config.Config
	Dialer      transport.Dialer // nil picks one from Config.Mode
	Passphrase  string           // non-empty: resume and persist the identity under Config.StateDir
	Version     string
	YourName    string
	ResultCodes []string
	In          io.Reader // newline-delimited contacts
	Out         io.Writer
	OnInvite    func(link string)

	// ConfirmRetry is asked after the connection failed for good. Returning
	// true starts over with a fresh attempt budget; nil gives up.
	ConfirmRetry func(err error) bool
}

// Share runs the initiator until ctx is done or the connection fails for
// good. Each contact read from In is pushed to the phone; the latest one is
// pushed again whenever the phone says connect.
func Share(ctx context.Context, opts ShareOptions) error {
	opts.Config.Role = channel.Initiator

	id, err := resumeIdentity(opts)
	if err != nil {
		return err
	}

	s := &shareSession{
		opts:  opts,
		p:     printer{opts.Out},
		fatal: make(chan error, 1),
		stats: protocol.Stats{StartTime: time.Now().UnixMilli()},
	}
	m, err := manager.New(managerConfig(opts.Config, id, opts.Dialer), s.handlers())
	if err != nil {
		return err
	}
	s.m = m

	if opts.Passphrase != "" && id == nil {
		if err := saveIdentity(opts, m.Identity()); err != nil {
			return err
		}
	}

	link, err := invite.Invite{
		SessionID: invite.NewSessionID(),
		Version:   opts.Version,
		UserAgent: fmt.Sprintf("phonelink/%s (%s/%s)", opts.Version, runtime.GOOS, runtime.GOARCH),
		Domain:    "cli",
		Identity:  m.Identity(),
	}.Build(opts.Config.ConnectBase)
	if err != nil {
		return err
	}
	if opts.OnInvite != nil {
		opts.OnInvite(link)
	}

	if err := m.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.Broadcast(protocol.Disconnect{}); err != nil {
			util.LogDebug("disconnect notice: %v", err)
		}
		m.Stop()
	}()

	lines := readLines(ctx, opts.In)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.fatal:
			if !retryFatal(ctx, m, s.p, opts.ConfirmRetry, err) {
				return err
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := s.load(line); err != nil {
				s.p.warning("skipped contact: %v", err)
			}
		}
	}
}

func resumeIdentity(opts ShareOptions) (*channel.Identity, error) {
	if opts.Passphrase == "" {
		return nil, nil
	}
	fs, err := store.NewFileStore(opts.Config.StateDir)
	if err != nil {
		return nil, err
	}
	id, err := fs.LoadIdentity(opts.Passphrase)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	util.LogInfo("resuming channel %08x", util.ShortID(id.ChannelID))
	return &id, nil
}

func saveIdentity(opts ShareOptions, id channel.Identity) error {
	fs, err := store.NewFileStore(opts.Config.StateDir)
	if err != nil {
		return err
	}
	return fs.SaveIdentity(opts.Passphrase, id)
}

type shareSession struct {
	opts  ShareOptions
	p     printer
	m     *manager.Manager
	fatal chan error

	mu         sync.Mutex
	current    *protocol.ContactDetails
	stats      protocol.Stats
	lastResult string
}

func (s *shareSession) handlers() manager.Handlers {
	return manager.Handlers{
		OnConnect: func() { s.p.success("phone connected") },
		OnReconnecting: func(stage manager.Stage) {
			s.p.warning("connection lost, reconnecting (%s)", stage)
		},
		OnError: func(err error) {
			if !manager.Fatal(err) {
				util.LogWarning("%v", err)
				return
			}
			select {
			case s.fatal <- err:
			default:
			}
		},
		OnWarning: func(err error) { util.LogWarning("%v", err) },
		OnMessage: s.onMessage,
	}
}

func (s *shareSession) onMessage(channelID string, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Connect:
		s.resend()
	case protocol.CallResult:
		s.mu.Lock()
		s.lastResult = m.Result
		if strings.EqualFold(m.Result, "contacted") {
			s.stats.SuccessfulCalls++
		}
		s.mu.Unlock()
		s.p.info("call %d: %s", m.CallNumber, m.Result)
	case protocol.CallRecord:
		s.p.info("call %d lasted %s", m.CallNumber, time.Duration(m.Duration)*time.Millisecond)
	case protocol.Disconnect:
		s.p.warning("phone closed the page")
	default:
		util.Tag(channelID).Debug("ignoring %s message", msg.Type())
	}
}

// load makes the contact on line current and pushes it.
func (s *shareSession) load(line string) error {
	c, err := ParseContactLine(line)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.current == nil || s.current.PhoneNumber != c.Contact.PhoneNumber {
		s.stats.Calls++
		s.stats.LastContactLoadTime = time.Now().UnixMilli()
	}
	s.current = c.Contact
	s.mu.Unlock()

	s.p.info("loaded %s", displayName(c.Contact))
	return s.push()
}

func (s *shareSession) resend() {
	if err := s.push(); err != nil {
		util.LogWarning("resend contact: %v", err)
	}
}

// push broadcasts the current contact with the session context. Nothing is
// sent before the first contact is loaded.
func (s *shareSession) push() error {
	msg, ok := s.contactMessage()
	if !ok {
		return nil
	}
	return s.m.Broadcast(msg)
}

func (s *shareSession) contactMessage() (protocol.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return protocol.Contact{}, false
	}
	stats := s.stats
	callNumber := s.stats.Calls
	return protocol.Contact{
		Contact:          s.current,
		YourName:         s.opts.YourName,
		ResultCodes:      s.opts.ResultCodes,
		Stats:            &stats,
		LastCallResult:   s.lastResult,
		CallNumber:       &callNumber,
		ExtensionVersion: s.opts.Version,
	}, true
}
