package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/config"
	"github.com/1ureka/phonelink/internal/invite"
	"github.com/1ureka/phonelink/internal/manager"
	"github.com/1ureka/phonelink/internal/protocol"
	"github.com/1ureka/phonelink/internal/transport"
	"github.com/1ureka/phonelink/internal/util"
)

var errNoInvite = errors.New("missing invite link")

// JoinOptions configures the phone side.
type JoinOptions struct {
	Config config.Config
	Dialer transport.Dialer // nil picks one from Config.Mode
	Invite string
	In     io.Reader // one call result per line
	Out    io.Writer

	ConfirmRetry func(err error) bool // see ShareOptions
}

// Join runs the responder until ctx is done, the desktop disconnects on
// purpose, or the connection fails for good.
func Join(ctx context.Context, opts JoinOptions) error {
	if strings.TrimSpace(opts.Invite) == "" {
		return errNoInvite
	}
	inv, err := invite.Parse(opts.Invite)
	if err != nil {
		return err
	}
	opts.Config.Role = channel.Responder
	if inv.Version != "" {
		util.LogDebug("desktop version %s", inv.Version)
	}

	j := &joinSession{
		p:    printer{opts.Out},
		done: make(chan error, 1),
	}
	m, err := manager.New(managerConfig(opts.Config, &inv.Identity, opts.Dialer), j.handlers())
	if err != nil {
		return err
	}
	if err := m.Connect(ctx); err != nil {
		return err
	}
	defer m.Stop()

	lines := readLines(ctx, opts.In)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-j.done:
			if err == nil || !retryFatal(ctx, m, j.p, opts.ConfirmRetry, err) {
				return err
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := m.Send(j.result(line)); err != nil {
				j.p.warning("result not sent: %v", err)
			}
		}
	}
}

type joinSession struct {
	p    printer
	done chan error

	mu         sync.Mutex
	callNumber int
}

func (j *joinSession) finish(err error) {
	select {
	case j.done <- err:
	default:
	}
}

func (j *joinSession) handlers() manager.Handlers {
	return manager.Handlers{
		OnConnect: func() { j.p.success("connected to desktop") },
		OnReconnecting: func(stage manager.Stage) {
			j.p.warning("connection lost, reconnecting (%s)", stage)
		},
		OnError: func(err error) {
			if manager.Fatal(err) {
				j.finish(err)
				return
			}
			util.LogWarning("%v", err)
		},
		OnWarning: func(err error) { util.LogWarning("%v", err) },
		OnMessage: j.onMessage,
	}
}

func (j *joinSession) onMessage(_ string, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Contact:
		if m.Contact == nil {
			return
		}
		if m.CallNumber != nil {
			j.mu.Lock()
			j.callNumber = *m.CallNumber
			j.mu.Unlock()
		}
		j.p.info("call %s at %s", displayName(m.Contact), m.Contact.PhoneNumber)
		if len(m.ResultCodes) > 0 {
			j.p.info("results: %s", strings.Join(m.ResultCodes, ", "))
		}
	case protocol.Disconnect:
		j.p.warning("desktop ended the session")
		j.finish(nil)
	case protocol.Connect:
	default:
		util.LogDebug("ignoring %s message", msg.Type())
	}
}

func (j *joinSession) result(line string) protocol.CallResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return protocol.CallResult{Result: line, CallNumber: j.callNumber, Timestamp: time.Now()}
}
