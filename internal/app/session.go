// Package app runs the two ends of a phonelink session on top of the
// connection manager: Share on the desktop side, Join on the phone side.
package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/config"
	"github.com/1ureka/phonelink/internal/iceconfig"
	"github.com/1ureka/phonelink/internal/manager"
	"github.com/1ureka/phonelink/internal/protocol"
	"github.com/1ureka/phonelink/internal/transport"
)

// NewDialer picks the transport for cfg. In WebRTC mode the responder
// makes the offer, so the side that joins late drives negotiation.
func NewDialer(cfg config.Config) transport.Dialer {
	if cfg.Mode == config.ModeWebRTC {
		return transport.NewRTCDialer(cfg.Role == channel.Responder)
	}
	return transport.NewWSDialer()
}

func managerConfig(cfg config.Config, id *channel.Identity, d transport.Dialer) manager.Config {
	if d == nil {
		d = NewDialer(cfg)
	}
	mc := manager.Config{
		Role:      cfg.Role,
		Identity:  id,
		RelayBase: cfg.RelayURL,
		Dialer:    d,
	}
	if cfg.ICEURL != "" {
		mc.ICE = &iceconfig.Fetcher{URL: cfg.ICEURL}
	}
	return mc
}

// retryFatal hands a terminal failure to confirm and, if the owner agrees,
// resets the manager. It reports whether the session goes on.
func retryFatal(ctx context.Context, m *manager.Manager, p printer, confirm func(error) bool, err error) bool {
	if confirm == nil || !confirm(err) {
		return false
	}
	if rerr := m.Retry(ctx); rerr != nil {
		p.warning("retry failed: %v", rerr)
		return false
	}
	p.info("reconnecting")
	return true
}

// printer writes user-facing lines. A nil writer falls back to stdout.
type printer struct{ w io.Writer }

func (p printer) out() io.Writer {
	if p.w == nil {
		return os.Stdout
	}
	return p.w
}

func (p printer) info(format string, a ...any) {
	pterm.Info.WithWriter(p.out()).Printfln(format, a...)
}

func (p printer) success(format string, a ...any) {
	pterm.Success.WithWriter(p.out()).Printfln(format, a...)
}

func (p printer) warning(format string, a ...any) {
	pterm.Warning.WithWriter(p.out()).Printfln(format, a...)
}

// readLines feeds non-empty trimmed lines from r until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	if r == nil {
		close(out)
		return out
	}
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ParseContactLine accepts either a full contact payload
// ({"type":"contact",...}) or bare contact details
// ({"firstName":...,"phoneNumber":...}).
func ParseContactLine(line string) (protocol.Contact, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return protocol.Contact{}, fmt.Errorf("contact line is not JSON: %w", err)
	}

	if probe.Type != "" {
		msg, err := protocol.Decode([]byte(line))
		if err != nil {
			return protocol.Contact{}, err
		}
		c, ok := msg.(protocol.Contact)
		if !ok {
			return protocol.Contact{}, fmt.Errorf("expected a contact, got %q", msg.Type())
		}
		if c.Contact == nil {
			return protocol.Contact{}, errors.New("contact payload without contact details")
		}
		return c, nil
	}

	var d protocol.ContactDetails
	if err := json.Unmarshal([]byte(line), &d); err != nil {
		return protocol.Contact{}, err
	}
	if d.PhoneNumber == "" {
		return protocol.Contact{}, errors.New("contact has no phone number")
	}
	return protocol.Contact{Contact: &d}, nil
}

// displayName is "First Last", or the phone number when both are empty.
func displayName(d *protocol.ContactDetails) string {
	name := strings.TrimSpace(d.FirstName + " " + d.LastName)
	if name == "" {
		return d.PhoneNumber
	}
	return name
}
