// Package channel implements the encrypted conversation between the two
// roles of a relay channel on top of a reconnecting socket.
package channel

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/1ureka/phonelink/internal/cryptobox"
	"github.com/1ureka/phonelink/internal/protocol"
	"github.com/1ureka/phonelink/internal/socket"
	"github.com/1ureka/phonelink/internal/transport"
	"github.com/1ureka/phonelink/internal/util"
)

var (
	ErrNotConnected               = errors.New("channel: not connected")
	ErrMissingIdentity            = errors.New("channel: responder requires a channel identity")
	ErrInvalidRemoteSerialization = errors.New("channel: remote sent a payload this side cannot parse")
)

// Options configures where and how the channel connects.
type Options struct {
	RelayBase string // e.g. wss://relay.example/c
	Dialer    transport.Dialer
	Socket    socket.Options
}

// Handlers are registered once at construction and called without internal
// locks held.
type Handlers struct {
	OnConnecting func()
	OnOpen       func()
	OnClose      func()
	OnError      func(err error)
	OnMessage    func(m protocol.Message)
}

// Channel is one end of an encrypted conversation. It never retries at the
// logical level; its socket only re-dials the transport.
type Channel struct {
	role Role
	id   Identity
	key  cryptobox.Key
	fp   string
	h    Handlers
	log  util.Tagged
	sock *socket.Socket
}

// New builds a channel. An Initiator given a nil identity generates one; a
// Responder must be given the identity it received out of band.
func New(role Role, id *Identity, opts Options, h Handlers) (*Channel, error) {
	if role != Initiator && role != Responder {
		return nil, fmt.Errorf("channel: invalid role %v", role)
	}
	if opts.Dialer == nil {
		return nil, errors.New("channel: nil dialer")
	}

	var ident Identity
	switch {
	case id != nil:
		ident = *id
	case role == Initiator:
		fresh, err := NewIdentity()
		if err != nil {
			return nil, err
		}
		ident = fresh
	default:
		return nil, ErrMissingIdentity
	}

	if ident.ChannelID == "" {
		return nil, ErrMissingIdentity
	}
	key, err := cryptobox.ImportKey(ident.Secret)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		role: role,
		id:   ident,
		key:  key,
		fp:   cryptobox.Fingerprint(key),
		h:    h,
		log:  util.Tag(ident.ChannelID),
	}
	c.sock = socket.New(RelayURL(opts.RelayBase, ident.ChannelID, role), opts.Dialer, opts.Socket, socket.Handlers{
		OnConnecting: c.h.OnConnecting,
		OnOpen:       c.onOpen,
		OnMessage:    c.onMessage,
		OnError:      c.emitError,
		OnClose:      c.h.OnClose,
	})
	return c, nil
}

// RelayURL is the per-role relay address of a channel.
func RelayURL(base, channelID string, role Role) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(channelID) + "/" + role.String()
}

// Connect opens the socket. It returns immediately; OnOpen reports success.
func (c *Channel) Connect() {
	c.log.Debug("connecting as %s", c.role)
	c.sock.Open()
}

// Send seals m and writes it. It fails with ErrNotConnected while the
// socket is not open; nothing is queued.
func (c *Channel) Send(m protocol.Message) error {
	if !c.sock.IsOpen() {
		return ErrNotConnected
	}
	env, err := c.Seal(m)
	if err != nil {
		return err
	}
	return c.SendEnvelope(env)
}

// Seal encodes and encrypts m without sending it, so one envelope can be
// written to several channels sharing the key.
func (c *Channel) Seal(m protocol.Message) ([]byte, error) {
	raw, err := protocol.Encode(m)
	if err != nil {
		return nil, err
	}
	return cryptobox.Encrypt(c.key, raw)
}

// SendEnvelope writes an envelope produced by Seal.
func (c *Channel) SendEnvelope(env []byte) error {
	if err := c.sock.Send(env); err != nil {
		if errors.Is(err, socket.ErrNotOpen) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

// Close tears the socket down for good.
func (c *Channel) Close() { c.sock.Close() }

// IsOpen reports whether the underlying socket is open.
func (c *Channel) IsOpen() bool { return c.sock.IsOpen() }

// State is the underlying socket's state.
func (c *Channel) State() socket.State { return c.sock.State() }

// ExportIdentity returns the identity for persisting or sharing.
func (c *Channel) ExportIdentity() Identity { return c.id }

// ID is the channel id.
func (c *Channel) ID() string { return c.id.ChannelID }

// Role is this side's role.
func (c *Channel) Role() Role { return c.role }

// KeyFingerprint identifies the key without exposing it.
func (c *Channel) KeyFingerprint() string { return c.fp }

// onOpen announces the fresh leg; the relay keeps no session state, so the
// peer learns about reconnects only from this handshake.
func (c *Channel) onOpen() {
	if err := c.Send(protocol.Connect{}); err != nil {
		c.log.Warning("failed to send handshake: %v", err)
	}
	if c.h.OnOpen != nil {
		c.h.OnOpen()
	}
}

func (c *Channel) onMessage(data []byte) {
	raw, err := cryptobox.Decrypt(c.key, data)
	switch {
	case errors.Is(err, cryptobox.ErrDecryptionFailed):
		c.log.Warning("dropping envelope (%d bytes): %v", len(data), err)
		c.emitError(err)
		return
	case err != nil:
		c.emitError(fmt.Errorf("%w: %v", ErrInvalidRemoteSerialization, err))
		return
	}

	m, err := protocol.Decode(raw)
	if err != nil {
		c.emitError(fmt.Errorf("%w: %v", ErrInvalidRemoteSerialization, err))
		return
	}

	switch v := m.(type) {
	case protocol.Connect:
		if !v.Ack {
			if err := c.Send(protocol.Connect{Ack: true}); err != nil {
				c.log.Warning("failed to acknowledge handshake: %v", err)
			}
		}
	case protocol.Unknown:
		c.log.Debug("received unmodelled message type %q", v.Kind)
	}

	if c.h.OnMessage != nil {
		c.h.OnMessage(m)
	}
}

func (c *Channel) emitError(err error) {
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
}
