// Package invite builds and parses the link that carries a channel identity
// to the phone. Routing hints travel in the query; the channel id and the
// secret travel in the fragment, which browsers never send to a server.
package invite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/1ureka/phonelink/internal/channel"
)

// ConnectPath is the page the phone opens.
const ConnectPath = "/connect"

var ErrInvalidInvite = errors.New("invalid invite link")

type Invite struct {
	SessionID string
	Version   string
	UserAgent string
	Domain    string
	Identity  channel.Identity
}

// NewSessionID returns a fresh routing hint. A new session id makes the phone
// reload the page even when only the fragment changed.
func NewSessionID() string {
	return uuid.NewString()
}

// Build renders the invite against base, e.g. "https://example.org".
func (inv Invite) Build(base string) (string, error) {
	if err := inv.Identity.Validate(); err != nil {
		return "", err
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if b.Scheme == "" || b.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", base)
	}

	u := b.ResolveReference(&url.URL{Path: ConnectPath})
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("sessionId", inv.SessionID)
	set("version", inv.Version)
	set("userAgent", inv.UserAgent)
	set("domain", inv.Domain)
	u.RawQuery = q.Encode()
	u.Fragment = inv.Identity.ChannelID + "&" + inv.Identity.Secret
	return u.String(), nil
}

// Parse reads an invite link. The fragment must hold a channel id and a key
// that imports.
func Parse(raw string) (Invite, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Invite{}, fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}

	channelID, secret, ok := strings.Cut(u.Fragment, "&")
	if !ok || channelID == "" || secret == "" {
		return Invite{}, fmt.Errorf("%w: fragment must be channelId&secret", ErrInvalidInvite)
	}

	q := u.Query()
	inv := Invite{
		SessionID: q.Get("sessionId"),
		Version:   q.Get("version"),
		UserAgent: q.Get("userAgent"),
		Domain:    q.Get("domain"),
		Identity:  channel.Identity{ChannelID: channelID, Secret: secret},
	}
	if err := inv.Identity.Validate(); err != nil {
		return Invite{}, fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}
	return inv, nil
}
