package channel

import (
	"fmt"

	"github.com/1ureka/phonelink/internal/cryptobox"
)

// Role is the side of a channel. Its String form is the relay path segment.
type Role int

const (
	Initiator Role = iota + 1 // the desktop extension; creates the identity
	Responder                 // the phone page; receives the identity out of band
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "extension"
	case Responder:
		return "browser"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Peer is the role at the other end of the channel.
func (r Role) Peer() Role {
	if r == Initiator {
		return Responder
	}
	return Initiator
}

// ParseRole accepts the wire names and the role names.
func ParseRole(s string) (Role, error) {
	switch s {
	case "extension", "initiator":
		return Initiator, nil
	case "browser", "responder":
		return Responder, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Identity is everything needed to rejoin a channel. ChannelID is public
// (the relay routes on it); Secret is the exported key and must only travel
// out of band.
type Identity struct {
	ChannelID string `json:"channelId"`
	Secret    string `json:"sharedSecret"`
}

// NewIdentity generates a 128-bit channel id and a fresh key.
func NewIdentity() (Identity, error) {
	id, err := cryptobox.RandomID(16)
	if err != nil {
		return Identity{}, err
	}
	key, err := cryptobox.GenerateKey()
	if err != nil {
		return Identity{}, err
	}
	return Identity{ChannelID: id, Secret: cryptobox.ExportKey(key)}, nil
}

// Validate checks that the identity names a channel and carries a usable key.
func (id Identity) Validate() error {
	if id.ChannelID == "" {
		return fmt.Errorf("%w: empty channel id", ErrMissingIdentity)
	}
	if _, err := cryptobox.ImportKey(id.Secret); err != nil {
		return err
	}
	return nil
}
