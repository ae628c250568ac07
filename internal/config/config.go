// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/1ureka/phonelink/internal/channel"
)

// Mode picks the transport under the secure channel.
type Mode string

const (
	ModeWebSocket Mode = "websocket" // frames ride the relay WebSocket
	ModeWebRTC    Mode = "webrtc"    // the relay only carries signaling; frames ride a DataChannel
)

// DefaultRelayURL is the public relay.
const DefaultRelayURL = "wss://phonelink.1ureka.dev/c"

// Config stores every parameter the CLI gathers from flags or prompts.
type Config struct {
	Role        channel.Role
	RelayURL    string // WebSocket base; the channel id and role are appended
	ConnectBase string // Initiator: base of the invite link shown to the phone
	ICEURL      string // optional ICE server list endpoint (webrtc mode)
	Mode        Mode
	StateDir    string // Initiator: where a passphrase-sealed identity is kept
	Debug       bool
}

// Default returns the configuration used when no flag overrides it.
func Default() Config {
	return Config{
		Role:        channel.Initiator,
		RelayURL:    DefaultRelayURL,
		ConnectBase: ConnectBaseFor(DefaultRelayURL),
		Mode:        ModeWebSocket,
		StateDir:    DefaultStateDir(),
	}
}

// Validate normalizes RelayURL in place and fills ConnectBase when empty.
func (c *Config) Validate() error {
	if c.Role != channel.Initiator && c.Role != channel.Responder {
		return fmt.Errorf("invalid role %v", c.Role)
	}
	switch c.Mode {
	case ModeWebSocket, ModeWebRTC:
	default:
		return fmt.Errorf("invalid mode %q: must be %q or %q", c.Mode, ModeWebSocket, ModeWebRTC)
	}

	relay, err := NormalizeRelayURL(c.RelayURL)
	if err != nil {
		return err
	}
	c.RelayURL = relay

	if c.ConnectBase == "" {
		c.ConnectBase = ConnectBaseFor(relay)
	}
	if c.ICEURL != "" {
		u, err := url.Parse(c.ICEURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid ICE config URL: %s", c.ICEURL)
		}
	}
	if c.Role == channel.Initiator && c.StateDir == "" {
		return errors.New("missing state directory")
	}
	return nil
}

// NormalizeRelayURL accepts a host, an http(s) URL or a ws(s) URL and returns
// a ws(s) base. A missing path defaults to /c.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	scheme := "wss"
	switch u.Scheme {
	case "ws", "http":
		scheme = "ws"
	}
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = "/c"
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, path), nil
}

// ConnectBaseFor derives the web origin serving the connect page from a
// relay URL: same host, http(s) scheme.
func ConnectBaseFor(relayURL string) string {
	u, err := url.Parse(relayURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "https"
	if u.Scheme == "ws" || u.Scheme == "http" {
		scheme = "http"
	}
	return scheme + "://" + u.Host
}

// DefaultStateDir is phonelink under the user config directory, or a
// dot-directory in the working directory when that is unknown.
func DefaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".phonelink"
	}
	return filepath.Join(dir, "phonelink")
}
