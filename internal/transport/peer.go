package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/phonelink/internal/iceconfig"
)

// newPeerConnection creates a PeerConnection configured with the given
// servers, or the compiled-in STUN fallback when none are known yet.
func newPeerConnection(servers []iceconfig.Server) (*webrtc.PeerConnection, error) {
	if len(servers) == 0 {
		servers = iceconfig.Fallback
	}

	ice := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		ice = append(ice, srv)
	}

	return webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
}

// newDataChannel creates a pre-negotiated DataChannel (ID 0) so both sides
// can create it without OnDataChannel. It is ordered: envelopes carry a
// conversation, and the handshake must precede data.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("phonelink", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
