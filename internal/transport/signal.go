package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/phonelink/internal/util"
)

// signalType identifies the kind of signaling message.
type signalType string

const (
	signalHello     signalType = "hello"
	signalOffer     signalType = "offer"
	signalAnswer    signalType = "answer"
	signalCandidate signalType = "candidate"
)

// signal is the JSON structure exchanged over the relay during signaling.
type signal struct {
	Type      signalType `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// signalSender serializes outgoing signaling messages to the WebSocket.
type signalSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *signalSender) send(msg signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

// exchange runs one SDP/ICE negotiation. Either peer may join the relay
// channel first: every participant announces itself with hello, and the
// offerer answers a hello by replaying its offer and gathered candidates.
type exchange struct {
	pc      *webrtc.PeerConnection
	conn    *websocket.Conn
	sender  *signalSender
	offerer bool

	mu        sync.Mutex
	local     *webrtc.SessionDescription
	remoteSDP string
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	gathered  []string
}

func newExchange(pc *webrtc.PeerConnection, conn *websocket.Conn, offerer bool) *exchange {
	return &exchange{
		pc:      pc,
		conn:    conn,
		sender:  &signalSender{conn: conn},
		offerer: offerer,
	}
}

// run blocks until ready is closed, the signaling leg fails, or ctx is done.
func (ex *exchange) run(ctx context.Context, ready <-chan struct{}) error {
	ex.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		ex.mu.Lock()
		ex.gathered = append(ex.gathered, string(data))
		ex.mu.Unlock()
		// best-effort: the leg is closed once the DataChannel is up
		if err := ex.sender.send(signal{Type: signalCandidate, Candidate: string(data)}); err != nil {
			util.LogDebug("failed to send candidate: %v", err)
		}
	})
	defer ex.pc.OnICECandidate(func(*webrtc.ICECandidate) {})

	if err := ex.sender.send(signal{Type: signalHello}); err != nil {
		return fmt.Errorf("signaling failed: %w", err)
	}
	if ex.offerer {
		if err := ex.sendOffer(); err != nil {
			return fmt.Errorf("failed to send offer: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- ex.watch() // exits when the caller closes the leg
	}()

	select {
	case <-ready:
		return nil
	case err := <-errCh:
		select {
		case <-ready:
			return nil
		default:
			return fmt.Errorf("signaling failed: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ex *exchange) watch() error {
	for {
		_, data, err := ex.conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg signal
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogDebug("ignoring non-signaling frame (%d bytes)", len(data))
			continue
		}

		switch msg.Type {
		case signalHello:
			if ex.offerer {
				err = ex.replay()
			}
		case signalOffer:
			if !ex.offerer {
				err = ex.handleOffer(msg.SDP)
			}
		case signalAnswer:
			if ex.offerer {
				err = ex.handleAnswer(msg.SDP)
			}
		case signalCandidate:
			err = ex.addCandidate(msg.Candidate)
		}
		if err != nil {
			util.LogWarning("signaling %s: %v", msg.Type, err)
		}
	}
}

func (ex *exchange) sendOffer() error {
	offer, err := ex.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := ex.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	ex.mu.Lock()
	ex.local = &offer
	ex.mu.Unlock()

	return ex.sender.send(signal{Type: signalOffer, SDP: offer.SDP})
}

// replay resends the offer and every candidate gathered so far to a peer
// that joined after they were first sent.
func (ex *exchange) replay() error {
	ex.mu.Lock()
	local := ex.local
	gathered := append([]string(nil), ex.gathered...)
	ex.mu.Unlock()

	if local == nil {
		return nil
	}
	if err := ex.sender.send(signal{Type: signalOffer, SDP: local.SDP}); err != nil {
		return err
	}
	for _, c := range gathered {
		if err := ex.sender.send(signal{Type: signalCandidate, Candidate: c}); err != nil {
			return err
		}
	}
	return nil
}

func (ex *exchange) handleOffer(sdp string) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.local != nil {
		if sdp == ex.remoteSDP {
			return ex.sender.send(signal{Type: signalAnswer, SDP: ex.local.SDP})
		}
		return nil
	}

	if err := ex.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: sdp,
	}); err != nil {
		return err
	}
	ex.remoteSDP = sdp
	ex.remoteSet = true
	ex.flushLocked()

	answer, err := ex.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := ex.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	ex.local = &answer

	return ex.sender.send(signal{Type: signalAnswer, SDP: answer.SDP})
}

func (ex *exchange) handleAnswer(sdp string) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.remoteSet {
		return nil
	}
	if err := ex.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: sdp,
	}); err != nil {
		return err
	}
	ex.remoteSDP = sdp
	ex.remoteSet = true
	ex.flushLocked()
	return nil
}

func (ex *exchange) addCandidate(raw string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		return fmt.Errorf("failed to parse ICE candidate: %w", err)
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	if !ex.remoteSet {
		ex.pending = append(ex.pending, init)
		return nil
	}
	return ex.pc.AddICECandidate(init)
}

// flushLocked applies candidates that arrived before the remote description.
func (ex *exchange) flushLocked() {
	for _, c := range ex.pending {
		if err := ex.pc.AddICECandidate(c); err != nil {
			util.LogDebug("failed to add buffered candidate: %v", err)
		}
	}
	ex.pending = nil
}
