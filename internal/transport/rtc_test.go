package transport_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/1ureka/phonelink/internal/iceconfig"
	"github.com/1ureka/phonelink/internal/relay"
	"github.com/1ureka/phonelink/internal/transport"
)

// localICE keeps candidate gathering on the loopback host.
var localICE = []iceconfig.Server{{URLs: []string{"stun:127.0.0.1:3478"}}}

func rtcDialer(offerer bool) *transport.RTCDialer {
	d := transport.NewRTCDialer(offerer)
	d.SetICEServers(localICE)
	return d
}

type dialResult struct {
	conn transport.Conn
	err  error
}

func TestRTCDialerJoinOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("negotiates real PeerConnections")
	}

	for _, tc := range []struct {
		name         string
		offererFirst bool
	}{
		{name: "offerer joins last", offererFirst: false},
		{name: "offerer joins first", offererFirst: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := relay.New(relay.Options{})
			ts := httptest.NewServer(srv.Handler())
			defer ts.Close()
			base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/c/rtc"

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			dial := func(offerer bool, role string) <-chan dialResult {
				out := make(chan dialResult, 1)
				go func() {
					conn, err := rtcDialer(offerer).Dial(ctx, base+"/"+role)
					out <- dialResult{conn, err}
				}()
				return out
			}

			var offer, answer <-chan dialResult
			if tc.offererFirst {
				offer = dial(true, "browser")
				time.Sleep(300 * time.Millisecond)
				answer = dial(false, "extension")
			} else {
				answer = dial(false, "extension")
				time.Sleep(300 * time.Millisecond)
				offer = dial(true, "browser")
			}

			a, b := <-answer, <-offer
			if a.err != nil || b.err != nil {
				t.Fatalf("Dial: answerer=%v offerer=%v", a.err, b.err)
			}
			defer a.conn.Close()
			defer b.conn.Close()

			if err := a.conn.WriteMessage([]byte("hi")); err != nil {
				t.Fatalf("WriteMessage: %v", err)
			}
			got, err := b.conn.ReadMessage()
			if err != nil || string(got) != "hi" {
				t.Fatalf("offerer read %q, %v", got, err)
			}

			if err := b.conn.WriteMessage([]byte{0x00, 0xff}); err != nil {
				t.Fatalf("WriteMessage: %v", err)
			}
			got, err = a.conn.ReadMessage()
			if err != nil || len(got) != 2 || got[1] != 0xff {
				t.Fatalf("answerer read %x, %v", got, err)
			}

			// Both signaling legs are released once the DataChannel is up.
			deadline := time.Now().Add(3 * time.Second)
			for srv.Rooms() != 0 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			if srv.Rooms() != 0 {
				t.Fatalf("signaling room still open (%d rooms)", srv.Rooms())
			}
		})
	}
}

func TestRTCConnCloseUnblocksRead(t *testing.T) {
	if testing.Short() {
		t.Skip("negotiates real PeerConnections")
	}

	srv := relay.New(relay.Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/c/close"

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	peer := make(chan dialResult, 1)
	go func() {
		conn, err := rtcDialer(false).Dial(ctx, base+"/extension")
		peer <- dialResult{conn, err}
	}()
	conn, err := rtcDialer(true).Dial(ctx, base+"/browser")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	other := <-peer
	if other.err != nil {
		t.Fatalf("peer Dial: %v", other.err)
	}
	defer other.conn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.ReadMessage()
		errCh <- err
	}()
	conn.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("ReadMessage returned no error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadMessage still blocked after Close")
	}
	if err := conn.WriteMessage([]byte("late")); err == nil {
		t.Fatal("WriteMessage succeeded after Close")
	}
}
