package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSDialerRoundTrip(t *testing.T) {
	url := echoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewWSDialer().Dial(ctx, url+"/c/abc/extension")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	payload := []byte{0x00, 0xff, 0x10, 'x'}
	if err := conn.WriteMessage(payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("echo = %x, want %x", got, payload)
	}
}

func TestWSDialerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewWSDialer().Dial(ctx, echoServer(t)); err == nil {
		t.Fatal("Dial with cancelled context succeeded")
	}
}

func TestWSConnCloseUnblocksRead(t *testing.T) {
	conn, err := NewWSDialer().Dial(context.Background(), echoServer(t))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.ReadMessage()
		errCh <- err
	}()

	conn.Close()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("ReadMessage returned nil error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadMessage still blocked after Close")
	}
}
