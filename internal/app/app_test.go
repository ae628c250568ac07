package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/phonelink/internal/config"
	"github.com/1ureka/phonelink/internal/cryptobox"
	"github.com/1ureka/phonelink/internal/invite"
	"github.com/1ureka/phonelink/internal/manager"
	"github.com/1ureka/phonelink/internal/transport/transporttest"
	"github.com/1ureka/phonelink/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

// syncBuffer is a bytes.Buffer safe for the printer goroutines.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig(t *testing.T) config.Config {
	c := config.Default()
	c.RelayURL = "mem://relay/c"
	c.ConnectBase = "https://phonelink.test"
	c.StateDir = t.TempDir()
	return c
}

func TestShareAndJoin(t *testing.T) {
	hub := transporttest.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shareIn, shareW := io.Pipe()
	joinIn, joinW := io.Pipe()
	defer shareW.Close()
	defer joinW.Close()
	shareOut, joinOut := &syncBuffer{}, &syncBuffer{}

	links := make(chan string, 1)
	shareDone := make(chan error, 1)
	go func() {
		shareDone <- Share(ctx, ShareOptions{
			Config:      testConfig(t),
			Dialer:      hub,
			Version:     "0.1.0",
			ResultCodes: []string{"Contacted", "Not home"},
			In:          shareIn,
			Out:         shareOut,
			OnInvite:    func(link string) { links <- link },
		})
	}()

	var link string
	select {
	case link = <-links:
	case <-time.After(3 * time.Second):
		t.Fatal("no invite link")
	}
	inv, err := invite.Parse(link)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.Version != "0.1.0" || inv.SessionID == "" {
		t.Fatalf("invite hints = %+v", inv)
	}

	joinDone := make(chan error, 1)
	go func() {
		joinDone <- Join(ctx, JoinOptions{
			Config: testConfig(t),
			Dialer: hub,
			Invite: link,
			In:     joinIn,
			Out:    joinOut,
		})
	}()
	waitFor(t, "phone connected", func() bool { return strings.Contains(shareOut.String(), "phone connected") })

	io.WriteString(shareW, `{"firstName":"Ada","lastName":"Lovelace","phoneNumber":"+15555550100"}`+"\n")
	waitFor(t, "contact on phone", func() bool {
		return strings.Contains(joinOut.String(), "call Ada Lovelace at +15555550100")
	})
	if !strings.Contains(joinOut.String(), "Contacted, Not home") {
		t.Fatalf("result codes not shown: %q", joinOut.String())
	}

	io.WriteString(joinW, "Contacted\n")
	waitFor(t, "result on desktop", func() bool { return strings.Contains(shareOut.String(), "call 1: Contacted") })

	cancel()
	for name, ch := range map[string]chan error{"Share": shareDone, "Join": joinDone} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("%s did not return", name)
		}
	}
}

func TestShareResumesIdentity(t *testing.T) {
	cfg := testConfig(t)
	run := func() string {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		links := make(chan string, 1)
		done := make(chan error, 1)
		go func() {
			done <- Share(ctx, ShareOptions{
				Config:     cfg,
				Dialer:     transporttest.NewHub(),
				Passphrase: "hunter2",
				Out:        io.Discard,
				OnInvite:   func(link string) { links <- link },
			})
		}()
		var link string
		select {
		case link = <-links:
		case err := <-done:
			t.Fatalf("Share: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("no invite link")
		}
		cancel()
		<-done
		return link
	}

	first, err := invite.Parse(run())
	if err != nil {
		t.Fatal(err)
	}
	second, err := invite.Parse(run())
	if err != nil {
		t.Fatal(err)
	}
	if first.Identity != second.Identity {
		t.Fatal("identity not resumed from the store")
	}
	if first.SessionID == second.SessionID {
		t.Fatal("session id reused")
	}
}

func TestShareConfirmRetry(t *testing.T) {
	hub := transporttest.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		asked  []error
		answer = true
	)
	links := make(chan string, 1)
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- Share(ctx, ShareOptions{
			Config:   testConfig(t),
			Dialer:   hub,
			Out:      out,
			OnInvite: func(link string) { links <- link },
			ConfirmRetry: func(err error) bool {
				mu.Lock()
				defer mu.Unlock()
				asked = append(asked, err)
				return answer
			},
		})
	}()

	inv, err := invite.Parse(<-links)
	if err != nil {
		t.Fatal(err)
	}
	id := inv.Identity
	key, _ := cryptobox.ImportKey(id.Secret)
	garbage, _ := cryptobox.Encrypt(key, []int{1, 2, 3})
	legs := func() int { return len(hub.Conns(id.ChannelID, "extension")) }

	waitFor(t, "relay leg", func() bool { return legs() == 1 })
	hub.Inject(id.ChannelID, "extension", garbage)
	waitFor(t, "retry prompt", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(asked) == 1
	})
	if !errors.Is(asked[0], manager.ErrInvalidRemoteSerialization) {
		t.Fatalf("asked about %v", asked[0])
	}
	waitFor(t, "fresh leg", func() bool { return legs() == 1 && hub.Dials() == 2 })

	// Declining ends the session with the failure.
	mu.Lock()
	answer = false
	mu.Unlock()
	hub.Inject(id.ChannelID, "extension", garbage)

	select {
	case err := <-done:
		if !errors.Is(err, manager.ErrInvalidRemoteSerialization) {
			t.Fatalf("Share = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Share kept going after the retry was declined")
	}
	if !strings.Contains(out.String(), "reconnecting") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestJoinRejectsBadInvite(t *testing.T) {
	if err := Join(context.Background(), JoinOptions{Config: testConfig(t), Dialer: transporttest.NewHub()}); err == nil {
		t.Fatal("empty invite accepted")
	}
	err := Join(context.Background(), JoinOptions{
		Config: testConfig(t),
		Dialer: transporttest.NewHub(),
		Invite: "https://phonelink.test/connect#nope",
	})
	if err == nil {
		t.Fatal("malformed invite accepted")
	}
}

func TestParseContactLine(t *testing.T) {
	c, err := ParseContactLine(`{"firstName":"Ada","phoneNumber":"+1"}`)
	if err != nil || c.Contact.FirstName != "Ada" {
		t.Fatalf("bare details: %+v, %v", c, err)
	}

	c, err = ParseContactLine(`{"type":"contact","contact":{"firstName":"Bo","phoneNumber":"+2"},"yourName":"Cy"}`)
	if err != nil || c.Contact.FirstName != "Bo" || c.YourName != "Cy" {
		t.Fatalf("full payload: %+v, %v", c, err)
	}

	for _, bad := range []string{
		`not json`,
		`{"firstName":"NoPhone"}`,
		`{"type":"callResult","result":"x","callNumber":1,"timestamp":"2024-01-01T00:00:00Z"}`,
		`{"type":"contact"}`,
	} {
		if _, err := ParseContactLine(bad); err == nil {
			t.Errorf("ParseContactLine(%q) accepted", bad)
		}
	}
}
