package manager

import (
	"errors"
	"sync"
	"testing"

	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/protocol"
)

type fakeConn struct {
	id, fp string

	mu    sync.Mutex
	seals int
	sends [][]byte
}

func (c *fakeConn) ID() string             { return c.id }
func (c *fakeConn) KeyFingerprint() string { return c.fp }

func (c *fakeConn) Seal(m protocol.Message) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seals++
	return []byte(c.fp + ":" + string(m.Type())), nil
}

func (c *fakeConn) SendEnvelope(env []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, env)
	return nil
}

func (c *fakeConn) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func TestBroadcastTwoOpenOnePending(t *testing.T) {
	set := NewActiveSet()
	a := &fakeConn{id: "a", fp: "k1"}
	b := &fakeConn{id: "b", fp: "k1"}
	c := &fakeConn{id: "c", fp: "k2"}

	ida, idb, idc := set.Add(a), set.Add(b), set.Add(c)
	set.Opened(ida)
	set.Opened(idb)

	sent, deferred, err := set.Broadcast(protocol.Disconnect{})
	if err != nil || sent != 2 || deferred != 1 {
		t.Fatalf("Broadcast = %d sent, %d deferred, %v", sent, deferred, err)
	}
	if a.sendCount() != 1 || b.sendCount() != 1 {
		t.Fatalf("open entries saw %d and %d sends, want 1 each", a.sendCount(), b.sendCount())
	}
	if c.sendCount() != 0 {
		t.Fatal("pending entry received the message before opening")
	}
	if a.seals+b.seals != 1 {
		t.Fatalf("shared key sealed %d times, want once", a.seals+b.seals)
	}
	if c.seals != 1 {
		t.Fatalf("distinct key sealed %d times, want once", c.seals)
	}

	if err := set.Opened(idc); err != nil {
		t.Fatalf("Opened: %v", err)
	}
	if c.sendCount() != 1 {
		t.Fatalf("pending entry got %d sends after open, want 1", c.sendCount())
	}

	// One-shot: a later reopen does not replay it.
	set.Pending(idc)
	set.Opened(idc)
	if c.sendCount() != 1 {
		t.Fatalf("held message replayed on reopen: %d sends", c.sendCount())
	}
}

func TestRemovedPendingEntryDropsHeldMessages(t *testing.T) {
	set := NewActiveSet()
	d := &fakeConn{id: "d", fp: "k"}
	id := set.Add(d)

	set.Broadcast(protocol.Disconnect{})
	if _, ok := set.Remove(id); !ok {
		t.Fatal("Remove did not find the entry")
	}
	set.Opened(id)

	if d.sendCount() != 0 || set.Len() != 0 {
		t.Fatalf("removed entry still served: sends=%d len=%d", d.sendCount(), set.Len())
	}
}

type failingConn struct{ fakeConn }

func (c *failingConn) SendEnvelope([]byte) error { return channel.ErrNotConnected }

func TestBroadcastReportsSendErrors(t *testing.T) {
	set := NewActiveSet()
	ok := &fakeConn{id: "ok", fp: "k"}
	bad := &failingConn{fakeConn{id: "bad", fp: "k"}}
	set.Opened(set.Add(ok))
	set.Opened(set.Add(bad))

	sent, _, err := set.Broadcast(protocol.Disconnect{})
	if sent != 1 || !errors.Is(err, channel.ErrNotConnected) {
		t.Fatalf("sent=%d err=%v", sent, err)
	}
}

func TestStateTable(t *testing.T) {
	allowed := [][2]State{
		{Idle, ConnectingToServer},
		{ConnectingToServer, Connecting},
		{Connecting, Open},
		{Open, Reconnecting},
		{Reconnecting, ConnectingToServer},
		{Reconnecting, Connecting},
		{Failed, ConnectingToServer},
		{Open, Closed},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s refused", tr[0], tr[1])
		}
	}

	refused := [][2]State{
		{Idle, Open},
		{ConnectingToServer, Open},
		{Failed, Open},
		{Closed, ConnectingToServer},
		{Closed, Idle},
	}
	for _, tr := range refused {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s allowed", tr[0], tr[1])
		}
	}

	if Open.String() != "open" || State(99).String() != "State(99)" {
		t.Fatal("State.String")
	}
}
