package manager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/phonelink/internal/protocol"
)

// Conn is what the active set needs from a channel.
type Conn interface {
	ID() string
	KeyFingerprint() string
	Seal(m protocol.Message) ([]byte, error)
	SendEnvelope(env []byte) error
}

// ActiveSet holds the logical connections attached to one local identity.
// Entries are added pending and marked open by their owner; a broadcast to
// a pending entry is held and sent once, on that entry's next open.
type ActiveSet struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]*entry
}

type entry struct {
	conn    Conn
	open    bool
	pending [][]byte
}

// NewActiveSet returns an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{entries: make(map[uint64]*entry)}
}

// Add registers c as pending and returns its entry id.
func (s *ActiveSet) Add(c Conn) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.entries[s.next] = &entry{conn: c}
	return s.next
}

// Opened marks the entry open and flushes what was held for it.
func (s *ActiveSet) Opened(id uint64) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	e.open = true
	held := e.pending
	e.pending = nil
	s.mu.Unlock()

	var errs []error
	for _, env := range held {
		if err := e.conn.SendEnvelope(env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending marks an open entry as waiting for its transport again.
func (s *ActiveSet) Pending(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.open = false
	}
}

// Remove drops the entry and anything held for it.
func (s *ActiveSet) Remove(id uint64) (Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	delete(s.entries, id)
	return e.conn, true
}

// Clear empties the set and returns the removed connections.
func (s *ActiveSet) Clear() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conn, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, e.conn)
		delete(s.entries, id)
	}
	return out
}

// Len is the number of entries, open or pending.
func (s *ActiveSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// OpenIDs lists the channel ids of open entries.
func (s *ActiveSet) OpenIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		if e.open {
			out = append(out, e.conn.ID())
		}
	}
	return out
}

// Broadcast seals m once per distinct key and sends it to every open entry;
// pending entries get it on their next open. It returns how many entries
// were sent to and how many were deferred.
func (s *ActiveSet) Broadcast(m protocol.Message) (sent, deferred int, err error) {
	s.mu.Lock()
	sealed := make(map[string][]byte)
	var targets []Conn
	var targetEnvs [][]byte
	for _, e := range s.entries {
		fp := e.conn.KeyFingerprint()
		env, ok := sealed[fp]
		if !ok {
			env, err = e.conn.Seal(m)
			if err != nil {
				s.mu.Unlock()
				return 0, 0, fmt.Errorf("seal for %s: %w", e.conn.ID(), err)
			}
			sealed[fp] = env
		}
		if e.open {
			targets = append(targets, e.conn)
			targetEnvs = append(targetEnvs, env)
		} else {
			e.pending = append(e.pending, env)
			deferred++
		}
	}
	s.mu.Unlock()

	var errs []error
	for i, c := range targets {
		if err := c.SendEnvelope(targetEnvs[i]); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", c.ID(), err))
			continue
		}
		sent++
	}
	return sent, deferred, errors.Join(errs...)
}
