// Package store keeps a channel identity on disk so an initiator can resume
// the same channel after a restart. The identity is sealed under a key
// derived from a passphrase; nothing is written in the clear.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/1ureka/phonelink/internal/channel"
)

const identityFile = "identity.json"

var (
	ErrNotFound        = errors.New("no stored identity")
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted identity file")
)

// FileStore persists one identity under dir.
type FileStore struct {
	dir  string
	cost scryptCost
}

// NewFileStore creates dir (0700) if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, cost: defaultCost}, nil
}

func (s *FileStore) path() string { return filepath.Join(s.dir, identityFile) }

// SaveIdentity seals id and replaces any stored identity.
func (s *FileStore) SaveIdentity(passphrase string, id channel.Identity) error {
	if passphrase == "" {
		return errors.New("store: empty passphrase")
	}
	if err := id.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	sealed, err := seal(passphrase, raw, s.cost)
	if err != nil {
		return fmt.Errorf("store: seal identity: %w", err)
	}
	return writeAtomic(s.path(), sealed, 0o600)
}

// LoadIdentity opens the stored identity.
func (s *FileStore) LoadIdentity(passphrase string) (channel.Identity, error) {
	b, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return channel.Identity{}, ErrNotFound
	}
	if err != nil {
		return channel.Identity{}, err
	}

	raw, err := open(passphrase, b)
	if err != nil {
		return channel.Identity{}, err
	}
	var id channel.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return channel.Identity{}, fmt.Errorf("store: decode identity: %w", err)
	}
	if err := id.Validate(); err != nil {
		return channel.Identity{}, fmt.Errorf("store: stored identity unusable: %w", err)
	}
	return id, nil
}

// DeleteIdentity removes the stored identity. Deleting nothing is not an error.
func (s *FileStore) DeleteIdentity() error {
	err := os.Remove(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
