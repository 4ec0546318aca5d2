// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/estream/escpkg/internal/fsutil"
)

// ErrKeyNotFound is returned by Keyring.Lookup for unknown key ids.
var ErrKeyNotFound = errors.New("key not found")

type (
	// PublicKey is a publisher's registered verification key.
	PublicKey struct {
		ID        string
		Algorithm string
		// Key is a raw Ed25519 public key or a binary OpenPGP public key block.
		Key       []byte
		Publisher string
		Revoked   bool
		// ExpiresAt is zero for keys that never expire.
		ExpiresAt time.Time
	}

	// Keyring resolves key ids to public keys.
	Keyring interface {
		Lookup(keyID string) (*PublicKey, error)
	}

	// MemoryKeyring is a Keyring held in memory, safe for concurrent use.
	MemoryKeyring struct {
		mu   sync.RWMutex
		keys map[string]PublicKey
	}

	keyringFile struct {
		Keys []keyEntry `toml:"keys"`
	}

	keyEntry struct {
		ID        string     `toml:"id"`
		Algorithm string     `toml:"algorithm"`
		Key       string     `toml:"key"`
		Publisher string     `toml:"publisher,omitempty"`
		Revoked   bool       `toml:"revoked,omitempty"`
		ExpiresAt *time.Time `toml:"expires_at,omitempty"`
	}
)

// Expired reports whether the key is past its expiry at t.
func (k *PublicKey) Expired(t time.Time) bool {
	return !k.ExpiresAt.IsZero() && t.After(k.ExpiresAt)
}

// NewMemoryKeyring returns a keyring holding keys.
func NewMemoryKeyring(keys ...PublicKey) *MemoryKeyring {
	kr := &MemoryKeyring{keys: make(map[string]PublicKey, len(keys))}
	for _, k := range keys {
		kr.keys[k.ID] = k
	}
	return kr
}

// Lookup implements Keyring. The returned key is a copy.
func (kr *MemoryKeyring) Lookup(keyID string) (*PublicKey, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	k, ok := kr.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return &k, nil
}

// Add registers or replaces a key.
func (kr *MemoryKeyring) Add(k PublicKey) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.keys[k.ID] = k
}

// Revoke marks a key as revoked.
func (kr *MemoryKeyring) Revoke(keyID string) error {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	k, ok := kr.keys[keyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	k.Revoked = true
	kr.keys[keyID] = k
	return nil
}

// Keys returns all keys sorted by id.
func (kr *MemoryKeyring) Keys() []PublicKey {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	out := make([]PublicKey, 0, len(kr.keys))
	for _, k := range kr.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadKeyring reads a TOML keyring file. A missing file yields an empty keyring.
func LoadKeyring(path string) (*MemoryKeyring, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewMemoryKeyring(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}

	var f keyringFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keyring %s: %w", path, err)
	}
	kr := NewMemoryKeyring()
	for i, e := range f.Keys {
		key, err := base64.StdEncoding.DecodeString(e.Key)
		if err != nil {
			return nil, fmt.Errorf("keyring %s: keys[%d]: %w", path, i, err)
		}
		if e.ID == "" || e.Algorithm == "" {
			return nil, fmt.Errorf("keyring %s: keys[%d]: id and algorithm are required", path, i)
		}
		pk := PublicKey{
			ID:        e.ID,
			Algorithm: e.Algorithm,
			Key:       key,
			Publisher: e.Publisher,
			Revoked:   e.Revoked,
		}
		if e.ExpiresAt != nil {
			pk.ExpiresAt = *e.ExpiresAt
		}
		kr.Add(pk)
	}
	return kr, nil
}

// Save writes the keyring to path atomically.
func (kr *MemoryKeyring) Save(path string) error {
	var f keyringFile
	for _, k := range kr.Keys() {
		e := keyEntry{
			ID:        k.ID,
			Algorithm: k.Algorithm,
			Key:       base64.StdEncoding.EncodeToString(k.Key),
			Publisher: k.Publisher,
			Revoked:   k.Revoked,
		}
		if !k.ExpiresAt.IsZero() {
			expires := k.ExpiresAt
			e.ExpiresAt = &expires
		}
		f.Keys = append(f.Keys, e)
	}
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode keyring: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}
