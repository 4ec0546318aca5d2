// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashSize is the length of a SHA3-256 digest.
const HashSize = 32

// ErrInvalidHash is returned when hex text does not decode to a Hash.
var ErrInvalidHash = errors.New("invalid hash")

type (
	// Hash is a SHA3-256 digest.
	Hash [HashSize]byte

	// Signature is raw signature bytes, hex encoded in TOML.
	Signature []byte
)

// Sum returns SHA3-256(data).
func Sum(data []byte) Hash { return sha3.Sum256(data) }

// LeafHash returns SHA3-256(path || 0x00 || content).
func LeafHash(path string, content []byte) Hash {
	h := sha3.New256()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(content)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ParseHash decodes 64 hex characters.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// String returns lowercase hex.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first 12 hex characters, for display.
func (h Hash) Short() string { return h.String()[:12] }

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) != 2*HashSize {
		return fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidHash, 2*HashSize, len(text))
	}
	if _, err := hex.Decode(h[:], text); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	return nil
}

// String returns lowercase hex.
func (s Signature) String() string { return hex.EncodeToString(s) }

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	*s = b
	return nil
}
