// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/pelletier/go-toml/v2"

	"github.com/estream/escpkg/internal/fsutil"
)

const openPGPPrivateKeyBlock = "PGP PRIVATE KEY BLOCK"

// ErrInvalidSigningKey is returned for an unreadable signing key file.
var ErrInvalidSigningKey = errors.New("invalid signing key")

// signingKeyFile is the TOML form of an Ed25519 signing key.
type signingKeyFile struct {
	Algorithm string `toml:"algorithm"`
	ID        string `toml:"id"`
	Seed      string `toml:"seed"`
}

// SaveSigningKey writes the private half of signer to path with mode 0600.
// Ed25519 keys are stored as TOML; OpenPGP keys as an armored private key
// block.
func SaveSigningKey(path string, signer Signer) error {
	var data []byte
	switch s := signer.(type) {
	case *Ed25519Signer:
		out, err := toml.Marshal(signingKeyFile{
			Algorithm: AlgorithmEd25519,
			ID:        s.KeyID(),
			Seed:      base64.StdEncoding.EncodeToString(s.Seed()),
		})
		if err != nil {
			return fmt.Errorf("encode signing key: %w", err)
		}
		data = out
	case *OpenPGPSigner:
		var buf bytes.Buffer
		w, err := armor.Encode(&buf, openPGPPrivateKeyBlock, nil)
		if err != nil {
			return fmt.Errorf("encode signing key: %w", err)
		}
		if err := s.entity.SerializePrivate(w, nil); err != nil {
			return fmt.Errorf("encode signing key: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("encode signing key: %w", err)
		}
		data = buf.Bytes()
	default:
		return fmt.Errorf("%w: cannot store %T", ErrInvalidSigningKey, signer)
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}

// LoadSigner reads a key written by SaveSigningKey.
func LoadSigner(path string) (Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	if bytes.Contains(data, []byte("-----BEGIN "+openPGPPrivateKeyBlock)) {
		s, err := LoadOpenPGPSigner(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSigningKey, path, err)
		}
		return s, nil
	}

	var f signingKeyFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSigningKey, path, err)
	}
	if f.Algorithm != AlgorithmEd25519 {
		return nil, fmt.Errorf("%w: %s: unsupported algorithm %q", ErrInvalidSigningKey, path, f.Algorithm)
	}
	seed, err := base64.StdEncoding.DecodeString(f.Seed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: %s: seed must be %d base64 bytes", ErrInvalidSigningKey, path, ed25519.SeedSize)
	}
	return NewEd25519Signer(f.ID, ed25519.NewKeyFromSeed(seed)), nil
}

// PublicKeyOf returns the keyring entry matching signer.
func PublicKeyOf(signer Signer) (PublicKey, error) {
	switch s := signer.(type) {
	case *Ed25519Signer:
		return s.PublicKey(s.key.Public().(ed25519.PublicKey)), nil
	case *OpenPGPSigner:
		return s.PublicKey()
	default:
		return PublicKey{}, fmt.Errorf("%w: no public key for %T", ErrInvalidSigningKey, signer)
	}
}
