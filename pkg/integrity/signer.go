// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/estream/escpkg/pkg/archive"
)

const (
	// AlgorithmEd25519 signs the raw 32-byte root with Ed25519.
	AlgorithmEd25519 = "ed25519"
	// AlgorithmOpenPGP stores a binary OpenPGP detached signature over the root.
	AlgorithmOpenPGP = "openpgp"
)

var (
	// ErrSignFailed is returned when a signer cannot produce a signature.
	ErrSignFailed = errors.New("signing failed")
	// ErrNoPrivateKey is returned when an OpenPGP entity lacks a usable private key.
	ErrNoPrivateKey = errors.New("no usable private key")
)

type (
	// Signer signs Merkle roots.
	Signer interface {
		Algorithm() string
		KeyID() string
		Sign(root Hash) ([]byte, error)
	}

	// Ed25519Signer signs with an Ed25519 private key.
	Ed25519Signer struct {
		id  string
		key ed25519.PrivateKey
	}

	// OpenPGPSigner signs with the primary key of an OpenPGP entity.
	OpenPGPSigner struct {
		entity *openpgp.Entity
	}

	// timestampedSigner embeds the signing time in the signature itself.
	timestampedSigner interface {
		signAt(root Hash, at time.Time) ([]byte, error)
	}
)

// NewEd25519Signer wraps key. An empty id derives one from the public key.
func NewEd25519Signer(id string, key ed25519.PrivateKey) *Ed25519Signer {
	if id == "" {
		id = Ed25519KeyID(key.Public().(ed25519.PublicKey))
	}
	return &Ed25519Signer{id: id, key: key}
}

// GenerateEd25519 creates a key pair from rand and returns the signer with
// the matching keyring entry.
func GenerateEd25519(id string, rand io.Reader) (*Ed25519Signer, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, PublicKey{}, fmt.Errorf("generate ed25519 key: %w", err)
	}
	s := NewEd25519Signer(id, priv)
	return s, s.PublicKey(pub), nil
}

// Ed25519KeyID derives a 16 hex character key id from a public key.
func Ed25519KeyID(pub ed25519.PublicKey) string {
	sum := Sum(pub)
	return hex.EncodeToString(sum[:8])
}

// Algorithm implements Signer.
func (s *Ed25519Signer) Algorithm() string { return AlgorithmEd25519 }

// KeyID implements Signer.
func (s *Ed25519Signer) KeyID() string { return s.id }

// Sign implements Signer.
func (s *Ed25519Signer) Sign(root Hash) ([]byte, error) {
	if len(s.key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 private key has %d bytes", ErrSignFailed, len(s.key))
	}
	return ed25519.Sign(s.key, root[:]), nil
}

// PublicKey returns the keyring entry for pub, the signer's public half.
func (s *Ed25519Signer) PublicKey(pub ed25519.PublicKey) PublicKey {
	return PublicKey{ID: s.id, Algorithm: AlgorithmEd25519, Key: append([]byte(nil), pub...)}
}

// Seed returns the private key seed for storage.
func (s *Ed25519Signer) Seed() []byte { return s.key.Seed() }

// NewOpenPGPSigner wraps an entity whose primary private key is decrypted.
func NewOpenPGPSigner(entity *openpgp.Entity) (*OpenPGPSigner, error) {
	if entity == nil || entity.PrivateKey == nil {
		return nil, ErrNoPrivateKey
	}
	if entity.PrivateKey.Encrypted {
		return nil, fmt.Errorf("%w: private key is encrypted", ErrNoPrivateKey)
	}
	return &OpenPGPSigner{entity: entity}, nil
}

// GenerateOpenPGP creates a new entity for name and email.
func GenerateOpenPGP(name, email string) (*OpenPGPSigner, error) {
	entity, err := openpgp.NewEntity(name, "escpkg publisher key", email, &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
	})
	if err != nil {
		return nil, fmt.Errorf("generate openpgp key: %w", err)
	}
	return NewOpenPGPSigner(entity)
}

// LoadOpenPGPSigner reads an armored private key block.
func LoadOpenPGPSigner(armored []byte) (*OpenPGPSigner, error) {
	list, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("read openpgp key: %w", err)
	}
	for _, e := range list {
		if e.PrivateKey != nil {
			return NewOpenPGPSigner(e)
		}
	}
	return nil, ErrNoPrivateKey
}

// Algorithm implements Signer.
func (s *OpenPGPSigner) Algorithm() string { return AlgorithmOpenPGP }

// KeyID implements Signer.
func (s *OpenPGPSigner) KeyID() string { return s.entity.PrimaryKey.KeyIdString() }

// Sign implements Signer.
func (s *OpenPGPSigner) Sign(root Hash) ([]byte, error) {
	return s.signAt(root, time.Now())
}

func (s *OpenPGPSigner) signAt(root Hash, at time.Time) ([]byte, error) {
	var sig bytes.Buffer
	cfg := &packet.Config{Time: func() time.Time { return at }}
	if err := openpgp.DetachSign(&sig, s.entity, bytes.NewReader(root[:]), cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignFailed, err)
	}
	return sig.Bytes(), nil
}

// PublicKey returns the keyring entry for the entity.
func (s *OpenPGPSigner) PublicKey() (PublicKey, error) {
	var buf bytes.Buffer
	if err := s.entity.Serialize(&buf); err != nil {
		return PublicKey{}, fmt.Errorf("serialize openpgp public key: %w", err)
	}
	return PublicKey{ID: s.KeyID(), Algorithm: AlgorithmOpenPGP, Key: buf.Bytes()}, nil
}

// Entity returns the underlying OpenPGP entity.
func (s *OpenPGPSigner) Entity() *openpgp.Entity { return s.entity }

// Sign computes the entries and Merkle root of a and signs the root.
// now is truncated to seconds and stored in UTC.
func Sign(a *archive.Archive, signer Signer, now time.Time) (*Record, error) {
	entries, err := Entries(a)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Algorithm: signer.Algorithm(),
		KeyID:     signer.KeyID(),
		SignedAt:  now.UTC().Truncate(time.Second),
		Entries:   entries,
	}
	rec.MerkleRoot = ComputeMerkleRoot(rec.Hashes())

	var sig []byte
	if ts, ok := signer.(timestampedSigner); ok {
		sig, err = ts.signAt(rec.MerkleRoot, rec.SignedAt)
	} else {
		sig, err = signer.Sign(rec.MerkleRoot)
	}
	if err != nil {
		return nil, err
	}
	rec.Signature = sig
	return rec, nil
}

// SealArchive signs a and stores the record as its integrity section,
// replacing any existing one.
func SealArchive(a *archive.Archive, signer Signer, now time.Time) (*Record, error) {
	rec, err := Sign(a, signer, now)
	if err != nil {
		return nil, err
	}
	data, err := rec.Marshal()
	if err != nil {
		return nil, err
	}
	a.SetSection(archive.NewSection(archive.TypeIntegrity, data, archive.CompressionNone))
	return rec, nil
}

func verifySignature(pk *PublicKey, rec *Record) error {
	switch pk.Algorithm {
	case AlgorithmEd25519:
		if len(pk.Key) != ed25519.PublicKeySize {
			return fmt.Errorf("ed25519 public key has %d bytes", len(pk.Key))
		}
		if !ed25519.Verify(ed25519.PublicKey(pk.Key), rec.MerkleRoot[:], rec.Signature) {
			return errors.New("ed25519 signature does not verify")
		}
		return nil
	case AlgorithmOpenPGP:
		keyring, err := openpgp.ReadKeyRing(bytes.NewReader(pk.Key))
		if err != nil {
			return fmt.Errorf("read openpgp public key: %w", err)
		}
		// Key lifetime is judged by the keyring entry, so the packet check
		// runs at signing time.
		signedAt := rec.SignedAt
		cfg := &packet.Config{Time: func() time.Time { return signedAt }}
		_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(rec.MerkleRoot[:]), bytes.NewReader(rec.Signature), cfg)
		return err
	default:
		return fmt.Errorf("unsupported algorithm %q", pk.Algorithm)
	}
}
