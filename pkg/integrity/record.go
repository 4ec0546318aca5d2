// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/archive"
)

// ErrMalformedRecord is returned when integrity.toml cannot be decoded.
var ErrMalformedRecord = errors.New("malformed integrity record")

type (
	// Entry is one committed (path, hash) pair.
	Entry struct {
		Path string `toml:"path"`
		Hash Hash   `toml:"hash"`
	}

	// Record is the content of integrity.toml. It is created once when a
	// package is published and never modified.
	Record struct {
		Algorithm  string    `toml:"algorithm"`
		KeyID      string    `toml:"key_id"`
		SignedAt   time.Time `toml:"signed_at"`
		MerkleRoot Hash      `toml:"merkle_root"`
		Entries    []Entry   `toml:"entries"`
		Signature  Signature `toml:"signature"`
	}

	// RecordError wraps a decode failure of integrity.toml.
	RecordError struct {
		Err error
	}
)

// Error implements the error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedRecord, e.Err)
}

// Unwrap returns the decode error.
func (e *RecordError) Unwrap() error { return e.Err }

// Is matches ErrMalformedRecord.
func (e *RecordError) Is(target error) bool { return target == ErrMalformedRecord }

// Category classifies malformed records as format errors.
func (e *RecordError) Category() issue.Category { return issue.CategoryFormat }

// Entries hashes every section of a except the integrity section and
// returns the entries sorted by path.
func Entries(a *archive.Archive) ([]Entry, error) {
	entries := make([]Entry, 0, len(a.Sections))
	for _, s := range a.Sections {
		if s.Type == archive.TypeIntegrity {
			continue
		}
		content, err := s.Content()
		if err != nil {
			return nil, fmt.Errorf("hash section %s: %w", s.Path(), err)
		}
		entries = append(entries, Entry{Path: s.Path(), Hash: LeafHash(s.Path(), content)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Hashes returns the entry hashes in record order.
func (r *Record) Hashes() []Hash {
	out := make([]Hash, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Hash
	}
	return out
}

// Marshal encodes the record as TOML.
func (r *Record) Marshal() ([]byte, error) {
	data, err := toml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode integrity record: %w", err)
	}
	return data, nil
}

// ParseRecord decodes integrity.toml.
func ParseRecord(data []byte) (*Record, error) {
	var r Record
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, &RecordError{Err: err}
	}
	if r.Algorithm == "" || r.KeyID == "" {
		return nil, &RecordError{Err: errors.New("algorithm and key_id are required")}
	}
	return &r, nil
}

// RecordFromArchive decodes the integrity section of a.
func RecordFromArchive(a *archive.Archive) (*Record, error) {
	data, err := a.Content(archive.TypeIntegrity)
	if err != nil {
		return nil, err
	}
	return ParseRecord(data)
}
