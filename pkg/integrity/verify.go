// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/archive"
	"github.com/estream/escpkg/pkg/manifest"
)

const (
	// StagePerPath compares each committed path hash with the archive.
	StagePerPath Stage = 1
	// StageMerkleRoot recomputes the root from the committed hashes.
	StageMerkleRoot Stage = 2
	// StageSignature checks the key and the signature over the root.
	StageSignature Stage = 3
)

// ErrVerification is the sentinel error wrapped by VerificationError.
var ErrVerification = errors.New("verification failed")

type (
	// Stage identifies a verification stage.
	Stage int

	// Result is the outcome of Verify. The variants are Valid, TamperedFile,
	// MerkleRootMismatch, InvalidSignature, RevokedKey and ExpiredKey; the
	// set is closed.
	Result interface {
		fmt.Stringer
		// Stage is the stage that produced the result; Valid reports the
		// last stage.
		Stage() Stage
		isResult()
	}

	// Valid means every stage passed.
	Valid struct {
		KeyID    string
		SignedAt time.Time
	}

	// TamperedFile names the first path whose content does not match the record.
	TamperedFile struct {
		Path   string
		Reason string
	}

	// MerkleRootMismatch means the committed hashes do not fold to the stored root.
	MerkleRootMismatch struct {
		Expected Hash
		Actual   Hash
	}

	// InvalidSignature means the signature does not verify or the key is unknown.
	InvalidSignature struct {
		KeyID  string
		Reason string
	}

	// RevokedKey means the signing key has been revoked.
	RevokedKey struct {
		KeyID string
	}

	// ExpiredKey means the signing key was expired at signing time or is now.
	ExpiredKey struct {
		KeyID     string
		ExpiresAt time.Time
	}

	// VerificationError carries a non-Valid Result as an error.
	VerificationError struct {
		Stage  Stage
		Result Result
	}

	// VerifyOption configures Verify.
	VerifyOption func(*verifyConfig)

	verifyConfig struct {
		now func() time.Time
	}

	// Item is one archive for VerifyAll. A nil Record is read from the
	// archive's integrity section.
	Item struct {
		Name    string
		Archive *archive.Archive
		Record  *Record
	}

	// Outcome is the verification result of one Item. Err is set when
	// verification could not run to a Result.
	Outcome struct {
		Name   string
		Result Result
		Err    error
	}
)

func (Valid) isResult()              {}
func (TamperedFile) isResult()       {}
func (MerkleRootMismatch) isResult() {}
func (InvalidSignature) isResult()   {}
func (RevokedKey) isResult()         {}
func (ExpiredKey) isResult()         {}

// Stage implements Result.
func (Valid) Stage() Stage { return StageSignature }

// Stage implements Result.
func (TamperedFile) Stage() Stage { return StagePerPath }

// Stage implements Result.
func (MerkleRootMismatch) Stage() Stage { return StageMerkleRoot }

// Stage implements Result.
func (InvalidSignature) Stage() Stage { return StageSignature }

// Stage implements Result.
func (RevokedKey) Stage() Stage { return StageSignature }

// Stage implements Result.
func (ExpiredKey) Stage() Stage { return StageSignature }

func (r Valid) String() string {
	return fmt.Sprintf("valid (key %s, signed %s)", r.KeyID, r.SignedAt.Format(time.RFC3339))
}

func (r TamperedFile) String() string {
	if r.Reason == "" {
		return fmt.Sprintf("tampered file %s", r.Path)
	}
	return fmt.Sprintf("tampered file %s: %s", r.Path, r.Reason)
}

func (r MerkleRootMismatch) String() string {
	return fmt.Sprintf("merkle root mismatch: record %s, computed %s", r.Expected, r.Actual)
}

func (r InvalidSignature) String() string {
	return fmt.Sprintf("invalid signature by key %s: %s", r.KeyID, r.Reason)
}

func (r RevokedKey) String() string { return fmt.Sprintf("key %s is revoked", r.KeyID) }

func (r ExpiredKey) String() string {
	return fmt.Sprintf("key %s expired at %s", r.KeyID, r.ExpiresAt.Format(time.RFC3339))
}

// String names the stage.
func (s Stage) String() string {
	switch s {
	case StagePerPath:
		return "per-path hashes"
	case StageMerkleRoot:
		return "merkle root"
	case StageSignature:
		return "signature"
	default:
		return fmt.Sprintf("stage %d", int(s))
	}
}

// IsValid reports whether r is Valid.
func IsValid(r Result) bool {
	_, ok := r.(Valid)
	return ok
}

// Err returns nil for Valid and a *VerificationError otherwise.
func Err(r Result) error {
	if r == nil || IsValid(r) {
		return nil
	}
	return &VerificationError{Stage: r.Stage(), Result: r}
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	return fmt.Sprintf("integrity check failed at %s stage: %s", e.Stage, e.Result)
}

// Unwrap returns ErrVerification.
func (e *VerificationError) Unwrap() error { return ErrVerification }

// Category implements issue.Categorized.
func (e *VerificationError) Category() issue.Category { return issue.CategoryIntegrity }

// Code maps signature failures to E005 and hash failures to E006.
func (e *VerificationError) Code() issue.Code {
	if e.Stage == StageSignature {
		return issue.CodeSignatureInvalid
	}
	return issue.CodeChecksumMismatch
}

// WithClock overrides the clock used for key expiry.
func WithClock(now func() time.Time) VerifyOption {
	return func(c *verifyConfig) { c.now = now }
}

// Verify checks a against rec and kr. The returned error is reserved for
// failures that prevent a verdict, such as a keyring backend error; every
// integrity failure is a Result.
func Verify(a *archive.Archive, rec *Record, kr Keyring, opts ...VerifyOption) (Result, error) {
	cfg := verifyConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	if r := verifyPaths(a, rec); r != nil {
		return r, nil
	}

	if root := ComputeMerkleRoot(rec.Hashes()); root != rec.MerkleRoot {
		return MerkleRootMismatch{Expected: rec.MerkleRoot, Actual: root}, nil
	}

	pk, err := kr.Lookup(rec.KeyID)
	if errors.Is(err, ErrKeyNotFound) {
		return InvalidSignature{KeyID: rec.KeyID, Reason: "unknown key"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up key %s: %w", rec.KeyID, err)
	}
	if pk.Revoked {
		return RevokedKey{KeyID: pk.ID}, nil
	}
	if pk.Expired(rec.SignedAt) || pk.Expired(cfg.now()) {
		return ExpiredKey{KeyID: pk.ID, ExpiresAt: pk.ExpiresAt}, nil
	}
	if pk.Algorithm != rec.Algorithm {
		return InvalidSignature{
			KeyID:  rec.KeyID,
			Reason: fmt.Sprintf("record algorithm %q, key algorithm %q", rec.Algorithm, pk.Algorithm),
		}, nil
	}
	if err := verifySignature(pk, rec); err != nil {
		return InvalidSignature{KeyID: rec.KeyID, Reason: err.Error()}, nil
	}
	if reason := checkOwner(a, pk); reason != "" {
		return InvalidSignature{KeyID: rec.KeyID, Reason: reason}, nil
	}
	return Valid{KeyID: rec.KeyID, SignedAt: rec.SignedAt}, nil
}

// checkOwner requires the key's publisher to own the package named by the
// archive manifest. It returns the rejection reason, or "" when it holds.
func checkOwner(a *archive.Archive, pk *PublicKey) string {
	content, err := a.Content(archive.TypeManifest)
	if err != nil {
		return fmt.Sprintf("read manifest: %v", err)
	}
	m, err := manifest.Parse(content)
	if err != nil {
		return fmt.Sprintf("read manifest: %v", err)
	}
	if owner := manifest.Owner(m.Name); owner != pk.Publisher {
		return fmt.Sprintf("key publisher %q may not sign %s (owner %q)", pk.Publisher, m.Name, owner)
	}
	return ""
}

// verifyPaths is stage 1. Every committed path must exist with a matching
// hash, and every hashed section of the archive must be committed.
func verifyPaths(a *archive.Archive, rec *Record) Result {
	sections := make(map[string]*archive.Section, len(a.Sections))
	for _, s := range a.Sections {
		if s.Type != archive.TypeIntegrity {
			sections[s.Path()] = s
		}
	}

	committed := make(map[string]bool, len(rec.Entries))
	for _, e := range rec.Entries {
		committed[e.Path] = true
		s, ok := sections[e.Path]
		if !ok {
			return TamperedFile{Path: e.Path, Reason: "missing from archive"}
		}
		content, err := s.Content()
		if err != nil {
			return TamperedFile{Path: e.Path, Reason: err.Error()}
		}
		if LeafHash(e.Path, content) != e.Hash {
			return TamperedFile{Path: e.Path, Reason: "content hash differs"}
		}
	}

	for _, s := range a.Sections {
		if s.Type != archive.TypeIntegrity && !committed[s.Path()] {
			return TamperedFile{Path: s.Path(), Reason: "not covered by the record"}
		}
	}
	return nil
}

// VerifyArchive reads the record from a's integrity section and verifies.
func VerifyArchive(a *archive.Archive, kr Keyring, opts ...VerifyOption) (Result, error) {
	rec, err := RecordFromArchive(a)
	if err != nil {
		return nil, err
	}
	return Verify(a, rec, kr, opts...)
}

// VerifyAll verifies items concurrently with at most workers in flight
// (unbounded when workers < 1). Outcomes are returned in item order. The
// error is non-nil only when ctx is done before every item ran.
func VerifyAll(ctx context.Context, items []Item, kr Keyring, workers int, opts ...VerifyOption) ([]Outcome, error) {
	outcomes := make([]Outcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := Outcome{Name: item.Name}
			if item.Record != nil {
				out.Result, out.Err = Verify(item.Archive, item.Record, kr, opts...)
			} else {
				out.Result, out.Err = VerifyArchive(item.Archive, kr, opts...)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}
