// SPDX-License-Identifier: MPL-2.0

// Package integrity signs archives and verifies them.
//
// Every non-integrity section contributes one leaf, SHA3-256(path || 0x00 ||
// content), ordered by path. Leaves are paired into a Merkle tree whose odd
// levels pair the last node with itself. The publisher signs the root and
// the result is stored as integrity.toml in the archive's integrity section.
//
// Verify runs three stages and stops at the first failure:
//
//  1. per-path hashes against the archive (TamperedFile)
//  2. the Merkle root recomputed from the record's hashes, in record order
//     (MerkleRootMismatch)
//  3. the signature against the keyring (InvalidSignature, RevokedKey,
//     ExpiredKey); the key's publisher must also own the package name
//     (see manifest.Owner)
//
// The outcome is a Result, a closed set of variants; callers switch over it.
package integrity
