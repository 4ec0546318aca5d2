// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"golang.org/x/crypto/sha3"
)

// ComputeMerkleRoot folds hashes pairwise, level by level, hashing
// left || right with SHA3-256. A level with an odd count pairs its last node
// with itself. One leaf is its own root; no leaves give the zero hash.
// The order of hashes is significant.
func ComputeMerkleRoot(hashes []Hash) Hash {
	switch len(hashes) {
	case 0:
		return Hash{}
	case 1:
		return hashes[0]
	}

	level := make([]Hash, len(hashes))
	copy(level, hashes)
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			j := i + 1
			if j == len(level) {
				j = i
			}
			next = append(next, hashPair(level[i], level[j]))
		}
		level = next
	}
	return level[0]
}

// MerkleLevels returns every level of the tree, leaves first and the root
// last, for display.
func MerkleLevels(hashes []Hash) [][]Hash {
	if len(hashes) == 0 {
		return [][]Hash{{{}}}
	}
	levels := [][]Hash{append([]Hash(nil), hashes...)}
	for cur := levels[0]; len(cur) > 1; {
		next := make([]Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			j := min(i+1, len(cur)-1)
			next = append(next, hashPair(cur[i], cur[j]))
		}
		levels = append(levels, next)
		cur = next
	}
	return levels
}

func hashPair(left, right Hash) Hash {
	var buf [2 * HashSize]byte
	copy(buf[:HashSize], left[:])
	copy(buf[HashSize:], right[:])
	return sha3.Sum256(buf[:])
}
