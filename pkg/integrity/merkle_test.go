// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"testing"

	"golang.org/x/crypto/sha3"
)

func leaf(s string) Hash { return LeafHash(s, []byte(s)) }

func pair(a, b Hash) Hash {
	return sha3.Sum256(append(append([]byte{}, a[:]...), b[:]...))
}

func TestComputeMerkleRoot(t *testing.T) {
	t.Parallel()

	a, b, c, d, e := leaf("a"), leaf("b"), leaf("c"), leaf("d"), leaf("e")

	tests := []struct {
		name   string
		leaves []Hash
		want   Hash
	}{
		{name: "empty", leaves: nil, want: Hash{}},
		{name: "single", leaves: []Hash{a}, want: a},
		{name: "two", leaves: []Hash{a, b}, want: pair(a, b)},
		{name: "three duplicates last", leaves: []Hash{a, b, c}, want: pair(pair(a, b), pair(c, c))},
		{name: "four", leaves: []Hash{a, b, c, d}, want: pair(pair(a, b), pair(c, d))},
		{
			name:   "five duplicates on two levels",
			leaves: []Hash{a, b, c, d, e},
			want:   pair(pair(pair(a, b), pair(c, d)), pair(pair(e, e), pair(e, e))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ComputeMerkleRoot(tt.leaves); got != tt.want {
				t.Errorf("ComputeMerkleRoot() = %s, want %s", got, tt.want)
			}
			levels := MerkleLevels(tt.leaves)
			if root := levels[len(levels)-1][0]; root != tt.want {
				t.Errorf("MerkleLevels() root = %s, want %s", root, tt.want)
			}
		})
	}
}

func TestComputeMerkleRoot_OrderMatters(t *testing.T) {
	t.Parallel()
	a, b, c := leaf("a"), leaf("b"), leaf("c")
	if ComputeMerkleRoot([]Hash{a, b, c}) == ComputeMerkleRoot([]Hash{b, a, c}) {
		t.Error("swapping leaves must change the root")
	}
}

func TestComputeMerkleRoot_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []Hash{leaf("a"), leaf("b"), leaf("c")}
	snapshot := append([]Hash(nil), in...)
	_ = ComputeMerkleRoot(in)
	for i := range in {
		if in[i] != snapshot[i] {
			t.Fatalf("input modified at %d", i)
		}
	}
}

func TestLeafHash_SeparatesPathAndContent(t *testing.T) {
	t.Parallel()
	if LeafHash("ab", []byte("c")) == LeafHash("a", []byte("bc")) {
		t.Error("path/content boundary must be unambiguous")
	}
}

func TestHash_Text(t *testing.T) {
	t.Parallel()

	h := leaf("x")
	parsed, err := ParseHash(h.String())
	if err != nil || parsed != h {
		t.Fatalf("ParseHash(String()) = %s, %v", parsed, err)
	}
	for _, bad := range []string{"", "00", h.String()[:63] + "g"} {
		if _, err := ParseHash(bad); err == nil {
			t.Errorf("ParseHash(%q) should fail", bad)
		}
	}
}
