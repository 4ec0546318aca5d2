// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"errors"
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Version
		wantErr bool
	}{
		{input: "1.2.3", want: Version{Major: 1, Minor: 2, Patch: 3}},
		{input: "0.0.0", want: Version{}},
		{input: "2.0.0-rc.1", want: Version{Major: 2, Prerelease: "rc.1"}},
		{input: "1.0.0-alpha+build.7", want: Version{Major: 1, Prerelease: "alpha", Build: "build.7"}},
		{input: "v1.2.3", wantErr: true},
		{input: "1.2", wantErr: true},
		{input: "01.2.3", wantErr: true},
		{input: "1.2.3-", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVersion) {
					t.Fatalf("Parse(%q) error = %v, want ErrInvalidVersion", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestVersion_Compare(t *testing.T) {
	t.Parallel()

	// Precedence example from semver.org, ascending.
	ordered := []string{
		"1.0.0-alpha", "1.0.0-alpha.1", "1.0.0-alpha.beta", "1.0.0-beta",
		"1.0.0-beta.2", "1.0.0-beta.11", "1.0.0-rc.1", "1.0.0", "1.0.1", "1.1.0", "2.0.0",
	}
	for i := 0; i < len(ordered)-1; i++ {
		a, b := MustParse(ordered[i]), MustParse(ordered[i+1])
		if a.Compare(b) != -1 || b.Compare(a) != 1 {
			t.Errorf("expected %s < %s", a, b)
		}
	}

	if MustParse("1.0.0+a").Compare(MustParse("1.0.0+b")) != 0 {
		t.Error("build metadata must not affect precedence")
	}
}

func TestSortDescending(t *testing.T) {
	t.Parallel()

	in := []Version{MustParse("1.0.0"), MustParse("2.0.0"), MustParse("1.2.0")}
	got := SortDescending(in)
	want := []Version{MustParse("2.0.0"), MustParse("1.2.0"), MustParse("1.0.0")}
	if !slices.Equal(got, want) {
		t.Errorf("SortDescending() = %v, want %v", got, want)
	}
	if in[0] != MustParse("1.0.0") {
		t.Error("SortDescending must not mutate its input")
	}
}
