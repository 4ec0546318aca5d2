// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLockFile_RoundTripAndPinned(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"B": "^1.0.0"}},
		pkg{id: "B@1.0.0"}, pkg{id: "B@1.2.0"},
	)
	ctx := context.Background()
	plan, err := New(reg).Resolve(ctx, roots(t, "A"))
	if err != nil {
		t.Fatal(err)
	}

	lock := plan.Lock()
	if !lock.SetChecksum("B", "abc123") || lock.SetChecksum("Nope", "x") {
		t.Error("SetChecksum() reported the wrong packages")
	}
	path := filepath.Join(t.TempDir(), LockFileName)
	if err := lock.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadLockFile(path)
	if err != nil {
		t.Fatalf("LoadLockFile() error = %v", err)
	}
	if !slices.Equal(loaded.Names(), []string{"A", "B"}) {
		t.Errorf("Names() = %v", loaded.Names())
	}
	b := loaded.Packages["B"]
	if b.Version != "1.2.0" || b.Requirement != "^1.0.0" || b.Checksum != "abc123" || b.Category != "library" {
		t.Errorf("locked B = %+v", b)
	}
	if a := loaded.Packages["A"]; !slices.Equal(a.Requires, []string{"B"}) {
		t.Errorf("locked A = %+v", a)
	}

	// A newer B must not leak into a locked resolution.
	newer := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"B": "^1.0.0"}},
		pkg{id: "B@1.0.0"}, pkg{id: "B@1.2.0"}, pkg{id: "B@1.9.0"},
	)
	relocked, err := New(newer).Resolve(ctx, loaded.Pinned())
	if err != nil {
		t.Fatalf("Resolve(Pinned()) error = %v", err)
	}
	if got := ids(relocked); !slices.Equal(got, ids(plan)) {
		t.Errorf("pinned plan = %v, want %v", got, ids(plan))
	}
}

func TestLoadLockFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := LoadLockFile(filepath.Join(dir, "missing.lock"))
	if err != nil || len(l.Packages) != 0 || l.Version != LockFileVersion {
		t.Errorf("missing lock file = %+v, %v", l, err)
	}

	tests := []struct {
		name string
		data string
	}{
		{name: "syntax", data: "version = "},
		{name: "future version", data: "version = \"9\"\n"},
		{name: "bad pinned version", data: "version = \"1\"\n[packages.A]\nrequirement = \"*\"\nversion = \"one\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(dir, tt.name+".lock")
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadLockFile(path); !errors.Is(err, ErrInvalidLockFile) {
				t.Errorf("LoadLockFile() error = %v, want ErrInvalidLockFile", err)
			}
		})
	}
}
