// SPDX-License-Identifier: MPL-2.0

package install

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/archive"
	"github.com/estream/escpkg/pkg/integrity"
	"github.com/estream/escpkg/pkg/manifest"
	"github.com/estream/escpkg/pkg/registry"
	"github.com/estream/escpkg/pkg/resolve"
)

var signedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	reg     *registry.MemoryRegistry
	keyring *integrity.MemoryKeyring
	// signer signs platform (esc-*) packages, acme signs @acme/* packages.
	signer  *integrity.Ed25519Signer
	acme    *integrity.Ed25519Signer
	fetches atomic.Int32
}

func testSigner(seed byte, publisher string) (*integrity.Ed25519Signer, integrity.PublicKey) {
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	signer := integrity.NewEd25519Signer("", key)
	pub := signer.PublicKey(key.Public().(ed25519.PublicKey))
	pub.Publisher = publisher
	return signer, pub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	platform, platformPub := testSigner(42, manifest.PlatformPublisher)
	acme, acmePub := testSigner(43, "acme")
	return &fixture{
		reg:     registry.NewMemoryRegistry(),
		keyring: integrity.NewMemoryKeyring(platformPub, acmePub),
		signer:  platform,
		acme:    acme,
	}
}

func (f *fixture) signerFor(name string) *integrity.Ed25519Signer {
	if manifest.Owner(name) == "acme" {
		return f.acme
	}
	return f.signer
}

// build returns a sealed archive for id ("name@version") with a tarball
// payload and a license.
func (f *fixture) build(t *testing.T, id, category string, deps ...string) *archive.Archive {
	t.Helper()
	name, version, _ := strings.Cut(id, "@")
	var doc strings.Builder
	fmt.Fprintf(&doc, "name = %q\nversion = %q\ncategory = %q\n", name, version, category)
	if len(deps) > 0 {
		doc.WriteString("[dependencies]\n")
		for _, d := range deps {
			dn, dr, _ := strings.Cut(d, "@")
			fmt.Fprintf(&doc, "%q = %q\n", dn, dr)
		}
	}
	a, err := archive.NewBuilder(1, 0).
		Add(archive.TypeManifest, []byte(doc.String()), archive.CompressionNone).
		AddTarball(archive.TypePayload, []archive.File{
			{Name: "bin/run", Data: []byte("#!/bin/sh\necho " + id + "\n")},
			{Name: "README.md", Data: []byte("# " + name)},
		}, archive.CompressionZstd).
		Add(archive.TypeLicense, []byte("Apache-2.0"), archive.CompressionNone).
		Archive()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := integrity.SealArchive(a, f.signerFor(name), signedAt); err != nil {
		t.Fatal(err)
	}
	return a
}

func (f *fixture) publish(t *testing.T, a *archive.Archive) {
	t.Helper()
	data, err := archive.Write(a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.AddArchive(data); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) fetch(ctx context.Context, name, version string) ([]byte, error) {
	f.fetches.Add(1)
	return f.reg.Fetch(ctx, name, version)
}

func (f *fixture) plan(t *testing.T, roots ...string) *resolve.Plan {
	t.Helper()
	var reqs []resolve.Requirement
	for _, r := range roots {
		req, err := resolve.ParseRequirement(r)
		if err != nil {
			t.Fatal(err)
		}
		reqs = append(reqs, req)
	}
	plan, err := resolve.New(f.reg).Resolve(context.Background(), reqs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return plan
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(out)
	return out
}

func TestInstall_ExtractsInPlanOrderAndCaches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publish(t, f.build(t, "@acme/app@1.0.0", "smart-circuit", "esc-runtime@^2.0.0"))
	f.publish(t, f.build(t, "esc-runtime@2.1.0", "library"))

	root, cacheDir := t.TempDir(), t.TempDir()
	o := NewOrchestrator(CacheConfig{Dir: cacheDir}, root, f.keyring)
	plan := f.plan(t, "@acme/app")

	report, err := o.Install(context.Background(), plan, f.fetch)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if len(report.Installed) != 2 || report.Installed[0].Name != "esc-runtime" || report.Installed[1].Name != "@acme/app" {
		t.Fatalf("report = %+v", report.Installed)
	}
	for _, p := range report.Installed {
		if p.CacheHit || p.Existing || p.KeyID != f.signerFor(p.Name).KeyID() || p.Checksum == "" {
			t.Errorf("installed %s = %+v", p.Name, p)
		}
	}

	appDir := filepath.Join(root, "smart-circuit", "@acme", "app", "1.0.0")
	want := []string{"LICENSE", "integrity.toml", "manifest.toml", "payload/README.md", "payload/bin/run"}
	if got := listTree(t, appDir); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("installed files = %v, want %v", got, want)
	}
	if _, err := os.Stat(filepath.Join(root, "library", "esc-runtime", "2.1.0", "manifest.toml")); err != nil {
		t.Errorf("runtime not installed: %v", err)
	}

	if n := f.fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
	report, err = o.Install(context.Background(), plan, f.fetch)
	if err != nil {
		t.Fatalf("second Install() error = %v", err)
	}
	if n := f.fetches.Load(); n != 2 {
		t.Errorf("second install fetched again: %d", n)
	}
	for _, p := range report.Installed {
		if !p.CacheHit || !p.Existing {
			t.Errorf("second install %s = %+v", p.Name, p)
		}
	}
}

func TestInstall_AbortsWholePlanOnVerificationFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tamper func(f *fixture, a *archive.Archive)
		code   issue.Code
	}{
		{
			name: "tampered license",
			tamper: func(_ *fixture, a *archive.Archive) {
				a.SetSection(archive.NewSection(archive.TypeLicense, []byte("proprietary"), archive.CompressionNone))
			},
			code: issue.CodeChecksumMismatch,
		},
		{
			name: "revoked key",
			tamper: func(f *fixture, _ *archive.Archive) {
				_ = f.keyring.Revoke(f.signer.KeyID())
			},
			code: issue.CodeSignatureInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.publish(t, f.build(t, "esc-base@1.0.0", "library"))
			bad := f.build(t, "esc-top@1.0.0", "integration", "esc-base@^1.0.0")
			tt.tamper(f, bad)
			f.publish(t, bad)

			root, cacheDir := t.TempDir(), t.TempDir()
			o := NewOrchestrator(CacheConfig{Dir: cacheDir}, root, f.keyring)
			_, err := o.Install(context.Background(), f.plan(t, "esc-top"), f.fetch)

			var ierr *InstallError
			if !errors.As(err, &ierr) || ierr.Stage != StageVerify {
				t.Fatalf("Install() error = %v, want verify-stage InstallError", err)
			}
			if cat, code := issue.Classify(err); cat != issue.CategoryIntegrity || code != tt.code {
				t.Errorf("Classify() = %s, %s; want integrity, %s", cat, code, tt.code)
			}
			if files := listTree(t, root); len(files) != 0 {
				t.Errorf("nothing may be installed, found %v", files)
			}
			if files := listTree(t, cacheDir); len(files) != 0 {
				t.Errorf("nothing may be cached, found %v", files)
			}
		})
	}
}

func TestInstall_RollsBackExtractionsOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publish(t, f.build(t, "esc-base@1.0.0", "library"))
	f.publish(t, f.build(t, "esc-fpga@1.0.0", "fpga", "esc-base@^1.0.0"))

	root := t.TempDir()
	// A file where the fpga category directory belongs makes the second
	// extraction fail after the first succeeded.
	if err := os.WriteFile(filepath.Join(root, "fpga"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(CacheConfig{Dir: t.TempDir()}, root, f.keyring)
	_, err := o.Install(context.Background(), f.plan(t, "esc-fpga"), f.fetch)

	var ierr *InstallError
	if !errors.As(err, &ierr) || ierr.Stage != StageExtract || ierr.Package != "esc-fpga" {
		t.Fatalf("Install() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "library", "esc-base", "1.0.0")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("esc-base extraction was not rolled back: %v", err)
	}
}

func TestInstall_ForceReplacesExisting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publish(t, f.build(t, "esc-base@1.0.0", "library"))
	root, cacheDir := t.TempDir(), t.TempDir()
	plan := f.plan(t, "esc-base")

	if _, err := NewOrchestrator(CacheConfig{Dir: cacheDir}, root, f.keyring).Install(context.Background(), plan, f.fetch); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(root, "library", "esc-base", "1.0.0")
	stray := filepath.Join(dest, "stray.txt")
	if err := os.WriteFile(stray, []byte("local edit"), 0o644); err != nil {
		t.Fatal(err)
	}

	forced := NewOrchestrator(CacheConfig{Dir: cacheDir, Force: true}, root, f.keyring)
	report, err := forced.Install(context.Background(), plan, f.fetch)
	if err != nil {
		t.Fatalf("forced Install() error = %v", err)
	}
	if p := report.Installed[0]; p.CacheHit || p.Existing {
		t.Errorf("forced install = %+v", p)
	}
	if _, err := os.Stat(stray); !errors.Is(err, os.ErrNotExist) {
		t.Error("forced install kept the old tree")
	}
	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 1 {
		t.Errorf("staging or backup directories left behind: %d entries", len(entries))
	}
}

func TestInstall_FetchTimeoutIsTransportError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publish(t, f.build(t, "esc-slow@1.0.0", "library"))
	slow := func(ctx context.Context, _, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	o := NewOrchestrator(CacheConfig{Dir: t.TempDir()}, t.TempDir(), f.keyring, WithFetchTimeout(20*time.Millisecond))
	_, err := o.Install(context.Background(), f.plan(t, "esc-slow"), slow)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Install() error = %v, want deadline exceeded", err)
	}
	if !errors.Is(err, registry.ErrTransport) {
		t.Errorf("timeout should be a transport error: %v", err)
	}
	if cat, _ := issue.Classify(err); !cat.Retryable() {
		t.Errorf("category %s should be retryable", cat)
	}
}

func TestCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := signedAt
	c := NewCache(CacheConfig{Dir: dir, TTL: time.Hour})
	c.now = func() time.Time { return now }

	if _, _, ok, err := c.Get("@acme/x", "1.0.0"); ok || err != nil {
		t.Fatalf("empty Get() = %v, %v", ok, err)
	}
	e, err := c.Put("@acme/x", "1.0.0", []byte("archive bytes"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	data, got, ok, err := c.Get("@acme/x", "1.0.0")
	if !ok || err != nil || string(data) != "archive bytes" || got.Checksum != e.Checksum {
		t.Fatalf("Get() = %q, %+v, %v, %v", data, got, ok, err)
	}

	now = now.Add(2 * time.Hour)
	if _, _, ok, _ := c.Get("@acme/x", "1.0.0"); ok {
		t.Error("expired entry should miss")
	}
	now = signedAt

	if err := os.WriteFile(e.Path, []byte("bit rot"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, err := c.Get("@acme/x", "1.0.0"); ok || err != nil {
		t.Errorf("corrupt Get() = %v, %v", ok, err)
	}
	// A mismatch is a miss; the next Put replaces the slot.
	if _, err := c.Put("@acme/x", "1.0.0", []byte("archive bytes")); err != nil {
		t.Fatal(err)
	}
	if data, _, ok, err := c.Get("@acme/x", "1.0.0"); !ok || err != nil || string(data) != "archive bytes" {
		t.Errorf("Get() after re-Put = %q, %v, %v", data, ok, err)
	}

	forced := NewCache(CacheConfig{Dir: dir, Force: true})
	if _, err := forced.Put("@acme/x", "1.0.0", []byte("again")); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, _ := forced.Get("@acme/x", "1.0.0"); ok {
		t.Error("Force should always miss")
	}
}

func TestCache_ConcurrentWritersOfOneSlot(t *testing.T) {
	t.Parallel()

	c := NewCache(CacheConfig{Dir: t.TempDir()})
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Put("esc-core", "1.0.0", bytes.Repeat([]byte{byte(i)}, 4096)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	data, e, ok, err := c.Get("esc-core", "1.0.0")
	if !ok || err != nil {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if Checksum(data) != e.Checksum || len(data) != 4096 {
		t.Error("entry and archive come from different writers")
	}
}

func TestInstall_RejectsArchiveOfAnotherPackage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		serve string
	}{
		{name: "other package", serve: "esc-other@1.0.0"},
		{name: "downgrade", serve: "esc-tool@0.9.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.publish(t, f.build(t, "esc-tool@1.0.0", "library"))
			substitute, err := archive.Write(f.build(t, tt.serve, "library"))
			if err != nil {
				t.Fatal(err)
			}
			serve := func(context.Context, string, string) ([]byte, error) { return substitute, nil }

			root := t.TempDir()
			o := NewOrchestrator(CacheConfig{Dir: t.TempDir()}, root, f.keyring)
			_, err = o.Install(context.Background(), f.plan(t, "esc-tool"), serve)

			var ierr *InstallError
			if !errors.As(err, &ierr) || ierr.Stage != StageVerify || !errors.Is(err, ErrPackageMismatch) {
				t.Fatalf("Install() error = %v, want verify-stage package mismatch", err)
			}
			if _, code := issue.Classify(err); code != issue.CodeChecksumMismatch {
				t.Errorf("code = %s, want E006", code)
			}
			if files := listTree(t, root); len(files) != 0 {
				t.Errorf("nothing may be installed, found %v", files)
			}
		})
	}
}

func TestInstall_RejectsKeyOfAnotherPublisher(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	evil, evilPub := testSigner(66, "evil")
	f.keyring.Add(evilPub)

	a := f.build(t, "esc-tool@1.0.0", "library")
	if _, err := integrity.SealArchive(a, evil, signedAt); err != nil {
		t.Fatal(err)
	}
	f.publish(t, a)

	_, err := NewOrchestrator(CacheConfig{Dir: t.TempDir()}, t.TempDir(), f.keyring).
		Install(context.Background(), f.plan(t, "esc-tool"), f.fetch)
	if _, code := issue.Classify(err); code != issue.CodeSignatureInvalid {
		t.Fatalf("Install() error = %v, want E005", err)
	}
}

func TestInstall_ConcurrentInstallsOfOneVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publish(t, f.build(t, "esc-tool@1.0.0", "library"))
	plan := f.plan(t, "esc-tool")

	for range 20 {
		root := t.TempDir()
		var wg sync.WaitGroup
		var failed atomic.Int32
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				o := NewOrchestrator(CacheConfig{Dir: t.TempDir()}, root, f.keyring)
				if _, err := o.Install(context.Background(), plan, f.fetch); err != nil {
					failed.Add(1)
					t.Error(err)
				}
			}()
		}
		wg.Wait()
		if n := failed.Load(); n != 0 {
			t.Fatalf("%d concurrent installs of the same version failed", n)
		}
		if _, err := os.Stat(filepath.Join(root, "library", "esc-tool", "1.0.0", "payload", "bin", "run")); err != nil {
			t.Fatalf("install tree incomplete: %v", err)
		}
	}
}
