// SPDX-License-Identifier: MPL-2.0

package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/archive"
	"github.com/estream/escpkg/pkg/integrity"
	"github.com/estream/escpkg/pkg/manifest"
	"github.com/estream/escpkg/pkg/registry"
	"github.com/estream/escpkg/pkg/resolve"
	"github.com/estream/escpkg/pkg/semver"
)

const (
	// StageFetch obtains archive bytes from the cache or the fetch function.
	StageFetch Stage = "fetch"
	// StageParse decodes the archive and its integrity record.
	StageParse Stage = "parse"
	// StageVerify runs integrity verification.
	StageVerify Stage = "verify"
	// StageCache stores the verified archive in the cache.
	StageCache Stage = "cache"
	// StageExtract writes the package into the install root.
	StageExtract Stage = "extract"

	// DefaultFetchTimeout bounds one fetch call.
	DefaultFetchTimeout = 60 * time.Second
	// DefaultConcurrency bounds parallel fetches and verifications.
	DefaultConcurrency = 4

	// installLockDir holds per-version lock files under the install root.
	installLockDir = ".locks"
)

var (
	// ErrInstall is the sentinel error wrapped by InstallError.
	ErrInstall = errors.New("install failed")
	// ErrPackageMismatch is the sentinel error wrapped by PackageMismatchError.
	ErrPackageMismatch = errors.New("archive is not the requested package")
)

type (
	// Stage names the install step that failed.
	Stage string

	// FetchFunc returns the encoded archive of name@version. It must honor
	// ctx cancellation.
	FetchFunc func(ctx context.Context, name, version string) ([]byte, error)

	// Orchestrator installs plans into a root directory. It holds no
	// per-invocation state and is safe for concurrent use.
	Orchestrator struct {
		cache        *Cache
		root         string
		keyring      integrity.Keyring
		fetchTimeout time.Duration
		concurrency  int
		logger       *log.Logger
		now          func() time.Time
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)

	// InstalledPackage is one entry of a Report.
	InstalledPackage struct {
		Name     string
		Version  string
		Path     string
		CacheHit bool
		// Existing is set when the version was already installed and
		// left untouched.
		Existing bool
		KeyID    string
		Checksum string
	}

	// Report summarizes a successful Install.
	Report struct {
		Installed []InstalledPackage
		Duration  time.Duration
	}

	// InstallError localizes a failure to a package and a stage. Err keeps
	// the cause, including any rollback failures.
	InstallError struct {
		Package string
		Version string
		Stage   Stage
		Err     error
	}

	// PackageMismatchError is returned when a validly signed archive names a
	// different package or version than the plan node it was fetched for.
	PackageMismatchError struct {
		Want string
		Got  string
	}

	// staged is one plan node moving through the phases.
	staged struct {
		node     *resolve.Node
		data     []byte
		cacheHit bool
		archive  *archive.Archive
		result   integrity.Result
	}
)

// Error implements the error interface.
func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s@%s: %s: %v", e.Package, e.Version, e.Stage, e.Err)
}

// Unwrap returns the cause.
func (e *InstallError) Unwrap() error { return e.Err }

// Is matches ErrInstall.
func (e *InstallError) Is(target error) bool { return target == ErrInstall }

// Error implements the error interface.
func (e *PackageMismatchError) Error() string {
	return fmt.Sprintf("archive contains %s, want %s", e.Got, e.Want)
}

// Unwrap returns ErrPackageMismatch.
func (e *PackageMismatchError) Unwrap() error { return ErrPackageMismatch }

// Category implements issue.Categorized.
func (e *PackageMismatchError) Category() issue.Category { return issue.CategoryIntegrity }

// Code reports the substitution as a checksum mismatch.
func (e *PackageMismatchError) Code() issue.Code { return issue.CodeChecksumMismatch }

// WithFetchTimeout bounds each fetch call. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.fetchTimeout = d }
}

// WithConcurrency bounds parallel fetches and verifications.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = max(n, 1) }
}

// WithLogger sets the progress logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the clock used for cache TTL and key expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.cache.now = now
	}
}

// NewOrchestrator returns an orchestrator caching under cfg and installing
// under root, trusting the keys in keyring.
func NewOrchestrator(cfg CacheConfig, root string, keyring integrity.Keyring, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cache:        NewCache(cfg),
		root:         root,
		keyring:      keyring,
		fetchTimeout: DefaultFetchTimeout,
		concurrency:  DefaultConcurrency,
		logger:       log.New(io.Discard),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Cache returns the orchestrator's archive cache.
func (o *Orchestrator) Cache() *Cache { return o.cache }

// InstallPath returns <root>/<category>/<name>/<version>.
func (o *Orchestrator) InstallPath(n *resolve.Node) string {
	category := string(n.Category())
	if category == "" {
		category = "uncategorized"
	}
	return filepath.Join(o.root, category, filepath.FromSlash(n.Name), n.Version.String())
}

// Install fetches, verifies and extracts every node of plan. Nothing is
// extracted unless every package verified, and a failure while extracting
// removes everything this call extracted.
func (o *Orchestrator) Install(ctx context.Context, plan *resolve.Plan, fetch FetchFunc) (*Report, error) {
	start := o.now()
	items := make([]*staged, len(plan.Nodes))
	for i, n := range plan.Nodes {
		items[i] = &staged{node: n}
	}

	if err := o.acquire(ctx, items, fetch); err != nil {
		return nil, err
	}
	if err := o.verify(ctx, items); err != nil {
		return nil, err
	}
	installed, err := o.commit(items)
	if err != nil {
		return nil, err
	}
	return &Report{Installed: installed, Duration: o.now().Sub(start)}, nil
}

// acquire fills data and archive for every item, in parallel.
func (o *Orchestrator) acquire(ctx context.Context, items []*staged, fetch FetchFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, it := range items {
		g.Go(func() error {
			name, version := it.node.Name, it.node.Version.String()
			data, _, hit, err := o.cache.Get(name, version)
			if err != nil {
				return &InstallError{Package: name, Version: version, Stage: StageFetch, Err: err}
			}
			if !hit {
				if data, err = o.fetch(gctx, fetch, name, version); err != nil {
					return &InstallError{Package: name, Version: version, Stage: StageFetch, Err: err}
				}
			}
			o.logger.Debug("obtained archive", "package", name, "version", version, "cached", hit, "bytes", len(data))

			a, err := archive.Read(data)
			if err != nil {
				return &InstallError{Package: name, Version: version, Stage: StageParse, Err: err}
			}
			it.data, it.cacheHit, it.archive = data, hit, a
			return nil
		})
	}
	return g.Wait()
}

// fetch applies the fetch timeout and classifies failures as transport
// errors unless they already carry a classification.
func (o *Orchestrator) fetch(ctx context.Context, fetch FetchFunc, name, version string) ([]byte, error) {
	if o.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.fetchTimeout)
		defer cancel()
	}
	data, err := fetch(ctx, name, version)
	if err == nil {
		return data, nil
	}
	var terr *registry.TransportError
	if errors.Is(err, registry.ErrNotFound) || errors.As(err, &terr) {
		return nil, err
	}
	return nil, &registry.TransportError{Op: "fetch", Name: name + "@" + version, Err: err}
}

// verify checks every archive in parallel and fails on the first package,
// in plan order, that is not Valid or that names another package.
func (o *Orchestrator) verify(ctx context.Context, items []*staged) error {
	vitems := make([]integrity.Item, len(items))
	for i, it := range items {
		vitems[i] = integrity.Item{Name: it.node.ID(), Archive: it.archive}
	}
	outcomes, err := integrity.VerifyAll(ctx, vitems, o.keyring, o.concurrency, integrity.WithClock(o.now))
	if err != nil {
		return err
	}
	for i, out := range outcomes {
		it := items[i]
		name, version := it.node.Name, it.node.Version.String()
		switch {
		case out.Err != nil:
			return &InstallError{Package: name, Version: version, Stage: StageVerify, Err: out.Err}
		case !integrity.IsValid(out.Result):
			o.logger.Error("verification failed", "package", name, "version", version, "result", out.Result.String())
			return &InstallError{Package: name, Version: version, Stage: StageVerify, Err: integrity.Err(out.Result)}
		}
		if err := checkIdentity(it); err != nil {
			o.logger.Error("archive does not match plan", "package", name, "version", version, "err", err)
			return &InstallError{Package: name, Version: version, Stage: StageVerify, Err: err}
		}
		it.result = out.Result
	}
	return nil
}

// checkIdentity compares the signed manifest with the plan node.
func checkIdentity(it *staged) error {
	content, err := it.archive.Content(archive.TypeManifest)
	if err != nil {
		return err
	}
	m, err := manifest.Parse(content)
	if err != nil {
		return err
	}
	want := it.node.ID()
	v, err := semver.Parse(m.Version)
	if err != nil || m.Name != it.node.Name || v.Compare(it.node.Version) != 0 {
		return &PackageMismatchError{Want: want, Got: m.ID()}
	}
	return nil
}

// commit caches and extracts in plan order, undoing every extraction on
// the first failure.
func (o *Orchestrator) commit(items []*staged) (installed []InstalledPackage, err error) {
	var undo []func() error
	var cleanup []func()
	defer func() {
		if err == nil {
			for _, f := range cleanup {
				f()
			}
			return
		}
		var errs []error
		for i := len(undo) - 1; i >= 0; i-- {
			if uerr := undo[i](); uerr != nil {
				errs = append(errs, uerr)
			}
		}
		if len(errs) > 0 {
			var ierr *InstallError
			if errors.As(err, &ierr) {
				ierr.Err = errors.Join(append([]error{ierr.Err}, errs...)...)
			}
		}
		installed = nil
	}()

	for _, it := range items {
		n := it.node
		name, version := n.Name, n.Version.String()

		checksum := Checksum(it.data)
		if !it.cacheHit {
			e, cerr := o.cache.Put(name, version, it.data)
			if cerr != nil {
				return nil, &InstallError{Package: name, Version: version, Stage: StageCache, Err: cerr}
			}
			checksum = e.Checksum
		}

		pkg := InstalledPackage{
			Name:     name,
			Version:  version,
			Path:     o.InstallPath(n),
			CacheHit: it.cacheHit,
			KeyID:    it.result.(integrity.Valid).KeyID,
			Checksum: checksum,
		}
		u, c, existing, xerr := o.extract(it.archive, pkg.Path)
		if xerr != nil {
			return nil, &InstallError{Package: name, Version: version, Stage: StageExtract, Err: xerr}
		}
		if u != nil {
			undo = append(undo, u)
		}
		if c != nil {
			cleanup = append(cleanup, c)
		}
		pkg.Existing = existing
		o.logger.Info("installed", "package", name, "version", version, "path", pkg.Path, "cached", it.cacheHit)
		installed = append(installed, pkg)
	}
	return installed, nil
}

// lockPath returns the lock file serializing installs of dest.
func (o *Orchestrator) lockPath(dest string) string {
	rel, err := filepath.Rel(o.root, dest)
	if err != nil {
		return dest + lockExt
	}
	return filepath.Join(o.root, installLockDir, rel+lockExt)
}

// extract stages a into a temp directory next to dest and renames it into
// place. An existing installation is kept unless the cache is forced, in
// which case it is moved aside until the whole plan commits. undo reverts
// the rename; cleanup drops the moved-aside copy. Installs of the same dest
// are serialized from the existence check through the rename.
func (o *Orchestrator) extract(a *archive.Archive, dest string) (undo func() error, cleanup func(), existing bool, err error) {
	unlock, err := o.cache.lockFile("install:"+dest, o.lockPath(dest))
	if err != nil {
		return nil, nil, false, err
	}
	defer unlock()

	_, statErr := os.Stat(dest)
	switch {
	case statErr == nil && !o.cache.cfg.Force:
		return nil, nil, true, nil
	case statErr != nil && !errors.Is(statErr, fs.ErrNotExist):
		return nil, nil, false, statErr
	}

	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, nil, false, err
	}
	tmp, err := os.MkdirTemp(parent, ".staging-"+filepath.Base(dest)+"-")
	if err != nil {
		return nil, nil, false, err
	}
	if err := writeSections(a, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, nil, false, err
	}

	var backup string
	if statErr == nil {
		backup = tmp + ".previous"
		if err := os.Rename(dest, backup); err != nil {
			_ = os.RemoveAll(tmp)
			return nil, nil, false, err
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp)
		if backup != "" {
			_ = os.Rename(backup, dest)
		}
		return nil, nil, false, err
	}

	undo = func() error {
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("roll back %s: %w", dest, err)
		}
		if backup != "" {
			if err := os.Rename(backup, dest); err != nil {
				return fmt.Errorf("restore %s: %w", dest, err)
			}
		}
		return nil
	}
	if backup != "" {
		cleanup = func() { _ = os.RemoveAll(backup) }
	}
	return undo, cleanup, false, nil
}

// writeSections writes each section under dir at its path. Tarball
// sections are unpacked into a directory of that name.
func writeSections(a *archive.Archive, dir string) error {
	for _, s := range a.Sections {
		content, err := s.Content()
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(s.Path()))
		if s.IsTarball() {
			if err := archive.UnpackTar(content, target); err != nil {
				return fmt.Errorf("section %s: %w", s.Path(), err)
			}
			continue
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return fmt.Errorf("section %s: %w", s.Path(), err)
		}
	}
	return nil
}
