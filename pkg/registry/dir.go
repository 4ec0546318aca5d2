// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/estream/escpkg/internal/fsutil"
	"github.com/estream/escpkg/pkg/archive"
	"github.com/estream/escpkg/pkg/manifest"
	"github.com/estream/escpkg/pkg/semver"
)

const (
	// IndexFileName is the per-package release index inside a DirRegistry.
	IndexFileName = "index.toml"
	// ArchiveExt is the file extension of stored archives.
	ArchiveExt = archive.Extension
)

// ErrAlreadyPublished is returned when publishing a version that exists.
var ErrAlreadyPublished = errors.New("release already published")

type (
	// DirRegistry is a Registry and Fetcher backed by a directory tree.
	// Filesystem failures are reported as *TransportError.
	DirRegistry struct {
		dir string
		// mu serializes index updates from this process.
		mu sync.Mutex
	}

	indexFile struct {
		Releases []indexRelease `toml:"releases"`
	}

	indexRelease struct {
		Version   string   `toml:"version"`
		Yanked    bool     `toml:"yanked,omitempty"`
		Platforms []string `toml:"platforms,omitempty"`
		Archive   string   `toml:"archive"`
	}
)

// NewDirRegistry returns a registry rooted at dir. The directory is
// created on first publish.
func NewDirRegistry(dir string) *DirRegistry {
	return &DirRegistry{dir: dir}
}

// Dir returns the registry root.
func (r *DirRegistry) Dir() string { return r.dir }

func (r *DirRegistry) packageDir(name string) (string, error) {
	if !manifest.ValidName(name) {
		return "", &NotFoundError{Name: name}
	}
	return filepath.Join(r.dir, filepath.FromSlash(name)), nil
}

func (r *DirRegistry) readIndex(name string) (*indexFile, error) {
	dir, err := r.packageDir(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, IndexFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Name: name}
	}
	if err != nil {
		return nil, &TransportError{Op: "read index", Name: name, Err: err}
	}
	var idx indexFile
	if err := toml.Unmarshal(data, &idx); err != nil {
		return nil, &TransportError{Op: "parse index", Name: name, Err: err}
	}
	return &idx, nil
}

func (idx *indexFile) find(version string) (int, bool) {
	for i, rel := range idx.Releases {
		if rel.Version == version {
			return i, true
		}
	}
	return -1, false
}

// List implements Registry.
func (r *DirRegistry) List(ctx context.Context, name string) ([]Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := r.readIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]Release, 0, len(idx.Releases))
	for _, rel := range idx.Releases {
		v, err := semver.Parse(rel.Version)
		if err != nil {
			return nil, &TransportError{Op: "parse index", Name: name, Err: err}
		}
		out = append(out, Release{Version: v, Yanked: rel.Yanked, Platforms: rel.Platforms})
	}
	sortReleases(out)
	return out, nil
}

// Fetch implements Fetcher.
func (r *DirRegistry) Fetch(ctx context.Context, name, version string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := r.readIndex(name)
	if err != nil {
		return nil, err
	}
	i, ok := idx.find(version)
	if !ok {
		return nil, &NotFoundError{Name: name, Version: version}
	}
	dir, _ := r.packageDir(name)
	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(idx.Releases[i].Archive)))
	if err != nil {
		return nil, &TransportError{Op: "fetch", Name: name + "@" + version, Err: err}
	}
	return data, nil
}

// Load implements Registry by reading the manifest section of the stored
// archive.
func (r *DirRegistry) Load(ctx context.Context, name string, version semver.Version) (*manifest.Manifest, error) {
	data, err := r.Fetch(ctx, name, version.String())
	if err != nil {
		return nil, err
	}
	m, err := ManifestFromArchive(data)
	if err != nil {
		return nil, fmt.Errorf("load %s@%s: %w", name, version, err)
	}
	return m, nil
}

// Search implements Registry by walking the tree for index files.
func (r *DirRegistry) Search(ctx context.Context, query string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || d.Name() != IndexFileName {
			return nil
		}
		rel, err := filepath.Rel(r.dir, filepath.Dir(path))
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.Contains(name, query) {
			names = append(names, name)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Op: "search", Name: r.dir, Err: err}
	}
	sort.Strings(names)
	return names, nil
}

// Publish stores an encoded archive and appends it to the package index.
// Releases are immutable: publishing an existing version fails with
// ErrAlreadyPublished.
func (r *DirRegistry) Publish(ctx context.Context, data []byte) (*manifest.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := ManifestFromArchive(data)
	if err != nil {
		return nil, err
	}
	v, err := semver.Parse(m.Version)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", m.Name, err)
	}
	dir, err := r.packageDir(m.Name)
	if err != nil {
		return nil, fmt.Errorf("publish: invalid package name %q", m.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.readIndex(m.Name)
	var nf *NotFoundError
	switch {
	case errors.As(err, &nf):
		idx = &indexFile{}
	case err != nil:
		return nil, err
	}
	if _, ok := idx.find(v.String()); ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrAlreadyPublished, m.Name, v)
	}

	file := v.String() + ArchiveExt
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, file), data, 0o644); err != nil {
		return nil, &TransportError{Op: "publish", Name: m.ID(), Err: err}
	}
	idx.Releases = append(idx.Releases, indexRelease{Version: v.String(), Platforms: m.Platforms, Archive: file})
	if err := r.writeIndex(m.Name, idx); err != nil {
		return nil, err
	}
	return m, nil
}

// Yank marks a published release as yanked.
func (r *DirRegistry) Yank(ctx context.Context, name, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.readIndex(name)
	if err != nil {
		return err
	}
	i, ok := idx.find(version)
	if !ok {
		return &NotFoundError{Name: name, Version: version}
	}
	idx.Releases[i].Yanked = true
	return r.writeIndex(name, idx)
}

func (r *DirRegistry) writeIndex(name string, idx *indexFile) error {
	dir, err := r.packageDir(name)
	if err != nil {
		return err
	}
	data, err := toml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode index %s: %w", name, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, IndexFileName), data, 0o644); err != nil {
		return &TransportError{Op: "write index", Name: name, Err: err}
	}
	return nil
}
