// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/estream/escpkg/pkg/archive"
	"github.com/estream/escpkg/pkg/manifest"
	"github.com/estream/escpkg/pkg/semver"
)

type (
	// MemoryRegistry is a Registry and Fetcher held in memory, safe for
	// concurrent use.
	MemoryRegistry struct {
		mu       sync.RWMutex
		packages map[string]map[string]*memoryRelease
	}

	memoryRelease struct {
		release  Release
		manifest *manifest.Manifest
		archive  []byte
	}
)

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{packages: map[string]map[string]*memoryRelease{}}
}

// Add publishes a manifest without archive bytes. Adding an existing
// version replaces it.
func (r *MemoryRegistry) Add(m *manifest.Manifest) error {
	return r.add(m, nil)
}

// AddArchive publishes an encoded archive, reading its manifest.
func (r *MemoryRegistry) AddArchive(data []byte) (*manifest.Manifest, error) {
	m, err := ManifestFromArchive(data)
	if err != nil {
		return nil, err
	}
	return m, r.add(m, data)
}

func (r *MemoryRegistry) add(m *manifest.Manifest, data []byte) error {
	v, err := semver.Parse(m.Version)
	if err != nil {
		return fmt.Errorf("publish %s: %w", m.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.packages[m.Name]
	if versions == nil {
		versions = map[string]*memoryRelease{}
		r.packages[m.Name] = versions
	}
	versions[v.String()] = &memoryRelease{
		release:  Release{Version: v, Platforms: m.Platforms},
		manifest: m,
		archive:  data,
	}
	return nil
}

// Yank marks a release as yanked. Yanked releases stay loadable but are
// never selected by the resolver.
func (r *MemoryRegistry) Yank(name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, err := r.lookup(name, version)
	if err != nil {
		return err
	}
	rel.release.Yanked = true
	return nil
}

// lookup requires r.mu.
func (r *MemoryRegistry) lookup(name, version string) (*memoryRelease, error) {
	if v, err := semver.Parse(version); err == nil {
		version = v.String()
	}
	versions, ok := r.packages[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	rel, ok := versions[version]
	if !ok {
		return nil, &NotFoundError{Name: name, Version: version}
	}
	return rel, nil
}

// Load implements Registry.
func (r *MemoryRegistry) Load(ctx context.Context, name string, version semver.Version) (*manifest.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, err := r.lookup(name, version.String())
	if err != nil {
		return nil, err
	}
	return rel.manifest, nil
}

// List implements Registry. Releases are sorted by ascending version.
func (r *MemoryRegistry) List(ctx context.Context, name string) ([]Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.packages[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	out := make([]Release, 0, len(versions))
	for _, rel := range versions {
		out = append(out, rel.release)
	}
	sortReleases(out)
	return out, nil
}

// Search implements Registry.
func (r *MemoryRegistry) Search(ctx context.Context, query string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name := range r.packages {
		if strings.Contains(name, query) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Fetch implements Fetcher for releases added with AddArchive.
func (r *MemoryRegistry) Fetch(ctx context.Context, name, version string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, err := r.lookup(name, version)
	if err != nil {
		return nil, err
	}
	if rel.archive == nil {
		return nil, &TransportError{Op: "fetch", Name: name + "@" + version, Err: fmt.Errorf("no archive published")}
	}
	return rel.archive, nil
}

// ManifestFromArchive reads the manifest section of encoded archive bytes.
func ManifestFromArchive(data []byte) (*manifest.Manifest, error) {
	a, err := archive.Read(data)
	if err != nil {
		return nil, err
	}
	content, err := a.Content(archive.TypeManifest)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(content)
}

func sortReleases(releases []Release) {
	sort.Slice(releases, func(i, j int) bool { return releases[i].Version.Less(releases[j].Version) })
}
