// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/manifest"
	"github.com/estream/escpkg/pkg/semver"
)

var (
	// ErrNotFound is the sentinel error wrapped by NotFoundError.
	ErrNotFound = errors.New("not found in registry")
	// ErrTransport is the sentinel error wrapped by TransportError.
	ErrTransport = errors.New("registry transport failure")
)

type (
	// Registry is the resolver's view of a package source.
	Registry interface {
		// Load returns the manifest of one published release.
		Load(ctx context.Context, name string, version semver.Version) (*manifest.Manifest, error)
		// List returns every published release of name, yanked ones included.
		List(ctx context.Context, name string) ([]Release, error)
		// Search returns the sorted names of packages whose name contains query.
		Search(ctx context.Context, query string) ([]string, error)
	}

	// Fetcher returns encoded archive bytes for a release.
	Fetcher interface {
		Fetch(ctx context.Context, name, version string) ([]byte, error)
	}

	// Release is one published version of a package.
	Release struct {
		Version semver.Version
		Yanked  bool
		// Platforms restricts where the release may be installed; empty
		// means any platform.
		Platforms []string
	}

	// NotFoundError reports an unknown package, or an unknown version of a
	// known package when Version is set.
	NotFoundError struct {
		Name    string
		Version string
	}

	// TransportError wraps a failure to reach or read the registry. It is
	// the only retryable error class.
	TransportError struct {
		Op   string
		Name string
		Err  error
	}
)

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("package %s has no release %s", e.Name, e.Version)
	}
	return fmt.Sprintf("package %s not found", e.Name)
}

// Unwrap returns ErrNotFound for errors.Is.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Code is E001 for unknown packages and E002 for unknown versions.
func (e *NotFoundError) Code() issue.Code {
	if e.Version != "" {
		return issue.CodeVersionNotFound
	}
	return issue.CodePackageNotFound
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Category classifies the error as transport.
func (e *TransportError) Category() issue.Category { return issue.CategoryTransport }

// Available returns the versions of releases that are not yanked and run on
// platform.
func Available(releases []Release, platform string) []semver.Version {
	out := make([]semver.Version, 0, len(releases))
	for _, r := range releases {
		if r.Yanked || !manifest.PlatformMatch(r.Platforms, platform) {
			continue
		}
		out = append(out, r.Version)
	}
	return out
}
