// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/exp/maps"

	"github.com/estream/escpkg/internal/fsutil"
	"github.com/estream/escpkg/pkg/semver"
)

const (
	// LockFileName is the name of the lock file written next to a project.
	LockFileName = "escpkg.lock"
	// LockFileVersion is the current lock file format version.
	LockFileVersion = "1"
)

// ErrInvalidLockFile is the sentinel error for unreadable lock files.
var ErrInvalidLockFile = errors.New("invalid lock file")

type (
	// LockFile pins every package of a resolved plan.
	LockFile struct {
		Version   string                   `toml:"version"`
		Generated time.Time                `toml:"generated"`
		Packages  map[string]LockedPackage `toml:"packages"`
	}

	// LockedPackage is one pinned release.
	LockedPackage struct {
		// Requirement is the accumulated requirement at resolution time.
		Requirement string `toml:"requirement"`
		Version     string `toml:"version"`
		Category    string `toml:"category,omitempty"`
		// Checksum is the hex SHA3-256 of the archive, set once installed.
		Checksum string   `toml:"checksum,omitempty"`
		Requires []string `toml:"requires,omitempty"`
	}
)

// NewLockFile returns an empty lock file stamped now.
func NewLockFile() *LockFile {
	return &LockFile{
		Version:   LockFileVersion,
		Generated: time.Now().UTC().Truncate(time.Second),
		Packages:  map[string]LockedPackage{},
	}
}

// Lock pins every node of the plan.
func (p *Plan) Lock() *LockFile {
	l := NewLockFile()
	for _, n := range p.Nodes {
		l.Packages[n.Name] = LockedPackage{
			Requirement: n.Requirement.String(),
			Version:     n.Version.String(),
			Category:    string(n.Category()),
			Requires:    slices.Clone(n.Requires),
		}
	}
	return l
}

// LoadLockFile reads a lock file. A missing file yields an empty one.
func LoadLockFile(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewLockFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}

	var l LockFile
	if err := toml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidLockFile, path, err)
	}
	if l.Version != LockFileVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %q", ErrInvalidLockFile, path, l.Version)
	}
	if l.Packages == nil {
		l.Packages = map[string]LockedPackage{}
	}
	for name, p := range l.Packages {
		if _, err := semver.Parse(p.Version); err != nil {
			return nil, fmt.Errorf("%w: %s: package %s: %w", ErrInvalidLockFile, path, name, err)
		}
	}
	return &l, nil
}

// Save writes the lock file atomically.
func (l *LockFile) Save(path string) error {
	data, err := toml.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode lock file: %w", err)
	}
	header := []byte("# escpkg.lock - generated by escpkg resolve, do not edit\n\n")
	return fsutil.WriteFileAtomic(path, append(header, data...), 0o644)
}

// Names returns the locked package names, sorted.
func (l *LockFile) Names() []string {
	names := maps.Keys(l.Packages)
	slices.Sort(names)
	return names
}

// SetChecksum records the archive checksum of an installed package.
func (l *LockFile) SetChecksum(name, checksum string) bool {
	p, ok := l.Packages[name]
	if !ok {
		return false
	}
	p.Checksum = checksum
	l.Packages[name] = p
	return true
}

// Pinned returns one exact requirement per locked package, sorted by name,
// so that resolving them reproduces the locked plan.
func (l *LockFile) Pinned() []Requirement {
	out := make([]Requirement, 0, len(l.Packages))
	for _, name := range l.Names() {
		v := semver.MustParse(l.Packages[name].Version)
		out = append(out, Requirement{Name: name, Constraint: semver.Exact(v)})
	}
	return out
}
