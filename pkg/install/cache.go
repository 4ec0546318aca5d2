// SPDX-License-Identifier: MPL-2.0

package install

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/estream/escpkg/internal/fsutil"
	"github.com/estream/escpkg/pkg/archive"
	"github.com/estream/escpkg/pkg/integrity"
)

const (
	archiveExt = archive.Extension
	entryExt   = ".toml"
	lockExt    = ".lock"
)

type (
	// CacheConfig locates the archive cache. A zero TTL never expires
	// entries; Force ignores cached entries and refetches.
	CacheConfig struct {
		Dir   string
		TTL   time.Duration
		Force bool
	}

	// CacheEntry describes one cached archive.
	CacheEntry struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		// Path is the archive file; it is derived, not stored.
		Path string `toml:"-"`
		// Checksum is the hex SHA3-256 of the archive bytes.
		Checksum  string    `toml:"checksum"`
		FetchedAt time.Time `toml:"fetched_at"`
	}

	// Cache stores verified archives by (name, version).
	Cache struct {
		cfg CacheConfig
		now func() time.Time

		mu    sync.Mutex
		slots map[string]*sync.Mutex
	}
)

// NewCache returns a cache for cfg. The directory is created on first write.
func NewCache(cfg CacheConfig) *Cache {
	return &Cache{cfg: cfg, now: time.Now, slots: map[string]*sync.Mutex{}}
}

// Checksum returns the hex SHA3-256 of archive bytes.
func Checksum(data []byte) string { return integrity.Sum(data).String() }

func (c *Cache) slotPath(name, version, ext string) string {
	return filepath.Join(c.cfg.Dir, filepath.FromSlash(name), version+ext)
}

// Get returns the cached archive for name@version. ok is false on a miss:
// no entry, an expired entry, Force set, or bytes that no longer match the
// recorded checksum. A mismatching entry is left for the next Put to
// replace, since a writer in another process may be midway through it.
func (c *Cache) Get(name, version string) (data []byte, entry *CacheEntry, ok bool, err error) {
	if c.cfg.Force {
		return nil, nil, false, nil
	}
	m := c.slot(name + "@" + version)
	m.Lock()
	defer m.Unlock()

	meta, err := os.ReadFile(c.slotPath(name, version, entryExt))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("read cache entry %s@%s: %w", name, version, err)
	}

	var e CacheEntry
	if err := toml.Unmarshal(meta, &e); err != nil {
		return nil, nil, false, nil
	}
	if c.cfg.TTL > 0 && c.now().Sub(e.FetchedAt) > c.cfg.TTL {
		return nil, nil, false, nil
	}

	e.Path = c.slotPath(name, version, archiveExt)
	data, err = os.ReadFile(e.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("read cached archive %s@%s: %w", name, version, err)
	}
	if Checksum(data) != e.Checksum {
		return nil, nil, false, nil
	}
	return data, &e, true, nil
}

// Put stores data for name@version. The archive and its entry are each
// written atomically while holding the slot lock, so a cancelled or
// concurrent writer never leaves a torn entry.
func (c *Cache) Put(name, version string, data []byte) (*CacheEntry, error) {
	unlock, err := c.lockSlot(name, version)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e := &CacheEntry{
		Name:      name,
		Version:   version,
		Path:      c.slotPath(name, version, archiveExt),
		Checksum:  Checksum(data),
		FetchedAt: c.now().UTC().Truncate(time.Second),
	}
	if err := fsutil.WriteFileAtomic(e.Path, data, 0o644); err != nil {
		return nil, fmt.Errorf("cache %s@%s: %w", name, version, err)
	}
	meta, err := toml.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	if err := fsutil.WriteFileAtomic(c.slotPath(name, version, entryExt), meta, 0o644); err != nil {
		return nil, fmt.Errorf("cache %s@%s: %w", name, version, err)
	}
	return e, nil
}

// slot returns the in-process mutex for key.
func (c *Cache) slot(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.slots[key]
	if !ok {
		m = &sync.Mutex{}
		c.slots[key] = m
	}
	return m
}

// lockSlot serializes writers of one cache slot.
func (c *Cache) lockSlot(name, version string) (func(), error) {
	return c.lockFile(name+"@"+version, c.slotPath(name, version, lockExt))
}

// lockFile holds key's in-process mutex, then an flock on path across
// processes where flock is available.
func (c *Cache) lockFile(key, path string) (func(), error) {
	m := c.slot(key)
	m.Lock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl, err := acquireSlotLock(path)
	if err != nil && !errors.Is(err, errFlockUnavailable) {
		m.Unlock()
		return nil, err
	}
	return func() {
		fl.Release()
		m.Unlock()
	}, nil
}
