// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/estream/escpkg/pkg/platform"
)

const (
	fileMode = 0o644
	dirMode  = 0o755
)

var (
	// ErrUnsafePath means a tar entry would land outside the extraction root.
	ErrUnsafePath = errors.New("unsafe path in tarball")
	// ErrUnsupportedEntry means a tar entry is neither a regular file nor a directory.
	ErrUnsupportedEntry = errors.New("unsupported tar entry")
)

// File is one entry of a tarball section. Directories have Dir set and no Data.
type File struct {
	Name string
	Data []byte
	Dir  bool
}

// PackTar builds a normalized tar stream from files.
func PackTar(files []File) ([]byte, error) {
	entries := make([]File, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		name, err := cleanEntryName(f.Name)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate tar entry %q", name)
		}
		seen[name] = true
		entries = append(entries, File{Name: name, Data: f.Data, Dir: f.Dir})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range entries {
		if err := tw.WriteHeader(normalizedHeader(f)); err != nil {
			return nil, fmt.Errorf("write tar header %s: %w", f.Name, err)
		}
		if !f.Dir {
			if _, err := tw.Write(f.Data); err != nil {
				return nil, fmt.Errorf("write tar entry %s: %w", f.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return buf.Bytes(), nil
}

// NormalizeTar rewrites a tar stream with entries sorted by name, epoch
// timestamps, uid/gid 0, empty owner names and fixed permissions.
// Normalizing an already normalized stream returns identical bytes.
func NormalizeTar(data []byte) ([]byte, error) {
	files, err := ReadTar(data)
	if err != nil {
		return nil, err
	}
	return PackTar(files)
}

// ReadTar returns the entries of a tar stream in stream order. Only regular
// files and directories are accepted.
func ReadTar(data []byte) ([]File, error) {
	var files []File
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			files = append(files, File{Name: hdr.Name, Dir: true})
		case tar.TypeReg:
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read tar entry %s: %w", hdr.Name, err)
			}
			files = append(files, File{Name: hdr.Name, Data: content})
		default:
			return nil, fmt.Errorf("%w: %s (type %q)", ErrUnsupportedEntry, hdr.Name, hdr.Typeflag)
		}
	}
}

// PackDir builds a normalized tarball from the tree under dir.
func PackDir(dir string) ([]byte, error) {
	var files []File
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", p, err)
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			files = append(files, File{Name: rel, Dir: true})
		case d.Type().IsRegular():
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("read %s: %w", p, err)
			}
			files = append(files, File{Name: rel, Data: data})
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedEntry, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", dir, err)
	}
	return PackTar(files)
}

// UnpackTar extracts a tar stream under dest. Entries that would escape
// dest are rejected before anything is written for them.
func UnpackTar(data []byte, dest string) error {
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dest, err)
	}
	files, err := ReadTar(data)
	if err != nil {
		return err
	}

	for _, f := range files {
		name, err := cleanEntryName(f.Name)
		if err != nil {
			return err
		}
		target := filepath.Join(absDest, filepath.FromSlash(name))
		rel, relErr := filepath.Rel(absDest, target)
		if relErr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
		}

		if f.Dir {
			if err := os.MkdirAll(target, dirMode); err != nil {
				return fmt.Errorf("create directory %s: %w", name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
			return fmt.Errorf("create parent of %s: %w", name, err)
		}
		if err := os.WriteFile(target, f.Data, fileMode); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func normalizedHeader(f File) *tar.Header {
	hdr := &tar.Header{
		Name:    f.Name,
		ModTime: time.Unix(0, 0).UTC(),
		Mode:    fileMode,
		Size:    int64(len(f.Data)),
	}
	hdr.Typeflag = tar.TypeReg
	if f.Dir {
		hdr.Typeflag = tar.TypeDir
		hdr.Name = f.Name + "/"
		hdr.Mode = dirMode
		hdr.Size = 0
	}
	return hdr
}

// cleanEntryName returns the canonical slash-separated relative name, with
// no trailing slash, rejecting absolute paths, parent references and
// Windows device names.
func cleanEntryName(name string) (string, error) {
	trimmed := strings.TrimSuffix(strings.ReplaceAll(name, "\\", "/"), "/")
	if trimmed == "" || strings.HasPrefix(trimmed, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	if !platform.PortablePath(cleaned) {
		return "", fmt.Errorf("%w: %q uses a reserved device name", ErrUnsafePath, name)
	}
	return cleaned, nil
}
