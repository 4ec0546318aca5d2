// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/crypto/sha3"
)

// ChecksumSize is the length of the truncated section hash.
const ChecksumSize = 12

const (
	// TypeManifest holds manifest.toml, stored uncompressed.
	TypeManifest SectionType = 0x0001
	// TypePayload holds the compiled package content.
	TypePayload SectionType = 0x0002
	// TypeSchema holds exported schemas.
	TypeSchema SectionType = 0x0003
	// TypeBitstream holds an FPGA bitstream.
	TypeBitstream SectionType = 0x0004
	// TypeDocs holds documentation.
	TypeDocs SectionType = 0x0005
	// TypeLicense holds the license text.
	TypeLicense SectionType = 0x0006
	// TypeIntegrity holds integrity.toml: Merkle root, per-path hashes and signature.
	TypeIntegrity SectionType = 0x0007
)

const (
	// CompressionNone stores the content as is.
	CompressionNone Compression = 0
	// CompressionZstd stores a zstd frame.
	CompressionZstd Compression = 1
	// CompressionLZ4 stores an lz4 frame.
	CompressionLZ4 Compression = 2
)

const (
	// FlagTarball marks a section whose content is a tar stream.
	FlagTarball SectionFlags = 1 << 0

	knownSectionFlags = FlagTarball
)

var sectionTypes = map[SectionType]struct{ name, path string }{
	TypeManifest:  {"manifest", "manifest.toml"},
	TypePayload:   {"payload", "payload"},
	TypeSchema:    {"schema", "schema"},
	TypeBitstream: {"bitstream", "bitstream"},
	TypeDocs:      {"docs", "docs"},
	TypeLicense:   {"license", "LICENSE"},
	TypeIntegrity: {"integrity", "integrity.toml"},
}

type (
	// SectionType identifies a section. The set is closed; Read rejects
	// unknown ids.
	SectionType uint32

	// Compression is the codec of a section's stored bytes.
	Compression uint8

	// SectionFlags are per-section flag bits.
	SectionFlags uint8

	// Section is one independently addressable block of an archive.
	// Sections returned by Read decompress on the first call to Content.
	Section struct {
		Type        SectionType
		Compression Compression
		Flags       SectionFlags
		// Offset, StoredSize, Size and Checksum mirror the table entry of a
		// section returned by Read. Write recomputes them.
		Offset     uint32
		StoredSize uint32
		Size       uint32
		Checksum   [ChecksumSize]byte

		stored  []byte
		once    sync.Once
		load    func() ([]byte, error)
		content []byte
		err     error
	}
)

// SectionTypes returns every known type in ascending order.
func SectionTypes() []SectionType {
	return []SectionType{TypeManifest, TypePayload, TypeSchema, TypeBitstream, TypeDocs, TypeLicense, TypeIntegrity}
}

// Known reports whether t is a registered section type.
func (t SectionType) Known() bool {
	_, ok := sectionTypes[t]
	return ok
}

// Name returns the short name, e.g. "manifest".
func (t SectionType) Name() string {
	if info, ok := sectionTypes[t]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown(0x%04x)", uint32(t))
}

// Path returns the logical file path of the section, used as its Merkle leaf path.
func (t SectionType) Path() string {
	if info, ok := sectionTypes[t]; ok {
		return info.path
	}
	return fmt.Sprintf("section-%04x", uint32(t))
}

// String implements fmt.Stringer.
func (t SectionType) String() string { return t.Name() }

// ParseSectionType maps a name such as "payload" back to its type.
func ParseSectionType(name string) (SectionType, bool) {
	for t, info := range sectionTypes {
		if info.name == name {
			return t, true
		}
	}
	return 0, false
}

// Known reports whether c is a supported codec.
func (c Compression) Known() bool { return c <= CompressionLZ4 }

// String implements fmt.Stringer.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression maps "none", "zstd" or "lz4" to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// NewSection returns a section holding content.
func NewSection(t SectionType, content []byte, c Compression) *Section {
	return &Section{
		Type:        t,
		Compression: c,
		Size:        uint32(len(content)),
		Checksum:    SectionChecksum(content),
		content:     content,
	}
}

// NewTarballSection normalizes tarData and returns a section flagged as a tarball.
func NewTarballSection(t SectionType, tarData []byte, c Compression) (*Section, error) {
	normalized, err := NormalizeTar(tarData)
	if err != nil {
		return nil, err
	}
	s := NewSection(t, normalized, c)
	s.Flags |= FlagTarball
	return s, nil
}

// IsTarball reports whether the section content is a tar stream.
func (s *Section) IsTarball() bool { return s.Flags&FlagTarball != 0 }

// Path returns the section's logical path.
func (s *Section) Path() string { return s.Type.Path() }

// Stored returns the raw stored bytes of a section returned by Read.
func (s *Section) Stored() []byte { return s.stored }

// Content returns the uncompressed content. For sections returned by Read
// the first call decompresses the stored bytes and checks the size and the
// truncated hash from the table; the result, including any error, is cached.
func (s *Section) Content() ([]byte, error) {
	s.once.Do(func() {
		if s.load != nil {
			s.content, s.err = s.load()
		}
	})
	return s.content, s.err
}

func (s *Section) decode() ([]byte, error) {
	content, err := decompress(s.Compression, s.stored, s.Size)
	if err != nil {
		return nil, &FormatError{Offset: int64(s.Offset), Field: s.Type.Name(), Err: err}
	}
	if uint32(len(content)) != s.Size {
		return nil, &FormatError{
			Offset: int64(s.Offset),
			Field:  s.Type.Name(),
			Err:    fmt.Errorf("%w: %d bytes, table says %d", ErrSizeMismatch, len(content), s.Size),
		}
	}
	sum := SectionChecksum(content)
	if !bytes.Equal(sum[:], s.Checksum[:]) {
		return nil, &FormatError{Offset: int64(s.Offset), Field: s.Type.Name(), Err: ErrSectionChecksumMismatch}
	}
	return content, nil
}

// SectionChecksum returns the first ChecksumSize bytes of SHA3-256(content).
func SectionChecksum(content []byte) [ChecksumSize]byte {
	full := sha3.Sum256(content)
	var out [ChecksumSize]byte
	copy(out[:], full[:ChecksumSize])
	return out
}
