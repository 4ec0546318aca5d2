// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/estream/escpkg/internal/issue"
)

// Magic opens every archive.
const Magic = "ESCX"

// Extension is the conventional file extension of an encoded archive.
const Extension = ".escx"

const (
	// FormatVersion is the only container layout this package reads and writes.
	FormatVersion uint16 = 1

	// HeaderSize is the fixed header length.
	HeaderSize = 24
	// EntrySize is the length of one section table entry.
	EntrySize = 32

	offFormatVersion = 0x04
	offReserved      = 0x06
	offMajor         = 0x08
	offMinor         = 0x0A
	offTotalSize     = 0x0C
	offSectionCount  = 0x10
	offFlags         = 0x12
	offHeaderCRC     = 0x14
)

var (
	// ErrBadMagic means the input does not start with "ESCX".
	ErrBadMagic = errors.New("bad magic")
	// ErrHeaderChecksumMismatch means the header CRC does not cover the header and table.
	ErrHeaderChecksumMismatch = errors.New("header checksum mismatch")
	// ErrTruncated means the input is shorter than the header or table requires.
	ErrTruncated = errors.New("truncated archive")
	// ErrUnsupportedVersion means the format major version is not FormatVersion.
	ErrUnsupportedVersion = errors.New("unsupported format version")
	// ErrSizeMismatch means a recorded size disagrees with the actual data.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrSectionBounds means a section's byte range lies outside the data area.
	ErrSectionBounds = errors.New("section out of bounds")
	// ErrDuplicateSection means two table entries share a type id.
	ErrDuplicateSection = errors.New("duplicate section type")
	// ErrUnknownSectionType means a table entry names an unregistered type.
	ErrUnknownSectionType = errors.New("unknown section type")
	// ErrUnknownCompression means a table entry names an unsupported codec.
	ErrUnknownCompression = errors.New("unknown compression")
	// ErrMissingSection means a required section is absent.
	ErrMissingSection = errors.New("missing required section")
	// ErrSectionChecksumMismatch means decompressed content does not match its truncated hash.
	ErrSectionChecksumMismatch = errors.New("section checksum mismatch")
	// ErrTooLarge means the archive does not fit the 32-bit size fields.
	ErrTooLarge = errors.New("archive exceeds 4GiB")
)

// requiredSections must each appear exactly once.
var requiredSections = []SectionType{TypeManifest, TypeIntegrity}

type (
	// Archive is a decoded container.
	Archive struct {
		// Major and Minor version the content, not the container layout.
		Major uint16
		Minor uint16
		Flags uint16
		// Sections are in table order for a read archive and in insertion
		// order for a built one. Write sorts by type.
		Sections []*Section
	}

	// FormatError reports a structural problem at a byte offset. Field names
	// the header field or section involved.
	FormatError struct {
		Offset int64
		Field  string
		Err    error
	}
)

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("archive offset 0x%x: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("archive offset 0x%x (%s): %v", e.Offset, e.Field, e.Err)
}

// Unwrap returns the sentinel cause.
func (e *FormatError) Unwrap() error { return e.Err }

// Category reports section hash failures as integrity errors and everything
// else as format errors.
func (e *FormatError) Category() issue.Category {
	if errors.Is(e.Err, ErrSectionChecksumMismatch) {
		return issue.CategoryIntegrity
	}
	return issue.CategoryFormat
}

// Code maps section hash failures to E006.
func (e *FormatError) Code() issue.Code {
	if errors.Is(e.Err, ErrSectionChecksumMismatch) {
		return issue.CodeChecksumMismatch
	}
	return issue.CodeNone
}

// Read decodes an archive. Header, checksum and table are validated eagerly;
// section content is not decompressed until Section.Content is called.
// The returned sections keep references into data.
func Read(data []byte) (*Archive, error) {
	if len(data) < len(Magic) || string(data[:len(Magic)]) != Magic {
		return nil, &FormatError{Offset: 0, Field: "magic", Err: ErrBadMagic}
	}
	if len(data) < HeaderSize {
		return nil, &FormatError{Offset: int64(len(data)), Field: "header", Err: ErrTruncated}
	}

	le := binary.LittleEndian
	if v := le.Uint16(data[offFormatVersion:]); v != FormatVersion {
		return nil, &FormatError{
			Offset: offFormatVersion,
			Field:  "format_version",
			Err:    fmt.Errorf("%w: %d", ErrUnsupportedVersion, v),
		}
	}

	count := int(le.Uint16(data[offSectionCount:]))
	tableEnd := HeaderSize + count*EntrySize
	if len(data) < tableEnd {
		return nil, &FormatError{Offset: int64(len(data)), Field: "section_table", Err: ErrTruncated}
	}

	if want, got := le.Uint32(data[offHeaderCRC:]), headerCRC(data[:offHeaderCRC], data[HeaderSize:tableEnd]); want != got {
		return nil, &FormatError{
			Offset: offHeaderCRC,
			Field:  "header_crc",
			Err:    fmt.Errorf("%w: stored %08x, computed %08x", ErrHeaderChecksumMismatch, want, got),
		}
	}

	if total := le.Uint32(data[offTotalSize:]); int64(total) != int64(len(data)) {
		return nil, &FormatError{
			Offset: offTotalSize,
			Field:  "total_size",
			Err:    fmt.Errorf("%w: header says %d bytes, have %d", ErrSizeMismatch, total, len(data)),
		}
	}
	if r := le.Uint16(data[offReserved:]); r != 0 {
		return nil, &FormatError{Offset: offReserved, Field: "reserved", Err: fmt.Errorf("must be zero, got %d", r)}
	}

	a := &Archive{
		Major:    le.Uint16(data[offMajor:]),
		Minor:    le.Uint16(data[offMinor:]),
		Flags:    le.Uint16(data[offFlags:]),
		Sections: make([]*Section, 0, count),
	}

	seen := make(map[SectionType]bool, count)
	for i := range count {
		entryOff := HeaderSize + i*EntrySize
		s, err := readEntry(data, entryOff, tableEnd)
		if err != nil {
			return nil, err
		}
		if seen[s.Type] {
			return nil, &FormatError{
				Offset: int64(entryOff),
				Field:  s.Type.Name(),
				Err:    fmt.Errorf("%w: %s", ErrDuplicateSection, s.Type.Name()),
			}
		}
		seen[s.Type] = true
		a.Sections = append(a.Sections, s)
	}

	for _, t := range requiredSections {
		if !seen[t] {
			return nil, &FormatError{
				Offset: HeaderSize,
				Field:  t.Name(),
				Err:    fmt.Errorf("%w: %s", ErrMissingSection, t.Name()),
			}
		}
	}
	return a, nil
}

func readEntry(data []byte, entryOff, dataStart int) (*Section, error) {
	le := binary.LittleEndian
	e := data[entryOff : entryOff+EntrySize]

	s := &Section{
		Type:        SectionType(le.Uint32(e[0:])),
		Offset:      le.Uint32(e[4:]),
		StoredSize:  le.Uint32(e[8:]),
		Size:        le.Uint32(e[12:]),
		Compression: Compression(e[16]),
		Flags:       SectionFlags(e[17]),
	}
	copy(s.Checksum[:], e[20:20+ChecksumSize])

	fail := func(err error) (*Section, error) {
		return nil, &FormatError{Offset: int64(entryOff), Field: s.Type.Name(), Err: err}
	}

	if !s.Type.Known() {
		return fail(fmt.Errorf("%w: 0x%04x", ErrUnknownSectionType, uint32(s.Type)))
	}
	if !s.Compression.Known() {
		return fail(fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(s.Compression)))
	}
	if s.Flags&^knownSectionFlags != 0 {
		return fail(fmt.Errorf("unknown section flags 0x%02x", uint8(s.Flags)))
	}
	if r := le.Uint16(e[18:]); r != 0 {
		return fail(fmt.Errorf("reserved entry bytes must be zero, got %d", r))
	}
	start, end := int64(s.Offset), int64(s.Offset)+int64(s.StoredSize)
	if start < int64(dataStart) || end > int64(len(data)) {
		return fail(fmt.Errorf("%w: [%d, %d) outside [%d, %d)", ErrSectionBounds, start, end, dataStart, len(data)))
	}
	if s.Compression == CompressionNone && s.StoredSize != s.Size {
		return fail(fmt.Errorf("%w: uncompressed section stores %d bytes, table says %d", ErrSizeMismatch, s.StoredSize, s.Size))
	}

	s.stored = data[start:end:end]
	s.load = s.decode
	return s, nil
}

func headerCRC(header, table []byte) uint32 {
	crc := crc32.Update(0, crc32.IEEETable, header)
	return crc32.Update(crc, crc32.IEEETable, table)
}

// Section returns the section of type t, or nil.
func (a *Archive) Section(t SectionType) *Section {
	for _, s := range a.Sections {
		if s.Type == t {
			return s
		}
	}
	return nil
}

// Content returns the uncompressed content of the section of type t.
func (a *Archive) Content(t SectionType) ([]byte, error) {
	s := a.Section(t)
	if s == nil {
		return nil, &FormatError{Field: t.Name(), Err: fmt.Errorf("%w: %s", ErrMissingSection, t.Name())}
	}
	return s.Content()
}

// SetSection replaces the section of the same type or appends s.
func (a *Archive) SetSection(s *Section) {
	for i, existing := range a.Sections {
		if existing.Type == s.Type {
			a.Sections[i] = s
			return
		}
	}
	a.Sections = append(a.Sections, s)
}

// RemoveSection drops the section of type t, if present.
func (a *Archive) RemoveSection(t SectionType) {
	out := a.Sections[:0]
	for _, s := range a.Sections {
		if s.Type != t {
			out = append(out, s)
		}
	}
	a.Sections = out
}
