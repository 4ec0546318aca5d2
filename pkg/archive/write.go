// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

type (
	// Builder assembles an Archive. Errors are deferred to Archive or Write.
	Builder struct {
		archive *Archive
		err     error
	}

	encodedSection struct {
		src    *Section
		flags  SectionFlags
		size   uint32
		sum    [ChecksumSize]byte
		stored []byte
	}
)

// Write encodes a. Sections are emitted in ascending type order; tarball
// sections are normalized before hashing and compression. The same logical
// archive always encodes to the same bytes.
func Write(a *Archive) ([]byte, error) {
	sections := slices.Clone(a.Sections)
	slices.SortStableFunc(sections, func(x, y *Section) int {
		switch {
		case x.Type < y.Type:
			return -1
		case x.Type > y.Type:
			return 1
		default:
			return 0
		}
	})

	if err := checkSectionSet(sections); err != nil {
		return nil, err
	}
	if len(sections) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d sections", ErrTooLarge, len(sections))
	}

	encoded := make([]encodedSection, 0, len(sections))
	for _, s := range sections {
		es, err := encodeSection(s)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, es)
	}

	tableEnd := HeaderSize + len(encoded)*EntrySize
	total := int64(tableEnd)
	for _, es := range encoded {
		total += int64(len(es.stored))
	}
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, total)
	}

	le := binary.LittleEndian
	out := make([]byte, tableEnd, total)
	copy(out, Magic)
	le.PutUint16(out[offFormatVersion:], FormatVersion)
	le.PutUint16(out[offMajor:], a.Major)
	le.PutUint16(out[offMinor:], a.Minor)
	le.PutUint32(out[offTotalSize:], uint32(total))
	le.PutUint16(out[offSectionCount:], uint16(len(encoded)))
	le.PutUint16(out[offFlags:], a.Flags)

	offset := uint32(tableEnd)
	for i, es := range encoded {
		e := out[HeaderSize+i*EntrySize : HeaderSize+(i+1)*EntrySize]
		le.PutUint32(e[0:], uint32(es.src.Type))
		le.PutUint32(e[4:], offset)
		le.PutUint32(e[8:], uint32(len(es.stored)))
		le.PutUint32(e[12:], es.size)
		e[16] = byte(es.src.Compression)
		e[17] = byte(es.flags)
		copy(e[20:], es.sum[:])
		offset += uint32(len(es.stored))
	}
	le.PutUint32(out[offHeaderCRC:], headerCRC(out[:offHeaderCRC], out[HeaderSize:tableEnd]))

	for _, es := range encoded {
		out = append(out, es.stored...)
	}
	return out, nil
}

func encodeSection(s *Section) (encodedSection, error) {
	if !s.Type.Known() {
		return encodedSection{}, fmt.Errorf("section 0x%04x: %w", uint32(s.Type), ErrUnknownSectionType)
	}
	content, err := s.Content()
	if err != nil {
		return encodedSection{}, fmt.Errorf("section %s: %w", s.Type.Name(), err)
	}
	if s.IsTarball() {
		if content, err = NormalizeTar(content); err != nil {
			return encodedSection{}, fmt.Errorf("section %s: %w", s.Type.Name(), err)
		}
	}
	if int64(len(content)) > math.MaxUint32 {
		return encodedSection{}, fmt.Errorf("section %s: %w", s.Type.Name(), ErrTooLarge)
	}
	stored, err := compress(s.Compression, content)
	if err != nil {
		return encodedSection{}, fmt.Errorf("section %s: %w", s.Type.Name(), err)
	}
	return encodedSection{
		src:    s,
		flags:  s.Flags & knownSectionFlags,
		size:   uint32(len(content)),
		sum:    SectionChecksum(content),
		stored: stored,
	}, nil
}

// checkSectionSet enforces unique types and the required sections.
// sections must be sorted by type.
func checkSectionSet(sections []*Section) error {
	for i := 1; i < len(sections); i++ {
		if sections[i].Type == sections[i-1].Type {
			return fmt.Errorf("%w: %s", ErrDuplicateSection, sections[i].Type.Name())
		}
	}
	for _, t := range requiredSections {
		if !slices.ContainsFunc(sections, func(s *Section) bool { return s.Type == t }) {
			return fmt.Errorf("%w: %s", ErrMissingSection, t.Name())
		}
	}
	return nil
}

// NewBuilder starts an archive with content version major.minor.
func NewBuilder(major, minor uint16) *Builder {
	return &Builder{archive: &Archive{Major: major, Minor: minor}}
}

// Add appends a plain section.
func (b *Builder) Add(t SectionType, content []byte, c Compression) *Builder {
	if b.err == nil {
		b.archive.SetSection(NewSection(t, content, c))
	}
	return b
}

// AddTarball appends a normalized tarball section built from files.
func (b *Builder) AddTarball(t SectionType, files []File, c Compression) *Builder {
	if b.err != nil {
		return b
	}
	data, err := PackTar(files)
	if err != nil {
		b.err = fmt.Errorf("section %s: %w", t.Name(), err)
		return b
	}
	s, err := NewTarballSection(t, data, c)
	if err != nil {
		b.err = fmt.Errorf("section %s: %w", t.Name(), err)
		return b
	}
	b.archive.SetSection(s)
	return b
}

// Archive returns the assembled archive without encoding it.
func (b *Builder) Archive() (*Archive, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.archive, nil
}

// Write encodes the assembled archive.
func (b *Builder) Write() ([]byte, error) {
	a, err := b.Archive()
	if err != nil {
		return nil, err
	}
	return Write(a)
}
