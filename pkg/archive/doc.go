// SPDX-License-Identifier: MPL-2.0

// Package archive reads and writes the ESCX sectioned package container.
//
// Layout (little-endian):
//
//	0x00  4B  magic "ESCX"
//	0x04  2B  format major version (1)
//	0x06  2B  reserved, zero
//	0x08  2B  content major version
//	0x0A  2B  content minor version
//	0x0C  4B  total archive size
//	0x10  2B  section count
//	0x12  2B  flags
//	0x14  4B  CRC32 (IEEE) of bytes 0x00-0x13 followed by the section table
//
// The header is followed by one 32-byte table entry per section:
//
//	4B type id, 4B absolute offset, 4B stored size, 4B uncompressed size,
//	1B compression (0 none, 1 zstd, 2 lz4), 1B flags (bit 0: tarball),
//	2B reserved, 12B truncated SHA3-256 of the uncompressed content
//
// and then by the section data in table order.
//
// Read validates the magic, the header checksum and the table before any
// section data is touched; section content is decompressed and checked
// lazily on first access. Write is deterministic: sections are emitted in
// ascending type order and embedded tarballs are normalized, so identical
// logical content always yields identical bytes.
package archive
