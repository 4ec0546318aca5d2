// SPDX-License-Identifier: MPL-2.0

// Package registry defines the read side of a package registry as consumed
// by the resolver and the installer, plus two implementations: an in-memory
// registry for tests and embedding, and a directory registry laid out as
//
//	<dir>/<name>/index.toml
//	<dir>/<name>/<version>.escx
//
// Network registries are out of scope; any transport can satisfy Registry.
package registry
