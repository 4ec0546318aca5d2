// SPDX-License-Identifier: MPL-2.0

// Package install turns a resolved plan into installed packages.
//
// Install runs in three phases. Every archive of the plan is first obtained
// from the cache or fetched, then all archives are verified in parallel, and
// only when every package verified are archives committed to the cache and
// extracted in plan order. Extractions are staged in a temp directory and
// renamed into place; a failure while committing rolls back every
// extraction of the invocation in reverse order.
//
// The cache holds one archive per (name, version) slot. Writers of a slot
// are serialized in-process and, on Linux, across processes with an
// advisory flock.
package install
