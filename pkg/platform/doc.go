// SPDX-License-Identifier: MPL-2.0

// Package platform names install targets.
//
// A platform is written "os/arch" (for example "linux/amd64"), matching the
// entries of a manifest's platforms list. The GOOS constants keep the string
// literals used in runtime.GOOS comparisons in one place.
package platform
