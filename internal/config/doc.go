// SPDX-License-Identifier: MPL-2.0

// Package config handles escpkg configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/escpkg/config.cue (or the XDG equivalent on
// Linux, ~/Library/Application Support/escpkg/config.cue on macOS, %APPDATA%\escpkg\config.cue
// on Windows). ESCPKG_* environment variables override file values, with dots in a key
// replaced by underscores (ESCPKG_CACHE_TTL sets cache.ttl).
//
// Configuration validation is performed against a CUE schema (config_schema.cue) before
// the values reach Viper, so a typo in a key name is reported with its path.
package config
