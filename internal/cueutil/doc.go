// SPDX-License-Identifier: MPL-2.0

// Package cueutil compiles embedded CUE schemas and checks user data
// against them.
//
// Two entry points exist. ParseAndDecode compiles a CUE document, unifies it
// with a schema definition and decodes the result into a Go struct; it backs
// the configuration file. ValidateValue encodes an already-decoded Go value
// (for example a TOML document held as map[string]any) and unifies it with a
// schema definition; it backs the manifest structural checks.
//
//	//go:embed config_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[Config](schemaBytes, data, "#Config",
//	    cueutil.WithFilename("config.cue"))
//
// Errors carry a JSON-path style location such as "cache.ttl".
package cueutil
