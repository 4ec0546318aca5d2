// SPDX-License-Identifier: MPL-2.0

// Package manifest models manifest.toml, the self-description every package
// archive carries in its manifest section.
//
// Parsing and validation are separate steps. Parse rejects documents that
// are not structurally a manifest (bad TOML, wrong field types, missing
// name or version) with a MalformedError. Validate never fails; it returns
// every ValidationIssue it finds: name format, reserved-prefix ownership,
// strict semver, dependency requirement syntax, non-empty provides schemas,
// the embedded CUE schema, and the table of ConditionalRule entries that
// make category- and pricing-specific fields mandatory.
//
// Keys the engine does not interpret (pricing, telemetry, lex requirements,
// wire adapter transports, FPGA estimates) are kept verbatim in Extra.
package manifest
