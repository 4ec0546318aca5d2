// SPDX-License-Identifier: MPL-2.0

// Package issue provides the error taxonomy shared by every escpkg component.
//
// Errors are classified along two axes:
//
//   - [Category]: format, integrity, resolution or transport. Only transport
//     errors are safe to retry.
//   - [Code]: the stable result codes (E001-E006) surfaced to CLI callers.
//
// Components attach classification by implementing `Code() Code` and/or
// `Category() Category` on their typed errors; [Classify] walks the wrapped
// chain to find them. User-facing failures are wrapped in [ActionableError]
// with remediation hints, and [Guide] renders Markdown guidance per code.
package issue
