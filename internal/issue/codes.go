// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
)

const (
	// CodeNone is the zero Code, used for success and unclassified errors.
	CodeNone Code = ""
	// CodePackageNotFound means no registry knows the requested package.
	CodePackageNotFound Code = "E001"
	// CodeVersionNotFound means no published version satisfies a requirement.
	CodeVersionNotFound Code = "E002"
	// CodeVersionConflict means two requirements on the same package do not intersect.
	CodeVersionConflict Code = "E003"
	// CodeCircularDependency means the dependency graph contains a cycle.
	CodeCircularDependency Code = "E004"
	// CodeSignatureInvalid means the signature stage of verification failed.
	CodeSignatureInvalid Code = "E005"
	// CodeChecksumMismatch means a per-file hash or the Merkle root did not match.
	CodeChecksumMismatch Code = "E006"

	// CategoryUnknown is returned for errors that carry no classification.
	CategoryUnknown Category = ""
	// CategoryFormat covers bad magic, header checksum and malformed manifests.
	CategoryFormat Category = "format"
	// CategoryIntegrity covers tampered files, Merkle and signature failures.
	CategoryIntegrity Category = "integrity"
	// CategoryResolution covers cycles, conflicts and unsatisfiable requirements.
	CategoryResolution Category = "resolution"
	// CategoryTransport covers timeouts and unreachable registries.
	CategoryTransport Category = "transport"
)

// ErrInvalidCode is returned by Code.Validate for unknown codes.
var ErrInvalidCode = errors.New("invalid result code")

type (
	// Code is a stable result code exposed to CLI collaborators.
	Code string

	// Category is the error taxonomy bucket of a failure.
	Category string

	// Coded is implemented by errors that map to a result code.
	Coded interface {
		Code() Code
	}

	// Categorized is implemented by errors that belong to a taxonomy bucket.
	Categorized interface {
		Category() Category
	}
)

// String returns the string representation of the Code.
func (c Code) String() string { return string(c) }

// Validate returns an error if c is not one of the known codes.
func (c Code) Validate() error {
	switch c {
	case CodeNone, CodePackageNotFound, CodeVersionNotFound, CodeVersionConflict,
		CodeCircularDependency, CodeSignatureInvalid, CodeChecksumMismatch:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCode, string(c))
	}
}

// ExitCode maps a code to the process exit status used by the CLI.
// E00n exits with 10+n; CodeNone exits with 1 for unclassified failures.
func (c Code) ExitCode() int {
	switch c {
	case CodePackageNotFound:
		return 11
	case CodeVersionNotFound:
		return 12
	case CodeVersionConflict:
		return 13
	case CodeCircularDependency:
		return 14
	case CodeSignatureInvalid:
		return 15
	case CodeChecksumMismatch:
		return 16
	default:
		return 1
	}
}

// String returns the string representation of the Category.
func (c Category) String() string { return string(c) }

// Retryable reports whether a failure in this category may succeed on retry.
func (c Category) Retryable() bool { return c == CategoryTransport }

// Classify walks err's chain and returns the first non-empty category and
// the first non-empty code found. A code without an explicit category
// implies its natural category.
func Classify(err error) (Category, Code) {
	category, code := CategoryUnknown, CodeNone
	walk(err, func(e error) bool {
		if c, ok := e.(Coded); ok && code == CodeNone {
			code = c.Code()
		}
		if c, ok := e.(Categorized); ok && category == CategoryUnknown {
			category = c.Category()
		}
		return code != CodeNone && category != CategoryUnknown
	})

	if category == CategoryUnknown {
		category = categoryForCode(code)
	}
	return category, code
}

// walk visits err and its wrapped errors depth first until visit returns true.
func walk(err error, visit func(error) bool) bool {
	if err == nil {
		return false
	}
	if visit(err) {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return walk(u.Unwrap(), visit)
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if walk(inner, visit) {
				return true
			}
		}
	}
	return false
}

func categoryForCode(c Code) Category {
	switch c {
	case CodePackageNotFound, CodeVersionNotFound, CodeVersionConflict, CodeCircularDependency:
		return CategoryResolution
	case CodeSignatureInvalid, CodeChecksumMismatch:
		return CategoryIntegrity
	default:
		return CategoryUnknown
	}
}
