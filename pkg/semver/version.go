// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidVersion is the sentinel error wrapped by InvalidVersionError.
var ErrInvalidVersion = errors.New("invalid semver")

// strictVersionRegex matches MAJOR.MINOR.PATCH with optional prerelease and
// build metadata. Leading zeros and a "v" prefix are rejected.
var strictVersionRegex = regexp.MustCompile(
	`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
		`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
		`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

type (
	// Version is a parsed semantic version.
	Version struct {
		Major      uint64
		Minor      uint64
		Patch      uint64
		Prerelease string
		Build      string
	}

	// InvalidVersionError is returned when text is not a strict semantic version.
	InvalidVersionError struct {
		Value string
	}
)

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid semver %q (want MAJOR.MINOR.PATCH)", e.Value)
}

// Unwrap returns ErrInvalidVersion for errors.Is.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// Parse parses a strict semantic version such as "1.2.3" or "2.0.0-rc.1+build.5".
func Parse(s string) (Version, error) {
	m := strictVersionRegex.FindStringSubmatch(s)
	if m == nil {
		return Version{}, &InvalidVersionError{Value: s}
	}

	var v Version
	var err error
	if v.Major, err = strconv.ParseUint(m[1], 10, 64); err != nil {
		return Version{}, &InvalidVersionError{Value: s}
	}
	if v.Minor, err = strconv.ParseUint(m[2], 10, 64); err != nil {
		return Version{}, &InvalidVersionError{Value: s}
	}
	if v.Patch, err = strconv.ParseUint(m[3], 10, 64); err != nil {
		return Version{}, &InvalidVersionError{Value: s}
	}
	v.Prerelease = m[4]
	v.Build = m[5]
	return v, nil
}

// MustParse is Parse for constants in tests and tables. It panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsValid reports whether s is a strict semantic version.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String returns the canonical text form.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// IsPrerelease reports whether v carries a prerelease tag.
func (v Version) IsPrerelease() bool { return v.Prerelease != "" }

// Compare returns -1, 0 or 1. Build metadata is ignored, and a prerelease
// sorts before the release it precedes.
func (v Version) Compare(other Version) int {
	if c := cmp.Compare(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.Minor, other.Minor); c != 0 {
		return c
	}
	if c := cmp.Compare(v.Patch, other.Patch); c != 0 {
		return c
	}

	switch {
	case v.Prerelease == "" && other.Prerelease == "":
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	}
	return comparePrerelease(v.Prerelease, other.Prerelease)
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// sameCore reports whether v and other share MAJOR.MINOR.PATCH.
func (v Version) sameCore(other Version) bool {
	return v.Major == other.Major && v.Minor == other.Minor && v.Patch == other.Patch
}

// comparePrerelease compares dot-separated identifiers: numeric identifiers
// compare numerically and sort before alphanumeric ones.
func comparePrerelease(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aErr := strconv.ParseUint(as[i], 10, 64)
		bn, bErr := strconv.ParseUint(bs[i], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			if c := cmp.Compare(an, bn); c != 0 {
				return c
			}
		case aErr == nil:
			return -1
		case bErr == nil:
			return 1
		default:
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
	}
	return cmp.Compare(len(as), len(bs))
}
