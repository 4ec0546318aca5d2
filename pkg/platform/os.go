// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// OS name constants for runtime.GOOS comparisons.
const (
	Windows = "windows"
	Darwin  = "darwin"
	Linux   = "linux"
)

// Any is the manifest platform entry that matches every target.
const Any = "any"

// ErrInvalidPlatform is returned for a platform that is not "os/arch".
var ErrInvalidPlatform = errors.New("invalid platform")

// Current returns the platform of the running binary.
func Current() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// Validate checks that p is empty, "any" or "os/arch" with both parts
// non-empty lowercase identifiers.
func Validate(p string) error {
	if p == "" || p == Any {
		return nil
	}
	goos, arch, ok := strings.Cut(p, "/")
	if !ok || !ident(goos) || !ident(arch) {
		return fmt.Errorf("%w: %q (want os/arch)", ErrInvalidPlatform, p)
	}
	return nil
}

func ident(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
