// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"fmt"
	"strings"

	"github.com/estream/escpkg/pkg/semver"
)

// RootRequester is the RequiredBy value of root requirements.
const RootRequester = "(root)"

type (
	// Requirement is a root requirement: a package name and the versions
	// acceptable for it.
	Requirement struct {
		Name       string
		Constraint semver.Requirement
		Optional   bool
	}

	// Constraint is one contribution to a package's requirement
	// accumulator. RequiredBy is "name@version" of the dependent, or
	// RootRequester.
	Constraint struct {
		Requirement semver.Requirement
		RequiredBy  string
		Optional    bool
	}
)

// ParseRequirement parses "name", "name@requirement" or
// "@publisher/name@requirement". A bare name accepts any version.
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	name, constraint := s, ""
	if i := strings.LastIndex(s, "@"); i > 0 {
		name, constraint = s[:i], s[i+1:]
	}
	if name == "" {
		return Requirement{}, fmt.Errorf("requirement %q: missing package name", s)
	}
	if constraint == "" {
		return Requirement{Name: name, Constraint: semver.Any}, nil
	}
	req, err := semver.ParseRequirement(constraint)
	if err != nil {
		return Requirement{}, fmt.Errorf("requirement %q: %w", s, err)
	}
	return Requirement{Name: name, Constraint: req}, nil
}

// String renders "name@requirement".
func (r Requirement) String() string {
	return r.Name + "@" + r.Constraint.String()
}

// String renders the constraint and its origin.
func (c Constraint) String() string {
	if c.Optional {
		return fmt.Sprintf("%s (optional, from %s)", c.Requirement, c.RequiredBy)
	}
	return fmt.Sprintf("%s (from %s)", c.Requirement, c.RequiredBy)
}
