// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/semver"
)

var (
	// ErrConflict is the sentinel error wrapped by ConflictError.
	ErrConflict = errors.New("version conflict")
	// ErrUnresolvable is the sentinel error wrapped by PackageError.
	ErrUnresolvable = errors.New("cannot resolve package")
	// ErrNotConverged is returned when reselection keeps changing the
	// graph for MaxWaves waves.
	ErrNotConverged = errors.New("resolution did not converge")
)

type (
	// ConflictError reports two requirements on one package that have no
	// common version. RequirementA is the earlier contribution.
	ConflictError struct {
		Package      string
		RequirementA semver.Requirement
		RequirementB semver.Requirement
		RequiredByA  string
		RequiredByB  string
	}

	// PackageError localizes a registry or selection failure to the
	// package being resolved and the requirement that was in force.
	PackageError struct {
		Package     string
		Requirement semver.Requirement
		RequiredBy  []string
		Err         error
	}
)

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: %s (required by %s) and %s (required by %s) have no common version",
		e.Package, e.RequirementA, e.RequiredByA, e.RequirementB, e.RequiredByB)
}

// Unwrap returns ErrConflict for errors.Is.
func (e *ConflictError) Unwrap() error { return ErrConflict }

// Code maps conflicts to E003.
func (e *ConflictError) Code() issue.Code { return issue.CodeVersionConflict }

// Category classifies conflicts as resolution errors.
func (e *ConflictError) Category() issue.Category { return issue.CategoryResolution }

// Error implements the error interface.
func (e *PackageError) Error() string {
	return fmt.Sprintf("resolve %s %s (required by %s): %v",
		e.Package, e.Requirement, strings.Join(e.RequiredBy, ", "), e.Err)
}

// Unwrap returns the underlying registry or selection error.
func (e *PackageError) Unwrap() error { return e.Err }

// Is matches ErrUnresolvable.
func (e *PackageError) Is(target error) bool { return target == ErrUnresolvable }
