// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/estream/escpkg/internal/issue"
)

var (
	// ErrInvalidRequirement is the sentinel error wrapped by InvalidRequirementError.
	ErrInvalidRequirement = errors.New("invalid version requirement")
	// ErrUnsatisfiable is the sentinel error wrapped by UnsatisfiableError.
	ErrUnsatisfiable = errors.New("unsatisfiable requirement")
	// ErrNoMatch is the sentinel error wrapped by NoMatchError.
	ErrNoMatch = errors.New("no matching version")
)

// Any matches every release version.
var Any = Requirement{text: "*"}

type (
	// Bound is one end of a requirement interval.
	Bound struct {
		Version   Version
		Inclusive bool
	}

	// Requirement is a version range normalized to a single interval.
	// A nil Lower or Upper is unbounded on that side.
	Requirement struct {
		Lower *Bound
		Upper *Bound
		text  string
	}

	// InvalidRequirementError is returned when requirement text cannot be parsed.
	InvalidRequirementError struct {
		Value  string
		Reason string
	}

	// UnsatisfiableError is returned when two requirements have no common version.
	UnsatisfiableError struct {
		A Requirement
		B Requirement
	}

	// NoMatchError is returned when no candidate satisfies a requirement.
	NoMatchError struct {
		Requirement Requirement
		Candidates  []Version
	}
)

// Error implements the error interface.
func (e *InvalidRequirementError) Error() string {
	return fmt.Sprintf("invalid version requirement %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidRequirement for errors.Is.
func (e *InvalidRequirementError) Unwrap() error { return ErrInvalidRequirement }

// Category classifies requirement syntax errors as format errors.
func (e *InvalidRequirementError) Category() issue.Category { return issue.CategoryFormat }

// Error implements the error interface.
func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("requirements %q and %q have no common version", e.A, e.B)
}

// Unwrap returns ErrUnsatisfiable for errors.Is.
func (e *UnsatisfiableError) Unwrap() error { return ErrUnsatisfiable }

// Code maps the error to E003.
func (e *UnsatisfiableError) Code() issue.Code { return issue.CodeVersionConflict }

// Error implements the error interface.
func (e *NoMatchError) Error() string {
	avail := make([]string, len(e.Candidates))
	for i, v := range e.Candidates {
		avail[i] = v.String()
	}
	return fmt.Sprintf("no version matches %q (available: [%s])", e.Requirement, strings.Join(avail, ", "))
}

// Unwrap returns ErrNoMatch for errors.Is.
func (e *NoMatchError) Unwrap() error { return ErrNoMatch }

// Code maps the error to E002.
func (e *NoMatchError) Code() issue.Code { return issue.CodeVersionNotFound }

// ParseRequirement parses a requirement expression. Clauses separated by
// commas or whitespace are intersected; an operator may be separated from
// its version by whitespace (">= 1.0.0").
func ParseRequirement(text string) (Requirement, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Requirement{}, &InvalidRequirementError{Value: text, Reason: "empty"}
	}

	clauses, err := splitClauses(trimmed)
	if err != nil {
		return Requirement{}, &InvalidRequirementError{Value: text, Reason: err.Error()}
	}

	req := Requirement{}
	for _, clause := range clauses {
		c, err := parseClause(clause)
		if err != nil {
			return Requirement{}, &InvalidRequirementError{Value: text, Reason: err.Error()}
		}
		if req, err = intersect(req, c); err != nil {
			return Requirement{}, &InvalidRequirementError{Value: text, Reason: "clauses do not overlap"}
		}
	}
	req.text = trimmed
	return req, nil
}

// MustParseRequirement is ParseRequirement for tables. It panics on error.
func MustParseRequirement(text string) Requirement {
	r, err := ParseRequirement(text)
	if err != nil {
		panic(err)
	}
	return r
}

// Exact returns a requirement matching exactly v.
func Exact(v Version) Requirement {
	return Requirement{
		Lower: &Bound{Version: v, Inclusive: true},
		Upper: &Bound{Version: v, Inclusive: true},
		text:  "=" + v.String(),
	}
}

// String returns the requirement text as written, or the canonical interval
// form for requirements built by Intersect.
func (r Requirement) String() string {
	if r.text != "" {
		return r.text
	}
	return r.Canonical()
}

// Canonical renders the interval, e.g. ">=1.2.0, <2.0.0".
func (r Requirement) Canonical() string {
	if r.Lower == nil && r.Upper == nil {
		return "*"
	}
	if r.isExact() {
		return "=" + r.Lower.Version.String()
	}
	var parts []string
	if r.Lower != nil {
		op := ">"
		if r.Lower.Inclusive {
			op = ">="
		}
		parts = append(parts, op+r.Lower.Version.String())
	}
	if r.Upper != nil {
		op := "<"
		if r.Upper.Inclusive {
			op = "<="
		}
		parts = append(parts, op+r.Upper.Version.String())
	}
	return strings.Join(parts, ", ")
}

// IsAny reports whether r has no bounds.
func (r Requirement) IsAny() bool { return r.Lower == nil && r.Upper == nil }

// Matches reports whether v lies within r. A prerelease only matches when
// one of r's bounds is a prerelease of the same MAJOR.MINOR.PATCH.
func (r Requirement) Matches(v Version) bool {
	if r.Lower != nil {
		c := v.Compare(r.Lower.Version)
		if c < 0 || (c == 0 && !r.Lower.Inclusive) {
			return false
		}
	}
	if r.Upper != nil {
		c := v.Compare(r.Upper.Version)
		if c > 0 || (c == 0 && !r.Upper.Inclusive) {
			return false
		}
	}
	if v.IsPrerelease() {
		return r.allowsPrereleaseOf(v)
	}
	return true
}

func (r Requirement) allowsPrereleaseOf(v Version) bool {
	for _, b := range []*Bound{r.Lower, r.Upper} {
		if b != nil && b.Version.IsPrerelease() && b.Version.sameCore(v) {
			return true
		}
	}
	return false
}

func (r Requirement) isExact() bool {
	return r.Lower != nil && r.Upper != nil && r.Lower.Inclusive && r.Upper.Inclusive &&
		r.Lower.Version.Compare(r.Upper.Version) == 0
}

// Intersect returns the requirement satisfied by exactly the versions that
// satisfy both a and b, or an *UnsatisfiableError when the interval is empty.
func Intersect(a, b Requirement) (Requirement, error) {
	out, err := intersect(a, b)
	if err != nil {
		return Requirement{}, &UnsatisfiableError{A: a, B: b}
	}
	switch {
	case a.IsAny():
		out.text = b.text
	case b.IsAny():
		out.text = a.text
	case a.text != "" && b.text != "" && a.text != b.text:
		out.text = a.text + ", " + b.text
	default:
		out.text = a.text
	}
	return out, nil
}

func intersect(a, b Requirement) (Requirement, error) {
	out := Requirement{
		Lower: maxLower(a.Lower, b.Lower),
		Upper: minUpper(a.Upper, b.Upper),
	}
	if out.Lower != nil && out.Upper != nil {
		c := out.Lower.Version.Compare(out.Upper.Version)
		if c > 0 || (c == 0 && !(out.Lower.Inclusive && out.Upper.Inclusive)) {
			return Requirement{}, ErrUnsatisfiable
		}
	}
	return out, nil
}

func maxLower(a, b *Bound) *Bound {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	switch c := a.Version.Compare(b.Version); {
	case c > 0:
		return a
	case c < 0:
		return b
	default:
		return &Bound{Version: a.Version, Inclusive: a.Inclusive && b.Inclusive}
	}
}

func minUpper(a, b *Bound) *Bound {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	switch c := a.Version.Compare(b.Version); {
	case c < 0:
		return a
	case c > 0:
		return b
	default:
		return &Bound{Version: a.Version, Inclusive: a.Inclusive && b.Inclusive}
	}
}

// SelectBest returns the highest candidate satisfying req. Callers exclude
// yanked versions beforehand; candidates are assumed unique.
func SelectBest(candidates []Version, req Requirement) (Version, error) {
	var best Version
	found := false
	for _, v := range candidates {
		if !req.Matches(v) {
			continue
		}
		if !found || best.Less(v) {
			best = v
			found = true
		}
	}
	if !found {
		return Version{}, &NoMatchError{Requirement: req, Candidates: SortDescending(candidates)}
	}
	return best, nil
}

// Filter returns the candidates matching req, preserving order.
func Filter(candidates []Version, req Requirement) []Version {
	var out []Version
	for _, v := range candidates {
		if req.Matches(v) {
			out = append(out, v)
		}
	}
	return out
}

// SortDescending returns a copy of versions sorted newest first.
func SortDescending(versions []Version) []Version {
	out := make([]Version, len(versions))
	copy(out, versions)
	sort.Slice(out, func(i, j int) bool { return out[j].Less(out[i]) })
	return out
}

// splitClauses tokenizes on commas and whitespace, re-attaching bare
// operators to the version that follows them.
func splitClauses(s string) ([]string, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	var clauses []string
	pending := ""
	for _, f := range fields {
		if isOperator(f) {
			if pending != "" {
				return nil, fmt.Errorf("operator %q not followed by a version", pending)
			}
			pending = f
			continue
		}
		clauses = append(clauses, pending+f)
		pending = ""
	}
	if pending != "" {
		return nil, fmt.Errorf("operator %q not followed by a version", pending)
	}
	return clauses, nil
}

func isOperator(s string) bool {
	switch s {
	case "^", "~", "=", ">", ">=", "<", "<=":
		return true
	}
	return false
}

func parseClause(clause string) (Requirement, error) {
	if clause == "*" {
		return Requirement{}, nil
	}

	op, rest := splitOperator(clause)
	v, err := Parse(rest)
	if err != nil {
		return Requirement{}, fmt.Errorf("clause %q: %w", clause, err)
	}

	switch op {
	case "^":
		return Requirement{Lower: &Bound{Version: v, Inclusive: true}, Upper: &Bound{Version: caretUpper(v)}}, nil
	case "~":
		return Requirement{
			Lower: &Bound{Version: v, Inclusive: true},
			Upper: &Bound{Version: Version{Major: v.Major, Minor: v.Minor + 1}},
		}, nil
	case "", "=":
		return Exact(v), nil
	case ">=":
		return Requirement{Lower: &Bound{Version: v, Inclusive: true}}, nil
	case ">":
		return Requirement{Lower: &Bound{Version: v}}, nil
	case "<":
		return Requirement{Upper: &Bound{Version: v}}, nil
	case "<=":
		return Requirement{Upper: &Bound{Version: v, Inclusive: true}}, nil
	default:
		return Requirement{}, fmt.Errorf("unknown operator %q", op)
	}
}

// caretUpper: ^X.Y.Z is <(X+1).0.0, and <0.(Y+1).0 when X is 0.
func caretUpper(v Version) Version {
	if v.Major != 0 {
		return Version{Major: v.Major + 1}
	}
	return Version{Minor: v.Minor + 1}
}

func splitOperator(clause string) (op, rest string) {
	for _, candidate := range []string{">=", "<=", "^", "~", "=", ">", "<"} {
		if after, ok := strings.CutPrefix(clause, candidate); ok {
			return candidate, after
		}
	}
	return "", clause
}
