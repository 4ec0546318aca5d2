// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/estream/escpkg/internal/cueutil"
	"github.com/estream/escpkg/pkg/platform"
	"github.com/estream/escpkg/pkg/semver"
)

// PlatformPublisher owns the reserved name prefixes.
const PlatformPublisher = "estream"

const (
	// IssueName covers name format and ownership.
	IssueName IssueType = "name"
	// IssueVersion covers the package version.
	IssueVersion IssueType = "version"
	// IssueDependency covers dependency names and requirements.
	IssueDependency IssueType = "dependency"
	// IssueProvides covers provides entries.
	IssueProvides IssueType = "provides"
	// IssuePlatform covers platforms entries.
	IssuePlatform IssueType = "platform"
	// IssueSchema covers structural schema violations.
	IssueSchema IssueType = "schema"
	// IssueRule covers conditional rule violations.
	IssueRule IssueType = "rule"
)

var (
	//go:embed manifest_schema.cue
	manifestSchema []byte

	// ReservedPrefixes may only be published by PlatformPublisher.
	ReservedPrefixes = []string{"estream-", "esc-"}

	dottedNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)*$`)
	scopePartPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
)

type (
	// IssueType categorizes a ValidationIssue.
	IssueType string

	// ValidationIssue is one problem found by Validate. Issues are collected
	// and reported together; they are not errors.
	ValidationIssue struct {
		Type    IssueType
		Field   string
		Message string
	}

	// Validator checks manifests against naming, version and rule policy.
	// The zero value is not usable; call NewValidator.
	Validator struct {
		// Publisher is the identity publishing the package. Reserved
		// prefixes require PlatformPublisher; scoped names must match it
		// when it is set.
		Publisher string
		rules     []ConditionalRule
	}
)

// String renders the issue as "field: message".
func (i ValidationIssue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("[%s] %s", i.Type, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Type, i.Field, i.Message)
}

// NewValidator returns a Validator with DefaultRules.
func NewValidator(publisher string) *Validator {
	return &Validator{Publisher: publisher, rules: DefaultRules()}
}

// AddRule registers an extra conditional rule.
func (v *Validator) AddRule(r ConditionalRule) {
	v.rules = append(v.rules, r)
}

// Rules returns the active rule table.
func (v *Validator) Rules() []ConditionalRule {
	return append([]ConditionalRule(nil), v.rules...)
}

// Validate checks m with the default rule table and no publisher identity.
func Validate(m *Manifest) []ValidationIssue {
	return NewValidator("").Validate(m)
}

// Validate returns every issue found in m. It never fails.
func (v *Validator) Validate(m *Manifest) []ValidationIssue {
	var issues []ValidationIssue
	issues = append(issues, v.checkName(m.Name)...)

	if _, err := semver.Parse(m.Version); err != nil {
		issues = append(issues, ValidationIssue{Type: IssueVersion, Field: "version", Message: err.Error()})
	}

	for _, name := range m.DependencyNames() {
		field := "dependencies." + name
		if !ValidName(name) {
			issues = append(issues, ValidationIssue{Type: IssueDependency, Field: field, Message: "invalid package name"})
		}
		if _, err := semver.ParseRequirement(m.Dependencies[name].Requirement); err != nil {
			issues = append(issues, ValidationIssue{Type: IssueDependency, Field: field, Message: err.Error()})
		}
	}

	for i, p := range m.Provides {
		if strings.TrimSpace(p.Schema) == "" {
			issues = append(issues, ValidationIssue{
				Type:    IssueProvides,
				Field:   fmt.Sprintf("provides[%d]", i),
				Message: fmt.Sprintf("schema for %q is empty", p.Name),
			})
		}
	}

	for i, p := range m.Platforms {
		if err := platform.Validate(p); err != nil {
			issues = append(issues, ValidationIssue{Type: IssuePlatform, Field: fmt.Sprintf("platforms[%d]", i), Message: err.Error()})
		}
	}

	issues = append(issues, checkSchema(m)...)

	for _, r := range v.rules {
		if !r.Applies(m) {
			continue
		}
		for _, field := range r.Missing(m) {
			issues = append(issues, ValidationIssue{Type: IssueRule, Field: field, Message: r.Message})
		}
	}
	return issues
}

func (v *Validator) checkName(name string) []ValidationIssue {
	if scope, pkg, ok := SplitScoped(name); ok {
		if !scopePartPattern.MatchString(scope) || !scopePartPattern.MatchString(pkg) {
			return []ValidationIssue{{Type: IssueName, Field: "name", Message: fmt.Sprintf("invalid scoped name %q", name)}}
		}
		if v.Publisher != "" && v.Publisher != scope {
			return []ValidationIssue{{
				Type:    IssueName,
				Field:   "name",
				Message: fmt.Sprintf("scope @%s is not owned by publisher %q", scope, v.Publisher),
			}}
		}
		return nil
	}

	if !dottedNamePattern.MatchString(name) {
		return []ValidationIssue{{Type: IssueName, Field: "name", Message: fmt.Sprintf("invalid package name %q", name)}}
	}
	if !HasReservedPrefix(name) {
		return []ValidationIssue{{
			Type:    IssueName,
			Field:   "name",
			Message: fmt.Sprintf("unscoped name %q must use a reserved prefix or the @publisher/name form", name),
		}}
	}
	if v.Publisher != PlatformPublisher {
		return []ValidationIssue{{
			Type:    IssueName,
			Field:   "name",
			Message: fmt.Sprintf("reserved prefix in %q requires publisher %q", name, PlatformPublisher),
		}}
	}
	return nil
}

func checkSchema(m *Manifest) []ValidationIssue {
	err := cueutil.ValidateValue(manifestSchema, "#Manifest", m.Raw(), cueutil.WithFilename(FileName))
	if err == nil {
		return nil
	}
	var verrs cueutil.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationIssue{{Type: IssueSchema, Message: err.Error()}}
	}
	issues := make([]ValidationIssue, 0, len(verrs))
	for _, ve := range verrs {
		issues = append(issues, ValidationIssue{Type: IssueSchema, Field: ve.CUEPath, Message: ve.Message})
	}
	return issues
}

// SplitScoped splits "@publisher/name". ok is false for unscoped names.
func SplitScoped(name string) (publisher, pkg string, ok bool) {
	rest, found := strings.CutPrefix(name, "@")
	if !found {
		return "", "", false
	}
	publisher, pkg, ok = strings.Cut(rest, "/")
	return publisher, pkg, ok
}

// HasReservedPrefix reports whether name starts with a platform prefix.
func HasReservedPrefix(name string) bool {
	for _, p := range ReservedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Owner returns the publisher allowed to publish name: the scope of a
// scoped name, PlatformPublisher for a reserved prefix, "" otherwise.
func Owner(name string) string {
	if scope, _, ok := SplitScoped(name); ok {
		return scope
	}
	if HasReservedPrefix(name) {
		return PlatformPublisher
	}
	return ""
}

// ValidName reports whether name is syntactically valid, ignoring ownership.
func ValidName(name string) bool {
	if scope, pkg, ok := SplitScoped(name); ok {
		return scopePartPattern.MatchString(scope) && scopePartPattern.MatchString(pkg)
	}
	return dottedNamePattern.MatchString(name) && HasReservedPrefix(name)
}
