// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/platform"
)

// FileName is the path of the manifest inside an archive.
const FileName = "manifest.toml"

const (
	// CategorySmartCircuit is a compiled stream-processing circuit.
	CategorySmartCircuit Category = "smart-circuit"
	// CategoryWireAdapter bridges an external protocol onto the platform.
	CategoryWireAdapter Category = "wire-adapter"
	// CategoryFPGA ships a bitstream for hardware acceleration.
	CategoryFPGA Category = "fpga"
	// CategoryIntegration connects a third-party service.
	CategoryIntegration Category = "integration"
	// CategoryWidget is a console widget bundle.
	CategoryWidget Category = "console-widget"
	// CategoryLibrary is a reusable library with no runtime entry point.
	CategoryLibrary Category = "library"
)

// ErrMalformed is the sentinel error wrapped by MalformedError.
var ErrMalformed = errors.New("malformed manifest")

// knownKeys are the top-level keys decoded into typed fields; everything
// else lands in Extra.
var knownKeys = map[string]bool{
	"name": true, "version": true, "category": true, "license": true,
	"description": true, "dependencies": true, "provides": true, "platforms": true,
}

type (
	// Category selects the install layout and the conditional rules that apply.
	Category string

	// Manifest is a parsed manifest.toml.
	Manifest struct {
		Name         string
		Version      string
		Category     Category
		License      string
		Description  string
		Dependencies map[string]Dependency
		Provides     []Provide
		Platforms    []string
		// Extra holds every top-level key not listed above, untouched.
		Extra map[string]any

		raw map[string]any
	}

	// Dependency is one entry of the [dependencies] table. TOML accepts a bare
	// requirement string or an inline table with version and optional keys.
	Dependency struct {
		Requirement string
		Optional    bool
	}

	// Provide declares a schema the package exports.
	Provide struct {
		Name   string
		Schema string
	}

	// MalformedError reports structurally invalid manifest input. Line and
	// Column are set for TOML syntax errors and are zero otherwise.
	MalformedError struct {
		Field  string
		Line   int
		Column int
		Err    error
	}
)

// String returns the category name.
func (c Category) String() string { return string(c) }

// KnownCategories returns the built-in categories in sorted order.
func KnownCategories() []Category {
	return []Category{
		CategoryWidget, CategoryFPGA, CategoryIntegration,
		CategoryLibrary, CategorySmartCircuit, CategoryWireAdapter,
	}
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	var b strings.Builder
	b.WriteString("malformed manifest")
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d, column %d", e.Line, e.Column)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying decode or type error.
func (e *MalformedError) Unwrap() error { return e.Err }

// Is matches ErrMalformed.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// Category classifies manifest errors as format errors.
func (e *MalformedError) Category() issue.Category { return issue.CategoryFormat }

// Parse decodes manifest.toml bytes. It performs no semantic validation.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		merr := &MalformedError{Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			merr.Line, merr.Column = derr.Position()
			merr.Field = strings.Join(derr.Key(), ".")
		}
		return nil, merr
	}
	if raw == nil {
		raw = map[string]any{}
	}

	m := &Manifest{raw: raw, Extra: map[string]any{}}
	var err error
	if m.Name, err = requiredString(raw, "name"); err != nil {
		return nil, err
	}
	if m.Version, err = requiredString(raw, "version"); err != nil {
		return nil, err
	}
	category, err := optionalString(raw, "category")
	if err != nil {
		return nil, err
	}
	m.Category = Category(category)
	if m.License, err = optionalString(raw, "license"); err != nil {
		return nil, err
	}
	if m.Description, err = optionalString(raw, "description"); err != nil {
		return nil, err
	}
	if m.Dependencies, err = parseDependencies(raw["dependencies"]); err != nil {
		return nil, err
	}
	if m.Provides, err = parseProvides(raw["provides"]); err != nil {
		return nil, err
	}
	if m.Platforms, err = stringList(raw["platforms"], "platforms"); err != nil {
		return nil, err
	}

	for k, v := range raw {
		if !knownKeys[k] {
			m.Extra[k] = v
		}
	}
	return m, nil
}

// ID returns "name@version".
func (m *Manifest) ID() string { return m.Name + "@" + m.Version }

// Raw returns the decoded document, including Extra keys.
func (m *Manifest) Raw() map[string]any { return m.raw }

// Lookup resolves a dotted path such as "pricing.license_type" against the
// raw document.
func (m *Manifest) Lookup(path string) (any, bool) {
	var cur any = m.raw
	for part := range strings.SplitSeq(path, ".") {
		table, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = table[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// DependencyNames returns the declared dependency names in sorted order.
func (m *Manifest) DependencyNames() []string {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportsPlatform reports whether the package runs on target. An empty
// Platforms list or an empty target means no restriction.
func (m *Manifest) SupportsPlatform(target string) bool {
	return PlatformMatch(m.Platforms, target)
}

// PlatformMatch reports whether target is listed in platforms, treating
// an empty list, an empty target and the "any" entry as wildcards.
func PlatformMatch(platforms []string, target string) bool {
	if len(platforms) == 0 || target == "" {
		return true
	}
	return slices.ContainsFunc(platforms, func(p string) bool {
		return p == target || p == platform.Any
	})
}

func requiredString(raw map[string]any, key string) (string, error) {
	s, err := stringField(raw, key, true)
	if err != nil {
		return "", &MalformedError{Field: key, Err: err}
	}
	return s, nil
}

func optionalString(raw map[string]any, key string) (string, error) {
	s, err := stringField(raw, key, false)
	if err != nil {
		return "", &MalformedError{Field: key, Err: err}
	}
	return s, nil
}

func stringField(table map[string]any, key string, required bool) (string, error) {
	v, ok := table[key]
	if !ok {
		if required {
			return "", errors.New("missing required field")
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func parseDependencies(v any) (map[string]Dependency, error) {
	deps := map[string]Dependency{}
	if v == nil {
		return deps, nil
	}
	table, ok := v.(map[string]any)
	if !ok {
		return nil, &MalformedError{Field: "dependencies", Err: fmt.Errorf("expected table, got %T", v)}
	}

	for name, entry := range table {
		field := "dependencies." + name
		switch e := entry.(type) {
		case string:
			deps[name] = Dependency{Requirement: e}
		case map[string]any:
			req, err := stringField(e, "version", true)
			if err != nil {
				return nil, &MalformedError{Field: field + ".version", Err: err}
			}
			dep := Dependency{Requirement: req}
			if opt, ok := e["optional"]; ok {
				b, ok := opt.(bool)
				if !ok {
					return nil, &MalformedError{Field: field + ".optional", Err: fmt.Errorf("expected bool, got %T", opt)}
				}
				dep.Optional = b
			}
			deps[name] = dep
		default:
			return nil, &MalformedError{Field: field, Err: fmt.Errorf("expected requirement string or table, got %T", entry)}
		}
	}
	return deps, nil
}

func parseProvides(v any) ([]Provide, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, &MalformedError{Field: "provides", Err: fmt.Errorf("expected array of tables, got %T", v)}
	}

	out := make([]Provide, 0, len(list))
	for i, item := range list {
		field := fmt.Sprintf("provides[%d]", i)
		table, ok := item.(map[string]any)
		if !ok {
			return nil, &MalformedError{Field: field, Err: fmt.Errorf("expected table, got %T", item)}
		}
		name, err := stringField(table, "name", false)
		if err != nil {
			return nil, &MalformedError{Field: field + ".name", Err: err}
		}
		schema, err := stringField(table, "schema", false)
		if err != nil {
			return nil, &MalformedError{Field: field + ".schema", Err: err}
		}
		out = append(out, Provide{Name: name, Schema: schema})
	}
	return out, nil
}

func stringList(v any, field string) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, &MalformedError{Field: field, Err: fmt.Errorf("expected array, got %T", v)}
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, &MalformedError{Field: fmt.Sprintf("%s[%d]", field, i), Err: fmt.Errorf("expected string, got %T", item)}
		}
		out = append(out, s)
	}
	return out, nil
}
