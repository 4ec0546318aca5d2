// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"fmt"
	"slices"
	"strings"
)

const (
	// OpEquals matches when the field equals Values[0].
	OpEquals Op = "eq"
	// OpNotEquals matches when the field is present and differs from Values[0].
	OpNotEquals Op = "ne"
	// OpIn matches when the field equals any of Values.
	OpIn Op = "in"
	// OpNotIn matches when the field is present and equals none of Values.
	OpNotIn Op = "not_in"
	// OpPresent matches when the field exists.
	OpPresent Op = "present"
)

// CategoryAny makes a rule apply to every category.
const CategoryAny Category = "*"

type (
	// Op is a comparison used by Condition.
	Op string

	// Condition tests one dotted field of the raw manifest document.
	Condition struct {
		Field  string
		Op     Op
		Values []string
	}

	// ConditionalRule makes Require fields mandatory when the manifest is of
	// Category and When holds. A zero When always holds.
	ConditionalRule struct {
		Name     string
		Category Category
		When     Condition
		Require  []string
		Message  string
	}
)

// DefaultRules returns the built-in conditional rules. The returned slice is
// a fresh copy.
func DefaultRules() []ConditionalRule {
	return []ConditionalRule{
		{
			Name:     "paid-license-requires-price",
			Category: CategoryAny,
			When:     Condition{Field: "pricing.license_type", Op: OpNotIn, Values: []string{"free", "open-source"}},
			Require:  []string{"pricing.price", "pricing.currency"},
			Message:  "a non-free license type requires price and currency",
		},
		{
			Name:     "metered-requires-unit",
			Category: CategoryAny,
			When:     Condition{Field: "pricing.model", Op: OpEquals, Values: []string{"metered"}},
			Require:  []string{"pricing.unit"},
			Message:  "metered pricing requires a billing unit",
		},
		{
			Name:     "wire-adapter-transports",
			Category: CategoryWireAdapter,
			Require:  []string{"wire.transports"},
			Message:  "wire adapters must declare their transports",
		},
		{
			Name:     "fpga-resources",
			Category: CategoryFPGA,
			Require:  []string{"fpga.resources.luts"},
			Message:  "FPGA packages must estimate LUT usage",
		},
	}
}

// Applies reports whether the rule is active for m.
func (r ConditionalRule) Applies(m *Manifest) bool {
	if r.Category != CategoryAny && r.Category != "" && r.Category != m.Category {
		return false
	}
	return r.When.Holds(m)
}

// Missing returns the Require fields absent from m.
func (r ConditionalRule) Missing(m *Manifest) []string {
	var missing []string
	for _, field := range r.Require {
		if v, ok := m.Lookup(field); !ok || isEmpty(v) {
			missing = append(missing, field)
		}
	}
	return missing
}

// Holds evaluates the condition against m. A condition without a field
// always holds.
func (c Condition) Holds(m *Manifest) bool {
	if c.Field == "" {
		return true
	}
	v, ok := m.Lookup(c.Field)
	if !ok {
		return false
	}
	value := scalarString(v)

	switch c.Op {
	case OpPresent:
		return true
	case OpEquals:
		return len(c.Values) > 0 && value == c.Values[0]
	case OpNotEquals:
		return len(c.Values) > 0 && value != c.Values[0]
	case OpIn:
		return slices.Contains(c.Values, value)
	case OpNotIn:
		return !slices.Contains(c.Values, value)
	default:
		return false
	}
}

// String renders the condition for diagnostics.
func (c Condition) String() string {
	if c.Field == "" {
		return "always"
	}
	return fmt.Sprintf("%s %s [%s]", c.Field, c.Op, strings.Join(c.Values, ", "))
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
