// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ParseResult holds the decoded struct and the unified CUE value it came from.
type ParseResult[T any] struct {
	Value   *T
	Unified cue.Value
}

// ParseAndDecode compiles schema, compiles data, unifies data with the
// definition at schemaPath, validates and decodes into T.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	o := applyOptions(opts)
	if err := CheckFileSize(data, o.maxFileSize, o.filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()
	root, err := lookupDefinition(ctx, schema, schemaPath)
	if err != nil {
		return nil, err
	}

	user := ctx.CompileBytes(data, cue.Filename(o.filename))
	if user.Err() != nil {
		return nil, FormatError(user.Err(), o.filename)
	}

	unified := root.Unify(user)
	if err := validate(unified, o); err != nil {
		return nil, err
	}

	var out T
	if err := unified.Decode(&out); err != nil {
		return nil, FormatError(err, o.filename)
	}
	return &ParseResult[T]{Value: &out, Unified: unified}, nil
}

// ValidateValue encodes v as CUE and checks it against the definition at
// schemaPath. Schema violations are returned as ValidationErrors; any other
// error means the schema itself is broken or v cannot be encoded.
func ValidateValue(schema []byte, schemaPath string, v any, opts ...Option) error {
	o := applyOptions(opts)

	ctx := cuecontext.New()
	root, err := lookupDefinition(ctx, schema, schemaPath)
	if err != nil {
		return err
	}

	encoded := ctx.Encode(v)
	if encoded.Err() != nil {
		return FormatError(encoded.Err(), o.filename)
	}

	unified := root.Unify(encoded)
	if o.concrete {
		err = unified.Validate(cue.Concrete(true))
	} else {
		err = unified.Validate()
	}
	if err != nil {
		return ValidationErrors(Violations(err, o.filename))
	}
	return nil
}

func lookupDefinition(ctx *cue.Context, schema []byte, schemaPath string) (cue.Value, error) {
	compiled := ctx.CompileBytes(schema)
	if compiled.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: compile schema: %w", compiled.Err())
	}
	root := compiled.LookupPath(cue.ParsePath(schemaPath))
	if root.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s: %w", schemaPath, root.Err())
	}
	return root, nil
}

func validate(v cue.Value, o options) error {
	var err error
	if o.concrete {
		err = v.Validate(cue.Concrete(true))
	} else {
		err = v.Validate()
	}
	if err != nil {
		return FormatError(err, o.filename)
	}
	return nil
}
