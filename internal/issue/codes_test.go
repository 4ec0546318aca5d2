// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

type codedErr struct{ code Code }

func (e *codedErr) Error() string { return "coded" }
func (e *codedErr) Code() Code    { return e.code }

type transportErr struct{}

func (e *transportErr) Error() string       { return "timeout" }
func (e *transportErr) Category() Category { return CategoryTransport }

// wrappingErr reports an empty code of its own.
type wrappingErr struct{ inner error }

func (e *wrappingErr) Error() string { return "wrapping: " + e.inner.Error() }
func (e *wrappingErr) Code() Code    { return CodeNone }
func (e *wrappingErr) Unwrap() error { return e.inner }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		err          error
		wantCategory Category
		wantCode     Code
	}{
		{name: "nil", err: nil, wantCategory: CategoryUnknown, wantCode: CodeNone},
		{name: "plain", err: errors.New("boom"), wantCategory: CategoryUnknown, wantCode: CodeNone},
		{name: "conflict", err: &codedErr{code: CodeVersionConflict}, wantCategory: CategoryResolution, wantCode: CodeVersionConflict},
		{name: "wrapped signature", err: fmt.Errorf("install a: %w", &codedErr{code: CodeSignatureInvalid}), wantCategory: CategoryIntegrity, wantCode: CodeSignatureInvalid},
		{name: "transport", err: fmt.Errorf("fetch: %w", &transportErr{}), wantCategory: CategoryTransport, wantCode: CodeNone},
		{
			name:         "empty outer code",
			err:          &wrappingErr{inner: &codedErr{code: CodeChecksumMismatch}},
			wantCategory: CategoryIntegrity,
			wantCode:     CodeChecksumMismatch,
		},
		{
			name:         "joined",
			err:          errors.Join(errors.New("first"), &codedErr{code: CodePackageNotFound}),
			wantCategory: CategoryResolution,
			wantCode:     CodePackageNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			category, code := Classify(tt.err)
			if category != tt.wantCategory || code != tt.wantCode {
				t.Errorf("Classify() = (%q, %q), want (%q, %q)", category, code, tt.wantCategory, tt.wantCode)
			}
		})
	}
}

func TestCode_ExitCode(t *testing.T) {
	t.Parallel()

	if got := CodeCircularDependency.ExitCode(); got != 14 {
		t.Errorf("E004 ExitCode() = %d, want 14", got)
	}
	if got := CodeNone.ExitCode(); got != 1 {
		t.Errorf("CodeNone ExitCode() = %d, want 1", got)
	}
}

func TestCode_Validate(t *testing.T) {
	t.Parallel()

	if err := CodeChecksumMismatch.Validate(); err != nil {
		t.Errorf("E006 should be valid, got %v", err)
	}
	if err := Code("E999").Validate(); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("E999 should wrap ErrInvalidCode, got %v", err)
	}
}

func TestCategory_Retryable(t *testing.T) {
	t.Parallel()

	for _, c := range []Category{CategoryFormat, CategoryIntegrity, CategoryResolution} {
		if c.Retryable() {
			t.Errorf("%s should not be retryable", c)
		}
	}
	if !CategoryTransport.Retryable() {
		t.Error("transport should be retryable")
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().
		WithOperation("resolve dependencies").
		WithResource("@acme/gateway").
		WithSuggestion("Relax the requirement").
		Wrap(fmt.Errorf("selecting: %w", &codedErr{code: CodeVersionNotFound})).
		Build()

	if got := err.Error(); got != "failed to resolve dependencies: @acme/gateway: selecting: coded" {
		t.Errorf("Error() = %q", got)
	}

	short := err.Format(false)
	if !strings.Contains(short, "• Relax the requirement") {
		t.Errorf("Format(false) missing suggestion: %q", short)
	}
	if strings.Contains(short, "Error chain") {
		t.Errorf("Format(false) should not include chain: %q", short)
	}

	long := err.Format(true)
	for _, want := range []string{"Error chain:", "E002", "resolution"} {
		if !strings.Contains(long, want) {
			t.Errorf("Format(true) missing %q: %q", want, long)
		}
	}
}

func TestErrorContext_BuildWithoutOperation(t *testing.T) {
	t.Parallel()

	if NewErrorContext().Wrap(errors.New("x")).BuildError() != nil {
		t.Error("BuildError() without operation should be nil")
	}
}

func TestGuides(t *testing.T) {
	t.Parallel()

	all := Guides()
	if len(all) != 6 {
		t.Fatalf("Guides() returned %d, want 6", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Code() >= all[i].Code() {
			t.Errorf("guides not sorted: %s before %s", all[i-1].Code(), all[i].Code())
		}
	}
	if GuideFor(CodeNone) != nil {
		t.Error("GuideFor(CodeNone) should be nil")
	}
	out, err := GuideFor(CodeCircularDependency).Render("notty")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "Circular dependency") {
		t.Errorf("rendered guide missing title: %q", out)
	}
}
