// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"runtime"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{Any, true},
		{"linux/amd64", true},
		{"darwin/arm64", true},
		{"linux/mips64le", true},
		{"linux", false},
		{"linux/", false},
		{"/amd64", false},
		{"Linux/amd64", false},
		{"linux/amd64/v3", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.in)
			if (err == nil) != tt.want {
				t.Fatalf("Validate(%q) = %v", tt.in, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidPlatform) {
				t.Errorf("error should wrap ErrInvalidPlatform: %v", err)
			}
		})
	}
}

func TestCurrent(t *testing.T) {
	t.Parallel()
	if got := Current(); got != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Current() = %q", got)
	}
	if err := Validate(Current()); err != nil {
		t.Errorf("Current() does not validate: %v", err)
	}
}
