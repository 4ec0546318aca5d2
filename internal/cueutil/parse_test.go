// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

const testSchema = `
#Settings: {
	name:     string & =~"^[a-z]+$"
	workers:  int & >=1
	enabled?: bool
	mode?:    "fast" | "safe"
}
`

type settings struct {
	Name    string `json:"name"`
	Workers int    `json:"workers"`
	Enabled bool   `json:"enabled,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		opts    []Option
		wantErr string
		check   func(t *testing.T, s *settings)
	}{
		{
			name: "valid document",
			data: "name: \"alpha\"\nworkers: 4\nmode: \"safe\"\n",
			check: func(t *testing.T, s *settings) {
				t.Helper()
				if s.Name != "alpha" || s.Workers != 4 || s.Mode != "safe" {
					t.Errorf("unexpected decode: %+v", s)
				}
			},
		},
		{name: "constraint violation", data: "name: \"alpha\"\nworkers: 0\n", wantErr: "workers"},
		{name: "bad enum", data: "name: \"alpha\"\nworkers: 1\nmode: \"turbo\"\n", wantErr: "mode"},
		{name: "missing field", data: "name: \"alpha\"\n", wantErr: "workers"},
		{
			name:    "filename in error",
			data:    "name: \"UPPER\"\nworkers: 1\n",
			opts:    []Option{WithFilename("settings.cue")},
			wantErr: "settings.cue",
		},
		{
			name:    "size limit",
			data:    "name: \"alpha\"\nworkers: 1\n",
			opts:    []Option{WithMaxFileSize(4)},
			wantErr: "exceeds maximum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := ParseAndDecode[settings]([]byte(testSchema), []byte(tt.data), "#Settings", tt.opts...)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, res.Value)
		})
	}
}

func TestParseAndDecode_SizeLimitSentinel(t *testing.T) {
	t.Parallel()
	_, err := ParseAndDecode[settings]([]byte(testSchema), make([]byte, 64), "#Settings", WithMaxFileSize(8))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestValidateValue(t *testing.T) {
	t.Parallel()

	valid := map[string]any{"name": "beta", "workers": int64(2)}
	if err := ValidateValue([]byte(testSchema), "#Settings", valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	invalid := map[string]any{"name": "beta", "workers": int64(2), "mode": "turbo"}
	err := ValidateValue([]byte(testSchema), "#Settings", invalid, WithFilename("manifest.toml"))
	if err == nil {
		t.Fatal("expected violation")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	found := false
	for _, v := range verrs {
		if v.FilePath != "manifest.toml" {
			t.Errorf("violation without file path: %v", v)
		}
		if strings.Contains(v.CUEPath, "mode") {
			found = true
		}
	}
	if !found {
		t.Errorf("no violation names mode: %v", err)
	}
}

func TestValidateValue_UnknownDefinition(t *testing.T) {
	t.Parallel()
	err := ValidateValue([]byte(testSchema), "#Missing", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "internal error") {
		t.Errorf("expected internal error, got %v", err)
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"name"}, "name"},
		{[]string{"cache", "ttl"}, "cache.ttl"},
		{[]string{"provides", "0", "schema"}, "provides[0].schema"},
		{[]string{"0"}, "0"},
		{[]string{"#Config", "cache", "dir"}, "cache.dir"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.path); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestFormatError_NonCUE(t *testing.T) {
	t.Parallel()
	if FormatError(nil, "x.cue") != nil {
		t.Error("nil error should stay nil")
	}
	cause := errors.New("boom")
	err := FormatError(cause, "x.cue")
	if !errors.Is(err, cause) || !strings.HasPrefix(err.Error(), "x.cue: ") {
		t.Errorf("unexpected wrap: %v", err)
	}
}
