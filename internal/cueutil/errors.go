// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrFileTooLarge is returned when a document exceeds the configured size limit.
var ErrFileTooLarge = errors.New("file exceeds maximum size")

// ValidationError is one schema violation at a JSON-path location.
type ValidationError struct {
	FilePath string
	CUEPath  string
	Message  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.CUEPath != "" {
		return fmt.Sprintf("%s: %s: %s", e.FilePath, e.CUEPath, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// ValidationErrors is the set of violations reported by ValidateValue.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	lines := make([]string, len(e))
	for i, v := range e {
		lines[i] = v.Error()
	}
	return strings.Join(lines, "; ")
}

// Violations flattens a CUE error into one ValidationError per underlying
// error. Non-CUE errors yield a single entry without a path.
func Violations(err error, filePath string) []*ValidationError {
	if err == nil {
		return nil
	}
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return []*ValidationError{{FilePath: filePath, Message: err.Error()}}
	}

	out := make([]*ValidationError, 0, len(list))
	for _, e := range list {
		path := formatPath(cueerrors.Path(e))
		msg := e.Error()
		// CUE repeats the path at the start of some messages.
		if path != "" {
			if rest, ok := strings.CutPrefix(msg, path); ok {
				msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			}
		}
		out = append(out, &ValidationError{FilePath: filePath, CUEPath: path, Message: msg})
	}
	return out
}

// FormatError renders a CUE error as "<file>: <path>: <message>", one line
// per violation.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}
	if len(cueerrors.Errors(err)) == 0 {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	vs := Violations(err, filePath)
	if len(vs) == 1 {
		return vs[0]
	}

	lines := make([]string, 0, len(vs))
	for _, v := range vs {
		if v.CUEPath != "" {
			lines = append(lines, v.CUEPath+": "+v.Message)
		} else {
			lines = append(lines, v.Message)
		}
	}
	return fmt.Errorf("%s: validation failed:\n  %s", filePath, strings.Join(lines, "\n  "))
}

// formatPath turns ["deps", "0", "name"] into "deps[0].name". A leading
// definition label such as "#Config" is dropped.
func formatPath(path []string) string {
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	var b strings.Builder
	for i, part := range path {
		if i > 0 && isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize rejects data larger than maxSize.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: %d bytes: %w (%d bytes)", filename, len(data), ErrFileTooLarge, maxSize)
	}
	return nil
}
