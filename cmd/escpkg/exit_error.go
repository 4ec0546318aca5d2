// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/internal/issue"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// withSession loads a session for cmd and runs fn. A failure is rendered to
// stderr and returned as an *ExitError carrying the classified exit code.
func withSession(cmd *cobra.Command, app *App, flags *globalFlags, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := app.newSession(ctx, flags)
	if err == nil {
		err = fn(ctx, s)
	}
	if err == nil {
		return nil
	}

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return &ExitError{Code: renderError(app.stderr, err, flags.verbose), Err: err}
}

// renderError writes err with a pointer to its guide and returns the exit
// code for it.
func renderError(w io.Writer, err error, verbose bool) int {
	category, code := issue.Classify(err)
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
	if code != issue.CodeNone {
		fmt.Fprintln(w, SubtitleStyle.Render("Run ")+CmdStyle.Render("escpkg explain "+code.String())+SubtitleStyle.Render(" for guidance."))
	}
	if category.Retryable() {
		fmt.Fprintln(w, WarningStyle.Render("The failure is transient; retrying may succeed."))
	}
	return code.ExitCode()
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
