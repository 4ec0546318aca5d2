// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/semver"
)

func newYankCommand(app *App, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "yank <name@version>",
		Short: "Withdraw a published release from resolution",
		Long: `Withdraw a published release from resolution.

A yanked release stays fetchable for existing lock files but is never
selected by a new resolution.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, app, flags, func(ctx context.Context, s *session) error {
				return runYank(ctx, s, args[0])
			})
		},
	}
}

func runYank(ctx context.Context, s *session, arg string) error {
	i := strings.LastIndex(arg, "@")
	if i <= 0 || !semver.IsValid(arg[i+1:]) {
		return issue.NewErrorContext().
			WithOperation("yank release").
			WithResource(arg).
			WithSuggestion("Name an exact release, for example esc-base@2.3.1").
			Wrap(fmt.Errorf("%q is not name@version", arg)).
			BuildError()
	}
	name, version := arg[:i], arg[i+1:]

	reg, err := s.registry()
	if err != nil {
		return err
	}
	if err := reg.Yank(ctx, name, version); err != nil {
		return issue.WrapWithOperation(err, "yank release")
	}
	fmt.Fprintf(s.app.stdout, "%s yanked %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(name+"@"+version))
	return nil
}
