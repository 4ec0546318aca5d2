// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/internal/issue"
)

func newExplainCommand(app *App) *cobra.Command {
	var style string

	cmd := &cobra.Command{
		Use:   "explain [code]",
		Short: "Explain a result code",
		Long: `Explain a result code.

Without an argument, every code is listed with its title.`,
		Example: `  escpkg explain
  escpkg explain E003`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, g := range issue.Guides() {
					fmt.Fprintf(app.stdout, "%s  %s\n", CmdStyle.Render(g.Code().String()), g.Title())
				}
				return nil
			}

			code := issue.Code(strings.ToUpper(args[0]))
			guide := issue.GuideFor(code)
			if guide == nil {
				cmd.SilenceUsage = true
				if err := code.Validate(); err != nil {
					return err
				}
				return fmt.Errorf("%w: %q has no guide", issue.ErrInvalidCode, code)
			}
			rendered, err := guide.Render(style)
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, rendered)
			return nil
		},
	}

	cmd.Flags().StringVar(&style, "style", "auto", "glamour style: auto, dark, light or notty")

	return cmd
}
