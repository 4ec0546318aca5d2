// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/registry"
	"github.com/estream/escpkg/pkg/semver"
)

func newSearchCommand(app *App, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search the registry by package name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query string
			if len(args) > 0 {
				query = args[0]
			}
			return withSession(cmd, app, flags, func(ctx context.Context, s *session) error {
				return runSearch(ctx, s, query)
			})
		},
	}
}

func runSearch(ctx context.Context, s *session, query string) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	names, err := reg.Search(ctx, query)
	if err != nil {
		return issue.WrapWithOperation(err, "search registry")
	}

	w := s.app.stdout
	if len(names) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("No packages match "+fmt.Sprintf("%q", query)))
		return nil
	}
	target := s.cfg.TargetPlatform()
	for _, name := range names {
		releases, err := reg.List(ctx, name)
		if err != nil {
			return issue.WrapWithOperation(err, "search registry")
		}
		versions := semver.SortDescending(registry.Available(releases, target))
		latest := SubtitleStyle.Render("(no installable release)")
		if len(versions) > 0 {
			latest = versions[0].String()
		}
		fmt.Fprintf(w, "%-40s %s\n", CmdStyle.Render(name), latest)
	}
	s.logger.Debug("search", "query", strings.TrimSpace(query), "matches", len(names))
	return nil
}
