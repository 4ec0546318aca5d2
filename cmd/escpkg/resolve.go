// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/manifest"
	"github.com/estream/escpkg/pkg/registry"
	"github.com/estream/escpkg/pkg/resolve"
)

type resolveOptions struct {
	list     bool
	lockPath string
	noLock   bool
	optional bool
}

func newResolveCommand(app *App, flags *globalFlags) *cobra.Command {
	var opts resolveOptions

	cmd := &cobra.Command{
		Use:   "resolve <name[@requirement]>...",
		Short: "Resolve an install plan and write the lock file",
		Long: `Resolve an install plan and write the lock file.

Requirements use npm-style syntax: "^1.2.0", "~1.2", ">=1.0.0 <2.0.0",
"=1.4.1" or "*". A bare name accepts any version. The plan lists
packages in install order, dependencies first.`,
		Example: `  # Resolve two roots and write escpkg.lock
  escpkg resolve @acme/smart-circuit@^1.0.0 esc-base@~2.3

  # List the installable versions of a package
  escpkg resolve --list esc-fpga`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, app, flags, func(ctx context.Context, s *session) error {
				if opts.list {
					return runListVersions(ctx, s, args)
				}
				return runResolve(ctx, s, args, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.list, "list", false, "list published versions instead of resolving")
	cmd.Flags().StringVar(&opts.lockPath, "lock", resolve.LockFileName, "lock file to write")
	cmd.Flags().BoolVar(&opts.noLock, "no-lock", false, "do not write the lock file")
	cmd.Flags().BoolVar(&opts.optional, "optional", false, "include optional dependencies")

	return cmd
}

// parseRequirements parses command line requirements.
func parseRequirements(args []string) ([]resolve.Requirement, error) {
	roots := make([]resolve.Requirement, 0, len(args))
	for _, arg := range args {
		r, err := resolve.ParseRequirement(arg)
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("parse requirement").
				WithResource(arg).
				WithSuggestion(`Use name@requirement, for example esc-base@^2.0.0 or "@acme/app@>=1.0.0 <2.0.0"`).
				Wrap(err).
				BuildError()
		}
		roots = append(roots, r)
	}
	return roots, nil
}

func runResolve(ctx context.Context, s *session, args []string, opts resolveOptions) error {
	roots, err := parseRequirements(args)
	if err != nil {
		return err
	}
	reg, err := s.registry()
	if err != nil {
		return err
	}

	plan, err := s.resolver(reg, opts.optional).Resolve(ctx, roots)
	if err != nil {
		return issue.WrapWithOperation(err, "resolve dependencies")
	}
	writePlan(s, plan)

	if opts.noLock {
		return nil
	}
	if err := plan.Lock().Save(opts.lockPath); err != nil {
		return err
	}
	fmt.Fprintf(s.app.stdout, "\n%s %s\n", SuccessStyle.Render("✓ wrote"), opts.lockPath)
	return nil
}

// writePlan prints the plan in install order followed by any optional
// packages that could not be satisfied.
func writePlan(s *session, plan *resolve.Plan) {
	w := s.app.stdout
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Install plan (%d packages)", len(plan.Nodes))))
	for i, n := range plan.Nodes {
		fmt.Fprintf(w, "%3d. %s %s\n", i+1, CmdStyle.Render(n.ID()), SubtitleStyle.Render(string(n.Category())))
		if len(n.Requires) > 0 {
			fmt.Fprintf(w, "     %s\n", VerboseStyle.Render("requires "+strings.Join(n.Requires, ", ")))
		}
	}
	for _, name := range plan.UnresolvedNames() {
		constraints := make([]string, len(plan.Unresolved[name]))
		for i, c := range plan.Unresolved[name] {
			constraints[i] = c.String()
		}
		fmt.Fprintf(w, "%s %s: %s\n", WarningStyle.Render("! skipped optional"), name, strings.Join(constraints, "; "))
	}
}

func runListVersions(ctx context.Context, s *session, names []string) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	target := s.cfg.TargetPlatform()

	w := s.app.stdout
	for _, name := range names {
		releases, err := reg.List(ctx, name)
		if err != nil {
			return issue.WrapWithOperation(err, "list versions")
		}
		available := registry.Available(releases, target)
		fmt.Fprintf(w, "%s %s\n", TitleStyle.Render(name), SubtitleStyle.Render(fmt.Sprintf("(%d installable on %s)", len(available), target)))
		for _, r := range releases {
			fmt.Fprintf(w, "  %s%s\n", r.Version, releaseNote(r, target))
		}
	}
	return nil
}

// releaseNote explains why a release is not installable, if it is not.
func releaseNote(r registry.Release, target string) string {
	switch {
	case r.Yanked:
		return " " + WarningStyle.Render("(yanked)")
	case !manifest.PlatformMatch(r.Platforms, target):
		return " " + VerboseStyle.Render("(platforms: "+strings.Join(r.Platforms, ", ")+")")
	case r.Version.IsPrerelease():
		return " " + VerboseStyle.Render("(pre-release)")
	default:
		return ""
	}
}
