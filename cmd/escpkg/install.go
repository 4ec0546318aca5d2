// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/install"
	"github.com/estream/escpkg/pkg/resolve"
)

// ErrLockedChecksum is the sentinel error wrapped by LockedChecksumError.
var ErrLockedChecksum = errors.New("archive does not match locked checksum")

type (
	installOptions struct {
		lockPath string
		noLock   bool
		locked   bool
		force    bool
		optional bool
	}

	// LockedChecksumError is returned by a locked install when a fetched
	// archive differs from the checksum recorded in the lock file.
	LockedChecksumError struct {
		Package string
		Locked  string
		Actual  string
	}
)

// Error implements the error interface.
func (e *LockedChecksumError) Error() string {
	return fmt.Sprintf("%s: archive checksum %s does not match locked %s", e.Package, e.Actual, e.Locked)
}

// Unwrap returns ErrLockedChecksum for errors.Is() compatibility.
func (e *LockedChecksumError) Unwrap() error { return ErrLockedChecksum }

// Code returns the checksum mismatch result code.
func (e *LockedChecksumError) Code() issue.Code { return issue.CodeChecksumMismatch }

func newInstallCommand(app *App, flags *globalFlags) *cobra.Command {
	var opts installOptions

	cmd := &cobra.Command{
		Use:   "install [name[@requirement]]...",
		Short: "Resolve, verify and install packages",
		Long: `Resolve, verify and install packages.

Every archive in the plan is fetched (or taken from the cache) and
verified before anything is extracted. A single failure aborts the
whole plan and removes anything extracted by this run.

With --locked the versions pinned in the lock file are installed and
each fetched archive must match its locked checksum.`,
		Example: `  escpkg install @acme/smart-circuit@^1.0.0
  escpkg install --locked
  escpkg install esc-base --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !opts.locked {
				return errors.New("requires at least 1 requirement, or --locked")
			}
			return withSession(cmd, app, flags, func(ctx context.Context, s *session) error {
				return runInstall(ctx, s, args, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.lockPath, "lock", resolve.LockFileName, "lock file to read and write")
	cmd.Flags().BoolVar(&opts.noLock, "no-lock", false, "do not write the lock file")
	cmd.Flags().BoolVar(&opts.locked, "locked", false, "install exactly the versions pinned in the lock file")
	cmd.Flags().BoolVar(&opts.force, "force", false, "refetch archives and replace installed versions")
	cmd.Flags().BoolVar(&opts.optional, "optional", false, "include optional dependencies")

	return cmd
}

func runInstall(ctx context.Context, s *session, args []string, opts installOptions) error {
	roots, err := parseRequirements(args)
	if err != nil {
		return err
	}
	var lock *resolve.LockFile
	if opts.locked {
		if lock, err = resolve.LoadLockFile(opts.lockPath); err != nil {
			return err
		}
		if len(lock.Packages) == 0 {
			return issue.NewErrorContext().
				WithOperation("install locked packages").
				WithResource(opts.lockPath).
				WithSuggestion("Run 'escpkg resolve' first to write a lock file").
				Wrap(errors.New("lock file pins no packages")).
				BuildError()
		}
		roots = append(roots, lock.Pinned()...)
	}

	reg, err := s.registry()
	if err != nil {
		return err
	}
	kr, _, err := s.keyring()
	if err != nil {
		return err
	}
	plan, err := s.resolver(reg, opts.optional).Resolve(ctx, roots)
	if err != nil {
		return issue.WrapWithOperation(err, "resolve dependencies")
	}
	orch, err := s.orchestrator(kr, opts.force)
	if err != nil {
		return err
	}

	fetch := install.FetchFunc(reg.Fetch)
	if lock != nil {
		fetch = lockedFetch(fetch, lock)
	}
	report, err := orch.Install(ctx, plan, fetch)
	if err != nil {
		return issue.WrapWithOperation(err, "install packages")
	}
	writeReport(s, report)

	if opts.noLock {
		return nil
	}
	out := plan.Lock()
	for _, p := range report.Installed {
		out.SetChecksum(p.Name, p.Checksum)
	}
	return out.Save(opts.lockPath)
}

// lockedFetch wraps fetch so that archives of locked packages must match
// their recorded checksum.
func lockedFetch(fetch install.FetchFunc, lock *resolve.LockFile) install.FetchFunc {
	return func(ctx context.Context, name, version string) ([]byte, error) {
		data, err := fetch(ctx, name, version)
		if err != nil {
			return nil, err
		}
		locked, ok := lock.Packages[name]
		if !ok || locked.Version != version || locked.Checksum == "" {
			return data, nil
		}
		if sum := install.Checksum(data); sum != locked.Checksum {
			return nil, &LockedChecksumError{Package: name + "@" + version, Locked: locked.Checksum, Actual: sum}
		}
		return data, nil
	}
}

func writeReport(s *session, report *install.Report) {
	w := s.app.stdout
	for _, p := range report.Installed {
		var note string
		switch {
		case p.Existing:
			note = " (already installed)"
		case p.CacheHit:
			note = " (cached)"
		}
		fmt.Fprintf(w, "%s %s %s%s\n", SuccessStyle.Render("✓"), CmdStyle.Render(p.Name+"@"+p.Version), SubtitleStyle.Render("→ "+p.Path), VerboseStyle.Render(note))
	}
	fmt.Fprintf(w, "\n%s\n", SuccessStyle.Render(fmt.Sprintf("Installed %d packages in %s", len(report.Installed), report.Duration.Round(time.Millisecond))))
}
