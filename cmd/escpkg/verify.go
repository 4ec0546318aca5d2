// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/pkg/integrity"
)

func newVerifyCommand(app *App, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <archive>...",
		Short: "Verify archives against the trusted keyring",
		Long: `Verify archives against the trusted keyring.

Each archive is checked in three stages: every committed path hash,
the Merkle root over those hashes and finally the publisher signature
over the root. The first failing stage is reported.`,
		Example: `  escpkg verify smart-circuit-1.0.0.escx
  escpkg verify dist/*.escx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, app, flags, func(ctx context.Context, s *session) error {
				return runVerify(ctx, s, args)
			})
		},
	}
}

func runVerify(ctx context.Context, s *session, paths []string) error {
	kr, _, err := s.keyring()
	if err != nil {
		return err
	}

	w := s.app.stdout
	var errs []error
	items := make([]integrity.Item, 0, len(paths))
	for _, path := range paths {
		a, err := readArchiveFile(path)
		if err == nil {
			var rec *integrity.Record
			if rec, err = integrity.RecordFromArchive(a); err == nil {
				items = append(items, integrity.Item{Name: path, Archive: a, Record: rec})
				continue
			}
		}
		fmt.Fprintf(w, "%s %s: %v\n", crossStyle.Render("✗"), path, err)
		errs = append(errs, fmt.Errorf("%s: %w", path, err))
	}

	outcomes, err := integrity.VerifyAll(ctx, items, kr, s.cfg.Resolve.Concurrency, integrity.WithClock(s.app.now))
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(w, "%s %s: %v\n", crossStyle.Render("✗"), o.Name, o.Err)
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, o.Err))
		case integrity.IsValid(o.Result):
			fmt.Fprintf(w, "%s %s %s\n", checkStyle.Render("✓"), o.Name, SubtitleStyle.Render(o.Result.String()))
		default:
			fmt.Fprintf(w, "%s %s: %s %s\n", crossStyle.Render("✗"), o.Name, o.Result, VerboseStyle.Render("("+o.Result.Stage().String()+")"))
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, integrity.Err(o.Result)))
		}
	}
	s.logger.Debug("verified archives", "count", len(paths), "failed", len(errs))
	return errors.Join(errs...)
}
