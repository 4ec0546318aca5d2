// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for escpkg.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the escpkg command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "escpkg",
		Short: "Package integrity and dependency resolution for ESCIR components",
		Long: TitleStyle.Render("escpkg") + SubtitleStyle.Render(" - package integrity and dependency resolution") + `

escpkg builds signed component archives, verifies them against a
trusted keyring and resolves a consistent, cycle-free install plan
from a package registry.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Generate a signing key with: escpkg keygen --publisher acme
  2. Pack and publish a component: escpkg pack ./my-component --publish
  3. Install it elsewhere with: escpkg install @acme/my-component@^1.0.0

` + SubtitleStyle.Render("Examples:") + `
  escpkg inspect app.escx        Show the sections of an archive
  escpkg verify app.escx         Check checksums, Merkle root and signature
  escpkg resolve esc-base@^2     Print the install plan
  escpkg explain E003            Explain a result code
  escpkg config show             Show current configuration`,
		SilenceUsage: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is $HOME/.config/escpkg/config.cue)")

	root.AddCommand(
		newPackCommand(app, flags),
		newInspectCommand(app, flags),
		newVerifyCommand(app, flags),
		newResolveCommand(app, flags),
		newInstallCommand(app, flags),
		newKeygenCommand(app, flags),
		newKeysCommand(app, flags),
		newSearchCommand(app, flags),
		newYankCommand(app, flags),
		newExplainCommand(app),
		newConfigCommand(app, flags),
	)

	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command and exits with the code carried by the
// returned error. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
