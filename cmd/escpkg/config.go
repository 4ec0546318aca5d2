// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/internal/config"
)

// newConfigCommand creates the `escpkg config` command tree.
// Subcommands that read configuration use the App's ConfigProvider.
func newConfigCommand(app *App, flags *globalFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage escpkg configuration",
		Long: `Manage escpkg configuration.

Configuration is stored in:
  - Linux: ~/.config/escpkg/config.cue
  - macOS: ~/Library/Application Support/escpkg/config.cue
  - Windows: %APPDATA%\escpkg\config.cue

Every key can be overridden with an ESCPKG_ environment variable,
for example ESCPKG_REGISTRY_DIR or ESCPKG_CACHE_TTL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, app, flags, func(_ context.Context, s *session) error {
				return showConfig(s)
			})
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			path, err := config.CreateDefaultConfig(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("✓ config:"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.ConfigFile(flags.loadOptions())
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("(no config file, using defaults)"))
				return nil
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, app, flags, func(_ context.Context, s *session) error {
				fmt.Fprint(app.stdout, config.GenerateCUE(s.cfg))
				return nil
			})
		},
	})

	return cfgCmd
}

func showConfig(s *session) error {
	w := s.app.stdout
	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	path, err := config.ConfigFile(s.flags.loadOptions())
	if err != nil || path == "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), path)
	}
	fmt.Fprintln(w)

	resolved := func(get func() (string, error)) string {
		v, err := get()
		if err != nil {
			return WarningStyle.Render(err.Error())
		}
		return valueStyle.Render(v)
	}
	registryDir := SubtitleStyle.Render("(not set)")
	if s.cfg.Registry.Dir != "" {
		registryDir = valueStyle.Render(s.cfg.Registry.Dir.String())
	}

	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("registry.dir"), registryDir)
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("cache.dir"), resolved(s.cfg.CacheDir))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("cache.ttl"), valueStyle.Render(s.cfg.Cache.TTL.String()))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("install.root"), resolved(s.cfg.InstallRoot))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("keyring"), resolved(s.cfg.KeyringPath))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("resolve.platform"), valueStyle.Render(s.cfg.TargetPlatform()))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("resolve.concurrency"), valueStyle.Render(fmt.Sprint(s.cfg.Resolve.Concurrency)))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("resolve.include_optional"), valueStyle.Render(fmt.Sprint(s.cfg.Resolve.IncludeOptional)))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("fetch.timeout"), valueStyle.Render(s.cfg.Fetch.Timeout.String()))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("log_level"), valueStyle.Render(s.cfg.LogLevel.String()))
	return nil
}
