// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeysCommand(app *App, flags *globalFlags) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the trusted keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	keysCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List trusted keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, app, flags, func(_ context.Context, s *session) error {
				return listKeys(s)
			})
		},
	})

	keysCmd.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key; archives signed with it no longer verify",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, app, flags, func(_ context.Context, s *session) error {
				return revokeKey(s, args[0])
			})
		},
	})

	return keysCmd
}

func listKeys(s *session) error {
	kr, krPath, err := s.keyring()
	if err != nil {
		return err
	}

	w := s.app.stdout
	keys := kr.Keys()
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Trusted keys (%d)", len(keys)))+" "+SubtitleStyle.Render(krPath))
	now := s.app.now()
	for _, k := range keys {
		var state string
		switch {
		case k.Revoked:
			state = crossStyle.Render("revoked")
		case k.Expired(now):
			state = WarningStyle.Render("expired " + k.ExpiresAt.Format("2006-01-02"))
		case !k.ExpiresAt.IsZero():
			state = SuccessStyle.Render("valid until " + k.ExpiresAt.Format("2006-01-02"))
		default:
			state = SuccessStyle.Render("valid")
		}
		publisher := k.Publisher
		if publisher == "" {
			publisher = "-"
		}
		fmt.Fprintf(w, "  %-18s %-8s %-12s %s\n", k.ID, k.Algorithm, publisher, state)
	}
	return nil
}

func revokeKey(s *session, id string) error {
	kr, krPath, err := s.keyring()
	if err != nil {
		return err
	}
	if err := kr.Revoke(id); err != nil {
		return err
	}
	if err := kr.Save(krPath); err != nil {
		return err
	}
	fmt.Fprintf(s.app.stdout, "%s revoked %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(id))
	return nil
}
