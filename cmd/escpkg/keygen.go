// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/pkg/integrity"
)

type keygenOptions struct {
	algorithm string
	id        string
	name      string
	email     string
	publisher string
	out       string
	expires   time.Duration
}

func newKeygenCommand(app *App, flags *globalFlags) *cobra.Command {
	var opts keygenOptions

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key and trust its public half",
		Long: `Generate a signing key and trust its public half.

The private key is written with mode 0600, next to the keyring in
keys/<key-id>.key unless --out is given. The public key is added to
the keyring so archives signed with it verify locally.`,
		Example: `  escpkg keygen --publisher acme
  escpkg keygen --algorithm openpgp --name "Acme Releases" --email releases@acme.dev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, app, flags, func(_ context.Context, s *session) error {
				return runKeygen(s, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.algorithm, "algorithm", integrity.AlgorithmEd25519, "key algorithm: ed25519 or openpgp")
	cmd.Flags().StringVar(&opts.id, "id", "", "ed25519 key id (default: derived from the public key)")
	cmd.Flags().StringVar(&opts.name, "name", "escpkg publisher", "openpgp user id name")
	cmd.Flags().StringVar(&opts.email, "email", "", "openpgp user id email")
	cmd.Flags().StringVar(&opts.publisher, "publisher", "", "publisher recorded with the public key")
	cmd.Flags().StringVar(&opts.out, "out", "", "private key file (default: <keyring dir>/keys/<key-id>.key)")
	cmd.Flags().DurationVar(&opts.expires, "expires", 0, "key lifetime, for example 8760h (0 never expires)")

	return cmd
}

func runKeygen(s *session, opts keygenOptions) error {
	kr, krPath, err := s.keyring()
	if err != nil {
		return err
	}

	var (
		signer integrity.Signer
		pub    integrity.PublicKey
	)
	switch opts.algorithm {
	case integrity.AlgorithmEd25519:
		signer, pub, err = integrity.GenerateEd25519(opts.id, s.app.rand)
	case integrity.AlgorithmOpenPGP:
		var pgp *integrity.OpenPGPSigner
		if pgp, err = integrity.GenerateOpenPGP(opts.name, opts.email); err == nil {
			signer = pgp
			pub, err = pgp.PublicKey()
		}
	default:
		err = fmt.Errorf("%w: unsupported algorithm %q", integrity.ErrInvalidSigningKey, opts.algorithm)
	}
	if err != nil {
		return err
	}
	if _, err := kr.Lookup(pub.ID); err == nil {
		return fmt.Errorf("key %s is already in %s", pub.ID, krPath)
	}

	out := opts.out
	if out == "" {
		out = filepath.Join(filepath.Dir(krPath), "keys", pub.ID+".key")
	}
	if err := integrity.SaveSigningKey(out, signer); err != nil {
		return err
	}

	pub.Publisher = opts.publisher
	if opts.expires > 0 {
		pub.ExpiresAt = s.app.now().Add(opts.expires).UTC().Truncate(time.Second)
	}
	kr.Add(pub)
	if err := kr.Save(krPath); err != nil {
		return err
	}
	s.logger.Debug("generated key", "id", pub.ID, "algorithm", pub.Algorithm)

	w := s.app.stdout
	fmt.Fprintf(w, "%s %s key %s\n", SuccessStyle.Render("✓"), pub.Algorithm, CmdStyle.Render(pub.ID))
	fmt.Fprintf(w, "  %s %s\n", VerboseStyle.Render("private key:"), out)
	fmt.Fprintf(w, "  %s %s\n", VerboseStyle.Render("keyring:    "), krPath)
	return nil
}
