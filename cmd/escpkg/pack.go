// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/estream/escpkg/internal/fsutil"
	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/archive"
	"github.com/estream/escpkg/pkg/integrity"
	"github.com/estream/escpkg/pkg/manifest"
)

// errInvalidManifest is returned when a manifest has validation issues.
var errInvalidManifest = errors.New("manifest has validation issues")

type packOptions struct {
	key         string
	output      string
	compression string
	publisher   string
	publish     bool
}

func newPackCommand(app *App, flags *globalFlags) *cobra.Command {
	var opts packOptions

	cmd := &cobra.Command{
		Use:   "pack <dir>",
		Short: "Build and sign an archive from a component directory",
		Long: `Build and sign an archive from a component directory.

The directory layout mirrors the archive sections:

  manifest.toml   package manifest (required)
  LICENSE         license text (required)
  payload/        component files, stored as a tarball
  schema/         optional schema files, stored as a tarball
  docs/           optional documentation, stored as a tarball
  bitstream       optional FPGA bitstream

The manifest is validated before anything is written. The archive is
sealed with the signing key given by --key.`,
		Example: `  # Pack and sign with an ed25519 key
  escpkg pack ./smart-circuit --key ~/.config/escpkg/acme.key

  # Pack without compression and publish to the configured registry
  escpkg pack ./smart-circuit --key acme.key --compression none --publish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, app, flags, func(ctx context.Context, s *session) error {
				return runPack(ctx, s, args[0], opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.key, "key", "", "signing key file written by 'escpkg keygen' (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "archive path (default: <name>-<version>.escx)")
	cmd.Flags().StringVar(&opts.compression, "compression", "zstd", "section compression: none, zstd or lz4")
	cmd.Flags().StringVar(&opts.publisher, "publisher", "", "publisher identity checked against reserved name prefixes")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "publish the archive to the configured registry")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runPack(ctx context.Context, s *session, dir string, opts packOptions) error {
	compression, err := archive.ParseCompression(opts.compression)
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(dir, manifest.FileName)
	manifestData, err := os.ReadFile(manifestPath)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("read manifest").
			WithResource(manifestPath).
			WithSuggestion("Every component directory needs a " + manifest.FileName).
			Wrap(err).
			BuildError()
	}
	m, err := manifest.Parse(manifestData)
	if err != nil {
		return issue.WrapWithOperation(err, "parse manifest")
	}
	if issues := manifest.NewValidator(opts.publisher).Validate(m); len(issues) > 0 {
		for _, i := range issues {
			fmt.Fprintln(s.app.stderr, WarningStyle.Render("  • ")+i.String())
		}
		return fmt.Errorf("%w: %d in %s", errInvalidManifest, len(issues), m.ID())
	}

	licensePath := filepath.Join(dir, archive.TypeLicense.Path())
	license, err := os.ReadFile(licensePath)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("read license").
			WithResource(licensePath).
			WithSuggestion("Add a LICENSE file matching the manifest's license field").
			Wrap(err).
			BuildError()
	}

	a, err := archive.NewBuilder(1, 0).
		Add(archive.TypeManifest, manifestData, compression).
		Add(archive.TypeLicense, license, compression).
		Archive()
	if err != nil {
		return err
	}
	if err := addDirSections(a, dir, compression); err != nil {
		return err
	}
	bitstream, err := os.ReadFile(filepath.Join(dir, archive.TypeBitstream.Path()))
	switch {
	case err == nil:
		a.SetSection(archive.NewSection(archive.TypeBitstream, bitstream, compression))
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read bitstream: %w", err)
	}

	signer, err := integrity.LoadSigner(opts.key)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("load signing key").
			WithResource(opts.key).
			WithSuggestion("Generate a key with 'escpkg keygen'").
			Wrap(err).
			BuildError()
	}
	rec, err := integrity.SealArchive(a, signer, s.app.now())
	if err != nil {
		return err
	}
	data, err := archive.Write(a)
	if err != nil {
		return err
	}

	out := opts.output
	if out == "" {
		out = archiveFileName(m)
	}
	if err := fsutil.WriteFileAtomic(out, data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	s.logger.Debug("sealed archive", "package", m.ID(), "root", rec.MerkleRoot.Short(), "entries", len(rec.Entries))

	w := s.app.stdout
	fmt.Fprintf(w, "%s %s %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(m.ID()), SubtitleStyle.Render("→ "+out))
	fmt.Fprintf(w, "  %s %s\n", VerboseStyle.Render("merkle root:"), rec.MerkleRoot)
	fmt.Fprintf(w, "  %s %s (%s)\n", VerboseStyle.Render("signed by:  "), rec.KeyID, rec.Algorithm)

	if opts.publish {
		reg, err := s.registry()
		if err != nil {
			return err
		}
		if _, err := reg.Publish(ctx, data); err != nil {
			return issue.WrapWithOperation(err, "publish "+m.ID())
		}
		fmt.Fprintf(w, "%s published to %s\n", SuccessStyle.Render("✓"), reg.Dir())
	}
	return nil
}

// addDirSections packs the tarball section directories that exist in dir.
func addDirSections(a *archive.Archive, dir string, c archive.Compression) error {
	for _, t := range []archive.SectionType{archive.TypePayload, archive.TypeSchema, archive.TypeDocs} {
		sub := filepath.Join(dir, t.Path())
		info, err := os.Stat(sub)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", sub, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s: expected a directory for the %s section", sub, t.Name())
		}
		tarData, err := archive.PackDir(sub)
		if err != nil {
			return fmt.Errorf("pack %s: %w", sub, err)
		}
		section, err := archive.NewTarballSection(t, tarData, c)
		if err != nil {
			return err
		}
		a.SetSection(section)
	}
	return nil
}

// archiveFileName derives "<name>-<version>.escx" with scope markers
// flattened: "@acme/app" becomes "acme-app".
func archiveFileName(m *manifest.Manifest) string {
	name := strings.NewReplacer("@", "", "/", "-").Replace(m.Name)
	return name + "-" + m.Version + archive.Extension
}
