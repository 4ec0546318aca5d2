// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/archive"
	"github.com/estream/escpkg/pkg/integrity"
	"github.com/estream/escpkg/pkg/manifest"
)

type inspectOptions struct {
	markdown bool
	width    int
}

func newInspectCommand(app *App, flags *globalFlags) *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Show the header, sections and signature record of an archive",
		Long: `Show the header, sections and signature record of an archive.

Inspect only decodes the container; it does not check signatures.
Use 'escpkg verify' for that.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, app, flags, func(_ context.Context, s *session) error {
				return runInspect(s, args[0], opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.markdown, "markdown", false, "render a markdown report")
	cmd.Flags().IntVar(&opts.width, "width", 80, "word wrap width for --markdown (0 disables wrapping)")

	return cmd
}

func runInspect(s *session, path string, opts inspectOptions) error {
	a, err := readArchiveFile(path)
	if err != nil {
		return err
	}

	if !opts.markdown {
		writeInspectPlain(s, path, a)
		return nil
	}
	rendered, err := renderMarkdown(inspectMarkdown(path, a), opts.width)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	fmt.Fprint(s.app.stdout, rendered)
	return nil
}

// readArchiveFile reads and decodes an archive from disk.
func readArchiveFile(path string) (*archive.Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("read archive").
			WithResource(path).
			Wrap(err).
			BuildError()
	}
	a, err := archive.Read(data)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("decode archive").
			WithResource(path).
			WithSuggestion("The file is truncated or not an escpkg archive; fetch it again").
			Wrap(err).
			BuildError()
	}
	return a, nil
}

func writeInspectPlain(s *session, path string, a *archive.Archive) {
	w := s.app.stdout
	fmt.Fprintln(w, TitleStyle.Render(path))
	fmt.Fprintf(w, "%s %d.%d\n", VerboseStyle.Render("content version:"), a.Major, a.Minor)
	if m, err := archiveManifest(a); err == nil {
		fmt.Fprintf(w, "%s %s (%s)\n", VerboseStyle.Render("package:        "), CmdStyle.Render(m.ID()), m.Category)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("%-10s %-6s %-8s %10s %10s  %s", "SECTION", "CODEC", "FLAGS", "STORED", "SIZE", "CHECKSUM")))
	for _, sec := range a.Sections {
		fmt.Fprintf(w, "%-10s %-6s %-8s %10d %10d  %x\n",
			sec.Type.Name(), sec.Compression, sectionFlags(sec), sec.StoredSize, sec.Size, sec.Checksum[:8])
	}

	rec, err := integrity.RecordFromArchive(a)
	if err != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, WarningStyle.Render("integrity record: "+err.Error()))
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s (%s)\n", VerboseStyle.Render("signed by:  "), rec.KeyID, rec.Algorithm)
	fmt.Fprintf(w, "%s %s\n", VerboseStyle.Render("signed at:  "), rec.SignedAt.UTC().Format("2006-01-02 15:04:05Z"))
	fmt.Fprintf(w, "%s %s\n", VerboseStyle.Render("merkle root:"), rec.MerkleRoot)
	fmt.Fprintf(w, "%s %d\n", VerboseStyle.Render("entries:    "), len(rec.Entries))
}

// inspectMarkdown builds the markdown report for --markdown.
func inspectMarkdown(path string, a *archive.Archive) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", path)
	if m, err := archiveManifest(a); err == nil {
		fmt.Fprintf(&b, "**Package:** `%s`  \n**Category:** %s  \n**License:** %s\n\n", m.ID(), m.Category, m.License)
		if names := m.DependencyNames(); len(names) > 0 {
			b.WriteString("## Dependencies\n\n")
			for _, name := range names {
				dep := m.Dependencies[name]
				opt := ""
				if dep.Optional {
					opt = " (optional)"
				}
				fmt.Fprintf(&b, "- `%s` %s%s\n", name, dep.Requirement, opt)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Sections\n\n| Section | Codec | Flags | Stored | Size |\n|---|---|---|---:|---:|\n")
	for _, sec := range a.Sections {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d |\n", sec.Type.Name(), sec.Compression, sectionFlags(sec), sec.StoredSize, sec.Size)
	}

	if rec, err := integrity.RecordFromArchive(a); err == nil {
		b.WriteString("\n## Integrity\n\n")
		fmt.Fprintf(&b, "- Key: `%s` (%s)\n- Signed at: %s\n- Merkle root: `%s`\n\n",
			rec.KeyID, rec.Algorithm, rec.SignedAt.UTC().Format("2006-01-02 15:04:05Z"), rec.MerkleRoot)
		b.WriteString("| Path | Hash |\n|---|---|\n")
		for _, e := range rec.Entries {
			fmt.Fprintf(&b, "| `%s` | `%s` |\n", e.Path, e.Hash.Short())
		}
	}
	return b.String()
}

func archiveManifest(a *archive.Archive) (*manifest.Manifest, error) {
	data, err := a.Content(archive.TypeManifest)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

func sectionFlags(sec *archive.Section) string {
	if sec.IsTarball() {
		return "tarball"
	}
	return "-"
}

// renderMarkdown renders content for the terminal using glamour.
func renderMarkdown(content string, width int) (string, error) {
	rendererOpts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		rendererOpts = append(rendererOpts, glamour.WithWordWrap(width))
	}

	renderer, err := glamour.NewTermRenderer(rendererOpts...)
	if err != nil {
		return "", err
	}
	return renderer.Render(content)
}
