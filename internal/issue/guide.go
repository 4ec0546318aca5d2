// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type (
	// MarkdownMsg is Markdown text rendered for the terminal.
	MarkdownMsg string

	// Guide is remediation guidance attached to a result code.
	Guide struct {
		code  Code
		title string
		mdMsg MarkdownMsg
	}
)

// Code returns the result code the guide explains.
func (g *Guide) Code() Code { return g.code }

// Title returns the one-line summary of the guide.
func (g *Guide) Title() string { return g.title }

// MarkdownMsg returns the raw Markdown body.
func (g *Guide) MarkdownMsg() MarkdownMsg { return g.mdMsg }

// Render renders the guide for a terminal using the given glamour style
// ("dark", "light", "notty", ...).
func (g *Guide) Render(style string) (string, error) {
	return render("# "+string(g.code)+" "+g.title+"\n"+string(g.mdMsg), style)
}

var (
	render = glamour.Render

	guides = map[Code]*Guide{
		CodePackageNotFound: {
			code:  CodePackageNotFound,
			title: "Package not found",
			mdMsg: `
No configured registry knows this package name.

- Check the spelling, including the ` + "`@publisher/`" + ` scope.
- Confirm ` + "`registry.dir`" + ` in your config points at the right index.`,
		},
		CodeVersionNotFound: {
			code:  CodeVersionNotFound,
			title: "No matching version",
			mdMsg: `
The package exists but no published, non-yanked version for this platform
satisfies the requirement.

- List versions with ` + "`escpkg resolve --list <name>`" + `.
- Relax the requirement (for example ` + "`^1.0.0`" + ` instead of ` + "`=1.0.3`" + `).`,
		},
		CodeVersionConflict: {
			code:  CodeVersionConflict,
			title: "Version conflict",
			mdMsg: `
Two packages require the same dependency with ranges that do not overlap.
The error lists both requirements and who declared them.

- Upgrade one of the dependents so both ranges overlap.
- Optional dependencies participate in conflict detection too.`,
		},
		CodeCircularDependency: {
			code:  CodeCircularDependency,
			title: "Circular dependency",
			mdMsg: `
The dependency graph contains a cycle. Cycles are always rejected.

- Follow the printed path and remove one of the edges.`,
		},
		CodeSignatureInvalid: {
			code:  CodeSignatureInvalid,
			title: "Signature invalid",
			mdMsg: `
The archive's Merkle root is intact but its signature does not verify, the
signing key is unknown, revoked or expired, or the key belongs to a publisher
that does not own the package name.

- Do not install this package.
- Refresh your keyring if the publisher rotated keys.`,
		},
		CodeChecksumMismatch: {
			code:  CodeChecksumMismatch,
			title: "Checksum mismatch",
			mdMsg: `
A section's content or the ordering of the integrity record changed after
signing, or the archive names a different package or version than requested.

- Do not install this package.
- Clear the cache entry and download it again.`,
		},
	}
)

// GuideFor returns the guidance for a code, or nil for CodeNone and
// unknown codes.
func GuideFor(c Code) *Guide {
	return guides[c]
}

// Guides returns every guide ordered by code.
func Guides() []*Guide {
	out := make([]*Guide, 0, len(guides))
	for _, g := range guides {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b *Guide) int {
		switch {
		case a.code < b.code:
			return -1
		case a.code > b.code:
			return 1
		default:
			return 0
		}
	})
	return out
}
