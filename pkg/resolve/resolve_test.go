// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/estream/escpkg/internal/dag"
	"github.com/estream/escpkg/internal/issue"
	"github.com/estream/escpkg/pkg/manifest"
	"github.com/estream/escpkg/pkg/registry"
	"github.com/estream/escpkg/pkg/semver"
)

// pkg describes one release: "name@version" plus dependencies. An
// optional dependency's requirement is prefixed with "?".
type pkg struct {
	id        string
	deps      map[string]string
	platforms []string
	yanked    bool
}

func newRegistry(t *testing.T, pkgs ...pkg) *registry.MemoryRegistry {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	for _, p := range pkgs {
		name, version, _ := strings.Cut(p.id, "@")
		var b strings.Builder
		fmt.Fprintf(&b, "name = %q\nversion = %q\ncategory = \"library\"\n", name, version)
		if len(p.platforms) > 0 {
			fmt.Fprintf(&b, "platforms = [%q]\n", p.platforms[0])
		}
		if len(p.deps) > 0 {
			b.WriteString("[dependencies]\n")
			for dep, req := range p.deps {
				if opt, ok := strings.CutPrefix(req, "?"); ok {
					fmt.Fprintf(&b, "%q = { version = %q, optional = true }\n", dep, opt)
				} else {
					fmt.Fprintf(&b, "%q = %q\n", dep, req)
				}
			}
		}
		m, err := manifest.Parse([]byte(b.String()))
		if err != nil {
			t.Fatalf("manifest for %s: %v", p.id, err)
		}
		if err := reg.Add(m); err != nil {
			t.Fatal(err)
		}
		if p.yanked {
			if err := reg.Yank(name, version); err != nil {
				t.Fatal(err)
			}
		}
	}
	return reg
}

func roots(t *testing.T, specs ...string) []Requirement {
	t.Helper()
	out := make([]Requirement, len(specs))
	for i, s := range specs {
		r, err := ParseRequirement(s)
		if err != nil {
			t.Fatalf("ParseRequirement(%q) error = %v", s, err)
		}
		out[i] = r
	}
	return out
}

func ids(p *Plan) []string {
	out := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.ID()
	}
	return out
}

func TestResolve_SelectsHighestMatching(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"B": "^1.0.0"}},
		pkg{id: "B@1.0.0"}, pkg{id: "B@1.2.0"}, pkg{id: "B@2.0.0"},
	)
	plan, err := New(reg, WithLogger(log.New(io.Discard))).Resolve(context.Background(), roots(t, "A"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := ids(plan); !slices.Equal(got, []string{"B@1.2.0", "A@1.0.0"}) {
		t.Errorf("plan = %v", got)
	}
	if a := plan.Node("A"); a == nil || !slices.Equal(a.Requires, []string{"B"}) {
		t.Errorf("A.Requires = %v", a)
	}
}

func TestResolve_ConflictNamesBothRequirements(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"C": "^1.0.0"}},
		pkg{id: "B@1.0.0", deps: map[string]string{"C": "^2.0.0"}},
		pkg{id: "C@1.0.0"}, pkg{id: "C@2.0.0"},
	)
	_, err := New(reg).Resolve(context.Background(), roots(t, "A", "B"))

	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("Resolve() error = %v, want *ConflictError", err)
	}
	got := [...]string{cerr.Package, cerr.RequirementA.String(), cerr.RequirementB.String(), cerr.RequiredByA, cerr.RequiredByB}
	want := [...]string{"C", "^1.0.0", "^2.0.0", "A@1.0.0", "B@1.0.0"}
	if got != want {
		t.Errorf("conflict = %v, want %v", got, want)
	}
	if cat, code := issue.Classify(err); cat != issue.CategoryResolution || code != issue.CodeVersionConflict {
		t.Errorf("Classify() = %s, %s", cat, code)
	}
}

func TestResolve_ConflictNamesTheExcludingContributor(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"D": ">=1.0.0, <1.5.0"}},
		pkg{id: "B@1.0.0", deps: map[string]string{"D": ">=1.3.0"}},
		pkg{id: "C@1.0.0", deps: map[string]string{"D": ">=1.0.0, <1.3.0"}},
		pkg{id: "D@1.4.0"},
	)
	_, err := New(reg).Resolve(context.Background(), roots(t, "A", "B", "C"))
	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cerr.RequiredByA != "B@1.0.0" || cerr.RequirementA.String() != ">=1.3.0" || cerr.RequiredByB != "C@1.0.0" {
		t.Errorf("conflict = %v", cerr)
	}
}

func TestBuildGraph_Cycles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pkgs []pkg
		want []string
	}{
		{
			name: "two nodes",
			pkgs: []pkg{
				{id: "A@1.0.0", deps: map[string]string{"B": "*"}},
				{id: "B@1.0.0", deps: map[string]string{"A": "*"}},
			},
			want: []string{"A", "B", "A"},
		},
		{
			name: "self loop",
			pkgs: []pkg{{id: "A@1.0.0", deps: map[string]string{"A": "^1.0.0"}}},
			want: []string{"A", "A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(newRegistry(t, tt.pkgs...)).BuildGraph(context.Background(), roots(t, "A"))
			var cerr *dag.CycleError
			if !errors.As(err, &cerr) {
				t.Fatalf("BuildGraph() error = %v, want *dag.CycleError", err)
			}
			if !slices.Equal(cerr.Cycle, tt.want) {
				t.Errorf("cycle = %v, want %v", cerr.Cycle, tt.want)
			}
			if _, code := issue.Classify(err); code != issue.CodeCircularDependency {
				t.Errorf("code = %s, want E004", code)
			}
		})
	}
}

// Every cycle length at every position of a chain is rejected.
func TestBuildGraph_CycleAnywhere(t *testing.T) {
	t.Parallel()

	const n = 6
	name := func(i int) string { return fmt.Sprintf("P%d", i) }

	for length := 1; length <= n; length++ {
		for off := 0; off+length <= n; off++ {
			pkgs := make([]pkg, n)
			for i := range n {
				deps := map[string]string{}
				if i+1 < n {
					deps[name(i+1)] = "*"
				}
				if i == off+length-1 {
					deps[name(off)] = "*"
				}
				pkgs[i] = pkg{id: name(i) + "@1.0.0", deps: deps}
			}

			_, err := New(newRegistry(t, pkgs...)).BuildGraph(context.Background(), roots(t, "P0"))
			var cerr *dag.CycleError
			if !errors.As(err, &cerr) {
				t.Fatalf("length %d at %d: error = %v", length, off, err)
			}
			if len(cerr.Cycle) != length+1 || cerr.Cycle[0] != name(off) || cerr.Cycle[length] != name(off) {
				t.Errorf("length %d at %d: cycle = %v", length, off, cerr.Cycle)
			}
		}
	}
}

// Random acyclic graphs always sort with dependencies first, at any
// concurrency.
func TestResolve_TopologicalOrderProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(42, 7))
	for iter := range 25 {
		n := 2 + rng.IntN(12)
		pkgs := make([]pkg, n)
		var all []string
		for i := range n {
			deps := map[string]string{}
			for j := i + 1; j < n; j++ {
				if rng.IntN(3) == 0 {
					deps[fmt.Sprintf("N%d", j)] = "^1.0.0"
				}
			}
			pkgs[i] = pkg{id: fmt.Sprintf("N%d@1.0.%d", i, rng.IntN(3)), deps: deps}
			all = append(all, fmt.Sprintf("N%d", i))
		}
		reg := newRegistry(t, pkgs...)

		var first []string
		for _, workers := range []int{1, 4, 16} {
			plan, err := New(reg, WithConcurrency(workers)).Resolve(context.Background(), roots(t, all...))
			if err != nil {
				t.Fatalf("iteration %d: Resolve() error = %v", iter, err)
			}
			if len(plan.Nodes) != n {
				t.Fatalf("iteration %d: plan has %d nodes, want %d", iter, len(plan.Nodes), n)
			}
			index := map[string]int{}
			for i, node := range plan.Nodes {
				index[node.Name] = i
			}
			for _, node := range plan.Nodes {
				for _, dep := range node.Requires {
					if index[dep] >= index[node.Name] {
						t.Fatalf("iteration %d: %s installed before its dependency %s", iter, node.Name, dep)
					}
				}
			}
			if first == nil {
				first = ids(plan)
			} else if !slices.Equal(first, ids(plan)) {
				t.Errorf("iteration %d: order depends on concurrency: %v vs %v", iter, first, ids(plan))
			}
		}
	}
}

func TestResolve_ExcludesYankedAndForeignPlatforms(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"B": "^1.0.0"}},
		pkg{id: "B@1.0.0"},
		pkg{id: "B@1.1.0", yanked: true},
		pkg{id: "B@1.2.0", platforms: []string{"darwin-arm64"}},
	)
	plan, err := New(reg, WithPlatform("linux-amd64")).Resolve(context.Background(), roots(t, "A"))
	if err != nil {
		t.Fatal(err)
	}
	if b := plan.Node("B"); b == nil || b.Version.String() != "1.0.0" {
		t.Errorf("B = %v", b)
	}

	plan, err = New(reg, WithPlatform("darwin-arm64")).Resolve(context.Background(), roots(t, "A"))
	if err != nil {
		t.Fatal(err)
	}
	if b := plan.Node("B"); b == nil || b.Version.String() != "1.2.0" {
		t.Errorf("B on darwin = %v", b)
	}
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"Missing": "^1.0.0"}},
		pkg{id: "B@1.0.0", deps: map[string]string{"C": "^3.0.0"}},
		pkg{id: "C@1.0.0"},
	)

	tests := []struct {
		root string
		code issue.Code
		pkg  string
	}{
		{root: "A", code: issue.CodePackageNotFound, pkg: "Missing"},
		{root: "B", code: issue.CodeVersionNotFound, pkg: "C"},
		{root: "A@^2.0.0", code: issue.CodeVersionNotFound, pkg: "A"},
		{root: "Nope", code: issue.CodePackageNotFound, pkg: "Nope"},
	}
	for _, tt := range tests {
		_, err := New(reg).Resolve(context.Background(), roots(t, tt.root))
		var perr *PackageError
		if !errors.As(err, &perr) || perr.Package != tt.pkg {
			t.Errorf("%s: error = %v, want PackageError for %s", tt.root, err, tt.pkg)
			continue
		}
		if !errors.Is(err, ErrUnresolvable) {
			t.Errorf("%s: errors.Is(ErrUnresolvable) = false", tt.root)
		}
		if cat, code := issue.Classify(err); code != tt.code || cat != issue.CategoryResolution {
			t.Errorf("%s: Classify() = %s, %s; want resolution, %s", tt.root, cat, code, tt.code)
		}
	}
}

// A later, narrower requirement moves an earlier selection and prunes the
// dependencies only the abandoned release had.
func TestResolve_ReselectsOnNarrowing(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"B": "^1.0.0"}},
		pkg{id: "X@1.0.0", deps: map[string]string{"Y": "*"}},
		pkg{id: "Y@1.0.0", deps: map[string]string{"B": "~1.1.0"}},
		pkg{id: "B@1.1.3"},
		pkg{id: "B@1.5.0", deps: map[string]string{"Z": "*"}},
		pkg{id: "Z@1.0.0"},
	)
	plan, err := New(reg).Resolve(context.Background(), roots(t, "A", "X"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	b := plan.Node("B")
	if b == nil || b.Version.String() != "1.1.3" {
		t.Fatalf("B = %v, want 1.1.3", b)
	}
	if !b.Requirement.Matches(b.Version) || b.Requirement.Matches(semver.MustParse("1.5.0")) {
		t.Errorf("B.Requirement = %s", b.Requirement)
	}
	if plan.Node("Z") != nil {
		t.Errorf("Z should be pruned, plan = %v", ids(plan))
	}
}

func TestResolve_ReselectionDropsSupersededRequirements(t *testing.T) {
	t.Parallel()

	// C narrows B below 1.3, so B@1.5.0 is replaced by B@1.2.0. The D
	// requirement of the replaced release must not conflict with the D
	// requirement of its successor.
	reg := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"B": "^1.0.0", "C": "*"}},
		pkg{id: "B@1.2.0", deps: map[string]string{"D": "^2.0.0"}},
		pkg{id: "B@1.5.0", deps: map[string]string{"D": "^1.0.0"}},
		pkg{id: "C@1.0.0", deps: map[string]string{"B": "<1.3.0"}},
		pkg{id: "D@1.0.0"}, pkg{id: "D@2.0.0"},
	)
	plan, err := New(reg).Resolve(context.Background(), roots(t, "A"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	got := ids(plan)
	slices.Sort(got)
	if want := []string{"A@1.0.0", "B@1.2.0", "C@1.0.0", "D@2.0.0"}; !slices.Equal(got, want) {
		t.Errorf("plan = %v, want %v", got, want)
	}
	if d := plan.Node("D"); d == nil || d.Requirement.Matches(semver.MustParse("1.0.0")) {
		t.Errorf("D.Requirement still carries the replaced release: %v", d)
	}
}

func TestResolve_RepeatedRootRequirements(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, pkg{id: "X@1.0.0"}, pkg{id: "X@1.4.0"}, pkg{id: "X@2.0.0"})

	_, err := New(reg).Resolve(context.Background(), roots(t, "X@^1.0.0", "X@^2.0.0"))
	var cerr *ConflictError
	if !errors.As(err, &cerr) || cerr.Package != "X" || cerr.RequiredByA != RootRequester || cerr.RequiredByB != RootRequester {
		t.Fatalf("Resolve() error = %v, want conflict between root requirements", err)
	}

	plan, err := New(reg).Resolve(context.Background(), roots(t, "X@^1.0.0", "X@<1.2.0"))
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(plan); !slices.Equal(got, []string{"X@1.0.0"}) {
		t.Errorf("plan = %v, want both root requirements applied", got)
	}
}

func TestResolve_OptionalDependencies(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t,
		pkg{id: "A@1.0.0", deps: map[string]string{"B": "?^1.0.0", "C": "^1.0.0", "E": "?^5.0.0"}},
		pkg{id: "B@1.0.0"},
		pkg{id: "C@1.0.0"},
		pkg{id: "E@1.0.0"},
		pkg{id: "X@1.0.0", deps: map[string]string{"C": "?^2.0.0"}},
	)
	ctx := context.Background()

	plan, err := New(reg).Resolve(ctx, roots(t, "A"))
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(plan); !slices.Equal(got, []string{"C@1.0.0", "A@1.0.0"}) {
		t.Errorf("without optional: plan = %v", got)
	}
	if len(plan.Unresolved) != 0 {
		t.Errorf("without optional: unresolved = %v", plan.Unresolved)
	}

	plan, err = New(reg, WithOptional(true)).Resolve(ctx, roots(t, "A"))
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(plan); !slices.Equal(got, []string{"B@1.0.0", "C@1.0.0", "A@1.0.0"}) {
		t.Errorf("with optional: plan = %v", got)
	}
	if names := plan.UnresolvedNames(); !slices.Equal(names, []string{"E"}) {
		t.Fatalf("unresolved = %v", names)
	}
	if cs := plan.Unresolved["E"]; len(cs) != 1 || cs[0].RequiredBy != "A@1.0.0" || !cs[0].Optional {
		t.Errorf("unresolved E = %v", cs)
	}

	// A required and an optional requirement that disagree conflict even
	// when optional dependencies are not expanded.
	_, err = New(reg).Resolve(ctx, roots(t, "A", "X"))
	var cerr *ConflictError
	if !errors.As(err, &cerr) || cerr.Package != "C" {
		t.Errorf("required/optional disagreement: error = %v", err)
	}
}

func TestResolve_Cancelled(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, pkg{id: "A@1.0.0"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(reg).Resolve(ctx, roots(t, "A")); !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
}

func TestParseRequirement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		name    string
		req     string
		wantErr bool
	}{
		{in: "esc-core", name: "esc-core", req: "*"},
		{in: "esc-core@^1.2.0", name: "esc-core", req: "^1.2.0"},
		{in: "@acme/widget", name: "@acme/widget", req: "*"},
		{in: "@acme/widget@~1.2.0", name: "@acme/widget", req: "~1.2.0"},
		{in: "@acme/widget@>=1.0.0, <2.0.0", name: "@acme/widget", req: ">=1.0.0, <2.0.0"},
		{in: "", wantErr: true},
		{in: "esc-core@^x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRequirement(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRequirement() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (got.Name != tt.name || got.Constraint.String() != tt.req) {
				t.Errorf("ParseRequirement() = %s %s", got.Name, got.Constraint)
			}
		})
	}
}
