// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/estream/escpkg/internal/dag"
	"github.com/estream/escpkg/pkg/manifest"
	"github.com/estream/escpkg/pkg/registry"
	"github.com/estream/escpkg/pkg/semver"
)

const (
	// DefaultConcurrency bounds parallel registry calls per wave.
	DefaultConcurrency = 8
	// MaxWaves bounds the expansion loop.
	MaxWaves = 1000
)

type (
	// Resolver expands root requirements against a registry. The registry
	// must be safe for concurrent use. A Resolver holds no per-run state
	// and may be reused.
	Resolver struct {
		reg         registry.Registry
		concurrency int
		platform    string
		optional    bool
		logger      *log.Logger
	}

	// Option configures a Resolver.
	Option func(*Resolver)

	// accumulator folds the constraints of the live requesters of one
	// package.
	accumulator struct {
		name        string
		constraints []Constraint
		combined    semver.Requirement
		required    bool
	}

	// selection is the outcome of one parallel fetch under requirement.
	// err holds a non-fatal selection failure; the merge step decides
	// whether it is fatal.
	selection struct {
		name        string
		requirement semver.Requirement
		version     semver.Version
		manifest    *manifest.Manifest
		err         error
	}

	// failure remembers an optional package that could not be selected
	// under a given accumulated requirement.
	failure struct {
		canonical string
	}

	run struct {
		r        *Resolver
		roots    []string
		order    []string
		accs     map[string]*accumulator
		selected map[string]*Node
		failed   map[string]failure
	}
)

// WithConcurrency bounds parallel registry calls. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(r *Resolver) { r.concurrency = max(n, 1) }
}

// WithPlatform excludes releases that do not list platform.
func WithPlatform(platform string) Option {
	return func(r *Resolver) { r.platform = platform }
}

// WithOptional expands optional dependencies. Optional requirements always
// constrain their package; without this option they are not selected on
// their own.
func WithOptional(include bool) Option {
	return func(r *Resolver) { r.optional = include }
}

// WithLogger sets the logger for wave progress.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New returns a Resolver reading from reg.
func New(reg registry.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		reg:         reg,
		concurrency: DefaultConcurrency,
		logger:      log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds the graph for roots and sorts it.
func (r *Resolver) Resolve(ctx context.Context, roots []Requirement) (*Plan, error) {
	g, err := r.BuildGraph(ctx, roots)
	if err != nil {
		return nil, err
	}
	return TopoSort(g)
}

// BuildGraph expands roots into an acyclic dependency graph. A release
// replaced by reselection withdraws the requirements it contributed. It
// fails with a *ConflictError, a *PackageError wrapping the registry or
// selection failure, a *dag.CycleError, or ErrNotConverged.
func (r *Resolver) BuildGraph(ctx context.Context, roots []Requirement) (*Graph, error) {
	st := &run{
		r:        r,
		accs:     map[string]*accumulator{},
		selected: map[string]*Node{},
		failed:   map[string]failure{},
	}
	for _, root := range roots {
		c := Constraint{Requirement: root.Constraint, RequiredBy: RootRequester, Optional: root.Optional}
		if err := st.contribute(root.Name, c); err != nil {
			return nil, err
		}
		st.roots = appendUnique(st.roots, root.Name)
	}

	for wave := 1; ; wave++ {
		pending := st.pending()
		if len(pending) == 0 {
			break
		}
		if wave > MaxWaves {
			return nil, fmt.Errorf("%w after %d waves (still pending: %s)", ErrNotConverged, MaxWaves, strings.Join(pending, ", "))
		}
		r.logger.Debug("resolving wave", "wave", wave, "packages", len(pending))
		results, err := r.fetchWave(ctx, st, pending)
		if err != nil {
			return nil, err
		}
		if err := st.merge(results); err != nil {
			return nil, err
		}
	}
	return st.graph()
}

// fetchWave selects a release for every pending package in parallel. The
// returned slice is in pending order.
func (r *Resolver) fetchWave(ctx context.Context, st *run, pending []string) ([]selection, error) {
	reqs := make([]semver.Requirement, len(pending))
	for i, name := range pending {
		reqs[i] = st.accs[name].combined
	}

	results := make([]selection, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, name := range pending {
		g.Go(func() error {
			sel, err := r.selectRelease(gctx, name, reqs[i])
			if err != nil {
				return st.packageError(name, err)
			}
			results[i] = sel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// selectRelease lists name, picks the best available version and loads its
// manifest. Unknown packages and unmatched requirements are returned in
// selection.err; anything else is an error.
func (r *Resolver) selectRelease(ctx context.Context, name string, req semver.Requirement) (selection, error) {
	releases, err := r.reg.List(ctx, name)
	if errors.Is(err, registry.ErrNotFound) {
		return selection{name: name, requirement: req, err: err}, nil
	}
	if err != nil {
		return selection{}, err
	}

	v, err := semver.SelectBest(registry.Available(releases, r.platform), req)
	if err != nil {
		return selection{name: name, requirement: req, err: err}, nil
	}
	m, err := r.reg.Load(ctx, name, v)
	if err != nil {
		return selection{}, fmt.Errorf("load %s@%s: %w", name, v, err)
	}
	return selection{name: name, requirement: req, version: v, manifest: m}, nil
}

// contribute records c on name's accumulator.
func (st *run) contribute(name string, c Constraint) error {
	acc, ok := st.accs[name]
	if !ok {
		acc = &accumulator{name: name}
		st.accs[name] = acc
		st.order = append(st.order, name)
	}
	return acc.add(c)
}

// pending returns, in first-seen order, the packages that need a
// selection: wanted and either unselected or selected outside the current
// accumulated requirement.
func (st *run) pending() []string {
	var out []string
	for _, name := range st.order {
		acc := st.accs[name]
		if len(acc.constraints) == 0 || (!acc.required && !st.r.optional) {
			continue
		}
		node, ok := st.selected[name]
		switch {
		case ok && acc.combined.Matches(node.Version):
			continue
		case !ok:
			if f, failed := st.failed[name]; failed && !acc.required && f.canonical == acc.combined.Canonical() {
				continue
			}
		}
		out = append(out, name)
	}
	return out
}

// merge is the single writer: it applies a wave's selections in order. A
// selection made under a requirement that an earlier merge of the same
// wave changed is stale and left for the next wave.
func (st *run) merge(results []selection) error {
	for _, sel := range results {
		acc := st.accs[sel.name]
		if len(acc.constraints) == 0 || acc.combined.Canonical() != sel.requirement.Canonical() {
			continue
		}
		if sel.err != nil {
			if acc.required {
				return st.packageError(sel.name, sel.err)
			}
			delete(st.selected, sel.name)
			st.failed[sel.name] = failure{canonical: acc.combined.Canonical()}
			st.r.logger.Debug("optional dependency unresolved", "package", sel.name, "requirement", acc.combined.String())
			continue
		}
		delete(st.failed, sel.name)

		node := &Node{
			Name:        sel.name,
			Version:     sel.version,
			Manifest:    sel.manifest,
			Requirement: acc.combined,
		}
		if prev, ok := st.selected[sel.name]; ok {
			st.r.logger.Debug("reselected", "package", sel.name, "from", prev.Version.String(), "to", sel.version.String())
			delete(st.selected, sel.name)
			st.retract(prev.ID())
		} else {
			st.r.logger.Debug("selected", "package", sel.name, "version", sel.version.String())
		}
		st.selected[sel.name] = node

		for _, dep := range sel.manifest.DependencyNames() {
			d := sel.manifest.Dependencies[dep]
			req, err := semver.ParseRequirement(d.Requirement)
			if err != nil {
				return fmt.Errorf("%s: dependency %s: %w", node.ID(), dep, err)
			}
			c := Constraint{Requirement: req, RequiredBy: node.ID(), Optional: d.Optional}
			if err := st.contribute(dep, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// retract drops every constraint contributed by the release id. A package
// left without constraints is no longer wanted; its own selection is
// retracted in turn.
func (st *run) retract(id string) {
	for _, name := range st.order {
		acc := st.accs[name]
		if !acc.remove(id) || len(acc.constraints) > 0 {
			continue
		}
		delete(st.failed, name)
		if n, ok := st.selected[name]; ok {
			delete(st.selected, name)
			st.retract(n.ID())
		}
	}
}

func (st *run) packageError(name string, err error) error {
	acc := st.accs[name]
	perr := &PackageError{Package: name, Err: err}
	if acc != nil {
		perr.Requirement = acc.combined
		for _, c := range acc.constraints {
			perr.RequiredBy = append(perr.RequiredBy, c.RequiredBy)
		}
	}
	return perr
}

// graph keeps the nodes reachable from the roots through the selected
// releases' edges, then rejects cycles.
func (st *run) graph() (*Graph, error) {
	edges := func(n *Node) []string {
		var out []string
		for _, dep := range n.Manifest.DependencyNames() {
			if n.Manifest.Dependencies[dep].Optional && !st.r.optional {
				continue
			}
			if _, ok := st.selected[dep]; ok {
				out = append(out, dep)
			}
		}
		return out
	}

	reachable := map[string]bool{}
	queue := make([]string, 0, len(st.roots))
	for _, name := range st.roots {
		if _, ok := st.selected[name]; ok && !reachable[name] {
			reachable[name] = true
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		n := st.selected[queue[0]]
		queue = queue[1:]
		n.Requires = edges(n)
		for _, dep := range n.Requires {
			if !reachable[dep] {
				reachable[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	g := &Graph{
		Roots:      st.roots,
		byName:     map[string]*Node{},
		dag:        dag.New(),
		Unresolved: map[string][]Constraint{},
	}
	live := map[string]bool{RootRequester: true}
	for _, name := range st.order {
		if reachable[name] {
			n := st.selected[name]
			n.Requirement = st.accs[name].combined
			g.Nodes = append(g.Nodes, n)
			g.byName[name] = n
			g.dag.AddNode(name)
			live[n.ID()] = true
		}
	}
	for _, n := range g.Nodes {
		for _, dep := range n.Requires {
			g.dag.AddEdge(n.Name, dep)
		}
	}

	for _, name := range st.order {
		if _, ok := st.failed[name]; !ok {
			continue
		}
		var cs []Constraint
		for _, c := range st.accs[name].constraints {
			if live[c.RequiredBy] {
				cs = append(cs, c)
			}
		}
		if len(cs) > 0 {
			g.Unresolved[name] = cs
		}
	}

	if cerr := g.dag.FindCycle(); cerr != nil {
		return nil, cerr
	}
	return g, nil
}

// add intersects c into the accumulated requirement. Repeated constraints
// from one requester, such as two root requirements, are all kept.
func (a *accumulator) add(c Constraint) error {
	combined := c.Requirement
	if len(a.constraints) > 0 {
		var err error
		if combined, err = semver.Intersect(a.combined, c.Requirement); err != nil {
			return a.conflict(c)
		}
	}
	a.constraints = append(a.constraints, c)
	a.combined = combined
	if !c.Optional {
		a.required = true
	}
	return nil
}

// remove drops the constraints of requester and recomputes the combined
// requirement from the rest. It reports whether anything was dropped.
func (a *accumulator) remove(requester string) bool {
	kept := a.constraints[:0]
	for _, c := range a.constraints {
		if c.RequiredBy != requester {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(a.constraints) {
		return false
	}
	clear(a.constraints[len(kept):])
	a.constraints = kept
	a.combined, a.required = semver.Requirement{}, false
	for i, c := range a.constraints {
		if i == 0 {
			a.combined = c.Requirement
		} else {
			// A subset of intersecting intervals intersects.
			a.combined, _ = semver.Intersect(a.combined, c.Requirement)
		}
		if !c.Optional {
			a.required = true
		}
	}
	return true
}

// conflict names the first earlier constraint that excludes c. Intervals
// that pairwise overlap share a common point, so one always exists; the
// combined requirement is reported otherwise.
func (a *accumulator) conflict(c Constraint) *ConflictError {
	for _, prev := range a.constraints {
		if _, err := semver.Intersect(prev.Requirement, c.Requirement); err != nil {
			return &ConflictError{
				Package:      a.name,
				RequirementA: prev.Requirement,
				RequirementB: c.Requirement,
				RequiredByA:  prev.RequiredBy,
				RequiredByB:  c.RequiredBy,
			}
		}
	}
	by := make([]string, len(a.constraints))
	for i, prev := range a.constraints {
		by[i] = prev.RequiredBy
	}
	return &ConflictError{
		Package:      a.name,
		RequirementA: a.combined,
		RequirementB: c.Requirement,
		RequiredByA:  strings.Join(by, ", "),
		RequiredByB:  c.RequiredBy,
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
