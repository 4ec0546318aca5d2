// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/estream/escpkg/internal/dag"
	"github.com/estream/escpkg/pkg/manifest"
	"github.com/estream/escpkg/pkg/semver"
)

type (
	// Node is one selected release. Nodes are rebuilt on every run.
	Node struct {
		Name    string
		Version semver.Version
		// Requirement is the accumulated requirement the version satisfies.
		Requirement semver.Requirement
		Manifest    *manifest.Manifest
		// Requires lists the names of the nodes this node depends on.
		Requires []string
	}

	// Graph is the acyclic result of BuildGraph.
	Graph struct {
		Roots []string
		// Nodes are in discovery order.
		Nodes []*Node
		// Unresolved holds optional packages that had no matching release,
		// with the constraints that were in force.
		Unresolved map[string][]Constraint

		byName map[string]*Node
		dag    *dag.Graph
	}

	// Plan is an install order: every node appears after all of the nodes
	// it requires.
	Plan struct {
		Nodes      []*Node
		Unresolved map[string][]Constraint
	}
)

// ID returns "name@version".
func (n *Node) ID() string { return n.Name + "@" + n.Version.String() }

// Category returns the manifest category.
func (n *Node) Category() manifest.Category { return n.Manifest.Category }

// Node returns the node for name, or nil.
func (g *Graph) Node(name string) *Node { return g.byName[name] }

// TopoSort orders g with dependencies first. Ties keep discovery order, so
// the result is deterministic for a given registry state.
func TopoSort(g *Graph) (*Plan, error) {
	order, err := g.dag.TopologicalSort()
	if err != nil {
		return nil, err
	}
	plan := &Plan{Nodes: make([]*Node, 0, len(order)), Unresolved: g.Unresolved}
	for _, name := range order {
		plan.Nodes = append(plan.Nodes, g.byName[name])
	}
	return plan, nil
}

// Node returns the planned node for name, or nil.
func (p *Plan) Node(name string) *Node {
	for _, n := range p.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// UnresolvedNames returns the unresolved optional package names, sorted.
func (p *Plan) UnresolvedNames() []string {
	names := maps.Keys(p.Unresolved)
	slices.Sort(names)
	return names
}

// String renders one "name@version" per line in install order.
func (p *Plan) String() string {
	var sb strings.Builder
	for i, n := range p.Nodes {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, n.ID())
	}
	return sb.String()
}
