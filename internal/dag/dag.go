// SPDX-License-Identifier: MPL-2.0

// Package dag provides directed graph operations for dependency ordering:
// three-color DFS cycle detection with the offending path, and Kahn's
// algorithm for a deterministic topological order.
package dag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/estream/escpkg/internal/issue"
)

// ErrCycle is the sentinel error wrapped by CycleError.
var ErrCycle = errors.New("dependency cycle")

const (
	white color = iota // unvisited
	gray               // on the current DFS path
	black              // fully explored
)

type (
	// CycleError indicates that the graph contains a cycle. Cycle lists the
	// path starting and ending at the same node, e.g. [A B A] or [A A].
	CycleError struct {
		Cycle []string
	}

	// Graph is a directed graph keyed by string. An edge from -> to means
	// "from depends on to": to must be ordered before from.
	Graph struct {
		// deps maps each node to the nodes it depends on, in insertion order.
		deps map[string][]string
		// nodes tracks all nodes in insertion order for deterministic output.
		nodes []string
		// nodeSet provides O(1) lookup for node existence.
		nodeSet map[string]bool
	}

	color int
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Unwrap returns ErrCycle for errors.Is.
func (e *CycleError) Unwrap() error { return ErrCycle }

// Code maps cycles to E004.
func (e *CycleError) Code() issue.Code { return issue.CodeCircularDependency }

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		deps:    make(map[string][]string),
		nodeSet: make(map[string]bool),
	}
}

// AddNode adds a node to the graph. If the node already exists, this is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge records that from depends on to. Both nodes are added implicitly.
// Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	for _, existing := range g.deps[from] {
		if existing == to {
			return
		}
	}
	g.deps[from] = append(g.deps[from], to)
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// DependenciesOf returns the direct dependencies of name in insertion order.
func (g *Graph) DependenciesOf(name string) []string {
	out := make([]string, len(g.deps[name]))
	copy(out, g.deps[name])
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// FindCycle runs a three-color depth-first search from every node in
// insertion order. Reaching a gray node means a back edge; the returned
// CycleError names the path from that node around to itself.
func (g *Graph) FindCycle() *CycleError {
	colors := make(map[string]color, len(g.nodes))
	var stack []string

	var visit func(node string) *CycleError
	visit = func(node string) *CycleError {
		colors[node] = gray
		stack = append(stack, node)

		for _, dep := range g.deps[node] {
			switch colors[dep] {
			case gray:
				return &CycleError{Cycle: cyclePath(stack, dep)}
			case white:
				if cerr := visit(dep); cerr != nil {
					return cerr
				}
			case black:
			}
		}

		stack = stack[:len(stack)-1]
		colors[node] = black
		return nil
	}

	for _, node := range g.nodes {
		if colors[node] != white {
			continue
		}
		if cerr := visit(node); cerr != nil {
			return cerr
		}
	}
	return nil
}

// cyclePath slices the DFS stack from the first occurrence of start and
// closes the loop.
func cyclePath(stack []string, start string) []string {
	for i, n := range stack {
		if n == start {
			path := make([]string, 0, len(stack)-i+1)
			path = append(path, stack[i:]...)
			return append(path, start)
		}
	}
	return []string{start, start}
}

// TopologicalSort returns every node after all of its dependencies, using
// Kahn's algorithm. Cycles are reported through FindCycle so the error
// carries the full path. The order is deterministic: among ready nodes,
// insertion order wins.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	if cerr := g.FindCycle(); cerr != nil {
		return nil, cerr
	}

	// In-degree counts unmet dependencies; dependents are the reverse edges.
	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node] = len(g.deps[node])
		for _, dep := range g.deps[node] {
			dependents[dep] = append(dependents[dep], node)
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dependent := range dependents[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		// Not reachable once FindCycle has passed.
		var remaining []string
		for _, node := range g.nodes {
			if inDegree[node] > 0 {
				remaining = append(remaining, node)
			}
		}
		return nil, &CycleError{Cycle: remaining}
	}

	return result, nil
}
