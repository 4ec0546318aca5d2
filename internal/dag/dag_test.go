// SPDX-License-Identifier: MPL-2.0

package dag

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/estream/escpkg/internal/issue"
)

func TestTopologicalSort_EmptyGraph(t *testing.T) {
	t.Parallel()
	g := New()
	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil, got %v", order)
	}
}

func TestTopologicalSort_SingleNode(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddNode("A")
	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"A"}) {
		t.Errorf("expected [A], got %v", order)
	}
}

func TestTopologicalSort_LinearChain(t *testing.T) {
	t.Parallel()
	g := New()
	// A depends on B, B depends on C: install C, then B, then A.
	g.AddEdge("A", "B")
	g.AddEdge("B", "C")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"C", "B", "A"}
	if !slices.Equal(order, expected) {
		t.Errorf("expected %v, got %v", expected, order)
	}
}

func TestTopologicalSort_Diamond(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("A", "B")
	g.AddEdge("A", "C")
	g.AddEdge("B", "D")
	g.AddEdge("C", "D")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"D", "B", "C", "A"}
	if !slices.Equal(order, expected) {
		t.Errorf("expected %v, got %v", expected, order)
	}
}

func TestTopologicalSort_DisconnectedComponents(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("A", "B")
	g.AddNode("X")
	g.AddEdge("Y", "Z")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDependenciesFirst(t, g, order)
	if len(order) != 5 {
		t.Errorf("expected 5 nodes, got %v", order)
	}
}

func TestTopologicalSort_DuplicateEdges(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("A", "B")
	g.AddEdge("A", "B")

	if deps := g.DependenciesOf("A"); !slices.Equal(deps, []string{"B"}) {
		t.Errorf("duplicate edge kept: %v", deps)
	}
	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"B", "A"}) {
		t.Errorf("expected [B A], got %v", order)
	}
}

func TestFindCycle_Paths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		edges [][2]string
		want  []string
	}{
		{name: "self loop", edges: [][2]string{{"A", "A"}}, want: []string{"A", "A"}},
		{name: "two nodes", edges: [][2]string{{"A", "B"}, {"B", "A"}}, want: []string{"A", "B", "A"}},
		{
			name:  "cycle below acyclic prefix",
			edges: [][2]string{{"root", "A"}, {"A", "B"}, {"B", "C"}, {"C", "A"}},
			want:  []string{"A", "B", "C", "A"},
		},
		{
			name:  "cycle reached through a finished branch",
			edges: [][2]string{{"A", "X"}, {"A", "B"}, {"B", "C"}, {"C", "B"}},
			want:  []string{"B", "C", "B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := New()
			for _, e := range tt.edges {
				g.AddEdge(e[0], e[1])
			}
			_, err := g.TopologicalSort()
			var cerr *CycleError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *CycleError, got %v", err)
			}
			if !slices.Equal(cerr.Cycle, tt.want) {
				t.Errorf("cycle = %v, want %v", cerr.Cycle, tt.want)
			}
		})
	}
}

// Any cycle, from a self loop up to length N, is rejected wherever it sits
// in an otherwise acyclic graph.
func TestFindCycle_AnyLengthAnyPosition(t *testing.T) {
	t.Parallel()

	const n = 8
	for length := 1; length <= n; length++ {
		for offset := 0; offset+length <= n; offset++ {
			g := New()
			for i := range n - 1 {
				g.AddEdge(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i+1))
			}
			// Close a back edge from the end of the window to its start.
			g.AddEdge(fmt.Sprintf("n%d", offset+length-1), fmt.Sprintf("n%d", offset))

			cerr := g.FindCycle()
			if cerr == nil {
				t.Fatalf("length %d offset %d: cycle not detected", length, offset)
			}
			if cerr.Cycle[0] != cerr.Cycle[len(cerr.Cycle)-1] {
				t.Errorf("cycle path not closed: %v", cerr.Cycle)
			}
			if len(cerr.Cycle) != length+1 {
				t.Errorf("length %d offset %d: path %v", length, offset, cerr.Cycle)
			}
		}
	}
}

func TestCycleError_Message(t *testing.T) {
	t.Parallel()
	err := &CycleError{Cycle: []string{"A", "B", "A"}}
	if msg := err.Error(); !strings.Contains(msg, "A -> B -> A") {
		t.Errorf("unexpected message: %s", msg)
	}
	if !errors.Is(err, ErrCycle) {
		t.Error("CycleError should wrap ErrCycle")
	}
	if _, code := issue.Classify(err); code != issue.CodeCircularDependency {
		t.Errorf("code = %q, want E004", code)
	}
}

func assertDependenciesFirst(t *testing.T, g *Graph, order []string) {
	t.Helper()
	index := make(map[string]int, len(order))
	for i, n := range order {
		index[n] = i
	}
	for _, n := range g.Nodes() {
		for _, dep := range g.DependenciesOf(n) {
			if index[dep] >= index[n] {
				t.Errorf("dependency %s (index %d) not before %s (index %d)", dep, index[dep], n, index[n])
			}
		}
	}
}
