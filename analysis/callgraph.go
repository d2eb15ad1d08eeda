package analysis

import (
	"context"
	"sort"
	"sync"
)

// Edge is a caller to callee pair in original function indices.
type Edge struct {
	Caller   uint32
	Callee   uint32
	Indirect bool
}

// EdgeCount is an edge with the number of calls along it.
type EdgeCount struct {
	Edge
	Count uint64
}

// CallGraph builds the dynamic call graph from call_pre events.
type CallGraph struct {
	edges      map[Edge]uint64
	unresolved uint64
	mu         sync.Mutex
}

// NewCallGraph creates an empty call graph.
func NewCallGraph() *CallGraph {
	return &CallGraph{edges: make(map[Edge]uint64)}
}

func (g *CallGraph) OnEvent(_ context.Context, e Event) {
	call, ok := e.(CallPre)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if call.Indirect && !call.Resolved {
		g.unresolved++
		return
	}
	g.edges[Edge{Caller: call.At.Func, Callee: call.Callee, Indirect: call.Indirect}]++
}

// Edges returns every edge ordered by caller, then callee.
func (g *CallGraph) Edges() []EdgeCount {
	g.mu.Lock()
	out := make([]EdgeCount, 0, len(g.edges))
	for e, n := range g.edges {
		out = append(out, EdgeCount{Edge: e, Count: n})
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Caller != b.Caller {
			return a.Caller < b.Caller
		}
		if a.Callee != b.Callee {
			return a.Callee < b.Callee
		}
		return !a.Indirect && b.Indirect
	})
	return out
}

// Callees returns the distinct functions called by caller.
func (g *CallGraph) Callees(caller uint32) []uint32 {
	seen := make(map[uint32]bool)
	var out []uint32
	for _, e := range g.Edges() {
		if e.Caller == caller && !seen[e.Callee] {
			seen[e.Callee] = true
			out = append(out, e.Callee)
		}
	}
	return out
}

// Unresolved returns the number of indirect calls whose target could not
// be determined.
func (g *CallGraph) Unresolved() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unresolved
}
