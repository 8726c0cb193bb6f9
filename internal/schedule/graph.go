package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrCycle is matched by every *CycleError.
var ErrCycle = errors.New("dependency graph contains a cycle")

// CycleError lists the phases that could not be ordered because they sit on
// or behind a dependency cycle.
type CycleError struct {
	PhaseIDs []int
}

func (e *CycleError) Error() string {
	ids := make([]string, len(e.PhaseIDs))
	for i, id := range e.PhaseIDs {
		ids[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("%s: phases [%s]", ErrCycle.Error(), strings.Join(ids, ", "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

type edge struct {
	dep Dependency
	rel relation
}

// graph is a lookup index over one phase set. Dependencies that reference a
// missing phase, use an unknown type or point a phase at itself are dropped.
type graph struct {
	phases   map[int]Phase
	order    []int
	incoming map[int][]edge
	outgoing map[int][]edge
}

func newGraph(phases []Phase, deps []Dependency) *graph {
	g := &graph{
		phases:   make(map[int]Phase, len(phases)),
		order:    make([]int, 0, len(phases)),
		incoming: make(map[int][]edge),
		outgoing: make(map[int][]edge),
	}
	for _, p := range phases {
		if _, dup := g.phases[p.ID]; dup {
			continue
		}
		g.phases[p.ID] = p
		g.order = append(g.order, p.ID)
	}
	for _, d := range deps {
		if d.PredecessorID == d.SuccessorID {
			continue
		}
		rel, ok := relationOf(d.Type)
		if !ok {
			continue
		}
		if _, ok := g.phases[d.PredecessorID]; !ok {
			continue
		}
		if _, ok := g.phases[d.SuccessorID]; !ok {
			continue
		}
		e := edge{dep: d, rel: rel}
		g.incoming[d.SuccessorID] = append(g.incoming[d.SuccessorID], e)
		g.outgoing[d.PredecessorID] = append(g.outgoing[d.PredecessorID], e)
	}
	return g
}

// topoOrder runs Kahn's algorithm. Among phases that are ready at the same
// time the earlier start date goes first, then the lower id.
func (g *graph) topoOrder() ([]int, error) {
	indegree := make(map[int]int, len(g.phases))
	for id := range g.phases {
		indegree[id] = len(g.incoming[id])
	}

	less := func(a, b int) bool {
		pa, pb := g.phases[a], g.phases[b]
		if pa.Start != pb.Start {
			return pa.Start < pb.Start
		}
		return a < b
	}

	var ready []int
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return less(ready[i], ready[j]) })

	out := make([]int, 0, len(g.phases))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)

		released := false
		for _, e := range g.outgoing[id] {
			succ := e.dep.SuccessorID
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
				released = true
			}
		}
		if released {
			sort.SliceStable(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		}
	}

	if len(out) < len(g.phases) {
		var stuck []int
		for _, id := range g.order {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Ints(stuck)
		return nil, &CycleError{PhaseIDs: stuck}
	}
	return out, nil
}

// TopologicalOrder returns phase ids ordered so every predecessor precedes its
// successors, or a *CycleError.
func TopologicalOrder(phases []Phase, deps []Dependency) ([]int, error) {
	return newGraph(phases, deps).topoOrder()
}

// WouldCreateCycle reports whether adding candidate to deps closes a cycle.
// Only the edge structure matters, so phases are not needed.
func WouldCreateCycle(deps []Dependency, candidate Dependency) bool {
	if candidate.PredecessorID == candidate.SuccessorID {
		return true
	}
	next := make(map[int][]int)
	for _, d := range deps {
		if d.PredecessorID == d.SuccessorID {
			continue
		}
		next[d.PredecessorID] = append(next[d.PredecessorID], d.SuccessorID)
	}

	// A cycle appears iff the predecessor is reachable from the successor.
	seen := map[int]bool{candidate.SuccessorID: true}
	stack := []int{candidate.SuccessorID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == candidate.PredecessorID {
			return true
		}
		for _, n := range next[id] {
			if !seen[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	return false
}
