package workflow

import (
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

// Resolver answers readiness questions. It is a pure function of the snapshot
// it is given plus the static graph and holds no state of its own.
type Resolver struct {
	graph *Graph
}

// NewResolver creates a resolver over g (the linear default when nil)
func NewResolver(g *Graph) *Resolver {
	if g == nil {
		g = LinearGraph()
	}
	return &Resolver{graph: g}
}

// Graph returns the underlying dependency graph
func (r *Resolver) Graph() *Graph {
	return r.graph
}

// CheckDependencies reports whether every prerequisite of p is completed or
// approved, and which ones are not.
func (r *Resolver) CheckDependencies(snap *execution.ExecutionState, p int) (bool, []int, error) {
	deps, err := r.graph.Dependencies(p)
	if err != nil {
		return false, nil, err
	}
	missing := []int{}
	for _, d := range deps {
		rec, err := snap.Phase(d)
		if err != nil {
			return false, nil, err
		}
		if !rec.Status.IsDone() {
			missing = append(missing, d)
		}
	}
	return len(missing) == 0, missing, nil
}

// ReadyPhases returns the runnable phases (pending or failed) whose
// prerequisites are all met, in phase order.
func (r *Resolver) ReadyPhases(snap *execution.ExecutionState) []int {
	ready := []int{}
	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		rec, err := snap.Phase(p)
		if err != nil || !rec.Status.IsRunnable() {
			continue
		}
		if met, _, err := r.CheckDependencies(snap, p); err == nil && met {
			ready = append(ready, p)
		}
	}
	return ready
}

// BlockedPhases returns the runnable phases whose prerequisites are not met,
// keyed to the missing prerequisites.
func (r *Resolver) BlockedPhases(snap *execution.ExecutionState) map[int][]int {
	blocked := map[int][]int{}
	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		rec, err := snap.Phase(p)
		if err != nil || !rec.Status.IsRunnable() {
			continue
		}
		if met, missing, err := r.CheckDependencies(snap, p); err == nil && !met {
			blocked[p] = missing
		}
	}
	return blocked
}

// NextPhase returns the lowest phase after `after` that is not yet completed
// or approved. ok is false past the last phase.
func (r *Resolver) NextPhase(snap *execution.ExecutionState, after int) (int, bool) {
	start := after + 1
	if start < execution.FirstPhase {
		start = execution.FirstPhase
	}
	for p := start; p <= execution.LastPhase; p++ {
		rec, err := snap.Phase(p)
		if err != nil {
			continue
		}
		if !rec.Status.IsDone() {
			return p, true
		}
	}
	return 0, false
}
