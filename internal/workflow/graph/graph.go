// Package graph schedules pipeline steps. It owns the status table, knows
// which artifacts each step exchanges, and decides what must (re)run from
// recorded fingerprints.
package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/artifact"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow"
)

// CycleError reports a dependency cycle found at construction. A cyclic
// graph is a fatal configuration error, never silently resolved.
type CycleError struct {
	Steps []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph: dependency cycle among %d steps: %v", len(e.Steps), e.Steps)
}

// Graph is the run's step DAG plus its status table. The status table is
// the only cross-sample shared mutable state besides the decision log;
// every mutation holds the write lock so readers always see a fully
// committed transition.
type Graph struct {
	mu         sync.RWMutex
	steps      map[string]*workflow.Step
	order      []string // topological, stable in build order
	status     map[string]workflow.Status
	reason     map[string]string
	dependents map[string][]string
	force      map[string]bool
	store      *artifact.Store
}

// New validates the step set and builds the graph. Duplicate names,
// references to unknown steps, and cycles are construction errors.
func New(steps []*workflow.Step, store *artifact.Store) (*Graph, error) {
	g := &Graph{
		steps:      make(map[string]*workflow.Step, len(steps)),
		status:     make(map[string]workflow.Status, len(steps)),
		reason:     make(map[string]string),
		dependents: make(map[string][]string),
		force:      make(map[string]bool),
		store:      store,
	}
	buildOrder := make(map[string]int, len(steps))
	for i, st := range steps {
		if _, dup := g.steps[st.Name]; dup {
			return nil, fmt.Errorf("graph: duplicate step %q", st.Name)
		}
		g.steps[st.Name] = st
		g.status[st.Name] = workflow.StatusPending
		buildOrder[st.Name] = i
	}
	indegree := make(map[string]int, len(steps))
	for _, st := range steps {
		for _, dep := range st.Deps {
			if _, ok := g.steps[dep]; !ok {
				return nil, fmt.Errorf("graph: step %q depends on unknown step %q", st.Name, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], st.Name)
			indegree[st.Name]++
		}
	}

	// Kahn's ordering, breaking ties by build order so plans are stable.
	var ready []string
	for _, st := range steps {
		if indegree[st.Name] == 0 {
			ready = append(ready, st.Name)
		}
	}
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return buildOrder[ready[i]] < buildOrder[ready[j]] })
		name := ready[0]
		ready = ready[1:]
		g.order = append(g.order, name)
		for _, dep := range g.dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(g.order) != len(steps) {
		var stuck []string
		for name := range indegree {
			if indegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Steps: stuck}
	}
	return g, nil
}

// Step resolves a step by name.
func (g *Graph) Step(name string) (*workflow.Step, bool) {
	st, ok := g.steps[name]
	return st, ok
}

// Status returns a step's current status.
func (g *Graph) Status(name string) workflow.Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status[name]
}

// Reason returns why a step was skipped or failed, if recorded.
func (g *Graph) Reason(name string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reason[name]
}

// SetStatus moves a step through the state machine, rejecting invalid
// transitions.
func (g *Graph) SetStatus(name string, to workflow.Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setStatusLocked(name, to, "")
}

// SetStatusReason is SetStatus with a recorded explanation.
func (g *Graph) SetStatusReason(name string, to workflow.Status, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setStatusLocked(name, to, reason)
}

func (g *Graph) setStatusLocked(name string, to workflow.Status, reason string) error {
	from, ok := g.status[name]
	if !ok {
		return fmt.Errorf("graph: unknown step %q", name)
	}
	if from == to {
		return nil
	}
	if !workflow.ValidTransition(from, to) {
		return &workflow.TransitionError{Step: name, From: from, To: to}
	}
	g.status[name] = to
	if reason != "" {
		g.reason[name] = reason
	}
	return nil
}

// Force flags a step for unconditional re-execution on the next plan.
func (g *Graph) Force(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.force[name] = true
}

// fingerprintKey scopes a recorded fingerprint to one step. Two steps
// consuming the same artifact remember it independently, so invalidating
// one does not lie about the other.
func fingerprintKey(step, path string) string {
	return step + "|" + path
}

// successKey marks that a step has succeeded at least once, independent of
// its artifacts.
func successKey(step string) string {
	return step + "|done"
}

// RecordSuccess fingerprints the step's inputs and outputs and marks it
// Succeeded. The recorded input fingerprints are what the next plan
// compares against to decide staleness.
func (g *Graph) RecordSuccess(name string) error {
	st, ok := g.steps[name]
	if !ok {
		return fmt.Errorf("graph: unknown step %q", name)
	}
	for _, path := range append(append([]string{}, st.Inputs...), st.Outputs...) {
		if !artifact.Exists(path) {
			continue
		}
		fp, err := artifact.Compute(path)
		if err != nil {
			return fmt.Errorf("graph: fingerprint %s: %w", path, err)
		}
		g.store.Record(fingerprintKey(name, path), fp)
	}
	g.store.Record(successKey(name), artifact.Fingerprint{SHA256: "done"})
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.force, name)
	return g.setStatusLocked(name, workflow.StatusSucceeded, "")
}

// MarkStale flags a step for re-execution and invalidates all transitive
// dependents' recorded fingerprints. Dependent statuses are not touched
// here; the next Plan re-evaluates them lazily.
func (g *Graph) MarkStale(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.steps[name]; !ok {
		return fmt.Errorf("graph: unknown step %q", name)
	}
	if cur := g.status[name]; cur != workflow.StatusStale {
		if !workflow.ValidTransition(cur, workflow.StatusStale) {
			return &workflow.TransitionError{Step: name, From: cur, To: workflow.StatusStale}
		}
		g.status[name] = workflow.StatusStale
	}
	st := g.steps[name]
	for _, path := range append(append([]string{}, st.Inputs...), st.Outputs...) {
		g.store.Invalidate(fingerprintKey(name, path))
	}
	g.store.Invalidate(successKey(name))
	for _, dep := range g.transitiveDependents(name) {
		depStep := g.steps[dep]
		for _, path := range append(append([]string{}, depStep.Inputs...), depStep.Outputs...) {
			g.store.Invalidate(fingerprintKey(dep, path))
		}
		g.store.Invalidate(successKey(dep))
	}
	return nil
}

func (g *Graph) transitiveDependents(name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	queue := append([]string{}, g.dependents[name]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, g.dependents[next]...)
	}
	return out
}

// Plan re-evaluates staleness and returns the steps that must run, in
// topological order. A step must run when it never succeeded, when any
// recorded input fingerprint no longer matches the artifact on disk, or
// when it is forced.
func (g *Graph) Plan() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var plan []string
	mustRun := make(map[string]bool)
	for _, name := range g.order {
		st := g.steps[name]
		run, err := g.mustRunLocked(st, mustRun)
		if err != nil {
			return nil, err
		}
		if !run {
			if g.status[name] == workflow.StatusPending {
				g.status[name] = workflow.StatusSucceeded
			}
			continue
		}
		mustRun[name] = true
		switch g.status[name] {
		case workflow.StatusSucceeded, workflow.StatusFailed, workflow.StatusSkipped:
			g.status[name] = workflow.StatusStale
		}
		plan = append(plan, name)
	}
	return plan, nil
}

func (g *Graph) mustRunLocked(st *workflow.Step, mustRun map[string]bool) (bool, error) {
	if g.force[st.Name] {
		return true, nil
	}
	if _, ok := g.store.Recorded(successKey(st.Name)); !ok {
		return true, nil
	}
	// An upstream re-run reproduces this step's inputs, so it must run too.
	for _, dep := range st.Deps {
		if mustRun[dep] {
			return true, nil
		}
	}
	for _, out := range st.Outputs {
		if !artifact.Exists(out) {
			return true, nil
		}
	}
	for _, in := range append(append([]string{}, st.Inputs...), st.Outputs...) {
		recorded, ok := g.store.Recorded(fingerprintKey(st.Name, in))
		if !ok {
			return true, nil
		}
		changed, _, err := artifact.Changed(in, recorded)
		if err != nil {
			return false, fmt.Errorf("graph: check %s: %w", in, err)
		}
		if changed {
			return true, nil
		}
	}
	return false, nil
}

// Ready returns the runnable steps: Pending or Stale, every dependency
// satisfied. A dependency is satisfied when it Succeeded, or when it is
// terminal and optional. Project steps are a barrier: they become ready
// only once every dependency is terminal, whatever the outcome.
func (g *Graph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for _, name := range g.order {
		st := g.steps[name]
		status := g.status[name]
		if status != workflow.StatusPending && status != workflow.StatusStale {
			continue
		}
		if g.depsSatisfiedLocked(st) {
			out = append(out, name)
		}
	}
	return out
}

func (g *Graph) depsSatisfiedLocked(st *workflow.Step) bool {
	for _, dep := range st.Deps {
		depStatus := g.status[dep]
		depStep := g.steps[dep]
		switch {
		case depStatus == workflow.StatusSucceeded:
		case depStep.Optional && depStatus.Terminal():
		case st.Project && depStep.Sample != "" && depStatus.Terminal():
			// The barrier waits for every chain to finish but does not
			// require success; excluded samples are reported by the step.
		default:
			return false
		}
	}
	return true
}

// PropagateFailure marks the transitive dependents of a failed or skipped
// step as Skipped, recording the cause. Project barrier steps are spared
// when the failure is confined to one sample chain, and optional steps
// never doom their dependents.
func (g *Graph) PropagateFailure(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	failed := g.steps[name]
	if failed.Optional {
		return
	}
	for _, dep := range g.transitiveDependents(name) {
		depStep := g.steps[dep]
		if depStep.Project && failed.Sample != "" {
			continue
		}
		cur := g.status[dep]
		if cur.Terminal() || cur == workflow.StatusRunning {
			continue
		}
		g.status[dep] = workflow.StatusSkipped
		g.reason[dep] = fmt.Sprintf("dependency %s %s", name, g.status[name])
	}
}

// Done reports whether every step is terminal.
func (g *Graph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, name := range g.order {
		if !g.status[name].Terminal() {
			return false
		}
	}
	return true
}

// StepState is one row of the persisted status snapshot.
type StepState struct {
	Name   string          `json:"name"`
	Sample string          `json:"sample,omitempty"`
	Status workflow.Status `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// Snapshot returns the status table in topological order.
func (g *Graph) Snapshot() []StepState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]StepState, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, StepState{
			Name:   name,
			Sample: g.steps[name].Sample,
			Status: g.status[name],
			Reason: g.reason[name],
		})
	}
	return out
}

// SaveSnapshot persists the status table for the monitor to poll. The
// write goes through a temp file so a reader never sees a torn snapshot.
func (g *Graph) SaveSnapshot(path string) error {
	data, err := json.MarshalIndent(g.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads a persisted status snapshot.
func LoadSnapshot(path string) ([]StepState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []StepState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("graph: snapshot %s: %w", path, err)
	}
	return out, nil
}
