// Package engine executes a planned step graph over a pool of worker
// slots bounded by the CPU and memory budget. Sample chains run in
// parallel; project steps wait on the barrier the graph exposes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/decision"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/resources"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/tools"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow/graph"
)

// Engine drives one run of the graph.
type Engine struct {
	g      *graph.Graph
	rc     *workflow.RunContext
	policy *decision.Policy
	slots  chan struct{}
	mem    *memPool
}

// New sizes the worker pool from the resources config.
func New(g *graph.Graph, rc *workflow.RunContext) *Engine {
	slots := rc.Config.Resources.WorkerSlots
	if slots < 1 {
		slots = 1
	}
	return &Engine{
		g:      g,
		rc:     rc,
		policy: decision.NewPolicy(rc.Config.Agent),
		slots:  make(chan struct{}, slots),
		mem:    newMemPool(rc.Config.Resources.MemoryBudgetMB),
	}
}

// Summary reports each sample chain's terminal outcome plus the full step
// board.
type Summary struct {
	RunID   string
	Samples map[string]workflow.Status
	Steps   []graph.StepState
}

// Run plans the graph and executes it to completion. It returns the
// summary in every case; the error reports cancellation or the first
// fatal condition, with step-level failures left to the summary and the
// decision log.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if _, err := e.g.Plan(); err != nil {
		return nil, err
	}
	e.saveSnapshot()

	type result struct {
		name string
		err  error
	}
	results := make(chan result)
	inFlight := make(map[string]bool)

	for {
		if ctx.Err() == nil {
			for _, name := range e.g.Ready() {
				if inFlight[name] {
					continue
				}
				if err := e.g.SetStatus(name, workflow.StatusRunning); err != nil {
					return nil, err
				}
				inFlight[name] = true
				go func(name string) {
					results <- result{name, e.execute(ctx, name)}
				}(name)
			}
			e.saveSnapshot()
		}
		if len(inFlight) == 0 {
			break
		}

		r := <-results
		delete(inFlight, r.name)
		switch {
		case r.err == nil:
			if err := e.g.RecordSuccess(r.name); err != nil {
				return nil, err
			}
			e.rc.Log.Printf("[%s] succeeded", r.name)
		case errors.Is(r.err, context.Canceled) || ctx.Err() != nil:
			// Cancelled work never promoted its artifacts, so the step
			// returns to Pending and will re-run cleanly next time.
			if err := e.g.SetStatus(r.name, workflow.StatusPending); err != nil {
				return nil, err
			}
			e.rc.Log.Printf("[%s] cancelled", r.name)
		default:
			if err := e.g.SetStatusReason(r.name, workflow.StatusFailed, r.err.Error()); err != nil {
				return nil, err
			}
			e.g.PropagateFailure(r.name)
			e.rc.Log.Printf("[%s] failed: %v", r.name, r.err)
		}
		e.saveSnapshot()
	}

	summary := e.summarize()
	if err := e.rc.Store.Save(); err != nil {
		return summary, err
	}
	return summary, ctx.Err()
}

// execute runs one step with admission control and the retry policy. The
// estimate governs the memory reservation and the runtime deadline; a
// resource-exhaustion failure escalates the estimate before retrying when
// policy allows.
func (e *Engine) execute(ctx context.Context, name string) error {
	st, ok := e.g.Step(name)
	if !ok {
		return fmt.Errorf("engine: unknown step %q", name)
	}
	est := e.rc.Estimator.EstimateFor(st.Sample, st.Tool, resources.InputSizeMB(st.Inputs...))
	attempt := 1
	for {
		err := e.attempt(ctx, st, est)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A barrier that never assembled its inputs is a scheduling fact,
		// not a tool failure; retrying cannot change it.
		var bie *workflow.BarrierIncompleteError
		if errors.As(err, &bie) {
			return err
		}

		sig := decision.Signal{Status: "failed", ErrorType: tools.ErrorType(err), Attempt: attempt}
		prop := e.policy.Evaluate(name, sig)
		outcome := "needs-approval"
		if prop.AutoApply {
			outcome = "auto-approved"
		} else if prop.Action == decision.ActionManualReview {
			outcome = "pending-operator"
		}
		if recErr := e.rc.Decisions.Record(decision.Entry{
			Step:      name,
			Sample:    st.Sample,
			Risk:      prop.Risk,
			Action:    prop.Action,
			Rationale: prop.Rationale,
			Outcome:   outcome,
			Params:    prop.Params,
		}); recErr != nil {
			return recErr
		}
		if !prop.AutoApply {
			return err
		}
		switch prop.Action {
		case decision.ActionEscalateResources:
			est = e.rc.Estimator.Escalate(st.Tool, est)
			e.rc.Estimator.SetOverride(st.Sample, st.Tool, est)
			e.rc.Log.Printf("[%s] escalating to %d MB / %d s for attempt %d", name, est.MemMB, est.RuntimeS, attempt+1)
		case decision.ActionRetry:
			e.rc.Log.Printf("[%s] retrying, attempt %d", name, attempt+1)
		default:
			return err
		}
		attempt++
	}
}

func (e *Engine) attempt(ctx context.Context, st *workflow.Step, est resources.Estimate) error {
	if err := e.mem.acquire(ctx, est.MemMB); err != nil {
		return err
	}
	defer e.mem.release(est.MemMB)
	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.slots }()

	stepCtx := ctx
	if est.RuntimeS > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(est.RuntimeS)*time.Second)
		defer cancel()
	}
	return st.Run(stepCtx, e.rc, st)
}

func (e *Engine) saveSnapshot() {
	if err := e.g.SaveSnapshot(e.rc.Layout.StatusSnapshotPath()); err != nil {
		e.rc.Log.Printf("snapshot write failed: %v", err)
	}
}

// summarize folds each sample's step statuses into one terminal state:
// Failed if anything failed, Skipped if anything was skipped, otherwise
// Succeeded.
func (e *Engine) summarize() *Summary {
	states := e.g.Snapshot()
	summary := &Summary{
		RunID:   e.rc.RunID,
		Samples: make(map[string]workflow.Status),
		Steps:   states,
	}
	for _, s := range e.rc.Samples {
		summary.Samples[s.ID] = workflow.StatusSucceeded
	}
	for _, st := range states {
		if st.Sample == "" {
			continue
		}
		switch st.Status {
		case workflow.StatusFailed:
			summary.Samples[st.Sample] = workflow.StatusFailed
		case workflow.StatusSkipped:
			if summary.Samples[st.Sample] != workflow.StatusFailed {
				summary.Samples[st.Sample] = workflow.StatusSkipped
			}
		case workflow.StatusPending, workflow.StatusStale, workflow.StatusRunning:
			if summary.Samples[st.Sample] == workflow.StatusSucceeded {
				summary.Samples[st.Sample] = st.Status
			}
		}
	}
	return summary
}

// memPool reserves memory for running steps out of a fixed budget.
// Requests larger than the whole budget are clamped so an oversized
// estimate degrades to serial execution instead of deadlock.
type memPool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	total int
	avail int
}

func newMemPool(totalMB int) *memPool {
	if totalMB < 1 {
		totalMB = 1
	}
	p := &memPool{total: totalMB, avail: totalMB}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *memPool) acquire(ctx context.Context, memMB int) error {
	if memMB > p.total {
		memMB = p.total
	}
	if memMB < 1 {
		memMB = 1
	}
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.avail < memMB {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.cond.Wait()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.avail -= memMB
	return nil
}

func (p *memPool) release(memMB int) {
	p.mu.Lock()
	if memMB > p.total {
		memMB = p.total
	}
	if memMB < 1 {
		memMB = 1
	}
	p.avail += memMB
	p.cond.Broadcast()
	p.mu.Unlock()
}
