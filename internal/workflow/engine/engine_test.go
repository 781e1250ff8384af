package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/artifact"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/config"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/decision"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/logging"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/resources"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/sample"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow/graph"
)

func writeReads(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := "@r1\nACGTACGTACGT\n+\nIIIIIIIIIIII\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testSamples(t *testing.T, dir string, ids ...string) []sample.Sample {
	t.Helper()
	var out []sample.Sample
	for _, id := range ids {
		out = append(out, sample.Sample{
			ID:     id,
			Mode:   sample.ModeReads,
			Input1: writeReads(t, dir, id+"_1.fq.gz"),
			Input2: writeReads(t, dir, id+"_2.fq.gz"),
		})
	}
	return out
}

func testRunContext(t *testing.T, cfg config.Config, samples []sample.Sample) *workflow.RunContext {
	t.Helper()
	root := t.TempDir()
	layout := workflow.Layout{
		ResultsDir: filepath.Join(root, "results"),
		WorkDir:    filepath.Join(root, "work"),
		RunID:      "test-run",
	}
	if err := layout.Initialize(); err != nil {
		t.Fatal(err)
	}
	log, err := logging.New(layout.RunDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	decisions, err := decision.Open(layout.DecisionLogPath())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { decisions.Close() })
	store, err := artifact.NewStore(layout.StateDir())
	if err != nil {
		t.Fatal(err)
	}
	return &workflow.RunContext{
		Config:    cfg,
		RunID:     layout.RunID,
		Layout:    layout,
		Samples:   samples,
		Log:       log,
		Decisions: decisions,
		Estimator: resources.New(cfg.Resources),
		Store:     store,
	}
}

func buildEngine(t *testing.T, rc *workflow.RunContext) *Engine {
	t.Helper()
	steps := workflow.Build(rc.Config, rc.Samples, rc.Layout)
	g, err := graph.New(steps, rc.Store)
	if err != nil {
		t.Fatal(err)
	}
	return New(g, rc)
}

func TestRunMockPipeline(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.MockMode = true
	samples := testSamples(t, t.TempDir(), "gut1", "gut2")
	rc := testRunContext(t, cfg, samples)
	eng := buildEngine(t, rc)

	summary, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, s := range samples {
		if got := summary.Samples[s.ID]; got != workflow.StatusSucceeded {
			t.Errorf("sample %s = %s, want %s", s.ID, got, workflow.StatusSucceeded)
		}
	}
	for _, st := range summary.Steps {
		if st.Status != workflow.StatusSucceeded {
			t.Errorf("step %s = %s (%s)", st.Name, st.Status, st.Reason)
		}
	}

	votus := filepath.Join(rc.Layout.StepDir("", 1, "dedup"), "votus.fa")
	if !artifact.Exists(votus) {
		t.Fatalf("missing %s", votus)
	}
	data, err := os.ReadFile(filepath.Join(rc.Layout.StepDir("", 3, "summary"), "summary.json"))
	if err != nil {
		t.Fatal(err)
	}
	var rs workflow.RunSummary
	if err := json.Unmarshal(data, &rs); err != nil {
		t.Fatal(err)
	}
	if rs.RunID != "test-run" || len(rs.Samples) != 2 {
		t.Errorf("summary = %+v", rs)
	}
	if rs.VOTUs < 1 {
		t.Errorf("VOTUs = %d, want at least 1", rs.VOTUs)
	}
}

func TestRunResumeSkipsFreshSteps(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.MockMode = true
	samples := testSamples(t, t.TempDir(), "gut1")
	rc := testRunContext(t, cfg, samples)

	if _, err := buildEngine(t, rc).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// A second engine over the same store should plan nothing: every
	// step is fresh, so the board stays Succeeded without re-running.
	eng := buildEngine(t, rc)
	plan, err := eng.g.Plan()
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 0 {
		t.Errorf("replan = %v, want empty", plan)
	}
	summary, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, st := range summary.Steps {
		if st.Status != workflow.StatusSucceeded {
			t.Errorf("step %s = %s after resume", st.Name, st.Status)
		}
	}
}

func TestRunFailurePropagatesAndBarrierSurvives(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.MockMode = true
	cfg.Agent.RetryLimit = 0
	samples := testSamples(t, t.TempDir(), "gut1", "gut2")
	// Breaking one sample's input makes its preprocess fail while the
	// other chain runs through and the merge barrier still opens.
	if err := os.Remove(samples[1].Input1); err != nil {
		t.Fatal(err)
	}
	rc := testRunContext(t, cfg, samples)

	summary, err := buildEngine(t, rc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := summary.Samples["gut1"]; got != workflow.StatusSucceeded {
		t.Errorf("gut1 = %s, want %s", got, workflow.StatusSucceeded)
	}
	if got := summary.Samples["gut2"]; got != workflow.StatusFailed {
		t.Errorf("gut2 = %s, want %s", got, workflow.StatusFailed)
	}
	var skipped int
	for _, st := range summary.Steps {
		if st.Sample == "gut2" && st.Status == workflow.StatusSkipped {
			if st.Reason == "" {
				t.Errorf("skipped step %s has no reason", st.Name)
			}
			skipped++
		}
		if st.Sample == "" && st.Status != workflow.StatusSucceeded {
			t.Errorf("project step %s = %s, want %s", st.Name, st.Status, workflow.StatusSucceeded)
		}
	}
	if skipped == 0 {
		t.Error("no gut2 steps were skipped")
	}

	entries, err := decision.Replay(rc.Layout.DecisionLogPath())
	if err != nil {
		t.Fatal(err)
	}
	var exclusion, review bool
	for _, e := range entries {
		if e.Action == decision.ActionReport && e.Sample == "gut2" && strings.Contains(e.Rationale, "excluded") {
			exclusion = true
		}
		if e.Action == decision.ActionManualReview && e.Sample == "gut2" {
			review = true
		}
	}
	if !exclusion {
		t.Error("merge recorded no exclusion entry for gut2")
	}
	if !review {
		t.Error("no manual-review entry for the failed chain")
	}
}

func TestRunAllChainsFailedBarrierErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.MockMode = true
	cfg.Agent.RetryLimit = 0
	samples := testSamples(t, t.TempDir(), "gut1")
	if err := os.Remove(samples[0].Input1); err != nil {
		t.Fatal(err)
	}
	rc := testRunContext(t, cfg, samples)

	summary, err := buildEngine(t, rc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	merged := workflow.StepName("", "library-merge")
	var found bool
	for _, st := range summary.Steps {
		if st.Name != merged {
			continue
		}
		found = true
		if st.Status != workflow.StatusFailed {
			t.Errorf("merge = %s, want %s", st.Status, workflow.StatusFailed)
		}
		if !strings.Contains(st.Reason, "no sample chain") {
			t.Errorf("merge reason = %q", st.Reason)
		}
	}
	if !found {
		t.Fatal("merge step missing from snapshot")
	}

	entries, err := decision.Replay(rc.Layout.DecisionLogPath())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Step == merged {
			t.Errorf("barrier failure must not enter the retry policy, got %s/%s", e.Action, e.Outcome)
		}
	}
}

func TestRunRetryRecordsDecisions(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.MockMode = true
	cfg.Agent.RetryLimit = 2
	cfg.Agent.AutoApproveRiskLevels = []string{"low", "high"}
	samples := testSamples(t, t.TempDir(), "gut1")
	if err := os.Remove(samples[0].Input2); err != nil {
		t.Fatal(err)
	}
	rc := testRunContext(t, cfg, samples)

	if _, err := buildEngine(t, rc).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	entries, err := decision.Replay(rc.Layout.DecisionLogPath())
	if err != nil {
		t.Fatal(err)
	}
	var retries, reviews int
	for _, e := range entries {
		switch e.Action {
		case decision.ActionRetry:
			retries++
			if e.Risk != decision.RiskHigh {
				t.Errorf("retry risk = %s, want %s", e.Risk, decision.RiskHigh)
			}
		case decision.ActionManualReview:
			reviews++
		}
	}
	if retries == 0 {
		t.Error("no retry entries recorded")
	}
	if reviews != 1 {
		t.Errorf("manual-review entries = %d, want 1", reviews)
	}
}

func TestRunRetryRequiresApproval(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.MockMode = true
	cfg.Agent.RetryLimit = 2
	cfg.Agent.AutoApproveRiskLevels = nil
	samples := testSamples(t, t.TempDir(), "gut1")
	if err := os.Remove(samples[0].Input2); err != nil {
		t.Fatal(err)
	}
	rc := testRunContext(t, cfg, samples)

	if _, err := buildEngine(t, rc).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	entries, err := decision.Replay(rc.Layout.DecisionLogPath())
	if err != nil {
		t.Fatal(err)
	}
	var gated int
	for _, e := range entries {
		if e.Action == decision.ActionRetry {
			if e.Outcome != "needs-approval" {
				t.Errorf("retry outcome = %q, want needs-approval", e.Outcome)
			}
			gated++
		}
	}
	if gated != 1 {
		t.Errorf("retry proposals = %d, want exactly 1 (not applied)", gated)
	}
}

func TestRunCancellation(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.MockMode = true
	samples := testSamples(t, t.TempDir(), "gut1")
	rc := testRunContext(t, cfg, samples)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := buildEngine(t, rc).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	for _, st := range summary.Steps {
		if st.Status == workflow.StatusRunning {
			t.Errorf("step %s left Running after cancel", st.Name)
		}
		if st.Status == workflow.StatusFailed {
			t.Errorf("step %s marked Failed by cancellation", st.Name)
		}
	}
}

func TestMemPoolClampsOversizedRequest(t *testing.T) {
	p := newMemPool(100)
	if err := p.acquire(context.Background(), 1000); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- p.acquire(context.Background(), 50) }()
	select {
	case err := <-done:
		t.Fatalf("second acquire returned early: %v", err)
	default:
	}
	p.release(1000)
	if err := <-done; err != nil {
		t.Fatalf("second acquire: %v", err)
	}
}
