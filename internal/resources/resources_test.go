package resources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/config"
)

func newEstimator(t *testing.T) *Estimator {
	t.Helper()
	cfg := config.Default()
	return New(cfg.Resources)
}

func TestEstimateDeterministic(t *testing.T) {
	e := newEstimator(t)
	a := e.Estimate("megahit", 2048)
	b := e.Estimate("megahit", 2048)
	if a != b {
		t.Fatalf("same inputs gave different estimates: %+v vs %+v", a, b)
	}
}

func TestEstimateMonotonicInSize(t *testing.T) {
	e := newEstimator(t)
	prev := Estimate{}
	for _, size := range []float64{0, 100, 1024, 10240, 102400, 1024000} {
		est := e.Estimate("virsorter", size)
		if est.MemMB < prev.MemMB || est.RuntimeS < prev.RuntimeS {
			t.Fatalf("estimate shrank at size %v: %+v after %+v", size, est, prev)
		}
		prev = est
	}
}

func TestEstimateClampsToProfileMax(t *testing.T) {
	e := newEstimator(t)
	p := e.ProfileFor("fastp")
	est := e.Estimate("fastp", 1e9)
	if est.MemMB != p.MemMBMax {
		t.Fatalf("memory not clamped: got %d want %d", est.MemMB, p.MemMBMax)
	}
	if est.RuntimeS != p.RuntimeSMax {
		t.Fatalf("runtime not clamped: got %d want %d", est.RuntimeS, p.RuntimeSMax)
	}
}

func TestEstimateUnknownSizeUsesBaseOnly(t *testing.T) {
	e := newEstimator(t)
	p := e.ProfileFor("bowtie2")
	est := e.Estimate("bowtie2", -1)
	if est.MemMB != p.MemMBBase || est.RuntimeS != p.RuntimeSBase {
		t.Fatalf("unknown size should fall back to base profile, got %+v", est)
	}
	if est.MemMB == 0 || est.RuntimeS == 0 {
		t.Fatal("base fallback must never be zero")
	}
}

func TestUnknownToolUsesDefaultProfile(t *testing.T) {
	e := newEstimator(t)
	if e.ProfileFor("someday-tool") != e.ProfileFor("default") {
		t.Fatal("unknown tool should use the default profile")
	}
}

func TestConfiguredOverridesReplaceCoefficients(t *testing.T) {
	cfg := config.Default()
	cfg.Resources.Estimation.Overrides = map[string]map[string]float64{
		"checkv": {"mem_mb_base": 32000, "mem_mb_max": 300000},
	}
	e := New(cfg.Resources)
	p := e.ProfileFor("checkv")
	if p.MemMBBase != 32000 || p.MemMBMax != 300000 {
		t.Fatalf("coefficient overrides not applied: %+v", p)
	}
}

func TestSampleOverrideWins(t *testing.T) {
	e := newEstimator(t)
	pinned := Estimate{CPU: 4, MemMB: 123000, RuntimeS: 999}
	e.SetOverride("s1", "megahit", pinned)
	if got := e.EstimateFor("s1", "megahit", 50); got != pinned {
		t.Fatalf("override ignored: got %+v", got)
	}
	// Other samples still use the formula.
	if got := e.EstimateFor("s2", "megahit", 50); got == pinned {
		t.Fatal("override leaked across samples")
	}
	e.ClearOverride("s1", "megahit")
	if got := e.EstimateFor("s1", "megahit", 50); got == pinned {
		t.Fatal("cleared override still in effect")
	}
}

func TestEscalateDoublesWithinCeiling(t *testing.T) {
	e := newEstimator(t)
	p := e.ProfileFor("megahit")
	est := e.Estimate("megahit", 1024)
	up := e.Escalate("megahit", est)
	if up.MemMB <= est.MemMB && est.MemMB < p.MemMBMax {
		t.Fatalf("escalation did not grow memory: %+v -> %+v", est, up)
	}
	// Escalating repeatedly converges on the ceiling.
	for i := 0; i < 10; i++ {
		up = e.Escalate("megahit", up)
	}
	if up.MemMB != p.MemMBMax || up.RuntimeS != p.RuntimeSMax {
		t.Fatalf("escalation exceeded or missed ceiling: %+v", up)
	}
}

func TestInputSizeMB(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "r1.fq")
	if err := os.WriteFile(p1, make([]byte, 2*1024*1024), 0o644); err != nil {
		t.Fatal(err)
	}
	got := InputSizeMB(p1, filepath.Join(dir, "absent.fq"))
	if got != 2.0 {
		t.Fatalf("got %v MB, want 2.0", got)
	}
	if InputSizeMB(filepath.Join(dir, "nope")) != -1 {
		t.Fatal("all-missing inputs should report unknown size")
	}
}
