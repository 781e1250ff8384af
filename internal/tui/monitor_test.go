package tui

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow/graph"
)

func writeSnapshot(t *testing.T, states []graph.StepState) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "status.json")
	data, err := json.Marshal(states)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadReadsSnapshot(t *testing.T) {
	path := writeSnapshot(t, []graph.StepState{
		{Name: "s1/assembly", Sample: "s1", Status: workflow.StatusRunning},
		{Name: "s1/combine", Sample: "s1", Status: workflow.StatusPending},
	})
	m := NewModel(path, filepath.Join(t.TempDir(), "decisions.jsonl"))
	msg, ok := m.load().(snapshotMsg)
	if !ok {
		t.Fatal("load did not return a snapshotMsg")
	}
	if msg.err != nil {
		t.Fatalf("load: %v", msg.err)
	}
	if len(msg.steps) != 2 || msg.steps[0].Name != "s1/assembly" {
		t.Fatalf("steps = %+v", msg.steps)
	}
}

func TestLoadMissingSnapshotIsNotAnError(t *testing.T) {
	m := NewModel(filepath.Join(t.TempDir(), "absent.json"), "none")
	msg := m.load().(snapshotMsg)
	if msg.err != nil {
		t.Fatalf("missing snapshot must not error, got %v", msg.err)
	}
	if msg.steps != nil {
		t.Fatalf("steps = %+v, want nil", msg.steps)
	}
}

func TestUpdateAppliesSnapshotAndView(t *testing.T) {
	m := NewModel("unused", "unused")
	next, _ := m.Update(snapshotMsg{steps: []graph.StepState{
		{Name: "s1/quality-gate", Sample: "s1", Status: workflow.StatusSucceeded},
		{Name: "s2/assembly", Sample: "s2", Status: workflow.StatusFailed, Reason: "exit status 1"},
		{Name: "project/dedup", Status: workflow.StatusPending},
	}})
	m = next.(Model)

	view := m.View()
	for _, want := range []string{"quality-gate", "assembly", "dedup", "exit status 1", "project"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q", want)
		}
	}
	if !strings.Contains(view, "1 succeeded") || !strings.Contains(view, "1 failed") {
		t.Errorf("summary line wrong:\n%s", view)
	}
}

func TestUpdateQuitKeys(t *testing.T) {
	m := NewModel("unused", "unused")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q must quit")
	}
	if msg := cmd(); msg != (tea.QuitMsg{}) {
		t.Fatalf("q produced %T, want tea.QuitMsg", msg)
	}
}

func TestStageOf(t *testing.T) {
	if got := stageOf("s1/detect-genomad"); got != "detect-genomad" {
		t.Errorf("stageOf = %q", got)
	}
	if got := stageOf("project/summary"); got != "summary" {
		t.Errorf("stageOf = %q", got)
	}
}
